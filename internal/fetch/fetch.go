// Package fetch downloads a job posting and reduces it to readable text so a
// URL can stand in for a query.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/PuerkitoBio/goquery"
)

const (
	// DefaultTimeout bounds a page download.
	DefaultTimeout = 10 * time.Second
	// DefaultUserAgent identifies the fetcher to remote sites.
	DefaultUserAgent = "Mozilla/5.0 (compatible; assessrec/1.0)"
	// maxBodyBytes caps how much of a page is read.
	maxBodyBytes = 4 << 20
	// MaxTextRunes caps the extracted text handed to the pipeline.
	MaxTextRunes = 20000
)

var (
	// ErrInvalidURL is returned for URLs without an http(s) scheme and host.
	ErrInvalidURL = errors.New("fetch: invalid URL")
	// ErrNoText is returned when a page yields no readable text.
	ErrNoText = errors.New("fetch: page has no readable text")
	// ErrBlockedAddress is returned when a URL resolves to a loopback,
	// private, link-local or otherwise non-public address.
	ErrBlockedAddress = errors.New("fetch: address not allowed")
)

// contentSelectors are tried in order; the first match is the main content.
var contentSelectors = []string{
	".job-description",
	"#job-description",
	".job-details",
	"[data-testid='jobDescriptionText']",
	"main",
	"article",
	"[role='main']",
	".content",
	"#content",
}

// noiseSelectors are removed before extraction.
const noiseSelectors = "nav, footer, header, script, style, noscript, svg, form, iframe, .ad, .ads, .advertisement, .sidebar, .cookie-banner, .popup"

// Config tunes a Fetcher.
type Config struct {
	// Timeout bounds each download. Defaults to DefaultTimeout.
	Timeout time.Duration
	// UserAgent defaults to DefaultUserAgent.
	UserAgent string
	// HTTPClient overrides the client, mainly for tests. The address check
	// is not applied to a caller-supplied client.
	HTTPClient *http.Client
	// AllowPrivate permits loopback and private addresses. Off by default
	// because URLs arrive from API callers.
	AllowPrivate bool
}

// Fetcher turns URLs into text.
type Fetcher struct {
	client    *http.Client
	userAgent string
}

// New constructs a Fetcher.
func New(cfg Config) *Fetcher {
	client := cfg.HTTPClient
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout, Transport: newTransport(cfg.AllowPrivate)}
	}
	ua := cfg.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	return &Fetcher{client: client, userAgent: ua}
}

// newTransport dials directly, without an environment proxy, and unless
// allowPrivate is set refuses every non-public peer address. The check runs
// on each dial, so redirects and DNS answers are covered too.
func newTransport(allowPrivate bool) *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second, KeepAlive: 30 * time.Second}
	if !allowPrivate {
		dialer.Control = rejectNonPublic
	}
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.Proxy = nil
	tr.DialContext = dialer.DialContext
	return tr
}

// rejectNonPublic is a net.Dialer Control hook.
func rejectNonPublic(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, address)
	}
	ip, err := netip.ParseAddr(host)
	if err != nil || !isPublic(ip) {
		return fmt.Errorf("%w: %s", ErrBlockedAddress, host)
	}
	return nil
}

// cgnat is the shared address space of RFC 6598.
var cgnat = netip.MustParsePrefix("100.64.0.0/10")

func isPublic(ip netip.Addr) bool {
	ip = ip.Unmap()
	return ip.IsGlobalUnicast() &&
		!ip.IsPrivate() &&
		!ip.IsLoopback() &&
		!ip.IsLinkLocalUnicast() &&
		!cgnat.Contains(ip)
}

// Text downloads rawURL and returns its main readable text.
func (f *Fetcher) Text(ctx context.Context, rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", fmt.Errorf("fetch: build request: %w", err)
	}
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,text/plain;q=0.9,*/*;q=0.5")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch: %s returned HTTP %d", u.Host, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("fetch: read body: %w", err)
	}

	var text string
	if isPlainText(resp.Header.Get("Content-Type")) {
		text = cleanWhitespace(string(body))
	} else {
		text, err = ExtractMainText(string(body))
		if err != nil {
			return "", err
		}
	}
	if text == "" {
		return "", ErrNoText
	}
	return truncateRunes(text, MaxTextRunes), nil
}

// ExtractMainText parses HTML, strips navigation and other noise, and returns
// the text of the first matching content container, or of the body.
func ExtractMainText(html string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return "", fmt.Errorf("fetch: parse HTML: %w", err)
	}
	doc.Find(noiseSelectors).Remove()

	var main *goquery.Selection
	for _, sel := range contentSelectors {
		if s := doc.Find(sel); s.Length() > 0 {
			main = s.First()
			break
		}
	}
	if main == nil {
		main = doc.Find("body")
	}

	// Separate block elements so adjacent paragraphs do not run together.
	main.Find("p, li, br, h1, h2, h3, h4, h5, h6, div, tr").Each(func(_ int, s *goquery.Selection) {
		s.AppendHtml("\n")
	})
	return cleanWhitespace(main.Text()), nil
}

func isPlainText(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	return err == nil && mt == "text/plain"
}

// cleanWhitespace collapses runs of spaces within lines and drops blank lines.
func cleanWhitespace(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.Join(strings.Fields(l), " "); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

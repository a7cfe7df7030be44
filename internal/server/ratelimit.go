package server

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/time/rate"

	"github.com/54b3r/assessrec-go/internal/logging"
)

// Per-client defaults for POST /api/recommend. One recommendation costs up
// to three model calls, so the sustained rate is low and the burst covers a
// short evaluation script.
const (
	defaultRateLimit = 2
	defaultRateBurst = 10
)

// maxTrackedClients bounds the number of token buckets kept in memory. The
// least recently seen client is forgotten first and starts over with a full
// bucket if it returns.
const maxTrackedClients = 10_000

// clientLimits hands out one token bucket per client address.
type clientLimits struct {
	buckets *lru.Cache[string, *rate.Limiter]
	limit   rate.Limit
	burst   int
	// onReject, when set, is called once per rejected request.
	onReject func()
}

// newClientLimits returns per-client buckets refilling at rps up to burst.
func newClientLimits(rps float64, burst int) *clientLimits {
	buckets, err := lru.New[string, *rate.Limiter](maxTrackedClients)
	if err != nil {
		panic(err) // only fails for a non-positive size
	}
	return &clientLimits{buckets: buckets, limit: rate.Limit(rps), burst: burst}
}

// bucket returns the limiter for addr, creating it on first sight.
func (c *clientLimits) bucket(addr string) *rate.Limiter {
	if lim, ok := c.buckets.Get(addr); ok {
		return lim
	}
	lim := rate.NewLimiter(c.limit, c.burst)
	if prev, ok, _ := c.buckets.PeekOrAdd(addr, lim); ok {
		return prev
	}
	return lim
}

// wrap rejects requests from clients that have exhausted their bucket with
// 429 and a Retry-After header giving the seconds until the next token.
func (c *clientLimits) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		addr := clientIP(r)
		res := c.bucket(addr).Reserve()
		if res.OK() && res.Delay() == 0 {
			next.ServeHTTP(w, r)
			return
		}

		retry := res.Delay()
		res.Cancel()
		logging.FromContext(r.Context()).Warn("rate limit exceeded",
			slog.String("client", addr),
			slog.Duration("retry_after", retry),
		)
		if c.onReject != nil {
			c.onReject()
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(retry.Seconds())))
		writeError(w, http.StatusTooManyRequests, "rate limit exceeded, retry later")
	})
}

// retryAfterSeconds rounds up to a whole second, at least 1.
func retryAfterSeconds(s float64) int {
	if s <= 1 || math.IsInf(s, 0) || math.IsNaN(s) {
		return 1
	}
	return int(math.Ceil(s))
}

// clientIP returns the host part of RemoteAddr. X-Forwarded-For is ignored;
// deploy behind a proxy that rewrites RemoteAddr if clients share an egress.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

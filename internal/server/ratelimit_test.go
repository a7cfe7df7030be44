package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
)

// okHandler answers 200 so tests can tell pass-through from rejection.
var okHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
})

// hit sends one request from addr through h and returns the recorder.
func hit(h http.Handler, addr string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/recommend", nil)
	req.RemoteAddr = addr
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestClientLimits_BurstThenReject(t *testing.T) {
	t.Parallel()

	rejected := 0
	limits := newClientLimits(0.001, 3)
	limits.onReject = func() { rejected++ }
	h := limits.wrap(okHandler)

	for i := range 3 {
		if w := hit(h, "10.0.0.1:4000"); w.Code != http.StatusOK {
			t.Fatalf("request %d inside burst: got %d", i, w.Code)
		}
	}
	w := hit(h, "10.0.0.1:4001")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("request over burst: got %d, want 429", w.Code)
	}
	if rejected != 1 {
		t.Errorf("onReject called %d times, want 1", rejected)
	}

	secs, err := strconv.Atoi(w.Header().Get("Retry-After"))
	if err != nil || secs < 1 {
		t.Errorf("Retry-After = %q, want a positive number of seconds", w.Header().Get("Retry-After"))
	}
	var body errorResponse
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil || body.Error == "" {
		t.Errorf("429 body should be a JSON error, got %q (err=%v)", w.Body.String(), err)
	}
}

func TestClientLimits_RejectionDoesNotConsume(t *testing.T) {
	t.Parallel()

	// Two tokens a second: if rejections kept their reservations the wait
	// would grow past one second.
	limits := newClientLimits(2, 1)
	h := limits.wrap(okHandler)

	hit(h, "10.0.0.2:1")
	for range 5 {
		hit(h, "10.0.0.2:1")
	}
	w := hit(h, "10.0.0.2:1")
	if got := w.Header().Get("Retry-After"); got != "1" {
		t.Errorf("Retry-After = %q, want 1 after repeated rejections", got)
	}
}

func TestClientLimits_PerClient(t *testing.T) {
	t.Parallel()

	h := newClientLimits(0.001, 1).wrap(okHandler)

	hit(h, "192.168.1.1:1111")
	if w := hit(h, "192.168.1.1:2222"); w.Code != http.StatusTooManyRequests {
		t.Fatalf("same host, new port: got %d, want 429", w.Code)
	}
	if w := hit(h, "192.168.1.2:1111"); w.Code != http.StatusOK {
		t.Errorf("other host: got %d, want 200", w.Code)
	}
}

func TestClientLimits_ForgetsOldestClient(t *testing.T) {
	t.Parallel()

	limits := newClientLimits(0.001, 1)
	h := limits.wrap(okHandler)

	hit(h, "10.9.9.9:1")
	for i := range maxTrackedClients {
		limits.bucket(strconv.Itoa(i))
	}
	if w := hit(h, "10.9.9.9:1"); w.Code != http.StatusOK {
		t.Errorf("evicted client should start with a full bucket, got %d", w.Code)
	}
}

func TestRetryAfterSeconds(t *testing.T) {
	t.Parallel()

	cases := map[float64]int{0: 1, 0.2: 1, 1: 1, 1.01: 2, 999.5: 1000}
	for in, want := range cases {
		if got := retryAfterSeconds(in); got != want {
			t.Errorf("retryAfterSeconds(%v) = %d, want %d", in, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	t.Parallel()

	cases := []struct {
		remoteAddr string
		want       string
	}{
		{"127.0.0.1:54321", "127.0.0.1"},
		{"[::1]:8080", "::1"},
		{"[2001:db8::7]:443", "2001:db8::7"},
		{"noport", "noport"},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tc.remoteAddr
		if got := clientIP(req); got != tc.want {
			t.Errorf("clientIP(%q) = %q, want %q", tc.remoteAddr, got, tc.want)
		}
	}
}

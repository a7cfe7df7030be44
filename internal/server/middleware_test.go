package server

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/54b3r/assessrec-go/internal/logging"
)

func TestRequestLogger(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		incoming string
		reuse    bool
	}{
		{"issues uuid", "", false},
		{"reuses caller id", "job-42", true},
		{"replaces oversized id", strings.Repeat("x", maxRequestIDLen+1), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			var buf bytes.Buffer
			base := slog.New(slog.NewJSONHandler(&buf, nil))

			var ctxLogged bool
			h := requestLogger(base, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctxLogged = logging.FromContext(r.Context()) != slog.Default()
				w.WriteHeader(http.StatusTeapot)
				_, _ = w.Write([]byte("short and stout"))
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
			if tt.incoming != "" {
				req.Header.Set(requestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)

			id := w.Header().Get(requestIDHeader)
			if tt.reuse && id != tt.incoming {
				t.Errorf("request id = %q, want %q", id, tt.incoming)
			}
			if !tt.reuse {
				if _, err := uuid.Parse(id); err != nil {
					t.Errorf("request id %q is not a UUID", id)
				}
			}
			if !ctxLogged {
				t.Error("handler context should carry the request logger")
			}

			var line map[string]any
			if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
				t.Fatalf("access log is not one JSON line: %q", buf.String())
			}
			if line["request_id"] != id || line["status"] != float64(http.StatusTeapot) || line["bytes"] != float64(15) {
				t.Errorf("access log = %v", line)
			}
		})
	}
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/54b3r/assessrec-go/internal/failure"
	"github.com/54b3r/assessrec-go/internal/fetch"
	"github.com/54b3r/assessrec-go/internal/logging"
	"github.com/54b3r/assessrec-go/internal/rag"
	"github.com/54b3r/assessrec-go/internal/recommend"
	"github.com/54b3r/assessrec-go/internal/rerank"
)

// maxBodyBytes caps the request body; a pasted job description fits easily.
const maxBodyBytes = 256 << 10

// Outcome labels for assessrec_recommend_requests_total.
const (
	outcomeOK          = "ok"
	outcomeInvalid     = "invalid"
	outcomeFetchError  = "fetch_error"
	outcomeTimeout     = "timeout"
	outcomeUnavailable = "unavailable"
	outcomeError       = "error"
)

// handleRecommend handles POST /api/recommend. The body carries either a
// free-text query or a job-posting URL; the response is the ordered list.
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())
	start := time.Now()
	s.metrics.recommendInFlight.Inc()
	defer s.metrics.recommendInFlight.Dec()

	outcome := outcomeOK
	defer func() {
		s.metrics.recommendRequestsTotal.WithLabelValues(outcome).Inc()
		s.metrics.recommendDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	}()

	var req recommendRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		outcome = outcomeInvalid
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		outcome = outcomeInvalid
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.RecommendTimeout)
	defer cancel()

	text := req.Query
	if req.URL != "" {
		if s.fetcher == nil {
			outcome = outcomeInvalid
			writeError(w, http.StatusBadRequest, "url queries are disabled")
			return
		}
		var err error
		text, err = s.fetcher.Text(ctx, req.URL)
		if err != nil {
			outcome = outcomeFetchError
			log.Warn("recommend: fetch failed", slog.String("url", req.URL), slog.Any("error", err))
			status := http.StatusBadGateway
			if errors.Is(err, fetch.ErrInvalidURL) || errors.Is(err, fetch.ErrNoText) ||
				errors.Is(err, fetch.ErrBlockedAddress) {
				status = http.StatusUnprocessableEntity
			}
			writeError(w, status, "could not read job posting: "+err.Error())
			return
		}
	}

	entries, err := s.recommender.Recommend(ctx, text, req.MaxRecs)
	if err != nil {
		status, msg := http.StatusInternalServerError, "recommendation failed"
		outcome = outcomeError
		switch {
		case errors.Is(err, recommend.ErrEmptyQuery):
			status, msg, outcome = http.StatusBadRequest, "query is empty", outcomeInvalid
		case errors.Is(err, context.DeadlineExceeded):
			status, msg, outcome = http.StatusGatewayTimeout, "recommendation timed out", outcomeTimeout
		case retrievalUnavailable(err):
			status, msg, outcome = http.StatusServiceUnavailable, "retrieval backend unavailable", outcomeUnavailable
		}
		log.Error("recommend failed", slog.Any("error", err), slog.Int("status", status))
		writeError(w, status, msg)
		return
	}

	if entries == nil {
		entries = []rerank.Entry{}
	}
	log.Info("recommend served",
		slog.Int("results", len(entries)),
		slog.Bool("from_url", req.URL != ""),
	)
	writeJSON(w, http.StatusOK, recommendResponse{RecommendedAssessments: entries})
}

// retrievalUnavailable reports whether err is an embedding or index failure.
func retrievalUnavailable(err error) bool {
	if kind, ok := failure.KindOf(err); ok {
		return kind == failure.EmbeddingFailure || kind == failure.IndexUnavailable
	}
	return errors.Is(err, rag.ErrIndexUnavailable) || errors.Is(err, rag.ErrEmbedding)
}

// validationMessage flattens validator errors into one line naming the
// offending JSON fields.
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid request"
	}
	fe := verrs[0]
	switch fe.Field() {
	case "Query", "URL":
		if fe.Tag() == "required_without" || fe.Tag() == "excluded_with" {
			return "exactly one of query or url is required"
		}
		if fe.Tag() == "url" {
			return "url is not a valid URL"
		}
		return "query is too long"
	case "MaxRecs":
		return "max_recs must be between 1 and 10"
	}
	return "invalid request"
}

// writeJSON encodes v with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode error", slog.Any("error", err))
	}
}

// writeError writes an errorResponse.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

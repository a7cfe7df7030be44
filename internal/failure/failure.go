// Package failure classifies the ways a recommendation can degrade and maps
// each kind to how the pipeline recovers from it. Only embedding and index
// failures reach the caller; every other kind is absorbed by a default, a
// substitute path, or by skipping the affected candidate.
package failure

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/54b3r/assessrec-go/internal/logging"
)

// Kind names a failure category.
type Kind string

const (
	// EmbeddingFailure means the query could not be embedded.
	EmbeddingFailure Kind = "embedding_failure"
	// IndexUnavailable means the vector index is not loaded or unreachable.
	IndexUnavailable Kind = "index_unavailable"
	// ClassificationFailure means domain detection produced nothing usable.
	ClassificationFailure Kind = "classification_failure"
	// HintFailure means job level / duration inference produced nothing usable.
	HintFailure Kind = "hint_failure"
	// RerankParseFailure means the rerank model call failed or was unusable.
	RerankParseFailure Kind = "rerank_parse_failure"
	// CatalogInconsistency means a vector hit has no catalog item.
	CatalogInconsistency Kind = "catalog_inconsistency"
)

// Kinds lists every kind, for metric pre-registration.
var Kinds = []Kind{
	EmbeddingFailure, IndexUnavailable, ClassificationFailure,
	HintFailure, RerankParseFailure, CatalogInconsistency,
}

// Action is the recovery taken for a failure kind.
type Action int

const (
	// Propagate returns the error to the caller.
	Propagate Action = iota
	// Default substitutes a fixed default value and continues.
	Default
	// Substitute switches to the deterministic fallback path.
	Substitute
	// Skip drops the affected element and continues.
	Skip
)

// String returns the action name.
func (a Action) String() string {
	switch a {
	case Propagate:
		return "propagate"
	case Default:
		return "default"
	case Substitute:
		return "substitute"
	case Skip:
		return "skip"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// decisions is the recovery table. Unknown kinds propagate.
var decisions = map[Kind]Action{
	EmbeddingFailure:      Propagate,
	IndexUnavailable:      Propagate,
	ClassificationFailure: Default,
	HintFailure:           Default,
	RerankParseFailure:    Substitute,
	CatalogInconsistency:  Skip,
}

// Decide returns the recovery action for k.
func Decide(k Kind) Action {
	if a, ok := decisions[k]; ok {
		return a
	}
	return Propagate
}

// Error is a failure tagged with its kind.
type Error struct {
	// Kind is the failure category.
	Kind Kind
	// Err is the underlying cause.
	Err error
}

// New wraps err with kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind, true
	}
	return "", false
}

// Recorder observes recovered and propagated failures, typically to count
// them in metrics. Implementations must be safe for concurrent use.
type Recorder interface {
	Record(kind Kind)
}

// NopRecorder discards observations.
type NopRecorder struct{}

// Record implements Recorder.
func (NopRecorder) Record(Kind) {}

// Report logs a failure with its kind and decided action, records it, and
// returns the action so callers can branch on the table instead of on the
// error.
func Report(ctx context.Context, rec Recorder, kind Kind, err error, attrs ...slog.Attr) Action {
	action := Decide(kind)
	if rec != nil {
		rec.Record(kind)
	}
	level := slog.LevelWarn
	if action == Propagate {
		level = slog.LevelError
	}
	all := append([]slog.Attr{
		slog.String("failure_kind", string(kind)),
		slog.String("action", action.String()),
		slog.Any("error", err),
	}, attrs...)
	logging.FromContext(ctx).LogAttrs(ctx, level, "pipeline stage degraded", all...)
	return action
}

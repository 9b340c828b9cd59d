package model

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a quotation could not be completed.
type FailureKind string

// Failure kinds. All are terminal for the request.
const (
	FailNotFound            FailureKind = "not_found"
	FailAmbiguousSource     FailureKind = "ambiguous_source"
	FailSpanExceeded        FailureKind = "span_exceeded"
	FailMissingCatalogEntry FailureKind = "missing_catalog_entry"
	FailUnpricedItem        FailureKind = "unpriced_item"
	FailInvalidRule         FailureKind = "invalid_rule"
)

// Failure is the typed error returned by the resolver, span validator,
// expander, pricing engine and orchestrator.
type Failure struct {
	Kind   FailureKind `json:"kind"`
	Key    string      `json:"key,omitempty"`
	Detail string      `json:"detail,omitempty"`

	// Set by the orchestrator.
	State      State       `json:"state,omitempty"`
	Trace      []State     `json:"trace,omitempty"`
	Span       *SpanResult `json:"span,omitempty"`
	Suggestion *Suggestion `json:"suggestion,omitempty"`

	// Sources involved in an ambiguity.
	Sources []SourceRef `json:"sources,omitempty"`
}

func (f *Failure) Error() string {
	msg := string(f.Kind)
	if f.Key != "" {
		msg += ": " + f.Key
	}
	if f.Detail != "" {
		msg += ": " + f.Detail
	}
	return msg
}

// NewFailure builds a Failure with a formatted detail.
func NewFailure(kind FailureKind, key string, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Key: key, Detail: fmt.Sprintf(format, args...)}
}

// AsFailure extracts a *Failure from anywhere in err's chain.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

// IsKind reports whether err carries a Failure of the given kind.
func IsKind(err error, kind FailureKind) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == kind
}

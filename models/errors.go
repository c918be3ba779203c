package models

import (
	"errors"
	"fmt"
)

// Sentinel errors. Every failure that crosses a component boundary is one
// of these; raw transport errors stay wrapped underneath.
var (
	ErrImageTooLarge    = errors.New("image exceeds upload size limit")
	ErrImageUndecodable = errors.New("image could not be decoded")

	ErrAnalysisUnavailable        = errors.New("injury analysis unavailable")
	ErrGuidanceUnavailable        = errors.New("first aid guidance unavailable")
	ErrLocationServiceUnavailable = errors.New("hospital search unavailable")
	ErrChatUnavailable            = errors.New("chat response unavailable")
)

// InvalidImageError reports a user-correctable upload problem. Reason is
// one of the sentinels above.
type InvalidImageError struct {
	Reason error
	Detail string
}

func (e *InvalidImageError) Error() string {
	if e.Detail == "" {
		return e.Reason.Error()
	}
	return fmt.Sprintf("%s: %s", e.Reason, e.Detail)
}

func (e *InvalidImageError) Unwrap() error { return e.Reason }

// UpstreamError wraps a collaborator failure with its taxonomy kind, so
// callers can match with errors.Is while logs keep the root cause.
type UpstreamError struct {
	Kind  error
	Cause error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Kind }

// NewUpstreamError builds an UpstreamError from a taxonomy sentinel and a
// root cause.
func NewUpstreamError(kind, cause error) *UpstreamError {
	return &UpstreamError{Kind: kind, Cause: cause}
}

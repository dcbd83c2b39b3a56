package domain

import (
	"errors"
	"fmt"
	"time"
)

// Error kinds for the conversation engine. Handlers map these onto the wire
// as structured error events; everything else is treated as an internal
// failure.
var (
	// ErrAuthenticationFailed is the uniform outcome for any credential
	// verification failure. The specific cause (expired, malformed,
	// inactive account) is recorded in the audit log only.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrAuthorizationDenied means the caller is not a member of the room
	// or does not own the conversation.
	ErrAuthorizationDenied = errors.New("authorization denied")

	// ErrValidationFailed means the inbound payload was malformed.
	ErrValidationFailed = errors.New("validation failed")

	// ErrAnalysisUnavailable marks a degraded analysis call. It is absorbed
	// by the pipeline, never surfaced to the sender.
	ErrAnalysisUnavailable = errors.New("analysis unavailable")

	// ErrGenerationFailed means no reply could be produced. The user
	// message is still persisted.
	ErrGenerationFailed = errors.New("reply generation failed")

	// ErrNotFound means the conversation or message does not exist.
	ErrNotFound = errors.New("not found")

	// ErrStoreFailure is a persistence layer error. It always aborts the
	// current message's pipeline.
	ErrStoreFailure = errors.New("store failure")
)

// RateLimitError denies admission and carries a retry-after hint
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// IsRateLimited reports whether err is a rate limit denial and returns the
// retry-after hint when it is.
func IsRateLimited(err error) (time.Duration, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl.RetryAfter, true
	}
	return 0, false
}

package gemini

import (
	"errors"
	"fmt"
	"strings"
)

// InvocationError - transport, auth, quota or safety failure calling the model
type InvocationError struct {
	Msg        string
	StatusCode int    // HTTP status from the API, 0 if not applicable
	Blocked    bool   // rejected by a safety filter
	Reason     string // block or finish reason reported by the API
	Cause      error
}

func (e *InvocationError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Cause)
	}
	return e.Msg
}

func (e *InvocationError) Unwrap() error { return e.Cause }

// RateLimited - quota / 429 failure
func (e *InvocationError) RateLimited() bool {
	return e.StatusCode == 429 || isRateLimitMessage(e.Cause)
}

// IsBlocked - err (or anything it wraps) is a safety-filter rejection
func IsBlocked(err error) bool {
	var ie *InvocationError
	return errors.As(err, &ie) && ie.Blocked
}

// wrapError - map SDK errors onto InvocationError
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	if apiErr, ok := asAPIError(err); ok {
		return &InvocationError{
			Msg:        "Gemini API call failed",
			StatusCode: apiErr.Code,
			Blocked:    apiErr.Code == 400 && strings.Contains(strings.ToLower(apiErr.Message), "safety"),
			Reason:     apiErr.Status,
			Cause:      err,
		}
	}

	return &InvocationError{Msg: "Gemini API call failed", Cause: err}
}

// isRateLimitMessage - 429 patterns in errors that lost their status code
func isRateLimitMessage(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "quota")
}

// safetyFinishReasons - finish reasons that mean the output was filtered
var safetyFinishReasons = map[string]bool{
	"SAFETY":                   true,
	"IMAGE_SAFETY":             true,
	"PROHIBITED_CONTENT":       true,
	"IMAGE_PROHIBITED_CONTENT": true,
	"BLOCKLIST":                true,
	"SPII":                     true,
}

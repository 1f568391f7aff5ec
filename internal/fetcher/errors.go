package fetcher

import (
	"errors"
	"fmt"
)

// Error wraps a fetch failure with its retry classification. Transient
// failures (network resets, stalls, 5xx, 429) may be retried; permanent
// failures (bad link, auth, quota, 4xx) must not be.
type Error struct {
	Transient bool
	Err       error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func transientErr(format string, args ...interface{}) error {
	return &Error{Transient: true, Err: fmt.Errorf(format, args...)}
}

func permanentErr(format string, args ...interface{}) error {
	return &Error{Transient: false, Err: fmt.Errorf(format, args...)}
}

// IsTransient reports whether err is a fetch failure worth retrying.
// Unclassified errors are treated as permanent.
func IsTransient(err error) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Transient
	}
	return false
}

// apiErrorMessages maps fetch API error codes to operator-readable text.
var apiErrorMessages = map[int]string{
	400: "invalid parameters",
	401: "invalid API authentication",
	402: "filehost is not supported",
	403: "not enough traffic",
	404: "file not found",
	429: "too many open connections",
	500: "no available premium account for this filehost",
}

// apiError classifies a fetch API error code. Connection pressure (429)
// and upstream account exhaustion (500) clear on their own; everything
// else requires operator or user action.
func apiError(code int, message string) error {
	text, ok := apiErrorMessages[code]
	if !ok {
		text = message
	}
	if text == "" {
		text = "unknown error"
	}

	switch code {
	case 429, 500:
		return transientErr("fetch api error %d: %s", code, text)
	default:
		return permanentErr("fetch api error %d: %s", code, text)
	}
}

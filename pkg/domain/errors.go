package domain

import (
	"net/http"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrPasteNotFound      = NewErr("PASTE_NOT_FOUND", "Paste not found", http.StatusNotFound)
	ErrPasteTooLarge      = NewErr("PASTE_TOO_LARGE", "paste too large", http.StatusBadRequest)
	ErrInvalidRequest     = NewErr("INVALID_REQUEST", "invalid request", http.StatusBadRequest)
	ErrInvalidJSON        = NewErr("INVALID_JSON", "Invalid JSON in request body", http.StatusBadRequest)
	ErrMissingFields      = NewErr("MISSING_FIELDS", "Missing required fields", http.StatusBadRequest)
	ErrInvalidExpiry      = NewErr("INVALID_EXPIRY", "invalid expiry", http.StatusBadRequest)
	ErrDuplicateID        = NewErr("DUPLICATE_ID", "paste id already exists", http.StatusInternalServerError)
	ErrRateLimitExceeded  = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrStorageUnavailable = NewErr("STORAGE_UNAVAILABLE", "Database connection failed. Please try again later.", http.StatusServiceUnavailable)
	ErrInternalServer     = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }
func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// ExpiredError reports a record that existed but is past its expiry. It is
// distinct from not-found so callers can render "existed, now gone".
type ExpiredError struct {
	At time.Time
}

func (e *ExpiredError) Error() string { return "Paste expired" }

func Status(err error) int {
	var exp *ExpiredError
	if errors.As(err, &exp) {
		return http.StatusGone
	}
	if e, ok := err.(*Err); ok {
		return e.Status
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}

// Message resolves the client-facing message for err; unknown errors come
// back as a generic internal error so nothing leaks.
func Message(err error) string {
	var exp *ExpiredError
	if errors.As(err, &exp) {
		return exp.Error()
	}
	if e, ok := err.(*Err); ok {
		return e.Msg
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e.Msg
	}
	return "internal error"
}

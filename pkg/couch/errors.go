package couch

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	kivik "github.com/go-kivik/kivik/v4"
)

// Classification targets for errors.Is
var (
	ErrNotFound = errors.New("couch: not found")
	ErrConflict = errors.New("couch: document update conflict")
	ErrExists   = errors.New("couch: already exists")
)

// Error is a non-2xx answer from the store. Kind mirrors the store's
// {"error": ...} token; Err is the driver error it was built from.
type Error struct {
	Method     string
	URL        string
	StatusCode int
	Kind       string
	Reason     string
	Err        error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("couch: %s %s: status %d", e.Method, e.URL, e.StatusCode)
	if e.Kind != "" {
		msg += " " + e.Kind
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

// Unwrap exposes the driver error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is maps status codes onto the sentinel kinds
func (e *Error) Is(target error) bool {
	switch target {
	case ErrNotFound:
		return e.StatusCode == http.StatusNotFound
	case ErrConflict:
		return e.StatusCode == http.StatusConflict
	case ErrExists:
		return e.StatusCode == http.StatusPreconditionFailed && e.Kind == "file_exists"
	}
	return false
}

// kindFor names the store error token for the statuses this package issues
// requests that can produce. 412 only comes back from database creation.
func kindFor(status int) string {
	switch status {
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusPreconditionFailed:
		return "file_exists"
	}
	return ""
}

// fromDriver converts a kivik error into an *Error
func fromDriver(method, target string, err error) *Error {
	status := kivik.HTTPStatus(err)
	return &Error{
		Method:     method,
		URL:        target,
		StatusCode: status,
		Kind:       kindFor(status),
		Reason:     err.Error(),
		Err:        err,
	}
}

// bulkKind classifies a per-document rejection inside a bulk answer
func bulkKind(err error) string {
	if kivik.HTTPStatus(err) == http.StatusConflict || strings.Contains(err.Error(), "conflict") {
		return "conflict"
	}
	if kind := kindFor(kivik.HTTPStatus(err)); kind != "" {
		return kind
	}
	return "error"
}

// IsNotFound reports whether err is a missing database or document
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is a stale revision rejection
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsExists reports whether err is a create of an existing database
func IsExists(err error) bool { return errors.Is(err, ErrExists) }

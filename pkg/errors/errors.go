package errors

import (
	"errors"
	"fmt"
)

// ErrorType represents the different classes of failure a run can hit
type ErrorType string

const (
	ErrorTypeUsage           ErrorType = "usage"
	ErrorTypeAuth            ErrorType = "auth"
	ErrorTypeParse           ErrorType = "parse"
	ErrorTypeResolve         ErrorType = "resolve"
	ErrorTypeFetch           ErrorType = "fetch"
	ErrorTypeInvalidArgument ErrorType = "invalid_argument"
)

// Error is a typed failure carrying the URL and/or path it concerns so the
// operator can retry that single item by hand
type Error struct {
	Type    ErrorType
	Message string
	URL     string
	Path    string
	Code    int
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s error: %s", e.Type, e.Message)
	if e.Code != 0 {
		msg = fmt.Sprintf("%s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	if e.URL != "" {
		msg += " [url=" + e.URL + "]"
	}
	if e.Path != "" {
		msg += " [path=" + e.Path + "]"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewUsageError reports invalid command line input
func NewUsageError(message string) *Error {
	return &Error{Type: ErrorTypeUsage, Message: message}
}

// NewAuthError reports a failed login or a session that is no longer logged in
func NewAuthError(message, url string, err error) *Error {
	return &Error{Type: ErrorTypeAuth, Message: message, URL: url, Err: err}
}

// NewParseError reports a page that lacks the structure the extractor expects
func NewParseError(message, url string) *Error {
	return &Error{Type: ErrorTypeParse, Message: message, URL: url}
}

// NewResolveError reports a player page that yielded no media URL
func NewResolveError(message, url string, err error) *Error {
	return &Error{Type: ErrorTypeResolve, Message: message, URL: url, Err: err}
}

// NewFetchError reports a transport failure or non-success HTTP status
func NewFetchError(message, url, path string, code int, err error) *Error {
	return &Error{Type: ErrorTypeFetch, Message: message, URL: url, Path: path, Code: code, Err: err}
}

// NewInvalidArgumentError reports a value outside a function's domain
func NewInvalidArgumentError(message string) *Error {
	return &Error{Type: ErrorTypeInvalidArgument, Message: message}
}

// TypeOf returns the type of the first *Error in err's chain, or "" if none
func TypeOf(err error) ErrorType {
	var e *Error
	if errors.As(err, &e) {
		return e.Type
	}
	return ""
}

// IsType checks whether err wraps an *Error of the given type
func IsType(err error, t ErrorType) bool {
	return TypeOf(err) == t
}

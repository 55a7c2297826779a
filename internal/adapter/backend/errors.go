package backend

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a store client failure.
type ErrorKind string

const (
	KindTransport ErrorKind = "transport" // request never got a response
	KindTimeout   ErrorKind = "timeout"
	KindServer    ErrorKind = "server"   // 5xx
	KindRejected  ErrorKind = "rejected" // 4xx other than 404
	KindNotFound  ErrorKind = "not_found"
	KindDecode    ErrorKind = "decode" // response did not have the expected shape
)

// ErrNotFound matches every *Error of kind KindNotFound.
var ErrNotFound = errors.New("not found")

// Error is the typed failure returned by every Client method.
type Error struct {
	Op         string
	Kind       ErrorKind
	StatusCode int
	Message    string
	Reasons    []string
	Err        error
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", e.Op, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if len(e.Reasons) > 0 {
		b.WriteString(" [" + strings.Join(e.Reasons, "; ") + "]")
	}
	if e.Err != nil {
		b.WriteString(": " + e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

func (e *Error) Is(target error) bool {
	return target == ErrNotFound && e.Kind == KindNotFound
}

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case KindTransport, KindTimeout, KindServer:
		return true
	}
	return false
}

func kindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusNotFound:
		return KindNotFound
	case code >= 500:
		return KindServer
	default:
		return KindRejected
	}
}

// IsRetryable reports whether err is a retryable store client failure.
func IsRetryable(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Retryable()
}

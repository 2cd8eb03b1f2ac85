package window

import (
	"errors"
	"fmt"
)

var (
	// ErrFetchFailed is returned when a paged read fails. Nothing from the
	// failed read is applied.
	ErrFetchFailed = errors.New("fetch failed")

	// ErrTruncatedHistory is returned when locating the newest page needed
	// more forward pages than the configured ceiling.
	ErrTruncatedHistory = errors.New("truncated history")

	// ErrSendFailed is returned when the write collaborator rejected a
	// submission. The window is left untouched.
	ErrSendFailed = errors.New("send failed")

	// ErrUnmounted is returned for calls made after Unmount.
	ErrUnmounted = errors.New("window unmounted")

	// ErrMounted is returned when Mount is called twice.
	ErrMounted = errors.New("window already mounted")

	// ErrEmptyText rejects blank submissions.
	ErrEmptyText = errors.New("empty text")
)

// OpError is a typed operation error with a stable Op + Kind contract for callers/tests.
// Kind is one of the sentinel errors above; Err is the underlying cause.
type OpError struct {
	Op   string
	Kind error
	Msg  string
	Err  error
}

func (e *OpError) Error() string {
	s := fmt.Sprintf("%s: %v", e.Op, e.Kind)
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *OpError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// SendError carries the rejected draft so the input surface can restore it.
type SendError struct {
	Text string
	Err  error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("window.Submit: %v: %v", ErrSendFailed, e.Err)
}

func (e *SendError) Unwrap() []error { return []error{ErrSendFailed, e.Err} }

// DraftFromError returns the text to restore after a failed Submit.
func DraftFromError(err error) (string, bool) {
	var se *SendError
	if errors.As(err, &se) {
		return se.Text, true
	}
	return "", false
}

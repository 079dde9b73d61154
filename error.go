package netlink

import (
	"errors"
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrCancelled is returned when the cancellation token was stopped
	// while an operation was blocked or about to block.
	ErrCancelled = errors.New("operation cancelled")

	// ErrHangup is returned when the peer closed the connection: an EOF
	// on read, or a broken pipe or reset on write.
	ErrHangup = errors.New("connection hung up")

	// ErrConnectFailed is returned when no resolved address for the
	// dialed host accepted a connection.
	ErrConnectFailed = errors.New("could not connect")

	// ErrBindFailed is returned when the listening socket could not be
	// bound to the service port.
	ErrBindFailed = errors.New("could not bind")

	// ErrIO is returned for unexpected errors from the OS.
	ErrIO = errors.New("i/o error")

	// ErrClosed is returned for operations on a connection or listener
	// that was already closed locally. This is a programmer error.
	ErrClosed = errors.New("connection closed")

	// ErrOutOfMemory is returned when scrypt key derivation fails for
	// lack of resources.
	ErrOutOfMemory = errors.New("out of memory hashing password")

	// ErrInvalidHeader is returned when the peer's stream header is
	// rejected during the handshake.
	ErrInvalidHeader = errors.New("invalid stream header")

	// ErrInvalidMessage is returned when an authentication tag fails to
	// verify, or the stream is otherwise desynchronised. The connection
	// is poisoned.
	ErrInvalidMessage = errors.New("invalid message detected")

	// ErrPasswordMismatch is returned when the peer failed to echo our
	// challenge. Peers holding different passwords usually fail earlier,
	// with ErrInvalidMessage, when decrypting each other's challenge.
	ErrPasswordMismatch = errors.New("password mismatch")

	// ErrTagMismatch is returned when a received type tag does not match
	// the requested type. The tag byte has been consumed; the session
	// should be treated as corrupt.
	ErrTagMismatch = errors.New("tag mismatch")

	// ErrStringTooLong is returned when sending a string longer than
	// 65535 bytes. Strings are not fragmented.
	ErrStringTooLong = errors.New("string too long to send")

	errNoToken        = errors.New("nil cancellation token")
	errCounterWrapped = errors.New("stream message counter wrapped")
)

func errorHandler(fn func(error)) (func(error, string), func()) {
	type localError struct {
		err error
	}

	check := func(err error, msg string) {
		if err != nil {
			err = xerrors.Errorf("%s: %w", msg, err)
			panic(&localError{err})
		}
	}
	handle := func() {
		e := recover()
		if e == nil {
			return
		}
		if le, ok := e.(*localError); ok {
			fn(le.err)
		} else {
			panic(e)
		}
	}
	return check, handle
}

// Remove when xerrors supports "%w" in arbitrary location in the formatting
// string. At the time of writing, it only allows it at the end.
type prefixErr struct {
	err    error
	errmsg string
}

func prefixError(err error, format string, args ...interface{}) *prefixErr {
	return &prefixErr{err, err.Error() + ": " + fmt.Sprintf(format, args...)}
}

func (e *prefixErr) Error() string {
	return e.errmsg
}

func (e *prefixErr) Unwrap() error {
	return e.err
}

// wrapErr implements "Is" for the first error, and unwraps into the second error.
type wrapErr struct {
	err  error
	next error
}

func (e *wrapErr) Error() string {
	return e.err.Error()
}

func (e *wrapErr) Is(err error) bool {
	return xerrors.Is(e.err, err)
}

func (e *wrapErr) Unwrap() error {
	return e.next
}

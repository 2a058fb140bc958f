package pathstore

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures surfaced by Storage operations.
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	// KindConfiguration: the configured root folder is absent.
	KindConfiguration
	// KindNotFound: a path or leaf cannot be resolved without creation.
	KindNotFound
	// KindInvalidArgument: empty or folder-looking path, or a directory
	// passed where a file is required.
	KindInvalidArgument
	// KindRemoteOperation: any failure of the remote graph client.
	KindRemoteOperation
	// KindLocalIO: reading, writing or cleaning local files.
	KindLocalIO
)

// Sentinels for errors.Is. Every *Error matches the sentinel of its kind.
var (
	ErrConfiguration   = errors.New("configuration error")
	ErrNotFound        = errors.New("not found")
	ErrInvalidArgument = errors.New("invalid argument")
	ErrRemoteOperation = errors.New("remote operation failed")
	ErrLocalIO         = errors.New("local i/o error")
)

func (k ErrorKind) String() string {
	switch k {
	case KindConfiguration:
		return "configuration"
	case KindNotFound:
		return "not_found"
	case KindInvalidArgument:
		return "invalid_argument"
	case KindRemoteOperation:
		return "remote_operation"
	case KindLocalIO:
		return "local_io"
	default:
		return "unknown"
	}
}

func (k ErrorKind) sentinel() error {
	switch k {
	case KindConfiguration:
		return ErrConfiguration
	case KindNotFound:
		return ErrNotFound
	case KindInvalidArgument:
		return ErrInvalidArgument
	case KindRemoteOperation:
		return ErrRemoteOperation
	case KindLocalIO:
		return ErrLocalIO
	default:
		return nil
	}
}

// Error is the single error type returned by Storage operations. Err keeps
// the underlying failure and its message.
type Error struct {
	Op   string
	Path string
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	prefix := e.Op
	if e.Path != "" {
		prefix += " " + e.Path
	}
	if prefix == "" {
		return e.Err.Error()
	}
	return prefix + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the sentinel for the error's kind.
func (e *Error) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf returns the kind of err, or KindUnknown if err is not an *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

func remoteError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindRemoteOperation, Err: fmt.Errorf(format+": %w", append(args, err)...)}
}

func localError(err error, format string, args ...any) *Error {
	return &Error{Kind: KindLocalIO, Err: fmt.Errorf(format+": %w", append(args, err)...)}
}

// withOp stamps op and path on err. Unclassified errors count as remote
// failures since only the remote client returns them.
func withOp(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		cp := *e
		if cp.Op == "" {
			cp.Op = op
		}
		if cp.Path == "" {
			cp.Path = path
		}
		return &cp
	}
	return &Error{Op: op, Path: path, Kind: KindRemoteOperation, Err: err}
}

// Package sockerr defines the platform-independent error taxonomy returned by every
// fallible socket operation.
//
// Callers branch on the Kind, never on the message. The Detail string carries the
// platform diagnostic (strerror text, winsock message) for humans only.
package sockerr

import (
	"context"
	"errors"
	"strings"

	"github.com/containerd/errdefs"
)

// Kind classifies a socket failure.
type Kind int

const (
	// IOError covers platform failures that fit no other kind.
	IOError Kind = iota
	ResolutionError
	AddressInUse
	PermissionDenied
	BindError
	ConnectionRefused
	NetworkUnreachable
	Timeout
	// WouldBlock is the non-blocking "not ready yet" signal. It is not a failure.
	WouldBlock
	InvalidState
	UnsupportedOption
	// Closed reports a closed or aborted endpoint: local close, listener closed,
	// peer reset and broken pipe all land here.
	Closed
)

var kindNames = [...]string{
	IOError:            "io error",
	ResolutionError:    "resolution error",
	AddressInUse:       "address in use",
	PermissionDenied:   "permission denied",
	BindError:          "bind error",
	ConnectionRefused:  "connection refused",
	NetworkUnreachable: "network unreachable",
	Timeout:            "timeout",
	WouldBlock:         "would block",
	InvalidState:       "invalid state",
	UnsupportedOption:  "unsupported option",
	Closed:             "closed",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// class returns the errdefs error class a kind belongs to, nil for WouldBlock.
func (k Kind) class() error {
	switch k {
	case ResolutionError:
		return errdefs.ErrNotFound
	case AddressInUse:
		return errdefs.ErrAlreadyExists
	case PermissionDenied:
		return errdefs.ErrPermissionDenied
	case ConnectionRefused, NetworkUnreachable:
		return errdefs.ErrUnavailable
	case Timeout:
		return context.DeadlineExceeded
	case InvalidState:
		return errdefs.ErrFailedPrecondition
	case UnsupportedOption:
		return errdefs.ErrNotImplemented
	case Closed:
		return errdefs.ErrAborted
	case WouldBlock:
		return nil
	default:
		return errdefs.ErrUnknown
	}
}

// Error is the concrete error type of the taxonomy.
type Error struct {
	Kind Kind
	// Op is the failing operation ("connect", "accept", ...).
	Op string
	// Addr is the address involved, if any.
	Addr string
	// Detail is the platform diagnostic string. Program logic must not depend on it.
	Detail string
	// Err is the underlying cause (an errno, a resolver error).
	Err error
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		if e.Addr != "" {
			b.WriteByte(' ')
			b.WriteString(e.Addr)
		}
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	detail := e.Detail
	if detail == "" && e.Err != nil {
		detail = e.Err.Error()
	}
	if detail != "" {
		b.WriteString(": ")
		b.WriteString(detail)
	}
	return b.String()
}

// Unwrap exposes the cause and the errdefs class of the kind.
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	if c := e.Kind.class(); c != nil {
		errs = append(errs, c)
	}
	return errs
}

// Is matches any *Error with the same Kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Addr == "" && t.Err == nil && t.Kind == e.Kind
}

// Timeout reports whether the error is a timeout, for net.Error style checks.
func (e *Error) Timeout() bool { return e.Kind == Timeout }

// Temporary reports whether retrying the same call later can succeed.
func (e *Error) Temporary() bool { return e.Kind == WouldBlock || e.Kind == Timeout }

// Sentinels for errors.Is.
var (
	ErrResolution         = &Error{Kind: ResolutionError}
	ErrAddressInUse       = &Error{Kind: AddressInUse}
	ErrPermissionDenied   = &Error{Kind: PermissionDenied}
	ErrBind               = &Error{Kind: BindError}
	ErrConnectionRefused  = &Error{Kind: ConnectionRefused}
	ErrNetworkUnreachable = &Error{Kind: NetworkUnreachable}
	ErrTimeout            = &Error{Kind: Timeout}
	ErrWouldBlock         = &Error{Kind: WouldBlock}
	ErrInvalidState       = &Error{Kind: InvalidState}
	ErrUnsupportedOption  = &Error{Kind: UnsupportedOption}
	ErrClosed             = &Error{Kind: Closed}
	ErrIO                 = &Error{Kind: IOError}
)

// New builds an error of kind k for operation op.
func New(k Kind, op, detail string) *Error {
	return &Error{Kind: k, Op: op, Detail: detail}
}

// Wrap builds an error of kind k around cause.
func Wrap(k Kind, op string, cause error) *Error {
	return &Error{Kind: k, Op: op, Err: cause}
}

// WithAddr returns a copy of err annotated with addr when err is an *Error
// without an address. Other errors are returned unchanged.
func WithAddr(err error, addr string) error {
	var e *Error
	if !errors.As(err, &e) || e.Addr != "" || addr == "" {
		return err
	}
	c := *e
	c.Addr = addr
	return &c
}

// WithOp returns a copy of err carrying op in place of its current operation.
func WithOp(err error, op string) error {
	var e *Error
	if !errors.As(err, &e) {
		return err
	}
	c := *e
	c.Op = op
	return &c
}

// KindOf returns the kind of err. Errors outside the taxonomy are IOError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return IOError
}

// Is reports whether err is a taxonomy error of kind k.
func Is(err error, k Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == k
}

// IsWouldBlock reports whether err is the non-blocking retry signal.
func IsWouldBlock(err error) bool { return Is(err, WouldBlock) }

// IsClosed reports whether err means the endpoint is closed or aborted.
func IsClosed(err error) bool { return Is(err, Closed) }

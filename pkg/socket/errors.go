package socket

import "github.com/srediag/plugin-socket/pkg/sockerr"

// Error and Kind are re-exported from sockerr so callers of this package rarely
// need to import it.
type (
	Error = sockerr.Error
	Kind  = sockerr.Kind
)

const (
	IOError            = sockerr.IOError
	ResolutionError    = sockerr.ResolutionError
	AddressInUse       = sockerr.AddressInUse
	PermissionDenied   = sockerr.PermissionDenied
	BindError          = sockerr.BindError
	ConnectionRefused  = sockerr.ConnectionRefused
	NetworkUnreachable = sockerr.NetworkUnreachable
	Timeout            = sockerr.Timeout
	WouldBlock         = sockerr.WouldBlock
	InvalidState       = sockerr.InvalidState
	UnsupportedOption  = sockerr.UnsupportedOption
	Closed             = sockerr.Closed
)

// KindOf returns the kind of err; errors outside the taxonomy are IOError.
func KindOf(err error) Kind { return sockerr.KindOf(err) }

// IsWouldBlock reports whether err is the non-blocking retry signal.
func IsWouldBlock(err error) bool { return sockerr.IsWouldBlock(err) }

// IsClosed reports whether err means the endpoint is closed or aborted.
func IsClosed(err error) bool { return sockerr.IsClosed(err) }

func errInvalidState(op string, s State) error {
	return sockerr.New(sockerr.InvalidState, op, "connection is "+s.String())
}

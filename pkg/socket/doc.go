// Package socket provides portable client and server socket primitives with an
// explicit connection lifecycle.
//
// A Resolver turns host/service pairs into candidate Addresses. Listen binds a
// Listener whose Accept yields Conns that start in the Connected state. NewConn and
// Connect drive a client Conn through Idle, Connecting and Connected, or into the
// terminal Failed state. Every fallible call returns a *sockerr.Error whose Kind is
// stable across platforms.
//
// Example:
//
//	ln, err := socket.Listen(ctx, socket.MustParseAddress("127.0.0.1:0"), nil)
//	// ...
//	c, err := socket.Connect(ctx, ln.Addr(), nil)
//	// ...
//	_, err = c.Send([]byte("ping"))
//
// Calls are blocking unless SetNonBlocking(true) is used, in which case they return
// sockerr.WouldBlock instead of waiting. A Conn is not safe for concurrent use,
// except Close, which may be called from any goroutine and unblocks pending calls.
package socket

package server

import (
	"context"
	"errors"
	"io"

	"github.com/valyala/bytebufferpool"

	"github.com/srediag/plugin-socket/pkg/socket"
)

const echoBufferSize = 32 << 10

var echoLog = socket.NewLog("server.echo", nil)

// EchoHandler writes back everything it receives until the peer shuts down
// its write side.
var EchoHandler Handler = HandlerFunc(echo)

func echo(ctx context.Context, c *socket.Conn) {
	buf := bytebufferpool.Get()
	defer bytebufferpool.Put(buf)
	if cap(buf.B) < echoBufferSize {
		buf.B = make([]byte, echoBufferSize)
	}
	p := buf.B[:cap(buf.B)]
	for ctx.Err() == nil {
		n, err := c.Receive(p)
		if n > 0 {
			if _, werr := c.SendAll(p[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !socket.IsClosed(err) {
				echoLog.Debugf("echo %s: %v", c.RemoteAddr(), err)
			}
			return
		}
	}
}

package socket_test

import (
	"context"
	"fmt"
	"io"

	"github.com/srediag/plugin-socket/pkg/socket"
)

func ExampleListen() {
	ctx := context.Background()
	l, err := socket.Listen(ctx, socket.MustParseAddress("127.0.0.1:0"), nil)
	if err != nil {
		panic(err)
	}
	defer l.Close()

	c, err := socket.Connect(ctx, l.Addr(), nil)
	if err != nil {
		panic(err)
	}
	defer c.Close()
	peer, err := l.Accept()
	if err != nil {
		panic(err)
	}
	defer peer.Close()

	if _, err := c.SendAll([]byte("ping")); err != nil {
		panic(err)
	}
	buf := make([]byte, 4)
	if _, err := io.ReadFull(peer, buf); err != nil {
		panic(err)
	}
	fmt.Println(string(buf), peer.State())
	// Output: ping connected
}

func ExampleConn_SendFrame() {
	ctx := context.Background()
	l, err := socket.Listen(ctx, socket.MustParseAddress("127.0.0.1:0"), nil)
	if err != nil {
		panic(err)
	}
	defer l.Close()
	c, err := socket.Connect(ctx, l.Addr(), nil)
	if err != nil {
		panic(err)
	}
	defer c.Close()
	peer, err := l.Accept()
	if err != nil {
		panic(err)
	}
	defer peer.Close()

	_ = c.SendFrame([]byte("first"))
	_ = c.SendFrame([]byte("second"))
	for i := 0; i < 2; i++ {
		msg, err := peer.ReceiveFrame()
		if err != nil {
			panic(err)
		}
		fmt.Println(string(msg))
	}
	// Output:
	// first
	// second
}

func ExampleResolve() {
	addrs, err := socket.Resolve(context.Background(), "127.0.0.1", "8080", socket.Hints{})
	if err != nil {
		panic(err)
	}
	fmt.Println(addrs.First())
	// Output: 127.0.0.1:8080
}

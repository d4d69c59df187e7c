package socket

import (
	"strings"

	"github.com/srediag/plugin-socket/internal/platform"
	"github.com/srediag/plugin-socket/pkg/sockerr"
)

// Option is a recognized socket option.
type Option = platform.Option

const (
	ReuseAddress  = platform.OptReuseAddress
	KeepAlive     = platform.OptKeepAlive
	ReceiveBuffer = platform.OptReceiveBuffer
	SendBuffer    = platform.OptSendBuffer
	NoDelay       = platform.OptNoDelay
	// Broadcast applies to datagram sockets only.
	Broadcast = platform.OptBroadcast
)

var optionAliases = map[string]Option{
	"reuse-address":  ReuseAddress,
	"reuseaddr":      ReuseAddress,
	"so_reuseaddr":   ReuseAddress,
	"keep-alive":     KeepAlive,
	"keepalive":      KeepAlive,
	"so_keepalive":   KeepAlive,
	"receive-buffer": ReceiveBuffer,
	"rcvbuf":         ReceiveBuffer,
	"so_rcvbuf":      ReceiveBuffer,
	"send-buffer":    SendBuffer,
	"sndbuf":         SendBuffer,
	"so_sndbuf":      SendBuffer,
	"no-delay":       NoDelay,
	"nodelay":        NoDelay,
	"tcp_nodelay":    NoDelay,
	"broadcast":      Broadcast,
	"so_broadcast":   Broadcast,
}

// ParseOption resolves an option name such as "reuse-address" or "SO_RCVBUF".
// Unknown names fail with UnsupportedOption.
func ParseOption(name string) (Option, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if o, ok := optionAliases[key]; ok {
		return o, nil
	}
	if o, ok := optionAliases[strings.ReplaceAll(key, "_", "-")]; ok {
		return o, nil
	}
	return 0, sockerr.New(sockerr.UnsupportedOption, "option", "unknown option "+name)
}

type optionValue struct {
	opt   Option
	value int
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// socketOptions lists the options cfg asks for on a socket of type typ.
// ReuseAddress is only applied when enabled.
func socketOptions(cfg *Config, typ platform.SockType, listening bool) []optionValue {
	var opts []optionValue
	if cfg.ReuseAddress && (listening || typ == platform.Datagram) {
		opts = append(opts, optionValue{ReuseAddress, 1})
	}
	if typ == platform.Stream && !listening {
		if cfg.KeepAlive {
			opts = append(opts, optionValue{KeepAlive, 1})
		}
		if cfg.NoDelay {
			opts = append(opts, optionValue{NoDelay, 1})
		}
	}
	if typ == platform.Datagram && cfg.Broadcast {
		opts = append(opts, optionValue{Broadcast, 1})
	}
	if cfg.ReceiveBufferSize > 0 {
		opts = append(opts, optionValue{ReceiveBuffer, cfg.ReceiveBufferSize})
	}
	if cfg.SendBufferSize > 0 {
		opts = append(opts, optionValue{SendBuffer, cfg.SendBufferSize})
	}
	return opts
}

func applyOptions(h *Handle, opts []optionValue) error {
	for _, o := range opts {
		if err := h.SetOption(o.opt, o.value); err != nil {
			return err
		}
	}
	return nil
}

package socket

import (
	"strings"

	"github.com/srediag/plugin-socket/internal/platform"
)

// Protocol names a transport or an application protocol carried over one.
type Protocol int

const (
	ProtocolUnknown Protocol = iota
	ProtocolTCP
	ProtocolUDP
	ProtocolRaw
	ProtocolICMP
	ProtocolSCTP
	ProtocolHTTP
	ProtocolHTTPS
	ProtocolFTP
	ProtocolSSH
	ProtocolDNS
	ProtocolNTP
	ProtocolSMTP
	ProtocolPOP3
	ProtocolIMAP
	ProtocolLDAP
	ProtocolMQTT
)

var protocolNames = [...]string{
	ProtocolUnknown: "unknown",
	ProtocolTCP:     "tcp",
	ProtocolUDP:     "udp",
	ProtocolRaw:     "raw",
	ProtocolICMP:    "icmp",
	ProtocolSCTP:    "sctp",
	ProtocolHTTP:    "http",
	ProtocolHTTPS:   "https",
	ProtocolFTP:     "ftp",
	ProtocolSSH:     "ssh",
	ProtocolDNS:     "dns",
	ProtocolNTP:     "ntp",
	ProtocolSMTP:    "smtp",
	ProtocolPOP3:    "pop3",
	ProtocolIMAP:    "imap",
	ProtocolLDAP:    "ldap",
	ProtocolMQTT:    "mqtt",
}

// ProtocolFromName looks a protocol up by name, ignoring case. Unknown names
// give ProtocolUnknown.
func ProtocolFromName(name string) Protocol {
	for p, n := range protocolNames {
		if p != int(ProtocolUnknown) && strings.EqualFold(name, n) {
			return Protocol(p)
		}
	}
	return ProtocolUnknown
}

func (p Protocol) String() string {
	if p < 0 || int(p) >= len(protocolNames) {
		return "unknown"
	}
	return protocolNames[p]
}

// Transport returns the socket-level protocol p runs on: ProtocolUDP for udp,
// dns and ntp, ProtocolUnknown for raw, icmp, sctp and unknown, ProtocolTCP for
// everything else.
func (p Protocol) Transport() Protocol {
	switch p {
	case ProtocolUDP, ProtocolDNS, ProtocolNTP:
		return ProtocolUDP
	case ProtocolUnknown, ProtocolRaw, ProtocolICMP, ProtocolSCTP:
		return ProtocolUnknown
	}
	return ProtocolTCP
}

// Network returns the net-style network name, "tcp" or "udp".
func (p Protocol) Network() string {
	if p.Transport() == ProtocolUDP {
		return "udp"
	}
	return "tcp"
}

// service is the port lookup name used when an address omits the port.
func (p Protocol) service() string {
	switch p {
	case ProtocolUnknown, ProtocolTCP, ProtocolUDP, ProtocolRaw, ProtocolICMP, ProtocolSCTP:
		return ""
	}
	return p.String()
}

func (p Protocol) sockType() platform.SockType {
	if p.Transport() == ProtocolUDP {
		return platform.Datagram
	}
	return platform.Stream
}

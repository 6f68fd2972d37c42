package endpoint

import (
	"fmt"
	"net/netip"
)

// Role says which side of the relay a URL describes
type Role int

const (
	// RoleSource is the endpoint frames are read from
	RoleSource Role = iota
	// RoleSink is the endpoint frames are written to
	RoleSink
)

// String returns the string representation of a Role
func (r Role) String() string {
	switch r {
	case RoleSource:
		return "source"
	case RoleSink:
		return "sink"
	default:
		return "unknown"
	}
}

// Scheme identifies the transport named by a URL scheme
type Scheme string

const (
	// SchemeDatagram is the connectionless transport, one datagram per frame
	SchemeDatagram Scheme = "udp"
	// SchemeReliable is the handshake-based reliable ordered transport
	SchemeReliable Scheme = "quic"
)

// IsValid checks if the scheme is one of the known transports
func (s Scheme) IsValid() bool {
	return s == SchemeDatagram || s == SchemeReliable
}

// String returns the string representation
func (s Scheme) String() string {
	return string(s)
}

// Mode is how a reliable endpoint establishes its connection
type Mode int

const (
	// ModeListen waits for one peer to complete a handshake on the bound port
	ModeListen Mode = iota
	// ModeConnect actively handshakes with Spec.Remote
	ModeConnect
)

// String returns the string representation of a Mode
func (m Mode) String() string {
	switch m {
	case ModeListen:
		return "listen"
	case ModeConnect:
		return "connect"
	default:
		return "unknown"
	}
}

// Spec is the resolved, transport-agnostic description of an endpoint.
// Mode is ModeConnect exactly when Remote is valid.
type Spec struct {
	// Local is the address to bind, the wildcard IP with either the URL
	// port or 0 for an OS-assigned port
	Local netip.AddrPort

	// Remote is the peer address; the zero value means none
	Remote netip.AddrPort

	// Mode is derived from the presence of Remote
	Mode Mode
}

// HasRemote reports whether the spec designates a peer
func (s Spec) HasRemote() bool {
	return s.Remote.IsValid()
}

// Validate checks the Mode/Remote invariant
func (s Spec) Validate() error {
	if !s.Local.IsValid() {
		return fmt.Errorf("spec has no local address")
	}
	if (s.Mode == ModeConnect) != s.HasRemote() {
		return fmt.Errorf("spec mode %s does not match remote %v", s.Mode, s.Remote)
	}
	return nil
}

// String returns a compact description for logs
func (s Spec) String() string {
	if s.HasRemote() {
		return fmt.Sprintf("%s local=%s remote=%s", s.Mode, s.Local, s.Remote)
	}
	return fmt.Sprintf("%s local=%s", s.Mode, s.Local)
}

// Endpoint is a URL resolved for a role, ready to hand to a transport factory
type Endpoint struct {
	URL    string
	Scheme Scheme
	Role   Role
	Spec   Spec
}

// String returns the original URL annotated with its role
func (e Endpoint) String() string {
	return fmt.Sprintf("%s(%s)", e.Role, e.URL)
}

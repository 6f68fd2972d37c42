package endpoint

import (
	"fmt"
	"net/netip"
	"net/url"
	"strconv"
)

// Wildcard is the local IP every endpoint binds to
var Wildcard = netip.IPv4Unspecified()

// URL is a parsed scheme://[host][:port] endpoint URL. Path, query and
// fragment are ignored.
type URL struct {
	Raw    string
	Scheme Scheme
	// Host is the zero Addr when the URL names no host
	Host netip.Addr
	Port uint16
}

// HasHost reports whether the URL designates a peer address
func (u URL) HasHost() bool {
	return u.Host.IsValid()
}

// Parse splits raw into scheme, literal host and port. role is only used to
// label errors.
func Parse(raw string, role Role) (URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return URL{}, configError(raw, role, "malformed url", err)
	}
	if u.Opaque != "" {
		return URL{}, configError(raw, role, "expected scheme://[host][:port]", nil)
	}

	scheme := Scheme(u.Scheme)
	if !scheme.IsValid() {
		return URL{}, configError(raw, role,
			fmt.Sprintf("unrecognized scheme %q, expected %s or %s", u.Scheme, SchemeDatagram, SchemeReliable), nil)
	}

	portText := u.Port()
	if portText == "" {
		return URL{}, configError(raw, role, "url has no port specified", nil)
	}
	port, err := strconv.ParseUint(portText, 10, 16)
	if err != nil {
		return URL{}, configError(raw, role, fmt.Sprintf("invalid port %q", portText), err)
	}

	parsed := URL{Raw: raw, Scheme: scheme, Port: uint16(port)}
	if hostname := u.Hostname(); hostname != "" {
		// no name resolution, only literal addresses
		addr, err := netip.ParseAddr(hostname)
		if err != nil {
			return URL{}, configError(raw, role,
				fmt.Sprintf("host %q is not a literal IP address", hostname), err)
		}
		parsed.Host = addr
	}

	return parsed, nil
}

// Spec derives the endpoint spec from the host presence rule: without a host
// the URL port is bound locally; with a host the local port is ephemeral and
// the host becomes the remote.
func (u URL) Spec() Spec {
	if !u.HasHost() {
		return Spec{
			Local: netip.AddrPortFrom(Wildcard, u.Port),
			Mode:  ModeListen,
		}
	}
	return Spec{
		Local:  netip.AddrPortFrom(Wildcard, 0),
		Remote: netip.AddrPortFrom(u.Host, u.Port),
		Mode:   ModeConnect,
	}
}

// Resolve parses raw and turns it into an Endpoint for role. Datagram
// endpoints are validated against their role; reliable endpoints accept
// either host state because they can both listen and connect.
func Resolve(raw string, role Role) (Endpoint, error) {
	u, err := Parse(raw, role)
	if err != nil {
		return Endpoint{}, err
	}

	if u.Scheme == SchemeDatagram {
		switch {
		case role == RoleSource && u.HasHost():
			return Endpoint{}, configError(raw, role,
				"must not designate a peer address to receive udp, example: udp://:1234, not udp://127.0.0.1:1234", nil)
		case role == RoleSink && !u.HasHost():
			return Endpoint{}, configError(raw, role,
				"must designate a peer address to send udp, example: udp://127.0.0.1:1234, not udp://:1234", nil)
		}
	}

	return Endpoint{
		URL:    raw,
		Scheme: u.Scheme,
		Role:   role,
		Spec:   u.Spec(),
	}, nil
}

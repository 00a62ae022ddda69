package ipc

import (
	"fmt"
	"net"
	"strings"
)

// Endpoint names the local channel both processes agree on.
type Endpoint struct {
	Network string
	Address string
}

// ParseEndpoint accepts "unix:/path", "tcp:host:port", or a bare socket path.
func ParseEndpoint(value string) (Endpoint, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return Endpoint{}, fmt.Errorf("empty endpoint")
	}
	network, address, found := strings.Cut(value, ":")
	if !found || (network != "unix" && network != "tcp") {
		return Endpoint{Network: "unix", Address: value}, nil
	}
	if address == "" {
		return Endpoint{}, fmt.Errorf("endpoint %q has no address", value)
	}
	return Endpoint{Network: network, Address: address}, nil
}

func (e Endpoint) String() string {
	return e.Network + ":" + e.Address
}

// CheckLocal rejects tcp endpoints whose host is not loopback. Unix sockets
// are always local.
func (e Endpoint) CheckLocal() error {
	if e.Network != "tcp" {
		return nil
	}
	host, _, err := net.SplitHostPort(e.Address)
	if err != nil {
		return fmt.Errorf("endpoint %s: %w", e, err)
	}
	if strings.EqualFold(host, "localhost") {
		return nil
	}
	if ip := net.ParseIP(host); ip != nil && ip.IsLoopback() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotLocal, e)
}

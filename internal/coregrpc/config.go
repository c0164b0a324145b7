package coregrpc

import (
	"errors"
	"strings"
	"time"
)

// DefaultAddr is the loopback endpoint the core listens on.
const DefaultAddr = "127.0.0.1:12345"

// Config controls the core gRPC client and the mock server.
type Config struct {
	// Addr is host:port for TCP or unix:///path/to.sock for a Unix socket.
	Addr        string
	DialTimeout time.Duration
	// CallTimeout bounds each unary call. Zero leaves calls unbounded.
	CallTimeout time.Duration
	// Capabilities is what the mock server reports.
	Capabilities CapabilitiesConfig
}

// CapabilitiesConfig lists the features the mock server advertises.
type CapabilitiesConfig struct {
	TLSFragment   bool
	QUIC          bool
	ECH           bool
	SchemaVersion string
}

func (c Config) endpoint() (network, address string, err error) {
	addr := strings.TrimSpace(c.Addr)
	if addr == "" {
		addr = DefaultAddr
	}
	if path, ok := strings.CutPrefix(addr, "unix://"); ok {
		if path == "" {
			return "", "", errors.New("unix socket path is required")
		}
		return "unix", path, nil
	}
	if path, ok := strings.CutPrefix(addr, "unix:"); ok {
		if path == "" {
			return "", "", errors.New("unix socket path is required")
		}
		return "unix", path, nil
	}
	return "tcp", addr, nil
}

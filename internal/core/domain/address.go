package domain

import (
	"net"
	"path/filepath"
	"strings"

	"go.trai.ch/zerr"
)

// Address types accepted by ParseAddress.
const (
	AddressTypeLocal   = "local"
	AddressTypeNetwork = "network"
)

// Address is a daemon endpoint: a Unix domain socket or a TCP host:port.
type Address struct {
	Network string
	Addr    string
}

// IsLocal reports whether the address names a Unix domain socket.
func (a Address) IsLocal() bool {
	return a.Network == "unix"
}

// Target returns the gRPC dial target for the address.
func (a Address) Target() string {
	if a.IsLocal() {
		return "unix://" + a.Addr
	}
	return "dns:///" + a.Addr
}

func (a Address) String() string {
	return a.Addr
}

// ParseAddress parses value according to addressType ("local", "network" or empty).
// With an empty type, values containing a path separator or no port are treated as local.
// An empty value yields the default socket path.
func ParseAddress(value, addressType string) (Address, error) {
	if value == "" {
		if addressType == AddressTypeNetwork {
			return Address{}, zerr.With(zerr.Wrap(ErrInvalidAddress, "network address required"), "type", addressType)
		}
		return Address{Network: "unix", Addr: DefaultDaemonSocketPath()}, nil
	}

	if addressType == "" {
		addressType = guessAddressType(value)
	}

	switch addressType {
	case AddressTypeLocal:
		abs, err := filepath.Abs(value)
		if err != nil {
			return Address{}, zerr.With(zerr.Wrap(ErrInvalidAddress, err.Error()), "address", value)
		}
		return Address{Network: "unix", Addr: abs}, nil
	case AddressTypeNetwork:
		if _, _, err := net.SplitHostPort(value); err != nil {
			return Address{}, zerr.With(zerr.Wrap(ErrInvalidAddress, err.Error()), "address", value)
		}
		return Address{Network: "tcp", Addr: value}, nil
	default:
		return Address{}, zerr.With(zerr.Wrap(ErrInvalidAddress, "unknown address type"), "type", addressType)
	}
}

func guessAddressType(value string) string {
	if strings.ContainsRune(value, filepath.Separator) || strings.ContainsRune(value, '/') {
		return AddressTypeLocal
	}
	if _, _, err := net.SplitHostPort(value); err == nil {
		return AddressTypeNetwork
	}
	return AddressTypeLocal
}

// LogPath returns the daemon log file used when a daemon is spawned for this address.
func (a Address) LogPath() string {
	if a.IsLocal() {
		return DaemonLogPath(a.Addr)
	}
	return networkFileBase(a.Addr) + LogFileSuffix
}

// PIDPath returns the PID file written by a daemon listening on this address.
func (a Address) PIDPath() string {
	if a.IsLocal() {
		return DaemonPIDPath(a.Addr)
	}
	return networkFileBase(a.Addr) + PIDFileSuffix
}

func networkFileBase(addr string) string {
	return filepath.Join(DefaultRuntimeDir(), "tcp-"+strings.NewReplacer(":", "_", "/", "_", "[", "", "]", "").Replace(addr))
}

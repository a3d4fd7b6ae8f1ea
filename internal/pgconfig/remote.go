// Package pgconfig holds the server's TOML configuration schema and the
// shared RemoteSpec type describing a client's forwarding policy (§3).
package pgconfig

import (
	"errors"
	"strconv"
	"strings"
)

// Mode identifies which of the four forwarding shapes an enrollment's
// remote field takes.
type Mode int

const (
	// ModeForward is a plain addr:port the server dials on accept.
	ModeForward Mode = iota
	// ModeDynamic means the server hands the stream to its SOCKS5 handler.
	ModeDynamic
	// ModeReverseRegister means the client exposes a local target behind a service id.
	ModeReverseRegister
	// ModeReverseVisit means the client wants to dial into a registered service id.
	ModeReverseVisit
)

func (m Mode) String() string {
	switch m {
	case ModeForward:
		return "forward"
	case ModeDynamic:
		return "dynamic"
	case ModeReverseRegister:
		return "reverse-register"
	case ModeReverseVisit:
		return "reverse-visit"
	default:
		return "unknown"
	}
}

// socks5Token is the sentinel remote value selecting dynamic mode.
const socks5Token = "socks5"

// RemoteSpec is the parsed forwarding policy for one enrollment record.
type RemoteSpec struct {
	Mode Mode

	// Addr is the dial target for ModeForward and ModeReverseRegister
	// (when the register-client's target is an address rather than socks5).
	Addr string

	// Dynamic is true when the ModeReverseRegister target is "socks5"
	// rather than an address.
	Dynamic bool

	// ServiceID is set for ModeReverseRegister and ModeReverseVisit.
	ServiceID uint32
}

var ErrInvalidRemote = errors.New("invalid remote specification")

// ParseRemote interprets the TOML "remote" string together with an
// optional "service_id" field into the four shapes of §3:
//
//   - remote = "addr:port", no service_id            -> forward
//   - remote = "socks5", no service_id                -> dynamic
//   - remote = "addr:port" or "socks5", service_id set -> reverse-register
//   - remote = "<uint32>", no service_id              -> reverse-visit
func ParseRemote(remote string, serviceID *uint32) (RemoteSpec, error) {
	remote = strings.TrimSpace(remote)
	if remote == "" {
		return RemoteSpec{}, ErrInvalidRemote
	}

	if serviceID != nil {
		if remote == socks5Token {
			return RemoteSpec{Mode: ModeReverseRegister, Dynamic: true, ServiceID: *serviceID}, nil
		}
		return RemoteSpec{Mode: ModeReverseRegister, Addr: remote, ServiceID: *serviceID}, nil
	}

	if remote == socks5Token {
		return RemoteSpec{Mode: ModeDynamic}, nil
	}

	if sid, err := strconv.ParseUint(remote, 10, 32); err == nil {
		return RemoteSpec{Mode: ModeReverseVisit, ServiceID: uint32(sid)}, nil
	}

	return RemoteSpec{Mode: ModeForward, Addr: remote}, nil
}

// Target returns the register-client's dial target descriptor: either an
// address or the dynamic-socks5 sentinel. Only meaningful for ModeReverseRegister.
func (r RemoteSpec) Target() string {
	if r.Dynamic {
		return socks5Token
	}
	return r.Addr
}

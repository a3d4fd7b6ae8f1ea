package patch

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/portguard/portguard/internal/pgconfig"
)

// CapacityBytes is the fixed size (CONFIG_CAPACITY) of the reserved
// `.pgconf` section (§6). Serialized config must fit in CapacityBytes-8, the remaining 8
// bytes holding the little-endian payload length.
const CapacityBytes = 8 * 1024

// Sentinel marks an unpatched `.pgconf` region in the client build
// template (§6).
var Sentinel = [16]byte{'P', 'O', 'R', 'T', 'G', 'U', 'A', 'R', 'D', '-', 'C', 'F', 'G', 0, 0, 0}

var (
	ErrConfigTooLarge  = errors.New("config too large")
	ErrSentinelMissing = errors.New("pgconf section holds no patched config")
)

// ClientConfig is the embedded, per-client configuration written into a
// binary's `.pgconf` section at gen-cli time (§3, §6). LocalPort extends
// the data model of §3 (which is silent on where the client listens):
// forward/dynamic/reverse-visit clients need some local bind port, and
// `portguard client -p` overrides it only for that invocation, so gen-cli
// must have embedded a default to override.
type ClientConfig struct {
	ServerHost   string
	ServerPort   int
	ServerPubKey [32]byte
	ClientPubKey [32]byte
	ClientPriKey [32]byte
	Remote       pgconfig.RemoteSpec
	LocalPort    int
}

// Marshal serializes c into the compact binary encoding stored in the
// `.pgconf` payload, not including the length prefix or padding.
func (c ClientConfig) Marshal() ([]byte, error) {
	host := []byte(c.ServerHost)
	addr := []byte(c.Remote.Addr)
	if len(host) > 0xffff || len(addr) > 0xffff {
		return nil, fmt.Errorf("%w: host or addr exceeds 65535 bytes", ErrConfigTooLarge)
	}

	size := 2 + len(host) + 4 + 32 + 32 + 32 + 1 + 2 + len(addr) + 1 + 4 + 4
	buf := make([]byte, 0, size)

	buf = appendU16Prefixed(buf, host)
	buf = binary.BigEndian.AppendUint32(buf, uint32(c.ServerPort))
	buf = append(buf, c.ServerPubKey[:]...)
	buf = append(buf, c.ClientPubKey[:]...)
	buf = append(buf, c.ClientPriKey[:]...)
	buf = append(buf, byte(c.Remote.Mode))
	buf = appendU16Prefixed(buf, addr)
	buf = append(buf, boolByte(c.Remote.Dynamic))
	buf = binary.BigEndian.AppendUint32(buf, c.Remote.ServiceID)
	buf = binary.BigEndian.AppendUint32(buf, uint32(c.LocalPort))

	return buf, nil
}

// UnmarshalClientConfig decodes the payload produced by Marshal.
func UnmarshalClientConfig(data []byte) (ClientConfig, error) {
	var c ClientConfig

	host, rest, err := readU16Prefixed(data)
	if err != nil {
		return c, fmt.Errorf("host: %w", err)
	}
	c.ServerHost = string(host)

	if len(rest) < 4 {
		return c, fmt.Errorf("truncated port field")
	}
	c.ServerPort = int(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]

	if len(rest) < 32+32+32 {
		return c, fmt.Errorf("truncated key material")
	}
	copy(c.ServerPubKey[:], rest[:32])
	rest = rest[32:]
	copy(c.ClientPubKey[:], rest[:32])
	rest = rest[32:]
	copy(c.ClientPriKey[:], rest[:32])
	rest = rest[32:]

	if len(rest) < 1 {
		return c, fmt.Errorf("truncated mode field")
	}
	c.Remote.Mode = pgconfig.Mode(rest[0])
	rest = rest[1:]

	addr, rest, err := readU16Prefixed(rest)
	if err != nil {
		return c, fmt.Errorf("addr: %w", err)
	}
	c.Remote.Addr = string(addr)

	if len(rest) < 1+4+4 {
		return c, fmt.Errorf("truncated dynamic/service_id/local_port fields")
	}
	c.Remote.Dynamic = rest[0] != 0
	c.Remote.ServiceID = binary.BigEndian.Uint32(rest[1:5])
	c.LocalPort = int(binary.BigEndian.Uint32(rest[5:9]))

	return c, nil
}

func appendU16Prefixed(buf, data []byte) []byte {
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(data)))
	return append(buf, data...)
}

func readU16Prefixed(data []byte) (field, rest []byte, err error) {
	if len(data) < 2 {
		return nil, nil, fmt.Errorf("truncated length prefix")
	}
	n := binary.BigEndian.Uint16(data[:2])
	data = data[2:]
	if len(data) < int(n) {
		return nil, nil, fmt.Errorf("truncated field body")
	}
	return data[:n], data[n:], nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

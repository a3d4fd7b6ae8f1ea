package pgconfig

import (
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// ClientRecordFile is one [[clients]] table in the server TOML config.
// It mirrors the enrollment record of §3: pubkey is authoritative
// identity, remote carries the forwarding policy, hash is the optional
// reverse-register filehash requirement.
type ClientRecordFile struct {
	Name      string  `toml:"name"`
	PubKey    string  `toml:"pubkey"`
	Hash      string  `toml:"hash,omitempty"`
	Remote    string  `toml:"remote"`
	ServiceID *uint32 `toml:"service_id,omitempty"`
}

// ServerConfigFile is the on-disk TOML schema described in §6.
type ServerConfigFile struct {
	Host    string             `toml:"host"`
	Port    int                `toml:"port"`
	Remote  string             `toml:"remote,omitempty"`
	PubKey  string             `toml:"pubkey,omitempty"`
	PriKey  string             `toml:"prikey,omitempty"`
	Clients []ClientRecordFile `toml:"clients"`
}

// LoadServerConfig reads and parses the TOML config file at path.
func LoadServerConfig(path string) (*ServerConfigFile, error) {
	var cfg ServerConfigFile
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// SaveServerConfig persists cfg to path using a write-to-temp-then-rename
// sequence so concurrent readers never observe a torn file (§4.4).
func SaveServerConfig(path string, cfg *ServerConfigFile) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".portguard-cfg-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp config: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	enc := toml.NewEncoder(tmp)
	if err := enc.Encode(cfg); err != nil {
		tmp.Close()
		return fmt.Errorf("encode config: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp config: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp config: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename config into place: %w", err)
	}
	return nil
}

// DecodePubKey base64-decodes a 32-byte Curve25519 public key field.
func DecodePubKey(s string) ([32]byte, error) {
	var out [32]byte
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return out, fmt.Errorf("decode pubkey: %w", err)
	}
	if len(raw) != 32 {
		return out, fmt.Errorf("decode pubkey: want 32 bytes, got %d", len(raw))
	}
	copy(out[:], raw)
	return out, nil
}

// EncodePubKey base64-encodes a 32-byte Curve25519 public key.
func EncodePubKey(k [32]byte) string {
	return base64.StdEncoding.EncodeToString(k[:])
}

// DecodeHash base64-decodes the optional reverse-register filehash field.
func DecodeHash(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode hash: %w", err)
	}
	return raw, nil
}

// EncodeHash base64-encodes a filehash digest.
func EncodeHash(h []byte) string {
	if len(h) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(h)
}

// Package registry holds the server's in-memory set of enrolled client
// identities and their forwarding policy (§4.4), and persists it to the
// server's TOML config file.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/portguard/portguard/internal/pgconfig"
)

var (
	ErrConfigParse      = errors.New("config parse error")
	ErrConfigMissingKey = errors.New("config missing key")
	ErrDuplicatePubkey  = errors.New("duplicate client pubkey")
)

// Record is one enrolled client: its identity and forwarding policy (§3).
type Record struct {
	Name   string
	PubKey [32]byte
	Remote pgconfig.RemoteSpec
	Hash   []byte // optional, reverse-register only
}

// Registry is the process-wide set of enrollment records, keyed by
// 32-byte Curve25519 static public key. Reads dominate; mutations
// (gen-cli, mod-cli) happen offline with the server stopped, so a plain
// RWMutex is sufficient per §5.
type Registry struct {
	mu      sync.RWMutex
	byKey   map[[32]byte]*Record
	path    string
	host    string
	port    int
	pubKey  [32]byte
	priKey  [32]byte
	hasKeys bool
}

// Load reads the server config file at path and builds a Registry from it.
func Load(path string) (*Registry, error) {
	file, err := pgconfig.LoadServerConfig(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfigParse, err)
	}
	return FromFile(path, file)
}

// FromFile builds a Registry from an already-parsed config file, validating
// every client record's pubkey and remote shape.
func FromFile(path string, file *pgconfig.ServerConfigFile) (*Registry, error) {
	if file.Host == "" {
		return nil, fmt.Errorf("%w: host", ErrConfigMissingKey)
	}
	if file.Port == 0 {
		return nil, fmt.Errorf("%w: port", ErrConfigMissingKey)
	}

	r := &Registry{
		byKey: make(map[[32]byte]*Record, len(file.Clients)),
		path:  path,
		host:  file.Host,
		port:  file.Port,
	}

	if file.PubKey != "" && file.PriKey != "" {
		pub, err := pgconfig.DecodePubKey(file.PubKey)
		if err != nil {
			return nil, fmt.Errorf("%w: server pubkey: %w", ErrConfigParse, err)
		}
		pri, err := pgconfig.DecodePubKey(file.PriKey)
		if err != nil {
			return nil, fmt.Errorf("%w: server prikey: %w", ErrConfigParse, err)
		}
		r.pubKey = pub
		r.priKey = pri
		r.hasKeys = true
	}

	for _, c := range file.Clients {
		rec, err := recordFromFile(c)
		if err != nil {
			return nil, fmt.Errorf("%w: client %q: %w", ErrConfigParse, c.Name, err)
		}
		if _, dup := r.byKey[rec.PubKey]; dup {
			return nil, fmt.Errorf("%w: %x", ErrDuplicatePubkey, rec.PubKey)
		}
		r.byKey[rec.PubKey] = rec
	}

	return r, nil
}

func recordFromFile(c pgconfig.ClientRecordFile) (*Record, error) {
	pub, err := pgconfig.DecodePubKey(c.PubKey)
	if err != nil {
		return nil, err
	}
	remote, err := pgconfig.ParseRemote(c.Remote, c.ServiceID)
	if err != nil {
		return nil, err
	}
	hash, err := pgconfig.DecodeHash(c.Hash)
	if err != nil {
		return nil, err
	}
	return &Record{Name: c.Name, PubKey: pub, Remote: remote, Hash: hash}, nil
}

// Lookup returns the enrollment record for pubkey, or (nil, false) if the
// key is not enrolled. Map lookup is constant-time-equivalent for
// membership; the keys are public so timing leaks nothing secret.
func (r *Registry) Lookup(pubkey [32]byte) (*Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.byKey[pubkey]
	return rec, ok
}

// Insert adds or replaces the enrollment record for rec.PubKey.
func (r *Registry) Insert(rec *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKey[rec.PubKey] = rec
}

// Remove deletes the enrollment record for pubkey, if any.
func (r *Registry) Remove(pubkey [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byKey, pubkey)
}

// Each iterates over all enrollment records in an unspecified order,
// stopping early if fn returns false. Used for admin output (the server's
// startup per-mode summary).
func (r *Registry) Each(fn func(*Record) bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, rec := range r.byKey {
		if !fn(rec) {
			return
		}
	}
}

// Len reports the number of enrolled clients.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byKey)
}

// Host returns the server's configured listen host.
func (r *Registry) Host() string { return r.host }

// Port returns the server's configured listen port.
func (r *Registry) Port() int { return r.port }

// ServerPubKey returns the server's long-term static public key.
func (r *Registry) ServerPubKey() [32]byte { return r.pubKey }

// ServerPriKey returns the server's long-term static private key.
func (r *Registry) ServerPriKey() [32]byte { return r.priKey }

// HasKeys reports whether gen-key has populated the server keypair.
func (r *Registry) HasKeys() bool { return r.hasKeys }

// SetKeys installs the server's long-term keypair in memory; Save then
// persists it.
func (r *Registry) SetKeys(pub, pri [32]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pubKey = pub
	r.priKey = pri
	r.hasKeys = true
}

// Save writes the registry back to its backing TOML file using
// write-to-temp-then-rename (§4.4).
func (r *Registry) Save() error {
	r.mu.RLock()
	file := &pgconfig.ServerConfigFile{
		Host:   r.host,
		Port:   r.port,
		PubKey: pgconfig.EncodePubKey(r.pubKey),
		PriKey: pgconfig.EncodePubKey(r.priKey),
	}
	for _, rec := range r.byKey {
		file.Clients = append(file.Clients, recordToFile(rec))
	}
	path := r.path
	r.mu.RUnlock()

	return pgconfig.SaveServerConfig(path, file)
}

func recordToFile(rec *Record) pgconfig.ClientRecordFile {
	c := pgconfig.ClientRecordFile{
		Name:   rec.Name,
		PubKey: pgconfig.EncodePubKey(rec.PubKey),
		Hash:   pgconfig.EncodeHash(rec.Hash),
	}
	switch rec.Remote.Mode {
	case pgconfig.ModeForward:
		c.Remote = rec.Remote.Addr
	case pgconfig.ModeDynamic:
		c.Remote = "socks5"
	case pgconfig.ModeReverseRegister:
		c.Remote = rec.Remote.Target()
		sid := rec.Remote.ServiceID
		c.ServiceID = &sid
	case pgconfig.ModeReverseVisit:
		c.Remote = fmt.Sprintf("%d", rec.Remote.ServiceID)
	}
	return c
}

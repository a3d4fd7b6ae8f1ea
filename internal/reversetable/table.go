// Package reversetable implements the reverse session table of §4.5: for
// each service id, the currently-registered reverse client's multiplexed
// session and the target it will dial for each opened substream.
package reversetable

import (
	"context"
	"errors"
	"sync"

	"github.com/portguard/portguard/internal/muxsession"
	"github.com/portguard/portguard/internal/pgconfig"
)

var (
	ErrServiceIDBusy = errors.New("service id busy")
	ErrNoSuchService = errors.New("no such service")
)

// entry is one registered reverse session.
type entry struct {
	session muxsession.Session
	target  pgconfig.RemoteSpec // Addr/Dynamic describe the register-client's dial target
}

// Table is the process-wide reverse session table. Reads (visit paths)
// are frequent; writes (register/unregister) are rare, so a single
// RWMutex over a plain map is sufficient (§5).
type Table struct {
	mu      sync.RWMutex
	entries map[uint32]*entry
}

// New creates an empty reverse session table.
func New() *Table {
	return &Table{entries: make(map[uint32]*entry)}
}

// Register installs session as the reverse target for serviceID, failing
// with ErrServiceIDBusy if an entry already exists (§3 invariant: at most
// one register-client per service id).
func (t *Table) Register(serviceID uint32, session muxsession.Session, target pgconfig.RemoteSpec) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[serviceID]; exists {
		return ErrServiceIDBusy
	}
	t.entries[serviceID] = &entry{session: session, target: target}
	return nil
}

// OpenSubstream opens a new logical substream to the register-client
// behind serviceID, failing with ErrNoSuchService if no register-client
// currently holds that id.
func (t *Table) OpenSubstream(ctx context.Context, serviceID uint32) (muxsession.Stream, error) {
	t.mu.RLock()
	e, ok := t.entries[serviceID]
	t.mu.RUnlock()
	if !ok {
		return nil, ErrNoSuchService
	}
	return e.session.OpenStream(ctx)
}

// Target returns the register-client's enrolled dial target for
// serviceID, as recorded at Register time (an address, or Dynamic for its
// built-in SOCKS5 server).
func (t *Table) Target(serviceID uint32) (pgconfig.RemoteSpec, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[serviceID]
	if !ok {
		return pgconfig.RemoteSpec{}, false
	}
	return e.target, true
}

// Unregister removes the entry for serviceID if it is still owned by
// session, and closes the session. Idempotent: unregistering an absent or
// already-replaced entry is a no-op (§4.5).
func (t *Table) Unregister(serviceID uint32, session muxsession.Session) {
	t.mu.Lock()
	e, ok := t.entries[serviceID]
	if ok && e.session == session {
		delete(t.entries, serviceID)
	}
	t.mu.Unlock()

	if ok && e.session == session {
		session.Close()
	}
}

// ActiveServices returns the currently-registered service ids, for
// observability (logging on register/unregister, admin introspection).
func (t *Table) ActiveServices() []uint32 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ids := make([]uint32, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	return ids
}

// IsRegistered reports whether serviceID currently has a register-client.
func (t *Table) IsRegistered(serviceID uint32) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.entries[serviceID]
	return ok
}

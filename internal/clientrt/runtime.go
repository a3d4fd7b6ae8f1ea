// Package clientrt implements the client runtime of §4.8: reading the
// embedded config, binding (or skipping) a local listener, and driving
// the per-connection handshake/splice or register-client reverse flow.
package clientrt

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/flynn/noise"
	"github.com/rs/zerolog"

	"github.com/portguard/portguard/internal/forward"
	"github.com/portguard/portguard/internal/patch"
	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/pgcrypto"
	"github.com/portguard/portguard/internal/wire"
)

// Overrides carries the `-p`/`-s` flags of `portguard client`, applying
// only to the current invocation (§6).
type Overrides struct {
	LocalPort    int    // 0 means "use the embedded default"
	ServerAddr   string // "" means "use the embedded default"
	ServerPubKey *[32]byte
}

// Runtime drives one client process from its embedded config (§4.8).
type Runtime struct {
	cfg patch.ClientConfig
	ovr Overrides
	log zerolog.Logger
}

// New builds a Runtime from cfg and any CLI overrides.
func New(cfg patch.ClientConfig, ovr Overrides, log zerolog.Logger) *Runtime {
	return &Runtime{cfg: cfg, ovr: ovr, log: log}
}

func (r *Runtime) serverAddr() string {
	if r.ovr.ServerAddr != "" {
		return r.ovr.ServerAddr
	}
	return net.JoinHostPort(r.cfg.ServerHost, strconv.Itoa(r.cfg.ServerPort))
}

func (r *Runtime) serverStaticKey() [32]byte {
	if r.ovr.ServerPubKey != nil {
		return *r.ovr.ServerPubKey
	}
	return r.cfg.ServerPubKey
}

func (r *Runtime) localPort() int {
	if r.ovr.LocalPort != 0 {
		return r.ovr.LocalPort
	}
	return r.cfg.LocalPort
}

func (r *Runtime) clientStatic() noise.DHKey {
	return noise.DHKey{Private: r.cfg.ClientPriKey[:], Public: r.cfg.ClientPubKey[:]}
}

// Run drives the client runtime until ctx is canceled. Forward, dynamic,
// and reverse-visit modes bind a local listener; reverse-register mode
// dials the server once and reconnects with backoff (§4.8).
func (r *Runtime) Run(ctx context.Context) error {
	switch r.cfg.Remote.Mode {
	case pgconfig.ModeForward, pgconfig.ModeDynamic, pgconfig.ModeReverseVisit:
		return r.runListener(ctx)
	case pgconfig.ModeReverseRegister:
		return r.runRegister(ctx)
	default:
		return fmt.Errorf("unknown embedded mode %v", r.cfg.Remote.Mode)
	}
}

// dialServer opens one fresh Noise_IK tunnel to the server, as initiator.
func (r *Runtime) dialServer(ctx context.Context) (*pgcrypto.Tunnel, error) {
	dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	var d net.Dialer
	conn, err := d.DialContext(dialCtx, "tcp", r.serverAddr())
	if err != nil {
		return nil, fmt.Errorf("%w: %w", forward.ErrDialFailed, err)
	}
	tunnel, err := pgcrypto.Handshake(ctx, conn, r.clientStatic(), r.serverStaticKey())
	if err != nil {
		conn.Close()
		return nil, err
	}
	return tunnel, nil
}

// controlMessage builds the first control message this client sends,
// matching its embedded mode (§4.2, §4.8 point c).
func (r *Runtime) controlMessage() wire.Message {
	switch r.cfg.Remote.Mode {
	case pgconfig.ModeDynamic:
		return wire.DialSocks5()
	case pgconfig.ModeReverseVisit:
		return wire.VisitReverse(r.cfg.Remote.ServiceID)
	default:
		return wire.DialStatic()
	}
}

const dialTimeout = 10 * time.Second

// Package server implements the connection state machine of §4.7: accept,
// authenticate, admit, read the first control message, and dispatch to
// forward, dynamic, reverse-register, or reverse-visit handling.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	socks5 "github.com/armon/go-socks5"
	"github.com/flynn/noise"
	"github.com/rs/zerolog"

	"github.com/portguard/portguard/internal/filehash"
	"github.com/portguard/portguard/internal/forward"
	"github.com/portguard/portguard/internal/muxsession"
	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/pgcrypto"
	"github.com/portguard/portguard/internal/registry"
	"github.com/portguard/portguard/internal/reversetable"
	"github.com/portguard/portguard/internal/wire"
)

var (
	// ErrUnauthorized means the peer's static key is not enrolled.
	ErrUnauthorized = errors.New("unauthorized: pubkey not enrolled")
	// ErrPolicyViolation means the first control message doesn't match the
	// enrollment's configured mode.
	ErrPolicyViolation = errors.New("policy violation: control message does not match enrollment")
)

// Dispatcher holds everything a server needs to service one listener:
// the enrollment registry, the reverse session table, the server's
// long-term keypair, and the shared SOCKS5 handler used by dynamic mode.
type Dispatcher struct {
	Registry *registry.Registry
	Table    *reversetable.Table

	// Socks5Password gates the SOCKS5 handler for dynamic-mode egress; an
	// empty string means NoAuth (§4.6).
	Socks5Password string

	socks5Once sync.Once
	socks5Srv  *socks5.Server
	socks5Err  error
}

// NewDispatcher builds a Dispatcher over reg and table.
func NewDispatcher(reg *registry.Registry, table *reversetable.Table, socks5Password string) *Dispatcher {
	return &Dispatcher{Registry: reg, Table: table, Socks5Password: socks5Password}
}

// Serve accepts connections on ln until ctx is done, handling each one in
// its own goroutine.
func (d *Dispatcher) Serve(ctx context.Context, ln net.Listener) error {
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go d.handleConn(ctx, conn)
	}
}

func (d *Dispatcher) handleConn(ctx context.Context, conn net.Conn) {
	log := zerolog.Ctx(ctx).With().Str("remote_addr", conn.RemoteAddr().String()).Logger()

	serverStatic := noise.DHKey{
		Private: d.Registry.ServerPriKey()[:],
		Public:  d.Registry.ServerPubKey()[:],
	}

	tunnel, err := pgcrypto.Accept(ctx, conn, serverStatic)
	if err != nil {
		log.Warn().Err(err).Msg("handshake failed")
		conn.Close()
		return
	}
	defer tunnel.Close()

	pubkey := tunnel.RemoteStatic()
	log = log.With().Str("client_pubkey", pgconfig.EncodePubKey(pubkey)).Logger()

	rec, ok := d.Registry.Lookup(pubkey)
	if !ok {
		log.Warn().Msg(ErrUnauthorized.Error())
		return
	}
	log = log.With().Str("client_name", rec.Name).Str("mode", rec.Remote.Mode.String()).Logger()

	msg, err := wire.Read(tunnel)
	if err != nil {
		log.Warn().Err(err).Msg("failed to read control message")
		return
	}

	if err := checkPolicy(rec.Remote, msg); err != nil {
		log.Warn().Err(err).Msg("rejecting connection")
		return
	}

	switch rec.Remote.Mode {
	case pgconfig.ModeForward:
		d.serveForward(ctx, log, tunnel, rec.Remote.Addr)
	case pgconfig.ModeDynamic:
		d.serveDynamic(log, tunnel)
	case pgconfig.ModeReverseRegister:
		d.serveReverseRegister(ctx, log, tunnel, rec)
	case pgconfig.ModeReverseVisit:
		d.serveReverseVisit(ctx, log, tunnel, msg.ServiceID)
	}
}

// checkPolicy verifies the first control message matches the enrollment's
// configured mode, closing off any attempt to use a connection for a mode
// other than the one it was enrolled for (§4.7).
func checkPolicy(remote pgconfig.RemoteSpec, msg wire.Message) error {
	switch remote.Mode {
	case pgconfig.ModeForward:
		if msg.Tag != wire.TagDialStatic {
			return fmt.Errorf("%w: want DialStatic, got tag %d", ErrPolicyViolation, msg.Tag)
		}
	case pgconfig.ModeDynamic:
		if msg.Tag != wire.TagDialSocks5 {
			return fmt.Errorf("%w: want DialSocks5, got tag %d", ErrPolicyViolation, msg.Tag)
		}
	case pgconfig.ModeReverseRegister:
		if msg.Tag != wire.TagRegisterReverse || msg.ServiceID != remote.ServiceID {
			return fmt.Errorf("%w: want RegisterReverse{%d}, got tag %d id %d", ErrPolicyViolation, remote.ServiceID, msg.Tag, msg.ServiceID)
		}
	case pgconfig.ModeReverseVisit:
		if msg.Tag != wire.TagVisitReverse || msg.ServiceID != remote.ServiceID {
			return fmt.Errorf("%w: want VisitReverse{%d}, got tag %d id %d", ErrPolicyViolation, remote.ServiceID, msg.Tag, msg.ServiceID)
		}
	}
	return nil
}

func (d *Dispatcher) serveForward(ctx context.Context, log zerolog.Logger, tunnel *pgcrypto.Tunnel, addr string) {
	egress, err := forward.DialStatic(ctx, addr)
	if err != nil {
		log.Warn().Err(err).Str("target", addr).Msg("forward dial failed")
		return
	}
	defer egress.Close()

	if err := forward.Splice(tunnel, egress); err != nil {
		log.Debug().Err(err).Msg("forward splice ended")
	}
}

func (d *Dispatcher) serveDynamic(log zerolog.Logger, tunnel *pgcrypto.Tunnel) {
	srv, err := d.socks5Handler()
	if err != nil {
		log.Error().Err(err).Msg("socks5 handler unavailable")
		return
	}
	if err := forward.ServeSocks5(srv, tunnel); err != nil {
		log.Debug().Err(err).Msg("dynamic splice ended")
	}
}

// socks5Handler builds the shared SOCKS5 server on first use, so a
// Dispatcher with no dynamic-mode enrollments never touches go-socks5.
func (d *Dispatcher) socks5Handler() (*socks5.Server, error) {
	d.socks5Once.Do(func() {
		d.socks5Srv, d.socks5Err = forward.NewSocks5Server(d.Socks5Password)
	})
	return d.socks5Srv, d.socks5Err
}

// serveReverseRegister implements §4.7 point 4: verify the declared file
// digest if one is enrolled, install a yamux session into the reverse
// table keyed by the enrollment's service id, and block until the tunnel
// drops, at which point the entry is unregistered.
func (d *Dispatcher) serveReverseRegister(ctx context.Context, log zerolog.Logger, tunnel *pgcrypto.Tunnel, rec *registry.Record) {
	if err := filehash.Challenge(tunnel, rec.Hash); err != nil {
		log.Warn().Err(err).Msg("reverse-register rejected")
		return
	}

	sess, err := muxsession.NewServerSession(tunnel)
	if err != nil {
		log.Error().Err(err).Msg("failed to establish mux session")
		return
	}

	serviceID := rec.Remote.ServiceID
	if err := d.Table.Register(serviceID, sess, rec.Remote); err != nil {
		log.Warn().Err(err).Uint32("service_id", serviceID).Msg("reverse-register refused")
		sess.Close()
		return
	}
	log.Info().Uint32("service_id", serviceID).Msg("reverse service registered")
	defer func() {
		d.Table.Unregister(serviceID, sess)
		log.Info().Uint32("service_id", serviceID).Msg("reverse service unregistered")
	}()

	select {
	case <-sess.Done():
	case <-ctx.Done():
	}
}

// serveReverseVisit implements §4.7 point 5: open a substream to the
// register-client behind serviceID and relay encrypted bytes between it
// and the visitor's outer tunnel. The server never participates in the
// inner handshake the two clients layer on top of this substream (§9).
func (d *Dispatcher) serveReverseVisit(ctx context.Context, log zerolog.Logger, tunnel *pgcrypto.Tunnel, serviceID uint32) {
	stream, err := d.Table.OpenSubstream(ctx, serviceID)
	if err != nil {
		log.Warn().Err(err).Uint32("service_id", serviceID).Msg("no such reverse service")
		return
	}
	defer stream.Close()

	if err := forward.Splice(tunnel, stream); err != nil {
		log.Debug().Err(err).Msg("reverse-visit splice ended")
	}
}

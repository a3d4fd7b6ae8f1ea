package clientrt

import (
	"context"
	"io"
	"net"
	"strconv"

	"github.com/portguard/portguard/internal/forward"
	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/wire"
)

// runListener implements the local-listener branch of §4.8: forward,
// dynamic, and reverse-visit clients all bind one local port and, for
// each accepted connection, dial the server fresh, handshake, send the
// mode-appropriate control message, and splice.
func (r *Runtime) runListener(ctx context.Context) error {
	ln, err := net.Listen("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(r.localPort())))
	if err != nil {
		return err
	}
	r.log.Info().Str("addr", ln.Addr().String()).Str("mode", r.cfg.Remote.Mode.String()).Msg("client listening")

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		local, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		go r.handleLocal(ctx, local)
	}
}

func (r *Runtime) handleLocal(ctx context.Context, local net.Conn) {
	defer local.Close()
	log := r.log.With().Str("local_addr", local.RemoteAddr().String()).Logger()

	tunnel, err := r.dialServer(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("dial to server failed")
		return
	}
	defer tunnel.Close()

	if err := wire.Write(tunnel, r.controlMessage()); err != nil {
		log.Warn().Err(err).Msg("failed to send control message")
		return
	}

	var egress io.ReadWriteCloser = tunnel
	if r.cfg.Remote.Mode == pgconfig.ModeReverseVisit {
		inner, err := innerHandshakeVisitor(ctx, tunnel)
		if err != nil {
			log.Warn().Err(err).Msg("inner handshake failed")
			return
		}
		defer inner.Close()
		egress = inner
	}

	if err := forward.Splice(local, egress); err != nil {
		log.Debug().Err(err).Msg("splice ended")
	}
}

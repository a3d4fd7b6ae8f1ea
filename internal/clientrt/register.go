package clientrt

import (
	"context"
	"time"

	"github.com/portguard/portguard/internal/backoff"
	"github.com/portguard/portguard/internal/filehash"
	"github.com/portguard/portguard/internal/forward"
	"github.com/portguard/portguard/internal/muxsession"
	"github.com/portguard/portguard/internal/wire"
)

// runRegister implements the register-client reverse flow of §4.8: dial
// once, register, then service substreams until the tunnel drops,
// reconnecting with exponential backoff.
func (r *Runtime) runRegister(ctx context.Context) error {
	bo := backoff.New()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if err := r.registerOnce(ctx); err != nil {
			r.log.Warn().Err(err).Msg("reverse-register session ended")
		} else {
			bo.Reset()
		}

		delay := bo.Next()
		r.log.Info().Dur("backoff", delay).Msg("reconnecting")
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(delay):
		}
	}
}

func (r *Runtime) registerOnce(ctx context.Context) error {
	tunnel, err := r.dialServer(ctx)
	if err != nil {
		return err
	}
	defer tunnel.Close()

	if err := wire.Write(tunnel, wire.RegisterReverse(r.cfg.Remote.ServiceID)); err != nil {
		return err
	}

	digest, err := selfDigest()
	if err != nil {
		return err
	}
	if err := filehash.Declare(tunnel, digest); err != nil {
		return err
	}

	sess, err := muxsession.NewClientSession(tunnel)
	if err != nil {
		return err
	}
	defer sess.Close()

	go func() {
		select {
		case <-ctx.Done():
			sess.Close()
		case <-sess.Done():
		}
	}()

	r.log.Info().Uint32("service_id", r.cfg.Remote.ServiceID).Msg("registered reverse service")

	for {
		stream, err := sess.AcceptStream(ctx)
		if err != nil {
			return err
		}
		go r.handleReverseSubstream(ctx, stream)
	}
}

func (r *Runtime) handleReverseSubstream(ctx context.Context, stream muxsession.Stream) {
	defer stream.Close()

	inner, err := innerHandshakeRegister(ctx, stream)
	if err != nil {
		r.log.Warn().Err(err).Msg("inner handshake failed")
		return
	}
	defer inner.Close()

	if r.cfg.Remote.Dynamic {
		srv, err := forward.NewSocks5Server("")
		if err != nil {
			r.log.Error().Err(err).Msg("socks5 handler unavailable")
			return
		}
		if err := forward.ServeSocks5(srv, inner); err != nil {
			r.log.Debug().Err(err).Msg("reverse socks5 splice ended")
		}
		return
	}

	egress, err := forward.DialStatic(ctx, r.cfg.Remote.Addr)
	if err != nil {
		r.log.Warn().Err(err).Str("target", r.cfg.Remote.Addr).Msg("reverse target dial failed")
		return
	}
	defer egress.Close()

	if err := forward.Splice(inner, egress); err != nil {
		r.log.Debug().Err(err).Msg("reverse splice ended")
	}
}

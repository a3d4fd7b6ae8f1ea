// Package muxsession abstracts the multiplexed transport used by
// reverse-register sessions (§4.5). It is a thin adapter over
// github.com/hashicorp/yamux, splitting Session/Stream into interfaces so
// the reverse session table and forwarding engine never depend on yamux
// types directly.
package muxsession

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/hashicorp/yamux"
)

// Session multiplexes independent, flow-controlled bidirectional streams
// over one authenticated connection (§4.5, §9).
type Session interface {
	// OpenStream creates a new stream within the session.
	OpenStream(ctx context.Context) (Stream, error)

	// AcceptStream blocks until the peer opens a stream or the session
	// closes. ctx is checked only before blocking: a ctx canceled while
	// AcceptStream waits does not unblock it; closing the session does.
	AcceptStream(ctx context.Context) (Stream, error)

	// Close terminates the session and every open stream.
	Close() error

	// Done returns a channel closed once the session has terminated,
	// letting callers detect the underlying tunnel dropping without
	// racing the session's own internal reader goroutine.
	Done() <-chan struct{}
}

// Stream is a single bidirectional substream within a Session.
type Stream interface {
	io.ReadWriteCloser
	SetDeadline(t time.Time) error
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type yamuxSession struct {
	sess *yamux.Session
	conn io.Closer
}

var _ Session = (*yamuxSession)(nil)

func defaultConfig() *yamux.Config {
	cfg := yamux.DefaultConfig()
	cfg.Logger = nil
	cfg.MaxStreamWindowSize = 16 * 1024 * 1024
	cfg.StreamOpenTimeout = 30 * time.Second
	cfg.StreamCloseTimeout = 1 * time.Minute
	return cfg
}

// NewClientSession wraps conn (the register-client's outer Noise tunnel)
// as a yamux client session.
func NewClientSession(conn io.ReadWriteCloser) (Session, error) {
	sess, err := yamux.Client(conn, defaultConfig())
	if err != nil {
		return nil, err
	}
	return &yamuxSession{sess: sess, conn: conn}, nil
}

// NewServerSession wraps conn (the server's side of a register-client's
// outer Noise tunnel) as a yamux server session.
func NewServerSession(conn io.ReadWriteCloser) (Session, error) {
	sess, err := yamux.Server(conn, defaultConfig())
	if err != nil {
		return nil, err
	}
	return &yamuxSession{sess: sess, conn: conn}, nil
}

func (s *yamuxSession) OpenStream(ctx context.Context) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return s.sess.OpenStream()
}

func (s *yamuxSession) AcceptStream(ctx context.Context) (Stream, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	return s.sess.AcceptStream()
}

func (s *yamuxSession) Done() <-chan struct{} {
	return s.sess.CloseChan()
}

func (s *yamuxSession) Close() error {
	err1 := s.sess.Close()
	var err2 error
	if s.conn != nil {
		err2 = s.conn.Close()
	}
	return errors.Join(err1, err2)
}

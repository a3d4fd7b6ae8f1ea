// Package forward implements the bidirectional byte-pump and egress
// selection of §4.6: static TCP dial, SOCKS5 handler, or reverse
// substream.
package forward

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/portguard/portguard/internal/bufpool"
)

var ErrDialFailed = errors.New("dial failed")

// Splice bidirectionally copies bytes between a and b until either side
// closes or errors. As soon as one direction ends, cleanly or with an
// error, both a and b are closed: a half-close is not propagated, so the
// other direction stops as well. The splice loop reports the first error
// (nil for a clean EOF) but never retries — retry is a
// register-client-only concern (§7).
func Splice(a, b io.ReadWriteCloser) error {
	errCh := make(chan error, 2)

	go func() { errCh <- copyDirection(a, b) }()
	go func() { errCh <- copyDirection(b, a) }()

	err := <-errCh
	a.Close()
	b.Close()
	<-errCh

	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func copyDirection(dst io.Writer, src io.Reader) error {
	buf := bufpool.Get()
	defer bufpool.Put(buf)
	_, err := io.CopyBuffer(dst, src, *buf)
	return err
}

// DialStatic opens a TCP connection to addr for forward-mode egress.
func DialStatic(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDialFailed, err)
	}
	return conn, nil
}

// deadlineStream is satisfied by both *pgcrypto.Tunnel and
// muxsession.Stream; it is the minimal surface connAdapter needs to
// present a net.Conn to the SOCKS5 handler.
type deadlineStream interface {
	io.ReadWriteCloser
	SetDeadline(time.Time) error
	SetReadDeadline(time.Time) error
	SetWriteDeadline(time.Time) error
}

// connAdapter presents any authenticated stream as a net.Conn, which the
// armon/go-socks5 handler requires even though it never inspects the
// addresses.
type connAdapter struct {
	deadlineStream
}

// AsNetConn wraps s as a net.Conn for handlers that require one.
func AsNetConn(s deadlineStream) net.Conn {
	return connAdapter{s}
}

func (connAdapter) LocalAddr() net.Addr  { return pipeAddr{} }
func (connAdapter) RemoteAddr() net.Addr { return pipeAddr{} }

type pipeAddr struct{}

func (pipeAddr) Network() string { return "portguard" }
func (pipeAddr) String() string  { return "portguard-tunnel" }

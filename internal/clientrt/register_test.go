package clientrt

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/flynn/noise"
	"github.com/rs/zerolog"

	"github.com/portguard/portguard/internal/filehash"
	"github.com/portguard/portguard/internal/muxsession"
	"github.com/portguard/portguard/internal/patch"
	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/pgcrypto"
	"github.com/portguard/portguard/internal/wire"
)

// startFakeReverseServer mirrors internal/server's reverse-register
// handling closely enough to drive handleReverseSubstream end to end:
// accept, outer handshake, read RegisterReverse, skip the hash challenge,
// wrap the tunnel in a yamux server session, and hand back a function
// that opens a substream on demand.
func startFakeReverseServer(t *testing.T, serverKey noise.DHKey) (addr net.Addr, openSubstream func() (muxsession.Stream, error)) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	sessCh := make(chan muxsession.Session, 1)

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}

		tunnel, err := pgcrypto.Accept(context.Background(), conn, serverKey)
		if err != nil {
			conn.Close()
			return
		}

		if _, err := wire.Read(tunnel); err != nil {
			tunnel.Close()
			return
		}
		if err := filehash.Challenge(tunnel, nil); err != nil {
			tunnel.Close()
			return
		}

		sess, err := muxsession.NewServerSession(tunnel)
		if err != nil {
			tunnel.Close()
			return
		}
		sessCh <- sess
	}()

	return ln.Addr(), func() (muxsession.Stream, error) {
		sess := <-sessCh
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return sess.OpenStream(ctx)
	}
}

func TestRegisterOnceAndReverseSubstreamEndToEnd(t *testing.T) {
	serverKey, err := pgcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	var serverPub [32]byte
	copy(serverPub[:], serverKey.Public)

	addr, openSubstream := startFakeReverseServer(t, serverKey)

	backend, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen(backend): %v", err)
	}
	defer backend.Close()
	go func() {
		conn, err := backend.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 4096)
		for {
			n, err := conn.Read(buf)
			if n > 0 {
				if _, werr := conn.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	clientKey, err := pgcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	var clientPub, clientPri [32]byte
	copy(clientPub[:], clientKey.Public)
	copy(clientPri[:], clientKey.Private)

	cfg := patch.ClientConfig{
		ServerPubKey: serverPub,
		ClientPubKey: clientPub,
		ClientPriKey: clientPri,
		Remote:       pgconfig.RemoteSpec{Mode: pgconfig.ModeReverseRegister, Addr: backend.Addr().String(), ServiceID: 7},
	}
	r := New(cfg, Overrides{ServerAddr: addr.String()}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	registerErrCh := make(chan error, 1)
	go func() { registerErrCh <- r.registerOnce(ctx) }()

	stream, err := openSubstream()
	if err != nil {
		t.Fatalf("openSubstream: %v", err)
	}
	defer stream.Close()

	inner, err := pgcrypto.InnerHandshake(ctx, stream)
	if err != nil {
		t.Fatalf("InnerHandshake: %v", err)
	}
	defer inner.Close()

	msg := []byte("round trip through the reverse substream")
	writeErrCh := make(chan error, 1)
	go func() {
		_, err := inner.Write(msg)
		writeErrCh <- err
	}()

	buf := make([]byte, len(msg))
	if _, err := io.ReadFull(inner, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if err := <-writeErrCh; err != nil {
		t.Fatalf("Write: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q, want %q", buf, msg)
	}

	cancel()
	<-registerErrCh
}

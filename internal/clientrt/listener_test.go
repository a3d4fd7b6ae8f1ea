package clientrt

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/flynn/noise"
	"github.com/rs/zerolog"

	"github.com/portguard/portguard/internal/patch"
	"github.com/portguard/portguard/internal/pgconfig"
	"github.com/portguard/portguard/internal/pgcrypto"
	"github.com/portguard/portguard/internal/wire"
)

// startFakeServer accepts one connection, completes the outer handshake,
// reads one control message, then echoes every byte it receives back over
// the tunnel. It stands in for internal/server's forward-mode dispatch so
// this package's listener/splice wiring can be tested in isolation.
func startFakeServer(t *testing.T, serverKey noise.DHKey) net.Addr {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		tunnel, err := pgcrypto.Accept(context.Background(), conn, serverKey)
		if err != nil {
			return
		}
		defer tunnel.Close()

		if _, err := wire.Read(tunnel); err != nil {
			return
		}

		buf := make([]byte, 4096)
		for {
			n, err := tunnel.Read(buf)
			if n > 0 {
				if _, werr := tunnel.Write(buf[:n]); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()
	return ln.Addr()
}

func TestRunListenerForwardModeEndToEnd(t *testing.T) {
	serverKey, err := pgcrypto.GenerateKeypair()
	if err != nil {
		t.Fatalf("GenerateKeypair: %v", err)
	}
	var serverPub [32]byte
	copy(serverPub[:], serverKey.Public)

	addr := startFakeServer(t, serverKey)

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
		Remote:       pgconfig.RemoteSpec{Mode: pgconfig.ModeForward},
		LocalPort:    0,
	}
	r := New(cfg, Overrides{ServerAddr: addr.String()}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Drive handleLocal directly against a net.Pipe rather than going
	// through runListener's real TCP accept loop, so the test doesn't
	// depend on an ephemeral port.
	local, remote := net.Pipe()
	go r.handleLocal(ctx, remote)

	msg := []byte("round trip through the client runtime splice")
	writeErrCh := make(chan error, 1)
	go func() {
		_, err := local.Write(msg)
		writeErrCh <- err
	}()

	buf := make([]byte, len(msg))
	local.SetReadDeadline(time.Now().Add(5 * time.Second))
	if _, err := io.ReadFull(local, buf); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if err := <-writeErrCh; err != nil {
		t.Fatalf("Write: %v", err)
	}
	if string(buf) != string(msg) {
		t.Fatalf("got %q, want %q", buf, msg)
	}
	local.Close()
}

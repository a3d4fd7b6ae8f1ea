// Package pgcrypto implements the Noise_IK_25519_ChaChaPoly_BLAKE2s outer
// tunnel handshake and the framed, per-message AEAD transport described in
// §4.3. The initiator (client) knows the responder's (server's) static
// public key a priori; the responder learns the initiator's static during
// the handshake and leaves admission decisions to the caller.
package pgcrypto

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/valyala/bytebufferpool"
)

var (
	ErrHandshakeFailed  = errors.New("handshake failed")
	ErrHandshakeTimeout = errors.New("handshake timeout")
	// ErrDecryptFailed covers both a corrupted ciphertext and a replayed or
	// out-of-order frame: flynn/noise's CipherState.Decrypt verifies the
	// frame's sequential nonce as part of the same AEAD tag check, so a
	// nonce violation never surfaces as a distinct error from the library.
	ErrDecryptFailed = errors.New("decrypt failed")
)

const (
	noiseTagSize = 16 // ChaCha20-Poly1305 authentication tag

	// NoiseMaxPayload bounds a single AEAD-sealed application frame: the
	// wire message (ciphertext + tag) must fit the u16 length prefix, so
	// plaintext is capped at 65535 - tag length (§4.3).
	NoiseMaxPayload = 65535 - noiseTagSize

	// DefaultHandshakeTimeout is the bounded deadline on each handshake
	// read (§4.3, §5).
	DefaultHandshakeTimeout = 10 * time.Second
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// GenerateKeypair creates a fresh long-term Curve25519 keypair, used by
// gen-key (server identity) and gen-cli (per-client identity).
func GenerateKeypair() (noise.DHKey, error) {
	return cipherSuite.GenerateKeypair(rand.Reader)
}

var bufPool bytebufferpool.Pool

func acquireBuffer(n int) *bytebufferpool.ByteBuffer {
	buf := bufPool.Get()
	if cap(buf.B) < n {
		buf.B = make([]byte, 0, n)
	}
	buf.B = buf.B[:0]
	return buf
}

func releaseBuffer(buf *bytebufferpool.ByteBuffer) {
	full := buf.B[:cap(buf.B)]
	for i := range full {
		full[i] = 0
	}
	bufPool.Put(buf)
}

// deadliner is implemented by any connection that supports read deadlines,
// e.g. *net.TCPConn.
type deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Handshake performs the initiator (client) side of Noise_IK over conn.
// serverStatic is the server's long-term Curve25519 public key, known to
// the client a priori via its embedded config. clientStatic is the
// client's own long-term keypair.
func Handshake(ctx context.Context, conn io.ReadWriteCloser, clientStatic noise.DHKey, serverStatic [32]byte) (*Tunnel, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     true,
		StaticKeypair: clientStatic,
		PeerStatic:    serverStatic[:],
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init: %w", ErrHandshakeFailed, err)
	}

	if err := withHandshakeDeadline(conn, func() error {
		// Message 1: -> e, es, s, ss
		msg1, _, _, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return fmt.Errorf("%w: write msg1: %w", ErrHandshakeFailed, err)
		}
		if err := writeFrame(conn, msg1); err != nil {
			return fmt.Errorf("%w: send msg1: %w", ErrHandshakeFailed, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var encryptor, decryptor *noise.CipherState
	if err := withHandshakeDeadline(conn, func() error {
		// Message 2: <- e, ee, se
		msg2, err := readFrame(conn)
		if err != nil {
			return timeoutWrap(err)
		}
		_, cs1, cs2, err := hs.ReadMessage(nil, msg2)
		if err != nil {
			return fmt.Errorf("%w: read msg2: %w", ErrHandshakeFailed, err)
		}
		// cs1 = initiator->responder (client encrypt), cs2 = responder->initiator (client decrypt)
		encryptor, decryptor = cs1, cs2
		return nil
	}); err != nil {
		return nil, err
	}

	clearDeadline(conn)
	return newTunnel(conn, encryptor, decryptor, serverStatic), nil
}

// Accept performs the responder (server) side of Noise_IK over conn.
// serverStatic is the server's own long-term keypair. The initiator's
// static public key is learned during the handshake and is available via
// Tunnel.RemoteStatic once Accept returns; the caller is responsible for
// admission control (§4.3 Admission is deliberately a caller concern so
// pgcrypto stays free of a registry dependency).
func Accept(ctx context.Context, conn io.ReadWriteCloser, serverStatic noise.DHKey) (*Tunnel, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeIK,
		Initiator:     false,
		StaticKeypair: serverStatic,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init: %w", ErrHandshakeFailed, err)
	}

	if err := withHandshakeDeadline(conn, func() error {
		// Message 1: <- e, es, s, ss
		msg1, err := readFrame(conn)
		if err != nil {
			return timeoutWrap(err)
		}
		if _, _, _, err := hs.ReadMessage(nil, msg1); err != nil {
			return fmt.Errorf("%w: read msg1: %w", ErrHandshakeFailed, err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	var encryptor, decryptor *noise.CipherState
	if err := withHandshakeDeadline(conn, func() error {
		// Message 2: -> e, ee, se
		msg2, cs1, cs2, err := hs.WriteMessage(nil, nil)
		if err != nil {
			return fmt.Errorf("%w: write msg2: %w", ErrHandshakeFailed, err)
		}
		if err := writeFrame(conn, msg2); err != nil {
			return fmt.Errorf("%w: send msg2: %w", ErrHandshakeFailed, err)
		}
		// cs1 = initiator->responder (server decrypt), cs2 = responder->initiator (server encrypt)
		decryptor, encryptor = cs1, cs2
		return nil
	}); err != nil {
		return nil, err
	}

	clearDeadline(conn)

	var remoteStatic [32]byte
	copy(remoteStatic[:], hs.PeerStatic())
	return newTunnel(conn, encryptor, decryptor, remoteStatic), nil
}

// InnerHandshake performs the initiator side of the *inner* Noise_XX
// handshake a visit-client layers on top of a reverse substream (§4.7
// point 5, §9). Unlike the outer IK tunnel, neither party knows the
// other's static key in advance — there is no enrollment record binding
// them to each other, only to the server — so XX's in-band static
// exchange is used instead of IK, and both ends generate a fresh
// ephemeral static keypair per substream. This buys confidentiality
// against the relaying server, which never participates in this
// handshake; it does not authenticate the two clients to each other.
func InnerHandshake(ctx context.Context, conn io.ReadWriteCloser) (*Tunnel, error) {
	static, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate ephemeral static: %w", ErrHandshakeFailed, err)
	}
	return innerHandshake(ctx, conn, static, true)
}

// InnerAccept performs the responder side of the inner Noise_XX
// handshake (§4.7 point 5); see InnerHandshake.
func InnerAccept(ctx context.Context, conn io.ReadWriteCloser) (*Tunnel, error) {
	static, err := cipherSuite.GenerateKeypair(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("%w: generate ephemeral static: %w", ErrHandshakeFailed, err)
	}
	return innerHandshake(ctx, conn, static, false)
}

func innerHandshake(ctx context.Context, conn io.ReadWriteCloser, static noise.DHKey, initiator bool) (*Tunnel, error) {
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:   cipherSuite,
		Pattern:       noise.HandshakeXX,
		Initiator:     initiator,
		StaticKeypair: static,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: init: %w", ErrHandshakeFailed, err)
	}

	var encryptor, decryptor *noise.CipherState
	var remoteStatic [32]byte

	steps := []func() error{
		func() error { // -> e
			msg, _, _, err := hs.WriteMessage(nil, nil)
			if err != nil {
				return fmt.Errorf("%w: write msg1: %w", ErrHandshakeFailed, err)
			}
			return writeFrame(conn, msg)
		},
		func() error { // <- e, ee, s, es
			msg, err := readFrame(conn)
			if err != nil {
				return timeoutWrap(err)
			}
			if _, _, _, err := hs.ReadMessage(nil, msg); err != nil {
				return fmt.Errorf("%w: read msg2: %w", ErrHandshakeFailed, err)
			}
			return nil
		},
		func() error { // -> s, se
			msg, cs1, cs2, err := hs.WriteMessage(nil, nil)
			if err != nil {
				return fmt.Errorf("%w: write msg3: %w", ErrHandshakeFailed, err)
			}
			if err := writeFrame(conn, msg); err != nil {
				return fmt.Errorf("%w: send msg3: %w", ErrHandshakeFailed, err)
			}
			encryptor, decryptor = cs1, cs2
			return nil
		},
	}
	responderSteps := []func() error{
		func() error { // <- e
			msg, err := readFrame(conn)
			if err != nil {
				return timeoutWrap(err)
			}
			if _, _, _, err := hs.ReadMessage(nil, msg); err != nil {
				return fmt.Errorf("%w: read msg1: %w", ErrHandshakeFailed, err)
			}
			return nil
		},
		func() error { // -> e, ee, s, es
			msg, _, _, err := hs.WriteMessage(nil, nil)
			if err != nil {
				return fmt.Errorf("%w: write msg2: %w", ErrHandshakeFailed, err)
			}
			return writeFrame(conn, msg)
		},
		func() error { // <- s, se
			msg, err := readFrame(conn)
			if err != nil {
				return timeoutWrap(err)
			}
			_, cs1, cs2, err := hs.ReadMessage(nil, msg)
			if err != nil {
				return fmt.Errorf("%w: read msg3: %w", ErrHandshakeFailed, err)
			}
			// cs1 = initiator->responder (decrypt here), cs2 = responder->initiator (encrypt here)
			decryptor, encryptor = cs1, cs2
			return nil
		},
	}

	if !initiator {
		steps = responderSteps
	}
	for _, step := range steps {
		if err := withHandshakeDeadline(conn, step); err != nil {
			return nil, err
		}
	}

	clearDeadline(conn)
	copy(remoteStatic[:], hs.PeerStatic())
	return newTunnel(conn, encryptor, decryptor, remoteStatic), nil
}

func withHandshakeDeadline(conn io.ReadWriteCloser, fn func() error) error {
	if dl, ok := conn.(deadliner); ok {
		if err := dl.SetReadDeadline(time.Now().Add(DefaultHandshakeTimeout)); err != nil {
			return fmt.Errorf("%w: set deadline: %w", ErrHandshakeFailed, err)
		}
	}
	return fn()
}

func clearDeadline(conn io.ReadWriteCloser) {
	if dl, ok := conn.(deadliner); ok {
		dl.SetReadDeadline(time.Time{})
	}
}

func timeoutWrap(err error) error {
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %w", ErrHandshakeTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
}

// writeFrame writes a u16-length-prefixed raw handshake message.
func writeFrame(w io.Writer, data []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readFrame reads a u16-length-prefixed raw handshake message.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

// Tunnel is a secured byte stream after a completed Noise handshake (the
// outer Noise_IK tunnel or an inner Noise_XX one). Writes fragment application data into frames of at
// most NoiseMaxPayload bytes, each independently sealed with a strictly
// increasing nonce per direction (§4.3).
type Tunnel struct {
	conn io.ReadWriteCloser

	remoteStatic [32]byte

	encryptor *noise.CipherState
	decryptor *noise.CipherState

	writeMu sync.Mutex // serializes writes: CipherState nonces are sequential

	mu        sync.Mutex
	readBuf   []byte
	closed    bool
	closeOnce sync.Once
	closeErr  error
}

func newTunnel(conn io.ReadWriteCloser, encryptor, decryptor *noise.CipherState, remoteStatic [32]byte) *Tunnel {
	return &Tunnel{
		conn:         conn,
		remoteStatic: remoteStatic,
		encryptor:    encryptor,
		decryptor:    decryptor,
	}
}

// RemoteStatic returns the peer's long-term Curve25519 public key
// extracted during the handshake.
func (t *Tunnel) RemoteStatic() [32]byte { return t.remoteStatic }

// Write encrypts and writes p, fragmenting into NoiseMaxPayload-sized
// frames as needed.
func (t *Tunnel) Write(p []byte) (int, error) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return 0, net.ErrClosed
	}

	written := 0
	for len(p) > 0 {
		chunk := p
		if len(chunk) > NoiseMaxPayload {
			chunk = chunk[:NoiseMaxPayload]
		}
		if _, err := t.writeFragment(chunk); err != nil {
			return written, err
		}
		written += len(chunk)
		p = p[len(chunk):]
	}
	return written, nil
}

func (t *Tunnel) writeFragment(p []byte) (int, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	buf := acquireBuffer(len(p) + noiseTagSize + 2)
	defer releaseBuffer(buf)

	buf.B = buf.B[:2]
	var err error
	buf.B, err = t.encryptor.Encrypt(buf.B, nil, p)
	if err != nil {
		return 0, fmt.Errorf("noise encrypt: %w", err)
	}
	binary.BigEndian.PutUint16(buf.B[:2], uint16(len(buf.B)-2))

	if _, err := t.conn.Write(buf.B); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Read decrypts and returns the next application frame into p, buffering
// any excess for subsequent reads.
func (t *Tunnel) Read(p []byte) (int, error) {
	t.mu.Lock()
	if len(t.readBuf) > 0 {
		n := copy(p, t.readBuf)
		t.readBuf = t.readBuf[n:]
		t.mu.Unlock()
		return n, nil
	}
	t.mu.Unlock()

	var lenBuf [2]byte
	if _, err := io.ReadFull(t.conn, lenBuf[:]); err != nil {
		return 0, err
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	if int(n) < noiseTagSize {
		return 0, ErrDecryptFailed
	}

	cipher := make([]byte, n)
	if _, err := io.ReadFull(t.conn, cipher); err != nil {
		return 0, err
	}

	// A replayed or out-of-order frame fails here too: CipherState tracks
	// the expected nonce internally and folds a mismatch into the same
	// AEAD tag failure as corrupted ciphertext.
	plain, err := t.decryptor.Decrypt(cipher[:0], nil, cipher)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrDecryptFailed, err)
	}

	read := copy(p, plain)
	if read < len(plain) {
		t.mu.Lock()
		t.readBuf = append(t.readBuf[:0], plain[read:]...)
		t.mu.Unlock()
	}
	return read, nil
}

// Close closes the underlying connection; safe to call more than once.
func (t *Tunnel) Close() error {
	t.closeOnce.Do(func() {
		t.mu.Lock()
		t.closed = true
		t.mu.Unlock()
		t.closeErr = t.conn.Close()
	})
	return t.closeErr
}

// SetDeadline forwards to the underlying connection if it supports deadlines.
func (t *Tunnel) SetDeadline(tm time.Time) error {
	if c, ok := t.conn.(interface{ SetDeadline(time.Time) error }); ok {
		return c.SetDeadline(tm)
	}
	return nil
}

// SetReadDeadline forwards to the underlying connection if it supports deadlines.
func (t *Tunnel) SetReadDeadline(tm time.Time) error {
	if c, ok := t.conn.(interface{ SetReadDeadline(time.Time) error }); ok {
		return c.SetReadDeadline(tm)
	}
	return nil
}

// SetWriteDeadline forwards to the underlying connection if it supports deadlines.
func (t *Tunnel) SetWriteDeadline(tm time.Time) error {
	if c, ok := t.conn.(interface{ SetWriteDeadline(time.Time) error }); ok {
		return c.SetWriteDeadline(tm)
	}
	return nil
}

// Package filehash implements the reverse-register digest challenge of
// §4.5: before a server installs a register-client's mux session, it
// asks the client to declare its binary's digest and compares it against
// the enrollment's expected hash.
package filehash

import (
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrMismatch indicates a register-client's declared file digest does
// not match the digest enrolled for it (§4.4, §4.7).
var ErrMismatch = errors.New("file hash mismatch")

const (
	skip    byte = 0
	declare byte = 1
)

// Challenge asks a freshly-registered reverse client to declare its
// binary's digest and compares it against want. A nil want skips the
// exchange entirely: hash pinning is opt-in per enrollment (§9).
//
// The exchange is a single byte ("declare" or "skip") followed, only in
// the declare case, by a u16-length-prefixed digest. It rides inside the
// already-authenticated outer tunnel, so it needs no framing beyond what
// io.ReadFull/io.Writer already give it.
func Challenge(rw io.ReadWriter, want []byte) error {
	if len(want) == 0 {
		_, err := rw.Write([]byte{skip})
		return err
	}
	if _, err := rw.Write([]byte{declare}); err != nil {
		return err
	}

	var lenBuf [2]byte
	if _, err := io.ReadFull(rw, lenBuf[:]); err != nil {
		return fmt.Errorf("read hash length: %w", err)
	}
	n := binary.BigEndian.Uint16(lenBuf[:])
	got := make([]byte, n)
	if _, err := io.ReadFull(rw, got); err != nil {
		return fmt.Errorf("read hash: %w", err)
	}

	if len(got) != len(want) || subtle.ConstantTimeCompare(got, want) != 1 {
		return ErrMismatch
	}
	return nil
}

// Declare answers a server's hash challenge from the register-client
// side: it reads the one-byte prompt and, if asked, sends digest.
func Declare(rw io.ReadWriter, digest []byte) error {
	var prompt [1]byte
	if _, err := io.ReadFull(rw, prompt[:]); err != nil {
		return fmt.Errorf("read hash prompt: %w", err)
	}
	if prompt[0] == skip {
		return nil
	}

	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(digest)))
	if _, err := rw.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := rw.Write(digest)
	return err
}

package clientrt

import (
	"context"
	"io"

	"github.com/portguard/portguard/internal/pgcrypto"
)

// innerHandshakeVisitor performs the visit-client's side of the §4.7
// point 5 inner Noise_XX handshake, as initiator, directly on top of the
// already-authenticated outer tunnel.
func innerHandshakeVisitor(ctx context.Context, outer io.ReadWriteCloser) (*pgcrypto.Tunnel, error) {
	return pgcrypto.InnerHandshake(ctx, outer)
}

// innerHandshakeRegister performs the register-client's side of the
// inner handshake, as responder, on a freshly-opened mux substream
// (§4.8 point 2).
func innerHandshakeRegister(ctx context.Context, substream io.ReadWriteCloser) (*pgcrypto.Tunnel, error) {
	return pgcrypto.InnerAccept(ctx, substream)
}

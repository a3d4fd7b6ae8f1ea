// Package bufpool provides reusable splice buffers for io.CopyBuffer to
// reduce per-copy allocations under high connection concurrency.
package bufpool

import "sync"

// Buffer64K hands out reusable 64KB buffers for the forwarding engine's
// bidirectional splice loop (§4.6 suggests >= 16 KiB).
var Buffer64K = sync.Pool{
	New: func() any {
		b := make([]byte, 64*1024)
		return &b
	},
}

// Get retrieves a pooled buffer.
func Get() *[]byte {
	return Buffer64K.Get().(*[]byte)
}

// Put returns a buffer to the pool.
func Put(b *[]byte) {
	Buffer64K.Put(b)
}

// Package transport implements the connection pool of spec.md §4.B:
// inbound TCP/UDP listeners, an outbound per-peer stream pool bounded
// by a connection limit, and the authenticated-channel handshake. The
// tiered buffer pool below mirrors the teacher's pkg/bufpool, reused
// here to avoid per-message allocation on the hot path.
package transport

import "sync"

// tier sizes mirror the teacher's bufpool tiers, chosen to cover the
// header (40 bytes) plus typical message bodies without over-allocating
// for small fixed-size notifications.
var tierSizes = []int{64, 512, 4096, 65536}

type bufPool struct {
	pools []sync.Pool
}

func newBufPool() *bufPool {
	bp := &bufPool{pools: make([]sync.Pool, len(tierSizes))}
	for i, size := range tierSizes {
		size := size
		bp.pools[i].New = func() any {
			b := make([]byte, size)
			return &b
		}
	}
	return bp
}

// Get returns a buffer of at least n bytes, sliced to exactly n.
func (bp *bufPool) Get(n int) []byte {
	for i, size := range tierSizes {
		if n <= size {
			b := bp.pools[i].Get().(*[]byte)
			return (*b)[:n]
		}
	}
	return make([]byte, n)
}

// Put returns a buffer obtained from Get for reuse. Buffers larger than
// the biggest tier are simply dropped.
func (bp *bufPool) Put(buf []byte) {
	c := cap(buf)
	for i, size := range tierSizes {
		if c == size {
			full := buf[:size]
			bp.pools[i].Put(&full)
			return
		}
	}
}

// Shared is the process-wide buffer pool instance.
var Shared = newBufPool()

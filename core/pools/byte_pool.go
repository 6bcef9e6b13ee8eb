package pools

import (
	"sync"
	"sync/atomic"
)

// BytePool is a multi-tiered byte slice pool for different size classes.
// It backs every request buffer and counts buffers handed out and returned,
// so a leaked or doubly released buffer shows up in Stats.
type BytePool struct {
	pools []*sync.Pool
	sizes []int

	gets      atomic.Uint64
	puts      atomic.Uint64
	oversized atomic.Uint64
}

// Buffer sizes tuned for request heads: the first tier covers the default
// 4000 byte reservation, larger tiers absorb growth.
var defaultSizes = []int{
	512,
	4096,
	16384,
	65536,
}

// NewBytePool creates a new byte pool with standard size tiers
func NewBytePool() *BytePool {
	return NewBytePoolWithSizes(defaultSizes)
}

// NewBytePoolWithSizes creates a byte pool with custom size tiers
func NewBytePoolWithSizes(sizes []int) *BytePool {
	bp := &BytePool{
		pools: make([]*sync.Pool, len(sizes)),
		sizes: sizes,
	}

	for i, size := range sizes {
		sz := size
		bp.pools[i] = &sync.Pool{
			New: func() any {
				buf := make([]byte, sz)
				return &buf
			},
		}
	}

	return bp
}

// Get returns a byte slice of length size from the smallest tier that fits
func (bp *BytePool) Get(size int) []byte {
	bp.gets.Add(1)
	for i, poolSize := range bp.sizes {
		if size <= poolSize {
			bufPtr := bp.pools[i].Get().(*[]byte)
			buf := *bufPtr
			return buf[:size]
		}
	}

	// Size too large, allocate directly
	bp.oversized.Add(1)
	return make([]byte, size)
}

// Put returns a byte slice to the pool. Slices that did not come from a tier
// are counted and left to the GC.
func (bp *BytePool) Put(buf []byte) {
	if buf == nil {
		return
	}
	bp.puts.Add(1)

	capacity := cap(buf)
	for i, poolSize := range bp.sizes {
		if capacity == poolSize {
			buf = buf[:capacity]
			bp.pools[i].Put(&buf)
			return
		}
	}
}

// BytePoolStats reports allocation counters
type BytePoolStats struct {
	Gets        uint64 `json:"gets"`
	Puts        uint64 `json:"puts"`
	Oversized   uint64 `json:"oversized"`
	Outstanding int64  `json:"outstanding"`
}

// Stats returns pool statistics
func (bp *BytePool) Stats() BytePoolStats {
	puts := bp.puts.Load()
	gets := bp.gets.Load()
	return BytePoolStats{
		Gets:        gets,
		Puts:        puts,
		Oversized:   bp.oversized.Load(),
		Outstanding: int64(gets) - int64(puts),
	}
}

// Outstanding returns the number of buffers handed out and not yet returned
func (bp *BytePool) Outstanding() int64 {
	return int64(bp.gets.Load()) - int64(bp.puts.Load())
}

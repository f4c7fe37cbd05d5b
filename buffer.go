package usbasio

import (
	"github.com/mathisloge/usb-asio/native"
)

// elementSize is the storage granularity of a control buffer. Backing
// allocations are rounded up to it so the setup header always starts on a
// naturally aligned boundary.
const elementSize = 2

// Allocator is a pluggable allocation strategy for transfer buffers.
// Implementations must be safe for concurrent use when buffers are
// constructed from multiple goroutines.
type Allocator interface {
	// Alloc returns a zeroed slice of at least n bytes.
	Alloc(n int) []byte

	// Free returns a slice previously obtained from Alloc.
	Free(b []byte)
}

// heapAllocator is the default strategy: plain make, freeing is left to
// the garbage collector.
type heapAllocator struct{}

func (heapAllocator) Alloc(n int) []byte { return make([]byte, n) }
func (heapAllocator) Free([]byte)        {}

// DefaultAllocator returns the default heap allocation strategy.
func DefaultAllocator() Allocator { return heapAllocator{} }

// PoolAllocator recycles fixed-capacity buffers through a bounded free
// list, for latency-sensitive transfer paths that arm buffers per
// operation. Requests larger than the pool's capacity fall through to the
// heap. Safe for concurrent use.
type PoolAllocator struct {
	capacity int
	free     chan []byte
}

// NewPoolAllocator creates a pool holding up to size buffers of the given
// byte capacity.
func NewPoolAllocator(capacity, size int) *PoolAllocator {
	if capacity < elementSize {
		capacity = elementSize
	}
	if size < 1 {
		size = 8
	}
	return &PoolAllocator{
		capacity: capacity,
		free:     make(chan []byte, size),
	}
}

// Alloc implements [Allocator].
func (p *PoolAllocator) Alloc(n int) []byte {
	if n > p.capacity {
		return make([]byte, n)
	}
	select {
	case b := <-p.free:
		b = b[:n]
		clear(b)
		return b
	default:
		return make([]byte, n, p.capacity)
	}
}

// Free implements [Allocator]. Buffers of the wrong size class, and any
// beyond the pool's bound, are dropped for the garbage collector.
func (p *PoolAllocator) Free(b []byte) {
	if cap(b) != p.capacity {
		return
	}
	select {
	case p.free <- b[:0]:
	default:
	}
}

// ControlBuffer holds the payload of a control transfer in a single
// contiguous allocation, immediately preceded by room for the 8-byte setup
// header. The header region is written by [Transfer.Control] when the
// transfer is armed and is never part of the payload view.
//
// The buffer must outlive any control operation armed with it; the engine
// only borrows it for the duration of one submission.
type ControlBuffer struct {
	data  []byte
	size  int
	alloc Allocator
}

// NewControlBuffer allocates a control buffer with a payload of exactly
// size bytes using the default heap allocator.
func NewControlBuffer(size int) *ControlBuffer {
	return NewControlBufferAlloc(size, DefaultAllocator())
}

// NewControlBufferAlloc allocates a control buffer with a payload of
// exactly size bytes from the given allocator. The backing storage is
// native.SetupSize + size bytes, rounded up to the storage element
// granularity.
func NewControlBufferAlloc(size int, alloc Allocator) *ControlBuffer {
	if size < 0 {
		size = 0
	}
	total := native.SetupSize + (size+elementSize-1)/elementSize*elementSize
	return &ControlBuffer{
		data:  alloc.Alloc(total),
		size:  size,
		alloc: alloc,
	}
}

// Payload returns a view of exactly the requested payload bytes, offset
// past the setup header region. The view is valid until Release.
func (b *ControlBuffer) Payload() []byte {
	return b.data[native.SetupSize : native.SetupSize+b.size]
}

// Data is a convenience alias for Payload.
func (b *ControlBuffer) Data() []byte { return b.Payload() }

// Size returns the payload size in bytes.
func (b *ControlBuffer) Size() int { return b.size }

// Release returns the backing storage to the allocator. The buffer must
// not be used afterwards, and must not back an in-flight transfer.
func (b *ControlBuffer) Release() {
	if b.data != nil {
		b.alloc.Free(b.data)
		b.data = nil
	}
}

// raw exposes the full backing storage including the setup header region.
// Only the engine's arming path uses it.
func (b *ControlBuffer) raw() []byte { return b.data }

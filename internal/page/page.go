// Package page implements a fixed-capacity slab of chunks backed by a
// single anonymous mmap: the allocation unit one level above chunk.Chunk.
// A Page hands out chunk slots from a linear high-water mark for slots that
// have never been touched, and reclaims them into an intrusive free list.
// The free list is singly linked (one next-index array with head and tail)
// and is not circular; it serves freed slots in FIFO order.
package page

import (
	"errors"
	"fmt"
	"unsafe"

	"github.com/QDeepNet/QDeep-MatrixP/internal/chunk"
	"github.com/QDeepNet/QDeep-MatrixP/internal/mmio"
)

// ErrMapFailed is wrapped into any error New returns when the backing
// mmap could not be established (out of memory, vm.max_map_count, etc).
// Callers distinguish this resource-exhaustion case from a programming
// error with errors.Is.
var ErrMapFailed = errors.New("page: mmap failed")

// Options configures a Page. The zero value is valid. It exists as an
// extension point — there are currently no tunables a caller needs to
// set, but the pool and matrix packages already thread an Options value
// through to every page they create, so adding one later (eager page-size
// probing, an alternate slot count) doesn't change any call site's shape.
type Options struct{}

// Validate reports whether the options are well-formed. Always nil today.
func (o Options) Validate() error { return nil }

// None is the free-ring sentinel meaning "no slot", mirroring the
// reference source's UINT16_MAX end-of-list marker.
const None uint16 = 0xFFFF

// Capacity is the number of chunk slots per page (P in the spec).
const Capacity = 1024

// Span is the byte length of a page's mmap, used by the pool's
// address-ordered index to bound a page's range without needing to ask
// the page object itself.
const Span = Capacity * chunk.Bytes

// Page is one fixed-size slab of Capacity chunks, backed by one mmap
// spanning Capacity*chunk.Bytes bytes. Chunk slots are recycled through the
// singly-linked FIFO free list once every slot has been served at least
// once via the high-water mark. A slot can only leave the free list at its
// head; there is no unlinking of an arbitrary slot.
type Page struct {
	mem    []byte
	slots  []chunk.Chunk
	ring   []uint16 // ring[i]: index following i in the free ring, or None
	head   uint16   // oldest free slot, None if the ring is empty
	tail   uint16   // newest free slot, None if the ring is empty
	fill   uint16   // count of slots ever served via the high-water mark
	inUse  uint16   // live accounting, for diagnostics/tests
	closed bool
}

// New allocates a page's backing store and slot bookkeeping. The mmap is
// sized exactly Capacity*chunk.Bytes; no chunk is handed out until Get or
// GetNew is called.
func New(opts Options) (*Page, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	mem, err := mmio.Mmap(Capacity * chunk.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMapFailed, err)
	}

	p := &Page{
		mem:   mem,
		slots: make([]chunk.Chunk, Capacity),
		ring:  make([]uint16, Capacity),
		head:  None,
		tail:  None,
	}
	data := unsafe.Slice((*int64)(unsafe.Pointer(&mem[0])), Capacity*chunk.Count)
	for i := range p.slots {
		p.slots[i].Data = data[i*chunk.Count : (i+1)*chunk.Count]
	}
	return p, nil
}

// Close releases the page's mmap. The page must not be used afterward.
func (p *Page) Close() error {
	if p.closed {
		return nil
	}
	p.closed = true
	return mmio.Munmap(p.mem)
}

// Full reports whether the page has no free or virgin slots left to hand
// out.
func (p *Page) Full() bool {
	return p.head == None && p.fill == Capacity
}

// InUse returns the number of slots currently checked out.
func (p *Page) InUse() uint16 { return p.inUse }

// GetNew hands out a chunk slot, drawing a virgin slot at the high-water
// mark while one remains and only then reusing a recycled slot from the
// free ring (oldest first). Returns the slot's index within the page, for
// callers (the pool) that need to address the chunk later without walking
// pointers.
func (p *Page) GetNew() (*chunk.Chunk, uint16, error) {
	if p.fill < Capacity {
		pos := p.fill
		p.fill++
		p.inUse++
		p.slots[pos].Init()
		return &p.slots[pos], pos, nil
	}
	if p.head != None {
		pos := p.head
		p.head = p.ring[pos]
		if p.head == None {
			p.tail = None
		}
		p.inUse++
		p.slots[pos].Init()
		return &p.slots[pos], pos, nil
	}
	return nil, 0, fmt.Errorf("page: full (capacity %d)", Capacity)
}

// Get returns the chunk already occupying slot pos, without touching the
// free ring or high-water mark. pos must have come from a prior GetNew on
// this page and must not currently be free.
func (p *Page) Get(pos uint16) *chunk.Chunk {
	return &p.slots[pos]
}

// Ret returns slot pos to the free ring, appending it at the tail so the
// ring serves slots in FIFO order (oldest freed chunk reused first,
// spreading wear evenly across the high-water-filled region).
func (p *Page) Ret(pos uint16) {
	p.ring[pos] = None
	if p.tail == None {
		p.head = pos
		p.tail = pos
	} else {
		p.ring[p.tail] = pos
		p.tail = pos
	}
	p.inUse--
}

// Addr returns the page's base address, used by the pool's address-ordered
// index to place pages and to test whether a given chunk pointer falls
// inside this page's span.
func (p *Page) Addr() uintptr {
	return uintptr(unsafe.Pointer(&p.mem[0]))
}

// Owns reports whether c's backing storage lies within this page's mmap
// span, and if so, returns its slot index.
func (p *Page) Owns(c *chunk.Chunk) (uint16, bool) {
	if len(c.Data) == 0 {
		return 0, false
	}
	addr := uintptr(unsafe.Pointer(&c.Data[0]))
	base := p.Addr()
	end := base + uintptr(len(p.mem))
	if addr < base || addr >= end {
		return 0, false
	}
	pos := (addr - base) / uintptr(chunk.Bytes)
	return uint16(pos), true
}

// Package chunk implements the fixed-size 2D tile that is the unit of
// storage and transfer for the matrix engine: a W×W square of int64
// elements, plus the compact metadata (effective size, global offset)
// needed to place it inside a matrix and a page.
package chunk

import (
	"unsafe"

	"github.com/QDeepNet/QDeep-MatrixP/internal/mmio"
)

const (
	// Pow is the power-of-two exponent for chunk dimensions. Width = 1<<Pow.
	Pow = 8
	// Width is the physical width/height of a chunk, in elements.
	Width = 1 << Pow
	// Count is the total number of elements in a chunk (Width*Width).
	Count = Width * Width
	// ElemBytes is the size in bytes of one payload element.
	ElemBytes = 8
	// RowBytes is the byte stride between rows in a chunk's native layout.
	RowBytes = Width * ElemBytes
	// Bytes is the total payload size of one chunk, in bytes.
	Bytes = Count * ElemBytes
)

// color is the red/black tree node color used by the matrix spatial index.
// Chunk carries its own left/right/color fields because each chunk belongs
// to exactly one matrix's tree at a time — there is no aliasing hazard to
// guard against by externalizing the links, unlike the pool's page tree
// (see internal/pool), which indexes many pages shared across call sites.
type color uint8

const (
	black color = iota
	red
)

// Offset is a chunk's global (X, Y) position packed into one 64-bit word,
// Y in the high half, so lexicographic integer comparison orders chunks
// row-major. Mirrors mp_coffs from original_source/mp_chunk.h.
type Offset uint64

// Pack combines global chunk coordinates (x, y) into a comparable Offset.
func Pack(x, y uint32) Offset {
	return Offset(uint64(y)<<32 | uint64(x))
}

// X returns the packed offset's column coordinate.
func (o Offset) X() uint32 { return uint32(o) }

// Y returns the packed offset's row coordinate.
func (o Offset) Y() uint32 { return uint32(o >> 32) }

// Compare orders two offsets: -1 if a<b, 0 if equal, +1 if a>b. Lexicographic
// by row then column, same as mp_coffs_cmp's sgn(a.pos - b.pos).
func Compare(a, b Offset) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// packedSize stores a chunk's effective (width, height) as (w-1, h-1) in
// two bytes, the canonical "+1" encoding from spec Open Question #1 (the
// "256 - stored" variant exists in the reference source but is not used
// here).
type packedSize struct {
	w, h uint8
}

func packSize(w, h uint16) packedSize {
	return packedSize{w: uint8(w - 1), h: uint8(h - 1)}
}

func (p packedSize) unpack() (w, h uint16) {
	return uint16(p.w) + 1, uint16(p.h) + 1
}

// Chunk is one W×W tile: its payload storage, effective size, and global
// offset, plus the red/black tree linkage used when it is indexed by a
// matrix. Chunk never owns its payload memory — Data aliases a slice
// carved out of a Page's single mmap'd arena.
type Chunk struct {
	Data []int64 // len == Count always, regardless of effective size

	size   packedSize
	offset Offset

	left, right, parent *Chunk
	clr                  color
}

// Init resets size, offset, and tree linkage. Data is left untouched — it
// stays bound to whatever slab position a Page assigned it.
func (c *Chunk) Init() {
	c.size = packedSize{}
	c.offset = 0
	c.left, c.right, c.parent = nil, nil, nil
	c.clr = black
}

// The accessors below expose Chunk's intrusive tree-linkage fields to the
// matrix package's spatial index, the same way container/list exposes
// Next()/Prev() instead of making callers reach into unexported fields.

// Left returns the chunk's left child in its matrix's spatial index.
func (c *Chunk) Left() *Chunk { return c.left }

// SetLeft sets the chunk's left child.
func (c *Chunk) SetLeft(n *Chunk) { c.left = n }

// Right returns the chunk's right child in its matrix's spatial index.
func (c *Chunk) Right() *Chunk { return c.right }

// SetRight sets the chunk's right child.
func (c *Chunk) SetRight(n *Chunk) { c.right = n }

// Parent returns the chunk's parent in its matrix's spatial index.
func (c *Chunk) Parent() *Chunk { return c.parent }

// SetParent sets the chunk's parent.
func (c *Chunk) SetParent(n *Chunk) { c.parent = n }

// IsRed reports the chunk's red/black tree color.
func (c *Chunk) IsRed() bool { return c.clr == red }

// SetRed sets the chunk's red/black tree color.
func (c *Chunk) SetRed(v bool) {
	if v {
		c.clr = red
	} else {
		c.clr = black
	}
}

// SetSize records the chunk's effective (width, height), each in [1, Width].
func (c *Chunk) SetSize(w, h uint16) {
	c.size = packSize(w, h)
}

// Size returns the chunk's effective (width, height).
func (c *Chunk) Size() (w, h uint16) {
	return c.size.unpack()
}

// Offset returns the chunk's global packed offset.
func (c *Chunk) Offset() Offset { return c.offset }

// SetOffset records the chunk's global position.
func (c *Chunk) SetOffset(o Offset) { c.offset = o }

// bytes reinterprets the chunk's int64 payload as a byte slice in native
// byte order, for row-strided I/O. Safe because Data always backs exactly
// Count live int64 elements for the lifetime of the chunk (it's a sub-slice
// of a Page's mmap'd arena, never reallocated).
func bytes(data []int64) []byte {
	if len(data) == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&data[0])), len(data)*ElemBytes)
}

// Recv reads a chunk's effective payload from fd, row by row: only the
// first w elements of each of the first h rows are populated from the
// stream, the rest of Data is left as-is. w and h come from a prior header
// read (Size), not from the chunk itself, so callers can decode a header
// and fill the chunk in one pass.
//
// The loop bound is y < h, not y <= h: the reference source's send/recv
// loop over-ran the declared height by one row, reading/writing Width
// elements past the last real row on every chunk. Width rows is the full
// physical chunk, so the bug only manifested as silently shifting in
// whatever bytes followed the chunk's storage; fixed here.
func (c *Chunk) Recv(fd int, w, h uint16) error {
	row := bytes(c.Data)
	for y := uint16(0); y < h; y++ {
		start := int(y) * RowBytes
		want := int(w) * ElemBytes
		if err := mmio.ReadFull(fd, row[start:start+want]); err != nil {
			return err
		}
	}
	return nil
}

// Send writes a chunk's effective payload (w columns of each of the first
// h rows) to fd. See Recv for the loop-bound note.
func (c *Chunk) Send(fd int, w, h uint16) error {
	row := bytes(c.Data)
	for y := uint16(0); y < h; y++ {
		start := int(y) * RowBytes
		want := int(w) * ElemBytes
		if err := mmio.WriteFull(fd, row[start:start+want]); err != nil {
			return err
		}
	}
	return nil
}

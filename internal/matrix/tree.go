// Package matrix implements the sparse matrix spatial index: a
// red-black tree of chunk.Chunk keyed by global offset, plus the
// file/stream transfer operations that move the matrix's dense payload
// between its backing file and a stream.
package matrix

import (
	"fmt"

	"github.com/QDeepNet/QDeep-MatrixP/internal/chunk"
)

// maxPathDepth bounds the path stack used to descend the tree during
// lookup, insert, and remove: a red-black tree's height never exceeds
// 2*log2(n+1), so 32 levels comfortably covers every tree this engine can
// build without a chunk count that would itself be impractical to hold in
// memory.
const maxPathDepth = 32

type pathStack struct {
	nodes [maxPathDepth]*chunk.Chunk
	n     int
}

// push records one more level of descent. Exceeding maxPathDepth means the
// tree's height outgrew what a red-black tree can produce for any chunk
// count this engine could plausibly hold in memory — a programming error,
// not a runtime condition a caller can recover from, so it panics rather
// than returning an error.
func (s *pathStack) push(n *chunk.Chunk) {
	if s.n >= maxPathDepth {
		panic(fmt.Sprintf("matrix: tree exceeds the %d-level path stack", maxPathDepth))
	}
	s.nodes[s.n] = n
	s.n++
}

// Tree is an offset-ordered red-black tree of chunks with a single-entry
// lookup cache for the common case of repeated access to the
// most-recently-touched chunk.
type Tree struct {
	root  *chunk.Chunk
	cache *chunk.Chunk
	count int
}

// Len returns the number of chunks currently indexed.
func (t *Tree) Len() int { return t.count }

// Find returns the chunk at the given offset, or nil if none is indexed
// there. A hit against the single-entry cache skips the tree walk
// entirely.
func (t *Tree) Find(offset chunk.Offset) *chunk.Chunk {
	if t.cache != nil && t.cache.Offset() == offset {
		return t.cache
	}

	var stack pathStack
	n := t.root
	for n != nil {
		switch chunk.Compare(offset, n.Offset()) {
		case 0:
			t.cache = n
			return n
		case -1:
			stack.push(n)
			n = n.Left()
		default:
			stack.push(n)
			n = n.Right()
		}
	}
	return nil
}

// Insert adds c to the tree under its own Offset(). Inserting at an offset
// already occupied is a caller bug — every call site checks Find first —
// so it panics rather than returning an error.
func (t *Tree) Insert(c *chunk.Chunk) {
	c.SetLeft(nil)
	c.SetRight(nil)
	c.SetParent(nil)
	c.SetRed(true)

	if t.root == nil {
		c.SetRed(false)
		t.root = c
		t.count++
		t.cache = c
		return
	}

	var stack pathStack
	n := t.root
	for n != nil {
		stack.push(n)
		switch chunk.Compare(c.Offset(), n.Offset()) {
		case 0:
			panic(fmt.Sprintf("matrix: a chunk already exists at offset %#x", uint64(c.Offset())))
		case -1:
			if n.Left() == nil {
				n.SetLeft(c)
				c.SetParent(n)
				n = nil
			} else {
				n = n.Left()
			}
		default:
			if n.Right() == nil {
				n.SetRight(c)
				c.SetParent(n)
				n = nil
			} else {
				n = n.Right()
			}
		}
	}

	t.count++
	t.cache = c
	t.insertFixup(c)
}

// Remove deletes and returns the chunk at offset. Removing an offset that
// is not indexed is a caller bug — Matrix.Remove checks Find first and
// only calls this once presence is confirmed — so it panics rather than
// returning nil.
func (t *Tree) Remove(offset chunk.Offset) *chunk.Chunk {
	z := t.Find(offset)
	if z == nil {
		panic(fmt.Sprintf("matrix: no chunk indexed at offset %#x", uint64(offset)))
	}
	if t.cache == z {
		t.cache = nil
	}
	t.treeRemove(z)
	t.count--
	z.SetLeft(nil)
	z.SetRight(nil)
	z.SetParent(nil)
	return z
}

func isRed(n *chunk.Chunk) bool { return n != nil && n.IsRed() }

func (t *Tree) rotateLeft(x *chunk.Chunk) {
	y := x.Right()
	x.SetRight(y.Left())
	if y.Left() != nil {
		y.Left().SetParent(x)
	}
	y.SetParent(x.Parent())
	switch {
	case x.Parent() == nil:
		t.root = y
	case x == x.Parent().Left():
		x.Parent().SetLeft(y)
	default:
		x.Parent().SetRight(y)
	}
	y.SetLeft(x)
	x.SetParent(y)
}

func (t *Tree) rotateRight(x *chunk.Chunk) {
	y := x.Left()
	x.SetLeft(y.Right())
	if y.Right() != nil {
		y.Right().SetParent(x)
	}
	y.SetParent(x.Parent())
	switch {
	case x.Parent() == nil:
		t.root = y
	case x == x.Parent().Right():
		x.Parent().SetRight(y)
	default:
		x.Parent().SetLeft(y)
	}
	y.SetRight(x)
	x.SetParent(y)
}

func (t *Tree) insertFixup(z *chunk.Chunk) {
	for z.Parent() != nil && z.Parent().IsRed() {
		parent := z.Parent()
		gp := parent.Parent()
		if parent == gp.Left() {
			uncle := gp.Right()
			if isRed(uncle) {
				parent.SetRed(false)
				uncle.SetRed(false)
				gp.SetRed(true)
				z = gp
				continue
			}
			if z == parent.Right() {
				z = parent
				t.rotateLeft(z)
				parent = z.Parent()
			}
			parent.SetRed(false)
			gp.SetRed(true)
			t.rotateRight(gp)
		} else {
			uncle := gp.Left()
			if isRed(uncle) {
				parent.SetRed(false)
				uncle.SetRed(false)
				gp.SetRed(true)
				z = gp
				continue
			}
			if z == parent.Left() {
				z = parent
				t.rotateRight(z)
				parent = z.Parent()
			}
			parent.SetRed(false)
			gp.SetRed(true)
			t.rotateLeft(gp)
		}
	}
	t.root.SetRed(false)
}

func (t *Tree) transplant(u, v *chunk.Chunk) {
	switch {
	case u.Parent() == nil:
		t.root = v
	case u == u.Parent().Left():
		u.Parent().SetLeft(v)
	default:
		u.Parent().SetRight(v)
	}
	if v != nil {
		v.SetParent(u.Parent())
	}
}

func treeMinimum(n *chunk.Chunk) *chunk.Chunk {
	for n.Left() != nil {
		n = n.Left()
	}
	return n
}

func (t *Tree) treeRemove(z *chunk.Chunk) {
	y := z
	yWasRed := y.IsRed()
	var x, xParent *chunk.Chunk

	switch {
	case z.Left() == nil:
		x = z.Right()
		xParent = z.Parent()
		t.transplant(z, z.Right())
	case z.Right() == nil:
		x = z.Left()
		xParent = z.Parent()
		t.transplant(z, z.Left())
	default:
		y = treeMinimum(z.Right())
		yWasRed = y.IsRed()
		x = y.Right()
		if y.Parent() == z {
			xParent = y
		} else {
			xParent = y.Parent()
			t.transplant(y, y.Right())
			y.SetRight(z.Right())
			y.Right().SetParent(y)
		}
		t.transplant(z, y)
		y.SetLeft(z.Left())
		y.Left().SetParent(y)
		y.SetRed(z.IsRed())
	}

	if !yWasRed {
		t.removeFixup(x, xParent)
	}
}

func (t *Tree) removeFixup(x, parent *chunk.Chunk) {
	for x != t.root && !isRed(x) && parent != nil {
		if x == parent.Left() {
			sib := parent.Right()
			if isRed(sib) {
				sib.SetRed(false)
				parent.SetRed(true)
				t.rotateLeft(parent)
				sib = parent.Right()
			}
			if !isRed(sib.Left()) && !isRed(sib.Right()) {
				sib.SetRed(true)
				x = parent
				parent = x.Parent()
				continue
			}
			if !isRed(sib.Right()) {
				if sib.Left() != nil {
					sib.Left().SetRed(false)
				}
				sib.SetRed(true)
				t.rotateRight(sib)
				sib = parent.Right()
			}
			sib.SetRed(parent.IsRed())
			parent.SetRed(false)
			if sib.Right() != nil {
				sib.Right().SetRed(false)
			}
			t.rotateLeft(parent)
			x = t.root
			parent = nil
		} else {
			sib := parent.Left()
			if isRed(sib) {
				sib.SetRed(false)
				parent.SetRed(true)
				t.rotateRight(parent)
				sib = parent.Left()
			}
			if !isRed(sib.Right()) && !isRed(sib.Left()) {
				sib.SetRed(true)
				x = parent
				parent = x.Parent()
				continue
			}
			if !isRed(sib.Left()) {
				if sib.Right() != nil {
					sib.Right().SetRed(false)
				}
				sib.SetRed(true)
				t.rotateLeft(sib)
				sib = parent.Left()
			}
			sib.SetRed(parent.IsRed())
			parent.SetRed(false)
			if sib.Left() != nil {
				sib.Left().SetRed(false)
			}
			t.rotateRight(parent)
			x = t.root
			parent = nil
		}
	}
	if x != nil {
		x.SetRed(false)
	}
}

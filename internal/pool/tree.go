package pool

import (
	"unsafe"

	"github.com/QDeepNet/QDeep-MatrixP/internal/chunk"
	"github.com/QDeepNet/QDeep-MatrixP/internal/page"
)

// This file implements the pool's address-ordered red-black tree: a
// standard parent-pointer insert/delete with no path stack (the matrix's
// offset tree also rebalances through parent pointers but additionally
// bounds its descent with an explicit path stack — see
// internal/matrix/tree.go; the pool's tree is small and low-churn enough
// that no depth bound is kept).

func nodeColor(n *pageNode) color {
	if n == nil {
		return black
	}
	return n.clr
}

func (p *Pool) rotateLeft(x *pageNode) {
	y := x.right
	x.right = y.left
	if y.left != nil {
		y.left.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		p.root = y
	} else if x == x.parent.left {
		x.parent.left = y
	} else {
		x.parent.right = y
	}
	y.left = x
	x.parent = y
}

func (p *Pool) rotateRight(x *pageNode) {
	y := x.left
	x.left = y.right
	if y.right != nil {
		y.right.parent = x
	}
	y.parent = x.parent
	if x.parent == nil {
		p.root = y
	} else if x == x.parent.right {
		x.parent.right = y
	} else {
		x.parent.left = y
	}
	y.right = x
	x.parent = y
}

func (p *Pool) treeInsert(z *pageNode) {
	var parent *pageNode
	cur := p.root
	for cur != nil {
		parent = cur
		if z.addr < cur.addr {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	z.parent = parent
	z.left, z.right = nil, nil
	z.clr = red
	switch {
	case parent == nil:
		p.root = z
	case z.addr < parent.addr:
		parent.left = z
	default:
		parent.right = z
	}
	p.insertFixup(z)
}

func (p *Pool) insertFixup(z *pageNode) {
	for z.parent != nil && z.parent.clr == red {
		gp := z.parent.parent
		if z.parent == gp.left {
			uncle := gp.right
			if nodeColor(uncle) == red {
				z.parent.clr = black
				uncle.clr = black
				gp.clr = red
				z = gp
				continue
			}
			if z == z.parent.right {
				z = z.parent
				p.rotateLeft(z)
			}
			z.parent.clr = black
			gp.clr = red
			p.rotateRight(gp)
		} else {
			uncle := gp.left
			if nodeColor(uncle) == red {
				z.parent.clr = black
				uncle.clr = black
				gp.clr = red
				z = gp
				continue
			}
			if z == z.parent.left {
				z = z.parent
				p.rotateRight(z)
			}
			z.parent.clr = black
			gp.clr = red
			p.rotateLeft(gp)
		}
	}
	p.root.clr = black
}

// findOwner walks the address tree to find the page whose mmap span
// contains c's backing storage. Corrected against the reference source,
// whose equivalent lookup started its descent at the list head instead of
// the tree root — harmless only by coincidence when the two happened to
// be the same node, and wrong otherwise. This always starts at the root.
func (p *Pool) findOwner(c *chunk.Chunk) *pageNode {
	if len(c.Data) == 0 {
		return nil
	}
	addr := uintptr(unsafe.Pointer(&c.Data[0]))
	n := p.root
	for n != nil {
		switch {
		case addr < n.addr:
			n = n.left
		case addr >= n.addr+page.Span:
			n = n.right
		default:
			return n
		}
	}
	return nil
}

func (p *Pool) transplant(u, v *pageNode) {
	switch {
	case u.parent == nil:
		p.root = v
	case u == u.parent.left:
		u.parent.left = v
	default:
		u.parent.right = v
	}
	if v != nil {
		v.parent = u.parent
	}
}

func treeMinimum(n *pageNode) *pageNode {
	for n.left != nil {
		n = n.left
	}
	return n
}

func (p *Pool) treeRemove(z *pageNode) {
	y := z
	yOriginalColor := y.clr
	var x, xParent *pageNode

	if z.left == nil {
		x = z.right
		xParent = z.parent
		p.transplant(z, z.right)
	} else if z.right == nil {
		x = z.left
		xParent = z.parent
		p.transplant(z, z.left)
	} else {
		y = treeMinimum(z.right)
		yOriginalColor = y.clr
		x = y.right
		if y.parent == z {
			xParent = y
		} else {
			xParent = y.parent
			p.transplant(y, y.right)
			y.right = z.right
			y.right.parent = y
		}
		p.transplant(z, y)
		y.left = z.left
		y.left.parent = y
		y.clr = z.clr
	}

	if yOriginalColor == black {
		p.removeFixup(x, xParent)
	}
}

func (p *Pool) removeFixup(x, parent *pageNode) {
	for x != p.root && nodeColor(x) == black {
		if parent == nil {
			break
		}
		if x == parent.left {
			sib := parent.right
			if nodeColor(sib) == red {
				sib.clr = black
				parent.clr = red
				p.rotateLeft(parent)
				sib = parent.right
			}
			if nodeColor(sib.left) == black && nodeColor(sib.right) == black {
				if sib != nil {
					sib.clr = red
				}
				x = parent
				parent = x.parent
				continue
			}
			if nodeColor(sib.right) == black {
				if sib.left != nil {
					sib.left.clr = black
				}
				sib.clr = red
				p.rotateRight(sib)
				sib = parent.right
			}
			sib.clr = parent.clr
			parent.clr = black
			if sib.right != nil {
				sib.right.clr = black
			}
			p.rotateLeft(parent)
			x = p.root
			parent = nil
		} else {
			sib := parent.left
			if nodeColor(sib) == red {
				sib.clr = black
				parent.clr = red
				p.rotateRight(parent)
				sib = parent.left
			}
			if nodeColor(sib.right) == black && nodeColor(sib.left) == black {
				if sib != nil {
					sib.clr = red
				}
				x = parent
				parent = x.parent
				continue
			}
			if nodeColor(sib.left) == black {
				if sib.right != nil {
					sib.right.clr = black
				}
				sib.clr = red
				p.rotateLeft(sib)
				sib = parent.left
			}
			sib.clr = parent.clr
			parent.clr = black
			if sib.left != nil {
				sib.left.clr = black
			}
			p.rotateRight(parent)
			x = p.root
			parent = nil
		}
	}
	if x != nil {
		x.clr = black
	}
}

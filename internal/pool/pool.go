// Package pool manages a growable collection of page.Page slabs behind two
// synchronized indices: a circular doubly-linked list used to rotate
// allocation toward pages with free capacity, and an address-ordered
// red-black tree used to map a chunk pointer back to the page that owns
// it in O(log N).
package pool

import (
	"errors"
	"fmt"

	"github.com/QDeepNet/QDeep-MatrixP/internal/chunk"
	"github.com/QDeepNet/QDeep-MatrixP/internal/page"
)

// ErrExhausted is wrapped into the error Get returns once the pool has
// grown to Options.MaxPages and every existing page is full. Callers
// distinguish this from other Get failures with errors.Is.
var ErrExhausted = errors.New("pool: exhausted")

// Logger receives lifecycle events (page creation, page eviction) as they
// happen. The default is a no-op; a host process can set Options.Log to
// wire these into its own logging.
type Logger func(event string, fields ...any)

func noopLogger(string, ...any) {}

// Options configures a Pool. The zero value is valid and imposes no page
// limit.
type Options struct {
	// MaxPages bounds how many page.Page slabs the pool will create. Zero
	// means unbounded.
	MaxPages int

	// Log receives lifecycle events. Nil means no-op.
	Log Logger
}

// Validate reports whether the options are well-formed.
func (o Options) Validate() error {
	if o.MaxPages < 0 {
		return fmt.Errorf("pool: MaxPages must be >= 0, got %d", o.MaxPages)
	}
	return nil
}

// color is the red/black tree node color for the pool's address-ordered
// index.
type color uint8

const (
	black color = iota
	red
)

// pageNode wraps one page.Page with the linkage for both of the pool's
// indices. A separate wrapper (rather than embedding list/tree fields
// directly on page.Page) keeps page.Page focused on slab allocation and
// lets the pool own both structures' lifetimes independently.
type pageNode struct {
	page *page.Page
	addr uintptr

	listPrev, listNext *pageNode

	left, right, parent *pageNode
	clr                 color
}

// Pool is a collection of pages with rotation-ordered allocation and
// address-ordered reverse lookup.
type Pool struct {
	opts Options

	head  *pageNode // circular list; nil when the pool holds no pages
	root  *pageNode // address-ordered tree root
	count int
}

// New creates an empty pool. No pages are allocated until the first Get.
func New(opts Options) (*Pool, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = noopLogger
	}
	return &Pool{opts: opts}, nil
}

// Pages returns the number of page.Page slabs currently held by the pool.
func (p *Pool) Pages() int { return p.count }

// Close releases every page's mmap. The pool must not be used afterward.
func (p *Pool) Close() error {
	if p.head == nil {
		return nil
	}
	var firstErr error
	n := p.head
	for {
		next := n.listNext
		if err := n.page.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		n = next
		if n == p.head {
			break
		}
	}
	p.head = nil
	p.root = nil
	p.count = 0
	return firstErr
}

// Get allocates a chunk slot from the first page (searching in rotation
// order starting at the list head) that has room, creating a new page if
// every existing page is full and the pool has not hit MaxPages. The page
// that served the request is rotated to the head of the list, so
// back-to-back allocations tend to hit the same page without rescanning.
func (p *Pool) Get() (*chunk.Chunk, error) {
	if node := p.findPageWithRoom(); node != nil {
		c, _, err := node.page.GetNew()
		if err != nil {
			return nil, err
		}
		p.rotateToFront(node)
		return c, nil
	}

	if p.opts.MaxPages > 0 && p.count >= p.opts.MaxPages {
		return nil, fmt.Errorf("%w: at capacity (%d pages)", ErrExhausted, p.opts.MaxPages)
	}

	pg, err := page.New(page.Options{})
	if err != nil {
		return nil, err
	}
	node := &pageNode{page: pg, addr: pg.Addr()}
	p.listInsertFront(node)
	p.treeInsert(node)
	p.count++
	p.opts.Log("page_created", "pages", p.count)

	c, _, err := pg.GetNew()
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Ret returns a previously allocated chunk to its owning page, found via
// the address-ordered tree. It is an error to return a chunk that did not
// come from this pool.
func (p *Pool) Ret(c *chunk.Chunk) error {
	if len(c.Data) == 0 {
		return fmt.Errorf("pool: chunk has no backing storage")
	}
	node := p.findOwner(c)
	if node == nil {
		return fmt.Errorf("pool: chunk is not owned by any page in this pool")
	}
	pos, ok := node.page.Owns(c)
	if !ok {
		return fmt.Errorf("pool: address tree matched a page that does not own the chunk")
	}
	node.page.Ret(pos)
	return nil
}

// ShrinkEmpty releases any page holding zero live chunks, returning the
// number of pages freed. Pages are visited once each, starting at the list
// tail (least recently rotated to front) and walking toward the head.
func (p *Pool) ShrinkEmpty() (int, error) {
	freed := 0
	if p.head == nil {
		return 0, nil
	}

	n := p.head.listPrev
	total := p.count
	for i := 0; i < total; i++ {
		prev := n.listPrev
		if n.page.InUse() == 0 {
			if err := p.removeNode(n); err != nil {
				return freed, err
			}
			freed++
		}
		n = prev
		if p.head == nil {
			break
		}
	}
	return freed, nil
}

func (p *Pool) removeNode(n *pageNode) error {
	if err := n.page.Close(); err != nil {
		return err
	}
	p.listRemove(n)
	p.treeRemove(n)
	p.count--
	p.opts.Log("page_evicted", "pages", p.count)
	return nil
}

func (p *Pool) findPageWithRoom() *pageNode {
	if p.head == nil {
		return nil
	}
	n := p.head
	for {
		if !n.page.Full() {
			return n
		}
		n = n.listNext
		if n == p.head {
			return nil
		}
	}
}

// listInsertFront splices a new node in as the list head of the circular
// ring.
func (p *Pool) listInsertFront(n *pageNode) {
	if p.head == nil {
		n.listNext = n
		n.listPrev = n
		p.head = n
		return
	}
	tail := p.head.listPrev
	n.listNext = p.head
	n.listPrev = tail
	tail.listNext = n
	p.head.listPrev = n
	p.head = n
}

// rotateToFront moves an existing node to the list head without touching
// any other node's relative order.
func (p *Pool) rotateToFront(n *pageNode) {
	if p.head == n || n.listNext == n {
		p.head = n
		return
	}
	n.listPrev.listNext = n.listNext
	n.listNext.listPrev = n.listPrev
	tail := p.head.listPrev
	n.listNext = p.head
	n.listPrev = tail
	tail.listNext = n
	p.head.listPrev = n
	p.head = n
}

func (p *Pool) listRemove(n *pageNode) {
	if n.listNext == n {
		p.head = nil
		return
	}
	n.listPrev.listNext = n.listNext
	n.listNext.listPrev = n.listPrev
	if p.head == n {
		p.head = n.listNext
	}
}

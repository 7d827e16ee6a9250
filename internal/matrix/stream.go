package matrix

import (
	"encoding/binary"
	"fmt"

	"github.com/QDeepNet/QDeep-MatrixP/internal/chunk"
	"github.com/QDeepNet/QDeep-MatrixP/internal/mmio"
)

const headerBytes = 16 // two big-endian uint64 fields: Mx, My

const defaultSpliceUnit = 1 << 20

func (m *Matrix) spliceUnit() int {
	if m.opts.SpliceUnit > 0 {
		return m.opts.SpliceUnit
	}
	return defaultSpliceUnit
}

// SendHeader writes the matrix's declared size to fd as a 16-byte
// big-endian (Mx, My) pair, the framing every stream transfer starts with.
func (m *Matrix) SendHeader(fd int) error {
	if fd < 0 {
		return fmt.Errorf("%w: SendHeader", ErrNoFile)
	}
	var buf [headerBytes]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(m.mx))
	binary.BigEndian.PutUint64(buf[8:16], uint64(m.my))
	return mmio.WriteFull(fd, buf[:])
}

// RecvHeader reads a 16-byte (Mx, My) header from fd and applies it via
// SetSize, which requires the matrix already have a backing file attached.
func (m *Matrix) RecvHeader(fd int) error {
	if fd < 0 {
		return fmt.Errorf("%w: RecvHeader", ErrNoFile)
	}
	var buf [headerBytes]byte
	if err := mmio.ReadFull(fd, buf[:]); err != nil {
		return fmt.Errorf("%w: %v", ErrShortHeader, err)
	}
	mx := uint32(binary.BigEndian.Uint64(buf[0:8]))
	my := uint32(binary.BigEndian.Uint64(buf[8:16]))
	return m.SetSize(mx, my)
}

// Send writes the matrix's header followed by the full Mx*My dense payload,
// read directly off the matrix's backing file starting at byte headerBytes.
// The transfer is strictly byte-oriented over the declared region: it does
// not traverse the chunk tree, so it sends exactly the bytes the backing
// file holds; values written through SetElem live only in chunks and are
// not part of the payload. The bulk payload moves via mmio.Transfer's
// kernel-assisted zero-copy path when available.
func (m *Matrix) Send(fd int) error {
	if fd < 0 || m.file == nil {
		return fmt.Errorf("%w: Send", ErrNoFile)
	}
	if err := m.SendHeader(fd); err != nil {
		return err
	}
	n := int64(m.mx) * int64(m.my) * chunk.ElemBytes
	m.opts.Log("send_start", "bytes", n)

	if _, err := m.file.Seek(headerBytes, 0); err != nil {
		err = fmt.Errorf("matrix: seek backing file: %w", err)
		m.opts.Log("send_done", "bytes", 0, "err", err)
		return err
	}
	err := mmio.Transfer(fd, int(m.file.Fd()), n, m.spliceUnit())
	if err != nil {
		err = fmt.Errorf("matrix: send payload: %w", err)
	}
	m.opts.Log("send_done", "bytes", n, "err", err)
	return err
}

// Recv reads a matrix previously written by Send: the 16-byte header (which
// declares the destination's size via SetSize, truncating and re-stamping
// the backing file's own header), then the dense Mx*My payload, written
// directly into the backing file starting at byte headerBytes. Like Send,
// this never touches the chunk tree: the received payload lands only in the
// backing file, and no chunk is created or filled from it (GetOrCreate and
// Lookup do not read the file).
func (m *Matrix) Recv(fd int) error {
	if fd < 0 || m.file == nil {
		return fmt.Errorf("%w: Recv", ErrNoFile)
	}
	if err := m.RecvHeader(fd); err != nil {
		return err
	}
	n := int64(m.mx) * int64(m.my) * chunk.ElemBytes
	m.opts.Log("recv_start", "bytes", n)

	if _, err := m.file.Seek(headerBytes, 0); err != nil {
		err = fmt.Errorf("matrix: seek backing file: %w", err)
		m.opts.Log("recv_done", "bytes", 0, "err", err)
		return err
	}
	err := mmio.Transfer(int(m.file.Fd()), fd, n, m.spliceUnit())
	if err != nil {
		err = fmt.Errorf("matrix: recv payload: %w", err)
	}
	m.opts.Log("recv_done", "bytes", n, "err", err)
	return err
}

// FreeAll returns every indexed chunk to the pool, walking the tree once in
// offset order and returning each chunk as it is visited rather than
// rebalancing the tree node by node, since the whole tree is discarded at
// the end of the walk regardless. It does not reset the pool's pages, and
// leaves the matrix's declared size and backing file untouched.
func (m *Matrix) FreeAll() error {
	var retErr error
	m.walkInOrder(func(c *chunk.Chunk) bool {
		if err := m.pool.Ret(c); err != nil && retErr == nil {
			retErr = fmt.Errorf("matrix: free all, offset %#x: %w", uint64(c.Offset()), err)
		}
		return true
	})
	m.tree = Tree{}
	return retErr
}

// walkInOrder performs an iterative in-order traversal of the tree,
// calling visit for each chunk in ascending offset order. Traversal stops
// early if visit returns false.
func (m *Matrix) walkInOrder(visit func(*chunk.Chunk) bool) {
	var stack [maxPathDepth]*chunk.Chunk
	sp := 0
	n := m.tree.root
	for n != nil || sp > 0 {
		for n != nil {
			if sp >= maxPathDepth {
				return
			}
			stack[sp] = n
			sp++
			n = n.Left()
		}
		sp--
		n = stack[sp]
		if !visit(n) {
			return
		}
		n = n.Right()
	}
}

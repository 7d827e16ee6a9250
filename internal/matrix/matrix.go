package matrix

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"

	"github.com/QDeepNet/QDeep-MatrixP/internal/chunk"
	"github.com/QDeepNet/QDeep-MatrixP/internal/pool"
)

// ErrNoFile is returned by operations that require a backing file
// (SetSize, Send, Recv) before one has been attached via SetFile, and by
// the stream operations when given a negative remote file descriptor.
var ErrNoFile = errors.New("matrix: no file descriptor")

// ErrShortHeader is wrapped into the error RecvHeader (and so Recv) returns
// when fd is closed or exhausted before a full 16-byte header arrives, and
// into the error SetFile returns when an existing file's header cannot be
// read.
var ErrShortHeader = errors.New("matrix: short header")

// Logger receives lifecycle events (chunk allocation, chunk removal,
// stream transfer start/end) as they happen. The default is a no-op; a
// host process can set Options.Log to wire these into its own logging.
type Logger func(event string, fields ...any)

func noopLogger(string, ...any) {}

// Options configures a Matrix. The zero value is valid: an unbounded
// matrix backed by an unbounded pool.
type Options struct {
	// MaxPages bounds the backing pool's page count. Zero means unbounded.
	MaxPages int
	// SpliceUnit bounds how many bytes move per splice(2) call during
	// streaming I/O. Zero selects a sensible default.
	SpliceUnit int
	// Log receives lifecycle events. Nil means no-op.
	Log Logger
}

// Validate reports whether the options are well-formed.
func (o Options) Validate() error {
	if o.MaxPages < 0 {
		return fmt.Errorf("matrix: MaxPages must be >= 0, got %d", o.MaxPages)
	}
	if o.SpliceUnit < 0 {
		return fmt.Errorf("matrix: SpliceUnit must be >= 0, got %d", o.SpliceUnit)
	}
	return nil
}

// Matrix is a quadruple: the owning pool, the spatial index, an optional
// backing file, and a declared dense size (Mx, My) in elements. Chunks are
// allocated from the pool and only materialize where the caller has
// actually written data — an untouched region of the matrix costs nothing
// in memory, independent of the file's declared size.
type Matrix struct {
	opts Options
	pool *pool.Pool
	tree Tree
	file *os.File

	// mx, my are the matrix's declared bounds, in elements. Zero means no
	// size has been declared yet.
	mx, my uint32
}

// New creates an empty matrix with no backing file, no declared size, and
// no allocated chunks.
func New(opts Options) (*Matrix, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if opts.Log == nil {
		opts.Log = noopLogger
	}
	p, err := pool.New(pool.Options{MaxPages: opts.MaxPages, Log: pool.Logger(opts.Log)})
	if err != nil {
		return nil, err
	}
	return &Matrix{opts: opts, pool: p}, nil
}

// SetFile opens (creating if missing) path as the matrix's backing file.
// Ownership of the resulting descriptor transfers to the matrix: Close
// closes it. If the file already holds a valid 16-byte header, its
// (Mx, My) are adopted as the matrix's declared size without touching the
// file further; otherwise the matrix's size stays (0, 0) until SetSize is
// called.
func (m *Matrix) SetFile(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("matrix: set file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("matrix: set file: %w", err)
	}

	if m.file != nil {
		m.file.Close()
	}
	m.file = f
	m.mx, m.my = 0, 0

	if info.Size() >= headerBytes {
		var buf [headerBytes]byte
		if _, err := f.ReadAt(buf[:], 0); err != nil {
			return fmt.Errorf("%w: reading existing header: %v", ErrShortHeader, err)
		}
		m.mx = uint32(binary.BigEndian.Uint64(buf[0:8]))
		m.my = uint32(binary.BigEndian.Uint64(buf[8:16]))
	}
	return nil
}

// SetSize declares the matrix's bounds in elements. It requires a backing
// file (SetFile must be called first): the file is truncated to
// headerBytes + Mx*My*8 bytes and the (Mx, My) header is written at offset
// 0 in big-endian. (0, 0) declares an empty matrix; a size with exactly one
// zero dimension is rejected. The declared size is only updated once both
// the truncate and the header write succeed; if either fails, the matrix's
// size is cleared to (0, 0), matching the reference engine's failure
// semantics.
func (m *Matrix) SetSize(mx, my uint32) error {
	if (mx == 0) != (my == 0) {
		return fmt.Errorf("matrix: size must be (0, 0) or non-zero in both dimensions, got (%d, %d)", mx, my)
	}
	if m.file == nil {
		return fmt.Errorf("%w: SetSize requires a backing file (call SetFile first)", ErrNoFile)
	}

	total := headerBytes + int64(mx)*int64(my)*chunk.ElemBytes
	if err := m.file.Truncate(total); err != nil {
		m.mx, m.my = 0, 0
		return fmt.Errorf("matrix: truncate to %d bytes: %w", total, err)
	}

	var buf [headerBytes]byte
	binary.BigEndian.PutUint64(buf[0:8], uint64(mx))
	binary.BigEndian.PutUint64(buf[8:16], uint64(my))
	if _, err := m.file.WriteAt(buf[:], 0); err != nil {
		m.mx, m.my = 0, 0
		return fmt.Errorf("matrix: write header: %w", err)
	}

	m.mx, m.my = mx, my
	return nil
}

// Close releases every page backing the matrix's chunks and closes the
// backing file, if one was attached via SetFile.
func (m *Matrix) Close() error {
	var fileErr error
	if m.file != nil {
		fileErr = m.file.Close()
		m.file = nil
	}
	if err := m.pool.Close(); err != nil {
		return err
	}
	return fileErr
}

// Size returns the matrix's declared bounds.
func (m *Matrix) Size() (mx, my uint32) { return m.mx, m.my }

// Chunks returns the number of chunks currently indexed.
func (m *Matrix) Chunks() int { return m.tree.Len() }

// chunkCoord converts an element-space coordinate to the chunk grid
// coordinate and packs it into an offset key.
func chunkCoord(x, y uint32) chunk.Offset {
	return chunk.Pack(x>>chunk.Pow, y>>chunk.Pow)
}

// Lookup returns the chunk covering element (x, y), or nil if that region
// of the matrix has never been written.
func (m *Matrix) Lookup(x, y uint32) *chunk.Chunk {
	return m.tree.Find(chunkCoord(x, y))
}

// GetOrCreate returns the chunk covering element (x, y), allocating and
// indexing a fresh Width×Width chunk from the pool if that region has not
// been touched yet. A freshly created chunk is full-sized (Width, Width)
// and its offset is the packed chunk-grid coordinate, not the element
// coordinate.
func (m *Matrix) GetOrCreate(x, y uint32) (*chunk.Chunk, error) {
	offset := chunkCoord(x, y)
	if c := m.tree.Find(offset); c != nil {
		return c, nil
	}

	c, err := m.pool.Get()
	if err != nil {
		return nil, fmt.Errorf("matrix: allocating chunk at (%d, %d): %w", x, y, err)
	}
	c.SetOffset(offset)
	c.SetSize(chunk.Width, chunk.Width)
	m.tree.Insert(c)
	m.opts.Log("chunk_created", "offset", uint64(offset))
	return c, nil
}

// Remove deletes the chunk covering element (x, y) from the index and
// returns its storage to the pool. It is a no-op if that region was never
// written.
func (m *Matrix) Remove(x, y uint32) error {
	offset := chunkCoord(x, y)
	if m.tree.Find(offset) == nil {
		return nil
	}
	c := m.tree.Remove(offset)
	m.opts.Log("chunk_removed", "offset", uint64(offset))
	return m.pool.Ret(c)
}

// Get reads the element at (x, y), returning 0 for any element in a
// region that has never been written.
func (m *Matrix) Get(x, y uint32) int64 {
	c := m.Lookup(x, y)
	if c == nil {
		return 0
	}
	return c.Data[localIndex(x, y)]
}

// SetElem writes the element at (x, y), allocating the covering chunk on
// first write.
func (m *Matrix) SetElem(x, y uint32, v int64) error {
	c, err := m.GetOrCreate(x, y)
	if err != nil {
		return err
	}
	c.Data[localIndex(x, y)] = v
	return nil
}

func localIndex(x, y uint32) int {
	lx := x & (chunk.Width - 1)
	ly := y & (chunk.Width - 1)
	return int(ly)*chunk.Width + int(lx)
}

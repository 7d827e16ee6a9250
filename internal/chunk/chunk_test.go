package chunk

import (
	"testing"

	"golang.org/x/sys/unix"
)

func TestOffsetPackRoundTrip(t *testing.T) {
	cases := []struct{ x, y uint32 }{
		{0, 0},
		{1, 0},
		{0, 1},
		{255, 65535},
		{1<<32 - 1, 1<<32 - 1},
	}
	for _, c := range cases {
		o := Pack(c.x, c.y)
		if o.X() != c.x || o.Y() != c.y {
			t.Errorf("Pack(%d,%d) round trip got (%d,%d)", c.x, c.y, o.X(), o.Y())
		}
	}
}

func TestOffsetCompareOrdersRowMajor(t *testing.T) {
	a := Pack(5, 0)
	b := Pack(0, 1)
	if Compare(a, b) >= 0 {
		t.Fatalf("row 0 col 5 should sort before row 1 col 0")
	}
	if Compare(a, a) != 0 {
		t.Fatalf("equal offsets must compare equal")
	}
	if Compare(b, a) <= 0 {
		t.Fatalf("Compare must be antisymmetric")
	}
}

func TestSizeRoundTrip(t *testing.T) {
	var c Chunk
	for _, dim := range []struct{ w, h uint16 }{
		{1, 1},
		{1, Width},
		{Width, 1},
		{Width, Width},
		{37, 200},
	} {
		c.SetSize(dim.w, dim.h)
		gotW, gotH := c.Size()
		if gotW != dim.w || gotH != dim.h {
			t.Errorf("SetSize(%d,%d) -> Size() = (%d,%d)", dim.w, dim.h, gotW, gotH)
		}
	}
}

func TestInitClearsSizeAndOffset(t *testing.T) {
	var c Chunk
	c.SetSize(10, 20)
	c.SetOffset(Pack(3, 4))
	c.Init()
	if w, h := c.Size(); w != 1 || h != 1 {
		t.Fatalf("Init should reset size to the minimum (1,1) encoding, got (%d,%d)", w, h)
	}
	if c.Offset() != 0 {
		t.Fatalf("Init should reset offset to 0, got %d", c.Offset())
	}
}

// TestRecvSendRoundTrip exercises the effective-size row/column loop bound
// fix: a chunk smaller than the full Width×Width physical tile must only
// touch its own w×h corner on the wire, leaving the rest of Data untouched.
func TestRecvSendRoundTrip(t *testing.T) {
	const w, h = 5, 3

	var src Chunk
	src.Data = make([]int64, Count)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			src.Data[y*Width+x] = int64(y*100 + x)
		}
	}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	r, wfd := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(wfd)

	done := make(chan error, 1)
	go func() { done <- src.Send(wfd, w, h) }()

	var dst Chunk
	dst.Data = make([]int64, Count)
	if err := dst.Recv(r, w, h); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			want := int64(y*100 + x)
			if got := dst.Data[y*Width+x]; got != want {
				t.Errorf("dst[%d][%d] = %d, want %d", y, x, got, want)
			}
		}
	}
	for i := h * Width; i < Count; i++ {
		if dst.Data[i] != 0 {
			t.Fatalf("Recv touched element %d outside the %dx%d effective region", i, w, h)
		}
	}
}

func TestRecvSendSingleRow(t *testing.T) {
	var src Chunk
	src.Data = make([]int64, Count)
	for x := 0; x < Width; x++ {
		src.Data[x] = int64(x + 1)
	}

	var fds [2]int
	if err := unix.Pipe(fds[:]); err != nil {
		t.Fatalf("Pipe: %v", err)
	}
	r, wfd := fds[0], fds[1]
	defer unix.Close(r)
	defer unix.Close(wfd)

	done := make(chan error, 1)
	go func() { done <- src.Send(wfd, Width, 1) }()

	var dst Chunk
	dst.Data = make([]int64, Count)
	if err := dst.Recv(r, Width, 1); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if err := <-done; err != nil {
		t.Fatalf("Send: %v", err)
	}
	for x := 0; x < Width; x++ {
		if dst.Data[x] != int64(x+1) {
			t.Fatalf("dst[%d] = %d, want %d", x, dst.Data[x], x+1)
		}
	}
	if dst.Data[Width] != 0 {
		t.Fatalf("Recv(w=Width, h=1) must not read a second row")
	}
}

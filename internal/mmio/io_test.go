package mmio

import (
	"io"
	"testing"

	"golang.org/x/sys/unix"
)

// TestReadFull_SignalResilience covers S6: a read interrupted by a signal
// completes with output identical to an uninterrupted read.
func TestReadFull_SignalResilience(t *testing.T) {
	want := []byte("gophers all the way down")
	got := make([]byte, len(want))

	calls := 0
	offset := 0
	orig := sysRead
	defer func() { sysRead = orig }()
	sysRead = func(fd int, p []byte) (int, error) {
		calls++
		if calls == 1 {
			// Simulate the first read syscall being interrupted.
			return 0, unix.EINTR
		}
		n := copy(p, want[offset:])
		offset += n
		return n, nil
	}

	if err := ReadFull(0, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	if calls < 2 {
		t.Fatalf("expected the EINTR branch to be exercised, only saw %d calls", calls)
	}
}

func TestReadFull_ShortReadsLoop(t *testing.T) {
	want := []byte("0123456789")
	got := make([]byte, len(want))

	offset := 0
	orig := sysRead
	defer func() { sysRead = orig }()
	sysRead = func(fd int, p []byte) (int, error) {
		// Always return at most 3 bytes, forcing several iterations.
		n := min(3, len(want)-offset)
		n = copy(p[:n], want[offset:offset+n])
		offset += n
		return n, nil
	}

	if err := ReadFull(0, got); err != nil {
		t.Fatalf("ReadFull: %v", err)
	}
	if string(got) != string(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestReadFull_ZeroReadIsUnexpectedEOF(t *testing.T) {
	orig := sysRead
	defer func() { sysRead = orig }()
	sysRead = func(fd int, p []byte) (int, error) { return 0, nil }

	err := ReadFull(0, make([]byte, 4))
	if err != io.ErrUnexpectedEOF {
		t.Fatalf("got %v, want io.ErrUnexpectedEOF", err)
	}
}

func TestWriteFull_SignalResilience(t *testing.T) {
	want := []byte("payload")
	var written []byte

	calls := 0
	orig := sysWrite
	defer func() { sysWrite = orig }()
	sysWrite = func(fd int, p []byte) (int, error) {
		calls++
		if calls == 1 {
			return 0, unix.EINTR
		}
		written = append(written, p...)
		return len(p), nil
	}

	if err := WriteFull(0, want); err != nil {
		t.Fatalf("WriteFull: %v", err)
	}
	if string(written) != string(want) {
		t.Fatalf("got %q, want %q", written, want)
	}
}

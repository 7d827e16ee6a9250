package mmio

import (
	"bytes"
	"os"
	"testing"

	"golang.org/x/sys/unix"
)

func tempFileWith(t *testing.T, content []byte) *os.File {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "mmio-transfer-*")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	if len(content) > 0 {
		if _, err := f.Write(content); err != nil {
			t.Fatalf("write fixture: %v", err)
		}
		if _, err := f.Seek(0, 0); err != nil {
			t.Fatalf("seek fixture: %v", err)
		}
	}
	t.Cleanup(func() { f.Close() })
	return f
}

func TestTransfer_SpliceRoundTrip(t *testing.T) {
	payload := bytes.Repeat([]byte("tilepayload"), 1000) // larger than a single splice unit below

	src := tempFileWith(t, payload)
	dst := tempFileWith(t, nil)

	if err := Transfer(int(dst.Fd()), int(src.Fd()), int64(len(payload)), 64); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	got, err := os.ReadFile(dst.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("transferred %d bytes, want %d matching payload", len(got), len(payload))
	}
}

func TestTransfer_FallsBackWhenSpliceUnsupported(t *testing.T) {
	payload := []byte("fallback payload, no kernel zero-copy available")

	src := tempFileWith(t, payload)
	dst := tempFileWith(t, nil)

	orig := sysSplice
	defer func() { sysSplice = orig }()
	sysSplice = func(rfd int, roff *int64, wfd int, woff *int64, n int, flags int) (int64, error) {
		return 0, unix.ENOSYS
	}

	if err := Transfer(int(dst.Fd()), int(src.Fd()), int64(len(payload)), 8); err != nil {
		t.Fatalf("Transfer: %v", err)
	}

	got, err := os.ReadFile(dst.Name())
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("got %q, want %q", got, payload)
	}
}

func TestTransfer_ZeroLengthIsNoop(t *testing.T) {
	src := tempFileWith(t, nil)
	dst := tempFileWith(t, nil)

	if err := Transfer(int(dst.Fd()), int(src.Fd()), 0, 64); err != nil {
		t.Fatalf("Transfer: %v", err)
	}
}

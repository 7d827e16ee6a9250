package mmio

import (
	"fmt"
	"io"

	"golang.org/x/sys/unix"
)

// sysSplice and sysPipe2 are indirected for the same reason sysRead/sysWrite
// are: tests substitute a sysSplice that always returns ENOSYS to exercise
// the bounce-buffer fallback path deterministically.
var (
	sysSplice = unix.Splice
	sysPipe2  = unix.Pipe2
)

const spliceFlags = unix.SPLICE_F_MOVE | unix.SPLICE_F_MORE

// Transfer moves exactly n bytes from srcFd to dstFd, preferring a
// kernel-assisted zero-copy splice through an anonymous pipe and falling
// back to a bounded user-space bounce buffer when splice is unavailable
// (ENOSYS/EINVAL, e.g. one of the fds isn't splice-capable, or the
// platform has no splice(2) at all). unit bounds how many bytes move per
// kernel call; it is a performance hint, not a correctness constraint, per
// spec.
//
// Mirrors mp_matrix_splice: pipe-mediated move, retry on EINTR/EAGAIN,
// the transient pipe closed on every exit path.
func Transfer(dstFd, srcFd int, n int64, unit int) error {
	if n == 0 {
		return nil
	}
	if unit <= 0 {
		unit = 1 << 16
	}

	var pipefd [2]int
	if err := sysPipe2(pipefd[:], unix.O_CLOEXEC); err != nil {
		return fmt.Errorf("mmio: pipe2: %w", err)
	}
	defer unix.Close(pipefd[0])
	defer unix.Close(pipefd[1])

	remain := n
	for remain > 0 {
		want := int64(unit)
		if remain < want {
			want = remain
		}

		moved, err := spliceRetry(srcFd, pipefd[1], want)
		if err != nil {
			if isSpliceUnsupported(err) {
				return bounceCopy(dstFd, srcFd, remain, unit)
			}
			return fmt.Errorf("mmio: splice in: %w", err)
		}
		if moved == 0 {
			return fmt.Errorf("mmio: splice in: %w", io.ErrUnexpectedEOF)
		}

		for moved > 0 {
			n2, err := spliceRetry(pipefd[0], dstFd, moved)
			if err != nil {
				if isSpliceUnsupported(err) {
					// Some bytes are already parked in the pipe; drain them
					// with the bounce path before falling back for the rest.
					if err2 := drainPipe(dstFd, pipefd[0], moved); err2 != nil {
						return fmt.Errorf("mmio: splice out: %w", err)
					}
					remain -= moved
					return bounceCopy(dstFd, srcFd, remain, unit)
				}
				return fmt.Errorf("mmio: splice out: %w", err)
			}
			moved -= n2
			remain -= n2
		}
	}
	return nil
}

// spliceRetry calls splice(2), retrying on EINTR/EAGAIN.
func spliceRetry(rfd, wfd int, n int64) (int64, error) {
	for {
		got, err := sysSplice(rfd, nil, wfd, nil, int(n), spliceFlags)
		if err != nil {
			if err == unix.EINTR || err == unix.EAGAIN {
				continue
			}
			return 0, err
		}
		return got, nil
	}
}

func isSpliceUnsupported(err error) bool {
	return err == unix.ENOSYS || err == unix.EINVAL || err == unix.EOPNOTSUPP
}

// drainPipe moves n already-buffered bytes out of a pipe's read end into
// dstFd using plain read/write, used only to empty the transient pipe
// before falling back, so the bounce path starts from a clean byte
// boundary in the source stream.
func drainPipe(dstFd, pipeReadFd int, n int64) error {
	buf := make([]byte, n)
	if err := ReadFull(pipeReadFd, buf); err != nil {
		return err
	}
	return WriteFull(dstFd, buf)
}

// bounceCopy copies n bytes from srcFd to dstFd through a bounded
// user-space buffer of size unit, used when kernel-assisted zero-copy is
// unavailable.
func bounceCopy(dstFd, srcFd int, n int64, unit int) error {
	buf := make([]byte, unit)
	for n > 0 {
		want := int64(unit)
		if n < want {
			want = n
		}
		chunk := buf[:want]
		if err := ReadFull(srcFd, chunk); err != nil {
			return fmt.Errorf("mmio: bounce read: %w", err)
		}
		if err := WriteFull(dstFd, chunk); err != nil {
			return fmt.Errorf("mmio: bounce write: %w", err)
		}
		n -= want
	}
	return nil
}

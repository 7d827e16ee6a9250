package mmio

import (
	"io"

	"golang.org/x/sys/unix"
)

// sysRead and sysWrite are indirected through package-level variables so
// tests can substitute a fake that returns EINTR on the first call and
// succeeds afterwards, exercising the retry loop below without needing a
// real signal delivered mid-syscall.
var (
	sysRead  = unix.Read
	sysWrite = unix.Write
)

// ReadFull reads exactly len(buf) bytes from fd, retrying on EINTR and
// looping over short reads. A zero-byte, error-free read is treated as
// end-of-stream and reported as io.ErrUnexpectedEOF, mirroring
// mp_chunk_recv / mp_matrix_recv_msize: "any zero return from read...
// fails the operation" once there is still data outstanding.
func ReadFull(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := sysRead(fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrUnexpectedEOF
		}
		buf = buf[n:]
	}
	return nil
}

// WriteFull writes exactly len(buf) bytes to fd, retrying on EINTR and
// looping over short writes. Mirrors mp_chunk_send / mp_matrix_send_msize.
func WriteFull(fd int, buf []byte) error {
	for len(buf) > 0 {
		n, err := sysWrite(fd, buf)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if n == 0 {
			return io.ErrClosedPipe
		}
		buf = buf[n:]
	}
	return nil
}

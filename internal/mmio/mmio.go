// Package mmio hosts the raw syscall plumbing shared by the page allocator
// and the matrix streaming layer: anonymous memory mapping, page-size
// memoization, and retry-on-signal full read/write loops.
//
// Every call here talks to the kernel directly through golang.org/x/sys/unix,
// the same dependency the teacher's internal/input and internal/watch
// packages use for mmap, fadvise/madvise, and inotify/epoll.
package mmio

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// pageSize is memoized through sync.OnceValue, which runs the syscall
// exactly once and makes every other caller wait for that result. The
// package's init function calls it, so the value is in place before any
// other code of the process can ask for it and never changes afterwards.
var pageSize = sync.OnceValue(func() uintptr {
	return uintptr(unix.Getpagesize())
})

func init() { pageSize() }

// PageSize returns the OS page size, memoized process-wide. The reference
// implementation caches this lazily on first page creation; this computes
// it eagerly at package initialization via sync.OnceValue, which is the
// Design Notes' recommended fix for the "is the lazy write-once global safe
// across threads" open question (§5, §9): the answer no longer depends on
// which goroutine wins a race.
func PageSize() uintptr {
	return pageSize()
}

// RoundUp rounds n up to the next multiple of align, which must be a power
// of two. This implements the mp_page_init rounding of chunk storage size
// up to an OS page-size boundary.
func RoundUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// Mmap creates an anonymous, private, read-write mapping of size bytes.
// Mirrors mp_page_init's mmap(NULL, size, PROT_READ|PROT_WRITE,
// MAP_PRIVATE|MAP_ANONYMOUS, -1, 0) call exactly.
func Mmap(size int) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANONYMOUS)
	if err != nil {
		return nil, fmt.Errorf("mmio: mmap %d bytes: %w", size, err)
	}
	return data, nil
}

// Munmap releases a mapping previously returned by Mmap.
func Munmap(data []byte) error {
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("mmio: munmap: %w", err)
	}
	return nil
}

package perf

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Syscall seams. Tests swap these to exercise failure paths without a
// kernel; production code never touches them.
var (
	perfEventOpen = unix.PerfEventOpen
	mmap          = unix.Mmap
	munmap        = unix.Munmap
	closeFD       = unix.Close
	ioctl         = unix.IoctlSetInt
)

// Session is one open perf_event sampler: the event file descriptor and
// the mmapped region it publishes records into. The two are created
// together by Open and released together by Close; neither outlives the
// other.
//
// A Session is not safe for concurrent drains. The tail cursor update in
// ReadRecord assumes a single consumer; callers that share a Session
// across goroutines must add their own mutual exclusion.
type Session struct {
	fd   int
	mem  []byte                  // control page + data pages, one mapping
	meta *unix.PerfEventMmapPage // first page of mem
	ring []byte                  // data pages, circular

	closed bool
}

// Open creates a perf event for the given attribute and target and maps
// its ring buffer. numPages is the size of the data region in pages and
// must be a power of two (a kernel requirement). pid and cpu follow
// perf_event_open(2) semantics; at most one of them may be -1.
//
// Open is all or nothing: if the mapping fails the event descriptor is
// closed before returning, so no partially constructed Session can be
// observed.
func Open(attr *unix.PerfEventAttr, pid, cpu, numPages int) (*Session, error) {
	if numPages <= 0 || numPages&(numPages-1) != 0 {
		return nil, fmt.Errorf("%w: num_pages must be a power of two, got %d", ErrResource, numPages)
	}
	if pid == -1 && cpu == -1 {
		return nil, fmt.Errorf("%w: cannot sample all processes on all CPUs", ErrResource)
	}

	fd, err := perfEventOpen(attr, pid, cpu, -1, unix.PERF_FLAG_FD_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("%w: perf_event_open pid=%d cpu=%d: %w", ErrResource, pid, cpu, err)
	}

	size := pageSize * (1 + numPages)
	mem, err := mmap(fd, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		_ = closeFD(fd)
		return nil, fmt.Errorf("%w: mmap %d bytes: %w", ErrMapping, size, err)
	}

	return &Session{
		fd:   fd,
		mem:  mem,
		meta: (*unix.PerfEventMmapPage)(unsafe.Pointer(&mem[0])),
		ring: mem[pageSize:],
	}, nil
}

// Close unmaps the ring buffer and releases the event descriptor, in
// that order. Calling Close a second time returns ErrClosed and does
// nothing else.
func (s *Session) Close() error {
	if s.closed {
		return ErrClosed
	}
	s.closed = true

	merr := munmap(s.mem)
	cerr := closeFD(s.fd)
	s.mem, s.ring, s.meta = nil, nil, nil
	s.fd = -1

	if merr != nil {
		return fmt.Errorf("munmap: %w", merr)
	}
	if cerr != nil {
		return fmt.Errorf("close: %w", cerr)
	}
	return nil
}

// Start enables sample collection. If reset is set, previously
// collected counts are discarded first; the enable is only issued when
// the reset succeeded. Start never touches the ring cursors.
func (s *Session) Start(reset bool) error {
	if s.closed {
		return ErrClosed
	}
	if reset {
		if err := s.Reset(); err != nil {
			return err
		}
	}
	if err := ioctl(s.fd, unix.PERF_EVENT_IOC_ENABLE, 0); err != nil {
		return fmt.Errorf("%w: enable: %w", ErrControl, err)
	}
	return nil
}

// Stop disables sample collection. Records already in the ring stay
// readable.
func (s *Session) Stop() error {
	if s.closed {
		return ErrClosed
	}
	if err := ioctl(s.fd, unix.PERF_EVENT_IOC_DISABLE, 0); err != nil {
		return fmt.Errorf("%w: disable: %w", ErrControl, err)
	}
	return nil
}

// Reset zeroes the event's internal counters.
func (s *Session) Reset() error {
	if s.closed {
		return ErrClosed
	}
	if err := ioctl(s.fd, unix.PERF_EVENT_IOC_RESET, 0); err != nil {
		return fmt.Errorf("%w: reset: %w", ErrControl, err)
	}
	return nil
}

// FD returns the event file descriptor, for readiness polling.
func (s *Session) FD() int {
	return s.fd
}

// RingSize returns the capacity of the data region in bytes.
func (s *Session) RingSize() int {
	return len(s.ring)
}

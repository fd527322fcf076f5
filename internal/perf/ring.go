package perf

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// RecordHeader is the fixed prefix of every record in the ring,
// bit-compatible with the kernel's struct perf_event_header. Size is
// the total framed size of the record, header included.
type RecordHeader struct {
	Type uint32
	Misc uint16
	Size uint16
}

const recordHeaderSize = int(unsafe.Sizeof(RecordHeader{}))

// copyFromRing copies len(dst) bytes out of the circular ring starting
// at off, splitting the copy at the physical end of the buffer when the
// range wraps. off may exceed the capacity; it is taken modulo. The
// routine is pure: it knows nothing about cursors or fences and never
// touches bytes outside the ring.
func copyFromRing(dst, ring []byte, off uint64) {
	size := uint64(len(ring))
	off %= size

	n := copy(dst, ring[off:])
	copy(dst[n:], ring)
}

// ReadRecord drains (or, with peek set, inspects) the next record in
// the ring. Up to len(dst) payload bytes are copied into dst; the
// record's header is not part of the payload.
//
// The result is a tri-state:
//
//	(hdr, n, true, nil)   a complete record; n is its true payload
//	                      length, which may exceed len(dst) (the copy
//	                      is truncated, the record still fully retired)
//	                      and may legitimately be zero.
//	(_, 0, false, nil)    no complete record is available yet.
//	(_, 0, false, err)    the ring is corrupt (ErrBadRecordSize).
//
// Unless peek is set, a successful read retires the record by advancing
// the tail cursor by the full framed size, even when dst was too small
// to hold the payload. Peeking commits nothing: two consecutive peeks
// with no producer activity in between observe the same record.
func (s *Session) ReadRecord(dst []byte, peek bool) (RecordHeader, int, bool, error) {
	if s.closed {
		return RecordHeader{}, 0, false, ErrClosed
	}

	// The acquire load of head pairs with the kernel's release store:
	// once the new head is visible, so are the record bytes behind it.
	// The tail is this consumer's own; a plain load of its last store
	// would do, but the atomic costs nothing and keeps the race
	// detector quiet.
	head := atomic.LoadUint64(&s.meta.Data_head)
	tail := atomic.LoadUint64(&s.meta.Data_tail)

	// Both cursors are unbounded, non-decreasing counters. A torn or
	// stale reading can only make the window look smaller, which fails
	// this check and returns "no data" instead of reading junk.
	if tail+uint64(recordHeaderSize) > head {
		return RecordHeader{}, 0, false, nil
	}

	var hdr RecordHeader
	copyFromRing((*[recordHeaderSize]byte)(unsafe.Pointer(&hdr))[:], s.ring, tail)

	if int(hdr.Size) < recordHeaderSize {
		return RecordHeader{}, 0, false, fmt.Errorf("%w: size=%d, header is %d bytes",
			ErrBadRecordSize, hdr.Size, recordHeaderSize)
	}
	payload := int(hdr.Size) - recordHeaderSize

	// The header fitting does not mean the whole record does: the
	// producer may have published the header before finishing the
	// payload. Never expose or retire a partially written record.
	if tail+uint64(hdr.Size) > head {
		return RecordHeader{}, 0, false, nil
	}

	if n := min(payload, len(dst)); n > 0 {
		copyFromRing(dst[:n], s.ring, tail+uint64(recordHeaderSize))
	}

	if !peek {
		// Release store: the kernel must not see the new tail before
		// our reads of the region it frees are done.
		atomic.StoreUint64(&s.meta.Data_tail, tail+uint64(hdr.Size))
	}
	return hdr, payload, true, nil
}

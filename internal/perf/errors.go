package perf

import "errors"

// Error kinds returned by this package. Callers match them with
// errors.Is; the underlying errno (if any) stays wrapped alongside.
var (
	// ErrResource means the perf_event_open request itself failed, for
	// example because of an unsupported configuration or insufficient
	// privileges. No resources are held when it is returned.
	ErrResource = errors.New("perf: event open failed")

	// ErrMapping means the ring buffer mapping failed after the event
	// was created. The file descriptor has already been released when
	// it is returned; no half-open Session is ever observable.
	ErrMapping = errors.New("perf: ring buffer mapping failed")

	// ErrControl means an enable/disable/reset ioctl failed. Control
	// failures have no effect on the ring cursors.
	ErrControl = errors.New("perf: control request failed")

	// ErrBadRecordSize means a record header in the ring declared a
	// total size smaller than the header itself. The ring contents are
	// corrupt (or the read was torn); the record cannot be framed.
	ErrBadRecordSize = errors.New("perf: record header declares impossible size")

	// ErrClosed is returned by operations on a closed Session.
	ErrClosed = errors.New("perf: session is closed")
)

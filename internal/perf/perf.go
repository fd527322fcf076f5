// Package perf opens Linux perf_event samplers and drains their
// memory-mapped ring buffers without blocking.
//
// A Session owns one perf_event file descriptor and the mmapped region
// the kernel publishes records into (one control page followed by a
// power-of-two number of data pages). The kernel appends variable-length
// framed records and advances the head cursor; this package reads them
// out and advances the tail cursor. Exactly one goroutine may drain a
// Session; readiness is the caller's concern (poll the FD, then call
// ReadRecord until it reports no data).
package perf

import (
	"os"
)

var pageSize = os.Getpagesize()

// Supported reports whether the running kernel exposes the
// perf_event_open system call.
func Supported() bool {
	// The perf_event_open(2) man page names this file as the official
	// way to probe for support.
	_, err := os.Stat("/proc/sys/kernel/perf_event_paranoid")
	return err == nil
}

// DataPagesFor returns a ring size, in pages, that holds roughly ten
// seconds of task-clock samples at the given frequency. The result is
// the next power of two, as the kernel requires, and at least one page.
func DataPagesFor(frequency uint64) int {
	const bufferSecs = 10
	need := int(bufferSecs*frequency) * (sampleSize + recordHeaderSize) / pageSize
	pages := 1
	for pages < need {
		pages <<= 1
	}
	return pages
}

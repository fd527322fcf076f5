package perf

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// Sample is one decoded CPU-clock sample, layout-compatible with the
// raw record payload produced by TaskClockAttr's sample format.
type Sample struct {
	IP   uint64 // instruction pointer
	PID  uint32
	TID  uint32
	Time uint64 // monotonic nanoseconds
	CPU  uint32
}

// sampleSize is the encoded payload size of one Sample record:
// PERF_SAMPLE_IP (8) + PERF_SAMPLE_TID (4+4) + PERF_SAMPLE_TIME (8) +
// PERF_SAMPLE_CPU (4 + 4 reserved).
const sampleSize = 32

// TaskClockAttr returns the event attribute for a software task-clock
// sampler generating frequency samples per second. The event starts
// disabled; samples carry IP, PID/TID, timestamp and CPU. wakeupEvents
// controls how many samples accumulate before the FD becomes readable.
func TaskClockAttr(frequency uint64, wakeupEvents uint32) *unix.PerfEventAttr {
	return &unix.PerfEventAttr{
		Type:        unix.PERF_TYPE_SOFTWARE,
		Size:        uint32(unsafe.Sizeof(unix.PerfEventAttr{})),
		Config:      unix.PERF_COUNT_SW_TASK_CLOCK,
		Sample:      frequency, // freq mode: samples per second
		Sample_type: unix.PERF_SAMPLE_IP | unix.PERF_SAMPLE_TID | unix.PERF_SAMPLE_TIME | unix.PERF_SAMPLE_CPU,
		Bits:        unix.PerfBitDisabled | unix.PerfBitFreq,
		Wakeup:      wakeupEvents,
	}
}

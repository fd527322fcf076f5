package perf

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/sys/unix"
)

// Record types this consumer cares about. The ring can carry any
// PERF_RECORD_* type; unrecognized ones are skipped by callers after
// retiring them.
const (
	RecordTypeSample     = unix.PERF_RECORD_SAMPLE
	RecordTypeLost       = unix.PERF_RECORD_LOST
	RecordTypeThrottle   = unix.PERF_RECORD_THROTTLE
	RecordTypeUnthrottle = unix.PERF_RECORD_UNTHROTTLE
)

// DecodeSample decodes a PERF_RECORD_SAMPLE payload written with
// TaskClockAttr's sample format. The fields appear in the order fixed
// by the kernel: IP, TID, TIME, CPU.
func DecodeSample(payload []byte) (Sample, error) {
	if len(payload) < sampleSize {
		return Sample{}, fmt.Errorf("sample payload is %d bytes, want %d", len(payload), sampleSize)
	}
	return Sample{
		IP:   binary.NativeEndian.Uint64(payload[0:]),
		PID:  binary.NativeEndian.Uint32(payload[8:]),
		TID:  binary.NativeEndian.Uint32(payload[12:]),
		Time: binary.NativeEndian.Uint64(payload[16:]),
		CPU:  binary.NativeEndian.Uint32(payload[24:]),
	}, nil
}

// DecodeLost decodes a PERF_RECORD_LOST payload and returns the number
// of records the kernel dropped because the ring was full.
func DecodeLost(payload []byte) (uint64, error) {
	// struct { u64 id; u64 lost; }
	if len(payload) < 16 {
		return 0, fmt.Errorf("lost-record payload is %d bytes, want 16", len(payload))
	}
	return binary.NativeEndian.Uint64(payload[8:]), nil
}

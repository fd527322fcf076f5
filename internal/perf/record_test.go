package perf

import (
	"encoding/binary"
	"testing"
)

func TestDecodeSample(t *testing.T) {
	payload := make([]byte, sampleSize)
	binary.NativeEndian.PutUint64(payload[0:], 0xffffffff81000042) // ip
	binary.NativeEndian.PutUint32(payload[8:], 1234)               // pid
	binary.NativeEndian.PutUint32(payload[12:], 5678)              // tid
	binary.NativeEndian.PutUint64(payload[16:], 987654321)         // time
	binary.NativeEndian.PutUint32(payload[24:], 3)                 // cpu

	s, err := DecodeSample(payload)
	if err != nil {
		t.Fatalf("DecodeSample: %v", err)
	}
	want := Sample{IP: 0xffffffff81000042, PID: 1234, TID: 5678, Time: 987654321, CPU: 3}
	if s != want {
		t.Errorf("sample = %+v, want %+v", s, want)
	}
}

func TestDecodeSampleShortPayload(t *testing.T) {
	if _, err := DecodeSample(make([]byte, sampleSize-1)); err == nil {
		t.Error("expected error for short payload")
	}
}

func TestDecodeLost(t *testing.T) {
	payload := make([]byte, 16)
	binary.NativeEndian.PutUint64(payload[0:], 7)   // id
	binary.NativeEndian.PutUint64(payload[8:], 312) // lost

	lost, err := DecodeLost(payload)
	if err != nil {
		t.Fatalf("DecodeLost: %v", err)
	}
	if lost != 312 {
		t.Errorf("lost = %d, want 312", lost)
	}

	if _, err := DecodeLost(payload[:8]); err == nil {
		t.Error("expected error for short payload")
	}
}

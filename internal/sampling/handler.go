package sampling

import (
	"github.com/phuslu/log"

	"perf_exporter/internal/logger"
	"perf_exporter/internal/perf"
)

// SampleHandler receives decoded CPU samples from the drain pumps.
// Implementations must be safe for concurrent calls: one pump runs per
// session.
type SampleHandler interface {
	HandleSample(sample perf.Sample) error
}

// LostHandler receives the kernel's dropped-record counts, reported
// when the ring overflowed because the consumer fell behind.
type LostHandler interface {
	HandleLost(count uint64) error
}

// EventHandler routes drained ring records to the registered
// collectors. The routing tables are fixed before Start; pumps read
// them without locking.
type EventHandler struct {
	sampleHandlers []SampleHandler
	lostHandlers   []LostHandler

	log log.Logger
}

// NewEventHandler creates a new handler with no collectors registered.
func NewEventHandler() *EventHandler {
	return &EventHandler{
		log: logger.NewLoggerWithContext("event-handler"),
	}
}

// RegisterSampleHandler adds a collector for decoded samples.
func (h *EventHandler) RegisterSampleHandler(handler SampleHandler) {
	h.sampleHandlers = append(h.sampleHandlers, handler)
}

// RegisterLostHandler adds a collector for dropped-record counts.
func (h *EventHandler) RegisterLostHandler(handler LostHandler) {
	h.lostHandlers = append(h.lostHandlers, handler)
}

// handleRecord dispatches one retired record. payload holds the bytes
// actually copied out of the ring; truePayload is the record's declared
// payload length, which can exceed len(payload) when the drain buffer
// was too small.
func (h *EventHandler) handleRecord(stats *SessionStats, hdr perf.RecordHeader, payload []byte, truePayload int) {
	if truePayload > len(payload) {
		stats.Truncated.Add(1)
		h.log.Warn().
			Uint32("type", hdr.Type).
			Int("size", truePayload).
			Int("copied", len(payload)).
			Msg("Record truncated by drain buffer")
		return
	}

	switch hdr.Type {
	case perf.RecordTypeSample:
		sample, err := perf.DecodeSample(payload)
		if err != nil {
			stats.DecodeErrors.Add(1)
			h.log.Warn().Err(err).Msg("Undecodable sample record")
			return
		}
		stats.Samples.Add(1)
		for _, handler := range h.sampleHandlers {
			if err := handler.HandleSample(sample); err != nil {
				h.log.Error().Err(err).Msg("Sample handler failed")
			}
		}

	case perf.RecordTypeLost:
		count, err := perf.DecodeLost(payload)
		if err != nil {
			stats.DecodeErrors.Add(1)
			h.log.Warn().Err(err).Msg("Undecodable lost record")
			return
		}
		stats.Lost.Add(count)
		h.log.Warn().Uint64("count", count).Msg("Kernel dropped records, ring overflowed")
		for _, handler := range h.lostHandlers {
			if err := handler.HandleLost(count); err != nil {
				h.log.Error().Err(err).Msg("Lost handler failed")
			}
		}

	case perf.RecordTypeThrottle, perf.RecordTypeUnthrottle:
		stats.Throttles.Add(1)

	default:
		stats.Other.Add(1)
	}
}

package sampling

import (
	"github.com/prometheus/client_golang/prometheus"
)

// StatsCollector implements prometheus.Collector for the health of the
// sampling pipeline itself: per-session drain counters and ring sizing.
type StatsCollector struct {
	manager *Manager

	recordsDesc       *prometheus.Desc
	bytesDesc         *prometheus.Desc
	samplesDesc       *prometheus.Desc
	lostDesc          *prometheus.Desc
	throttlesDesc     *prometheus.Desc
	truncatedDesc     *prometheus.Desc
	decodeErrorsDesc  *prometheus.Desc
	framingErrorsDesc *prometheus.Desc
	wakeupsDesc       *prometheus.Desc
	ringBytesDesc     *prometheus.Desc
}

// NewStatsCollector creates a collector reporting on the given manager.
func NewStatsCollector(m *Manager) *StatsCollector {
	return &StatsCollector{
		manager: m,

		recordsDesc: prometheus.NewDesc(
			"perf_consumer_records_total",
			"Total number of records retired from a session's ring buffer.",
			[]string{"target"}, nil,
		),
		bytesDesc: prometheus.NewDesc(
			"perf_consumer_bytes_total",
			"Total ring buffer bytes retired for a session, record headers included.",
			[]string{"target"}, nil,
		),
		samplesDesc: prometheus.NewDesc(
			"perf_consumer_samples_total",
			"Total number of CPU samples decoded and dispatched for a session.",
			[]string{"target"}, nil,
		),
		lostDesc: prometheus.NewDesc(
			"perf_consumer_lost_records_total",
			"Total number of records the kernel dropped for a session because the ring overflowed.",
			[]string{"target"}, nil,
		),
		throttlesDesc: prometheus.NewDesc(
			"perf_consumer_throttles_total",
			"Total number of throttle and unthrottle notifications for a session.",
			[]string{"target"}, nil,
		),
		truncatedDesc: prometheus.NewDesc(
			"perf_consumer_truncated_records_total",
			"Total number of records too large for the drain buffer, retired but not dispatched.",
			[]string{"target"}, nil,
		),
		decodeErrorsDesc: prometheus.NewDesc(
			"perf_consumer_decode_errors_total",
			"Total number of records with payloads that failed to decode.",
			[]string{"target"}, nil,
		),
		framingErrorsDesc: prometheus.NewDesc(
			"perf_consumer_framing_errors_total",
			"Total number of corrupt record headers observed. A non-zero value means the session was abandoned.",
			[]string{"target"}, nil,
		),
		wakeupsDesc: prometheus.NewDesc(
			"perf_consumer_wakeups_total",
			"Total number of poll wakeups with data available for a session.",
			[]string{"target"}, nil,
		),
		ringBytesDesc: prometheus.NewDesc(
			"perf_ring_data_bytes",
			"Size of each session's ring buffer data area in bytes.",
			nil, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *StatsCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.recordsDesc
	ch <- c.bytesDesc
	ch <- c.samplesDesc
	ch <- c.lostDesc
	ch <- c.throttlesDesc
	ch <- c.truncatedDesc
	ch <- c.decodeErrorsDesc
	ch <- c.framingErrorsDesc
	ch <- c.wakeupsDesc
	ch <- c.ringBytesDesc
}

// Collect implements prometheus.Collector.
// It is called by Prometheus on each scrape.
func (c *StatsCollector) Collect(ch chan<- prometheus.Metric) {
	if !c.manager.IsRunning() {
		return
	}

	stats, ringSize := c.manager.Stats()

	ch <- prometheus.MustNewConstMetric(
		c.ringBytesDesc,
		prometheus.GaugeValue,
		float64(ringSize),
	)

	for _, s := range stats {
		counter := func(desc *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(desc, prometheus.CounterValue, float64(v), s.Target)
		}
		counter(c.recordsDesc, s.Records.Load())
		counter(c.bytesDesc, s.Bytes.Load())
		counter(c.samplesDesc, s.Samples.Load())
		counter(c.lostDesc, s.Lost.Load())
		counter(c.throttlesDesc, s.Throttles.Load())
		counter(c.truncatedDesc, s.Truncated.Load())
		counter(c.decodeErrorsDesc, s.DecodeErrors.Load())
		counter(c.framingErrorsDesc, s.FramingErrors.Load())
		counter(c.wakeupsDesc, s.Wakeups.Load())
	}
}

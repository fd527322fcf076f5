// Package cpusamples aggregates CPU profiling samples into Prometheus
// metrics: sample counts per CPU and, optionally, per process and per
// mapped executable object.
package cpusamples

import (
	"strconv"
	"sync"

	"github.com/phuslu/log"
	"github.com/prometheus/client_golang/prometheus"

	"perf_exporter/internal/config"
	"perf_exporter/internal/logger"
	"perf_exporter/internal/perf"
)

// processCount holds per-process aggregation for a single scrape view.
type processCount struct {
	comm  string
	count uint64
}

// overflowLabel is the catch-all series new processes and objects fall
// into once the per-series cap is reached. Counts keep accumulating
// there, so totals stay correct while cardinality stays bounded.
const overflowLabel = "other"

// Collector implements prometheus.Collector for CPU sample metrics.
// It follows the custom collector pattern: the drain pumps feed it via
// HandleSample, and each scrape snapshots the aggregates under a lock.
//
// Cardinality stays bounded: one series per CPU, and at most maxSeries
// per-process and per-object series plus one overflow bucket each.
type Collector struct {
	mu           sync.RWMutex
	perCPU       map[uint32]uint64
	perProcess   map[uint32]*processCount
	perObject    map[string]uint64
	procOverflow uint64 // samples for PIDs past the series cap
	objOverflow  uint64 // samples for objects past the series cap
	lastSample   uint64 // timestamp of the newest sample, kernel clock ns

	perProcessEnabled bool
	perObjectEnabled  bool
	maxSeries         int
	comms             *CommResolver
	objects           *ObjectResolver

	samplesDesc    *prometheus.Desc
	processDesc    *prometheus.Desc
	objectDesc     *prometheus.Desc
	lastSampleDesc *prometheus.Desc

	log log.Logger
}

// NewCollector creates a CPU samples collector with the given settings.
func NewCollector(cfg *config.CPUSamplesConfig) *Collector {
	maxSeries := cfg.ProcessCacheSize
	if maxSeries <= 0 {
		maxSeries = 1024
	}
	return &Collector{
		perCPU:            make(map[uint32]uint64),
		perProcess:        make(map[uint32]*processCount),
		perObject:         make(map[string]uint64),
		perProcessEnabled: cfg.PerProcess,
		perObjectEnabled:  cfg.PerObject,
		maxSeries:         maxSeries,
		comms:             NewCommResolver(cfg.ProcessCacheSize),
		objects:           NewObjectResolver(cfg.ProcessCacheSize),

		samplesDesc: prometheus.NewDesc(
			"perf_cpu_samples_total",
			"Total number of profiling samples observed per CPU.",
			[]string{"cpu"}, nil,
		),
		processDesc: prometheus.NewDesc(
			"perf_process_samples_total",
			"Total number of profiling samples observed per process.",
			[]string{"process_id", "process_name"}, nil,
		),
		objectDesc: prometheus.NewDesc(
			"perf_object_samples_total",
			"Total number of profiling samples attributed to a mapped executable object.",
			[]string{"object"}, nil,
		),
		lastSampleDesc: prometheus.NewDesc(
			"perf_last_sample_timestamp_nanoseconds",
			"Kernel timestamp of the most recent sample, in nanoseconds.",
			nil, nil,
		),

		log: logger.NewLoggerWithContext("cpusamples"),
	}
}

// HandleSample aggregates one decoded sample. Called concurrently by
// the drain pumps.
func (c *Collector) HandleSample(s perf.Sample) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.perCPU[s.CPU]++
	if s.Time > c.lastSample {
		c.lastSample = s.Time
	}

	if c.perProcessEnabled {
		pc := c.perProcess[s.PID]
		switch {
		case pc != nil:
			pc.count++
		case len(c.perProcess) < c.maxSeries:
			c.perProcess[s.PID] = &processCount{comm: c.comms.Lookup(s.PID), count: 1}
		default:
			c.procOverflow++
		}
	}

	if c.perObjectEnabled {
		object := c.objects.Resolve(s.PID, s.IP)
		if _, known := c.perObject[object]; known || len(c.perObject) < c.maxSeries {
			c.perObject[object]++
		} else {
			c.objOverflow++
		}
	}
	return nil
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.samplesDesc
	ch <- c.processDesc
	ch <- c.objectDesc
	ch <- c.lastSampleDesc
}

// Collect implements prometheus.Collector.
// It is called by Prometheus on each scrape.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for cpu, count := range c.perCPU {
		ch <- prometheus.MustNewConstMetric(
			c.samplesDesc,
			prometheus.CounterValue,
			float64(count),
			strconv.FormatUint(uint64(cpu), 10),
		)
	}

	if c.lastSample > 0 {
		ch <- prometheus.MustNewConstMetric(
			c.lastSampleDesc,
			prometheus.GaugeValue,
			float64(c.lastSample),
		)
	}

	for pid, pc := range c.perProcess {
		ch <- prometheus.MustNewConstMetric(
			c.processDesc,
			prometheus.CounterValue,
			float64(pc.count),
			strconv.FormatUint(uint64(pid), 10),
			pc.comm,
		)
	}
	if c.procOverflow > 0 {
		ch <- prometheus.MustNewConstMetric(
			c.processDesc,
			prometheus.CounterValue,
			float64(c.procOverflow),
			overflowLabel,
			overflowLabel,
		)
	}

	for object, count := range c.perObject {
		ch <- prometheus.MustNewConstMetric(
			c.objectDesc,
			prometheus.CounterValue,
			float64(count),
			object,
		)
	}
	if c.objOverflow > 0 {
		ch <- prometheus.MustNewConstMetric(
			c.objectDesc,
			prometheus.CounterValue,
			float64(c.objOverflow),
			overflowLabel,
		)
	}
}

package sampling

import (
	"context"
	"fmt"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/phuslu/log"
	"golang.org/x/sys/unix"

	"perf_exporter/internal/config"
	"perf_exporter/internal/logger"
	"perf_exporter/internal/perf"
)

// drainBufSize bounds a single record copy. The task-clock sample
// payload is 32 bytes, so this is generous headroom for any record the
// kernel emits on these sessions.
const drainBufSize = 64 * 1024

// pollTimeoutMs bounds how long a pump sleeps in poll(2) before it
// rechecks for shutdown.
const pollTimeoutMs = 200

// poll is swapped out by tests.
var poll = unix.Poll

// SessionStats holds per-session drain counters. Pumps write them with
// atomics; the Prometheus collector reads them without locking.
type SessionStats struct {
	// Target labels the session: "cpuN" for a CPU-wide session or
	// "pidN" when sampling a single process.
	Target string

	Records       atomic.Uint64 // records retired from the ring
	Bytes         atomic.Uint64 // ring bytes retired, headers included
	Samples       atomic.Uint64 // decoded CPU samples dispatched
	Lost          atomic.Uint64 // records the kernel dropped on overflow
	Throttles     atomic.Uint64 // throttle and unthrottle notifications
	Other         atomic.Uint64 // record types with no handler
	Truncated     atomic.Uint64 // records larger than the drain buffer
	DecodeErrors  atomic.Uint64 // records with undecodable payloads
	FramingErrors atomic.Uint64 // corrupt headers, session abandoned
	Wakeups       atomic.Uint64 // poll wakeups with data available
}

// managedSession pairs an open ring with its counters and pump state.
type managedSession struct {
	sess  *perf.Session
	stats *SessionStats
}

// Manager owns the sampling sessions: one per CPU when sampling
// system-wide, or a single session when targeting one process. Each
// session gets a pump goroutine that drains the ring on poll wakeups
// and feeds records to the EventHandler.
type Manager struct {
	mu      sync.Mutex
	running bool

	cfg     *config.SamplerConfig
	handler *EventHandler

	sessions []*managedSession
	ringSize int
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	log log.Logger
}

// NewManager creates a manager for the given sampler configuration.
// Records are dispatched through handler.
func NewManager(cfg *config.SamplerConfig, handler *EventHandler) *Manager {
	return &Manager{
		cfg:     cfg,
		handler: handler,
		log:     logger.NewLoggerWithContext("sampling"),
	}
}

// Start opens the sessions, enables counting and launches the drain
// pumps. Any open failure rolls back the sessions opened so far.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("sampling manager already running")
	}

	wakeup := m.cfg.WakeupEvents
	if wakeup == 0 {
		// One wakeup per second of samples at the requested rate.
		wakeup = uint32(m.cfg.Frequency)
	}
	attr := perf.TaskClockAttr(m.cfg.Frequency, wakeup)

	numPages := m.cfg.NumPages
	if numPages == 0 {
		numPages = perf.DataPagesFor(m.cfg.Frequency)
	}

	sessions, err := m.openSessions(attr, numPages)
	if err != nil {
		return err
	}

	for _, ms := range sessions {
		if err := ms.sess.Start(true); err != nil {
			closeSessions(sessions, m.log)
			return fmt.Errorf("enabling session %s: %w", ms.stats.Target, err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	for _, ms := range sessions {
		m.wg.Add(1)
		go m.pump(ctx, ms)
	}

	m.sessions = sessions
	m.ringSize = sessions[0].sess.RingSize()
	m.cancel = cancel
	m.running = true

	m.log.Info().
		Int("sessions", len(sessions)).
		Uint64("frequency", m.cfg.Frequency).
		Int("ring_pages", numPages).
		Msg("Sampling started")
	return nil
}

// openSessions opens one session per CPU, or a single session bound to
// the configured target process.
func (m *Manager) openSessions(attr *unix.PerfEventAttr, numPages int) ([]*managedSession, error) {
	var sessions []*managedSession

	open := func(pid, cpu int, target string) error {
		sess, err := perf.Open(attr, pid, cpu, numPages)
		if err != nil {
			closeSessions(sessions, m.log)
			return fmt.Errorf("opening session %s: %w", target, err)
		}
		sessions = append(sessions, &managedSession{
			sess:  sess,
			stats: &SessionStats{Target: target},
		})
		return nil
	}

	if m.cfg.TargetPID >= 0 {
		if err := open(m.cfg.TargetPID, -1, "pid"+strconv.Itoa(m.cfg.TargetPID)); err != nil {
			return nil, err
		}
		return sessions, nil
	}

	for cpu := 0; cpu < runtime.NumCPU(); cpu++ {
		if err := open(-1, cpu, "cpu"+strconv.Itoa(cpu)); err != nil {
			return nil, err
		}
	}
	return sessions, nil
}

// Stop halts the pumps, disables counting and releases every session.
// Safe to call when not running.
func (m *Manager) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.running {
		return nil
	}

	m.cancel()
	m.wg.Wait()

	var firstErr error
	for _, ms := range m.sessions {
		if err := ms.sess.Stop(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("disabling session %s: %w", ms.stats.Target, err)
		}
		if err := ms.sess.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing session %s: %w", ms.stats.Target, err)
		}
	}

	m.sessions = nil
	m.cancel = nil
	m.running = false

	m.log.Info().Msg("Sampling stopped")
	return firstErr
}

// IsRunning reports whether the sessions are open and pumping.
func (m *Manager) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Stats returns the live per-session counters and the data area size
// in bytes. The returned stats are updated concurrently by the pumps.
func (m *Manager) Stats() ([]*SessionStats, int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stats := make([]*SessionStats, 0, len(m.sessions))
	for _, ms := range m.sessions {
		stats = append(stats, ms.stats)
	}
	return stats, m.ringSize
}

// pump blocks in poll(2) until the kernel signals readable data, then
// drains the ring. A framing error abandons the session: the cursors
// cannot be trusted after a corrupt header.
func (m *Manager) pump(ctx context.Context, ms *managedSession) {
	defer m.wg.Done()

	buf := make([]byte, drainBufSize)
	fds := []unix.PollFd{{Fd: int32(ms.sess.FD()), Events: unix.POLLIN}}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		fds[0].Revents = 0
		n, err := poll(fds, pollTimeoutMs)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			m.log.Error().Err(err).Str("target", ms.stats.Target).Msg("Poll failed, pump exiting")
			return
		}
		if n == 0 {
			continue
		}

		ms.stats.Wakeups.Add(1)
		if err := m.drain(ms, buf); err != nil {
			return
		}
	}
}

// drain retires records until the ring is empty.
func (m *Manager) drain(ms *managedSession, buf []byte) error {
	for {
		hdr, payload, ok, err := ms.sess.ReadRecord(buf, false)
		if err != nil {
			ms.stats.FramingErrors.Add(1)
			m.log.Error().Err(err).Str("target", ms.stats.Target).Msg("Ring framing error, abandoning session")
			return err
		}
		if !ok {
			return nil
		}

		ms.stats.Records.Add(1)
		ms.stats.Bytes.Add(uint64(hdr.Size))

		n := payload
		if n > len(buf) {
			n = len(buf)
		}
		m.handler.handleRecord(ms.stats, hdr, buf[:n], payload)
	}
}

func closeSessions(sessions []*managedSession, l log.Logger) {
	for _, ms := range sessions {
		if err := ms.sess.Close(); err != nil {
			l.Warn().Err(err).Str("target", ms.stats.Target).Msg("Session close failed during rollback")
		}
	}
}

package cpusamples

import (
	"bytes"
	"os"
	"strconv"

	lru "github.com/hashicorp/golang-lru/v2"
)

// unknownComm labels samples whose process exited before the name
// could be read, and kernel-context samples with no process.
const unknownComm = "unknown"

// readComm is swapped out by tests.
var readComm = func(pid uint32) ([]byte, error) {
	return os.ReadFile("/proc/" + strconv.FormatUint(uint64(pid), 10) + "/comm")
}

// CommResolver maps process IDs to their command names. Lookups read
// /proc/<pid>/comm once and cache the result; the LRU bound keeps the
// cache from growing with process churn. PIDs are recycled by the
// kernel, so a cached name can go stale; acceptable for labeling.
type CommResolver struct {
	cache *lru.Cache[uint32, string]
}

// NewCommResolver creates a resolver caching up to size names.
func NewCommResolver(size int) *CommResolver {
	if size <= 0 {
		size = 1024
	}
	// Only errors on non-positive size.
	cache, _ := lru.New[uint32, string](size)
	return &CommResolver{cache: cache}
}

// Lookup returns the command name for pid, or "unknown" when the
// process is gone or unreadable.
func (r *CommResolver) Lookup(pid uint32) string {
	if name, ok := r.cache.Get(pid); ok {
		return name
	}

	raw, err := readComm(pid)
	if err != nil {
		// Do not cache failures: the process may appear later under
		// a recycled PID.
		return unknownComm
	}

	name := string(bytes.TrimRight(raw, "\n"))
	if name == "" {
		name = unknownComm
	}
	r.cache.Add(pid, name)
	return name
}

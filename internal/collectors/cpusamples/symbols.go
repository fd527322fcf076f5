package cpusamples

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
)

// unknownObject labels samples whose instruction pointer falls outside
// every file-backed mapping of the process, including kernel-context
// samples and JIT or anonymous executable regions.
const unknownObject = "unknown"

// openMaps is swapped out by tests.
var openMaps = func(pid uint32) (io.ReadCloser, error) {
	return os.Open("/proc/" + strconv.FormatUint(uint64(pid), 10) + "/maps")
}

// MappedRegion is one file-backed range of a process's address space,
// parsed from a /proc/<pid>/maps line. Offset is where the mapped
// region starts within the file.
type MappedRegion struct {
	File   string
	Begin  uint64
	End    uint64
	Offset uint64
}

// parseMapsLine parses one /proc/<pid>/maps line:
//
//	begin-end perms offset dev inode [pathname]
//
// Anonymous mappings have an empty pathname.
func parseMapsLine(line string) (MappedRegion, error) {
	fields := strings.SplitN(line, " ", 6)
	if len(fields) < 5 {
		return MappedRegion{}, fmt.Errorf("maps line has %d fields: %q", len(fields), line)
	}

	begin, end, ok := strings.Cut(fields[0], "-")
	if !ok {
		return MappedRegion{}, fmt.Errorf("bad address range %q", fields[0])
	}
	r := MappedRegion{}
	var err error
	if r.Begin, err = strconv.ParseUint(begin, 16, 64); err != nil {
		return MappedRegion{}, fmt.Errorf("bad range start %q: %w", begin, err)
	}
	if r.End, err = strconv.ParseUint(end, 16, 64); err != nil {
		return MappedRegion{}, fmt.Errorf("bad range end %q: %w", end, err)
	}
	if r.Offset, err = strconv.ParseUint(fields[2], 16, 64); err != nil {
		return MappedRegion{}, fmt.Errorf("bad offset %q: %w", fields[2], err)
	}
	if len(fields) == 6 {
		r.File = strings.TrimSpace(fields[5])
	}
	return r, nil
}

// readMappedRegions returns the file-backed regions of a process, in
// the kernel's address order. Anonymous regions are dropped: an IP in
// one resolves to no object either way.
func readMappedRegions(pid uint32) ([]MappedRegion, error) {
	f, err := openMaps(pid)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var regions []MappedRegion
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		region, err := parseMapsLine(scanner.Text())
		if err != nil {
			return nil, err
		}
		if region.File == "" {
			continue
		}
		regions = append(regions, region)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return regions, nil
}

// ObjectResolver attributes sampled instruction pointers to the mapped
// file containing them, the executable itself or a loaded shared
// object. Each process's map is read once and cached under the same
// staleness caveat as the comm cache: regions mapped after the first
// lookup resolve to "unknown" until the entry ages out of the LRU.
type ObjectResolver struct {
	cache *lru.Cache[uint32, []MappedRegion]
}

// NewObjectResolver creates a resolver caching the mappings of up to
// size processes.
func NewObjectResolver(size int) *ObjectResolver {
	if size <= 0 {
		size = 1024
	}
	// Only errors on non-positive size.
	cache, _ := lru.New[uint32, []MappedRegion](size)
	return &ObjectResolver{cache: cache}
}

// Resolve returns the base name of the mapped file containing ip in
// pid's address space, or "unknown" when no file-backed region covers
// it or the process is gone.
func (r *ObjectResolver) Resolve(pid uint32, ip uint64) string {
	regions, ok := r.cache.Get(pid)
	if !ok {
		var err error
		regions, err = readMappedRegions(pid)
		if err != nil {
			// Do not cache failures: the process may appear later
			// under a recycled PID.
			return unknownObject
		}
		r.cache.Add(pid, regions)
	}

	for _, region := range regions {
		if ip >= region.Begin && ip < region.End {
			return filepath.Base(region.File)
		}
	}
	return unknownObject
}

package perf

import (
	"errors"
	"testing"

	"golang.org/x/sys/unix"
)

// stubSyscalls replaces the syscall seams for one test and restores
// them on cleanup. Unset stubs succeed with benign defaults.
type stubSyscalls struct {
	openErr   error
	mmapErr   error
	ioctlErrs map[uint]error // per request

	openedFDs []int
	closedFDs []int
	mapped    [][]byte
	unmapped  [][]byte
	ioctls    []uint
}

func installStubs(t *testing.T, st *stubSyscalls) {
	t.Helper()

	origOpen, origMmap, origMunmap, origClose, origIoctl := perfEventOpen, mmap, munmap, closeFD, ioctl
	t.Cleanup(func() {
		perfEventOpen, mmap, munmap, closeFD, ioctl = origOpen, origMmap, origMunmap, origClose, origIoctl
	})

	nextFD := 41
	perfEventOpen = func(attr *unix.PerfEventAttr, pid, cpu, groupFD, flags int) (int, error) {
		if st.openErr != nil {
			return -1, st.openErr
		}
		nextFD++
		st.openedFDs = append(st.openedFDs, nextFD)
		return nextFD, nil
	}
	mmap = func(fd int, offset int64, length, prot, flags int) ([]byte, error) {
		if st.mmapErr != nil {
			return nil, st.mmapErr
		}
		mem := make([]byte, length)
		st.mapped = append(st.mapped, mem)
		return mem, nil
	}
	munmap = func(b []byte) error {
		st.unmapped = append(st.unmapped, b)
		return nil
	}
	closeFD = func(fd int) error {
		st.closedFDs = append(st.closedFDs, fd)
		return nil
	}
	ioctl = func(fd int, req uint, value int) error {
		st.ioctls = append(st.ioctls, req)
		if err, found := st.ioctlErrs[req]; found {
			return err
		}
		return nil
	}
}

func TestOpenRejectsBadArguments(t *testing.T) {
	tests := []struct {
		name     string
		pid, cpu int
		numPages int
	}{
		{"zero pages", 0, -1, 0},
		{"negative pages", 0, -1, -4},
		{"non power of two", 0, -1, 3},
		{"all pids on all cpus", -1, -1, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := &stubSyscalls{}
			installStubs(t, st)

			_, err := Open(TaskClockAttr(100, 100), tt.pid, tt.cpu, tt.numPages)
			if !errors.Is(err, ErrResource) {
				t.Fatalf("err = %v, want ErrResource", err)
			}
			if len(st.openedFDs) != 0 {
				t.Error("perf_event_open issued for rejected arguments")
			}
		})
	}
}

func TestOpenResourceFailure(t *testing.T) {
	st := &stubSyscalls{openErr: unix.EACCES}
	installStubs(t, st)

	s, err := Open(TaskClockAttr(100, 100), -1, 0, 8)
	if s != nil {
		t.Fatal("got a session despite open failure")
	}
	if !errors.Is(err, ErrResource) || !errors.Is(err, unix.EACCES) {
		t.Errorf("err = %v, want ErrResource wrapping EACCES", err)
	}
}

func TestOpenMappingFailureReleasesFD(t *testing.T) {
	st := &stubSyscalls{mmapErr: unix.ENOMEM}
	installStubs(t, st)

	s, err := Open(TaskClockAttr(100, 100), -1, 0, 8)
	if s != nil {
		t.Fatal("got a session despite mapping failure")
	}
	if !errors.Is(err, ErrMapping) {
		t.Fatalf("err = %v, want ErrMapping", err)
	}

	// Open is all or nothing: the just-created descriptor must not
	// leak when the mapping fails.
	if len(st.openedFDs) != 1 || len(st.closedFDs) != 1 || st.closedFDs[0] != st.openedFDs[0] {
		t.Errorf("fd not released: opened=%v closed=%v", st.openedFDs, st.closedFDs)
	}
}

func TestOpenMapsControlPlusDataPages(t *testing.T) {
	st := &stubSyscalls{}
	installStubs(t, st)

	const numPages = 8
	s, err := Open(TaskClockAttr(100, 100), -1, 0, numPages)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if len(st.mapped) != 1 || len(st.mapped[0]) != pageSize*(1+numPages) {
		t.Fatalf("mapped %d bytes, want %d", len(st.mapped[0]), pageSize*(1+numPages))
	}
	if s.RingSize() != pageSize*numPages {
		t.Errorf("RingSize = %d, want %d", s.RingSize(), pageSize*numPages)
	}
}

func TestCloseReleasesBothAndOnlyOnce(t *testing.T) {
	st := &stubSyscalls{}
	installStubs(t, st)

	s, err := Open(TaskClockAttr(100, 100), -1, 0, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if len(st.unmapped) != 1 || len(st.closedFDs) != 1 {
		t.Errorf("close released unmapped=%d fds=%d, want 1 and 1", len(st.unmapped), len(st.closedFDs))
	}

	if err := s.Close(); !errors.Is(err, ErrClosed) {
		t.Errorf("second Close: err = %v, want ErrClosed", err)
	}
	if len(st.unmapped) != 1 || len(st.closedFDs) != 1 {
		t.Error("double close released resources twice")
	}
}

func TestStartResetEnableOrder(t *testing.T) {
	st := &stubSyscalls{}
	installStubs(t, st)

	s, err := Open(TaskClockAttr(100, 100), -1, 0, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Start(true); err != nil {
		t.Fatalf("Start: %v", err)
	}
	want := []uint{unix.PERF_EVENT_IOC_RESET, unix.PERF_EVENT_IOC_ENABLE}
	if len(st.ioctls) != 2 || st.ioctls[0] != want[0] || st.ioctls[1] != want[1] {
		t.Errorf("ioctl order = %v, want %v", st.ioctls, want)
	}

	st.ioctls = nil
	if err := s.Start(false); err != nil {
		t.Fatalf("Start without reset: %v", err)
	}
	if len(st.ioctls) != 1 || st.ioctls[0] != unix.PERF_EVENT_IOC_ENABLE {
		t.Errorf("ioctls = %v, want only enable", st.ioctls)
	}
}

func TestStartResetFailureSkipsEnable(t *testing.T) {
	st := &stubSyscalls{ioctlErrs: map[uint]error{unix.PERF_EVENT_IOC_RESET: unix.EIO}}
	installStubs(t, st)

	s, err := Open(TaskClockAttr(100, 100), -1, 0, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := s.Start(true); !errors.Is(err, ErrControl) {
		t.Fatalf("err = %v, want ErrControl", err)
	}
	for _, req := range st.ioctls {
		if req == unix.PERF_EVENT_IOC_ENABLE {
			t.Error("enable issued after failed reset")
		}
	}
}

func TestStopFailure(t *testing.T) {
	st := &stubSyscalls{ioctlErrs: map[uint]error{unix.PERF_EVENT_IOC_DISABLE: unix.EIO}}
	installStubs(t, st)

	s, err := Open(TaskClockAttr(100, 100), -1, 0, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrControl) {
		t.Errorf("err = %v, want ErrControl", err)
	}
}

func TestControlOnClosedSession(t *testing.T) {
	st := &stubSyscalls{}
	installStubs(t, st)

	s, err := Open(TaskClockAttr(100, 100), -1, 0, 4)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	if err := s.Start(false); !errors.Is(err, ErrClosed) {
		t.Errorf("Start on closed: %v, want ErrClosed", err)
	}
	if err := s.Stop(); !errors.Is(err, ErrClosed) {
		t.Errorf("Stop on closed: %v, want ErrClosed", err)
	}
	if err := s.Reset(); !errors.Is(err, ErrClosed) {
		t.Errorf("Reset on closed: %v, want ErrClosed", err)
	}
}

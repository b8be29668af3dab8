package input

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

// timevalSize is 16 on 64-bit kernels and 8 on 32-bit ones.
const timevalSize = int(unsafe.Sizeof(unix.Timeval{}))

// eventSize is sizeof(struct input_event).
const eventSize = timevalSize + 8

// readBatch is the number of input_event records read per syscall.
const readBatch = 64

// ioctl request encoding for the asm-generic layout (x86, arm, arm64, riscv).
const (
	iocRead      = 2
	iocNRShift   = 0
	iocTypeShift = 8
	iocSizeShift = 16
	iocDirShift  = 30
)

func ioc(dir, typ, nr, size uintptr) uintptr {
	return dir<<iocDirShift | size<<iocSizeShift | typ<<iocTypeShift | nr<<iocNRShift
}

// eviocgname is EVIOCGNAME(len).
func eviocgname(size int) uintptr { return ioc(iocRead, 'E', 0x06, uintptr(size)) }

// eviocgbit is EVIOCGBIT(ev, len).
func eviocgbit(ev, size int) uintptr { return ioc(iocRead, 'E', uintptr(0x20+ev), uintptr(size)) }

// kernelEvent is a decoded struct input_event.
type kernelEvent struct {
	sec, usec int64
	typ, code uint16
	value     int32
}

// decodeEvents decodes every complete input_event record in buf.
func decodeEvents(buf []byte) []kernelEvent {
	out := make([]kernelEvent, 0, len(buf)/eventSize)
	for len(buf) >= eventSize {
		var ev kernelEvent
		if timevalSize == 16 {
			ev.sec = int64(binary.NativeEndian.Uint64(buf[0:8]))
			ev.usec = int64(binary.NativeEndian.Uint64(buf[8:16]))
		} else {
			ev.sec = int64(int32(binary.NativeEndian.Uint32(buf[0:4])))
			ev.usec = int64(int32(binary.NativeEndian.Uint32(buf[4:8])))
		}
		rest := buf[timevalSize:eventSize]
		ev.typ = binary.NativeEndian.Uint16(rest[0:2])
		ev.code = binary.NativeEndian.Uint16(rest[2:4])
		ev.value = int32(binary.NativeEndian.Uint32(rest[4:8]))
		out = append(out, ev)
		buf = buf[eventSize:]
	}
	return out
}

func hasBit(bits []byte, n int) bool {
	idx := n / 8
	if idx >= len(bits) {
		return false
	}
	return bits[idx]&(1<<(uint(n)%8)) != 0
}

func ioctlBuffer(f *os.File, req uintptr, buf []byte) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	var errno unix.Errno
	ctrlErr := raw.Control(func(fd uintptr) {
		_, _, errno = unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(unsafe.Pointer(&buf[0])))
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	if errno != 0 {
		return errno
	}
	return nil
}

// deviceName reads EVIOCGNAME; a failure yields the path's base name.
func deviceName(f *os.File, path string) string {
	buf := make([]byte, 256)
	if err := ioctlBuffer(f, eviocgname(len(buf)), buf); err != nil {
		return filepath.Base(path)
	}
	if i := slices.Index(buf, 0); i >= 0 {
		buf = buf[:i]
	}
	if len(buf) == 0 {
		return filepath.Base(path)
	}
	return string(buf)
}

// supportsKeys reports whether the device advertises EV_KEY.
func supportsKeys(f *os.File) (bool, error) {
	bits := make([]byte, 4)
	if err := ioctlBuffer(f, eviocgbit(0, len(bits)), bits); err != nil {
		return false, err
	}
	return hasBit(bits, evKey), nil
}

var openDeviceFn = openDevice

func openDevice(path string) (*os.File, string, error) {
	f, err := os.OpenFile(path, os.O_RDONLY, 0)
	if err != nil {
		return nil, "", err
	}
	ok, err := supportsKeys(f)
	if err != nil {
		_ = f.Close()
		return nil, "", fmt.Errorf("query event bits of %s: %w", path, err)
	}
	if !ok {
		_ = f.Close()
		return nil, "", errNotKeyboard
	}
	return f, deviceName(f, path), nil
}

var errNotKeyboard = errors.New("device does not report key events")

type evdevSource struct {
	events  chan RawKeyEvent
	done    chan struct{}
	once    sync.Once
	mu      sync.Mutex
	devices map[string]*os.File
	watch   bool
	failure error
	watcher *hotplugWatcher
	wg      sync.WaitGroup
}

// Open opens every device matching opts.Patterns that reports key events.
// With opts.Watch, devices created later are added as they appear.
func Open(opts Options) (Source, error) {
	patterns := opts.Patterns
	if len(patterns) == 0 {
		patterns = DefaultPatterns
	}
	s := newEvdevSource(opts.Watch)

	for _, pattern := range patterns {
		matches, err := filepath.Glob(pattern)
		if err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("invalid device pattern %q: %w", pattern, err)
		}
		for _, path := range matches {
			s.addPath(path)
		}
	}

	if opts.Watch {
		w, err := newHotplugWatcher(patterns, s.addPath)
		if err != nil {
			slog.Warn("[DEBUG-INPUT] hotplug watch unavailable", "error", err)
		} else {
			s.watcher = w
		}
	}

	if s.deviceCount() == 0 && s.watcher == nil {
		_ = s.Close()
		return nil, ErrNoDevices
	}
	return s, nil
}

func newEvdevSource(watch bool) *evdevSource {
	return &evdevSource{
		events:  make(chan RawKeyEvent, readBatch),
		done:    make(chan struct{}),
		devices: make(map[string]*os.File),
		watch:   watch,
	}
}

func (s *evdevSource) deviceCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.devices)
}

func (s *evdevSource) addPath(path string) {
	s.mu.Lock()
	_, known := s.devices[path]
	s.mu.Unlock()
	if known {
		return
	}

	f, name, err := openDeviceFn(path)
	if err != nil {
		if errors.Is(err, errNotKeyboard) {
			slog.Debug("[DEBUG-INPUT] skipping device without key events", "path", path)
		} else {
			slog.Warn("[DEBUG-INPUT] failed to open input device", "path", path, "error", err)
		}
		return
	}
	s.attach(path, name, f)
}

// attach starts reading f. The source owns f from here on.
func (s *evdevSource) attach(path, name string, f *os.File) {
	s.mu.Lock()
	select {
	case <-s.done:
		s.mu.Unlock()
		_ = f.Close()
		return
	default:
	}
	if _, known := s.devices[path]; known {
		s.mu.Unlock()
		_ = f.Close()
		return
	}
	s.devices[path] = f
	// Spawned under mu so Close never races wg.Wait against a new reader.
	s.wg.Go(func() {
		s.readDevice(path, name, f)
	})
	s.mu.Unlock()

	slog.Info("[DEBUG-INPUT] reading input device", "path", path, "name", name)
}

func (s *evdevSource) readDevice(path, name string, f io.Reader) {
	buf := make([]byte, eventSize*readBatch)
	pending := 0
	for {
		n, err := f.Read(buf[pending:])
		if n > 0 {
			pending += n
			whole := pending - pending%eventSize
			for _, ev := range decodeEvents(buf[:whole]) {
				phase, ok := translate(ev.typ, ev.value)
				if !ok {
					continue
				}
				raw := RawKeyEvent{
					Code:   int(ev.code),
					Phase:  phase,
					Time:   time.Unix(ev.sec, ev.usec*int64(time.Microsecond)),
					Device: name,
				}
				select {
				case s.events <- raw:
				case <-s.done:
					return
				}
			}
			pending = copy(buf, buf[whole:pending])
		}
		if err != nil {
			s.detach(path)
			select {
			case <-s.done:
			default:
				slog.Warn("[DEBUG-INPUT] input device gone", "path", path, "name", name, "error", err)
			}
			return
		}
	}
}

func (s *evdevSource) detach(path string) {
	s.mu.Lock()
	f, ok := s.devices[path]
	delete(s.devices, path)
	remaining := len(s.devices)
	lastGone := remaining == 0 && !s.watch
	if lastGone && s.failure == nil {
		select {
		case <-s.done:
		default:
			s.failure = ErrNoDevices
		}
	}
	s.mu.Unlock()
	if ok {
		_ = f.Close()
	}
	if lastGone {
		_ = s.closeWith()
	}
}

func (s *evdevSource) NextEvent() (RawKeyEvent, error) {
	// Buffered events are delivered before a close is reported.
	select {
	case ev := <-s.events:
		return ev, nil
	default:
	}
	select {
	case ev := <-s.events:
		return ev, nil
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.failure != nil {
			return RawKeyEvent{}, s.failure
		}
		return RawKeyEvent{}, ErrClosed
	}
}

func (s *evdevSource) Close() error {
	err := s.closeWith()
	s.wg.Wait()
	return err
}

func (s *evdevSource) closeWith() error {
	var errs []error
	s.once.Do(func() {
		s.mu.Lock()
		close(s.done)
		files := s.devices
		s.devices = make(map[string]*os.File)
		s.mu.Unlock()

		if s.watcher != nil {
			if err := s.watcher.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		for path, f := range files {
			if err := f.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close %s: %w", path, err))
			}
		}
	})
	return errors.Join(errs...)
}

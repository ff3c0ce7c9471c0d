package usbdisc

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/olalite/olad/cmn/nlog"
	"github.com/olalite/olad/loop"
)

// Observer receives each fully classified widget exactly once, invoked
// on the caller's main loop (§4.6).
type Observer interface {
	NewWidget(w *Widget)
}

// Config is the discovery pipeline's static configuration (§4.6).
type Config struct {
	Directory      string
	Prefixes       []string
	Ignored        map[string]bool
	DetectTimeout  time.Duration // per-detector probe timeout, default 200ms
	ScanInterval   time.Duration // default 20s
	MaxConcurrentOpens int       // bounds the errgroup fan-out per scan pass
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.DetectTimeout == 0 {
		out.DetectTimeout = 200 * time.Millisecond
	}
	if out.ScanInterval == 0 {
		out.ScanInterval = 20 * time.Second
	}
	if out.MaxConcurrentOpens == 0 {
		out.MaxConcurrentOpens = 8
	}
	if out.Ignored == nil {
		out.Ignored = map[string]bool{}
	}
	return out
}

// Opener abstracts acquiring exclusive access to and opening a device
// path; production code locks with flock(2) and opens the tty, tests
// substitute an in-memory fake.
type Opener interface {
	Open(path string) (DeadlineHandle, func(), error) // returns the handle and a release func
}

type activeDescriptor struct {
	path          string
	handle        DeadlineHandle
	release       func()
	detectorIndex int
	closed        bool
}

// Scanner runs the discovery loop D: it lists Config.Directory on a
// timer, opens newly-seen descriptors, and drives each through the
// detector chain before handing the classified widget to Observer on
// loop M.
type Scanner struct {
	cfg       Config
	opener    Opener
	detectors []Detector
	observer  Observer

	discoveryLoop *loop.Loop
	mainLoop      *loop.Loop

	mu     sync.Mutex
	active map[string]*activeDescriptor
}

// NewScanner builds a Scanner. discoveryLoop is the loop this scanner's
// own goroutine (D) must be run on via discoveryLoop.Run(); mainLoop is
// the caller-owned loop (M) observer callbacks are delivered on.
func NewScanner(cfg Config, opener Opener, detectors []Detector, observer Observer, discoveryLoop, mainLoop *loop.Loop) *Scanner {
	return &Scanner{
		cfg:           cfg.withDefaults(),
		opener:        opener,
		detectors:     detectors,
		observer:      observer,
		discoveryLoop: discoveryLoop,
		mainLoop:      mainLoop,
		active:        make(map[string]*activeDescriptor),
	}
}

// Start arms the repeating scan and runs one pass immediately, both on
// the discovery loop.
func (s *Scanner) Start() loop.ID {
	s.discoveryLoop.Execute(s.scan)
	return s.discoveryLoop.AddRepeatingTimeout(s.cfg.ScanInterval, s.scan)
}

// scan runs one directory sweep. Must run on the discovery loop.
func (s *Scanner) scan() {
	entries, err := os.ReadDir(s.cfg.Directory)
	if err != nil {
		nlog.Warningf("usbdisc: reading %q: %v", s.cfg.Directory, err)
		return
	}

	var candidates []string
	s.mu.Lock()
	for _, e := range entries {
		name := e.Name()
		if !hasAnyPrefix(name, s.cfg.Prefixes) {
			continue
		}
		if strings.HasSuffix(name, ".init") || strings.HasSuffix(name, ".lock") {
			continue
		}
		path := filepath.Join(s.cfg.Directory, name)
		if s.cfg.Ignored[path] {
			continue
		}
		if _, ok := s.active[path]; ok {
			continue
		}
		candidates = append(candidates, path)
	}
	s.mu.Unlock()

	if len(candidates) == 0 {
		return
	}

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrentOpens)
	for _, path := range candidates {
		path := path
		g.Go(func() error {
			s.openAndStartDetection(path)
			return nil
		})
	}
	_ = g.Wait()
}

func hasAnyPrefix(name string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

// openAndStartDetection acquires the device lock and opens it; may run
// off the discovery loop (inside the scan pass's errgroup), but always
// hands the resulting descriptor back onto the discovery loop before
// touching s.active or starting detection.
func (s *Scanner) openAndStartDetection(path string) {
	handle, release, err := s.opener.Open(path)
	if err != nil {
		return // lock held elsewhere, or open failed: skip silently
	}
	s.discoveryLoop.Execute(func() {
		desc := &activeDescriptor{path: path, handle: handle, release: release, detectorIndex: -1}
		s.mu.Lock()
		s.active[path] = desc
		s.mu.Unlock()
		s.advance(desc)
	})
}

// advance moves desc to the next detector in the chain, or tears it
// down once every detector has been tried. Must run on the discovery
// loop.
func (s *Scanner) advance(desc *activeDescriptor) {
	if desc.closed {
		return
	}
	desc.detectorIndex++
	if desc.detectorIndex >= len(s.detectors) {
		s.closeAndRelease(desc)
		return
	}

	det := s.detectors[desc.detectorIndex]
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DetectTimeout)
	go func() {
		defer cancel()
		info, ok := det.Probe(ctx, desc.handle)
		s.discoveryLoop.Execute(func() {
			if desc.closed {
				return
			}
			if ok {
				s.onDetected(desc, info)
			} else {
				s.advance(desc)
			}
		})
	}()
}

// onDetected classifies and hands off a successfully identified
// descriptor (§4.6 "On success"). Must run on the discovery loop.
func (s *Scanner) onDetected(desc *activeDescriptor, info WidgetInfo) {
	desc.closed = true
	kind := Classify(info)
	info.SupportsRDM = RDMCapable(kind, info)
	widget := &Widget{
		RW:   desc.handle,
		Kind: kind,
		Info: info,
		Path: desc.path,
	}
	s.mainLoop.Execute(func() {
		s.observer.NewWidget(widget)
	})
}

func (s *Scanner) closeAndRelease(desc *activeDescriptor) {
	desc.closed = true
	desc.handle.Close()
	desc.release()
	s.mu.Lock()
	delete(s.active, desc.path)
	s.mu.Unlock()
}

// FreeWidget is the observer's signal that it is done with w (§4.6
// Teardown). Safe to call from any loop; the actual close and lock
// release are scheduled onto the discovery loop.
func (s *Scanner) FreeWidget(w *Widget) {
	s.discoveryLoop.Execute(func() {
		s.mu.Lock()
		desc, ok := s.active[w.Path]
		s.mu.Unlock()
		w.RW.Close()
		if ok {
			desc.release()
			s.mu.Lock()
			delete(s.active, w.Path)
			s.mu.Unlock()
		}
	})
}

// flockOpener is the production Opener: a UUCP-style advisory flock(2)
// on a "<path>.lock" file beside the device, followed by an O_RDWR open
// of the device path.
type flockOpener struct{}

func NewFlockOpener() Opener { return flockOpener{} }

func (flockOpener) Open(path string) (DeadlineHandle, func(), error) {
	lockPath := path + ".lock"
	lockFD, err := unix.Open(lockPath, unix.O_CREAT|unix.O_RDWR, 0o644)
	if err != nil {
		return nil, nil, err
	}
	if err := unix.Flock(lockFD, unix.LOCK_EX|unix.LOCK_NB); err != nil {
		unix.Close(lockFD)
		return nil, nil, err
	}

	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		unix.Flock(lockFD, unix.LOCK_UN)
		unix.Close(lockFD)
		return nil, nil, err
	}

	release := func() {
		f.Close()
		unix.Flock(lockFD, unix.LOCK_UN)
		unix.Close(lockFD)
	}
	return f, release, nil
}

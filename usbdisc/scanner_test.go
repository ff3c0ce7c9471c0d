package usbdisc

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/olalite/olad/loop"
)

type fakeHandle struct{}

func (fakeHandle) Read(p []byte) (int, error)            { return 0, nil }
func (fakeHandle) Write(p []byte) (int, error)            { return len(p), nil }
func (fakeHandle) Close() error                           { return nil }
func (fakeHandle) SetReadDeadline(t time.Time) error      { return nil }

type fakeOpener struct{ opened []string }

func (f *fakeOpener) Open(path string) (DeadlineHandle, func(), error) {
	f.opened = append(f.opened, path)
	return fakeHandle{}, func() {}, nil
}

type fakeDetector struct {
	name   string
	result WidgetInfo
	ok     bool
	calls  int32
}

func (d *fakeDetector) Name() string { return d.name }
func (d *fakeDetector) Probe(ctx context.Context, h DeadlineHandle) (WidgetInfo, bool) {
	atomic.AddInt32(&d.calls, 1)
	return d.result, d.ok
}

type fakeObserver struct{ widgets chan *Widget }

func (o *fakeObserver) NewWidget(w *Widget) { o.widgets <- w }

func TestDiscoveryHandoffStopsAtFirstMatch(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ttyUSB0"), nil, 0o644); err != nil {
		t.Fatalf("seed device file: %v", err)
	}

	stage1 := &fakeDetector{name: "usb-pro", ok: true, result: WidgetInfo{ESTAID: "Goddard", DeviceIDString: "DMXter4"}}
	robe := &fakeDetector{name: "robe", ok: true}

	observer := &fakeObserver{widgets: make(chan *Widget, 1)}
	opener := &fakeOpener{}

	discoveryLoop := loop.New()
	mainLoop := loop.New()
	go discoveryLoop.Run()
	go mainLoop.Run()
	defer discoveryLoop.Stop()
	defer mainLoop.Stop()

	s := NewScanner(Config{
		Directory: dir,
		Prefixes:  []string{"ttyUSB"},
	}, opener, []Detector{stage1, robe}, observer, discoveryLoop, mainLoop)
	s.Start()

	select {
	case w := <-observer.widgets:
		if w.Kind != TypeDmxter {
			t.Fatalf("widget kind = %v, want %v", w.Kind, TypeDmxter)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for NewWidget")
	}

	if atomic.LoadInt32(&stage1.calls) != 1 {
		t.Fatalf("stage-1 detector called %d times, want 1", stage1.calls)
	}
	if atomic.LoadInt32(&robe.calls) != 0 {
		t.Fatal("robe detector must never be probed once stage-1 succeeds")
	}

	select {
	case w := <-observer.widgets:
		t.Fatalf("observer.NewWidget called a second time: %+v", w)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestScanSkipsLockAndInitFiles(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"ttyUSB0.lock", "ttyUSB0.init", "notattyname"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0o644); err != nil {
			t.Fatalf("seed %s: %v", name, err)
		}
	}

	opener := &fakeOpener{}
	discoveryLoop := loop.New()
	mainLoop := loop.New()
	go discoveryLoop.Run()
	go mainLoop.Run()
	defer discoveryLoop.Stop()
	defer mainLoop.Stop()

	s := NewScanner(Config{Directory: dir, Prefixes: []string{"ttyUSB"}}, opener, nil, &fakeObserver{widgets: make(chan *Widget, 1)}, discoveryLoop, mainLoop)
	done := make(chan struct{})
	discoveryLoop.Execute(func() {
		s.scan()
		close(done)
	})
	<-done

	if len(opener.opened) != 0 {
		t.Fatalf("expected no opens, got %v", opener.opened)
	}
}

// Package olad wires the control core's components together: the
// universe store, the port/device registry, queueing RDM controllers,
// and the E1.31 receive path. RPC, CLI flag parsing, and the HTTP/Web
// UI layer are explicitly out of scope (see spec.md's Non-goals) --
// this package stops at constructing and starting the pieces spec.md
// does define.
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package olad

import (
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/olalite/olad/cmn/nlog"
	"github.com/olalite/olad/dmx"
	"github.com/olalite/olad/e131"
	"github.com/olalite/olad/loop"
	"github.com/olalite/olad/port"
	"github.com/olalite/olad/prefs"
	"github.com/olalite/olad/rdmctl"
	"github.com/olalite/olad/stats"
	"github.com/olalite/olad/universe"
	"github.com/olalite/olad/usbdisc"
)

// houseKeepInterval is how often the main loop sweeps universes marked
// for garbage collection.
const houseKeepInterval = 30 * time.Second

// prototypeManufacturerID is the RDM manufacturer id reserved by ANSI
// E1.20 for prototyping and private use (0x7ff0-0x7fff); this controller
// has no ESTA-assigned id of its own, so it stamps its own re-sends with
// the top of that reserved range.
const prototypeManufacturerID uint16 = 0x7fff

// Config gathers the daemon's startup parameters. Command-line parsing
// into a Config is left to the caller; per the redesign decision on
// ParseFlags (spec.md §9), nothing here ever calls os.Exit.
type Config struct {
	PrefsPath     string
	RDMMaxQueued  int
	E131Universes []uint16

	// USBDeviceDir, if non-empty, starts the USB widget discovery
	// scanner against that directory. ESTALookup resolves the
	// manufacturer/device id pairs the USB Pro-style detector reads off
	// the wire into the ESTAID/DeviceIDString Classify expects.
	USBDeviceDir string
	USBPrefixes  []string
	ESTALookup   func(manufacturerID, deviceID uint16) (estaID, deviceIDString string)
}

// Daemon holds every long-lived component the control core assembles at
// startup.
type Daemon struct {
	cfg Config

	Prefs     *prefs.Store
	Universes *universe.Store
	Ports     *port.Registry
	E131      *e131.Receiver
	Stats     *stats.Collectors
	Scanner   *usbdisc.Scanner

	Main      *loop.Loop
	Discovery *loop.Loop

	rdmMu   sync.Mutex
	rdmCtrl map[string]*rdmctl.Controller // keyed by widget path
}

// New constructs every component and restores persisted state, but
// starts nothing: call Run to start the loops.
func New(cfg Config) (*Daemon, error) {
	p := prefs.New()
	if cfg.PrefsPath != "" {
		if err := p.Load(cfg.PrefsPath); err != nil {
			return nil, fmt.Errorf("olad: loading preferences: %w", err)
		}
	}

	if cfg.RDMMaxQueued <= 0 {
		cfg.RDMMaxQueued = 20
	}

	universes := universe.NewStore(p)
	registry := port.NewRegistry(p, universes)
	receiver := e131.NewReceiver(universes)
	for _, id := range cfg.E131Universes {
		receiver.Subscribe(id)
	}

	d := &Daemon{
		cfg:       cfg,
		Prefs:     p,
		Universes: universes,
		Ports:     registry,
		E131:      receiver,
		Stats:     stats.NewCollectors(prometheus.DefaultRegisterer),
		Main:      loop.New(),
		Discovery: loop.New(),
		rdmCtrl:   make(map[string]*rdmctl.Controller),
	}

	if cfg.USBDeviceDir != "" {
		detectors := []usbdisc.Detector{
			&usbdisc.USBProDetector{Lookup: cfg.ESTALookup},
			&usbdisc.RobeDetector{},
		}
		d.Scanner = usbdisc.NewScanner(usbdisc.Config{
			Directory: cfg.USBDeviceDir,
			Prefixes:  cfg.USBPrefixes,
		}, usbdisc.NewFlockOpener(), detectors, d, d.Discovery, d.Main)
	}

	return d, nil
}

// Run starts the Main and Discovery loops on dedicated goroutines,
// arms the housekeeping sweep that drives universe GC, and starts USB
// widget discovery if configured. It returns immediately; call Stop to
// drain and exit.
func (d *Daemon) Run() {
	go d.Main.Run()
	go d.Discovery.Run()
	d.Main.AddRepeatingTimeout(houseKeepInterval, func() {
		d.Universes.GarbageCollectUniverses()
	})
	if d.Scanner != nil {
		d.Scanner.Start()
	}
	nlog.Infof("olad: started with %d universes restored", len(d.Universes.GetList()))
}

// Stop persists everything, drains both loops, and fails out any RDM
// request still queued on a widget controller.
func (d *Daemon) Stop() {
	d.rdmMu.Lock()
	for _, c := range d.rdmCtrl {
		c.Shutdown()
	}
	d.rdmMu.Unlock()

	d.Universes.DeleteAll()
	d.Main.Stop()
	d.Discovery.Stop()
	nlog.Flush(true)
}

// NewWidget implements usbdisc.Observer: it runs on the Main loop (§4.6),
// and for every RDM-capable widget builds a queueing controller over a
// frame-adapted transport, sized by cfg.RDMMaxQueued.
func (d *Daemon) NewWidget(w *usbdisc.Widget) {
	nlog.Infof("olad: discovered widget %s (%s) at %s", w.Info.DeviceIDString, w.Kind, w.Path)
	if !w.Info.SupportsRDM {
		return
	}
	transport := newWidgetTransport(w, d.Main)
	source := dmx.UID{Manufacturer: prototypeManufacturerID, Device: w.Info.SerialNumber}
	ctrl := rdmctl.NewController(transport, d.cfg.RDMMaxQueued, source, w.Path)

	d.rdmMu.Lock()
	d.rdmCtrl[w.Path] = ctrl
	d.rdmMu.Unlock()
}

// RDMController returns the queueing controller bound to the widget at
// path, if one has been discovered and found RDM-capable.
func (d *Daemon) RDMController(path string) (*rdmctl.Controller, bool) {
	d.rdmMu.Lock()
	defer d.rdmMu.Unlock()
	c, ok := d.rdmCtrl[path]
	return c, ok
}

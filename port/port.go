// Package port implements the port/device registry of §4.3: stable
// aliasing of plugin-provided devices, patch/unpatch policy, and
// priority-capability handling, all backed by the same prefs.Store the
// universe package persists through.
//
// Per the cyclic-reference note in §9, a Port never holds a pointer to
// its Universe -- only the 16-bit id -- and a Universe never refers to
// the Port type: an output port reaches it only through the
// universe.Sink interface (the unexported sink adapter wraps the Port).
// Binding happens through the universe.Store, keyed by the port's
// UniqueID string.
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package port

import (
	"github.com/olalite/olad/dmx"
	"github.com/olalite/olad/universe"
)

// Direction distinguishes an input (source) port from an output (sink)
// port (§3).
type Direction int

const (
	Input Direction = iota
	Output
)

func (d Direction) String() string {
	if d == Output {
		return "output"
	}
	return "input"
}

// Capability is a port's priority capability (§3): none (stuck at
// default), static (value settable, mode fixed to inherit), or full
// (both settable).
type Capability int

const (
	CapNone Capability = iota
	CapStatic
	CapFull
)

// PriorityMode selects whether a port's effective priority is the
// universe default or an explicit override value.
type PriorityMode int

const (
	ModeInherit PriorityMode = iota
	ModeOverride
)

// WriteFunc is how an output port hands a merged frame to its owning
// plugin (a USB widget write, a network transmit, ...). The default is a
// no-op that always reports success, matching a port with nothing yet
// wired to hardware.
type WriteFunc func(buf *dmx.Buffer, activePriority uint8) bool

// Port is a single hardware-adjacent DMX endpoint exposed by a device.
type Port struct {
	UniqueID   string
	Direction  Direction
	Capability Capability
	deviceUID  string

	mode  PriorityMode
	value uint8

	universeID *uint16
	buffer     dmx.Buffer

	Write WriteFunc
}

// NewPort constructs a port with capability-appropriate defaults:
// inherit mode and the universe's DefaultPriority value.
func NewPort(uniqueID string, dir Direction, cap Capability) *Port {
	return &Port{
		UniqueID:   uniqueID,
		Direction:  dir,
		Capability: cap,
		mode:       ModeInherit,
		value:      dmx.DefaultPriority,
		Write:      func(*dmx.Buffer, uint8) bool { return true },
	}
}

// Universe reports the patched universe id, if any.
func (p *Port) Universe() (uint16, bool) {
	if p.universeID == nil {
		return 0, false
	}
	return *p.universeID, true
}

// PriorityMode and PriorityValue expose the stored (not necessarily
// effective) priority state, e.g. for persistence snapshotting.
func (p *Port) PriorityMode() PriorityMode { return p.mode }
func (p *Port) PriorityValue() uint8       { return p.value }

// EffectivePriority is what the merge engine actually uses: the
// universe default unless this port is in override mode.
func (p *Port) EffectivePriority() uint8 {
	if p.mode == ModeOverride {
		return p.value
	}
	return dmx.DefaultPriority
}

// setPriority applies the §4.3 capability policy; value is clamped to
// 0..200 before capability rules are applied.
func (p *Port) setPriority(mode PriorityMode, value uint8) {
	value = dmx.ClampPriority(int(value))
	switch p.Capability {
	case CapNone:
		// both mode and value are silently ignored
		return
	case CapStatic:
		p.mode = ModeInherit
		p.value = value
	case CapFull:
		p.mode = mode
		p.value = value
	}
}

// ReceivedFrame is how a plugin feeds new input data into an input port.
// If the port is currently patched, the frame is forwarded into the
// universe merge engine via PortDataChanged.
func (p *Port) ReceivedFrame(buf dmx.Buffer, u *universe.Store) {
	p.buffer = buf
	if p.universeID == nil {
		return
	}
	if uni, ok := u.GetUniverse(*p.universeID); ok {
		uni.PortDataChanged(p.UniqueID, p.buffer, p.EffectivePriority())
	}
}

// sink adapts a Port's Write callback to universe.Sink.
type sink struct{ p *Port }

func (s sink) Accept(buf *dmx.Buffer, activePriority uint8) bool {
	return s.p.Write(buf, activePriority)
}

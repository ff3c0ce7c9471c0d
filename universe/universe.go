// Package universe implements the merge engine and per-universe store
// described in §4.1-4.2: priority election, HTP/LTP merging, and source
// expiry for a single 16-bit universe id, plus the indexed, persisted,
// garbage-collected Store that owns every live Universe.
//
// Cyclic references (universe <-> port <-> device) are broken per the
// design note in §9: a Universe never refers to a port or device type.
// It keeps each source's data as a record keyed by a stable string id and
// reaches each output through the Sink capability interface, keyed the
// same way -- the same "arena + stable identifier" shape the
// teacher uses for its registries (targets referenced by daemon ID
// rather than by pointer).
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package universe

import (
	"fmt"
	"sync"

	"github.com/olalite/olad/cmn/cos"
	"github.com/olalite/olad/cmn/debug"
	"github.com/olalite/olad/cmn/mono"
	"github.com/olalite/olad/cmn/nlog"
	"github.com/olalite/olad/dmx"
)

// MergeMode selects how multiple live sources at the same elected
// priority are combined into the merged output buffer (§3, §4.1).
type MergeMode int

const (
	LTP MergeMode = iota // default per §3
	HTP
)

func (m MergeMode) String() string {
	if m == HTP {
		return "HTP"
	}
	return "LTP"
}

// ParseMergeMode parses the persisted "HTP"/"LTP" string (§4.2 key
// uni_<id>_merge); unrecognized values fall back to the default.
func ParseMergeMode(s string) MergeMode {
	if s == "HTP" {
		return HTP
	}
	return LTP
}

// sourceExpiry is the 2.5s "Expiry interval" §3 assigns to network
// source-client records. Port-based sources never expire this way; they
// are removed explicitly when unpatched (§4.3).
const sourceExpiry = 2500 * 1000 * 1000 // 2.5s in nanoseconds

// Sink is the capability a universe needs from an output port or sink
// client: accept a merged frame, report success. A sink that fails is
// logged; it is not removed from the universe and is offered the next
// merged frame like any other sink. The universe never retries a write.
type Sink interface {
	Accept(buf *dmx.Buffer, activePriority uint8) bool
}

type sourceRecord struct {
	buf       dmx.Buffer
	priority  uint8
	lastHeard int64
	seq       uint64
	expires   bool
}

// Universe is the merge point for one 16-bit DMX universe id.
type Universe struct {
	mu sync.Mutex

	id       uint16
	name     string
	mode     MergeMode
	discover uint32 // RDM discovery interval, seconds; 0 disables

	inputPorts    map[string]*sourceRecord
	sourceClients map[string]*sourceRecord
	order         []string // insertion order, for stable LTP tie-break
	seqCounter    uint64

	outputPorts map[string]Sink
	sinkClients map[string]Sink

	merged         dmx.Buffer
	activePriority uint8
	destroyed      bool
}

func newUniverse(id uint16) *Universe {
	return &Universe{
		id:            id,
		mode:          LTP,
		inputPorts:    make(map[string]*sourceRecord),
		sourceClients: make(map[string]*sourceRecord),
		outputPorts:   make(map[string]Sink),
		sinkClients:   make(map[string]Sink),
	}
}

func (u *Universe) ID() uint16 { return u.id }

func (u *Universe) Name() string {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.name
}

func (u *Universe) SetName(name string) {
	u.mu.Lock()
	u.name = name
	u.mu.Unlock()
}

func (u *Universe) MergeMode() MergeMode {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.mode
}

func (u *Universe) SetMergeMode(m MergeMode) {
	u.mu.Lock()
	u.mode = m
	u.mu.Unlock()
	u.Remerge()
}

// RDMDiscoveryInterval returns the configured interval in seconds, 0 if
// disabled.
func (u *Universe) RDMDiscoveryInterval() uint32 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.discover
}

// SetRDMDiscoveryInterval clamps a nonzero interval up to 30s per §3/§4.2.
func (u *Universe) SetRDMDiscoveryInterval(seconds uint32) {
	if seconds != 0 && seconds < 30 {
		seconds = 30
	}
	u.mu.Lock()
	u.discover = seconds
	u.mu.Unlock()
}

// AddPort registers an input port as a persistent (non-expiring) source
// member. It carries no data until the first PortDataChanged call.
func (u *Universe) AddPort(id string, priority uint8) {
	u.mu.Lock()
	if _, ok := u.inputPorts[id]; !ok {
		u.inputPorts[id] = &sourceRecord{priority: priority}
		u.order = append(u.order, id)
	}
	u.mu.Unlock()
	u.Remerge()
}

// RemovePort drops an input port's membership entirely.
func (u *Universe) RemovePort(id string) {
	u.mu.Lock()
	delete(u.inputPorts, id)
	u.removeFromOrder(id)
	u.mu.Unlock()
	u.Remerge()
}

// PortDataChanged pushes a new frame from an already-AddPort'd input
// port. Updating an unknown port id is a no-op: ports must be added via
// AddPort first.
func (u *Universe) PortDataChanged(id string, buf dmx.Buffer, priority uint8) {
	u.mu.Lock()
	rec, ok := u.inputPorts[id]
	if !ok {
		u.mu.Unlock()
		return
	}
	u.seqCounter++
	rec.buf, rec.priority, rec.seq = buf, priority, u.seqCounter
	u.mu.Unlock()
	u.Remerge()
}

// AddSourceClient registers a network-style source (e.g. a per-CID E1.31
// track) as a member subject to the 2.5s expiry sweep.
func (u *Universe) AddSourceClient(id string, priority uint8) {
	u.mu.Lock()
	if _, ok := u.sourceClients[id]; !ok {
		u.sourceClients[id] = &sourceRecord{priority: priority, expires: true, lastHeard: mono.NanoTime()}
		u.order = append(u.order, id)
	}
	u.mu.Unlock()
	u.Remerge()
}

// RemoveSourceClient drops a source client's membership (e.g. on an
// explicit stream-terminated signal, §4.5).
func (u *Universe) RemoveSourceClient(id string) {
	u.mu.Lock()
	delete(u.sourceClients, id)
	u.removeFromOrder(id)
	u.mu.Unlock()
	u.Remerge()
}

// SourceClientDataChanged pushes a new frame from an already-registered
// source client.
func (u *Universe) SourceClientDataChanged(id string, buf dmx.Buffer, priority uint8) {
	u.mu.Lock()
	rec, ok := u.sourceClients[id]
	if !ok {
		u.mu.Unlock()
		return
	}
	u.seqCounter++
	rec.buf, rec.priority, rec.seq, rec.lastHeard = buf, priority, u.seqCounter, mono.NanoTime()
	u.mu.Unlock()
	u.Remerge()
}

// SetDMX writes buffer as the local-override source client (§4.1). It
// returns false iff the universe has been destroyed (GC'd) and the
// write is refused.
func (u *Universe) SetDMX(buf dmx.Buffer) bool {
	u.mu.Lock()
	if u.destroyed {
		u.mu.Unlock()
		return false
	}
	rec, ok := u.sourceClients[localOverrideID]
	if !ok {
		rec = &sourceRecord{expires: true, priority: dmx.DefaultPriority}
		u.sourceClients[localOverrideID] = rec
		u.order = append(u.order, localOverrideID)
	}
	u.seqCounter++
	rec.buf, rec.seq, rec.lastHeard = buf, u.seqCounter, mono.NanoTime()
	u.mu.Unlock()
	u.Remerge()
	return true
}

const localOverrideID = "\x00local-override"

func (u *Universe) AddOutputPort(id string, sink Sink) {
	u.mu.Lock()
	u.outputPorts[id] = sink
	u.mu.Unlock()
}

func (u *Universe) RemoveOutputPort(id string) {
	u.mu.Lock()
	delete(u.outputPorts, id)
	u.mu.Unlock()
}

func (u *Universe) AddSinkClient(id string, sink Sink) {
	u.mu.Lock()
	u.sinkClients[id] = sink
	u.mu.Unlock()
}

func (u *Universe) RemoveSinkClient(id string) {
	u.mu.Lock()
	delete(u.sinkClients, id)
	u.mu.Unlock()
}

// GetDMX returns a copy of the currently merged output buffer.
func (u *Universe) GetDMX() dmx.Buffer {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.merged.Clone()
}

func (u *Universe) ActivePriority() uint8 {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.activePriority
}

// HasMembers reports whether any source, sink, source client, or sink
// client is registered -- the GC eligibility test of §3/§4.2 ("no
// sources, no sinks, and no source or sink clients").
func (u *Universe) HasMembers() bool {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.inputPorts) > 0 || len(u.outputPorts) > 0 ||
		len(u.sourceClients) > 0 || len(u.sinkClients) > 0
}

func (u *Universe) removeFromOrder(id string) {
	for i, v := range u.order {
		if v == id {
			u.order = append(u.order[:i], u.order[i+1:]...)
			return
		}
	}
}

// Remerge runs the §4.1 merge algorithm and, if the merged buffer or
// active priority changed, pushes the result to every sink. It is safe
// to call redundantly; sinks only see a write when something changed.
func (u *Universe) Remerge() {
	u.mu.Lock()

	u.dropExpiredLocked(mono.NanoTime())

	var maxPri uint8
	for _, rec := range u.inputPorts {
		if rec.priority > maxPri {
			maxPri = rec.priority
		}
	}
	for _, rec := range u.sourceClients {
		if rec.priority > maxPri {
			maxPri = rec.priority
		}
	}

	var (
		newMerged dmx.Buffer
		liveCount int
	)
	if len(u.inputPorts) > 0 || len(u.sourceClients) > 0 {
		newMerged, liveCount = u.computeMergedLocked(maxPri)
	}

	changed := liveCount == 0 && u.activePriority != 0
	if liveCount == 0 {
		u.activePriority = 0
		u.merged = dmx.Buffer{}
	} else {
		if u.activePriority != maxPri || !u.merged.Equal(&newMerged) {
			changed = true
		}
		u.activePriority = maxPri
		u.merged = newMerged
	}

	debug.Assert((u.activePriority == 0) == (liveCount == 0), "active_priority must be zero iff there are no live sources")

	merged := u.merged.Clone()
	pri := u.activePriority
	ids := make([]string, 0, len(u.outputPorts)+len(u.sinkClients))
	sinks := make([]Sink, 0, len(u.outputPorts)+len(u.sinkClients))
	for id, s := range u.outputPorts {
		ids = append(ids, id)
		sinks = append(sinks, s)
	}
	for id, s := range u.sinkClients {
		ids = append(ids, id)
		sinks = append(sinks, s)
	}
	u.mu.Unlock()

	if !changed {
		return
	}

	// A rejecting sink is logged, never retried here, and stays
	// registered. Errs aggregates the whole sweep's rejections so one
	// slow/dead sink doesn't hide another.
	var failed cos.Errs
	for i, s := range sinks {
		if !s.Accept(&merged, pri) {
			failed.Add(fmt.Errorf("sink %s rejected write", ids[i]))
		}
	}
	if failed.Len() > 0 {
		nlog.Warningf("universe %d: %d of %d sink writes failed: %v", u.id, failed.Len(), len(sinks), failed.Err())
	}
}

func (u *Universe) dropExpiredLocked(now int64) {
	for id, rec := range u.sourceClients {
		if rec.expires && now-rec.lastHeard > sourceExpiry {
			delete(u.sourceClients, id)
			u.removeFromOrder(id)
		}
	}
}

// computeMergedLocked applies mode to the subset of live sources at
// priority maxPri, returning the merged buffer and how many sources
// contributed. Must be called with u.mu held.
func (u *Universe) computeMergedLocked(maxPri uint8) (dmx.Buffer, int) {
	type cand struct {
		id  string
		rec *sourceRecord
	}
	var sel []cand
	for id, rec := range u.inputPorts {
		if rec.priority == maxPri {
			sel = append(sel, cand{id, rec})
		}
	}
	for id, rec := range u.sourceClients {
		if rec.priority == maxPri {
			sel = append(sel, cand{id, rec})
		}
	}

	switch len(sel) {
	case 0:
		return dmx.Buffer{}, 0
	case 1:
		return sel[0].rec.buf.Clone(), 1
	}

	if u.mode == HTP {
		out := sel[0].rec.buf.Clone()
		for _, c := range sel[1:] {
			out.HTPMerge(&c.rec.buf)
		}
		return out, len(sel)
	}

	// LTP: most recently arrived (highest seq); ties broken by stable
	// insertion order, i.e. later position in u.order wins.
	orderPos := make(map[string]int, len(u.order))
	for i, id := range u.order {
		orderPos[id] = i
	}
	best := sel[0]
	for _, c := range sel[1:] {
		if c.rec.seq > best.rec.seq ||
			(c.rec.seq == best.rec.seq && orderPos[c.id] > orderPos[best.id]) {
			best = c
		}
	}
	return best.rec.buf.Clone(), len(sel)
}

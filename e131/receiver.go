package e131

import (
	"sync"

	"github.com/olalite/olad/cmn/nlog"
	"github.com/olalite/olad/dmx"
	"github.com/olalite/olad/universe"
)

// Packet is a single incoming E1.31 DMP-over-ACN frame, already
// stripped of the root and framing layers down to the fields the DMP
// receive path needs (§4.5).
type Packet struct {
	UniverseID uint16
	CID        string // 16-byte sender CID, carried as raw bytes
	Sequence   uint8
	Priority   uint8
	Preview    bool
	Terminated bool
	Rev2       bool // legacy rev2 framing: start code lives in the DMP header, not the payload

	// DMPHeader is the raw DMP PDU header bytes for this frame, or nil
	// if the sender omitted it and the receiver's last header should be
	// reused (§4.5).
	DMPHeader []byte
	// Data is the payload following the decoded DMP header: for rev2
	// packets, slot values starting at Data[0]; for current packets,
	// Data[0] is the start code and slot values start at Data[1].
	Data []byte
}

// Receiver turns incoming Packets into universe merge inputs, tracking
// per-universe subscription and per-CID source state (§4.5).
type Receiver struct {
	mu            sync.Mutex
	store         *universe.Store
	subscribed    map[uint16]bool
	ignorePreview bool
	lastHeader    *DMPHeader
	universes     map[uint16]*universeState
}

// NewReceiver builds a Receiver that feeds store.
func NewReceiver(store *universe.Store) *Receiver {
	return &Receiver{
		store:      store,
		subscribed: make(map[uint16]bool),
		universes:  make(map[uint16]*universeState),
	}
}

// SetIgnorePreview controls whether frames with the preview flag set
// are dropped (§4.5 step 3).
func (r *Receiver) SetIgnorePreview(ignore bool) {
	r.mu.Lock()
	r.ignorePreview = ignore
	r.mu.Unlock()
}

// Subscribe marks universeID as one this receiver should merge data
// into; frames for unsubscribed universes are dropped.
func (r *Receiver) Subscribe(universeID uint16) {
	r.mu.Lock()
	r.subscribed[universeID] = true
	r.mu.Unlock()
}

func (r *Receiver) Unsubscribe(universeID uint16) {
	r.mu.Lock()
	delete(r.subscribed, universeID)
	delete(r.universes, universeID)
	r.mu.Unlock()
}

// ResetHeader drops the last-header fallback, e.g. on an explicit reset
// signal from the transport (§4.5).
func (r *Receiver) ResetHeader() {
	r.mu.Lock()
	r.lastHeader = nil
	r.mu.Unlock()
}

// HandleFrame runs the full §4.5 per-frame pipeline: header resolution,
// validation, source tracking, and the handoff into the universe merge
// engine. It reports whether the frame was merged (true) or dropped.
func (r *Receiver) HandleFrame(pkt Packet) bool {
	r.mu.Lock()

	var header DMPHeader
	if len(pkt.DMPHeader) > 0 {
		h, ok := DecodeDMPHeader(pkt.DMPHeader)
		if !ok || !h.Valid() {
			r.mu.Unlock()
			return false
		}
		header = h
		r.lastHeader = &h
	} else if r.lastHeader != nil {
		header = *r.lastHeader
	} else {
		r.mu.Unlock()
		return false
	}

	if header.Vector != VectorSetProperty {
		r.mu.Unlock()
		return false
	}
	if !r.subscribed[pkt.UniverseID] {
		r.mu.Unlock()
		return false
	}
	if pkt.Preview && r.ignorePreview {
		r.mu.Unlock()
		return false
	}
	if pkt.Priority > dmx.MaxPriority {
		r.mu.Unlock()
		return false
	}
	if header.AddressIncrement != 1 {
		r.mu.Unlock()
		return false
	}

	var startCode byte
	if pkt.Rev2 {
		startCode = byte(header.FirstAddress)
	} else if len(pkt.Data) > 0 {
		startCode = pkt.Data[0]
	}
	if startCode != 0 && !pkt.Terminated {
		r.mu.Unlock()
		return false
	}

	st, ok := r.universes[pkt.UniverseID]
	if !ok {
		st = newUniverseState()
		r.universes[pkt.UniverseID] = st
	}
	act := st.decide(pkt.CID, pkt.Sequence, pkt.Priority, pkt.Terminated, now())
	r.mu.Unlock()

	switch act {
	case actionIgnore:
		return false
	case actionRemoveAndMerge:
		r.store.GetUniverseOrCreate(pkt.UniverseID).RemoveSourceClient(pkt.CID)
		return true
	case actionMergeNewBuffer, actionMergeExistingBuffer:
		payload := pkt.Data
		if !pkt.Rev2 && len(payload) > 0 {
			payload = payload[1:]
		}
		n := len(payload)
		if int(header.Number) < n {
			n = int(header.Number)
		}
		buf := dmx.NewBuffer(payload[:n])

		u := r.store.GetUniverseOrCreate(pkt.UniverseID)
		if act == actionMergeNewBuffer {
			u.AddSourceClient(pkt.CID, pkt.Priority)
		}
		u.SourceClientDataChanged(pkt.CID, buf, pkt.Priority)
		return true
	default:
		nlog.Errorf("e131: unhandled source-tracking action %d", act)
		return false
	}
}

package e131

import "github.com/olalite/olad/cmn/mono"

// MaxMergeSources is the hard cap on simultaneously-tracked sources per
// universe (§4.5).
const MaxMergeSources = 6

// sourceExpiry is the 2.5s "last_heard" window the source-tracking
// state machine applies independently of universe.Universe's own
// source-client expiry sweep; this layer needs its own notion of
// liveness to decide priority preemption before a frame ever reaches
// the merge engine.
const sourceExpiry = 2500 * 1000 * 1000 // nanoseconds

type trackedSource struct {
	sequence  uint8
	priority  uint8
	lastHeard int64
}

// universeState is the per-universe source-tracking bookkeeping the
// receiver keeps ahead of universe.Store (§4.5).
type universeState struct {
	sources        map[string]*trackedSource
	activePriority uint8
}

func newUniverseState() *universeState {
	return &universeState{sources: make(map[string]*trackedSource)}
}

func (s *universeState) dropExpired(now int64) {
	for cid, rec := range s.sources {
		if now-rec.lastHeard > sourceExpiry {
			delete(s.sources, cid)
		}
	}
	if len(s.sources) == 0 {
		s.activePriority = 0
	}
}

// action is what the source-tracking decision tree tells HandleFrame to
// do with the frame's data bytes.
type action int

const (
	actionIgnore action = iota
	actionMergeNewBuffer
	actionMergeExistingBuffer
	actionRemoveAndMerge
)

// decide runs the §4.5 untracked/tracked CID decision tree for a single
// incoming frame and updates s's bookkeeping accordingly. now is the
// monotonic timestamp to record as last_heard.
func (s *universeState) decide(cid string, sequence, priority uint8, terminated bool, now int64) action {
	s.dropExpired(now)

	rec, tracked := s.sources[cid]
	if !tracked {
		if terminated || priority < s.activePriority {
			return actionIgnore
		}
		if priority > s.activePriority {
			s.sources = map[string]*trackedSource{}
			s.activePriority = priority
		}
		if len(s.sources) >= MaxMergeSources {
			return actionIgnore
		}
		s.sources[cid] = &trackedSource{sequence: sequence, priority: priority, lastHeard: now}
		return actionMergeNewBuffer
	}

	diff := int8(sequence - rec.sequence)
	if diff <= 0 && diff > -20 {
		return actionIgnore
	}
	rec.sequence = sequence
	rec.lastHeard = now

	if terminated {
		delete(s.sources, cid)
		if len(s.sources) == 0 {
			s.activePriority = 0
		}
		return actionRemoveAndMerge
	}

	switch {
	case priority < s.activePriority:
		if len(s.sources) == 1 {
			s.activePriority = priority
			rec.priority = priority
		} else {
			delete(s.sources, cid)
			return actionRemoveAndMerge
		}
	case priority > s.activePriority:
		s.activePriority = priority
		rec.priority = priority
		for other := range s.sources {
			if other != cid {
				delete(s.sources, other)
			}
		}
	}
	return actionMergeExistingBuffer
}

// now is a package-level seam so tests can avoid real-time sleeps;
// production code always calls mono.NanoTime.
var now = mono.NanoTime

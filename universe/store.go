package universe

import (
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/olalite/olad/prefs"
)

// Store indexes every live Universe by id, restores/persists its
// settings through a prefs.Store, and runs the explicit two-phase GC
// sweep §4.2 describes (§3: "a universe becomes eligible for garbage
// collection when it has no sources, no sinks, and no source or sink
// clients").
type Store struct {
	mu        sync.Mutex
	universes map[uint16]*Universe
	gcPending map[uint16]bool
	prefs     *prefs.Store
}

func NewStore(p *prefs.Store) *Store {
	return &Store{
		universes: make(map[uint16]*Universe),
		gcPending: make(map[uint16]bool),
		prefs:     p,
	}
}

func nameKey(id uint16) string     { return fmt.Sprintf("uni_%d_name", id) }
func mergeKey(id uint16) string    { return fmt.Sprintf("uni_%d_merge", id) }
func discoverKey(id uint16) string { return fmt.Sprintf("uni_%d_rdm_discovery_interval", id) }

// GetUniverse returns the universe for id if it currently exists.
func (s *Store) GetUniverse(id uint16) (*Universe, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.universes[id]
	return u, ok
}

// GetUniverseOrCreate returns the existing universe for id, or creates
// one restoring its settings from persistence (§4.2).
func (s *Store) GetUniverseOrCreate(id uint16) *Universe {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.universes[id]; ok {
		delete(s.gcPending, id)
		return u
	}
	u := newUniverse(id)
	s.restoreLocked(u)
	s.universes[id] = u
	return u
}

func (s *Store) restoreLocked(u *Universe) {
	if s.prefs == nil {
		return
	}
	if name, ok := s.prefs.GetValue(nameKey(u.id)); ok {
		u.name = name
	}
	if mode, ok := s.prefs.GetValue(mergeKey(u.id)); ok {
		u.mode = ParseMergeMode(mode)
	}
	if raw, ok := s.prefs.GetValue(discoverKey(u.id)); ok {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			u.SetRDMDiscoveryInterval(uint32(n))
		}
	}
}

func (s *Store) persistLocked(u *Universe) {
	if s.prefs == nil {
		return
	}
	s.prefs.SetValue(nameKey(u.id), u.Name())
	s.prefs.SetValue(mergeKey(u.id), u.MergeMode().String())
	s.prefs.SetValue(discoverKey(u.id), strconv.FormatUint(uint64(u.RDMDiscoveryInterval()), 10))
}

// GetList returns every currently-held universe, sorted by id for
// deterministic iteration (useful for tests and any future listing RPC).
func (s *Store) GetList() []*Universe {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Universe, 0, len(s.universes))
	for _, u := range s.universes {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

// AddUniverseGarbageCollection records id as a GC candidate; it is only
// actually destroyed once GarbageCollectUniverses confirms it is still
// inactive.
func (s *Store) AddUniverseGarbageCollection(id uint16) {
	s.mu.Lock()
	s.gcPending[id] = true
	s.mu.Unlock()
}

// GarbageCollectUniverses sweeps every pending candidate: still-inactive
// ones are persisted then destroyed; any that regained members in the
// meantime are left alone.
func (s *Store) GarbageCollectUniverses() {
	s.mu.Lock()
	candidates := make([]uint16, 0, len(s.gcPending))
	for id := range s.gcPending {
		candidates = append(candidates, id)
	}
	s.gcPending = make(map[uint16]bool)
	s.mu.Unlock()

	for _, id := range candidates {
		s.mu.Lock()
		u, ok := s.universes[id]
		if ok && !u.HasMembers() {
			s.persistLocked(u)
			u.mu.Lock()
			u.destroyed = true
			u.mu.Unlock()
			delete(s.universes, id)
		}
		s.mu.Unlock()
	}
	if s.prefs != nil {
		s.prefs.Save()
	}
}

// DeleteAll persists and destroys every universe, e.g. on daemon
// shutdown.
func (s *Store) DeleteAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, u := range s.universes {
		s.persistLocked(u)
		u.mu.Lock()
		u.destroyed = true
		u.mu.Unlock()
		delete(s.universes, id)
	}
	s.gcPending = make(map[uint16]bool)
	if s.prefs != nil {
		s.prefs.Save()
	}
}

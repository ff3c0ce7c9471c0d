package port

import (
	"strconv"
	"sync"

	"github.com/OneOfOne/xxhash"

	"github.com/olalite/olad/cmn/cos"
	"github.com/olalite/olad/prefs"
	"github.com/olalite/olad/universe"
)

// Registry is the authority on device aliasing and port patching §4.3
// describes. It mediates every Patch/Unpatch/SetPriority request against
// the owning device's loop/multi-patch flags and persists patch and
// priority decisions through a prefs.Store.
type Registry struct {
	mu sync.Mutex

	prefs    *prefs.Store
	universe *universe.Store

	// aliases never shrinks: a device's alias is reserved for its
	// UniqueID even after Unregister, so re-registration reuses it. It
	// is sharded by aliasBucket the way the teacher's HRW-hashed
	// registries shard by content hash, rather than one flat map.
	aliases   []map[string]int
	nextAlias int

	// devices holds only currently-registered devices; unregistered
	// ones are dropped here (but keep their alias reservation).
	devices map[string]*Device
}

// aliasShardCount is the number of alias-map shards aliasBucket routes
// across.
const aliasShardCount = 16

// NewRegistry builds a Registry backed by store for port/universe
// lookups and p for patch/priority persistence.
func NewRegistry(p *prefs.Store, store *universe.Store) *Registry {
	aliases := make([]map[string]int, aliasShardCount)
	for i := range aliases {
		aliases[i] = make(map[string]int)
	}
	return &Registry{
		prefs:     p,
		universe:  store,
		aliases:   aliases,
		nextAlias: 1,
		devices:   make(map[string]*Device),
	}
}

// aliasBucket is the deterministic, non-cryptographic shard key for the
// alias map, the same role xxhash plays in the teacher's HRW/content
// hashing (fs/hrw.go): a fast hash over the device's UniqueID picks
// which of the aliasShardCount shards holds its alias entry.
func aliasBucket(uniqueID string) uint64 {
	return xxhash.Checksum64([]byte(uniqueID))
}

// aliasShard returns the shard map uniqueID's alias entry lives in.
func (r *Registry) aliasShard(uniqueID string) map[string]int {
	return r.aliases[aliasBucket(uniqueID)%aliasShardCount]
}

// Register assigns (or reuses) a stable alias for d.UniqueID, restores
// each of its ports' patch and priority state from persistence, and
// rebinds any previously-patched ports into their universes.
func (r *Registry) Register(d *Device) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	id := d.UniqueID()
	shard := r.aliasShard(id)

	alias, ok := shard[id]
	if !ok {
		alias = r.nextAlias
		r.nextAlias++
		if id != "" {
			shard[id] = alias
		}
	}

	for _, p := range d.Inputs {
		p.deviceUID = id
		r.restorePort(p)
	}
	for _, p := range d.Outputs {
		p.deviceUID = id
		r.restorePort(p)
	}

	if id != "" {
		r.devices[id] = d
	}
	return alias
}

func (r *Registry) restorePort(p *Port) {
	if r.prefs != nil {
		if raw, ok := r.prefs.GetValue(p.UniqueID); ok {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= 0xffff {
				uid := uint16(n)
				p.universeID = &uid
			}
		}
		if raw, ok := r.prefs.GetValue(p.UniqueID + "_priority_mode"); ok {
			if raw == "1" {
				p.mode = ModeOverride
			} else if raw == "0" {
				p.mode = ModeInherit
			}
		}
		if raw, ok := r.prefs.GetValue(p.UniqueID + "_priority_value"); ok {
			if n, err := strconv.Atoi(raw); err == nil && n >= 0 && n <= 200 {
				p.value = uint8(n)
			}
		}
	}
	if p.universeID != nil {
		r.bindLocked(p, *p.universeID)
	}
}

// Unregister snapshots every port's current patch and priority into
// persistence and detaches it from its universe, then drops the device
// from the active set (its alias reservation is kept).
func (r *Registry) Unregister(d *Device) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, p := range d.Inputs {
		r.snapshotPort(p)
		r.unbindLocked(p)
	}
	for _, p := range d.Outputs {
		r.snapshotPort(p)
		r.unbindLocked(p)
	}
	delete(r.devices, d.UniqueID())
}

func (r *Registry) snapshotPort(p *Port) {
	if r.prefs == nil {
		return
	}
	if p.universeID != nil {
		r.prefs.SetValue(p.UniqueID, strconv.Itoa(int(*p.universeID)))
	} else {
		r.prefs.RemoveValue(p.UniqueID)
	}
	mode := "0"
	if p.mode == ModeOverride {
		mode = "1"
	}
	r.prefs.SetValue(p.UniqueID+"_priority_mode", mode)
	r.prefs.SetValue(p.UniqueID+"_priority_value", strconv.Itoa(int(p.value)))
}

// Patch binds port to universeID, enforcing the owning device's
// loop/multi-patch policy (§4.3). Patching a port to its current
// universe is a no-op success.
func (r *Registry) Patch(p *Port, universeID uint16) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p.universeID != nil && *p.universeID == universeID {
		return nil
	}

	dev := r.devices[p.deviceUID]
	if dev != nil {
		if !dev.AllowLooping && r.opponentOccupies(dev, p, universeID) {
			return cos.NewErrPatchConflict("device %s does not allow looping, universe %d already holds an opposite-direction port", p.deviceUID, universeID)
		}
		if !dev.AllowMultiPortPatching && r.peerOccupies(dev, p, universeID) {
			return cos.NewErrPatchConflict("device %s does not allow multi-port patching, universe %d already holds a same-direction port", p.deviceUID, universeID)
		}
	}

	r.unbindLocked(p)
	r.bindLocked(p, universeID)
	r.snapshotPort(p)
	return nil
}

// Unpatch detaches port from its current universe, if any, and enqueues
// the now-possibly-idle universe for GC.
func (r *Registry) Unpatch(p *Port) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.unbindLocked(p)
	r.snapshotPort(p)
}

func (r *Registry) opponentOccupies(dev *Device, self *Port, universeID uint16) bool {
	opposite := Output
	if self.Direction == Output {
		opposite = Input
	}
	for _, other := range dev.portsFor(opposite) {
		if uid, ok := other.Universe(); ok && uid == universeID {
			return true
		}
	}
	return false
}

func (r *Registry) peerOccupies(dev *Device, self *Port, universeID uint16) bool {
	for _, other := range dev.portsFor(self.Direction) {
		if other == self {
			continue
		}
		if uid, ok := other.Universe(); ok && uid == universeID {
			return true
		}
	}
	return false
}

func (r *Registry) bindLocked(p *Port, universeID uint16) {
	u := r.universe.GetUniverseOrCreate(universeID)
	switch p.Direction {
	case Input:
		u.AddPort(p.UniqueID, p.EffectivePriority())
		u.PortDataChanged(p.UniqueID, p.buffer, p.EffectivePriority())
	case Output:
		u.AddOutputPort(p.UniqueID, sink{p})
	}
	id := universeID
	p.universeID = &id
}

func (r *Registry) unbindLocked(p *Port) {
	if p.universeID == nil {
		return
	}
	if u, ok := r.universe.GetUniverse(*p.universeID); ok {
		switch p.Direction {
		case Input:
			u.RemovePort(p.UniqueID)
		case Output:
			u.RemoveOutputPort(p.UniqueID)
		}
		if !u.HasMembers() {
			r.universe.AddUniverseGarbageCollection(u.ID())
		}
	}
	p.universeID = nil
}

// SetPriority applies the §4.3 capability policy to port and persists
// the resulting (possibly unchanged, for CapNone) state.
func (r *Registry) SetPriority(p *Port, mode PriorityMode, value uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p.setPriority(mode, value)
	r.snapshotPort(p)
	if p.universeID != nil && p.Direction == Input {
		if u, ok := r.universe.GetUniverse(*p.universeID); ok {
			u.PortDataChanged(p.UniqueID, p.buffer, p.EffectivePriority())
		}
	}
}

// Alias returns the alias assigned to uniqueID, if any device with that
// id has ever been registered.
func (r *Registry) Alias(uniqueID string) (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.aliasShard(uniqueID)[uniqueID]
	return a, ok
}

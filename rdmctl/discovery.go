package rdmctl

import "github.com/olalite/olad/dmx"

type discoveryRequest struct {
	full bool
	cb   func(uids []dmx.UID)
}

// DiscoverableController extends Controller with full/incremental RDM
// discovery that takes strict precedence over queued requests (§4.4).
// It composes the base Controller rather than duplicating it, mirroring
// the original's template-subclass relationship.
type DiscoverableController struct {
	*Controller

	transport DiscoveryTransport

	pendingDiscovery  []discoveryRequest
	inFlightDiscovery []discoveryRequest
	discoveryInFlight bool
}

// NewDiscoverableController builds a DiscoverableController over
// transport, admitting at most maxQueueSize queued RDM requests. source
// and portID identify the controller's own side of the link, the same
// as NewController.
func NewDiscoverableController(transport DiscoveryTransport, maxQueueSize int, source dmx.UID, portID string) *DiscoverableController {
	d := &DiscoverableController{
		Controller: NewController(transport, maxQueueSize, source, portID),
		transport:  transport,
	}
	d.Controller.self = d
	return d
}

// RunFullDiscovery requests a full discovery pass; cb fires once the
// pass (collapsed with any other pending discovery request) completes.
func (d *DiscoverableController) RunFullDiscovery(cb func(uids []dmx.UID)) {
	d.mu.Lock()
	d.pendingDiscovery = append(d.pendingDiscovery, discoveryRequest{full: true, cb: cb})
	d.mu.Unlock()
	d.runScheduler()
}

// RunIncrementalDiscovery requests an incremental discovery pass; see
// RunFullDiscovery for collapsing semantics.
func (d *DiscoverableController) RunIncrementalDiscovery(cb func(uids []dmx.UID)) {
	d.mu.Lock()
	d.pendingDiscovery = append(d.pendingDiscovery, discoveryRequest{full: false, cb: cb})
	d.mu.Unlock()
	d.runScheduler()
}

// runScheduler overrides Controller.runScheduler (via the self
// interface) to give pending discovery strict precedence over queued
// RDM requests.
func (d *DiscoverableController) runScheduler() {
	d.mu.Lock()
	if d.blockedLocked() || d.discoveryInFlight {
		d.mu.Unlock()
		return
	}
	if len(d.pendingDiscovery) > 0 {
		var full bool
		for _, r := range d.pendingDiscovery {
			full = full || r.full
		}
		d.inFlightDiscovery = d.pendingDiscovery
		d.pendingDiscovery = nil
		d.discoveryInFlight = true
		d.mu.Unlock()

		if full {
			d.transport.RunFullDiscovery(d.onDiscoveryComplete)
		} else {
			d.transport.RunIncrementalDiscovery(d.onDiscoveryComplete)
		}
		return
	}
	if len(d.queue) == 0 {
		d.mu.Unlock()
		return
	}
	d.dispatchFrontLocked()
}

func (d *DiscoverableController) onDiscoveryComplete(uids []dmx.UID) {
	d.mu.Lock()
	cbs := d.inFlightDiscovery
	d.inFlightDiscovery = nil
	d.discoveryInFlight = false
	d.mu.Unlock()

	for _, r := range cbs {
		r.cb(uids)
	}
	d.runScheduler()
}

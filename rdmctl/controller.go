package rdmctl

import (
	"sync"

	"github.com/olalite/olad/cmn/nlog"
	"github.com/olalite/olad/dmx"
)

// scheduler lets DiscoverableController insert a discovery-precedence
// check ahead of Controller's own dispatch without duplicating it; it
// is the same "store a reference to the outermost type" idiom the
// teacher's coordinator/FSM types use to let a composed stage override
// a shared driver loop.
type scheduler interface {
	runScheduler()
}

// Controller serializes RDM requests over a Transport, one in flight at
// a time, reassembling ACK_OVERFLOW chains transparently (§4.4).
type Controller struct {
	mu sync.Mutex

	transport    Transport
	maxQueueSize int

	// source and portID identify this controller itself, as distinct
	// from any caller-supplied Request.Source/PortID: they stamp the
	// controller's own re-sends (ACK_OVERFLOW continuations), which are
	// logically distinct transactions the controller owns, not the
	// original caller's.
	source dmx.UID
	portID string
	nextTN uint8

	queue   []entry
	pending bool
	active  bool

	accumulated        *Response
	accumulatedPackets [][]byte

	self scheduler
}

// NewController builds a Controller over transport, admitting at most
// maxQueueSize queued requests before SendRDMRequest starts failing
// immediately. source and portID identify the controller's own side of
// the link for any continuation requests it issues on a caller's behalf.
func NewController(transport Transport, maxQueueSize int, source dmx.UID, portID string) *Controller {
	c := &Controller{
		transport:    transport,
		maxQueueSize: maxQueueSize,
		source:       source,
		portID:       portID,
		active:       true,
	}
	c.self = c
	return c
}

// SendRDMRequest enqueues req. If the queue is already at capacity, cb
// fires immediately with StatusFailedToSend and req is dropped.
func (c *Controller) SendRDMRequest(req *Request, cb Callback) {
	c.mu.Lock()
	if len(c.queue) >= c.maxQueueSize {
		c.mu.Unlock()
		cb(StatusFailedToSend, nil, nil)
		return
	}
	c.queue = append(c.queue, entry{req, cb})
	c.mu.Unlock()
	c.self.runScheduler()
}

// Pause stops the scheduler from dispatching new requests; in-flight
// requests still complete normally.
func (c *Controller) Pause() {
	c.mu.Lock()
	c.active = false
	c.mu.Unlock()
}

// Resume re-arms the scheduler.
func (c *Controller) Resume() {
	c.mu.Lock()
	c.active = true
	c.mu.Unlock()
	c.self.runScheduler()
}

// Shutdown fails every still-queued request with StatusFailedToSend and
// stops the controller from accepting new dispatch. A request already
// in flight on the transport is still at the front of the queue, so it
// is failed the same way; a transport completion arriving for it
// afterwards finds the queue empty and is logged and discarded.
func (c *Controller) Shutdown() {
	c.mu.Lock()
	pending := c.queue
	c.queue = nil
	c.active = false
	c.mu.Unlock()
	for _, e := range pending {
		e.cb(StatusFailedToSend, nil, nil)
	}
}

// blockedLocked is the base blocking predicate (§4.4 step 1): paused,
// or a request already in flight. Callers must hold c.mu.
func (c *Controller) blockedLocked() bool {
	return !c.active || c.pending
}

// runScheduler is the plain queueing controller's scheduler. It is
// invoked on enqueue, resume, and completion.
func (c *Controller) runScheduler() {
	c.mu.Lock()
	if c.blockedLocked() {
		c.mu.Unlock()
		return
	}
	if len(c.queue) == 0 {
		c.mu.Unlock()
		return
	}
	c.dispatchFrontLocked()
}

// dispatchFrontLocked sends the queue's front request to the transport,
// without dequeueing it -- the original is kept so it can be resent to
// gather ACK_OVERFLOW continuations. The first send is a plain
// duplicate of the caller's request; once a response is accumulating,
// any further continuation is logically the controller's own
// transaction, so it is stamped with the controller's own source,
// port id, and an owned transaction number instead of the caller's. It
// releases c.mu before returning.
func (c *Controller) dispatchFrontLocked() {
	c.pending = true
	var req *Request
	if c.accumulated != nil {
		req = c.queue[0].req.DuplicateWithControllerParams(c.source, c.nextTN, c.portID)
		c.nextTN++
	} else {
		req = c.queue[0].req.Duplicate()
	}
	c.mu.Unlock()
	c.transport.SendRDMRequest(req, c.onTransportComplete)
}

// onTransportComplete is the controller's own completion handler
// (§4.4), passed to the transport in place of the caller's callback so
// every exchange is observed before the caller sees a result.
func (c *Controller) onTransportComplete(status Status, response *Response, packets [][]byte) {
	c.mu.Lock()
	if len(c.queue) == 0 {
		c.mu.Unlock()
		nlog.Fatalf("rdmctl: transport completion arrived with an empty queue")
		return
	}
	c.pending = false
	c.accumulatedPackets = append(c.accumulatedPackets, packets...)

	if status == StatusCompletedOK && response == nil {
		status = StatusInvalidResponse
	}

	if status == StatusCompletedOK {
		if c.accumulated != nil {
			c.accumulated.combine(response)
		} else {
			c.accumulated = response
		}
		if c.accumulated.Type == ACKOverflow {
			c.dispatchFrontLocked()
			return
		}
	} else {
		c.accumulated = nil
	}

	e := c.queue[0]
	c.queue = c.queue[1:]
	resp, pkts := c.accumulated, c.accumulatedPackets
	c.accumulated, c.accumulatedPackets = nil, nil
	c.mu.Unlock()

	e.cb(status, resp, pkts)
	c.self.runScheduler()
}

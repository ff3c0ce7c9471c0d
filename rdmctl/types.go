// Package rdmctl implements the queueing RDM controller of §4.4: a
// serialized, callback-driven interface over a single-request-at-a-time
// transport, plus a discovery variant with strict precedence over
// queued requests.
//
// Request ownership follows the single-owner handoff §9 calls out:
// SendRDMRequest takes the request, and exactly one callback invocation
// releases it, on every path including controller shutdown.
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package rdmctl

import "github.com/olalite/olad/dmx"

// Status is an RDM completion code surfaced to callers (§7).
type Status int

const (
	StatusCompletedOK Status = iota
	StatusFailedToSend
	StatusTimeout
	StatusInvalidResponse
	StatusWasBroadcast
	StatusDUBResponse
	StatusUnknownUID
)

func (s Status) String() string {
	switch s {
	case StatusCompletedOK:
		return "COMPLETED_OK"
	case StatusFailedToSend:
		return "FAILED_TO_SEND"
	case StatusTimeout:
		return "TIMEOUT"
	case StatusInvalidResponse:
		return "INVALID_RESPONSE"
	case StatusWasBroadcast:
		return "WAS_BROADCAST"
	case StatusDUBResponse:
		return "DUB_RESPONSE"
	case StatusUnknownUID:
		return "UNKNOWN_UID"
	default:
		return "UNKNOWN_STATUS"
	}
}

// ResponseType is an RDM response subcode (§7).
type ResponseType int

const (
	ACK ResponseType = iota
	ACKTimer
	ACKOverflow
	NACK
)

// Request is a single outstanding RDM transaction.
type Request struct {
	Source, Dest      dmx.UID
	PortID            string
	TransactionNumber uint8
	CommandClass      uint8
	PID               uint16
	ParamData         []byte
}

// Duplicate copies r, including its parameter data, so the controller
// can hand a transport a transient copy while retaining the original
// for unchanged re-sends during ACK_OVERFLOW reassembly.
func (r *Request) Duplicate() *Request {
	dup := *r
	dup.ParamData = append([]byte(nil), r.ParamData...)
	return &dup
}

// DuplicateWithControllerParams duplicates r for the controller's own
// re-send of a logically distinct transaction (e.g. an ACK_OVERFLOW
// continuation), overriding the source-side fields the controller owns
// rather than the original caller: source UID, transaction number, and
// port id.
func (r *Request) DuplicateWithControllerParams(src dmx.UID, transactionNumber uint8, portID string) *Request {
	dup := r.Duplicate()
	dup.Source = src
	dup.TransactionNumber = transactionNumber
	dup.PortID = portID
	return dup
}

// Response is a single RDM response, possibly one link in an
// ACK_OVERFLOW chain.
type Response struct {
	Type      ResponseType
	ParamData []byte
}

// combine implements the "CombineResponses" operation of §4.4 step 4:
// append other's parameter data, and adopt its type so ACK_OVERFLOW
// detection sees the latest link in the chain.
func (r *Response) combine(other *Response) {
	r.ParamData = append(r.ParamData, other.ParamData...)
	r.Type = other.Type
}

// Callback is invoked exactly once per SendRDMRequest, carrying the
// final status, the (possibly reassembled) response, and every raw
// packet observed across the transaction.
type Callback func(status Status, response *Response, packets [][]byte)

// Transport is the single-request-at-a-time RDM link the controller
// serializes access to.
type Transport interface {
	SendRDMRequest(req *Request, cb Callback)
}

// DiscoveryTransport extends Transport with the full/incremental
// discovery operations the discovery variant schedules ahead of queued
// requests.
type DiscoveryTransport interface {
	Transport
	RunFullDiscovery(cb func(uids []dmx.UID))
	RunIncrementalDiscovery(cb func(uids []dmx.UID))
}

type entry struct {
	req *Request
	cb  Callback
}

/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package olad

import (
	"github.com/olalite/olad/loop"
	"github.com/olalite/olad/rdmctl"
	"github.com/olalite/olad/usbdisc"
)

// Widget framing: a start-of-message byte, a one-byte label identifying
// the exchange, a two-byte little-endian payload length, the payload,
// and an end-of-message byte, in the ENTTEC USB Pro style. (The usbdisc
// detectors do not use this framing: they write a bare label byte.)
const (
	widgetSOM = 0x7e
	widgetEOM = 0xe7

	labelRDMRequest          = 0xa0
	labelRDMResponseACK      = 0xa1
	labelRDMResponseTimer    = 0xa2
	labelRDMResponseOverflow = 0xa3
	labelRDMResponseNACK     = 0xa4
)

// widgetTransport adapts a discovered widget's byte Handle into an
// rdmctl.Transport, framing each request and decoding the matching
// response label into an rdmctl.ResponseType. Every exchange runs its
// I/O off-loop and delivers the callback back onto mainLoop, keeping
// the controller's own dispatch single-threaded (§5).
type widgetTransport struct {
	widget   *usbdisc.Widget
	mainLoop *loop.Loop
}

func newWidgetTransport(w *usbdisc.Widget, mainLoop *loop.Loop) *widgetTransport {
	return &widgetTransport{widget: w, mainLoop: mainLoop}
}

func (t *widgetTransport) SendRDMRequest(req *rdmctl.Request, cb rdmctl.Callback) {
	go func() {
		frame := encodeWidgetFrame(labelRDMRequest, req.ParamData)
		if _, err := t.widget.RW.Write(frame); err != nil {
			t.complete(cb, rdmctl.StatusFailedToSend, nil, nil)
			return
		}

		buf := make([]byte, 600)
		n, err := t.widget.RW.Read(buf)
		if err != nil || n == 0 {
			t.complete(cb, rdmctl.StatusTimeout, nil, nil)
			return
		}
		raw := append([]byte(nil), buf[:n]...)

		label, payload, ok := decodeWidgetFrame(raw)
		if !ok {
			t.complete(cb, rdmctl.StatusInvalidResponse, nil, [][]byte{raw})
			return
		}

		respType, ok := responseTypeForLabel(label)
		if !ok {
			t.complete(cb, rdmctl.StatusInvalidResponse, nil, [][]byte{raw})
			return
		}
		resp := &rdmctl.Response{Type: respType, ParamData: payload}
		t.complete(cb, rdmctl.StatusCompletedOK, resp, [][]byte{raw})
	}()
}

func (t *widgetTransport) complete(cb rdmctl.Callback, status rdmctl.Status, resp *rdmctl.Response, packets [][]byte) {
	t.mainLoop.Execute(func() {
		cb(status, resp, packets)
	})
}

func responseTypeForLabel(label byte) (rdmctl.ResponseType, bool) {
	switch label {
	case labelRDMResponseACK:
		return rdmctl.ACK, true
	case labelRDMResponseTimer:
		return rdmctl.ACKTimer, true
	case labelRDMResponseOverflow:
		return rdmctl.ACKOverflow, true
	case labelRDMResponseNACK:
		return rdmctl.NACK, true
	default:
		return 0, false
	}
}

func encodeWidgetFrame(label byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+5)
	out = append(out, widgetSOM, label, byte(len(payload)), byte(len(payload)>>8))
	out = append(out, payload...)
	out = append(out, widgetEOM)
	return out
}

func decodeWidgetFrame(raw []byte) (label byte, payload []byte, ok bool) {
	if len(raw) < 5 || raw[0] != widgetSOM || raw[len(raw)-1] != widgetEOM {
		return 0, nil, false
	}
	length := int(raw[2]) | int(raw[3])<<8
	if len(raw) != 5+length {
		return 0, nil, false
	}
	return raw[1], raw[4 : 4+length], true
}

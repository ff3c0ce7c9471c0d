package usbdisc

import (
	"context"
	"io"
	"time"
)

// DeadlineHandle is a Handle that also supports a per-call read deadline,
// the same shape os.File and net.Conn expose; detectors use it to bound
// each identifying query without spinning up bridging goroutines.
type DeadlineHandle interface {
	Handle
	SetReadDeadline(t time.Time) error
}

// Detector probes a descriptor for one protocol family. Probe must
// respect ctx's deadline and return ok=false (never an error) on
// timeout, rejection, or any I/O failure -- the scanner's detection
// chain only distinguishes "recognized" from "not this one".
type Detector interface {
	Name() string
	Probe(ctx context.Context, h DeadlineHandle) (WidgetInfo, bool)
}

// usbProLabel is an ENTTEC USB Pro-style widget label byte.
type usbProLabel byte

const (
	labelManufacturer usbProLabel = 77
	labelDevice       usbProLabel = 78
	labelSerial       usbProLabel = 10
	labelFirmware     usbProLabel = 3
)

// USBProDetector probes the widget-label request/response exchange
// common to the DMXKing/Enttec USB-Pro protocol family (§6).
type USBProDetector struct {
	// Lookup resolves a manufacturer/device id pair read off the wire
	// into the ESTAID/DeviceIDString strings Classify expects. Tests and
	// real deployments supply their own ESTA id table.
	Lookup func(manufacturerID, deviceID uint16) (estaID, deviceIDString string)
}

func (d *USBProDetector) Name() string { return "usb-pro" }

func (d *USBProDetector) Probe(ctx context.Context, h DeadlineHandle) (WidgetInfo, bool) {
	mfr, ok := d.query(ctx, h, labelManufacturer, 2)
	if !ok {
		return WidgetInfo{}, false
	}
	dev, ok := d.query(ctx, h, labelDevice, 2)
	if !ok {
		return WidgetInfo{}, false
	}
	serial, ok := d.query(ctx, h, labelSerial, 4)
	if !ok {
		return WidgetInfo{}, false
	}

	manufacturerID := le16(mfr)
	deviceID := le16(dev)

	var estaName, devName string
	if d.Lookup != nil {
		estaName, devName = d.Lookup(manufacturerID, deviceID)
	}

	// The firmware version query is best-effort: older widgets don't
	// answer it the same way, and its absence just means RDM stays
	// gated off rather than the whole probe failing (matches the
	// original's has_firmware_version fallback).
	var firmware uint16
	if fw, ok := d.query(ctx, h, labelFirmware, 2); ok {
		firmware = le16(fw)
	}

	return WidgetInfo{
		ESTAID:          estaName,
		DeviceIDString:  devName,
		SerialNumber:    le32(serial),
		FirmwareVersion: firmware,
	}, true
}

func (d *USBProDetector) query(ctx context.Context, h DeadlineHandle, label usbProLabel, replyLen int) ([]byte, bool) {
	if deadline, ok := ctx.Deadline(); ok {
		h.SetReadDeadline(deadline)
	}
	if _, err := h.Write([]byte{byte(label)}); err != nil {
		return nil, false
	}
	buf := make([]byte, replyLen)
	if _, err := io.ReadFull(h, buf); err != nil {
		return nil, false
	}
	return buf, true
}

func le16(b []byte) uint16 { return uint16(b[0]) | uint16(b[1])<<8 }
func le32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

// RobeDetector probes the Robe Universal Interface protocol family: an
// INFO_REQUEST followed by a UID_REQUEST (§6).
type RobeDetector struct{}

func (d *RobeDetector) Name() string { return "robe" }

func (d *RobeDetector) Probe(ctx context.Context, h DeadlineHandle) (WidgetInfo, bool) {
	if deadline, ok := ctx.Deadline(); ok {
		h.SetReadDeadline(deadline)
	}
	if _, err := h.Write([]byte("INFO_REQUEST")); err != nil {
		return WidgetInfo{}, false
	}
	info := make([]byte, 5)
	if _, err := io.ReadFull(h, info); err != nil {
		return WidgetInfo{}, false
	}

	if _, err := h.Write([]byte("UID_REQUEST")); err != nil {
		return WidgetInfo{}, false
	}
	uid := make([]byte, 6)
	if _, err := io.ReadFull(h, uid); err != nil {
		return WidgetInfo{}, false
	}

	return WidgetInfo{
		ESTAID:          "Robe",
		DeviceIDString:  "Universal",
		FirmwareVersion: uint16(info[1])<<8 | uint16(info[0]),
	}, true
}

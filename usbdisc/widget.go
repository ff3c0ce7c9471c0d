// Package usbdisc implements the USB/serial widget discovery pipeline
// of §4.6: a dedicated discovery loop scans a device directory, probes
// each newly-attached descriptor through an ordered chain of protocol
// detectors, classifies the first match, and hands the finished widget
// to the caller's observer on a separate loop.
/*
 * Copyright (c) 2024, OLA control core contributors.
 */
package usbdisc

import "strings"

// WidgetType names a concrete widget variant the classification table
// of §6 can produce.
type WidgetType string

const (
	TypeUltraDMXPro  WidgetType = "UltraDMXPro"
	TypeEnttecUsbPro WidgetType = "EnttecUsbPro"
	TypeDmxter       WidgetType = "Dmxter"
	TypeDmxTri       WidgetType = "DmxTri"
	TypeArduino      WidgetType = "Arduino"
)

// WidgetInfo is the typed identification record a successful detector
// probe produces.
type WidgetInfo struct {
	ESTAID          string
	DeviceIDString  string
	FirmwareVersion uint16
	SerialNumber    uint32
	SupportsRDM     bool
}

// Classify applies the §6 classification table: deterministic, evaluated
// in order, first match wins.
func Classify(info WidgetInfo) WidgetType {
	switch {
	case info.ESTAID == "DMXKing" && info.DeviceIDString == "UltraPro":
		return TypeUltraDMXPro
	case info.ESTAID == "DMXKing":
		return TypeEnttecUsbPro
	case info.ESTAID == "Goddard" && isDmxter(info.DeviceIDString):
		return TypeDmxter
	case info.ESTAID == "JESE" && isTriFamily(info.DeviceIDString):
		return TypeDmxTri
	case info.ESTAID == "OpenLighting" && isArduinoFamily(info.DeviceIDString):
		return TypeArduino
	default:
		return TypeEnttecUsbPro
	}
}

func isDmxter(deviceID string) bool {
	switch deviceID {
	case "DMXter4", "DMXter4A", "DMXterMini":
		return true
	default:
		return false
	}
}

func isTriFamily(deviceID string) bool {
	return strings.HasSuffix(deviceID, "TRI") || strings.HasSuffix(deviceID, "TXI")
}

func isArduinoFamily(deviceID string) bool {
	return deviceID == "RGBMixer" || deviceID == "Packetheads"
}

// minEnttecRDMFirmware is the first USB Pro firmware revision that
// properly supports RDM (§6 "firmware-gated RDM"); below it, the
// widget is DMX-only.
const minEnttecRDMFirmware uint16 = 0x0204

// ultraRdmDeviceID is the DMXKing device id string for the UltraRDM
// variant, which always speaks RDM regardless of firmware (§6 "rdm if
// UltraRdm").
const ultraRdmDeviceID = "UltraRDM"

// RDMCapable reports whether a widget classified as kind, with the
// identification info, speaks RDM over its DMX line (§6). Dmxter,
// DmxTri, the Arduino family, and the dedicated UltraDMXPro widget are
// always RDM-capable; a generic EnttecUsbPro is conditional on either
// being the DMXKing UltraRDM variant or carrying a new-enough firmware
// revision.
func RDMCapable(kind WidgetType, info WidgetInfo) bool {
	switch kind {
	case TypeUltraDMXPro, TypeDmxter, TypeDmxTri, TypeArduino:
		return true
	case TypeEnttecUsbPro:
		if info.ESTAID == "DMXKing" {
			return info.DeviceIDString == ultraRdmDeviceID
		}
		return info.FirmwareVersion >= minEnttecRDMFirmware
	default:
		return false
	}
}

// Handle is the open bidirectional byte channel a widget communicates
// over once discovery hands it off.
type Handle interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Close() error
}

// Widget is a classified, ready-to-use discovered device.
type Widget struct {
	RW   Handle
	Kind WidgetType
	Info WidgetInfo
	Path string
}

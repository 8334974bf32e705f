// Package resource parses and formats VISA resource strings into a
// structured descriptor, per the four interface families (TCPIP, USB, ASRL,
// GPIB) the distilled spec names in §4.1. Grounded on
// original_source/src/core/session.c's ov_parse_rsrc.
package resource

import (
	"fmt"
	"strconv"
	"strings"
)

// InterfaceType identifies which of the four resource families a descriptor
// belongs to.
type InterfaceType int

const (
	TCPIP InterfaceType = iota
	USB
	ASRL
	GPIB
)

func (t InterfaceType) String() string {
	switch t {
	case TCPIP:
		return "TCPIP"
	case USB:
		return "USB"
	case ASRL:
		return "ASRL"
	case GPIB:
		return "GPIB"
	default:
		return "UNKNOWN"
	}
}

// Default ports, per spec §3/§6.
const (
	PortVXI11   = 111
	PortHiSLIP  = 4880
	PortRawSock = 5025
)

// Descriptor is the immutable parse result of a resource string.
type Descriptor struct {
	Interface InterfaceType
	Board     int // board_number, usually 0

	// TCPIP
	Host       string
	Port       int
	DeviceName string // e.g. "inst0", "hislip0"
	IsSocket   bool
	IsHiSLIP   bool

	// USB
	VendorID    uint16
	ProductID   uint16
	SerialNum   string
	USBIntfNum  int
	usbIntfSet  bool

	// ASRL
	ComPort int
	DevPath string // optional POSIX override, set by discovery results

	// GPIB
	PrimaryAddr   int
	SecondaryAddr int // -1 = none

	Raw string // original resource string, for attribute reporting
}

func hasPrefixFold(s, prefix string) bool {
	return len(s) >= len(prefix) && strings.EqualFold(s[:len(prefix)], prefix)
}

// leadingInt consumes a run of ASCII digits from the front of s, returning
// the parsed value (0 if none) and the remainder.
func leadingInt(s string) (int, string) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, s
	}
	n, _ := strconv.Atoi(s[:i])
	return n, s[i:]
}

func splitField(s string) (field, rest string) {
	if idx := strings.Index(s, "::"); idx >= 0 {
		return s[:idx], s[idx+2:]
	}
	return s, ""
}

// Parse parses rsrcName into a Descriptor, or returns an error equivalent to
// VI_ERROR_INV_RSRC_NAME for unrecognized prefixes or malformed structure.
// The parser performs no I/O.
func Parse(rsrcName string) (Descriptor, error) {
	d := Descriptor{Raw: rsrcName, SecondaryAddr: -1}

	switch {
	case hasPrefixFold(rsrcName, "TCPIP"):
		return parseTCPIP(rsrcName, d)
	case hasPrefixFold(rsrcName, "USB"):
		return parseUSB(rsrcName, d)
	case hasPrefixFold(rsrcName, "ASRL"):
		return parseASRL(rsrcName, d)
	case hasPrefixFold(rsrcName, "GPIB"):
		return parseGPIB(rsrcName, d)
	default:
		return Descriptor{}, fmt.Errorf("resource: unrecognized resource string %q", rsrcName)
	}
}

func parseTCPIP(rsrcName string, d Descriptor) (Descriptor, error) {
	d.Interface = TCPIP
	p := rsrcName[5:]
	d.Board, p = leadingInt(p)

	if !strings.HasPrefix(p, "::") {
		return Descriptor{}, fmt.Errorf("resource: malformed TCPIP resource %q", rsrcName)
	}
	p = p[2:]

	host, rest := splitField(p)
	d.Host = host

	if rest == "" && !strings.Contains(p, "::") {
		// TCPIP::host — assume INSTR on the VXI-11 port.
		d.DeviceName = "inst0"
		d.Port = PortVXI11
		return d, nil
	}

	if hasPrefixFold(rest, "INSTR") {
		d.DeviceName = "inst0"
		d.Port = PortVXI11
		return d, nil
	}

	if hasPrefixFold(rest, "hislip") {
		d.IsHiSLIP = true
		d.Port = PortHiSLIP
		devName, _ := splitField(rest)
		d.DeviceName = devName
		return d, nil
	}

	field, after := splitField(rest)
	numeric := field != "" && strings.Trim(field, "0123456789") == ""

	if after == "" || (hasPrefixFold(after, "INSTR") && !numeric) {
		// device name like "inst0"
		d.DeviceName = field
		d.Port = PortVXI11
		return d, nil
	}

	if hasPrefixFold(after, "SOCKET") {
		d.IsSocket = true
		port, _ := strconv.Atoi(field)
		d.Port = port
		return d, nil
	}

	// field::INSTR with field as numeric port override
	port, err := strconv.Atoi(field)
	if err != nil {
		return Descriptor{}, fmt.Errorf("resource: invalid TCPIP port field %q", field)
	}
	d.Port = port
	d.DeviceName = "inst0"
	return d, nil
}

func parseUSB(rsrcName string, d Descriptor) (Descriptor, error) {
	d.Interface = USB
	p := rsrcName[3:]
	d.Board, p = leadingInt(p)

	if !strings.HasPrefix(p, "::") {
		return Descriptor{}, fmt.Errorf("resource: malformed USB resource %q", rsrcName)
	}
	p = p[2:]

	vidField, p := splitField(p)
	vid, err := strconv.ParseUint(vidField, 0, 16)
	if err != nil {
		return Descriptor{}, fmt.Errorf("resource: invalid USB vendor id %q", vidField)
	}
	d.VendorID = uint16(vid)

	pidField, p := splitField(p)
	pid, err := strconv.ParseUint(pidField, 0, 16)
	if err != nil {
		return Descriptor{}, fmt.Errorf("resource: invalid USB product id %q", pidField)
	}
	d.ProductID = uint16(pid)

	serial, rest := splitField(p)
	d.SerialNum = serial

	if !hasPrefixFold(rest, "INSTR") && rest != "" {
		intfField, _ := splitField(rest)
		if n, err := strconv.Atoi(intfField); err == nil {
			d.USBIntfNum = n
			d.usbIntfSet = true
		}
	}

	return d, nil
}

// parseASRL mirrors ov_parse_rsrc's ASRL case: atoi() on the remainder after
// the prefix, which happily ignores any trailing "::INSTR" suffix. A
// discovery-produced POSIX device path (e.g. "ASRL/dev/ttyUSB0::INSTR") is
// accepted as a supplemental form beyond the distilled grammar, since
// original_source's serial discoverer emits exactly this shape.
func parseASRL(rsrcName string, d Descriptor) (Descriptor, error) {
	d.Interface = ASRL
	p := rsrcName[4:]
	if strings.HasPrefix(p, "/") || hasPrefixFold(p, "COM") {
		path, _ := splitField(p)
		d.DevPath = path
		return d, nil
	}
	d.ComPort, _ = leadingInt(p)
	return d, nil
}

func parseGPIB(rsrcName string, d Descriptor) (Descriptor, error) {
	d.Interface = GPIB
	p := rsrcName[4:]
	d.Board, p = leadingInt(p)

	if !strings.HasPrefix(p, "::") {
		return Descriptor{}, fmt.Errorf("resource: malformed GPIB resource %q", rsrcName)
	}
	p = p[2:]

	primary, p := leadingInt(p)
	d.PrimaryAddr = primary

	if strings.HasPrefix(p, "::") {
		p = p[2:]
		if !hasPrefixFold(p, "INSTR") {
			sec, _ := leadingInt(p)
			d.SecondaryAddr = sec
		}
	}
	return d, nil
}

// ResourceClass returns the VISA resource class string ("INSTR" or
// "SOCKET"), the extra piece of information original_source's viParseRsrcEx
// reports beyond plain interface/board.
func (d Descriptor) ResourceClass() string {
	if d.IsSocket {
		return "SOCKET"
	}
	return "INSTR"
}

// Format reconstructs a canonical resource string equivalent to d, ignoring
// default-port normalization (per §8's round-trip property).
func (d Descriptor) Format() string {
	switch d.Interface {
	case TCPIP:
		switch {
		case d.IsSocket:
			return fmt.Sprintf("TCPIP%d::%s::%d::SOCKET", d.Board, d.Host, d.Port)
		case d.IsHiSLIP:
			return fmt.Sprintf("TCPIP%d::%s::%s::INSTR", d.Board, d.Host, d.DeviceName)
		default:
			return fmt.Sprintf("TCPIP%d::%s::%s::INSTR", d.Board, d.Host, d.DeviceName)
		}
	case USB:
		s := fmt.Sprintf("USB%d::0x%04X::0x%04X::%s", d.Board, d.VendorID, d.ProductID, d.SerialNum)
		if d.usbIntfSet {
			s += fmt.Sprintf("::%d", d.USBIntfNum)
		}
		return s + "::INSTR"
	case ASRL:
		if d.DevPath != "" {
			return fmt.Sprintf("ASRL%s::INSTR", d.DevPath)
		}
		return fmt.Sprintf("ASRL%d::INSTR", d.ComPort)
	case GPIB:
		if d.SecondaryAddr >= 0 {
			return fmt.Sprintf("GPIB%d::%d::%d::INSTR", d.Board, d.PrimaryAddr, d.SecondaryAddr)
		}
		return fmt.Sprintf("GPIB%d::%d::INSTR", d.Board, d.PrimaryAddr)
	default:
		return d.Raw
	}
}

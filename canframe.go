package ttcan

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// PayloadSize is the fixed classic CAN payload width used for every frame
// this package puts on the wire.
const PayloadSize = 8

// MaxStandardID is the highest 11-bit identifier.
const MaxStandardID = 0x7FF

type CANFrameType struct {
	Type      int
	Responses int
}

var (
	Incoming = CANFrameType{Type: 0}
	Outgoing = CANFrameType{Type: 1}
)

type CANFrame struct {
	Identifier uint32
	Extended   bool
	Data       []byte
	FrameType  CANFrameType
}

// NewFrame creates a new standard CANFrame and copies the data slice
func NewFrame(identifier uint32, data []byte, frameType CANFrameType) *CANFrame {
	d := make([]byte, len(data))
	copy(d, data)
	return &CANFrame{
		Identifier: identifier,
		Data:       d,
		FrameType:  frameType,
	}
}

// NewExtendedFrame creates a new 29-bit CANFrame and copies the data slice
func NewExtendedFrame(identifier uint32, data []byte, frameType CANFrameType) *CANFrame {
	frame := NewFrame(identifier, data, frameType)
	frame.Extended = true
	return frame
}

// DLC returns the length of the data
func (f *CANFrame) DLC() int {
	return len(f.Data)
}

// Clone returns a deep copy so a frame handed to an adapter can't be mutated by the caller.
func (f *CANFrame) Clone() *CANFrame {
	c := NewFrame(f.Identifier, f.Data, f.FrameType)
	c.Extended = f.Extended
	return c
}

// HexData returns the payload as space separated upper case hex bytes.
func (f *CANFrame) HexData() string {
	var out strings.Builder
	for i, b := range f.Data {
		if i > 0 {
			out.WriteByte(' ')
		}
		fmt.Fprintf(&out, "%02X", b)
	}
	return out.String()
}

func (f *CANFrame) direction() string {
	switch f.FrameType.Type {
	case Incoming.Type:
		return "<i> || "
	case Outgoing.Type:
		return "<o> || "
	}
	return "<?> || "
}

func (f *CANFrame) idString() string {
	if f.Extended {
		return fmt.Sprintf("0x%08X", f.Identifier)
	}
	return fmt.Sprintf("0x%03X", f.Identifier)
}

func (f *CANFrame) binData() string {
	var out strings.Builder
	for i, b := range f.Data {
		if i > 0 {
			out.WriteByte(' ')
		}
		fmt.Fprintf(&out, "%08b", b)
	}
	return out.String()
}

var (
	green  = color.New(color.FgGreen).SprintFunc()
	red    = color.New(color.FgRed).SprintFunc()
	yellow = color.New(color.FgHiBlue).SprintFunc()
)

func (f *CANFrame) String() string {
	var out strings.Builder
	out.WriteString(f.direction())
	out.WriteString(f.idString() + " || ")
	out.WriteString(strconv.Itoa(f.DLC()) + " || ")
	out.WriteString(fmt.Sprintf("%-23s", f.HexData()))
	out.WriteString(" || ")
	out.WriteString(fmt.Sprintf("%-71s", f.binData()))
	return out.String()
}

// ColorString is String with the identifier, the hex view and the binary view colored.
func (f *CANFrame) ColorString() string {
	var out strings.Builder
	out.WriteString(f.direction())
	out.WriteString(green(f.idString()) + " || ")
	out.WriteString(strconv.Itoa(f.DLC()) + " || ")
	out.WriteString(yellow(fmt.Sprintf("%-23s", f.HexData())))
	out.WriteString(" || ")
	out.WriteString(red(fmt.Sprintf("%-71s", f.binData())))
	return out.String()
}

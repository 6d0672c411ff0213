package tt

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/roffe/ttcan"
)

// Payload is a literal frame payload. Its text form is space separated hex bytes,
// "00 04 00 00 00 00 00 00". Shorter inputs are zero padded.
type Payload [ttcan.PayloadSize]byte

func ParsePayload(s string) (Payload, error) {
	var p Payload
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == ',' || r == '\t'
	})
	if len(fields) == 0 || len(fields) > len(p) {
		return p, fmt.Errorf("payload %q: want 1 to %d bytes", s, len(p))
	}
	for i, f := range fields {
		f = strings.TrimPrefix(strings.TrimPrefix(f, "0x"), "0X")
		b, err := strconv.ParseUint(f, 16, 8)
		if err != nil {
			return p, fmt.Errorf("payload %q: byte %d: %w", s, i, err)
		}
		p[i] = byte(b)
	}
	return p, nil
}

func (p Payload) Bytes() []byte {
	out := make([]byte, len(p))
	copy(out, p[:])
	return out
}

func (p Payload) String() string {
	return fmt.Sprintf("% X", p[:])
}

func (p Payload) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Payload) UnmarshalText(text []byte) error {
	v, err := ParsePayload(string(text))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// Fallback decides what happens when no rule of an override set matches:
// generic encoding, or a literal payload.
type Fallback struct {
	Literal bool
	Payload Payload
}

// Generic falls through to the message encoder.
var Generic = Fallback{}

func LiteralFallback(p Payload) Fallback {
	return Fallback{Literal: true, Payload: p}
}

func (f Fallback) MarshalText() ([]byte, error) {
	if !f.Literal {
		return []byte("generic"), nil
	}
	return f.Payload.MarshalText()
}

func (f *Fallback) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	if s == "" || strings.EqualFold(s, "generic") {
		*f = Generic
		return nil
	}
	p, err := ParsePayload(s)
	if err != nil {
		return fmt.Errorf("fallback: %w", err)
	}
	*f = LiteralFallback(p)
	return nil
}

// OverrideRule matches the raw value text of a test case exactly.
type OverrideRule struct {
	Value   string  `yaml:"value"`
	Payload Payload `yaml:"payload"`
}

type OverrideSet struct {
	Rules    []OverrideRule `yaml:"rules"`
	Fallback Fallback       `yaml:"fallback"`
}

// OverrideTable holds the messages whose payloads bypass generic encoding, keyed by
// message name.
type OverrideTable map[string]OverrideSet

// DefaultOverrides returns the built-in overrides for the cluster test bench.
func DefaultOverrides() OverrideTable {
	return OverrideTable{
		"CGW_PC2": {
			Rules: []OverrideRule{
				{Value: "0x1", Payload: Payload{0x00, 0x04}},
			},
			Fallback: LiteralFallback(Payload{}),
		},
		"EMS12": {
			Rules: []OverrideRule{
				{Value: "0xE1", Payload: Payload{0x00, 0xE1}},
				{Value: "0xDD", Payload: Payload{0x00, 0xDD}},
				{Value: "0xFF", Payload: Payload{0x00, 0xFF}},
			},
			Fallback: Generic,
		},
	}
}

// Merge returns a new table with the entries of other added to, or replacing, those of t.
func (t OverrideTable) Merge(other OverrideTable) OverrideTable {
	out := make(OverrideTable, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Payload returns the literal payload for message and raw value. ok is false when the
// value should be encoded generically.
func (t OverrideTable) Payload(message, raw string) (payload []byte, ok bool) {
	set, found := t[message]
	if !found {
		return nil, false
	}
	for _, r := range set.Rules {
		if r.Value == raw {
			return r.Payload.Bytes(), true
		}
	}
	if set.Fallback.Literal {
		return set.Fallback.Payload.Bytes(), true
	}
	return nil, false
}

package candb

import (
	"fmt"
	"sort"

	"go.einride.tech/can"
)

// PayloadSize is the width of every encoded payload.
const PayloadSize = 8

// Encode packs values into an 8 byte payload. values must hold exactly one entry per
// signal of the message. Layout problems (overlap, bits outside the frame) and values
// that do not fit their signal are reported as ErrEncode.
func (m *Message) Encode(values Values) ([]byte, error) {
	if m.Length > PayloadSize {
		return nil, fmt.Errorf("%w: %s is %d bytes, only classic CAN frames are supported", ErrEncode, m.Name, m.Length)
	}
	if err := m.checkKeys(values); err != nil {
		return nil, err
	}

	var mux *Signal
	for _, s := range m.Signals {
		if s.IsMultiplexer {
			mux = s
			break
		}
	}

	var (
		data can.Data
		used [PayloadSize]byte
	)
	for _, s := range m.Signals {
		v := values[s.Name]
		if s.IsMultiplexed && (mux == nil || uint64(values[mux.Name]) != uint64(s.MultiplexerValue)) {
			continue
		}
		positions, err := s.bitPositions(m.Length)
		if err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrEncode, m.Name, s.Name, err)
		}
		for _, p := range positions {
			bit := byte(1) << (p % 8)
			if used[p/8]&bit != 0 {
				return nil, fmt.Errorf("%w: %s.%s overlaps another signal at bit %d", ErrEncode, m.Name, s.Name, p)
			}
			used[p/8] |= bit
		}
		if err := s.checkRange(v); err != nil {
			return nil, fmt.Errorf("%w: %s.%s: %v", ErrEncode, m.Name, s.Name, err)
		}
		if s.IsSigned {
			s.MarshalSigned(&data, v)
		} else {
			s.MarshalUnsigned(&data, uint64(v))
		}
	}
	out := make([]byte, PayloadSize)
	copy(out, data[:])
	return out, nil
}

func (m *Message) checkKeys(values Values) error {
	var missing, unknown []string
	for _, s := range m.Signals {
		if _, ok := values[s.Name]; !ok {
			missing = append(missing, s.Name)
		}
	}
	for name := range values {
		if m.Signal(name) == nil {
			unknown = append(unknown, name)
		}
	}
	sort.Strings(unknown)
	switch {
	case len(missing) > 0:
		return fmt.Errorf("%w: %s: missing values for %v", ErrEncode, m.Name, missing)
	case len(unknown) > 0:
		return fmt.Errorf("%w: %s: unknown signals %v", ErrEncode, m.Name, unknown)
	}
	return nil
}

// Decode unpacks the raw value of every signal. Multiplexed signals are decoded regardless
// of the multiplexer value.
func (m *Message) Decode(payload []byte) Values {
	var data can.Data
	copy(data[:], payload)
	out := make(Values, len(m.Signals))
	for _, s := range m.Signals {
		if s.IsSigned {
			out[s.Name] = s.UnmarshalSigned(data)
		} else {
			out[s.Name] = int64(s.UnmarshalUnsigned(data))
		}
	}
	return out
}

// bitPositions lists the absolute bit indexes the signal occupies, following the DBC
// numbering (Motorola signals start at their most significant bit).
func (s *Signal) bitPositions(lengthBytes uint8) ([]uint, error) {
	total := uint(lengthBytes) * 8
	pos := uint(s.Start)
	out := make([]uint, 0, s.Length)
	for i := uint8(0); i < s.Length; i++ {
		if pos >= total {
			return nil, fmt.Errorf("bit %d outside of %d byte frame", pos, lengthBytes)
		}
		out = append(out, pos)
		switch {
		case !s.IsBigEndian:
			pos++
		case pos%8 == 0:
			pos += 15
		default:
			pos--
		}
	}
	return out, nil
}

func (s *Signal) checkRange(v int64) error {
	n := uint(s.Length)
	if s.IsSigned {
		if n == 64 {
			return nil
		}
		lo, hi := -(int64(1) << (n - 1)), int64(1)<<(n-1)-1
		if v < lo || v > hi {
			return fmt.Errorf("value %d outside signed %d bit range [%d, %d]", v, n, lo, hi)
		}
		return nil
	}
	if v < 0 {
		return fmt.Errorf("negative value %d for unsigned signal", v)
	}
	if n < 64 && uint64(v) >= uint64(1)<<n {
		return fmt.Errorf("value 0x%X does not fit %d bits", v, n)
	}
	return nil
}

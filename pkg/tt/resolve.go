package tt

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/roffe/ttcan/pkg/candb"
)

// Resolve builds the raw value map for msg the way the plan values are meant: the hex
// value is a physical value and is converted with the signal's factor and offset, every
// other signal gets its declared initial value or physical 0.
func Resolve(msg *candb.Message, signal, hexValue string) (candb.Values, error) {
	return resolve(msg, signal, hexValue, false)
}

// ResolveRaw is Resolve for plans that hold raw bus values: nothing is scaled and
// signals without an initial value are 0 on the bus.
func ResolveRaw(msg *candb.Message, signal, hexValue string) (candb.Values, error) {
	return resolve(msg, signal, hexValue, true)
}

func resolve(msg *candb.Message, signal, hexValue string, raw bool) (candb.Values, error) {
	target := msg.Signal(signal)
	if target == nil {
		return nil, fmt.Errorf("%w: %q not present in %s", ErrSignalNotFound, signal, msg.Name)
	}
	v, err := ParseHex(hexValue)
	if err != nil {
		return nil, err
	}

	values := make(candb.Values, len(msg.Signals))
	for _, s := range msg.Signals {
		switch init, ok := s.InitialValue(); {
		case s == target:
			values[s.Name] = v
			if !raw && s.Scaled() {
				if values[s.Name], err = s.ToRaw(float64(v)); err != nil {
					return nil, err
				}
			}
		case ok:
			values[s.Name] = init
		case !raw && s.Scaled():
			if values[s.Name], err = s.ToRaw(0); err != nil {
				return nil, err
			}
		default:
			values[s.Name] = 0
		}
	}
	return values, nil
}

// ParseHex parses a base 16 integer. Surrounding whitespace, a sign, a 0x prefix and
// single underscores between digits are accepted.
func ParseHex(s string) (int64, error) {
	t := strings.TrimSpace(s)
	neg := false
	if t != "" && (t[0] == '+' || t[0] == '-') {
		neg = t[0] == '-'
		t = t[1:]
	}
	if len(t) >= 2 && t[0] == '0' && (t[1] == 'x' || t[1] == 'X') {
		t = strings.TrimPrefix(t[2:], "_")
	}
	if t == "" || t[0] == '_' || t[len(t)-1] == '_' || strings.Contains(t, "__") {
		return 0, fmt.Errorf("%w: %q", ErrValueParse, s)
	}
	u, err := strconv.ParseUint(strings.ReplaceAll(t, "_", ""), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrValueParse, s)
	}
	if neg {
		if u > 1<<63 {
			return 0, fmt.Errorf("%w: %q out of range", ErrValueParse, s)
		}
		return -int64(u), nil
	}
	if u > math.MaxInt64 {
		return 0, fmt.Errorf("%w: %q out of range", ErrValueParse, s)
	}
	return int64(u), nil
}

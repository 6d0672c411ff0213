package candb

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"
)

var csvRequired = []string{
	"frame_id", "frame_name", "cycle_ms", "dlc",
	"signal_name", "start_bit", "bit_length",
}

// ParseCSV reads a signal map with one row per signal. Required columns are
// frame_id, frame_name, cycle_ms, dlc, signal_name, start_bit and bit_length.
// Optional columns: endianness (little|big), signed, default (empty means none declared).
func ParseCSV(filename string, data []byte) (*Database, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("%s: read header: %w", filename, err)
	}
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, k := range csvRequired {
		if _, ok := idx[k]; !ok {
			return nil, fmt.Errorf("%s: missing required column %q", filename, k)
		}
	}

	var (
		messages []*Message
		byName   = make(map[string]*Message)
	)
	for line := 2; ; line++ {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: %w", filename, err)
		}
		row := csvRow{rec: rec, idx: idx}
		if row.get("frame_name") == "" && row.get("signal_name") == "" {
			continue
		}

		frameID, err := parseUint(row.get("frame_id"), 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid frame_id %q: %w", filename, line, row.get("frame_id"), err)
		}
		cycle, err := parseUint(row.get("cycle_ms"), 32)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid cycle_ms: %w", filename, line, err)
		}
		dlc, err := parseUint(row.get("dlc"), 8)
		if err != nil || dlc == 0 || dlc > PayloadSize {
			return nil, fmt.Errorf("%s:%d: invalid dlc %q", filename, line, row.get("dlc"))
		}
		start, err := parseUint(row.get("start_bit"), 8)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid start_bit: %w", filename, line, err)
		}
		length, err := parseUint(row.get("bit_length"), 8)
		if err != nil {
			return nil, fmt.Errorf("%s:%d: invalid bit_length: %w", filename, line, err)
		}

		var bigEndian bool
		switch e := strings.ToLower(row.get("endianness")); e {
		case "", "little", "intel":
		case "big", "motorola":
			bigEndian = true
		default:
			return nil, fmt.Errorf("%s:%d: unsupported endianness %q", filename, line, e)
		}

		sig := NewSignal(row.get("signal_name"), uint8(start), uint8(length), bigEndian, parseBool(row.get("signed")))
		if def := row.get("default"); def != "" {
			v, err := strconv.ParseInt(def, 0, 64)
			if err != nil {
				return nil, fmt.Errorf("%s:%d: invalid default %q: %w", filename, line, def, err)
			}
			sig.SetInitial(v)
		}

		name := row.get("frame_name")
		m, ok := byName[name]
		if !ok {
			m = &Message{
				Name:      name,
				ID:        uint32(frameID),
				Extended:  frameID > 0x7FF,
				Length:    uint8(dlc),
				CycleTime: time.Duration(cycle) * time.Millisecond,
			}
			byName[name] = m
			messages = append(messages, m)
		}
		if m.ID != uint32(frameID) || m.Length != uint8(dlc) {
			return nil, fmt.Errorf("%s:%d: frame %s has inconsistent id or dlc", filename, line, name)
		}
		m.Signals = append(m.Signals, sig)
	}
	return New(filename, messages...)
}

type csvRow struct {
	rec []string
	idx map[string]int
}

func (r csvRow) get(col string) string {
	i, ok := r.idx[col]
	if !ok || i >= len(r.rec) {
		return ""
	}
	return strings.TrimSpace(r.rec[i])
}

// parseUint accepts decimal or 0x prefixed hex.
func parseUint(s string, bits int) (uint64, error) {
	base := 10
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		base = 16
		s = s[2:]
	}
	return strconv.ParseUint(s, base, bits)
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "1", "yes", "signed":
		return true
	}
	return false
}

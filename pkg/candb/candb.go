// Package candb holds the message definitions a test plan refers to by name,
// loaded from a DBC file or a CSV signal map, and encodes signal values into payloads.
package candb

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"go.einride.tech/can/pkg/descriptor"
)

var (
	ErrMessageNotFound = errors.New("message not found")
	ErrEncode          = errors.New("encode error")
)

// Values maps signal names to raw (unscaled) signal values.
type Values map[string]int64

type Signal struct {
	*descriptor.Signal
	initial    int64
	hasInitial bool
}

// NewSignal returns a signal at start/length using DBC bit numbering.
func NewSignal(name string, start, length uint8, bigEndian, signed bool) *Signal {
	return &Signal{
		Signal: &descriptor.Signal{
			Name:        name,
			Start:       start,
			Length:      length,
			IsBigEndian: bigEndian,
			IsSigned:    signed,
			Scale:       1,
		},
	}
}

// SetInitial declares the raw start value of the signal.
func (s *Signal) SetInitial(v int64) *Signal {
	s.initial = v
	s.hasInitial = true
	s.DefaultValue = int(v)
	return s
}

// InitialValue returns the declared raw start value, ok is false when none was declared.
func (s *Signal) InitialValue() (v int64, ok bool) {
	return s.initial, s.hasInitial
}

// Scaled reports whether the signal has a factor or offset other than 1 and 0.
func (s *Signal) Scaled() bool {
	return (s.Scale != 0 && s.Scale != 1) || s.Offset != 0
}

// ToRaw converts a physical value to the value on the bus, (v - offset) / factor rounded
// half to even. A zero factor counts as 1.
func (s *Signal) ToRaw(v float64) (int64, error) {
	scale := s.Scale
	if scale == 0 {
		scale = 1
	}
	raw := math.RoundToEven((v - s.Offset) / scale)
	if math.IsNaN(raw) || raw < -(1<<63) || raw >= 1<<63 {
		return 0, fmt.Errorf("%w: %s: physical value %g has no raw representation", ErrEncode, s.Name, v)
	}
	return int64(raw), nil
}

// ToPhysical is the inverse of ToRaw.
func (s *Signal) ToPhysical(raw int64) float64 {
	scale := s.Scale
	if scale == 0 {
		scale = 1
	}
	return float64(raw)*scale + s.Offset
}

type Message struct {
	Name      string
	ID        uint32
	Extended  bool
	Length    uint8
	CycleTime time.Duration
	Sender    string
	Signals   []*Signal

	byName map[string]*Signal
}

func (m *Message) index() error {
	m.byName = make(map[string]*Signal, len(m.Signals))
	for _, s := range m.Signals {
		if s.Length == 0 || s.Length > 64 {
			return fmt.Errorf("message %s signal %s: invalid length %d", m.Name, s.Name, s.Length)
		}
		if _, dup := m.byName[s.Name]; dup {
			return fmt.Errorf("message %s: duplicate signal %s", m.Name, s.Name)
		}
		m.byName[s.Name] = s
	}
	return nil
}

// Signal returns the named signal or nil.
func (m *Message) Signal(name string) *Signal {
	if m.byName == nil {
		if err := m.index(); err != nil {
			return nil
		}
	}
	return m.byName[name]
}

func (m *Message) String() string {
	return fmt.Sprintf("%s (0x%03X, %d bytes, cycle %s, %d signals)", m.Name, m.ID, m.Length, m.CycleTime, len(m.Signals))
}

// Database is an immutable set of messages keyed by unique name.
type Database struct {
	Path     string
	messages []*Message
	byName   map[string]*Message
	byID     map[uint32]*Message
}

func New(path string, messages ...*Message) (*Database, error) {
	db := &Database{
		Path:   path,
		byName: make(map[string]*Message, len(messages)),
		byID:   make(map[uint32]*Message, len(messages)),
	}
	for _, m := range messages {
		if _, dup := db.byName[m.Name]; dup {
			return nil, fmt.Errorf("duplicate message %s", m.Name)
		}
		if err := m.index(); err != nil {
			return nil, err
		}
		db.byName[m.Name] = m
		db.byID[m.ID] = m
		db.messages = append(db.messages, m)
	}
	sort.Slice(db.messages, func(i, j int) bool { return db.messages[i].Name < db.messages[j].Name })
	return db, nil
}

// Load reads a message database, the format is picked from the file extension.
func Load(path string) (*Database, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read message database: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".dbc":
		return ParseDBC(path, data)
	case ".csv":
		return ParseCSV(path, data)
	default:
		return nil, fmt.Errorf("unsupported message database %q, expected .dbc or .csv", filepath.Base(path))
	}
}

func (db *Database) Lookup(name string) (*Message, error) {
	m, ok := db.byName[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMessageNotFound, name)
	}
	return m, nil
}

func (db *Database) ByID(id uint32) (*Message, error) {
	m, ok := db.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: id 0x%X", ErrMessageNotFound, id)
	}
	return m, nil
}

// Messages returns all messages sorted by name.
func (db *Database) Messages() []*Message {
	out := make([]*Message, len(db.messages))
	copy(out, db.messages)
	return out
}

func (db *Database) Names() []string {
	out := make([]string, 0, len(db.messages))
	for _, m := range db.messages {
		out = append(out, m.Name)
	}
	return out
}

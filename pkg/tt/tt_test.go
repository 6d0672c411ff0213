package tt

import (
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/roffe/ttcan"
	"github.com/roffe/ttcan/pkg/candb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDatabase(t *testing.T) *candb.Database {
	t.Helper()
	db, err := candb.New("test",
		&candb.Message{Name: "CGW_PC2", ID: 0x541, Length: 8, CycleTime: 100 * time.Millisecond, Signals: []*candb.Signal{
			candb.NewSignal("CF_Gway_SeatBeltSw", 10, 1, false, false),
			candb.NewSignal("CF_Gway_DrvSeatBeltInd", 12, 2, false, false),
		}},
		&candb.Message{Name: "EMS12", ID: 0x329, Length: 8, CycleTime: 10 * time.Millisecond, Signals: []*candb.Signal{
			candb.NewSignal("TEMP_ENG", 8, 8, false, false).SetInitial(64),
			candb.NewSignal("OIL_LAMP", 2, 1, false, false),
			candb.NewSignal("CHECKSUM", 60, 4, false, false),
		}},
		&candb.Message{Name: "NOCYCLE", ID: 0x100, Length: 8, Signals: []*candb.Signal{
			candb.NewSignal("A", 0, 8, false, false),
		}},
		&candb.Message{Name: "EXTENDED", ID: 0x18FF0010, Extended: true, Length: 8, Signals: []*candb.Signal{
			candb.NewSignal("A", 0, 8, false, false),
		}},
		&candb.Message{Name: "OVERLAP", ID: 0x101, Length: 8, Signals: []*candb.Signal{
			candb.NewSignal("A", 0, 8, false, false),
			candb.NewSignal("B", 4, 8, false, false),
		}},
	)
	require.NoError(t, err)
	return db
}

func TestParseHex(t *testing.T) {
	tests := []struct {
		in   string
		want int64
		ok   bool
	}{
		{"0x1", 1, true},
		{"0XFF", 255, true},
		{"ff", 255, true},
		{"  0xE1 ", 0xE1, true},
		{"+0x10", 16, true},
		{"-0x10", -16, true},
		{"dead_beef", 0xDEADBEEF, true},
		{"0x_1", 1, true},
		{"7FFFFFFFFFFFFFFF", 1<<63 - 1, true},
		{"-8000000000000000", -1 << 63, true},
		{"", 0, false},
		{"0x", 0, false},
		{"0x__1", 0, false},
		{"1__2", 0, false},
		{"_1", 0, false},
		{"1_", 0, false},
		{"0xG1", 0, false},
		{"1.5", 0, false},
		{"--1", 0, false},
		{"8000000000000000", 0, false},
		{"<irrelevant>", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHex(tt.in)
			if !tt.ok {
				require.ErrorIs(t, err, ErrValueParse)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolve_KeySetAndDefaults(t *testing.T) {
	db := testDatabase(t)
	for _, m := range db.Messages() {
		for _, target := range m.Signals {
			values, err := Resolve(m, target.Name, "0x1")
			require.NoError(t, err, "%s.%s", m.Name, target.Name)

			want := make([]string, 0, len(m.Signals))
			for _, s := range m.Signals {
				want = append(want, s.Name)
			}
			got := make([]string, 0, len(values))
			for k := range values {
				got = append(got, k)
			}
			sort.Strings(want)
			sort.Strings(got)
			assert.Equal(t, want, got)

			assert.Equal(t, int64(1), values[target.Name])
			for _, s := range m.Signals {
				if s.Name == target.Name {
					continue
				}
				init, ok := s.InitialValue()
				if !ok {
					assert.Zero(t, values[s.Name], "%s.%s", m.Name, s.Name)
				} else {
					assert.Equal(t, init, values[s.Name])
				}
			}
		}
	}
}

func TestResolve_Errors(t *testing.T) {
	db := testDatabase(t)
	m, err := db.Lookup("EMS12")
	require.NoError(t, err)

	for _, name := range []string{"", "temp_eng", "<irrelevant>", "TEMP_ENG "} {
		values, err := Resolve(m, name, "0x1")
		require.ErrorIs(t, err, ErrSignalNotFound)
		assert.Nil(t, values)
	}

	// a missing signal wins over a bad value
	_, err = Resolve(m, "NOPE", "zz")
	require.ErrorIs(t, err, ErrSignalNotFound)

	values, err := Resolve(m, "TEMP_ENG", "zz")
	require.ErrorIs(t, err, ErrValueParse)
	assert.Nil(t, values)
}

const scaledDBC = `VERSION ""

NS_ :

BS_:

BU_: CLU

BO_ 1024 CLU_SPEED: 8 CLU
 SG_ SPEED : 0|8@1+ (2,0) [0|510] "km/h" CLU
 SG_ TEMP : 8|8@1+ (0.75,-48) [-48|143.25] "deg" CLU
 SG_ COOLANT : 16|8@1+ (0.5,0) [0|127.5] "deg" CLU
 SG_ HALF : 24|8@1+ (0.5,0) [0|127.5] "" CLU

BA_DEF_ SG_ "GenSigStartValue" INT 0 65535;
BA_ "GenSigStartValue" SG_ 1024 COOLANT 10;
`

func scaledMessage(t *testing.T) *candb.Message {
	t.Helper()
	db, err := candb.ParseDBC("scaled.dbc", []byte(scaledDBC))
	require.NoError(t, err)
	m, err := db.Lookup("CLU_SPEED")
	require.NoError(t, err)
	return m
}

func TestResolve_Scaling(t *testing.T) {
	m := scaledMessage(t)

	values, err := Resolve(m, "SPEED", "0x10")
	require.NoError(t, err)
	assert.Equal(t, candb.Values{"SPEED": 8, "TEMP": 64, "COOLANT": 10, "HALF": 0}, values)

	payload, err := m.Encode(values)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x08, 0x40, 0x0A, 0, 0, 0, 0, 0}, payload)

	// halves round to even
	values, err = Resolve(m, "SPEED", "0x5")
	require.NoError(t, err)
	assert.Equal(t, int64(2), values["SPEED"])
	values, err = Resolve(m, "SPEED", "0x7")
	require.NoError(t, err)
	assert.Equal(t, int64(4), values["SPEED"])

	values, err = ResolveRaw(m, "SPEED", "0x10")
	require.NoError(t, err)
	assert.Equal(t, candb.Values{"SPEED": 16, "TEMP": 0, "COOLANT": 10, "HALF": 0}, values)

	// the scaled value no longer fits an int64
	_, err = Resolve(m, "HALF", "0x7FFFFFFFFFFFFFFF")
	require.ErrorIs(t, err, candb.ErrEncode)
	values, err = ResolveRaw(m, "HALF", "0x7FFFFFFFFFFFFFFF")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<63-1), values["HALF"])
}

func TestSynthesize_Scaled(t *testing.T) {
	m := scaledMessage(t)
	values, err := Resolve(m, "SPEED", "0x10")
	require.NoError(t, err)
	f, err := NewSynthesizer(DefaultOverrides()).Synthesize(m, values, "0x10")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x400), f.Identifier)
	assert.Equal(t, byte(0x08), f.Data[0])
}

func TestOverrideTable_Payload(t *testing.T) {
	table := DefaultOverrides()
	tests := []struct {
		message string
		raw     string
		want    string
		ok      bool
	}{
		{"CGW_PC2", "0x1", "00 04 00 00 00 00 00 00", true},
		{"CGW_PC2", "0x2", "00 00 00 00 00 00 00 00", true},
		{"CGW_PC2", "0x01", "00 00 00 00 00 00 00 00", true},
		{"CGW_PC2", "0X1", "00 00 00 00 00 00 00 00", true},
		{"EMS12", "0xE1", "00 E1 00 00 00 00 00 00", true},
		{"EMS12", "0xDD", "00 DD 00 00 00 00 00 00", true},
		{"EMS12", "0xFF", "00 FF 00 00 00 00 00 00", true},
		{"EMS12", "0xe1", "", false},
		{"EMS12", "0x10", "", false},
		{"NOCYCLE", "0x1", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.message+"/"+tt.raw, func(t *testing.T) {
			got, ok := table.Payload(tt.message, tt.raw)
			assert.Equal(t, tt.ok, ok)
			if !tt.ok {
				assert.Nil(t, got)
				return
			}
			want, err := ParsePayload(tt.want)
			require.NoError(t, err)
			assert.Equal(t, want.Bytes(), got)
		})
	}
}

func TestOverrideTable_Merge(t *testing.T) {
	base := DefaultOverrides()
	merged := base.Merge(OverrideTable{
		"EMS12":   {Fallback: LiteralFallback(Payload{0xAA})},
		"NOCYCLE": {Rules: []OverrideRule{{Value: "0x5", Payload: Payload{1, 2, 3}}}},
	})
	assert.Len(t, base, 2)
	assert.Len(t, merged, 3)

	got, ok := merged.Payload("EMS12", "0xE1")
	assert.True(t, ok)
	assert.Equal(t, []byte{0xAA, 0, 0, 0, 0, 0, 0, 0}, got)

	got, ok = merged.Payload("NOCYCLE", "0x5")
	assert.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3, 0, 0, 0, 0, 0}, got)
	_, ok = merged.Payload("NOCYCLE", "0x6")
	assert.False(t, ok)
}

func TestParsePayload(t *testing.T) {
	p, err := ParsePayload("00 04 0x10,FF")
	require.NoError(t, err)
	assert.Equal(t, Payload{0x00, 0x04, 0x10, 0xFF}, p)
	assert.Equal(t, "00 04 10 FF 00 00 00 00", p.String())

	for _, bad := range []string{"", "   ", "100", "zz", "00 00 00 00 00 00 00 00 00"} {
		_, err := ParsePayload(bad)
		assert.Error(t, err, bad)
	}

	var f Fallback
	require.NoError(t, f.UnmarshalText([]byte("generic")))
	assert.Equal(t, Generic, f)
	require.NoError(t, f.UnmarshalText([]byte("00 00")))
	assert.Equal(t, LiteralFallback(Payload{}), f)
	text, err := f.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "00 00 00 00 00 00 00 00", string(text))
	assert.Error(t, f.UnmarshalText([]byte("nope")))
}

func TestSynthesize(t *testing.T) {
	db := testDatabase(t)
	s := NewSynthesizer(DefaultOverrides())

	synth := func(message, signal, raw string) (*ttcan.CANFrame, error) {
		m, err := db.Lookup(message)
		require.NoError(t, err)
		values, err := Resolve(m, signal, raw)
		require.NoError(t, err)
		return s.Synthesize(m, values, raw)
	}

	f, err := synth("CGW_PC2", "CF_Gway_DrvSeatBeltInd", "0x1")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x541), f.Identifier)
	assert.False(t, f.Extended)
	assert.Equal(t, []byte{0x0, 0x4, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0}, f.Data)

	// generic encoding would set bits 12..13, the override wins
	f, err = synth("CGW_PC2", "CF_Gway_DrvSeatBeltInd", "0x3")
	require.NoError(t, err)
	assert.Equal(t, make([]byte, 8), f.Data)

	f, err = synth("EMS12", "TEMP_ENG", "0xFF")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x0, 0xFF, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0}, f.Data)

	// falls through to generic encoding, OIL_LAMP is bit 2
	f, err = synth("EMS12", "OIL_LAMP", "0x1")
	require.NoError(t, err)
	assert.Equal(t, []byte{0x04, 0x40, 0x0, 0x0, 0x0, 0x0, 0x0, 0x0}, f.Data)

	_, err = synth("EXTENDED", "A", "0x1")
	require.ErrorIs(t, err, candb.ErrEncode)

	_, err = synth("OVERLAP", "A", "0x1")
	require.ErrorIs(t, err, candb.ErrEncode)

	// 0x2 does not fit the 1 bit OIL_LAMP
	_, err = synth("EMS12", "OIL_LAMP", "0x2")
	require.ErrorIs(t, err, candb.ErrEncode)
}

func TestVerdict(t *testing.T) {
	tests := []struct {
		v     Verdict
		text  string
		style Style
	}{
		{VerdictUnset, "", StyleNone},
		{VerdictInvalidCase, "Invalid Case", StyleNeutral},
		{VerdictPass, "Pass", StylePass},
		{VerdictFail, "Fail", StyleFail},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.text, tt.v.String())
		assert.Equal(t, tt.style, tt.v.Style())
		assert.Equal(t, tt.v, ParseVerdict(strings.ToUpper(tt.text)))
	}
}

func TestParseResponse(t *testing.T) {
	assert.Equal(t, ResponseYes, ParseResponse("y"))
	assert.Equal(t, ResponseYes, ParseResponse(" Y\n"))
	assert.Equal(t, ResponseNo, ParseResponse("N"))
	for _, s := range []string{"", "yes", "no", "x", "yn"} {
		assert.Equal(t, ResponseNone, ParseResponse(s), s)
	}
}

func TestCaseError(t *testing.T) {
	err := caseError(Case{Row: 3, Message: "EMS12", Signal: "TEMP_ENG"}, ErrValueParse)
	assert.Equal(t, "row 3 (EMS12.TEMP_ENG): invalid hex value", err.Error())
	assert.ErrorIs(t, err, ErrValueParse)
	assert.Equal(t, "row 4: invalid test case", caseError(Case{Row: 4}, ErrInvalidCase).Error())
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/roffe/ttcan/pkg/tt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sample = `
adapter: SocketCAN
port: can1
canrate: 250
timeout: 30s
log: traces/run.asc
overrides:
  ABS11:
    rules:
      - value: "0x1"
        payload: "00 00 20"
    fallback: generic
  EMS12:
    rules:
      - value: "0xE1"
        payload: "00 E1 00 00 00 00 00 01"
`

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sample))
	require.NoError(t, err)
	assert.Equal(t, "SocketCAN", cfg.Adapter)
	assert.Equal(t, "can1", cfg.Port)
	assert.Equal(t, 250.0, cfg.CANRate)
	assert.Equal(t, DefaultBaudrate, cfg.Baudrate)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, tt.DefaultPeriod, cfg.DefaultPeriod)
	assert.Equal(t, "traces/run.asc", cfg.Log)
	assert.False(t, cfg.RawValues)

	table := cfg.OverrideTable()
	assert.Len(t, table, 3)

	got, ok := table.Payload("ABS11", "0x1")
	require.True(t, ok)
	assert.Equal(t, []byte{0, 0, 0x20, 0, 0, 0, 0, 0}, got)
	_, ok = table.Payload("ABS11", "0x2")
	assert.False(t, ok)

	// EMS12 from the file replaces the built-in entry
	got, ok = table.Payload("EMS12", "0xE1")
	require.True(t, ok)
	assert.Equal(t, byte(0x01), got[7])
	_, ok = table.Payload("EMS12", "0xDD")
	assert.False(t, ok)

	got, ok = table.Payload("CGW_PC2", "0x1")
	require.True(t, ok)
	assert.Equal(t, byte(0x04), got[1])

	ac := cfg.AdapterConfig()
	assert.Equal(t, "can1", ac.Port)
	assert.Equal(t, 250.0, ac.CANRate)
}

func TestParse_RawValues(t *testing.T) {
	cfg, err := Parse([]byte("raw_values: true\n"))
	require.NoError(t, err)
	assert.True(t, cfg.RawValues)
}

func TestParse_ReplaceOverrides(t *testing.T) {
	cfg, err := Parse([]byte(`
replace_overrides: true
overrides:
  CGW_PC2:
    fallback: "00 00 00 00 00 00 00 00"
`))
	require.NoError(t, err)
	table := cfg.OverrideTable()
	assert.Len(t, table, 1)
	got, ok := table.Payload("CGW_PC2", "0x1")
	require.True(t, ok)
	assert.Equal(t, make([]byte, 8), got)
}

func TestParse_Invalid(t *testing.T) {
	tests := map[string]string{
		"syntax":         "adapter: [",
		"empty adapter":  `adapter: ""`,
		"zero canrate":   "canrate: 0",
		"negative":       "timeout: -1s",
		"zero send":      "send_timeout: 0s",
		"bad duration":   "timeout: soon",
		"bad payload":    "overrides:\n  X:\n    rules:\n      - value: \"1\"\n        payload: \"zz\"\n",
		"empty override": "overrides:\n  X:\n    fallback: generic\n",
	}
	for name, src := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(src))
			require.Error(t, err)
		})
	}
}

func TestDefault(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, tt.DefaultOverrides(), cfg.OverrideTable())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ttcan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sample), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, path, cfg.Path)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestFind(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "xdg"))
	t.Setenv("HOME", dir)

	cfg, err := Find()
	require.NoError(t, err)
	assert.Empty(t, cfg.Path)

	require.NoError(t, os.WriteFile("ttcan.yaml", []byte("adapter: Virtual\n"), 0o600))
	cfg, err = Find()
	require.NoError(t, err)
	assert.Equal(t, "Virtual", cfg.Adapter)
	assert.Equal(t, "ttcan.yaml", cfg.Path)
}

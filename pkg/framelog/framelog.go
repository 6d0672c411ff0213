// Package framelog writes raw CAN traffic to Vector ASCII (.asc), candump (.log) or
// CSV files. A Writer's Log method fits ttcan.WithTap.
package framelog

import (
	"bufio"
	"encoding/base64"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/roffe/ttcan"
)

type Format int

const (
	FormatASC Format = iota
	FormatCandump
	FormatCSV
)

// DefaultExt is appended to log paths without an extension.
const DefaultExt = ".asc"

func (f Format) String() string {
	switch f {
	case FormatASC:
		return "asc"
	case FormatCandump:
		return "candump"
	case FormatCSV:
		return "csv"
	default:
		return "Format(" + strconv.Itoa(int(f)) + ")"
	}
}

// FormatFor picks the format from a file extension.
func FormatFor(path string) (Format, error) {
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".asc":
		return FormatASC, nil
	case ".log":
		return FormatCandump, nil
	case ".csv":
		return FormatCSV, nil
	default:
		return 0, fmt.Errorf("unsupported log format %q, expected .asc, .log or .csv", ext)
	}
}

type Option func(*Writer)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// WithChannel sets the channel written on every record. Defaults to 1 for asc and
// can0 for candump.
func WithChannel(ch string) Option {
	return func(w *Writer) {
		w.channel = ch
	}
}

type Writer struct {
	mu      sync.Mutex
	format  Format
	bw      *bufio.Writer
	csv     *csv.Writer
	closer  io.Closer
	now     func() time.Time
	start   time.Time
	channel string
	count   int
	err     error
	closed  bool
}

// Create opens path for writing, the format follows the extension.
func Create(path string, opts ...Option) (*Writer, error) {
	if filepath.Ext(path) == "" {
		path += DefaultExt
	}
	format, err := FormatFor(path)
	if err != nil {
		return nil, err
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create frame log: %w", err)
	}
	w, err := NewWriter(f, format, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// NewWriter writes the format header to out right away.
func NewWriter(out io.Writer, format Format, opts ...Option) (*Writer, error) {
	w := &Writer{
		format: format,
		bw:     bufio.NewWriter(out),
		now:    time.Now,
	}
	for _, o := range opts {
		o(w)
	}
	if w.channel == "" {
		switch format {
		case FormatCandump:
			w.channel = "can0"
		default:
			w.channel = "1"
		}
	}
	w.start = w.now()

	switch format {
	case FormatASC:
		ts := ascTime(w.start)
		fmt.Fprintf(w.bw, "date %s\n", ts)
		fmt.Fprint(w.bw, "base hex  timestamps absolute\n")
		fmt.Fprint(w.bw, "internal events logged\n")
		fmt.Fprint(w.bw, "// version 9.0.0\n")
		fmt.Fprintf(w.bw, "Begin Triggerblock %s\n", ts)
		fmt.Fprintf(w.bw, "%9.6f Start of measurement\n", 0.0)
	case FormatCSV:
		w.csv = csv.NewWriter(w.bw)
		w.csv.Write([]string{"timestamp", "arbitration_id", "extended", "remote", "error", "dlc", "data"})
	case FormatCandump:
	default:
		return nil, fmt.Errorf("unknown log format %s", format)
	}
	return w, w.flush()
}

// ascTime renders a timestamp the way CANalyzer does: "Mon Oct 19 09:04:05.123 am 2026".
func ascTime(t time.Time) string {
	return fmt.Sprintf("%s.%03d %s %d",
		t.Format("Mon Jan 02 03:04:05"),
		t.Nanosecond()/int(time.Millisecond),
		strings.ToLower(t.Format("PM")),
		t.Year(),
	)
}

func direction(f *ttcan.CANFrame) string {
	if f.FrameType == ttcan.Incoming {
		return "Rx"
	}
	return "Tx"
}

// Log appends one record. Write errors are kept and returned by Err and Close.
func (w *Writer) Log(f *ttcan.CANFrame) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed || w.err != nil {
		return
	}
	now := w.now()
	switch w.format {
	case FormatASC:
		id := strings.ToUpper(strconv.FormatUint(uint64(f.Identifier), 16))
		if f.Extended {
			id += "x"
		}
		data := strings.ToUpper(fmt.Sprintf("% x", f.Data))
		fmt.Fprintf(w.bw, "%9.6f %-2s %-15s %-4s d %x %s\n",
			now.Sub(w.start).Seconds(), w.channel, id, direction(f), len(f.Data), data)
	case FormatCandump:
		width := 3
		if f.Extended {
			width = 8
		}
		fmt.Fprintf(w.bw, "(%d.%06d) %s %0*X#%X\n",
			now.Unix(), now.Nanosecond()/1000, w.channel, width, f.Identifier, f.Data)
	case FormatCSV:
		w.csv.Write([]string{
			fmt.Sprintf("%d.%06d", now.Unix(), now.Nanosecond()/1000),
			fmt.Sprintf("0x%X", f.Identifier),
			boolInt(f.Extended),
			"0",
			"0",
			strconv.Itoa(len(f.Data)),
			base64.StdEncoding.EncodeToString(f.Data),
		})
	}
	w.count++
	w.err = w.flush()
}

func boolInt(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func (w *Writer) flush() error {
	if w.csv != nil {
		w.csv.Flush()
		if err := w.csv.Error(); err != nil {
			return err
		}
	}
	return w.bw.Flush()
}

// Count is the number of records written.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *Writer) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Close writes the trailer and closes the underlying file when the Writer owns it.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return w.err
	}
	w.closed = true
	if w.format == FormatASC && w.err == nil {
		fmt.Fprint(w.bw, "End TriggerBlock\n")
	}
	if err := w.flush(); err != nil && w.err == nil {
		w.err = err
	}
	if w.closer != nil {
		if err := w.closer.Close(); err != nil && w.err == nil {
			w.err = err
		}
	}
	return w.err
}

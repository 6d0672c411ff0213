// Package plan reads telltale test plans from xlsx workbooks and writes verdicts back.
//
// The active sheet holds one test case per row from row 2 on. Columns are indicator,
// state, message, signal, hex value and verdict.
package plan

import (
	"fmt"

	"github.com/roffe/ttcan/pkg/tt"
	"github.com/xuri/excelize/v2"
)

const (
	ColIndicator = iota + 1
	ColState
	ColMessage
	ColSignal
	ColValue
	ColVerdict
)

// FirstRow is the sheet row of the first test case.
const FirstRow = 2

var styles = map[tt.Style]*excelize.Style{
	tt.StyleNeutral: {
		Fill: excelize.Fill{Type: "pattern", Color: []string{"D3D3D3"}, Pattern: 1},
	},
	tt.StylePass: {
		Fill: excelize.Fill{Type: "pattern", Color: []string{"C6EFCE"}, Pattern: 1},
		Font: &excelize.Font{Color: "006100"},
	},
	tt.StyleFail: {
		Fill: excelize.Fill{Type: "pattern", Color: []string{"FFC7CE"}, Pattern: 1},
		Font: &excelize.Font{Color: "9C0006"},
	},
}

// Sheet is a test plan backed by the active sheet of a workbook.
type Sheet struct {
	Path string
	Name string

	file     *excelize.File
	rows     [][]string
	styleIDs map[tt.Style]int
}

var _ tt.Plan = (*Sheet)(nil)

func Load(path string) (*Sheet, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("open test plan: %w", err)
	}
	s, err := New(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	s.Path = path
	return s, nil
}

// New wraps an open workbook.
func New(f *excelize.File) (*Sheet, error) {
	name := f.GetSheetName(f.GetActiveSheetIndex())
	if name == "" {
		return nil, fmt.Errorf("test plan %s has no active sheet", f.Path)
	}
	rows, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("read sheet %s: %w", name, err)
	}
	s := &Sheet{
		Path:     f.Path,
		Name:     name,
		file:     f,
		rows:     rows,
		styleIDs: make(map[tt.Style]int, len(styles)),
	}
	for st, def := range styles {
		id, err := f.NewStyle(def)
		if err != nil {
			return nil, fmt.Errorf("create %s style: %w", st, err)
		}
		s.styleIDs[st] = id
	}
	return s, nil
}

func (s *Sheet) Len() int {
	if len(s.rows) < FirstRow {
		return 0
	}
	return len(s.rows) - (FirstRow - 1)
}

func (s *Sheet) cell(i, col int) string {
	r := i + FirstRow - 1
	if r >= len(s.rows) || col > len(s.rows[r]) {
		return ""
	}
	return s.rows[r][col-1]
}

func (s *Sheet) Case(i int) tt.Case {
	return tt.Case{
		Row:       i + 1,
		Indicator: s.cell(i, ColIndicator),
		State:     s.cell(i, ColState),
		Message:   s.cell(i, ColMessage),
		Signal:    s.cell(i, ColSignal),
		Value:     s.cell(i, ColValue),
		Verdict:   tt.ParseVerdict(s.cell(i, ColVerdict)),
	}
}

// SetVerdict writes the verdict text and its style to the verdict column.
func (s *Sheet) SetVerdict(i int, v tt.Verdict) error {
	if i < 0 || i >= s.Len() {
		return fmt.Errorf("case %d out of range [0, %d)", i, s.Len())
	}
	axis, err := excelize.CoordinatesToCellName(ColVerdict, i+FirstRow)
	if err != nil {
		return err
	}
	if err := s.file.SetCellValue(s.Name, axis, v.String()); err != nil {
		return fmt.Errorf("set %s: %w", axis, err)
	}
	if err := s.file.SetCellStyle(s.Name, axis, axis, s.styleIDs[v.Style()]); err != nil {
		return fmt.Errorf("style %s: %w", axis, err)
	}

	r := i + FirstRow - 1
	for len(s.rows[r]) < ColVerdict {
		s.rows[r] = append(s.rows[r], "")
	}
	s.rows[r][ColVerdict-1] = v.String()
	return nil
}

// StyleID returns the workbook style used for st, 0 for tt.StyleNone.
func (s *Sheet) StyleID(st tt.Style) int {
	return s.styleIDs[st]
}

// Save writes the workbook back to the file it was loaded from.
func (s *Sheet) Save() error {
	if s.Path == "" {
		return fmt.Errorf("test plan has no path, use SaveAs")
	}
	return s.SaveAs(s.Path)
}

func (s *Sheet) SaveAs(path string) error {
	if err := s.file.SaveAs(path); err != nil {
		return fmt.Errorf("save test plan: %w", err)
	}
	return nil
}

func (s *Sheet) Close() error {
	return s.file.Close()
}

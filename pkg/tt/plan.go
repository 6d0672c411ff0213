package tt

import (
	"fmt"
	"strings"
)

// Verdict is the result written back into the plan for a row.
type Verdict int

const (
	VerdictUnset Verdict = iota
	VerdictInvalidCase
	VerdictPass
	VerdictFail
)

func (v Verdict) String() string {
	switch v {
	case VerdictInvalidCase:
		return "Invalid Case"
	case VerdictPass:
		return "Pass"
	case VerdictFail:
		return "Fail"
	default:
		return ""
	}
}

// Style is the visual encoding of a verdict cell.
func (v Verdict) Style() Style {
	switch v {
	case VerdictInvalidCase:
		return StyleNeutral
	case VerdictPass:
		return StylePass
	case VerdictFail:
		return StyleFail
	default:
		return StyleNone
	}
}

// ParseVerdict maps cell text back to a verdict, unknown text is VerdictUnset.
func ParseVerdict(s string) Verdict {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "invalid case":
		return VerdictInvalidCase
	case "pass":
		return VerdictPass
	case "fail":
		return VerdictFail
	default:
		return VerdictUnset
	}
}

type Style int

const (
	StyleNone Style = iota
	StyleNeutral
	StylePass
	StyleFail
)

func (s Style) String() string {
	switch s {
	case StyleNeutral:
		return "neutral"
	case StylePass:
		return "pass"
	case StyleFail:
		return "fail"
	default:
		return "none"
	}
}

// Case is one row of a test plan.
type Case struct {
	Row       int // 1-based, header excluded
	Indicator string
	State     string
	Message   string
	Signal    string
	Value     string
	Verdict   Verdict
}

// Eligible reports whether the row names a message. Rows without one are skipped.
func (c Case) Eligible() bool {
	return strings.TrimSpace(c.Message) != ""
}

func (c Case) String() string {
	return fmt.Sprintf("Check %s TT in %s state with (%s, %s, %s)", c.Indicator, c.State, c.Message, c.Signal, c.Value)
}

// Plan is an ordered list of test cases whose verdicts can be written back.
// Indexes are 0-based.
type Plan interface {
	Len() int
	Case(i int) Case
	SetVerdict(i int, v Verdict) error
}

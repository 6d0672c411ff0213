// Package bar shows the progress of a scripted run, where nobody reads the per case
// output. Progress methods fit tt.Runner's OnCase and OnOutcome hooks.
package bar

import (
	"fmt"
	"io"

	"github.com/k0kubun/go-ansi"
	"github.com/roffe/ttcan/pkg/tt"
	"github.com/schollz/progressbar/v3"
)

type Progress struct {
	pb    *progressbar.ProgressBar
	total int
	index int

	pass, fail, other int
}

// New returns a bar over total rows. A nil w writes to an ANSI aware stdout.
func New(total int, w io.Writer) *Progress {
	if w == nil {
		w = ansi.NewAnsiStdout()
	}
	p := &Progress{total: total}
	p.pb = progressbar.NewOptions(
		total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionShowCount(),
		progressbar.OptionSetPredictTime(false),
		progressbar.OptionSetWidth(20),
		progressbar.OptionSetDescription(p.description()),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "[green]=[reset]",
			SaucerHead:    "[green]>[reset]",
			SaucerPadding: " ",
			BarStart:      "[",
			BarEnd:        "]",
		}),
	)
	return p
}

func (p *Progress) description() string {
	return fmt.Sprintf("[cyan][%d/%d][reset] Test Case [green]%d pass[reset] [red]%d fail[reset] [yellow]%d other[reset]",
		p.index+1, p.total, p.pass, p.fail, p.other)
}

// OnCase moves the label to row i (0-based).
func (p *Progress) OnCase(i, total int, c tt.Case) {
	p.index, p.total = i, total
	p.pb.Describe(p.description())
}

// OnOutcome counts the outcome and advances the bar.
func (p *Progress) OnOutcome(o tt.Outcome) {
	switch o.State {
	case tt.StatePass:
		p.pass++
	case tt.StateFail:
		p.fail++
	default:
		p.other++
	}
	p.pb.Describe(p.description())
	p.pb.Add(1)
}

// Counts returns the pass, fail and other outcomes seen so far.
func (p *Progress) Counts() (pass, fail, other int) {
	return p.pass, p.fail, p.other
}

func (p *Progress) Finish() error {
	return p.pb.Finish()
}

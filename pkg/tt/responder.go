package tt

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/manifoldco/promptui"
)

// PromptLabel is shown to the operator for every armed case.
const PromptLabel = "Enter TT status as per case (Y/N)"

type Response int

const (
	ResponseNone Response = iota
	ResponseYes
	ResponseNo
)

func (r Response) String() string {
	switch r {
	case ResponseYes:
		return "yes"
	case ResponseNo:
		return "no"
	default:
		return "none"
	}
}

// ParseResponse accepts y or n in any case, everything else is ResponseNone.
func ParseResponse(s string) Response {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "y":
		return ResponseYes
	case "n":
		return ResponseNo
	default:
		return ResponseNone
	}
}

// Responder asks the operator about a case and returns the raw answer.
type Responder interface {
	Confirm(ctx context.Context, c Case) (string, error)
}

// ResponderFunc adapts a function to a Responder.
type ResponderFunc func(ctx context.Context, c Case) (string, error)

func (f ResponderFunc) Confirm(ctx context.Context, c Case) (string, error) {
	return f(ctx, c)
}

type readResult struct {
	answer string
	err    error
	at     time.Time
}

// pendingRead runs a blocking read in the background so the caller can give up on
// ctx. A read abandoned that way is handed to the next call instead of starting a
// second reader on the same input. An answer that arrived after its caller gave up
// belongs to the earlier case and is dropped.
type pendingRead struct {
	mu sync.Mutex
	ch chan readResult
}

// await returns the next answer read after the call started. reuse is called when a
// read started for an earlier case is still waiting for input.
func (p *pendingRead) await(ctx context.Context, read func() (string, error), reuse func()) (string, error) {
	start := time.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ch != nil {
		select {
		case res := <-p.ch:
			p.ch = nil
			if !res.at.Before(start) {
				return res.answer, res.err
			}
		default:
			if reuse != nil {
				reuse()
			}
		}
	}
	if p.ch == nil {
		ch := make(chan readResult, 1)
		go func() {
			answer, err := read()
			ch <- readResult{answer: answer, err: err, at: time.Now()}
		}()
		p.ch = ch
	}
	select {
	case res := <-p.ch:
		p.ch = nil
		return res.answer, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Label is the prompt for c, prefixed with the plan row when known.
func Label(c Case) string {
	if c.Row <= 0 {
		return PromptLabel
	}
	return fmt.Sprintf("Row %d %s", c.Row, PromptLabel)
}

// PromptResponder asks on the terminal with promptui.
type PromptResponder struct {
	Stdin  io.ReadCloser
	Stdout io.WriteCloser

	pending pendingRead
}

func (r *PromptResponder) Confirm(ctx context.Context, c Case) (string, error) {
	label := Label(c)
	return r.pending.await(ctx, func() (string, error) {
		prompt := promptui.Prompt{
			Label:  label,
			Stdin:  r.Stdin,
			Stdout: r.Stdout,
		}
		answer, err := prompt.Run()
		if err != nil {
			return "", fmt.Errorf("prompt failed: %w", err)
		}
		return answer, nil
	}, func() {
		// the prompt on screen still names the earlier row
		var out io.Writer = os.Stdout
		if r.Stdout != nil {
			out = r.Stdout
		}
		fmt.Fprintf(out, "\n%s\n", label)
	})
}

// LineResponder reads one answer per line, for scripted runs.
type LineResponder struct {
	// Echo, when set, receives the prompt and the answer read.
	Echo io.Writer

	scanner *bufio.Scanner
	pending pendingRead
}

func NewLineResponder(r io.Reader) *LineResponder {
	return &LineResponder{scanner: bufio.NewScanner(r)}
}

func (r *LineResponder) Confirm(ctx context.Context, c Case) (string, error) {
	label := Label(c)
	return r.pending.await(ctx, func() (string, error) {
		if !r.scanner.Scan() {
			if err := r.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		answer := strings.TrimSpace(r.scanner.Text())
		if r.Echo != nil {
			fmt.Fprintf(r.Echo, "%s: %s\n", label, answer)
		}
		return answer, nil
	}, nil)
}

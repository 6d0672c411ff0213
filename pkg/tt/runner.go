// Package tt runs telltale test cases: each row of a plan is resolved against a
// message database, turned into a frame, transmitted periodically while the operator
// judges the telltale, and the verdict is written back to the plan.
package tt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/roffe/ttcan"
	"github.com/roffe/ttcan/pkg/candb"
)

// DefaultPeriod is used for messages that declare no cycle time.
const DefaultPeriod = 100 * time.Millisecond

// State is the position of a test case in its lifecycle.
type State int

const (
	StatePending State = iota
	StateSkipped
	StateMessageNotFound
	StateSignalNotFound
	StateValueParseError
	StateEncodeError
	StateTransmitError
	StateArmed
	StateAwaitingOperator
	StatePass
	StateFail
	StateNoResponse
)

var stateNames = map[State]string{
	StatePending:          "Pending",
	StateSkipped:          "Skipped",
	StateMessageNotFound:  "MessageNotFound",
	StateSignalNotFound:   "SignalNotFound",
	StateValueParseError:  "ValueParseError",
	StateEncodeError:      "EncodeError",
	StateTransmitError:    "TransmitError",
	StateArmed:            "Armed",
	StateAwaitingOperator: "AwaitingOperator",
	StatePass:             "Pass",
	StateFail:             "Fail",
	StateNoResponse:       "NoResponse",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	switch s {
	case StatePending, StateArmed, StateAwaitingOperator:
		return false
	}
	return true
}

// Outcome is reported once per row.
type Outcome struct {
	Case    Case
	State   State
	Verdict Verdict
	Frame   *ttcan.CANFrame // nil unless a frame was synthesized
	Err     error
}

// Summary counts terminal states over a run.
type Summary struct {
	Total  int
	States map[State]int
}

func (s Summary) Count(st State) int {
	return s.States[st]
}

// Processed is the number of rows that reached a terminal state.
func (s Summary) Processed() int {
	n := 0
	for _, c := range s.States {
		n += c
	}
	return n
}

func (s Summary) String() string {
	states := make([]State, 0, len(s.States))
	for st := range s.States {
		states = append(states, st)
	}
	sort.Slice(states, func(i, j int) bool { return states[i] < states[j] })
	parts := make([]string, 0, len(states))
	for _, st := range states {
		parts = append(parts, fmt.Sprintf("%s=%d", st, s.States[st]))
	}
	return fmt.Sprintf("%d/%d rows: %s", s.Processed(), s.Total, strings.Join(parts, " "))
}

// Database is the lookup side of a message database.
type Database interface {
	Lookup(name string) (*candb.Message, error)
}

// Runner executes a plan row by row. DB, Transmitter and Responder are required.
type Runner struct {
	DB          Database
	Synth       *Synthesizer // defaults to the built-in overrides
	Transmitter Transmitter
	Responder   Responder

	// ResponseTimeout bounds the operator wait, 0 waits forever.
	ResponseTimeout time.Duration
	// DefaultPeriod replaces a zero cycle time, 0 means DefaultPeriod.
	DefaultPeriod time.Duration
	// RawValues takes plan values as raw bus values instead of physical ones.
	RawValues bool

	// OnCase is called before a row is processed, i is 0-based.
	OnCase    func(i, total int, c Case)
	OnOutcome func(Outcome)
	Logger    *log.Logger
}

func (r *Runner) logf(format string, v ...interface{}) {
	if r.Logger != nil {
		r.Logger.Printf(format, v...)
		return
	}
	log.Printf(format, v...)
}

// Run processes every row of p. Row failures are reported and never stop the run.
// An error is returned when the plan cannot be written or ctx is done, together with
// the summary so far.
func (r *Runner) Run(ctx context.Context, p Plan) (Summary, error) {
	if r.DB == nil || r.Transmitter == nil || r.Responder == nil {
		return Summary{}, errors.New("runner needs a database, a transmitter and a responder")
	}
	if r.Synth == nil {
		r.Synth = NewSynthesizer(DefaultOverrides())
	}

	n := p.Len()
	sum := Summary{Total: n, States: make(map[State]int)}
	for i := 0; i < n; i++ {
		c := p.Case(i)
		if !c.Eligible() {
			continue
		}
		if err := p.SetVerdict(i, VerdictInvalidCase); err != nil {
			return sum, fmt.Errorf("row %d: write verdict: %w", c.Row, err)
		}
	}

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		c := p.Case(i)
		if r.OnCase != nil {
			r.OnCase(i, n, c)
		}
		out, err := r.runCase(ctx, p, i, c)
		if err != nil {
			return sum, fmt.Errorf("row %d: write verdict: %w", c.Row, err)
		}
		sum.States[out.State]++
		r.report(out)
	}
	return sum, ctx.Err()
}

func (r *Runner) report(out Outcome) {
	if out.Err != nil {
		r.logf("%v", out.Err)
	}
	if r.OnOutcome != nil {
		r.OnOutcome(out)
	}
}

// runCase drives one row to a terminal state. The returned error is a plan write
// failure, row failures are carried in Outcome.Err.
func (r *Runner) runCase(ctx context.Context, p Plan, i int, c Case) (Outcome, error) {
	out := Outcome{Case: c, State: StatePending, Verdict: VerdictInvalidCase}
	fail := func(st State, err error) (Outcome, error) {
		out.State = st
		out.Err = caseError(c, err)
		return out, nil
	}

	if !c.Eligible() {
		if err := p.SetVerdict(i, VerdictInvalidCase); err != nil {
			return out, err
		}
		return fail(StateSkipped, ErrInvalidCase)
	}

	msg, err := r.DB.Lookup(c.Message)
	if err != nil {
		return fail(StateMessageNotFound, err)
	}
	resolve := Resolve
	if r.RawValues {
		resolve = ResolveRaw
	}
	values, err := resolve(msg, c.Signal, c.Value)
	switch {
	case errors.Is(err, ErrSignalNotFound):
		return fail(StateSignalNotFound, err)
	case errors.Is(err, candb.ErrEncode):
		return fail(StateEncodeError, err)
	case err != nil:
		return fail(StateValueParseError, err)
	}
	frame, err := r.Synth.Synthesize(msg, values, c.Value)
	if err != nil {
		return fail(StateEncodeError, err)
	}
	out.Frame = frame

	period := msg.CycleTime
	if period <= 0 {
		period = r.DefaultPeriod
		if period <= 0 {
			period = DefaultPeriod
		}
		r.logf("row %d: %s declares no cycle time, sending every %s", c.Row, msg.Name, period)
	}

	handle, err := r.Transmitter.Start(ctx, frame, period)
	if err != nil {
		return fail(StateTransmitError, fmt.Errorf("%w: %w", ErrTransmit, err))
	}
	out.State = StateAwaitingOperator
	answer, err := r.confirm(ctx, c)
	// adapters report failed writes asynchronously, the task holds the first one
	if serr := handle.Stop(); serr != nil {
		return fail(StateTransmitError, fmt.Errorf("%w: %w", ErrTransmit, serr))
	}
	if err != nil {
		return fail(StateNoResponse, fmt.Errorf("%w: %w", ErrNoResponse, err))
	}
	switch ParseResponse(answer) {
	case ResponseYes:
		if err := p.SetVerdict(i, VerdictPass); err != nil {
			return out, err
		}
		out.State, out.Verdict = StatePass, VerdictPass
	case ResponseNo:
		if err := p.SetVerdict(i, VerdictFail); err != nil {
			return out, err
		}
		out.State, out.Verdict = StateFail, VerdictFail
	default:
		return fail(StateNoResponse, fmt.Errorf("%w: answer %q", ErrNoResponse, answer))
	}
	return out, nil
}

func (r *Runner) confirm(ctx context.Context, c Case) (answer string, err error) {
	if r.ResponseTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.ResponseTimeout)
		defer cancel()
	}
	defer func() {
		if v := recover(); v != nil {
			err = fmt.Errorf("responder panic: %v", v)
		}
	}()
	return r.Responder.Confirm(ctx, c)
}

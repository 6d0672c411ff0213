package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/manifoldco/promptui"
	"github.com/roffe/ttcan"
	"github.com/roffe/ttcan/pkg/bar"
	"github.com/roffe/ttcan/pkg/candb"
	"github.com/roffe/ttcan/pkg/config"
	"github.com/roffe/ttcan/pkg/framelog"
	"github.com/roffe/ttcan/pkg/plan"
	"github.com/roffe/ttcan/pkg/tt"
	"github.com/spf13/cobra"
)

const (
	flagPlan    = "plan"
	flagLog     = "log"
	flagAnswers = "answers"
	flagTimeout = "timeout"
	flagOut     = "out"
	flagRaw     = "raw"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "run a test plan",
	Long: `Runs every row of the test plan: the frame of the row is sent periodically until
the operator answers y (pass) or n (fail). Verdicts are written back into the plan,
which is saved even when the run is interrupted.

Pass --log - to pick the raw log file with a save dialog.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		if f.Changed(flagTimeout) {
			cfg.Timeout, _ = f.GetDuration(flagTimeout)
		}
		if f.Changed(flagRaw) {
			cfg.RawValues, _ = f.GetBool(flagRaw)
		}
		if f.Changed(flagLog) {
			cfg.Log, _ = f.GetString(flagLog)
		}

		planPath, _ := f.GetString(flagPlan)
		if planPath, err = pickFile(planPath, "Select FTP Excel File", "Excel Files", "xlsx"); err != nil {
			return err
		}
		dbPath, _ := f.GetString(flagDB)
		if dbPath, err = pickFile(dbPath, "Select DBC File", "DBC Files", "dbc", "csv"); err != nil {
			return err
		}
		if cfg.Log == "-" {
			if cfg.Log, err = pickSaveFile("Save CAN log", "ASC Files", "asc"); err != nil {
				return err
			}
		}
		if cfg.Port, err = pickPort(cfg.Adapter, cfg.Port); err != nil {
			return err
		}
		answers, _ := f.GetString(flagAnswers)
		out, _ := f.GetString(flagOut)

		return runPlan(cmd.Context(), cfg, planPath, dbPath, answers, out)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringP(flagPlan, "f", "", "test plan workbook, .xlsx (file picker when omitted)")
	f.StringP(flagLog, "l", "", "write raw CAN traffic to this .asc, .log or .csv file")
	f.String(flagAnswers, "", "read operator answers from this file instead of the terminal, one per line")
	f.DurationP(flagTimeout, "t", 0, "max time to wait for the operator per case, 0 waits forever")
	f.StringP(flagOut, "o", "", "save results to this workbook instead of overwriting the plan")
	f.Bool(flagRaw, false, "plan values are raw bus values, not scaled with factor and offset")
	rootCmd.AddCommand(runCmd)
}

func runPlan(ctx context.Context, cfg *config.Config, planPath, dbPath, answers, out string) (err error) {
	db, err := candb.Load(dbPath)
	if err != nil {
		return err
	}
	sheet, err := plan.Load(planPath)
	if err != nil {
		return err
	}
	defer sheet.Close()

	opts := []ttcan.Option{
		ttcan.WithSendTimeout(cfg.SendTimeout),
		ttcan.WithEventHandler(func(e ttcan.Event) {
			if e.Type != ttcan.EventTypeDebug || cfg.Debug {
				log.Println(e.String())
			}
		}),
	}
	if cfg.Log != "" {
		flog, ferr := framelog.Create(cfg.Log)
		if ferr != nil {
			return ferr
		}
		defer func() {
			if cerr := flog.Close(); cerr != nil && err == nil {
				err = fmt.Errorf("frame log: %w", cerr)
			}
			fmt.Printf("%d frames logged to %s\n", flog.Count(), cfg.Log)
		}()
		opts = append(opts, ttcan.WithTap(flog.Log))
	}

	adapter, err := ttcan.NewAdapter(cfg.Adapter, cfg.AdapterConfig())
	if err != nil {
		return err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	client, err := ttcan.New(runCtx, adapter, opts...)
	if err != nil {
		return err
	}
	defer client.Close()

	responder, scripted, err := newResponder(answers, cancel)
	if err != nil {
		return err
	}
	if c, ok := responder.(io.Closer); ok {
		defer c.Close()
	}

	runner := &tt.Runner{
		DB:              db,
		Synth:           tt.NewSynthesizer(cfg.OverrideTable()),
		Transmitter:     tt.BusTransmitter(client),
		Responder:       responder,
		ResponseTimeout: cfg.Timeout,
		DefaultPeriod:   cfg.DefaultPeriod,
		RawValues:       cfg.RawValues,
		OnOutcome:       printOutcome,
	}

	var pb *bar.Progress
	if scripted && isTerminal() {
		pb = bar.New(sheet.Len(), nil)
		runner.Logger = log.New(io.Discard, "", 0)
		runner.OnCase = pb.OnCase
		runner.OnOutcome = pb.OnOutcome
	} else {
		runner.OnCase = func(i, total int, c tt.Case) {
			fmt.Println()
			fmt.Println(cyan("Test Case %d/%d:", i+1, total))
			if c.Eligible() {
				fmt.Println(c.String())
			}
		}
	}

	start := time.Now()
	sum, runErr := runner.Run(runCtx, sheet)
	if pb != nil {
		pb.Finish()
		fmt.Println()
	}

	// results are saved whatever happened to the run
	saveErr := save(sheet, out)
	fmt.Println()
	fmt.Printf("%s in %s\n", sum.String(), time.Since(start).Round(time.Second))

	switch {
	case saveErr != nil:
		return errors.Join(runErr, saveErr)
	case errors.Is(runErr, context.Canceled):
		fmt.Println(yellow("CAN test interrupted, results saved"))
		return nil
	case runErr != nil:
		return runErr
	}
	fmt.Println(green("CAN test completed and results saved!"))
	return nil
}

func save(sheet *plan.Sheet, out string) error {
	if out != "" {
		return sheet.SaveAs(out)
	}
	return sheet.Save()
}

// newResponder reads answers from a file when one is given, otherwise prompts on the
// terminal. Interrupting the prompt cancels the run.
func newResponder(answers string, cancel context.CancelFunc) (tt.Responder, bool, error) {
	if answers != "" {
		fh, err := os.Open(answers)
		if err != nil {
			return nil, false, fmt.Errorf("open answers: %w", err)
		}
		lr := tt.NewLineResponder(fh)
		return &fileResponder{LineResponder: lr, f: fh}, true, nil
	}
	pr := &tt.PromptResponder{}
	return tt.ResponderFunc(func(ctx context.Context, c tt.Case) (string, error) {
		answer, err := pr.Confirm(ctx, c)
		if errors.Is(err, promptui.ErrInterrupt) {
			cancel()
		}
		return answer, err
	}), false, nil
}

type fileResponder struct {
	*tt.LineResponder
	f *os.File
}

func (r *fileResponder) Close() error {
	return r.f.Close()
}

func printOutcome(o tt.Outcome) {
	switch o.State {
	case tt.StatePass:
		fmt.Println(green("Row %d: Pass", o.Case.Row))
	case tt.StateFail:
		fmt.Println(red("Row %d: Fail", o.Case.Row))
	case tt.StateSkipped:
		fmt.Println(yellow("Invalid Test case in FTP"))
	case tt.StateMessageNotFound:
		fmt.Println(yellow("%s not present in DBC", o.Case.Message))
	case tt.StateSignalNotFound:
		fmt.Println(yellow("%s not present in %s", o.Case.Signal, o.Case.Message))
	case tt.StateTransmitError:
		fmt.Println(red("%v", o.Err))
	case tt.StateNoResponse:
		fmt.Println(yellow("No response"))
	default:
		fmt.Println(yellow("%s: %v", o.State, o.Err))
	}
	if o.Frame != nil && o.State != tt.StateTransmitError {
		fmt.Println(o.Frame.ColorString())
	}
}

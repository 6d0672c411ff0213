package cmd

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/roffe/ttcan/pkg/config"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "ttcan",
	Short: "Semi-automated telltale test runner",
	Long: `ttcan reads a test plan, sends the CAN frame every test case asks for and
records the operator's pass/fail verdict back into the plan`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

const (
	flagConfig   = "config"
	flagDB       = "db"
	flagPort     = "port"
	flagBaudrate = "baudrate"
	flagCANRate  = "canrate"
	flagDebug    = "debug"
	flagAdapter  = "adapter"
	flagNoColor  = "no-color"
)

var (
	green  = color.New(color.FgGreen).SprintfFunc()
	red    = color.New(color.FgRed).SprintfFunc()
	yellow = color.New(color.FgYellow).SprintfFunc()
	cyan   = color.New(color.FgCyan).SprintfFunc()
)

func init() {
	log.SetFlags(log.Lshortfile | log.LstdFlags)

	pf := rootCmd.PersistentFlags()
	pf.StringP(flagConfig, "c", "", "config file (default ttcan.yaml, then the user config dir)")
	pf.StringP(flagDB, "d", "", "message database, .dbc or .csv (file picker when omitted)")
	pf.StringP(flagAdapter, "a", config.DefaultAdapter, "what adapter to use")
	pf.StringP(flagPort, "p", "", "com-port or interface, * = pick from available ports")
	pf.IntP(flagBaudrate, "b", config.DefaultBaudrate, "serial baudrate of the adapter")
	pf.Float64P(flagCANRate, "r", 500, "CAN bus rate in kbit/s")
	pf.Bool(flagDebug, false, "debug mode")
	pf.Bool(flagNoColor, false, "disable colored output")

	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if noColor, _ := cmd.Flags().GetBool(flagNoColor); noColor || !isTerminal() {
			color.NoColor = true
		}
	}
}

func isTerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// loadConfig reads the config file and applies the flags that were set explicitly.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path, _ := cmd.Flags().GetString(flagConfig); path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.Find()
	}
	if err != nil {
		return nil, err
	}

	f := cmd.Flags()
	if f.Changed(flagAdapter) {
		cfg.Adapter, _ = f.GetString(flagAdapter)
	}
	if f.Changed(flagPort) {
		cfg.Port, _ = f.GetString(flagPort)
	}
	if f.Changed(flagBaudrate) {
		cfg.Baudrate, _ = f.GetInt(flagBaudrate)
	}
	if f.Changed(flagCANRate) {
		cfg.CANRate, _ = f.GetFloat64(flagCANRate)
	}
	if f.Changed(flagDebug) {
		cfg.Debug, _ = f.GetBool(flagDebug)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if cfg.Path != "" && cfg.Debug {
		log.Printf("using config %s", cfg.Path)
	}
	return cfg, nil
}

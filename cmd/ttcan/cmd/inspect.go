package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/roffe/ttcan/pkg/candb"
	"github.com/spf13/cobra"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect [message...]",
	Short: "list the messages and signals of a database",
	Long: `Without arguments every message of the database is listed. Given message names
the signals of those messages are shown, which helps fixing test plans.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		dbPath, _ := cmd.Flags().GetString(flagDB)
		dbPath, err := pickFile(dbPath, "Select DBC File", "DBC Files", "dbc", "csv")
		if err != nil {
			return err
		}
		db, err := candb.Load(dbPath)
		if err != nil {
			return err
		}
		return inspect(cmd.OutOrStdout(), db, args)
	},
}

func init() {
	rootCmd.AddCommand(inspectCmd)
}

func inspect(out io.Writer, db *candb.Database, names []string) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	defer w.Flush()
	if len(names) == 0 {
		fmt.Fprintln(w, "NAME\tID\tDLC\tCYCLE\tSIGNALS")
		for _, m := range db.Messages() {
			fmt.Fprintf(w, "%s\t0x%03X\t%d\t%s\t%d\n", m.Name, m.ID, m.Length, m.CycleTime, len(m.Signals))
		}
		return nil
	}
	for _, name := range names {
		m, err := db.Lookup(name)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, m.String())
		fmt.Fprintln(w, "  SIGNAL\tSTART\tLEN\tORDER\tSIGNED\tINITIAL")
		for _, s := range m.Signals {
			order := "intel"
			if s.IsBigEndian {
				order = "motorola"
			}
			initial := "-"
			if v, ok := s.InitialValue(); ok {
				initial = fmt.Sprintf("0x%X", v)
			}
			fmt.Fprintf(w, "  %s\t%d\t%d\t%s\t%v\t%s\n", s.Name, s.Start, s.Length, order, s.IsSigned, initial)
		}
	}
	return nil
}

package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/roffe/ttcan"
	"github.com/spf13/cobra"
)

var adaptersCmd = &cobra.Command{
	Use:   "adapters",
	Short: "list available adapters and serial ports",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return listAdapters(cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(adaptersCmd)
}

func listAdapters(w io.Writer) error {
	for i, a := range ttcan.ListAdapters() {
		fmt.Fprintf(w, "#%d %s\n", i, a.String())
	}
	fmt.Fprintln(w, strings.Repeat("-", 30))
	ports, err := serialPorts()
	if err != nil {
		return err
	}
	if len(ports) == 0 {
		fmt.Fprintln(w, "no serial ports found")
		return nil
	}
	fmt.Fprintln(w, "serial ports:")
	for _, p := range ports {
		fmt.Fprintln(w, "  "+portLabel(p))
	}
	return nil
}

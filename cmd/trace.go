package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/bnema/grabarbiter/internal/input"
	"github.com/bnema/grabarbiter/internal/trace"
	"github.com/bnema/grabarbiter/internal/ui"
	"github.com/spf13/cobra"
)

var traceClient uint16

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Inspect recorded traces",
}

var traceDumpCmd = &cobra.Command{
	Use:   "dump <file>",
	Short: "Print the deliveries of a trace file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open trace: %w", err)
		}
		defer f.Close()

		records, err := trace.ReadAll(bufio.NewReader(f))
		if err != nil {
			return fmt.Errorf("failed to read trace: %w", err)
		}
		if traceClient != 0 {
			kept := records[:0]
			for _, r := range records {
				if r.Client == input.ClientID(traceClient) {
					kept = append(kept, r)
				}
			}
			records = kept
		}
		fmt.Fprintln(cmd.OutOrStdout(), ui.RenderRecords(records))
		return nil
	},
}

func init() {
	traceDumpCmd.Flags().Uint16Var(&traceClient, "client", 0, "only show deliveries to this client")
	traceCmd.AddCommand(traceDumpCmd)
	rootCmd.AddCommand(traceCmd)
}

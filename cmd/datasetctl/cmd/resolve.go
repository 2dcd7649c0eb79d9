package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyzr/datasync/cmd/datasync/models"
)

var (
	resolveFrom string
	resolveTo   string
)

var resolveCmd = &cobra.Command{
	Use:   "resolve <rid>",
	Short: "Pick the version a window would be served from",
	Long: `Resolve a time window against the local ledger and print the version
a session would serve without fetching.

Examples:
  datasetctl resolve alpha-id
  datasetctl resolve alpha-id --from 2025-06-01 --to 2025-06-30`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	rootCmd.AddCommand(resolveCmd)

	resolveCmd.Flags().StringVar(&resolveFrom, "from", "", "window start (date or RFC 3339)")
	resolveCmd.Flags().StringVar(&resolveTo, "to", "", "window end (date or RFC 3339, default now)")
}

func runResolve(cmd *cobra.Command, args []string) error {
	w, err := models.ParseWindow(resolveFrom, resolveTo, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("invalid window: %w", err)
	}

	lg, err := openLedger()
	if err != nil {
		return err
	}
	v, err := lg.Resolve(args[0], w)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if v == nil {
		fmt.Fprintf(out, "No version of %s observed in %s; a session would fetch\n", args[0], w)
		return nil
	}
	fmt.Fprintf(out, "%s resolves to:\n\n", args[0])
	printVersion(cmd, *v)
	return nil
}

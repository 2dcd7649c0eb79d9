package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyzr/datasync/cmd/datasync/ledger"
	"github.com/lyzr/datasync/cmd/datasync/models"
	"github.com/lyzr/datasync/common/logger"
)

var versionsCmd = &cobra.Command{
	Use:   "versions <rid>",
	Short: "Show the recorded versions of a dataset",
	Long: `Print the ledger record of one dataset, newest version first.

Examples:
  datasetctl versions alpha-id
  datasetctl versions alpha-id --meta-dir ./datasets/metadata`,
	Args: cobra.ExactArgs(1),
	RunE: runVersions,
}

func init() {
	rootCmd.AddCommand(versionsCmd)
}

func openLedger() (*ledger.Ledger, error) {
	lg, err := ledger.New(metaDir, logger.Discard())
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	return lg, nil
}

func runVersions(cmd *cobra.Command, args []string) error {
	lg, err := openLedger()
	if err != nil {
		return err
	}

	entry, err := lg.Read(args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(entry.Versions) == 0 {
		fmt.Fprintf(out, "No versions recorded for %s\n", args[0])
		return nil
	}

	fmt.Fprintf(out, "%s (%s): %d version(s)\n\n", entry.Name, entry.ExternalID, len(entry.Versions))
	for _, v := range entry.Versions {
		printVersion(cmd, v)
	}
	return nil
}

func printVersion(cmd *cobra.Command, v models.Version) {
	out := cmd.OutOrStdout()

	var forms []string
	if v.HasRaw {
		forms = append(forms, "raw")
	}
	if v.HasCompressed {
		forms = append(forms, "zip")
	}
	if len(forms) == 0 {
		forms = append(forms, "none")
	}

	fmt.Fprintf(out, "  %s\n", v.Checksum)
	fmt.Fprintf(out, "    Stored: %s\n", strings.Join(forms, ", "))
	fmt.Fprintf(out, "    Last:   %s\n", v.LastObserved().Format(time.RFC3339))
	fmt.Fprintf(out, "    Seen:   %d time(s)\n", len(v.Dates))
	fmt.Fprintln(out)
}

package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

var metaDir string

var rootCmd = &cobra.Command{
	Use:   "datasetctl",
	Short: "Client for the dataset cache",
	Long: `datasetctl talks to a running datasync service and inspects a local
dataset cache.

  - get requests datasets over a websocket session and prints progress
  - versions prints the ledger record of one dataset
  - resolve picks the version a time window would be served from`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = "/app/datasets"
	}
	defaultMeta := os.Getenv("META_DIR")
	if defaultMeta == "" {
		defaultMeta = filepath.Join(dataDir, "metadata")
	}

	rootCmd.PersistentFlags().StringVar(&metaDir, "meta-dir", defaultMeta, "ledger directory (default $META_DIR or $DATA_DIR/metadata)")
}

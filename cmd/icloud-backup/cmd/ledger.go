package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"go-icloud-backup/internal/retry"
)

// ledgerCmd prints the terminal failure ledger from previous runs.
var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show assets that failed terminally in previous runs",
	RunE:  runLedger,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
	ledgerCmd.Flags().String("path", "", "Ledger file path (defaults to <output root>/failure_ledger.jsonl)")
}

func runLedger(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("path")
	if path == "" {
		path = globalConfig.Download.LedgerPath
	}
	if path == "" {
		path = filepath.Join(globalConfig.Download.DefaultPath, "failure_ledger.jsonl")
	}

	failures, err := retry.ReadLedger(path)
	if err != nil {
		return fmt.Errorf("reading ledger %s: %w", path, err)
	}
	if len(failures) == 0 {
		fmt.Println("No terminal failures recorded.")
		return nil
	}

	fmt.Printf("%-14s %-30s %-18s %s\n", "PARTITION", "ASSET", "ERROR", "TARGET")
	for _, f := range failures {
		fmt.Printf("%-14s %-30s %-18s %s (after %d attempt(s))\n",
			f.Partition, f.AssetID, f.ErrorKind, f.TargetPath, f.Attempts)
	}
	return nil
}

package cmd

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"go-icloud-backup/index"
)

// searchCmd queries the Bleve index of completed backups.
var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search the local index of backed-up assets",
	Long: `Searches the Bleve index maintained during backup runs. Fields are
queryable by name, e.g. '+partition:Personal +format:HEIC' or a bare
substring of the original filename.`,
	Args: cobra.ExactArgs(1),
	RunE: runSearch,
}

func init() {
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	indexPath := globalConfig.Download.BleveIndexPath
	if indexPath == "" {
		return fmt.Errorf("download.bleve_index_path is not configured; run backup with indexing enabled first")
	}

	idx, err := index.OpenOrCreateIndex(indexPath)
	if err != nil {
		return fmt.Errorf("opening search index: %w", err)
	}
	defer idx.Close()

	results, err := index.SearchIndex(idx, args[0])
	if err != nil {
		return fmt.Errorf("search failed: %w", err)
	}

	log.Infof("%d match(es) in %s", results.Total, results.Took)
	for _, hit := range results.Hits {
		path, _ := hit.Fields["targetPath"].(string)
		partition, _ := hit.Fields["partition"].(string)
		fmt.Printf("%-12s %s\n", partition, path)
	}
	return nil
}

package commands

import (
	"reservoir-data/lib/aggregate"
	"reservoir-data/services/opendata"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(fullCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(ingestCmd)
}

func newOpendataService() opendata.Service {
	client, err := config.httpClient()
	if err != nil {
		fatal("failed to create http client", err)
	}
	return opendata.NewService(config.BaseUrl, client, opendata.Options{
		Datasets:          config.Datasets,
		AggregateDatasets: config.AggregateDatasets,
		RawDir:            config.RawDir(),
		Store:             aggregate.Store{Dir: config.DocsDir()},
		PageSize:          config.PageSize,
	})
}

var fullCmd = &cobra.Command{
	Use:   "full",
	Short: "Downloads every CSV distribution page by page and aggregates the water quality data into JSON documents.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		results := newOpendataService().Full(cmd.Context())
		renderResults(results)
	},
}

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Downloads every CSV distribution with a single request each.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		results := newOpendataService().Fetch(cmd.Context())
		renderResults(results)
	},
}

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Aggregates previously downloaded CSV files into JSON documents again.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		results := newOpendataService().Reingest(cmd.Context())
		renderResults(results)
	},
}

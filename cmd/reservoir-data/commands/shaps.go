package commands

import (
	"reservoir-data/lib/scrapers/reservoir"
	"reservoir-data/services/shaps"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(shapsCmd)
}

var shapsCmd = &cobra.Command{
	Use:   "shaps",
	Short: "Scrapes the reservoir monitoring page and saves the map graphic of every dam as SVG.",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		client, err := config.httpClient()
		if err != nil {
			fatal("failed to create http client", err)
		}
		scraper, err := reservoir.New(client, config.scraperOptions())
		if err != nil {
			fatal("failed to create scraper", err)
		}

		summary, err := shaps.NewService(scraper, config.ShapsDir).Run(cmd.Context())
		if err != nil {
			fatal("failed to scrape reservoir graphics", err)
		}
		renderSummary(summary)
	},
}

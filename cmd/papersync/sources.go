package main

import (
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Check the configured bibliographic services",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := loadEnvironment()
		if err != nil {
			return err
		}

		results := env.components.Sources.ProbeAll(cmd.Context())
		return render(cmd.OutOrStdout(), output, results, func(tw *tabwriter.Writer) {
			row(tw, "NAME", "ENABLED", "HEALTHY", "LATENCY", "ERROR")
			for _, r := range results {
				row(tw, r.Name, r.Enabled, r.Healthy, r.Latency.Round(time.Millisecond), orDash(r.Error))
			}
		})
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

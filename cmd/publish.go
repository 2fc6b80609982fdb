package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/intake-cli/internal/publish"
)

var publishCmd = &cobra.Command{
	Use:   "publish",
	Short: "Publish generated content to Notion",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("publish"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		client := publish.NewClient(cfg.Notion.Token, publish.WithRateLimit(cfg.Notion.RateLimit))
		pub := publish.NewPublisher(st, client, cfg.Notion)

		report, err := pub.Publish(ctx)
		if err != nil {
			return err
		}
		fmt.Println(report.Describe())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(publishCmd)
}

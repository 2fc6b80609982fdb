package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/intake-cli/internal/budget"
	"github.com/sells-group/intake-cli/internal/content"
	"github.com/sells-group/intake-cli/pkg/anthropic"
)

var contentCmd = &cobra.Command{
	Use:   "content",
	Short: "Generate listing content for collected providers",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("content"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		enf, err := newEnforcer(ctx, st)
		if err != nil {
			return err
		}

		orch := content.NewOrchestrator(
			st,
			anthropic.NewClient(cfg.Anthropic.Key),
			enf,
			budget.NewCalculator(cfg.Pricing),
			cfg.Content,
		)

		report, err := orch.Process(ctx)
		if err != nil {
			return err
		}
		fmt.Println(report.Describe())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(contentCmd)
}

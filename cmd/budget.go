package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var budgetCmd = &cobra.Command{
	Use:   "budget",
	Short: "Budget inspection",
}

var budgetStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show current period spend against ceilings",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("store"); err != nil {
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

		s := enf.Standing()
		fmt.Printf("daily:   $%.4f of %s (since %s)\n", s.DailySpentUSD, ceilingLabel(s.DailyCeilingUSD), s.DayStart)
		fmt.Printf("monthly: $%.4f of %s (since %s)\n", s.MonthlySpentUSD, ceilingLabel(s.MonthlyCeilingUSD), s.MonthStart)
		return nil
	},
}

func ceilingLabel(ceiling float64) string {
	if ceiling <= 0 {
		return "unlimited"
	}
	return fmt.Sprintf("$%.2f", ceiling)
}

func init() {
	budgetCmd.AddCommand(budgetStatusCmd)
	rootCmd.AddCommand(budgetCmd)
}

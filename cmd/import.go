package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sells-group/intake-cli/internal/queryset"
)

var importCmd = &cobra.Command{
	Use:   "import [file]",
	Short: "Validate a query set file and show what intake would run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sets, err := queryset.Load(args[0])
		if err != nil {
			return err
		}

		total := 0
		for _, qs := range sets {
			fmt.Printf("%s: %d queries\n", qs.Region, len(qs.Queries))
			total += len(qs.Queries)
		}
		fmt.Printf("%d regions, %d queries\n", len(sets), total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}

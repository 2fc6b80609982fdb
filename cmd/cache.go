package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Lookup cache maintenance",
}

var cachePurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete expired cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ca, err := openCache()
		if err != nil {
			return err
		}
		defer ca.Close()

		purged, err := ca.PurgeExpired(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Printf("purged %d expired entries\n", purged)
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cachePurgeCmd)
	rootCmd.AddCommand(cacheCmd)
}

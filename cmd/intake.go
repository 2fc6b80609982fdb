package main

import (
	"fmt"
	"sync"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/intake-cli/internal/budget"
	"github.com/sells-group/intake-cli/internal/intake"
	"github.com/sells-group/intake-cli/internal/queryset"
	"github.com/sells-group/intake-cli/pkg/places"
)

var (
	intakeQueriesPath string
	intakeRegion      string
	intakeConcurrency int
)

var intakeCmd = &cobra.Command{
	Use:   "intake",
	Short: "Run provider discovery over query sets",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		if err := cfg.Validate("intake"); err != nil {
			return err
		}

		sets, err := queryset.Load(intakeQueriesPath)
		if err != nil {
			return err
		}
		if intakeRegion != "" {
			filtered := sets[:0]
			for _, qs := range sets {
				if qs.Region == intakeRegion {
					filtered = append(filtered, qs)
				}
			}
			if len(filtered) == 0 {
				return eris.Errorf("no query set for region %s", intakeRegion)
			}
			sets = filtered
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		ca, err := openCache()
		if err != nil {
			return err
		}
		defer ca.Close()

		enf, err := newEnforcer(ctx, st)
		if err != nil {
			return err
		}

		var placesOpts []places.Option
		if cfg.Places.BaseURL != "" {
			placesOpts = append(placesOpts, places.WithBaseURL(cfg.Places.BaseURL))
		}
		coord := intake.NewCoordinator(
			st,
			places.NewClient(cfg.Places.Key, placesOpts...),
			ca,
			enf,
			budget.NewCalculator(cfg.Pricing),
			cfg.Intake,
		)

		// Regions are independent; the shared cache and enforcer keep
		// concurrent runs consistent.
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(intakeConcurrency)

		var mu sync.Mutex
		var runs []*intake.Run

		for _, qs := range sets {
			g.Go(func() error {
				run, err := coord.Execute(gctx, qs)
				if err != nil {
					zap.L().Error("intake run failed",
						zap.String("region", qs.Region),
						zap.Error(err),
					)
					return nil // don't abort other regions
				}
				mu.Lock()
				runs = append(runs, run)
				mu.Unlock()
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return eris.Wrap(err, "intake")
		}

		for _, run := range runs {
			fmt.Println(run.Describe())
		}
		return nil
	},
}

func init() {
	intakeCmd.Flags().StringVar(&intakeQueriesPath, "queries", "", "path to query set file, YAML or XLSX (required)")
	intakeCmd.Flags().StringVar(&intakeRegion, "region", "", "run only the named region")
	intakeCmd.Flags().IntVar(&intakeConcurrency, "concurrency", 2, "concurrent regions")
	_ = intakeCmd.MarkFlagRequired("queries")
	rootCmd.AddCommand(intakeCmd)
}

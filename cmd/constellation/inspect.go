package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/constellation/internal/colors"
	"github.com/ajitpratap0/constellation/internal/explorer"
)

type inspectReport struct {
	Stats   explorer.Stats   `json:"stats"`
	Columns []columnReport   `json:"columns"`
	Legends []*colors.Legend `json:"legends"`
}

type columnReport struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Loaded bool   `json:"materialized"`
}

func newInspectCommand(g *globalFlags) *cobra.Command {
	var shards int
	var columns []string

	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Load shards and print the dataset's columns, statistics and legends",
		Long: `Load the first shards of a dataset, materialize the requested columns and
print the session statistics, column states and one legend per materialized
attribute as JSON.

Example:
  constellation inspect -c hairfollicle.yaml --shards 2 --columns Gene,CellType`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := loadConfig(g.configFile)
			if err != nil {
				return err
			}
			s, err := openSession(ctx, cfg, shards)
			if err != nil {
				return err
			}
			defer s.Close()

			for _, c := range columns {
				if _, err := s.EnsureColumn(ctx, c); err != nil {
					return err
				}
			}

			report := inspectReport{}
			ds := cfg.Dataset
			for _, c := range ds.CoordinateColumns {
				report.Columns = append(report.Columns, columnReport{Name: c, Kind: "coordinate", Loaded: true})
			}
			for _, c := range ds.CategoricalColumns {
				report.Columns = append(report.Columns, columnReport{Name: c, Kind: "categorical", Loaded: s.Materialized(c)})
			}
			for _, c := range ds.ContinuousColumns {
				report.Columns = append(report.Columns, columnReport{Name: c, Kind: "continuous", Loaded: s.Materialized(c)})
			}

			report.Stats = s.Stats()
			for _, attr := range append(append([]string(nil), report.Stats.Categorical...), report.Stats.Continuous...) {
				legend, err := s.Legend(attr)
				if err != nil {
					return err
				}
				report.Legends = append(report.Legends, legend)
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}
	cmd.Flags().IntVar(&shards, "shards", 1, "Number of shards to load")
	cmd.Flags().StringSliceVar(&columns, "columns", nil, "Columns to materialize in addition to the initial set")
	return cmd
}

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/constellation/pkg/config"
)

// starterConfig is a dataset skeleton over the viewer defaults. It
// validates as written; users edit the shard template and columns.
func starterConfig(name string) *config.File {
	return &config.File{
		Dataset: config.Dataset{
			Name:               name,
			Format:             "parquet",
			ShardTemplate:      "https://example.org/" + name + ".shard%02d.parquet",
			ShardCount:         1,
			CoordinateColumns:  []string{"x", "y", "z"},
			DefaultAxes:        config.Axes{X: "x", Y: "y", Z: "z"},
			CategoricalColumns: []string{"Type"},
			ColorAttribute:     "Type",
		},
		Viewer: config.NewViewerConfig(),
	}
}

func newInitConfigCommand() *cobra.Command {
	var (
		name  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "init-config <path>",
		Short: "Write a starter dataset file with the default viewer settings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if !force {
				if _, err := os.Stat(path); err == nil {
					return fmt.Errorf("%s already exists (use --force to overwrite)", path)
				}
			}
			f := starterConfig(name)
			if err := f.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, f); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "dataset", "Dataset name")
	cmd.Flags().BoolVar(&force, "force", false, "Overwrite an existing file")
	return cmd
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/constellation/internal/camera"
	"github.com/ajitpratap0/constellation/internal/explorer"
	"github.com/ajitpratap0/constellation/internal/filter"
)

type frameReport struct {
	Stats   explorer.Stats      `json:"stats"`
	Filters []filter.Descriptor `json:"filters"`
	Camera  *camera.Pose        `json:"camera,omitempty"`
	Points  []framePoint        `json:"points"`
}

type framePoint struct {
	Record   uint32     `json:"record"`
	Position [3]float32 `json:"position"`
	Color    string     `json:"color"`
}

type frameOptions struct {
	shards  int
	budget  int
	policy  string
	axes    string
	color   string
	filters []string
	ranges  []string
	limit   int
}

func newFrameCommand(g *globalFlags) *cobra.Command {
	o := &frameOptions{}

	cmd := &cobra.Command{
		Use:   "frame",
		Short: "Apply filters and print the rendered frame",
		Long: `Load shards, apply the given filters and coloring, and print the session
statistics, filter descriptors, fitted camera and the first rendered points
as JSON.

Example:
  constellation frame -c hairfollicle.yaml --shards 3 \
    --filter CellType=Basal,Suprabasal --range Time=2:5 --color Gene --limit 20`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg, err := loadConfig(g.configFile)
			if err != nil {
				return err
			}
			if o.budget > 0 {
				cfg.Viewer.Render.Budget = o.budget
			}
			if o.policy != "" {
				cfg.Viewer.Render.Policy = o.policy
			}
			// Filters are applied in one pass below.
			cfg.Viewer.Interaction.Debounce = 0

			s, err := openSession(ctx, cfg, o.shards)
			if err != nil {
				return err
			}
			defer s.Close()

			report, err := buildFrame(ctx, s, o)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), report)
		},
	}

	f := cmd.Flags()
	f.IntVar(&o.shards, "shards", 1, "Number of shards to load")
	f.IntVar(&o.budget, "budget", 0, "Render budget (0 keeps the configured budget)")
	f.StringVar(&o.policy, "policy", "", "Sampling policy when over budget (stride, prefix)")
	f.StringVar(&o.axes, "axes", "", "Coordinate columns to use as x,y,z")
	f.StringVar(&o.color, "color", "", "Attribute to color points by")
	f.StringArrayVar(&o.filters, "filter", nil, "Categorical filter Attr=v1,v2 (repeatable)")
	f.StringArrayVar(&o.ranges, "range", nil, "Continuous filter Attr=min:max (repeatable)")
	f.IntVar(&o.limit, "limit", 10, "Number of rendered points to print")
	return cmd
}

func buildFrame(ctx context.Context, s *explorer.Session, o *frameOptions) (*frameReport, error) {
	if o.axes != "" {
		axes, err := parseAxes(o.axes)
		if err != nil {
			return nil, err
		}
		if err := s.RemapCoordinates(axes[0], axes[1], axes[2]); err != nil {
			return nil, err
		}
	}
	if o.color != "" {
		if err := s.SetColorAttribute(ctx, o.color); err != nil {
			return nil, err
		}
	}

	for _, raw := range o.filters {
		spec, err := parseCategoricalSpec(raw)
		if err != nil {
			return nil, err
		}
		id := s.AddFilter()
		if err := s.SetFilterAttribute(ctx, id, spec.Attribute); err != nil {
			return nil, fmt.Errorf("filter %q: %w", raw, err)
		}
		if err := s.SetFilterValues(id, spec.Values); err != nil {
			return nil, fmt.Errorf("filter %q: %w", raw, err)
		}
	}
	for _, raw := range o.ranges {
		spec, err := parseRangeSpec(raw)
		if err != nil {
			return nil, err
		}
		id := s.AddFilter()
		if err := s.SetFilterAttribute(ctx, id, spec.Attribute); err != nil {
			return nil, fmt.Errorf("range %q: %w", raw, err)
		}
		if err := s.SetFilterRange(id, spec.Min, spec.Max); err != nil {
			return nil, fmt.Errorf("range %q: %w", raw, err)
		}
	}
	if err := s.Refresh(ctx); err != nil {
		return nil, err
	}

	frame := s.Frame()
	report := &frameReport{
		Stats:   s.Stats(),
		Filters: s.FilterDescriptors(),
		Camera:  frame.Camera,
	}
	n := frame.Len()
	if o.limit >= 0 && n > o.limit {
		n = o.limit
	}
	for i := 0; i < n; i++ {
		p := framePoint{
			Record:   frame.Indices[i],
			Position: [3]float32{frame.Positions[3*i], frame.Positions[3*i+1], frame.Positions[3*i+2]},
		}
		p.Color = fmt.Sprintf("#%02x%02x%02x", frame.Colors[3*i], frame.Colors[3*i+1], frame.Colors[3*i+2])
		report.Points = append(report.Points, p)
	}
	return report, nil
}

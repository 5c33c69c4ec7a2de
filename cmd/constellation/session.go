package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/ajitpratap0/constellation/internal/explorer"
	"github.com/ajitpratap0/constellation/pkg/config"
	"github.com/ajitpratap0/constellation/pkg/fetch"
	"github.com/ajitpratap0/constellation/pkg/logger"
)

// loadConfig reads the dataset file over the viewer defaults, so a file
// only needs the viewer settings it changes.
func loadConfig(path string) (*config.File, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	f := &config.File{Viewer: config.NewViewerConfig()}
	if err := config.Load(path, f); err != nil {
		return nil, err
	}
	f.ApplyDefaults()
	if err := f.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration %s: %w", path, err)
	}
	return f, nil
}

// openSession builds a session over the configured storage and loads the
// first shards, then grows to shards when that is larger.
func openSession(ctx context.Context, cfg *config.File, shards int) (*explorer.Session, error) {
	ctx = logger.ContextWithDataset(ctx, cfg.Dataset.Name)
	log := logger.WithContext(ctx).With(zap.String("component", "constellation-cli"))

	router := fetch.NewRouter(cfg.Viewer.Storage, cfg.Viewer.Reliability)
	s, err := explorer.New(explorer.Options{
		Dataset: cfg.Dataset,
		Viewer:  cfg.Viewer,
		Fetcher: fetch.NewRetrying(router, cfg.Viewer.Reliability),
		Logger:  logger.Get().With(zap.String("component", "explorer")),
		Progress: func(p explorer.Progress) {
			done, total := fmt.Sprint(p.Done), "?"
			if p.Phase == explorer.PhaseDownload {
				done = humanize.Bytes(uint64(p.Done))
				if p.Total >= 0 {
					total = humanize.Bytes(uint64(p.Total))
				}
			} else if p.Total >= 0 {
				total = humanize.Comma(p.Total)
			}
			log.Info("progress", zap.String("phase", string(p.Phase)), zap.String("done", done), zap.String("total", total))
		},
	})
	if err != nil {
		return nil, err
	}
	ctx = logger.ContextWithSession(ctx, s.ID())
	log = logger.WithContext(ctx).With(zap.String("component", "constellation-cli"))

	if _, err := s.LoadInitial(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if shards > cfg.Viewer.Loading.InitialShards {
		if _, err := s.RequestShardCount(ctx, shards); err != nil {
			_ = s.Close()
			return nil, err
		}
	}

	st := s.Stats()
	log.Info("dataset ready",
		zap.String("records", humanize.Comma(int64(st.Records))),
		zap.Int("resident_shards", st.ResidentShards),
		zap.Int("total_shards", st.TotalShards),
		zap.String("resident_bytes", humanize.Bytes(uint64(st.ResidentBytes))))
	return s, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	_, err = w.Write(data)
	return err
}

// categoricalSpec is a --filter value: "Attr=v1,v2". "Attr=" keeps no
// values.
type categoricalSpec struct {
	Attribute string
	Values    []string
}

func parseCategoricalSpec(s string) (categoricalSpec, error) {
	attr, values, ok := strings.Cut(s, "=")
	attr = strings.TrimSpace(attr)
	if !ok || attr == "" {
		return categoricalSpec{}, fmt.Errorf("invalid filter %q, want Attr=v1,v2", s)
	}
	spec := categoricalSpec{Attribute: attr, Values: []string{}}
	for _, v := range strings.Split(values, ",") {
		if v = strings.TrimSpace(v); v != "" {
			spec.Values = append(spec.Values, v)
		}
	}
	return spec, nil
}

// rangeSpec is a --range value: "Attr=min:max".
type rangeSpec struct {
	Attribute string
	Min, Max  float32
}

func parseRangeSpec(s string) (rangeSpec, error) {
	attr, bounds, ok := strings.Cut(s, "=")
	attr = strings.TrimSpace(attr)
	if !ok || attr == "" {
		return rangeSpec{}, fmt.Errorf("invalid range %q, want Attr=min:max", s)
	}
	lo, hi, ok := strings.Cut(bounds, ":")
	if !ok {
		return rangeSpec{}, fmt.Errorf("invalid range %q, want Attr=min:max", s)
	}
	min, err := strconv.ParseFloat(strings.TrimSpace(lo), 32)
	if err != nil {
		return rangeSpec{}, fmt.Errorf("invalid range minimum in %q: %w", s, err)
	}
	max, err := strconv.ParseFloat(strings.TrimSpace(hi), 32)
	if err != nil {
		return rangeSpec{}, fmt.Errorf("invalid range maximum in %q: %w", s, err)
	}
	return rangeSpec{Attribute: attr, Min: float32(min), Max: float32(max)}, nil
}

// parseAxes parses "x,y,z".
func parseAxes(s string) ([3]string, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return [3]string{}, fmt.Errorf("invalid axes %q, want three comma separated columns", s)
	}
	var axes [3]string
	for i, p := range parts {
		if axes[i] = strings.TrimSpace(p); axes[i] == "" {
			return [3]string{}, fmt.Errorf("invalid axes %q, empty column name", s)
		}
	}
	return axes, nil
}

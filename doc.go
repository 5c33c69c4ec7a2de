// Package constellation explores very large sharded point datasets.
//
// A dataset is a sequence of shards, each a uniform random sample of tens
// of millions of spatial records with categorical and continuous
// attributes. Constellation loads shards progressively, materializes
// attribute columns only when they are first needed, combines filters into
// one visible set and hands a bounded, sampled subset of points to a
// rendering surface together with colors, legends and a fitted camera.
//
// # Architecture
//
// The data-management core lives under internal/:
//
//   - explorer: the Session owning all mutable state; shard loading,
//     column materialization, debounced filter refresh and frames
//   - attrindex: incrementally maintained distinct values and ranges
//   - filter: the filter list and its conjunction over the record table
//   - sampler: render-budget sampling of the visible set
//   - colors: hash-derived and gradient colors, overrides and legends
//   - camera: bounding-box camera fit
//   - debounce: trailing cancel-and-reschedule task
//
// Reusable building blocks live under pkg/:
//
//   - columnar: the append-only record table (arena columns)
//   - formats/columnar: Parquet and TSV shard decoders
//   - fetch: shard transports (HTTP, file, S3, MinIO, GCS) with retries
//   - compression: payload decompression
//   - config, errors, logger, metrics, observability: ambient services
//
// # Quick Start
//
//	cfg := &config.File{Viewer: config.NewViewerConfig()}
//	if err := config.Load("hairfollicle.yaml", cfg); err != nil {
//	    return err
//	}
//	router := fetch.NewRouter(cfg.Viewer.Storage, cfg.Viewer.Reliability)
//	s, err := explorer.New(explorer.Options{
//	    Dataset: cfg.Dataset,
//	    Viewer:  cfg.Viewer,
//	    Fetcher: fetch.NewRetrying(router, cfg.Viewer.Reliability),
//	})
//	if err != nil {
//	    return err
//	}
//	defer s.Close()
//
//	if _, err := s.LoadInitial(ctx); err != nil {
//	    return err
//	}
//	id := s.AddFilter()
//	_ = s.SetFilterAttribute(ctx, id, "CellType")
//	_ = s.SetFilterValues(id, []string{"Basal"})
//	_ = s.Refresh(ctx)
//	frame := s.Frame()
//
// The constellation command wraps the same flow for the terminal; see
// cmd/constellation.
package constellation

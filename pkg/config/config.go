// Package config provides the configuration system for constellation.
//
// Two structures are defined:
//   - Dataset: the fixed descriptor of one dataset (columns, shard locations,
//     shard format)
//   - ViewerConfig: tunables of the exploration engine, organized into
//     sections (Render, Interaction, Loading, Reliability, Camera,
//     Observability)
//
// Example usage:
//
//	var file config.File
//	if err := config.Load("dataset.yaml", &file); err != nil {
//	    log.Fatal(err)
//	}
//	file.ApplyDefaults()
//	if err := file.Validate(); err != nil {
//	    log.Fatal(err)
//	}
package config

import (
	"fmt"
	"runtime"
	"strings"
	"time"
)

// File is the on-disk layout: one dataset plus the viewer settings.
type File struct {
	Dataset Dataset       `yaml:"dataset" json:"dataset"`
	Viewer  *ViewerConfig `yaml:"viewer" json:"viewer"`
}

// ApplyDefaults fills a missing viewer section with NewViewerConfig.
func (f *File) ApplyDefaults() {
	if f.Viewer == nil {
		f.Viewer = NewViewerConfig()
	}
}

// Validate validates both sections.
func (f *File) Validate() error {
	if err := f.Dataset.Validate(); err != nil {
		return fmt.Errorf("dataset: %w", err)
	}
	if f.Viewer != nil {
		if err := f.Viewer.Validate(); err != nil {
			return fmt.Errorf("viewer: %w", err)
		}
	}
	return nil
}

// Axes names the three coordinate candidates copied into the active x/y/z.
type Axes struct {
	X string `yaml:"x" json:"x"`
	Y string `yaml:"y" json:"y"`
	Z string `yaml:"z" json:"z"`
}

// Names returns the axes as an ordered triple.
func (a Axes) Names() [3]string {
	return [3]string{a.X, a.Y, a.Z}
}

// Dataset is the fixed descriptor of a sharded point dataset.
type Dataset struct {
	// Name identifies the dataset in logs and metrics
	Name string `yaml:"name" json:"name"`
	// Format of each shard payload (parquet, tsv)
	Format string `yaml:"format" json:"format"`
	// Compression applied to the shard payload on the wire (none, gzip, zstd, lz4, snappy, s2)
	Compression string `yaml:"compression" json:"compression"`

	// ShardURLs lists shard locations in load order
	ShardURLs []string `yaml:"shard_urls" json:"shard_urls"`
	// ShardTemplate is a printf pattern taking the 1-based shard number,
	// e.g. "https://host/hairfollicle.shard%02d.parquet". Used when ShardURLs is empty.
	ShardTemplate string `yaml:"shard_template" json:"shard_template"`
	// ShardCount is the number of shards generated from ShardTemplate
	ShardCount int `yaml:"shard_count" json:"shard_count"`

	// CoordinateColumns are the numeric candidates selectable as x/y/z
	CoordinateColumns []string `yaml:"coordinate_columns" json:"coordinate_columns"`
	// DefaultAxes selects the active coordinates after initial load
	DefaultAxes Axes `yaml:"default_axes" json:"default_axes"`
	// CategoricalColumns are string attributes materialized lazily
	CategoricalColumns []string `yaml:"categorical_columns" json:"categorical_columns"`
	// ContinuousColumns are numeric attributes; all are parsed at initial load
	ContinuousColumns []string `yaml:"continuous_columns" json:"continuous_columns"`
	// ColorAttribute is the default categorical attribute used for coloring
	ColorAttribute string `yaml:"color_attribute" json:"color_attribute"`
}

// Shards returns the shard locations in load order.
func (d *Dataset) Shards() []string {
	if len(d.ShardURLs) > 0 {
		return d.ShardURLs
	}
	if d.ShardTemplate == "" || d.ShardCount <= 0 {
		return nil
	}
	urls := make([]string, d.ShardCount)
	for i := range urls {
		urls[i] = fmt.Sprintf(d.ShardTemplate, i+1)
	}
	return urls
}

// IsCoordinate reports whether name is a coordinate candidate.
func (d *Dataset) IsCoordinate(name string) bool {
	return contains(d.CoordinateColumns, name)
}

// IsCategorical reports whether name is a declared categorical column.
func (d *Dataset) IsCategorical(name string) bool {
	return contains(d.CategoricalColumns, name)
}

// IsContinuous reports whether name is a declared continuous column.
func (d *Dataset) IsContinuous(name string) bool {
	return contains(d.ContinuousColumns, name)
}

// Validate checks the descriptor for internal consistency.
func (d *Dataset) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("name is required")
	}
	switch strings.ToLower(d.Format) {
	case "", "parquet", "tsv":
	default:
		return fmt.Errorf("unsupported shard format %q", d.Format)
	}
	if len(d.Shards()) == 0 {
		return fmt.Errorf("at least one shard is required (shard_urls or shard_template + shard_count)")
	}
	if len(d.CoordinateColumns) < 3 {
		return fmt.Errorf("at least three coordinate_columns are required")
	}
	for _, axis := range d.DefaultAxes.Names() {
		if !d.IsCoordinate(axis) {
			return fmt.Errorf("default axis %q is not a coordinate column", axis)
		}
	}
	seen := make(map[string]string)
	check := func(kind string, names []string) error {
		for _, n := range names {
			if n == "" {
				return fmt.Errorf("empty %s column name", kind)
			}
			if prev, ok := seen[n]; ok {
				return fmt.Errorf("column %q declared as both %s and %s", n, prev, kind)
			}
			seen[n] = kind
		}
		return nil
	}
	if err := check("coordinate", d.CoordinateColumns); err != nil {
		return err
	}
	if err := check("categorical", d.CategoricalColumns); err != nil {
		return err
	}
	if err := check("continuous", d.ContinuousColumns); err != nil {
		return err
	}
	if d.ColorAttribute != "" && !d.IsCategorical(d.ColorAttribute) {
		return fmt.Errorf("color_attribute %q is not a categorical column", d.ColorAttribute)
	}
	return nil
}

// ViewerConfig holds the engine tunables.
type ViewerConfig struct {
	// Render settings control sampling and legends
	Render RenderConfig `yaml:"render" json:"render"`

	// Interaction settings control how user input is coalesced
	Interaction InteractionConfig `yaml:"interaction" json:"interaction"`

	// Loading settings control shard download and parsing
	Loading LoadingConfig `yaml:"loading" json:"loading"`

	// Reliability settings for shard fetching
	Reliability ReliabilityConfig `yaml:"reliability" json:"reliability"`

	// Camera settings for auto-fit
	Camera CameraConfig `yaml:"camera" json:"camera"`

	// Storage settings for object-store shard locations
	Storage StorageConfig `yaml:"storage" json:"storage"`

	// Observability settings for monitoring and debugging
	Observability ObservabilityConfig `yaml:"observability" json:"observability"`
}

// RenderConfig contains render-budget settings.
type RenderConfig struct {
	// Budget is the maximum number of points handed to the rendering surface
	Budget int `yaml:"budget" json:"budget"`
	// Policy selects how an over-budget visible set is reduced (stride, prefix)
	Policy string `yaml:"policy" json:"policy"`
	// MaxLegendEntries caps categorical legend rows
	MaxLegendEntries int `yaml:"max_legend_entries" json:"max_legend_entries"`
}

// InteractionConfig contains input coalescing settings.
type InteractionConfig struct {
	// Debounce is the trailing delay before a filter change is re-evaluated
	Debounce time.Duration `yaml:"debounce" json:"debounce"`
}

// LoadingConfig contains shard loading settings.
type LoadingConfig struct {
	// InitialShards is the number of shards resident after startup
	InitialShards int `yaml:"initial_shards" json:"initial_shards"`
	// ChunkRows is the number of rows parsed between cooperative yields
	ChunkRows int `yaml:"chunk_rows" json:"chunk_rows"`
	// FetchConcurrency limits simultaneous shard downloads
	FetchConcurrency int `yaml:"fetch_concurrency" json:"fetch_concurrency"`
	// ProgressInterval throttles progress callbacks
	ProgressInterval time.Duration `yaml:"progress_interval" json:"progress_interval"`
}

// ReliabilityConfig contains retry settings for shard fetches.
type ReliabilityConfig struct {
	// RetryAttempts sets maximum retry attempts for a failed fetch
	RetryAttempts int `yaml:"retry_attempts" json:"retry_attempts"`
	// RetryDelay is the initial delay between retries
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`
	// MaxRetryDelay caps the maximum retry delay
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`
	// RequestTimeout bounds a single shard request
	RequestTimeout time.Duration `yaml:"request_timeout" json:"request_timeout"`
}

// StorageConfig contains transport settings for shard locations.
type StorageConfig struct {
	// EnableHTTP2 negotiates HTTP/2 for http(s) shard locations
	EnableHTTP2 bool `yaml:"enable_http2" json:"enable_http2"`
	// S3Region overrides the region resolved from the AWS environment
	S3Region string `yaml:"s3_region" json:"s3_region"`
	// S3Endpoint points s3:// locations at an S3-compatible service
	S3Endpoint string `yaml:"s3_endpoint" json:"s3_endpoint"`
	// MinioEndpoint is the host:port used for minio:// locations
	MinioEndpoint string `yaml:"minio_endpoint" json:"minio_endpoint"`
	// MinioAccessKey for minio:// locations
	MinioAccessKey string `yaml:"minio_access_key" json:"minio_access_key"`
	// MinioSecretKey for minio:// locations
	MinioSecretKey string `yaml:"minio_secret_key" json:"minio_secret_key"`
	// MinioSecure selects HTTPS for minio:// locations
	MinioSecure bool `yaml:"minio_secure" json:"minio_secure"`
	// GCSCredentialsFile authenticates gs:// locations; anonymous when empty
	GCSCredentialsFile string `yaml:"gcs_credentials_file" json:"gcs_credentials_file"`
}

// CameraConfig contains auto-fit parameters.
type CameraConfig struct {
	// FOVDegrees is the vertical field of view
	FOVDegrees float64 `yaml:"fov_degrees" json:"fov_degrees"`
	// Margin scales the fitted distance
	Margin float64 `yaml:"margin" json:"margin"`
	// MinDistance floors the fitted distance
	MinDistance float64 `yaml:"min_distance" json:"min_distance"`
}

// ObservabilityConfig contains monitoring and observability settings.
type ObservabilityConfig struct {
	// LogLevel sets logging verbosity (debug, info, warn, error)
	LogLevel string `yaml:"log_level" json:"log_level"`
	// LogEncoding selects json or console output
	LogEncoding string `yaml:"log_encoding" json:"log_encoding"`
	// EnableMetrics activates Prometheus metrics
	EnableMetrics bool `yaml:"enable_metrics" json:"enable_metrics"`
	// MetricsAddr is the listen address of the metrics endpoint
	MetricsAddr string `yaml:"metrics_addr" json:"metrics_addr"`
	// EnableTracing activates OpenTelemetry spans exported to stdout
	EnableTracing bool `yaml:"enable_tracing" json:"enable_tracing"`
}

// NewViewerConfig creates a ViewerConfig with defaults suited to a
// tens-of-millions point dataset split into ten shards.
func NewViewerConfig() *ViewerConfig {
	return &ViewerConfig{
		Render: RenderConfig{
			Budget:           1_000_000,
			Policy:           "stride",
			MaxLegendEntries: 50,
		},
		Interaction: InteractionConfig{
			Debounce: 100 * time.Millisecond,
		},
		Loading: LoadingConfig{
			InitialShards:    1,
			ChunkRows:        250_000,
			FetchConcurrency: runtime.NumCPU(),
			ProgressInterval: 100 * time.Millisecond,
		},
		Reliability: ReliabilityConfig{
			RetryAttempts:  3,
			RetryDelay:     500 * time.Millisecond,
			MaxRetryDelay:  10 * time.Second,
			RequestTimeout: 5 * time.Minute,
		},
		Camera: CameraConfig{
			FOVDegrees:  60,
			Margin:      1.2,
			MinDistance: 1,
		},
		Storage: StorageConfig{
			EnableHTTP2: true,
		},
		Observability: ObservabilityConfig{
			LogLevel:      "info",
			LogEncoding:   "json",
			EnableMetrics: false,
			MetricsAddr:   ":9090",
			EnableTracing: false,
		},
	}
}

// Validate validates the configuration for correctness.
func (vc *ViewerConfig) Validate() error {
	if vc.Render.Budget <= 0 {
		return fmt.Errorf("render.budget must be positive")
	}
	switch vc.Render.Policy {
	case "stride", "prefix":
	default:
		return fmt.Errorf("render.policy must be stride or prefix, got %q", vc.Render.Policy)
	}
	if vc.Render.MaxLegendEntries <= 0 {
		return fmt.Errorf("render.max_legend_entries must be positive")
	}
	if vc.Interaction.Debounce < 0 {
		return fmt.Errorf("interaction.debounce cannot be negative")
	}
	if vc.Loading.InitialShards <= 0 {
		return fmt.Errorf("loading.initial_shards must be positive")
	}
	if vc.Loading.ChunkRows <= 0 {
		return fmt.Errorf("loading.chunk_rows must be positive")
	}
	if vc.Reliability.RetryAttempts < 0 {
		return fmt.Errorf("reliability.retry_attempts cannot be negative")
	}
	if vc.Camera.FOVDegrees <= 0 || vc.Camera.FOVDegrees >= 180 {
		return fmt.Errorf("camera.fov_degrees must be in (0, 180)")
	}
	if vc.Camera.Margin <= 0 {
		return fmt.Errorf("camera.margin must be positive")
	}
	return nil
}

// GetFetchConcurrency returns the download concurrency, ensuring it's at least 1
func (l *LoadingConfig) GetFetchConcurrency() int {
	if l.FetchConcurrency <= 0 {
		return runtime.NumCPU()
	}
	return l.FetchConcurrency
}

func contains(list []string, name string) bool {
	for _, v := range list {
		if v == name {
			return true
		}
	}
	return false
}

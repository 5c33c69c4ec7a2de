package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDataset() Dataset {
	return Dataset{
		Name:               "hairfollicle",
		Format:             "parquet",
		ShardTemplate:      "https://example.org/data/hairfollicle.shard%02d.parquet",
		ShardCount:         10,
		CoordinateColumns:  []string{"x", "y", "z", "transformedX", "transformedY", "transformedZ"},
		DefaultAxes:        Axes{X: "x", Y: "y", Z: "z"},
		CategoricalColumns: []string{"Gene", "CellType"},
		ContinuousColumns:  []string{"Time"},
		ColorAttribute:     "CellType",
	}
}

func TestDataset_Shards(t *testing.T) {
	d := validDataset()
	shards := d.Shards()
	require.Len(t, shards, 10)
	assert.Equal(t, "https://example.org/data/hairfollicle.shard01.parquet", shards[0])
	assert.Equal(t, "https://example.org/data/hairfollicle.shard10.parquet", shards[9])

	d.ShardURLs = []string{"a", "b"}
	assert.Equal(t, []string{"a", "b"}, d.Shards())
}

func TestDataset_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(d *Dataset)
		wantErr string
	}{
		{"valid", func(d *Dataset) {}, ""},
		{"missing name", func(d *Dataset) { d.Name = "" }, "name is required"},
		{"bad format", func(d *Dataset) { d.Format = "orc" }, "unsupported shard format"},
		{"no shards", func(d *Dataset) { d.ShardCount = 0 }, "at least one shard"},
		{"bad axis", func(d *Dataset) { d.DefaultAxes.Z = "Time" }, "not a coordinate column"},
		{"duplicate", func(d *Dataset) { d.ContinuousColumns = append(d.ContinuousColumns, "Gene") }, "declared as both"},
		{"color not categorical", func(d *Dataset) { d.ColorAttribute = "Time" }, "not a categorical column"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDataset()
			tt.mutate(&d)
			err := d.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestViewerConfig_Defaults(t *testing.T) {
	vc := NewViewerConfig()
	require.NoError(t, vc.Validate())
	assert.Equal(t, 100*time.Millisecond, vc.Interaction.Debounce)
	assert.Equal(t, "stride", vc.Render.Policy)

	vc.Render.Policy = "random"
	assert.Error(t, vc.Validate())
}

func TestLoad_EnvSubstitution(t *testing.T) {
	t.Setenv("CONSTELLATION_TEST_HOST", "cdn.example.org")

	content := `
dataset:
  name: hairfollicle
  shard_template: "https://${CONSTELLATION_TEST_HOST}/hf.shard%02d.parquet"
  shard_count: 2
  coordinate_columns: [x, y, z]
  default_axes: {x: x, y: y, z: z}
  categorical_columns: [CellType]
  continuous_columns: [Time]
viewer:
  render:
    budget: 5000
    policy: prefix
    max_legend_entries: 10
  interaction:
    debounce: 250ms
  loading:
    initial_shards: 1
    chunk_rows: 1000
  camera:
    fov_degrees: 45
    margin: 1.5
`
	path := filepath.Join(t.TempDir(), "dataset.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	var f File
	require.NoError(t, Load(path, &f))
	f.ApplyDefaults()
	require.NoError(t, f.Validate())

	assert.Equal(t, "https://cdn.example.org/hf.shard01.parquet", f.Dataset.Shards()[0])
	assert.Equal(t, 5000, f.Viewer.Render.Budget)
	assert.Equal(t, 250*time.Millisecond, f.Viewer.Interaction.Debounce)
}

func TestSubstituteEnvVars(t *testing.T) {
	t.Setenv("A_VAR", "one")
	assert.Equal(t, "x-one-y-", substituteEnvVars("x-${A_VAR}-y-${UNSET_VAR_FOR_TEST}"))
	assert.Equal(t, "no vars", substituteEnvVars("no vars"))
	assert.Equal(t, "open ${brace", substituteEnvVars("open ${brace"))
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pipeerr "github.com/basketml/featurepipe/internal/errors"
)

func TestNewDefaults(t *testing.T) {
	c := New()
	assert.Equal(t, PartitionPrior, c.FeaturePartition)
	assert.Equal(t, PartitionTrain, c.TargetPartition)
	assert.Equal(t, []int{7, 30, 90}, c.Windows)
	assert.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown feature partition", func(c *Config) { c.FeaturePartition = "weekly" }},
		{"unknown target partition", func(c *Config) { c.TargetPartition = "holdout" }},
		{"equal partitions leak", func(c *Config) { c.FeaturePartition = PartitionTrain }},
		{"empty windows", func(c *Config) { c.Windows = nil }},
		{"non-positive window", func(c *Config) { c.Windows = []int{0, 7} }},
		{"non-ascending windows", func(c *Config) { c.Windows = []int{30, 7} }},
		{"duplicate windows", func(c *Config) { c.Windows = []int{7, 7} }},
		{"negative min orders", func(c *Config) { c.MinOrdersPerUser = -1 }},
		{"negative timeout", func(c *Config) { c.StageTimeout = -time.Second }},
		{"negative max rows", func(c *Config) { c.MaxRows = -5 }},
		{"zero parallelism", func(c *Config) { c.Parallelism = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New()
			tt.mutate(&c)
			err := c.Validate()
			require.Error(t, err)
			assert.True(t, pipeerr.IsKind(err, pipeerr.KindConfiguration))
		})
	}
}

func TestWithDefaults(t *testing.T) {
	c := Config{MinOrdersPerUser: 3}.WithDefaults()
	assert.Equal(t, PartitionPrior, c.FeaturePartition)
	assert.Equal(t, DefaultStageTimeout, c.StageTimeout)
	assert.Equal(t, DefaultParallelism, c.Parallelism)
	assert.Equal(t, 3, c.MinOrdersPerUser)
	assert.NoError(t, c.Validate())
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	content := "feature_partition: prior\ntarget_partition: test\nwindows: [14, 60]\nmin_orders_per_user: 2\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, PartitionTest, c.TargetPartition)
	assert.Equal(t, []int{14, 60}, c.Windows)
	assert.Equal(t, 2, c.MinOrdersPerUser)
	assert.Equal(t, DefaultStageTimeout, c.StageTimeout)
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	content := `{"feature_partition": "prior", "target_partition": "train", "windows": [7]}`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, []int{7}, c.Windows)
}

func TestLoadFromFileErrors(t *testing.T) {
	_, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.True(t, pipeerr.IsKind(err, pipeerr.KindConfiguration))

	path := filepath.Join(t.TempDir(), "run.toml")
	require.NoError(t, os.WriteFile(path, []byte("x = 1"), 0o644))
	_, err = LoadFromFile(path)
	assert.True(t, pipeerr.IsKind(err, pipeerr.KindConfiguration))
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("FEATUREPIPE_TARGET_PARTITION", "test")
	t.Setenv("FEATUREPIPE_WINDOWS", "14, 28")
	t.Setenv("FEATUREPIPE_MIN_ORDERS_PER_USER", "4")
	t.Setenv("FEATUREPIPE_STAGE_TIMEOUT", "90s")
	t.Setenv("FEATUREPIPE_PARALLELISM", "2")

	c := LoadFromEnv()
	assert.Equal(t, PartitionTest, c.TargetPartition)
	assert.Equal(t, []int{14, 28}, c.Windows)
	assert.Equal(t, 4, c.MinOrdersPerUser)
	assert.Equal(t, 90*time.Second, c.StageTimeout)
	assert.Equal(t, 2, c.Parallelism)
}

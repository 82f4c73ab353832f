package browsercore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/inferedge/browsercore/internal/budget"
)

func TestFileConfigValidateRequiresModelID(t *testing.T) {
	c := FileConfig{MemoryMB: 512}
	err := c.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model_id")
}

func TestFileConfigValidateRejectsUnknownDevice(t *testing.T) {
	c := FileConfig{ModelID: "m1", MemoryMB: 512, Device: "tpu"}
	require.Error(t, c.Validate())
}

func TestFileConfigValidateRejectsNonPositiveMemory(t *testing.T) {
	c := FileConfig{ModelID: "m1", MemoryMB: 0}
	require.Error(t, c.Validate())
}

func TestFileConfigValidateAcceptsDefaults(t *testing.T) {
	c := FileConfig{ModelID: "m1", MemoryMB: 512}
	assert.NoError(t, c.Validate())
}

func TestToEngineConfigMapsProfileNames(t *testing.T) {
	cases := []struct {
		in   string
		want budget.Profile
	}{
		{"conservative", budget.Conservative},
		{"Performance", budget.Performance},
		{"", budget.Balanced},
		{"unknown", budget.Balanced},
	}
	for _, tc := range cases {
		c := FileConfig{ModelID: "m1", Profile: tc.in}
		got := c.ToEngineConfig()
		assert.Equal(t, tc.want, got.Profile)
	}
}

func TestToEngineConfigDefaultsDeviceToAuto(t *testing.T) {
	c := FileConfig{ModelID: "m1"}
	assert.Equal(t, DeviceAuto, c.ToEngineConfig().Device)
}

func TestToEngineConfigMapsRateLimitFields(t *testing.T) {
	c := FileConfig{ModelID: "m1", RatePerSecond: 10, Burst: 20}
	got := c.ToEngineConfig()
	assert.Equal(t, int64(10), got.RatePerSecond)
	assert.Equal(t, int64(20), got.Burst)
}

func TestLoadConfigReadsFileAndAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model_id: demo-model\ndevice: cpu\n"), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "demo-model", cfg.ModelID)
	assert.Equal(t, "cpu", cfg.Device)
	assert.Equal(t, DefaultMemoryLimitMB, cfg.MemoryMB)
	assert.Equal(t, DefaultCachePath, cfg.CachePath)
}

func TestLoadConfigFailsValidationWithoutModelID(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("device: cpu\n"), 0o644))

	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigEnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("model_id: demo-model\ndevice: cpu\n"), 0o644))

	t.Setenv("BROWSERCORE_DEVICE", "gpu")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "gpu", cfg.Device)
}

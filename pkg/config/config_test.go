package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ifubin/pkg/mask"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())
	assert.Greater(t, cfg.Processing.NumCores, 0)
	assert.True(t, cfg.Binning.CVT)
	assert.Equal(t, 1.0, cfg.Selection.Band)
	require.Len(t, cfg.Runs, 1)
}

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig().Runs, cfg.Runs)
}

func TestLoadRunTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
processing:
  numCores: 3
  dataDir: /data/cubes
output:
  logLevel: debug
storage:
  dsn: runs.db
runs:
  - Runname: NGC4486-r1
    Survey: SAURON
    SNR: 60
    SNR_min: 5
    Lmin: 4820
    Lmax: 5300
    Redshift: 0.00428
    Velscale: 70
    Mask: 2
    Porder: 6
    Border: 12
    Vmax: 1000
    Mask_width: 600
  - Runname: NGC4486-r2
    Survey: SAURON
    SNR: 100
    SNR_min: 5
    Lmin: 4820
    Lmax: 5300
    Velscale: 70
`
	require.NoError(t, os.WriteFile(path, []byte(doc), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Processing.NumCores)
	assert.Equal(t, "runs.db", cfg.Storage.DSN)
	assert.True(t, cfg.Binning.WVT, "unset sections keep their defaults")
	require.Len(t, cfg.Runs, 2)

	run, err := cfg.FindRun("NGC4486-r1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, run.SNRMin)
	assert.Equal(t, 600.0, run.MaskWidth)
	assert.Equal(t, filepath.Join("/data/cubes", "NGC4486.fits"), run.CubeFile(cfg.Processing.DataDir))

	pr := cfg.PipelineRun(run)
	assert.Equal(t, mask.ModeSpan, pr.MaskMode)
	assert.Equal(t, 0.00428, pr.Redshift)
	assert.Nil(t, pr.Lines)

	opts := cfg.BinningOptions()
	assert.Equal(t, 3, opts.Workers)

	_, err = cfg.FindRun("NGC4486-r3")
	assert.ErrorIs(t, err, ErrRunNotFound)
}

func TestSaveConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	require.NoError(t, CreateDefaultConfigFile(path))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestValidate(t *testing.T) {
	tests := map[string]func(*Config){
		"negative cores":  func(c *Config) { c.Processing.NumCores = -1 },
		"tolerance":       func(c *Config) { c.Binning.Tolerance = 1 },
		"log level":       func(c *Config) { c.Output.LogLevel = "loud" },
		"zero snr":        func(c *Config) { c.Runs[0].SNR = 0 },
		"inverted range":  func(c *Config) { c.Runs[0].Lmin = 6000 },
		"mask mode":       func(c *Config) { c.Runs[0].Mask = 3 },
		"duplicate names": func(c *Config) { c.Runs = append(c.Runs, c.Runs[0]) },
		"no survey":       func(c *Config) { c.Runs[0].Survey = "" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("IFUBIN_DATA_DIR", "/env/data")
	t.Setenv("IFUBIN_DSN", "postgres://localhost/ifu")

	cfg := DefaultConfig()
	cfg.ApplyEnv()
	assert.Equal(t, "/env/data", cfg.Processing.DataDir)
	assert.Equal(t, "postgres://localhost/ifu", cfg.Storage.DSN)
}

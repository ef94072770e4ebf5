// Package config provides configuration loading and management for ifubin.
// It handles loading configuration from YAML files and provides default values.
//
// A configuration holds global processing settings plus a run table. Each
// run names a cube (the part of Runname before the first '-' plus ".fits")
// and the settings to prepare it with, so one cube can be processed several
// times under different run names.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"ifubin/pkg/binning"
	"ifubin/pkg/mask"
	"ifubin/pkg/pipeline"
	"ifubin/pkg/selection"
)

// ErrRunNotFound is returned by FindRun for an unknown run name
var ErrRunNotFound = errors.New("run not found in configuration")

// Run is one row of the run table
type Run struct {
	// Runname identifies the run; its prefix before '-' names the cube file
	Runname string `yaml:"Runname"`

	// Survey selects the cube reader (SAURON, MUSE-WFM, CALIFA-V1200)
	Survey string `yaml:"Survey"`

	// SNR is the target S/N per bin
	SNR float64 `yaml:"SNR"`

	// SNRMin sets the selection floor
	SNRMin float64 `yaml:"SNR_min"`

	// Lmin and Lmax bound the rest-frame wavelength range in Angstrom
	Lmin float64 `yaml:"Lmin"`
	Lmax float64 `yaml:"Lmax"`

	Redshift float64 `yaml:"Redshift"`

	// Velscale is the log-rebinned pixel width in km/s
	Velscale float64 `yaml:"Velscale"`

	// Mask is the mask mode: 0 all pixels, 1 emission lines and edges
	// removed, 2 contiguous span of mode 1
	Mask int `yaml:"Mask"`

	// Porder and Border are the polynomial orders passed to the fit
	Porder int `yaml:"Porder"`
	Border int `yaml:"Border"`

	// Vmax is the largest expected velocity in km/s
	Vmax float64 `yaml:"Vmax"`

	// MaskWidth is the half-width in km/s masked around emission lines
	MaskWidth float64 `yaml:"Mask_width"`
}

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// NumCores specifies how many CPU cores to use for parallel processing
		NumCores int `yaml:"numCores"`

		// DataDir is the directory holding the cube files
		DataDir string `yaml:"dataDir"`
	} `yaml:"processing"`

	// Selection parameters
	Selection struct {
		// Band is the half-width of the S/N band around SNR_min
		Band float64 `yaml:"band"`
	} `yaml:"selection"`

	// Binning parameters
	Binning struct {
		// CVT enables the Voronoi tessellation refinement
		CVT bool `yaml:"cvt"`

		// WVT selects the weighted tessellation variant
		WVT bool `yaml:"wvt"`

		// MaxIterations caps the refinement; 0 uses the number of bins
		MaxIterations int `yaml:"maxIterations"`

		// Tolerance is the relative S/N shortfall that flags a leftover bin
		Tolerance float64 `yaml:"tolerance"`

		// GeometricCentroids reports unweighted centroids
		GeometricCentroids bool `yaml:"geometricCentroids"`
	} `yaml:"binning"`

	// Mask parameters
	Mask struct {
		// Lines overrides the default emission line list (Angstrom)
		Lines []float64 `yaml:"lines,omitempty"`
	} `yaml:"mask"`

	// Output parameters
	Output struct {
		// Dir is where the JSON products are written
		Dir string `yaml:"dir"`

		// LogLevel is one of debug, info, warn, error
		LogLevel string `yaml:"logLevel"`

		// SaveIntermediaryResults determines whether to save intermediary processing results
		SaveIntermediaryResults bool `yaml:"saveIntermediaryResults"`

		// IntermediaryDir is the root directory of intermediary results
		IntermediaryDir string `yaml:"intermediaryDir"`
	} `yaml:"output"`

	// Storage parameters
	Storage struct {
		// DSN of the run catalogue: a SQLite file path or a postgres:// URL.
		// Empty disables the catalogue.
		DSN string `yaml:"dsn"`
	} `yaml:"storage"`

	// Runs is the run table
	Runs []Run `yaml:"runs"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Processing.NumCores = runtime.NumCPU()
	cfg.Processing.DataDir = "data"

	cfg.Selection.Band = selection.DefaultBand

	cfg.Binning.CVT = true
	cfg.Binning.WVT = true
	cfg.Binning.Tolerance = binning.DefaultTolerance

	cfg.Output.Dir = "results"
	cfg.Output.LogLevel = "info"
	cfg.Output.SaveIntermediaryResults = false
	cfg.Output.IntermediaryDir = "intermediary"

	cfg.Runs = []Run{{
		Runname:   "NGC0000-r1",
		Survey:    "MUSE-WFM",
		SNR:       50,
		SNRMin:    3,
		Lmin:      4800,
		Lmax:      5500,
		Redshift:  0.005,
		Velscale:  60,
		Mask:      int(mask.ModeFeatures),
		Porder:    4,
		Border:    10,
		Vmax:      900,
		MaskWidth: 800,
	}}

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// A run table in the file replaces the default one
	cfg.Runs = nil
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// ApplyEnv overrides settings from IFUBIN_DATA_DIR and IFUBIN_DSN when set
func (c *Config) ApplyEnv() {
	if v := os.Getenv("IFUBIN_DATA_DIR"); v != "" {
		c.Processing.DataDir = v
	}
	if v := os.Getenv("IFUBIN_DSN"); v != "" {
		c.Storage.DSN = v
	}
}

// Validate checks the global settings and every run
func (c *Config) Validate() error {
	if c.Processing.NumCores < 0 {
		return fmt.Errorf("numCores must not be negative, got %d", c.Processing.NumCores)
	}
	if c.Binning.Tolerance < 0 || c.Binning.Tolerance >= 1 {
		return fmt.Errorf("binning tolerance must be in [0, 1), got %g", c.Binning.Tolerance)
	}
	if c.Selection.Band < 0 {
		return fmt.Errorf("selection band must not be negative, got %g", c.Selection.Band)
	}
	switch strings.ToLower(c.Output.LogLevel) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log level %q", c.Output.LogLevel)
	}

	seen := make(map[string]bool, len(c.Runs))
	for i, r := range c.Runs {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("run %d: %w", i, err)
		}
		if seen[r.Runname] {
			return fmt.Errorf("run %d: duplicate run name %q", i, r.Runname)
		}
		seen[r.Runname] = true
	}
	return nil
}

// Validate checks a single run
func (r *Run) Validate() error {
	switch {
	case r.Runname == "":
		return errors.New("empty Runname")
	case r.Survey == "":
		return fmt.Errorf("%s: empty Survey", r.Runname)
	case !(r.SNR > 0):
		return fmt.Errorf("%s: SNR must be positive", r.Runname)
	case !(r.Velscale > 0):
		return fmt.Errorf("%s: Velscale must be positive", r.Runname)
	case r.Lmin >= r.Lmax:
		return fmt.Errorf("%s: Lmin %g not below Lmax %g", r.Runname, r.Lmin, r.Lmax)
	case r.Redshift <= -1:
		return fmt.Errorf("%s: invalid Redshift %g", r.Runname, r.Redshift)
	case r.Mask < int(mask.ModeAll) || r.Mask > int(mask.ModeSpan):
		return fmt.Errorf("%s: unknown Mask mode %d", r.Runname, r.Mask)
	case r.Vmax < 0 || r.MaskWidth < 0:
		return fmt.Errorf("%s: Vmax and Mask_width must not be negative", r.Runname)
	}
	return nil
}

// FindRun returns the run with the given name
func (c *Config) FindRun(name string) (*Run, error) {
	for i := range c.Runs {
		if c.Runs[i].Runname == name {
			return &c.Runs[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %q", ErrRunNotFound, name)
}

// CubeFile returns the path of the run's cube inside dataDir
func (r *Run) CubeFile(dataDir string) string {
	root, _, _ := strings.Cut(r.Runname, "-")
	return filepath.Join(dataDir, root+".fits")
}

// PipelineRun converts the run to pipeline settings
func (c *Config) PipelineRun(r *Run) pipeline.Run {
	return pipeline.Run{
		Name:      r.Runname,
		SNR:       r.SNR,
		SNRMin:    r.SNRMin,
		Lmin:      r.Lmin,
		Lmax:      r.Lmax,
		Redshift:  r.Redshift,
		Velscale:  r.Velscale,
		MaskMode:  mask.Mode(r.Mask),
		MaskWidth: r.MaskWidth,
		Vmax:      r.Vmax,
		Lines:     c.Mask.Lines,
		Porder:    r.Porder,
		Border:    r.Border,
	}
}

// BinningOptions returns the binning settings
func (c *Config) BinningOptions() binning.Options {
	return binning.Options{
		CVT:                c.Binning.CVT,
		WVT:                c.Binning.WVT,
		MaxIterations:      c.Binning.MaxIterations,
		Tolerance:          c.Binning.Tolerance,
		GeometricCentroids: c.Binning.GeometricCentroids,
		Workers:            c.Processing.NumCores,
	}
}

// SelectionOptions returns the selection settings
func (c *Config) SelectionOptions() selection.Options {
	return selection.Options{Band: c.Selection.Band}
}

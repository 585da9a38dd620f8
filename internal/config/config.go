// Package config loads the pipeline configuration from an HCL file with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/joho/godotenv"
	"github.com/zclconf/go-cty/cty"

	"go.ngs.io/ph-pollution/internal/domain"
)

// Catalog kinds.
const (
	CatalogCMR   = "cmr"
	CatalogLocal = "local"
)

// Config is the complete pipeline configuration.
type Config struct {
	WorkDir         string
	MetricsTextfile string

	Region     RegionConfig
	Time       TimeConfig
	Products   ProductsConfig
	Catalog    CatalogConfig
	Reanalysis ReanalysisConfig
	Merge      MergeConfig
	Export     ExportConfig
	Output     OutputConfig
	S3         S3Config
}

// RegionConfig is the bounding box in degrees.
type RegionConfig struct {
	LatMin float64 `hcl:"lat_min,optional"`
	LatMax float64 `hcl:"lat_max,optional"`
	LonMin float64 `hcl:"lon_min,optional"`
	LonMax float64 `hcl:"lon_max,optional"`
}

// TimeConfig is the inclusive date range, YYYY-MM-DD.
type TimeConfig struct {
	Start string `hcl:"start,optional"`
	End   string `hcl:"end,optional"`
}

// ProductsConfig controls the satellite product loaders.
type ProductsConfig struct {
	RequireFillValue bool `hcl:"require_fill_value,optional"`
	Margin           int  `hcl:"margin,optional"`
}

// CatalogConfig selects where granules come from.
type CatalogConfig struct {
	Kind        string  `hcl:"kind,optional"`
	URL         string  `hcl:"url,optional"`
	Root        string  `hcl:"root,optional"`
	DownloadDir string  `hcl:"download_dir,optional"`
	Concurrency int     `hcl:"concurrency,optional"`
	RateLimit   float64 `hcl:"rate_limit,optional"`
	MaxRetries  int     `hcl:"max_retries,optional"`
	Token       string  `hcl:"token,optional"`
}

// ReanalysisConfig controls the ERA5-Land retrieval.
type ReanalysisConfig struct {
	Path         string `hcl:"path,optional"`
	Reuse        bool   `hcl:"reuse,optional"`
	WriteRC      bool   `hcl:"write_rc,optional"`
	RCPath       string `hcl:"rc_path,optional"`
	URL          string `hcl:"url,optional"`
	Key          string `hcl:"key,optional"`
	PollInterval string `hcl:"poll_interval,optional"`
}

// MergeConfig controls the merge step.
type MergeConfig struct {
	TimeAlignment   string `hcl:"time_alignment,optional"`
	IncludeMODISLST bool   `hcl:"include_modis_lst,optional"`
}

// ExportConfig controls the nighttime-lights export.
type ExportConfig struct {
	Enabled         bool    `hcl:"enabled,optional"`
	Project         string  `hcl:"project,optional"`
	Bucket          string  `hcl:"bucket,optional"`
	DriveFolder     string  `hcl:"drive_folder,optional"`
	FilePrefix      string  `hcl:"file_prefix,optional"`
	ScaleMeters     float64 `hcl:"scale_meters,optional"`
	PollInterval    string  `hcl:"poll_interval,optional"`
	Grace           string  `hcl:"grace,optional"`
	CredentialsFile string  `hcl:"credentials_file,optional"`
}

// OutputConfig names the produced files and where to publish them.
type OutputConfig struct {
	Path  string   `hcl:"path,optional"`
	CSV   string   `hcl:"csv,optional"`
	Sinks []string `hcl:"sinks,optional"`
}

// S3Config identifies the S3-compatible endpoint used by s3:// sinks.
type S3Config struct {
	Endpoint  string `hcl:"endpoint,optional"`
	Region    string `hcl:"region,optional"`
	AccessKey string `hcl:"access_key,optional"`
	SecretKey string `hcl:"secret_key,optional"`
	Secure    bool   `hcl:"secure,optional"`
}

// section captures a block body for decoding over the defaults.
type section struct {
	Body hcl.Body `hcl:",remain"`
}

type document struct {
	WorkDir         string `hcl:"work_dir,optional"`
	MetricsTextfile string `hcl:"metrics_textfile,optional"`

	Region     *section `hcl:"region,block"`
	Time       *section `hcl:"time_range,block"`
	Products   *section `hcl:"products,block"`
	Catalog    *section `hcl:"catalog,block"`
	Reanalysis *section `hcl:"reanalysis,block"`
	Merge      *section `hcl:"merge,block"`
	Export     *section `hcl:"export,block"`
	Output     *section `hcl:"output,block"`
	S3         *section `hcl:"s3,block"`
}

// Default returns the Philippines 2019-2024 configuration.
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		WorkDir: ".",
		Region:  RegionConfig{LatMin: 4, LatMax: 21, LonMin: 116, LonMax: 127},
		Time:    TimeConfig{Start: "2019-01-01", End: "2024-12-31"},
		Products: ProductsConfig{
			Margin: 1,
		},
		Catalog: CatalogConfig{
			Kind:        CatalogCMR,
			Root:        "granules",
			DownloadDir: "downloads",
			Concurrency: 4,
			RateLimit:   5,
			MaxRetries:  4,
		},
		Reanalysis: ReanalysisConfig{
			Path:         "ERA5_PH.nc",
			Reuse:        true,
			RCPath:       filepath.Join(home, ".cdsapirc"),
			PollInterval: "5s",
		},
		Merge: MergeConfig{TimeAlignment: "month"},
		Export: ExportConfig{
			DriveFolder:  "EarthEngineExports",
			FilePrefix:   "NTL_PH_2019_2024",
			ScaleMeters:  10000,
			PollInterval: "30s",
			Grace:        "0s",
		},
		Output: OutputConfig{Path: "MASTER_PH_Pollution_2019_2024.nc"},
		S3:     S3Config{Secure: true},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path uses the defaults only.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.decodeFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decodeFile(path string) error {
	parser := hclparse.NewParser()
	file, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return fmt.Errorf("failed to parse HCL file %s: %s", path, diags.Error())
	}
	ctx := evalContext()

	doc := document{WorkDir: c.WorkDir, MetricsTextfile: c.MetricsTextfile}
	if diags := gohcl.DecodeBody(file.Body, ctx, &doc); diags.HasErrors() {
		return fmt.Errorf("failed to decode HCL file %s: %s", path, diags.Error())
	}
	c.WorkDir = doc.WorkDir
	c.MetricsTextfile = doc.MetricsTextfile

	blocks := []struct {
		s   *section
		dst any
	}{
		{doc.Region, &c.Region},
		{doc.Time, &c.Time},
		{doc.Products, &c.Products},
		{doc.Catalog, &c.Catalog},
		{doc.Reanalysis, &c.Reanalysis},
		{doc.Merge, &c.Merge},
		{doc.Export, &c.Export},
		{doc.Output, &c.Output},
		{doc.S3, &c.S3},
	}
	for _, b := range blocks {
		if b.s == nil {
			continue
		}
		if diags := gohcl.DecodeBody(b.s.Body, ctx, b.dst); diags.HasErrors() {
			return fmt.Errorf("failed to decode HCL file %s: %s", path, diags.Error())
		}
	}
	return nil
}

// evalContext exposes the process environment as env.NAME.
func evalContext() *hcl.EvalContext {
	vars := make(map[string]cty.Value)
	for _, kv := range os.Environ() {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || !hclIdentifier(k) {
			continue
		}
		vars[k] = cty.StringVal(v)
	}
	env := cty.EmptyObjectVal
	if len(vars) > 0 {
		env = cty.ObjectVal(vars)
	}
	return &hcl.EvalContext{Variables: map[string]cty.Value{"env": env}}
}

func hclIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && (r >= '0' && r <= '9' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// applyEnv overrides secrets and paths from the environment.
func (c *Config) applyEnv() {
	c.WorkDir = getEnv("PIPELINE_WORK_DIR", c.WorkDir)
	c.Catalog.Token = getEnv("EARTHDATA_TOKEN", c.Catalog.Token)
	c.Reanalysis.URL = getEnv("CDS_API_URL", c.Reanalysis.URL)
	c.Reanalysis.Key = getEnv("CDS_API_KEY", c.Reanalysis.Key)
	c.Export.CredentialsFile = getEnv("GOOGLE_APPLICATION_CREDENTIALS", c.Export.CredentialsFile)
	c.Export.Project = getEnv("EE_PROJECT", c.Export.Project)
	c.S3.AccessKey = getEnv("AWS_ACCESS_KEY_ID", c.S3.AccessKey)
	c.S3.SecretKey = getEnv("AWS_SECRET_ACCESS_KEY", c.S3.SecretKey)
}

// getEnv retrieves an environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// LoadEnvFile loads KEY=VALUE pairs from path into the environment without
// overriding variables already set. A missing file is not an error.
func LoadEnvFile(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Validate checks the values that every run depends on.
func (c *Config) Validate() error {
	if err := c.DomainRegion().Validate(); err != nil {
		return fmt.Errorf("region: %w", err)
	}
	if _, err := c.TimeRange(); err != nil {
		return fmt.Errorf("time_range: %w", err)
	}
	switch c.Merge.TimeAlignment {
	case "exact", "month":
	default:
		return fmt.Errorf("merge.time_alignment must be exact or month, got %q", c.Merge.TimeAlignment)
	}
	switch c.Catalog.Kind {
	case CatalogCMR, CatalogLocal:
	default:
		return fmt.Errorf("catalog.kind must be %s or %s, got %q", CatalogCMR, CatalogLocal, c.Catalog.Kind)
	}
	if c.Output.Path == "" {
		return errors.New("output.path is required")
	}
	for _, d := range []struct {
		name, value string
	}{
		{"reanalysis.poll_interval", c.Reanalysis.PollInterval},
		{"export.poll_interval", c.Export.PollInterval},
		{"export.grace", c.Export.Grace},
	} {
		if _, err := parseDuration(d.value); err != nil {
			return fmt.Errorf("%s: %w", d.name, err)
		}
	}
	if c.Export.Enabled && c.Export.Project == "" {
		return errors.New("export.project is required when the export is enabled")
	}
	return nil
}

// DomainRegion returns the configured bounding box.
func (c *Config) DomainRegion() domain.Region {
	return domain.Region{
		LatMin: c.Region.LatMin,
		LatMax: c.Region.LatMax,
		LonMin: c.Region.LonMin,
		LonMax: c.Region.LonMax,
	}
}

// TimeRange returns the configured date range.
func (c *Config) TimeRange() (domain.TimeRange, error) {
	return domain.ParseTimeRange(c.Time.Start, c.Time.End)
}

// Duration parses one of the duration settings; empty means zero.
func Duration(s string) time.Duration {
	d, _ := parseDuration(s)
	return d
}

func parseDuration(s string) (time.Duration, error) {
	if s == "" {
		return 0, nil
	}
	return time.ParseDuration(s)
}

// Resolve returns p relative to the work directory unless it is absolute.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.WorkDir, p)
}

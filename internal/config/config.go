// Package config loads lidarfetch settings from defaults, an optional
// lidar.yaml and LIDAR_* environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"

	lidar "github.com/tingold/orb-lidar"
)

// Config holds all application configuration.
type Config struct {
	Data       DataConfig       `mapstructure:"data"`
	PDAL       PDALConfig       `mapstructure:"pdal"`
	Output     OutputConfig     `mapstructure:"output"`
	Processing ProcessingConfig `mapstructure:"processing"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Log        LogConfig        `mapstructure:"log"`
}

type DataConfig struct {
	PublicURL   string `mapstructure:"public_url"`
	CatalogPath string `mapstructure:"catalog_path"`
	DatasetEPSG int    `mapstructure:"dataset_epsg"`
}

type PDALConfig struct {
	Binary    string `mapstructure:"binary"`
	Limits    string `mapstructure:"limits"`
	Precision int    `mapstructure:"precision"`
}

type OutputConfig struct {
	Dir           string  `mapstructure:"dir"`
	WriteRasters  bool    `mapstructure:"write_rasters"`
	TIFResolution float64 `mapstructure:"tif_resolution"`
}

type ProcessingConfig struct {
	Resolution float64 `mapstructure:"resolution"`
}

type CacheConfig struct {
	Size int `mapstructure:"size"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from file and environment variables. path names
// an explicit config file; when empty, lidar.yaml is looked up in . and
// ./configs and may be absent.
func Load(path string) (*Config, error) {
	v := viper.New()

	// Defaults
	v.SetDefault("data.public_url", lidar.DefaultPublicDataURL)
	v.SetDefault("data.catalog_path", "./assets/usgs_3dep_metadata.csv")
	v.SetDefault("data.dataset_epsg", lidar.EPSGWebMercator)
	v.SetDefault("pdal.binary", "pdal")
	v.SetDefault("pdal.limits", lidar.DefaultLimits)
	v.SetDefault("pdal.precision", 8)
	v.SetDefault("output.dir", "./data")
	v.SetDefault("output.write_rasters", false)
	v.SetDefault("output.tif_resolution", 1.0)
	v.SetDefault("processing.resolution", 3.0)
	v.SetDefault("cache.size", 16)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("lidar")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config: %w", err)
			}
		}
	}

	// Environment variables: LIDAR_DATA_PUBLIC_URL → data.public_url
	v.SetEnvPrefix("LIDAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks that required configuration fields are present and sane.
func (c *Config) Validate() error {
	var errs []string

	if c.Data.PublicURL == "" {
		errs = append(errs, "data.public_url is required")
	}
	if c.Data.DatasetEPSG != lidar.EPSGWebMercator && c.Data.DatasetEPSG != lidar.EPSGWGS84 {
		errs = append(errs, fmt.Sprintf("data.dataset_epsg must be %d or %d, got %d", lidar.EPSGWebMercator, lidar.EPSGWGS84, c.Data.DatasetEPSG))
	}
	if c.PDAL.Binary == "" {
		errs = append(errs, "pdal.binary is required")
	}
	if c.PDAL.Precision < 0 {
		errs = append(errs, "pdal.precision must not be negative")
	}
	if c.Output.WriteRasters && c.Output.TIFResolution <= 0 {
		errs = append(errs, "output.tif_resolution must be positive")
	}
	if c.Processing.Resolution <= 0 {
		errs = append(errs, "processing.resolution must be positive")
	}
	if c.Cache.Size < 0 {
		errs = append(errs, "cache.size must not be negative")
	}
	if _, err := parseLevel(c.Log.Level); err != nil {
		errs = append(errs, err.Error())
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Sprintf("log.format must be text or json, got %q", c.Log.Format))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ProcessorConfig converts the settings into a lidar.ProcessorConfig.
// Rasters and point files are only written when output.write_rasters is set.
func (c *Config) ProcessorConfig() *lidar.ProcessorConfig {
	pc := &lidar.ProcessorConfig{
		PublicDataURL: c.Data.PublicURL,
		DatasetEPSG:   c.Data.DatasetEPSG,
		Limits:        c.PDAL.Limits,
		TIFResolution: c.Output.TIFResolution,
		CacheSize:     c.Cache.Size,
	}
	if c.Output.WriteRasters {
		pc.OutputDir = c.Output.Dir
	}
	return pc
}

// Logger builds the structured logger described by the log section.
func (c *Config) Logger() *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	hopts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("log.level must be debug, info, warn or error, got %q", s)
	}
	return level, nil
}

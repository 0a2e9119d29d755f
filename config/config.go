// Package config loads the geoindex configuration from a YAML file with
// GEOINDEX_* environment variable overrides.
package config

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/mycok/geoindex/query"
	"github.com/mycok/geoindex/score"
	"github.com/mycok/geoindex/store/disk"
)

// EnvPrefix prefixes every environment variable read by Load.
const EnvPrefix = "GEOINDEX_"

// Config is the top-level geoindex configuration.
type Config struct {
	Index   IndexConfig   `yaml:"index"`
	Query   QueryConfig   `yaml:"query"`
	Extract ExtractConfig `yaml:"extract"`
	Logging LoggingConfig `yaml:"logging"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// IndexConfig locates the index and tunes the disk store.
type IndexConfig struct {
	Location    string `yaml:"location"`
	BatchSize   int    `yaml:"batchSize"`
	MaxSegments int    `yaml:"maxSegments"`
}

// QueryConfig tunes the query engine and its scoring function.
type QueryConfig struct {
	DefaultMaxResults    int     `yaml:"defaultMaxResults"`
	PageSize             int     `yaml:"pageSize"`
	PopulationWeight     float64 `yaml:"populationWeight"`
	PopulationSaturation float64 `yaml:"populationSaturation"`
}

// ExtractConfig filters the entries read from GeoNames dumps.
type ExtractConfig struct {
	MinPopulation int64    `yaml:"minPopulation"`
	FeatureCodes  []string `yaml:"featureCodes"`
}

// LoggingConfig controls the level and output format of the root logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls where collected metrics are written. Metrics are
// only written when TextFile is set.
type MetricsConfig struct {
	TextFile string `yaml:"textFile"`
}

// Load reads the YAML file at path, if provided, and applies environment
// overrides on top of it. Unset values keep their defaults.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookupEnv func(string) (string, bool)) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}

		if err = yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg, lookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment overrides: %w", err)
	}

	return cfg, nil
}

// Default returns a Config holding the default value of every setting.
func Default() *Config {
	return &Config{
		Index: IndexConfig{
			Location:    "geonames-index",
			BatchSize:   disk.DefaultBatchSize,
			MaxSegments: disk.DefaultMaxSegments,
		},
		Query: QueryConfig{
			DefaultMaxResults:    query.DefaultMaxResults,
			PageSize:             query.DefaultPageSize,
			PopulationWeight:     score.DefaultWeight,
			PopulationSaturation: score.DefaultSaturation,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

func applyEnvOverrides(cfg *Config, lookupEnv func(string) (string, bool)) error {
	var err error

	str := func(name string, dst *string) {
		if v, ok := lookupEnv(EnvPrefix + name); ok && v != "" {
			*dst = v
		}
	}

	integer := func(name string, dst *int) {
		v, ok := lookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			return
		}

		n, pErr := strconv.Atoi(v)
		if pErr != nil {
			err = multierror.Append(err, fmt.Errorf("%s%s: %w", EnvPrefix, name, pErr))

			return
		}
		*dst = n
	}

	float := func(name string, dst *float64) {
		v, ok := lookupEnv(EnvPrefix + name)
		if !ok || v == "" {
			return
		}

		f, pErr := strconv.ParseFloat(v, 64)
		if pErr != nil {
			err = multierror.Append(err, fmt.Errorf("%s%s: %w", EnvPrefix, name, pErr))

			return
		}
		*dst = f
	}

	str("INDEX_LOCATION", &cfg.Index.Location)
	integer("INDEX_BATCH_SIZE", &cfg.Index.BatchSize)
	integer("INDEX_MAX_SEGMENTS", &cfg.Index.MaxSegments)
	integer("QUERY_DEFAULT_MAX_RESULTS", &cfg.Query.DefaultMaxResults)
	integer("QUERY_PAGE_SIZE", &cfg.Query.PageSize)
	float("QUERY_POPULATION_WEIGHT", &cfg.Query.PopulationWeight)
	float("QUERY_POPULATION_SATURATION", &cfg.Query.PopulationSaturation)
	str("LOGGING_LEVEL", &cfg.Logging.Level)
	str("LOGGING_FORMAT", &cfg.Logging.Format)
	str("METRICS_TEXT_FILE", &cfg.Metrics.TextFile)

	if v, ok := lookupEnv(EnvPrefix + "EXTRACT_MIN_POPULATION"); ok && v != "" {
		n, pErr := strconv.ParseInt(v, 10, 64)
		if pErr != nil {
			err = multierror.Append(err, fmt.Errorf("%sEXTRACT_MIN_POPULATION: %w", EnvPrefix, pErr))
		} else {
			cfg.Extract.MinPopulation = n
		}
	}

	if v, ok := lookupEnv(EnvPrefix + "EXTRACT_FEATURE_CODES"); ok && v != "" {
		cfg.Extract.FeatureCodes = strings.Split(v, ",")
	}

	return err
}

// Validate reports every invalid setting at once.
func (cfg *Config) Validate() error {
	var err error

	if strings.TrimSpace(cfg.Index.Location) == "" {
		err = multierror.Append(err, fmt.Errorf("index location not provided"))
	}

	if cfg.Index.BatchSize <= 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for index batch size, must be > 0"))
	}

	if cfg.Query.DefaultMaxResults <= 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for default max results, must be > 0"))
	}

	if cfg.Query.PageSize <= 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for query page size, must be > 0"))
	}

	if cfg.Query.PopulationWeight < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for population weight, must be >= 0"))
	}

	if cfg.Query.PopulationSaturation < 1 {
		err = multierror.Append(err, fmt.Errorf("invalid value for population saturation, must be >= 1"))
	}

	if cfg.Extract.MinPopulation < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for min population, must be >= 0"))
	}

	if _, lErr := logrus.ParseLevel(cfg.Logging.Level); lErr != nil {
		err = multierror.Append(err, fmt.Errorf("invalid logging level: %w", lErr))
	}

	switch cfg.Logging.Format {
	case "json", "text":
	default:
		err = multierror.Append(err, fmt.Errorf("unsupported logging format %q, must be json or text", cfg.Logging.Format))
	}

	return err
}

// Scoring returns the scoring function configured by the query settings.
func (cfg *Config) Scoring() score.PopulationBoost {
	return score.PopulationBoost{
		Weight:     cfg.Query.PopulationWeight,
		Saturation: cfg.Query.PopulationSaturation,
	}
}

// NewLogger returns the root logger described by cfg, writing to out.
func (cfg LoggingConfig) NewLogger(out io.Writer) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("logging level: %w", err)
	}

	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetLevel(level)

	switch cfg.Format {
	case "json":
		logger.SetFormatter(new(logrus.JSONFormatter))
	case "text":
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, fmt.Errorf("unsupported logging format %q", cfg.Format)
	}

	return logger, nil
}

package query

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/mycok/geoindex/index"
	"github.com/mycok/geoindex/metrics"
	"github.com/mycok/geoindex/score"
)

const (
	// DefaultMaxResults is the result cap used by QueryMultiple when none
	// is configured.
	DefaultMaxResults = 10

	// DefaultPageSize is the number of text hits fetched per search request.
	DefaultPageSize = 100
)

// Config defines the configuration for an Engine.
type Config struct {
	// The store holding the index to query.
	Store index.Store

	// The store location queried by the engine.
	Location string

	// Blends the text relevance of a hit with its population. If not
	// specified, score.Rank is used.
	ScoreFunc score.Func

	// Upper bound of ScoreFunc(base, pop) / base over all populations. It
	// lets the engine stop scanning hits once no remaining one can make it
	// into the results. Zero disables the early stop unless ScoreFunc is
	// unset, in which case the bound of score.Rank is used.
	MaxLift float64

	// Result cap used by QueryMultiple. Defaults to DefaultMaxResults.
	DefaultMaxResults int

	// Number of hits fetched per search request. Defaults to
	// DefaultPageSize.
	PageSize int

	// A clock instance used for timing queries. If not specified, the
	// default wall-clock will be used instead.
	Clock clock.Clock

	// Optional collectors for query outcomes.
	Metrics *metrics.Metrics

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error

	if cfg.Store == nil {
		err = multierror.Append(err, fmt.Errorf("index store not provided"))
	}

	if cfg.Location == "" {
		err = multierror.Append(err, fmt.Errorf("index location not provided"))
	}

	if cfg.ScoreFunc == nil {
		cfg.ScoreFunc = score.Rank
		if cfg.MaxLift == 0 {
			cfg.MaxLift = 1 + score.DefaultWeight
		}
	}

	if cfg.MaxLift != 0 && cfg.MaxLift < 1 {
		err = multierror.Append(err, fmt.Errorf("invalid value for max lift, must be >= 1"))
	}

	if cfg.DefaultMaxResults == 0 {
		cfg.DefaultMaxResults = DefaultMaxResults
	} else if cfg.DefaultMaxResults < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for default max results, must be > 0"))
	}

	if cfg.PageSize == 0 {
		cfg.PageSize = DefaultPageSize
	} else if cfg.PageSize < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for page size, must be > 0"))
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}

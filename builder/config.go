package builder

import (
	"fmt"
	"io"

	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/mycok/geoindex/index"
	"github.com/mycok/geoindex/metrics"
)

// Config defines the configuration for a Builder.
type Config struct {
	// The store that receives the indexed documents.
	Store index.Store

	// The store location populated by the builder.
	Location string

	// A clock instance used for timing builds. If not specified, the
	// default wall-clock will be used instead.
	Clock clock.Clock

	// Optional collectors for build outcomes.
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

	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}

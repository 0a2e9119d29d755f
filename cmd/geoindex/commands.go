package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/mycok/geoindex/builder"
	"github.com/mycok/geoindex/config"
	"github.com/mycok/geoindex/geonames"
	"github.com/mycok/geoindex/index"
	"github.com/mycok/geoindex/metrics"
	"github.com/mycok/geoindex/query"
	"github.com/mycok/geoindex/store/disk"
)

// errReported marks failures that were already described to the user.
var errReported = errors.New("error reported")

// env holds the components shared by all commands.
type env struct {
	cfg      *config.Config
	logger   *logrus.Entry
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	store    *disk.DiskStore
}

func setup(appCtx *cli.Context) (*env, error) {
	cfg, err := config.Load(appCtx.String("config"))
	if err != nil {
		return nil, err
	}

	if loc := appCtx.String("location"); loc != "" {
		cfg.Index.Location = loc
	}

	if err = cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	l, err := cfg.Logging.NewLogger(appCtx.App.ErrWriter)
	if err != nil {
		return nil, err
	}
	logger := rootLogger(appCtx, l)

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store, err := disk.NewDiskStore(disk.Config{
		BatchSize:   cfg.Index.BatchSize,
		MaxSegments: cfg.Index.MaxSegments,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}

	return &env{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		store:    store,
	}, nil
}

// flushMetrics writes the collected metrics to the configured text file,
// if any, for pickup by the node exporter.
func (e *env) flushMetrics() {
	path := e.cfg.Metrics.TextFile
	if path == "" {
		return
	}

	if err := prometheus.WriteToTextfile(path, e.registry); err != nil {
		e.logger.WithFields(logrus.Fields{
			"err":  err,
			"path": path,
		}).Warn("unable to write metrics")
	}
}

// signalContext returns a context that is cancelled on SIGINT or SIGTERM.
func signalContext(appCtx *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(appCtx.Context, os.Interrupt, syscall.SIGTERM)
}

func runBuild(appCtx *cli.Context) error {
	path := appCtx.Args().First()
	if path == "" {
		return fmt.Errorf("a GeoNames dump file must be specified")
	}

	e, err := setup(appCtx)
	if err != nil {
		return err
	}
	defer e.flushMetrics()

	extractor, err := geonames.NewExtractor(geonames.Config{
		MinPopulation: e.cfg.Extract.MinPopulation,
		FeatureCodes:  e.cfg.Extract.FeatureCodes,
		Logger:        e.logger,
	})
	if err != nil {
		return err
	}

	b, err := builder.New(builder.Config{
		Store:    e.store,
		Location: e.cfg.Index.Location,
		Metrics:  e.metrics,
		Logger:   e.logger,
	})
	if err != nil {
		return err
	}

	mode := index.ModeCreate
	if appCtx.Bool("append") {
		mode = index.ModeAppend
	}

	ctx, cancelFn := signalContext(appCtx)
	defer cancelFn()

	progress := func(percent int) error {
		e.logger.WithField("percent", percent).Info("build progress")

		return nil
	}

	if err = b.BuildFromStream(ctx, path, extractor, mode, progress); err != nil {
		return err
	}

	_, _ = fmt.Fprintf(appCtx.App.Writer, "Indexed %s into %s.\n", path, e.cfg.Index.Location)

	return nil
}

func runQuery(appCtx *cli.Context) error {
	text := strings.Join(appCtx.Args().Slice(), " ")

	e, err := setup(appCtx)
	if err != nil {
		return err
	}
	defer e.flushMetrics()

	scoring := e.cfg.Scoring()
	engine, err := query.NewEngine(query.Config{
		Store:             e.store,
		Location:          e.cfg.Index.Location,
		ScoreFunc:         scoring.Score,
		MaxLift:           1 + scoring.Weight,
		DefaultMaxResults: e.cfg.Query.DefaultMaxResults,
		PageSize:          e.cfg.Query.PageSize,
		Metrics:           e.metrics,
		Logger:            e.logger,
	})
	if err != nil {
		return err
	}

	ctx, cancelFn := signalContext(appCtx)
	defer cancelFn()

	var results []*index.Entry
	if n := appCtx.Int("max-results"); n > 0 {
		results, err = engine.Query(ctx, text, n)
	} else {
		results, err = engine.QueryMultiple(ctx, text)
	}

	out := appCtx.App.Writer
	if err != nil {
		e.logger.WithFields(logrus.Fields{
			"err":   err,
			"query": text,
		}).Error("query failed")

		_, _ = fmt.Fprintf(out,
			"Could not query GeoNames resource with query: %s\nMessage: %s\nCheck the logs for more details.\n",
			text, err,
		)

		return errReported
	}

	if len(results) == 0 {
		_, _ = fmt.Fprintln(out, "No results.")

		return nil
	}

	for _, r := range results {
		_, _ = fmt.Fprintf(out, "%-30s | %-10s | %-10d | %-2.3f | %-2.3f\n",
			r.Name(), r.FeatureCode(), r.Population(), r.Boost(), r.Score(),
		)
	}

	return nil
}

func runCompact(appCtx *cli.Context) error {
	e, err := setup(appCtx)
	if err != nil {
		return err
	}
	defer e.flushMetrics()

	if err = e.store.Compact(e.cfg.Index.Location); err != nil {
		return err
	}

	e.logger.WithField("location", e.cfg.Index.Location).Info("index compacted")

	return nil
}

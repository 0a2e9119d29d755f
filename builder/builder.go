// Package builder populates a gazetteer index store transactionally. Every
// ingestion call either commits all of its entries or leaves the store
// exactly as it was before the call.
package builder

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mycok/geoindex/index"
	"github.com/mycok/geoindex/metrics"
)

// Builder ingests gazetteer entries into the configured store location.
type Builder struct {
	cfg Config
}

// New creates and returns a fully configured Builder instance.
func New(cfg Config) (*Builder, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("builder: config validation failed: %w", err)
	}

	return &Builder{cfg: cfg}, nil
}

// BuildFromList indexes entries in a single session. onProgress, if not nil,
// receives every multiple of 5 below 100 as the share of indexed entries
// reaches it and a final 100 once all entries are written. With no entries
// only the final 100 is reported.
//
// A write failure, a progress callback error or a cancelled ctx rolls back
// everything written by the call and is returned wrapped in
// index.ErrBuildFailure.
func (b *Builder) BuildFromList(ctx context.Context, entries []*index.Entry, mode index.Mode, onProgress index.ProgressFunc) error {
	logger := b.cfg.Logger.WithFields(logrus.Fields{
		"location": b.cfg.Location,
		"mode":     mode.String(),
		"entries":  len(entries),
	})

	return b.run(logger, mode, func(sess *session) error {
		progress := newMilestones(len(entries), onProgress)

		for _, e := range entries {
			if err := ctx.Err(); err != nil {
				return err
			}

			if err := sess.add(e); err != nil {
				return err
			}

			if err := progress.advance(sess.added); err != nil {
				return fmt.Errorf("progress callback: %w", err)
			}
		}

		if err := progress.complete(); err != nil {
			return fmt.Errorf("progress callback: %w", err)
		}

		return nil
	})
}

// BuildFromStream indexes every entry that producer extracts from sourceID
// in a single session. Progress reported by the producer is forwarded to
// onProgress unchanged.
//
// An extraction failure, a write failure, a progress callback error or a
// cancelled ctx rolls back everything written by the call before the session
// is released, and is returned wrapped in index.ErrBuildFailure.
func (b *Builder) BuildFromStream(ctx context.Context, sourceID string, producer index.Producer, mode index.Mode, onProgress index.ProgressFunc) error {
	if producer == nil {
		return fmt.Errorf("%w: nil producer", index.ErrBuildFailure)
	}

	logger := b.cfg.Logger.WithFields(logrus.Fields{
		"location": b.cfg.Location,
		"mode":     mode.String(),
		"source":   sourceID,
	})

	return b.run(logger, mode, func(sess *session) error {
		sink := &sessionSink{ctx: ctx, sess: sess, onProgress: onProgress}

		if err := producer.Produce(sourceID, sink); err != nil {
			return err
		}

		// A producer that swallowed a sink error must not get its partial
		// batch committed.
		return sink.err
	})
}

// run opens a session, hands it to fill and then commits it, or rolls it
// back if fill fails.
func (b *Builder) run(logger *logrus.Entry, mode index.Mode, fill func(*session) error) error {
	start := b.cfg.Clock.Now()
	logger.Debug("starting index build")

	sess, err := openSession(b.cfg.Store, b.cfg.Location, mode)
	if err != nil {
		b.cfg.Metrics.ObserveBuild(mode.String(), metrics.OutcomeRolledBack, 0, b.since(start))
		logger.WithField("err", err).Error("unable to open index writer")

		return fmt.Errorf("%w: %w", index.ErrBuildFailure, err)
	}

	if err = fill(sess); err != nil {
		err = sess.abort(err)
	} else {
		err = sess.commit()
	}

	took := b.since(start)
	logger = logger.WithFields(logrus.Fields{
		"indexed":  sess.added,
		"duration": took.String(),
	})

	if err != nil {
		b.cfg.Metrics.ObserveBuild(mode.String(), metrics.OutcomeRolledBack, sess.added, took)
		logger.WithField("err", err).Error("index build rolled back")

		return fmt.Errorf("%w: %w", index.ErrBuildFailure, err)
	}

	b.cfg.Metrics.ObserveBuild(mode.String(), metrics.OutcomeCommitted, sess.added, took)
	logger.Info("index build committed")

	return nil
}

func (b *Builder) since(start time.Time) time.Duration {
	return b.cfg.Clock.Now().Sub(start)
}

// sessionSink adapts a session to the index.Sink consumed by producers. It
// remembers the first error it returned.
type sessionSink struct {
	ctx        context.Context
	sess       *session
	onProgress index.ProgressFunc
	err        error
}

func (s *sessionSink) Record(e *index.Entry) error {
	if s.err != nil {
		return s.err
	}

	if err := s.ctx.Err(); err != nil {
		s.err = err

		return err
	}

	if err := s.sess.add(e); err != nil {
		s.err = err

		return err
	}

	return nil
}

func (s *sessionSink) Progress(percent int) error {
	if s.err != nil {
		return s.err
	}

	if s.onProgress == nil {
		return nil
	}

	if err := s.onProgress(percent); err != nil {
		s.err = fmt.Errorf("progress callback: %w", err)

		return s.err
	}

	return nil
}

// Package disk provides a durable, directory-backed index.Store.
//
// A location holds a set of immutable segments, each one a self-contained
// bleve index, plus a manifest naming the segments that form the committed
// state. Writer sessions build a brand-new private segment and publish it by
// atomically switching the manifest on Close, so readers only ever observe
// fully committed sessions and a crash at any point leaves the previous state
// intact.
//
// At most one writer session (or compaction) may be active against a location
// at any time. This is a caller discipline and is not enforced here.
package disk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/juju/clock"
	"github.com/sirupsen/logrus"

	"github.com/mycok/geoindex/index"
	"github.com/mycok/geoindex/metrics"
)

// Static and compile-time check to ensure DiskStore implements index.Store.
var _ index.Store = (*DiskStore)(nil)

const (
	// DefaultBatchSize is the number of documents buffered by a writer
	// session before they are flushed to its segment.
	DefaultBatchSize = 1000

	// DefaultMaxSegments is the number of segments a location may hold
	// before they are compacted into one.
	DefaultMaxSegments = 8
)

// Config defines the configuration for a DiskStore.
type Config struct {
	// Number of documents flushed to a segment at once.
	BatchSize int

	// Segment count above which a commit triggers a compaction. Zero selects
	// DefaultMaxSegments; a negative value disables automatic compaction.
	MaxSegments int

	// A clock instance for stamping manifests. If not specified, the
	// default wall-clock will be used instead.
	Clock clock.Clock

	// Optional collectors for compaction events.
	Metrics *metrics.Metrics

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error

	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	} else if cfg.BatchSize < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for batch size, must be > 0"))
	}

	if cfg.MaxSegments == 0 {
		cfg.MaxSegments = DefaultMaxSegments
	}

	if cfg.Clock == nil {
		cfg.Clock = clock.WallClock
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}

// DiskStore is an index.Store implementation that persists segments of
// bleve indexes under a directory.
type DiskStore struct {
	cfg Config
}

// NewDiskStore validates cfg and returns a DiskStore.
func NewDiskStore(cfg Config) (*DiskStore, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("disk store: config validation failed: %w", err)
	}

	return &DiskStore{cfg: cfg}, nil
}

// Exists reports whether a committed index lives at location.
func (s *DiskStore) Exists(location string) (bool, error) {
	_, err := loadManifest(location)
	switch {
	case errors.Is(err, errNoManifest):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("exists: %w", err)
	}

	return true, nil
}

// OpenWriter starts a writer session that builds a new segment under
// location. In ModeCreate the location directory is created if needed; in
// ModeAppend it must already hold a committed index.
func (s *DiskStore) OpenWriter(location string, mode index.Mode) (index.Writer, error) {
	if location == "" {
		return nil, fmt.Errorf("open writer: %w: empty location", index.ErrStoreOpen)
	}

	switch mode {
	case index.ModeCreate:
		if err := os.MkdirAll(location, 0o755); err != nil {
			return nil, fmt.Errorf("open writer: %w: %w", index.ErrStoreOpen, err)
		}
	case index.ModeAppend:
		if _, err := loadManifest(location); err != nil {
			return nil, fmt.Errorf("open writer: %w: %q: %w", index.ErrStoreOpen, location, err)
		}
	default:
		return nil, fmt.Errorf("open writer: %w: unknown mode %d", index.ErrStoreOpen, mode)
	}

	segName, idx, err := s.newSegment(location)
	if err != nil {
		return nil, fmt.Errorf("open writer: %w: %w", index.ErrStoreOpen, err)
	}

	return &writer{
		store:    s,
		location: location,
		mode:     mode,
		segName:  segName,
		idx:      idx,
		batch:    idx.NewBatch(),
	}, nil
}

// OpenSnapshot opens every segment of the committed state of location.
func (s *DiskStore) OpenSnapshot(location string) (index.Snapshot, error) {
	m, err := loadManifest(location)
	if errors.Is(err, errNoManifest) {
		return nil, fmt.Errorf("open snapshot: %w: %q", index.ErrNoSuchIndex, location)
	} else if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}

	snap, err := openCommitted(location, m)
	if err != nil {
		return nil, fmt.Errorf("open snapshot: %w", err)
	}

	return snap, nil
}

// openCommitted opens the segments listed by m. A commit that lands between
// reading m and opening its segments may already have removed some of them;
// in that case the snapshot is opened once more from the newer manifest.
func openCommitted(location string, m *manifest) (*snapshot, error) {
	snap, err := openSnapshot(location, m)
	if err == nil {
		return snap, nil
	}

	latest, lErr := loadManifest(location)
	if lErr != nil || latest.Generation == m.Generation {
		return nil, err
	}

	return openSnapshot(location, latest)
}

// Compact merges all segments of location into a single one.
func (s *DiskStore) Compact(location string) error {
	m, err := loadManifest(location)
	if errors.Is(err, errNoManifest) {
		return fmt.Errorf("compact: %w: %q", index.ErrNoSuchIndex, location)
	} else if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	return s.compact(location, m)
}

func (s *DiskStore) newSegment(location string) (string, bleve.Index, error) {
	m, err := index.NewMapping()
	if err != nil {
		return "", nil, err
	}

	name := segmentPrefix + uuid.New().String()
	idx, err := bleve.New(filepath.Join(location, name), m)
	if err != nil {
		return "", nil, fmt.Errorf("create segment: %w", err)
	}

	return name, idx, nil
}

// publish makes next the committed state of location. Once the manifest
// switch succeeded the commit is final; later failures are only logged.
func (s *DiskStore) publish(location string, next *manifest) error {
	switched, err := saveManifest(location, next)
	if err != nil && !switched {
		return err
	}

	logger := s.cfg.Logger.WithFields(logrus.Fields{
		"location":   location,
		"generation": next.Generation,
		"segments":   len(next.Segments),
	})

	if err != nil {
		logger.WithField("err", err).Warn("manifest switched but directory sync failed")
	}

	if gcErr := collectGarbage(location, next); gcErr != nil {
		logger.WithField("err", gcErr).Warn("unable to remove stale segments")
	}

	logger.Debug("committed manifest")

	return nil
}

// afterCommit compacts location when its segment count exceeds the
// configured limit. The commit that triggered it is already durable, so a
// failed compaction is logged and never reported to the writer.
func (s *DiskStore) afterCommit(location string, m *manifest) {
	if s.cfg.MaxSegments < 0 || len(m.Segments) <= s.cfg.MaxSegments {
		return
	}

	if err := s.compact(location, m); err != nil {
		s.cfg.Logger.WithFields(logrus.Fields{
			"location": location,
			"err":      err,
		}).Error("automatic segment compaction failed")
	}
}

func (s *DiskStore) compact(location string, m *manifest) error {
	if len(m.Segments) <= 1 {
		return nil
	}

	start := s.cfg.Clock.Now()

	segName, idx, err := s.newSegment(location)
	if err != nil {
		return fmt.Errorf("compact: %w", err)
	}

	discard := func(cause error) error {
		if idx != nil {
			if cErr := idx.Close(); cErr != nil {
				cause = multierror.Append(cause, cErr)
			}
		}

		if rmErr := os.RemoveAll(filepath.Join(location, segName)); rmErr != nil {
			cause = multierror.Append(cause, rmErr)
		}

		return fmt.Errorf("compact: %w", cause)
	}

	snap, err := openSnapshot(location, m)
	if err != nil {
		return discard(err)
	}

	docCount, err := copyDocuments(context.Background(), snap, idx, s.cfg.BatchSize)
	if cErr := snap.Close(); cErr != nil && err == nil {
		err = cErr
	}
	if err != nil {
		return discard(err)
	}

	err = idx.Close()
	idx = nil
	if err != nil {
		return discard(err)
	}

	next := &manifest{
		Generation:  m.Generation + 1,
		Segments:    []segmentInfo{{Name: segName, DocCount: docCount}},
		CommittedAt: s.cfg.Clock.Now().UTC(),
	}
	if err = s.publish(location, next); err != nil {
		return discard(err)
	}

	s.cfg.Metrics.ObserveCompaction()
	s.cfg.Logger.WithFields(logrus.Fields{
		"location": location,
		"merged":   len(m.Segments),
		"docs":     docCount,
		"took":     s.cfg.Clock.Now().Sub(start).String(),
	}).Info("compacted index segments")

	return nil
}

// copyDocuments writes every document visible in snap to dst.
func copyDocuments(ctx context.Context, snap index.Snapshot, dst bleve.Index, batchSize int) (uint64, error) {
	var (
		count uint64
		batch = dst.NewBatch()
		it    = newDocIterator(ctx, snap, batchSize)
	)
	defer func() { _ = it.Close() }()

	for it.Next() {
		doc := it.Document()
		if err := batch.Index(doc.ID, index.BleveFields(doc)); err != nil {
			return 0, err
		}
		count++

		if batch.Size() >= batchSize {
			if err := dst.Batch(batch); err != nil {
				return 0, err
			}
			batch.Reset()
		}
	}

	if err := it.Error(); err != nil {
		return 0, err
	}

	if batch.Size() > 0 {
		if err := dst.Batch(batch); err != nil {
			return 0, err
		}
	}

	return count, nil
}

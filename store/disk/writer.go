package disk

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/hashicorp/go-multierror"

	"github.com/mycok/geoindex/index"
)

// Static and compile-time check to ensure writer implements index.Writer.
var _ index.Writer = (*writer)(nil)

type writerState uint8

const (
	writerOpen writerState = iota
	writerCommitted
	writerRolledBack
)

// writer fills a private segment. The segment is only referenced by the
// manifest once Close succeeds.
type writer struct {
	store    *DiskStore
	location string
	mode     index.Mode
	segName  string
	idx      bleve.Index
	batch    *bleve.Batch
	docCount uint64
	state    writerState
}

// Index adds doc to the pending batch, flushing the batch to the segment
// once it reaches the configured size.
func (w *writer) Index(doc *index.Document) error {
	if w.state != writerOpen {
		return fmt.Errorf("index: %w", index.ErrSessionClosed)
	}

	if doc == nil {
		return fmt.Errorf("index: nil document")
	}

	if err := w.batch.Index(doc.ID, index.BleveFields(doc)); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	w.docCount++

	if w.batch.Size() >= w.store.cfg.BatchSize {
		return w.flush()
	}

	return nil
}

// Rollback deletes the private segment. The committed state of the
// location is untouched.
func (w *writer) Rollback() error {
	if w.state != writerOpen {
		return fmt.Errorf("rollback: %w", index.ErrSessionClosed)
	}

	w.state = writerRolledBack
	if err := w.discard(); err != nil {
		return fmt.Errorf("rollback: %w", err)
	}

	return nil
}

// Close commits the session unless it was rolled back. A failed commit is
// rolled back before Close returns; if that fails too, both errors are
// reported.
func (w *writer) Close() error {
	if w.state != writerOpen {
		return nil
	}

	next, err := w.commit()
	if err != nil {
		w.state = writerRolledBack
		if dErr := w.discard(); dErr != nil {
			err = multierror.Append(err, fmt.Errorf("rollback: %w", dErr))
		}

		return err
	}

	w.state = writerCommitted
	if next != nil {
		w.store.afterCommit(w.location, next)
	}

	return nil
}

func (w *writer) flush() error {
	if w.batch.Size() == 0 {
		return nil
	}

	if err := w.idx.Batch(w.batch); err != nil {
		return fmt.Errorf("flush batch: %w", err)
	}
	w.batch.Reset()

	return nil
}

// commit publishes the segment and returns the new manifest. It returns a
// nil manifest when an append session had nothing to add.
func (w *writer) commit() (*manifest, error) {
	if err := w.flush(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	err := w.idx.Close()
	w.idx = nil
	if err != nil {
		return nil, fmt.Errorf("commit: close segment: %w", err)
	}

	prev, err := loadManifest(w.location)
	switch {
	case err == nil:
	case w.mode == index.ModeCreate:
		// Anything unreadable is replaced by a create commit.
		prev = &manifest{}
		if !errors.Is(err, errNoManifest) {
			w.store.cfg.Logger.WithField("err", err).Warn("replacing unreadable manifest")
		}
	default:
		return nil, fmt.Errorf("commit: %w", err)
	}

	if w.mode == index.ModeAppend && w.docCount == 0 {
		if err = os.RemoveAll(w.segPath()); err != nil {
			w.store.cfg.Logger.WithField("err", err).Warn("unable to remove empty segment")
		}

		return nil, nil
	}

	next := &manifest{
		Generation:  prev.Generation + 1,
		CommittedAt: w.store.cfg.Clock.Now().UTC(),
	}
	if w.mode == index.ModeAppend {
		next.Segments = append(next.Segments, prev.Segments...)
	}
	next.Segments = append(next.Segments, segmentInfo{Name: w.segName, DocCount: w.docCount})

	if err = w.store.publish(w.location, next); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	return next, nil
}

// discard closes and deletes the private segment.
func (w *writer) discard() error {
	var err error

	if w.idx != nil {
		if cErr := w.idx.Close(); cErr != nil {
			err = multierror.Append(err, cErr)
		}
		w.idx = nil
	}

	if rmErr := os.RemoveAll(w.segPath()); rmErr != nil {
		err = multierror.Append(err, rmErr)
	}

	return err
}

func (w *writer) segPath() string {
	return filepath.Join(w.location, w.segName)
}

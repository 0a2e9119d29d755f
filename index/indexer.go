package index

import (
	"context"

	"github.com/blevesearch/bleve/v2"
)

//go:generate mockgen -package mock_index -destination mocks/mock.go github.com/mycok/geoindex/index Store,Writer,Snapshot,Producer,Sink

// Mode controls what happens to the existing content of a store location
// when a writer session commits.
type Mode uint8

const (
	// ModeCreate replaces any prior content of the location.
	ModeCreate Mode = iota

	// ModeAppend preserves prior content and adds to it. The location must
	// already hold an index.
	ModeAppend
)

// String returns the name of the mode.
func (m Mode) String() string {
	switch m {
	case ModeCreate:
		return "create"
	case ModeAppend:
		return "append"
	default:
		return "unknown"
	}
}

// Store should be implemented by objects that persist an inverted index over
// gazetteer documents at a location.
//
// At most one writer session may be open against a location at any time.
// This is a caller discipline and is not enforced by implementations.
type Store interface {
	// Exists reports whether a committed index lives at location.
	Exists(location string) (bool, error)

	// OpenWriter starts a new writer session against location. It fails
	// with ErrStoreOpen if the location is inaccessible or, for
	// ModeAppend, does not hold an index.
	OpenWriter(location string, mode Mode) (Writer, error)

	// OpenSnapshot returns a read view of the last committed state at
	// location. It fails with ErrNoSuchIndex if nothing was committed there.
	OpenSnapshot(location string) (Snapshot, error)
}

// Writer should be implemented by objects that represent a single ingestion
// session. Documents written through a session become visible to readers
// only when the session is closed without having been rolled back.
type Writer interface {
	// Index adds a document to the pending batch of the session.
	Index(doc *Document) error

	// Rollback discards every document written through the session.
	Rollback() error

	// Close commits the pending batch, unless the session was rolled back,
	// and releases all resources held by the session.
	Close() error
}

// Snapshot should be implemented by objects that provide a point-in-time
// read view of a store.
type Snapshot interface {
	// Search executes req against the snapshot. Term statistics are
	// computed over the whole snapshot, so the score of a document does not
	// depend on how the store partitions its data.
	Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error)

	// DocCount returns the number of documents visible in the snapshot.
	DocCount() (uint64, error)

	// Close releases any resources held by the snapshot.
	Close() error
}

// Sink receives the messages emitted by a Producer. A non-nil error returned
// by either method must stop the producer.
type Sink interface {
	// Record hands over the next extracted entry.
	Record(e *Entry) error

	// Progress reports the producer's own completion percentage.
	Progress(percent int) error
}

// Producer should be implemented by objects that extract entries from a
// source and push them, one at a time, to a sink.
type Producer interface {
	// Produce extracts every entry of sourceID into sink. It returns the
	// first error encountered, including errors returned by sink.
	Produce(sourceID string, sink Sink) error
}

// ProgressFunc receives ingestion progress as a percentage. A non-nil error
// aborts the ingestion call.
type ProgressFunc func(percent int) error

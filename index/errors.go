package index

import "errors"

var (
	// ErrStoreOpen is returned when a store location is inaccessible or,
	// when appending, does not hold a valid index.
	ErrStoreOpen = errors.New("unable to open index store")

	// ErrBuildFailure is returned when an ingestion call fails. The batch
	// written by that call is rolled back before the error is returned.
	ErrBuildFailure = errors.New("index build failed")

	// ErrInvalidQuery is returned for blank query text or a non-positive
	// result limit.
	ErrInvalidQuery = errors.New("invalid query")

	// ErrNoSuchIndex is returned when querying a location that holds no index.
	ErrNoSuchIndex = errors.New("no index at location")

	// ErrQueryParse is returned when the query text is malformed.
	ErrQueryParse = errors.New("malformed query")

	// ErrQueryExecution is returned when reading the index fails while
	// executing a query.
	ErrQueryExecution = errors.New("query execution failed")

	// ErrInvalidEntry is returned when an entry violates its invariants.
	ErrInvalidEntry = errors.New("invalid entry")

	// ErrExtraction is returned by producers that fail to extract entries
	// from their source.
	ErrExtraction = errors.New("entry extraction failed")

	// ErrSessionClosed is returned when a writer is used after it has been
	// committed or rolled back.
	ErrSessionClosed = errors.New("writer session already closed")
)

package disk

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/hashicorp/go-multierror"

	"github.com/mycok/geoindex/index"
)

// Static and compile-time check to ensure snapshot implements index.Snapshot.
var _ index.Snapshot = (*snapshot)(nil)

// snapshot searches the segments listed by one manifest through a bleve
// index alias. Scoring statistics are gathered across all segments before
// each search, so appending a segment does not skew relevance.
type snapshot struct {
	alias    bleve.IndexAlias
	segments []bleve.Index
}

func openSnapshot(location string, m *manifest) (*snapshot, error) {
	im, err := index.NewMapping()
	if err != nil {
		return nil, err
	}

	segments := make([]bleve.Index, 0, len(m.Segments))
	closeAll := func() {
		for _, opened := range segments {
			_ = opened.Close()
		}
	}

	for _, seg := range m.Segments {
		idx, err := bleve.OpenUsing(
			filepath.Join(location, seg.Name),
			map[string]interface{}{"read_only": true},
		)
		if err != nil {
			closeAll()

			return nil, fmt.Errorf("open segment %s: %w", seg.Name, err)
		}

		segments = append(segments, idx)
	}

	alias := bleve.NewIndexAlias(segments...)
	if err = alias.SetIndexMapping(im); err != nil {
		closeAll()

		return nil, fmt.Errorf("set alias mapping: %w", err)
	}

	return &snapshot{
		alias:    alias,
		segments: segments,
	}, nil
}

func (s *snapshot) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	return s.alias.SearchInContext(context.WithValue(ctx, search.SearchTypeKey, search.GlobalScoring), req)
}

func (s *snapshot) DocCount() (uint64, error) {
	return s.alias.DocCount()
}

func (s *snapshot) Close() error {
	var err error
	for _, idx := range s.segments {
		if cErr := idx.Close(); cErr != nil {
			err = multierror.Append(err, cErr)
		}
	}
	s.segments = nil

	return err
}

// docIterator walks every document of a snapshot in document ID order, one
// page at a time.
type docIterator struct {
	ctx  context.Context
	snap index.Snapshot
	// Search request reused for every page; SearchAfter moves the cursor.
	searchReq *bleve.SearchRequest
	// Current page of results.
	searchRes *bleve.SearchResult
	// Position in the current page.
	searchResIdx int
	doc          *index.Document
	exhausted    bool
	// Last error encountered by the iterator.
	lastErr error
}

func newDocIterator(ctx context.Context, snap index.Snapshot, pageSize int) *docIterator {
	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), pageSize, 0, false)
	req.Fields = index.StoredFields
	req.SortBy([]string{"_id"})

	return &docIterator{ctx: ctx, snap: snap, searchReq: req}
}

// Next loads the next document, returns false when no more documents are
// available or when an error occurs.
func (i *docIterator) Next() bool {
	if i.lastErr != nil || i.exhausted {
		return false
	}

	if i.searchRes == nil || i.searchResIdx >= len(i.searchRes.Hits) {
		if i.searchRes != nil {
			hits := i.searchRes.Hits
			if len(hits) < i.searchReq.Size {
				i.exhausted = true

				return false
			}

			i.searchReq.SearchAfter = []string{hits[len(hits)-1].ID}
		}

		i.searchRes, i.lastErr = i.snap.Search(i.ctx, i.searchReq)
		if i.lastErr != nil {
			return false
		}

		i.searchResIdx = 0
		if len(i.searchRes.Hits) == 0 {
			i.exhausted = true

			return false
		}
	}

	hit := i.searchRes.Hits[i.searchResIdx]
	i.doc, i.lastErr = index.DocumentFromFields(hit.ID, hit.Fields)
	if i.lastErr != nil {
		return false
	}

	i.searchResIdx++

	return true
}

// Document returns the current document.
func (i *docIterator) Document() *index.Document {
	return i.doc
}

// Error returns the last error encountered by the iterator.
func (i *docIterator) Error() error {
	return i.lastErr
}

// Close releases the page held by the iterator. The snapshot is owned by the
// caller.
func (i *docIterator) Close() error {
	i.searchReq = nil
	i.searchRes = nil
	i.exhausted = true

	return nil
}

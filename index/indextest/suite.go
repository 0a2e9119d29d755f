package indextest

import (
	"context"
	"errors"
	"sort"

	"github.com/blevesearch/bleve/v2"
	check "gopkg.in/check.v1"

	"github.com/mycok/geoindex/index"
)

// BaseSuite defines a set of re-usable store related tests that can be
// executed against any concrete type that implements the index.Store interface.
type BaseSuite struct {
	store    index.Store
	location string
}

// SetStore sets the store under test.
func (s *BaseSuite) SetStore(store index.Store) {
	s.store = store
}

// SetLocation sets the location used by the next test. Implementations
// should hand out a fresh location for every test.
func (s *BaseSuite) SetLocation(location string) {
	s.location = location
}

// TestExists verifies that a location only exists once a session committed.
func (s *BaseSuite) TestExists(c *check.C) {
	exists, err := s.store.Exists(s.location)
	c.Assert(err, check.IsNil)
	c.Assert(exists, check.Equals, false)

	w, err := s.store.OpenWriter(s.location, index.ModeCreate)
	c.Assert(err, check.IsNil)
	c.Assert(w.Index(makeDoc(c, "Phoenix", 1_000_000)), check.IsNil)

	exists, err = s.store.Exists(s.location)
	c.Assert(err, check.IsNil)
	c.Assert(exists, check.Equals, false, check.Commentf("uncommitted session made the location visible"))

	c.Assert(w.Close(), check.IsNil)

	exists, err = s.store.Exists(s.location)
	c.Assert(err, check.IsNil)
	c.Assert(exists, check.Equals, true)
}

// TestAppendWithoutIndex verifies that appending requires an existing index.
func (s *BaseSuite) TestAppendWithoutIndex(c *check.C) {
	_, err := s.store.OpenWriter(s.location, index.ModeAppend)
	c.Assert(errors.Is(err, index.ErrStoreOpen), check.Equals, true, check.Commentf("got %v", err))
}

// TestSnapshotWithoutIndex verifies that reading a never-built location fails.
func (s *BaseSuite) TestSnapshotWithoutIndex(c *check.C) {
	_, err := s.store.OpenSnapshot(s.location)
	c.Assert(errors.Is(err, index.ErrNoSuchIndex), check.Equals, true, check.Commentf("got %v", err))
}

// TestRoundTrip verifies that every stored field can be read back.
func (s *BaseSuite) TestRoundTrip(c *check.C) {
	docs := []*index.Document{
		makeDoc(c, "Phoenix", 1_000_000),
		makeDoc(c, "Tempe", 10_000_000),
		makeDoc(c, "Glendale", 0),
	}
	s.commit(c, index.ModeCreate, docs...)

	got := s.allDocs(c)
	c.Assert(got, check.HasLen, len(docs))

	sortDocs(docs)
	for i, doc := range docs {
		c.Assert(got[i], check.DeepEquals, doc)
	}
}

// TestCreateReplacesContent verifies that a create session wipes prior
// content on commit.
func (s *BaseSuite) TestCreateReplacesContent(c *check.C) {
	s.commit(c, index.ModeCreate, makeDoc(c, "Phoenix", 1), makeDoc(c, "Tempe", 2))
	s.commit(c, index.ModeCreate, makeDoc(c, "Glendale", 3))

	got := s.allDocs(c)
	c.Assert(got, check.HasLen, 1)
	c.Assert(got[0].Name, check.Equals, "Glendale")
}

// TestAppendPreservesContent verifies that successive append sessions add up.
func (s *BaseSuite) TestAppendPreservesContent(c *check.C) {
	s.commit(c, index.ModeCreate, makeDoc(c, "Phoenix", 1), makeDoc(c, "Tempe", 2))
	s.commit(c, index.ModeAppend, makeDoc(c, "Glendale", 3))
	s.commit(c, index.ModeAppend, makeDoc(c, "Mesa", 4), makeDoc(c, "Chandler", 5))
	s.commit(c, index.ModeAppend)

	c.Assert(s.docCount(c), check.Equals, uint64(5))
}

// TestRollback verifies that rolled back sessions leave no trace.
func (s *BaseSuite) TestRollback(c *check.C) {
	s.commit(c, index.ModeCreate, makeDoc(c, "Phoenix", 1), makeDoc(c, "Tempe", 2))

	for _, mode := range []index.Mode{index.ModeAppend, index.ModeCreate} {
		w, err := s.store.OpenWriter(s.location, mode)
		c.Assert(err, check.IsNil)
		c.Assert(w.Index(makeDoc(c, "Glendale", 3)), check.IsNil)
		c.Assert(w.Index(makeDoc(c, "Mesa", 4)), check.IsNil)

		c.Assert(w.Rollback(), check.IsNil)
		c.Assert(w.Close(), check.IsNil)

		c.Assert(s.docCount(c), check.Equals, uint64(2), check.Commentf("mode %s", mode))
	}

	// The location stays usable after a rollback.
	s.commit(c, index.ModeAppend, makeDoc(c, "Glendale", 3))
	c.Assert(s.docCount(c), check.Equals, uint64(3))
}

// TestPendingWritesInvisible verifies snapshot isolation from an open session.
func (s *BaseSuite) TestPendingWritesInvisible(c *check.C) {
	s.commit(c, index.ModeCreate, makeDoc(c, "Phoenix", 1))

	w, err := s.store.OpenWriter(s.location, index.ModeAppend)
	c.Assert(err, check.IsNil)
	c.Assert(w.Index(makeDoc(c, "Tempe", 2)), check.IsNil)

	c.Assert(s.docCount(c), check.Equals, uint64(1))

	c.Assert(w.Close(), check.IsNil)
	c.Assert(s.docCount(c), check.Equals, uint64(2))
}

// TestEmptyCreate verifies that an empty create session yields an existing,
// empty index.
func (s *BaseSuite) TestEmptyCreate(c *check.C) {
	s.commit(c, index.ModeCreate)

	exists, err := s.store.Exists(s.location)
	c.Assert(err, check.IsNil)
	c.Assert(exists, check.Equals, true)
	c.Assert(s.docCount(c), check.Equals, uint64(0))
}

// TestClosedSession verifies that a finished session rejects further use.
func (s *BaseSuite) TestClosedSession(c *check.C) {
	w, err := s.store.OpenWriter(s.location, index.ModeCreate)
	c.Assert(err, check.IsNil)
	c.Assert(w.Close(), check.IsNil)

	err = w.Index(makeDoc(c, "Phoenix", 1))
	c.Assert(errors.Is(err, index.ErrSessionClosed), check.Equals, true)

	err = w.Rollback()
	c.Assert(errors.Is(err, index.ErrSessionClosed), check.Equals, true)

	// Closing twice is harmless.
	c.Assert(w.Close(), check.IsNil)
}

// TestAnalyzedFields verifies case and diacritic folding of the text fields.
func (s *BaseSuite) TestAnalyzedFields(c *check.C) {
	zurich := makeDoc(c, "Zürich", 400_000)
	zurich.FeatureCode = "PPLA"
	s.commit(c, index.ModeCreate, zurich, makeDoc(c, "Bern", 130_000))

	snap, err := s.store.OpenSnapshot(s.location)
	c.Assert(err, check.IsNil)
	defer func() { c.Assert(snap.Close(), check.IsNil) }()

	for _, q := range []string{"zurich", "ZÜRICH", "name:zurich", "feature_code:ppla"} {
		query, err := bleve.NewQueryStringQuery(q).Parse()
		c.Assert(err, check.IsNil)

		req := bleve.NewSearchRequest(query)
		req.Fields = []string{index.FieldName}
		res, err := snap.Search(context.TODO(), req)
		c.Assert(err, check.IsNil)
		c.Assert(res.Hits, check.HasLen, 1, check.Commentf("query %q", q))
		c.Assert(res.Hits[0].Fields[index.FieldName], check.Equals, "Zürich")
	}
}

func (s *BaseSuite) commit(c *check.C, mode index.Mode, docs ...*index.Document) {
	w, err := s.store.OpenWriter(s.location, mode)
	c.Assert(err, check.IsNil)

	for _, doc := range docs {
		c.Assert(w.Index(doc), check.IsNil)
	}

	c.Assert(w.Close(), check.IsNil)
}

func (s *BaseSuite) docCount(c *check.C) uint64 {
	snap, err := s.store.OpenSnapshot(s.location)
	c.Assert(err, check.IsNil)
	defer func() { c.Assert(snap.Close(), check.IsNil) }()

	count, err := snap.DocCount()
	c.Assert(err, check.IsNil)

	return count
}

func (s *BaseSuite) allDocs(c *check.C) []*index.Document {
	snap, err := s.store.OpenSnapshot(s.location)
	c.Assert(err, check.IsNil)
	defer func() { c.Assert(snap.Close(), check.IsNil) }()

	req := bleve.NewSearchRequestOptions(bleve.NewMatchAllQuery(), 100, 0, false)
	req.Fields = index.StoredFields
	req.SortBy([]string{"_id"})

	res, err := snap.Search(context.TODO(), req)
	c.Assert(err, check.IsNil)

	docs := make([]*index.Document, 0, len(res.Hits))
	for _, hit := range res.Hits {
		doc, err := index.DocumentFromFields(hit.ID, hit.Fields)
		c.Assert(err, check.IsNil)
		docs = append(docs, doc)
	}

	return docs
}

func makeDoc(c *check.C, name string, population int64) *index.Document {
	e, err := index.NewEntry(index.EntryFields{
		Name:           name,
		Latitude:       33.45,
		Longitude:      -112.07,
		FeatureCode:    "PPL",
		Population:     population,
		AlternateNames: "alt1,alt2",
	})
	c.Assert(err, check.IsNil)

	return index.NewDocument(e)
}

func sortDocs(docs []*index.Document) {
	sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
}

package query

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search"
	"github.com/golang/mock/gomock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	check "gopkg.in/check.v1"

	"github.com/mycok/geoindex/builder"
	"github.com/mycok/geoindex/index"
	mock_index "github.com/mycok/geoindex/index/mocks"
	"github.com/mycok/geoindex/metrics"
	"github.com/mycok/geoindex/score"
	"github.com/mycok/geoindex/store/disk"
	"github.com/mycok/geoindex/store/memory"
)

var _ = check.Suite(new(ConfigTestSuite))
var _ = check.Suite(new(EngineTestSuite))
var _ = check.Suite(new(EngineFaultTestSuite))

func Test(t *testing.T) {
	check.TestingT(t)
}

const testLocation = "gazetteer"

type ConfigTestSuite struct{}

func (s *ConfigTestSuite) TestConfigValidation(c *check.C) {
	originalConfig := Config{
		Store:    memory.NewInMemoryStore(),
		Location: testLocation,
	}

	config := originalConfig
	c.Assert(config.validate(), check.IsNil)
	c.Assert(config.ScoreFunc, check.Not(check.IsNil), check.Commentf("default score func was not assigned"))
	c.Assert(config.MaxLift, check.Equals, 1+score.DefaultWeight)
	c.Assert(config.DefaultMaxResults, check.Equals, DefaultMaxResults)
	c.Assert(config.PageSize, check.Equals, DefaultPageSize)
	c.Assert(config.Clock, check.Not(check.IsNil), check.Commentf("default clock was not assigned"))
	c.Assert(config.Logger, check.Not(check.IsNil), check.Commentf("default logger was not assigned"))

	config = originalConfig
	config.ScoreFunc = func(base float64, _ int64) float64 { return base }
	c.Assert(config.validate(), check.IsNil)
	c.Assert(config.MaxLift, check.Equals, 0.0, check.Commentf("custom score func must not inherit the default bound"))

	config = originalConfig
	config.Store = nil
	c.Assert(config.validate(), check.ErrorMatches, "(?ms).*index store not provided.*")

	config = originalConfig
	config.Location = ""
	c.Assert(config.validate(), check.ErrorMatches, "(?ms).*index location not provided.*")

	config = originalConfig
	config.MaxLift = 0.5
	c.Assert(config.validate(), check.ErrorMatches, "(?ms).*invalid value for max lift.*")

	config = originalConfig
	config.DefaultMaxResults = -1
	c.Assert(config.validate(), check.ErrorMatches, "(?ms).*invalid value for default max results.*")

	config = originalConfig
	config.PageSize = -1
	c.Assert(config.validate(), check.ErrorMatches, "(?ms).*invalid value for page size.*")
}

// EngineTestSuite runs queries against a real in-memory store.
type EngineTestSuite struct {
	store   *memory.InMemoryStore
	metrics *metrics.Metrics
}

func (s *EngineTestSuite) SetUpTest(c *check.C) {
	s.store = memory.NewInMemoryStore()
	s.metrics = metrics.New(prometheus.NewRegistry())
}

func (s *EngineTestSuite) TearDownTest(c *check.C) {
	c.Assert(s.store.Close(), check.IsNil)
}

func (s *EngineTestSuite) TestInvalidQuery(c *check.C) {
	s.build(c, index.ModeCreate, entry(c, "Phoenix", 1))
	engine := s.engine(c, Config{})

	specs := []struct {
		text string
		max  int
	}{
		{"", 10},
		{"   \t", 10},
		{"phoenix", 0},
		{"phoenix", -1},
		{"", -1},
	}

	for _, spec := range specs {
		_, err := engine.Query(context.TODO(), spec.text, spec.max)
		c.Assert(errors.Is(err, index.ErrInvalidQuery), check.Equals, true, check.Commentf("%q/%d", spec.text, spec.max))
	}

	c.Assert(testutil.ToFloat64(s.metrics.QueriesTotal.WithLabelValues(metrics.ResultError)), check.Equals, float64(len(specs)))
}

func (s *EngineTestSuite) TestNoSuchIndex(c *check.C) {
	_, err := s.engine(c, Config{}).QueryMultiple(context.TODO(), "phoenix")
	c.Assert(errors.Is(err, index.ErrNoSuchIndex), check.Equals, true)
}

func (s *EngineTestSuite) TestParseError(c *check.C) {
	s.build(c, index.ModeCreate, entry(c, "Phoenix", 1))

	_, err := s.engine(c, Config{}).QueryMultiple(context.TODO(), "^")
	c.Assert(errors.Is(err, index.ErrQueryParse), check.Equals, true, check.Commentf("got %v", err))
}

func (s *EngineTestSuite) TestPopulationBreaksTextTies(c *check.C) {
	phoenix := entry(c, "Phoenix", 1_000_000)
	tempe := entry(c, "Tempe", 10_000_000)
	s.build(c, index.ModeCreate, phoenix, tempe)

	// Both places share the feature code term and score the same on it.
	res, err := s.engine(c, Config{}).QueryMultiple(context.TODO(), "feature_code:PPL")
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, 2)
	c.Assert(res[0].Name(), check.Equals, "Tempe")
	c.Assert(res[1].Name(), check.Equals, "Phoenix")
	c.Assert(res[0].Score() > res[1].Score(), check.Equals, true)

	// Only Phoenix matches its name.
	res, err = s.engine(c, Config{}).QueryMultiple(context.TODO(), "phoenix")
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, 1)
	c.Assert(res[0].Name(), check.Equals, "Phoenix")
}

func (s *EngineTestSuite) TestEqualNamesRankedByPopulation(c *check.C) {
	s.build(c, index.ModeCreate,
		entry(c, "Phoenix", 1_000),
		entry(c, "Phoenix", 1_000_000),
		entry(c, "Phoenix", 0),
	)

	res, err := s.engine(c, Config{}).QueryMultiple(context.TODO(), "phoenix")
	c.Assert(err, check.IsNil)
	c.Assert(populations(res), check.DeepEquals, []int64{1_000_000, 1_000, 0})
}

func (s *EngineTestSuite) TestTextMatchBeatsPopulation(c *check.C) {
	s.build(c, index.ModeCreate,
		entry(c, "Phoenix Lake Village Park", 900_000_000),
		entry(c, "Phoenix", 0),
	)

	res, err := s.engine(c, Config{}).QueryMultiple(context.TODO(), "phoenix")
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, 2)
	c.Assert(res[0].Name(), check.Equals, "Phoenix")
}

func (s *EngineTestSuite) TestEmptyIndex(c *check.C) {
	s.build(c, index.ModeCreate)

	res, err := s.engine(c, Config{}).QueryMultiple(context.TODO(), "anything")
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, 0)
	c.Assert(testutil.ToFloat64(s.metrics.QueriesTotal.WithLabelValues(metrics.ResultEmpty)), check.Equals, 1.0)
}

func (s *EngineTestSuite) TestFieldRoundTrip(c *check.C) {
	in, err := index.NewEntry(index.EntryFields{
		Name:           "Glendale",
		Latitude:       33.53865,
		Longitude:      -112.18599,
		FeatureCode:    "PPL",
		Population:     248_325,
		AlternateNames: "Glendale AZ,GLN",
		Boost:          4,
	})
	c.Assert(err, check.IsNil)
	s.build(c, index.ModeCreate, in, entry(c, "Peoria", 190_985))

	res, err := s.engine(c, Config{}).Query(context.TODO(), "glendale", 5)
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, 1)

	out := res[0]
	c.Assert(out.Name(), check.Equals, in.Name())
	c.Assert(out.Latitude(), check.Equals, in.Latitude())
	c.Assert(out.Longitude(), check.Equals, in.Longitude())
	c.Assert(out.FeatureCode(), check.Equals, in.FeatureCode())
	c.Assert(out.Population(), check.Equals, in.Population())
	c.Assert(out.AlternateNames(), check.Equals, "")
	c.Assert(out.Boost(), check.Equals, index.DefaultBoost)
	c.Assert(out.Score() > 0, check.Equals, true)

	// Alternate names are never searchable.
	res, err = s.engine(c, Config{}).QueryMultiple(context.TODO(), "GLN")
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, 0)
}

func (s *EngineTestSuite) TestAllMatchesReturned(c *check.C) {
	entries := make([]*index.Entry, 0, 15)
	for i := 0; i < 15; i++ {
		entries = append(entries, entry(c, "Springfield", int64(i)))
	}
	s.build(c, index.ModeCreate, entries...)

	engine := s.engine(c, Config{PageSize: 4})

	res, err := engine.Query(context.TODO(), "springfield", 100)
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, 15)

	res, err = engine.Query(context.TODO(), "springfield", 5)
	c.Assert(err, check.IsNil)
	c.Assert(populations(res), check.DeepEquals, []int64{14, 13, 12, 11, 10})

	res, err = engine.QueryMultiple(context.TODO(), "springfield")
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, DefaultMaxResults)

	res, err = s.engine(c, Config{DefaultMaxResults: 3}).QueryMultiple(context.TODO(), "springfield")
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, 3)
}

func (s *EngineTestSuite) TestQuerySyntax(c *check.C) {
	s.build(c, index.ModeCreate,
		entryWithCode(c, "Zürich", "PPLA", 400_000),
		entryWithCode(c, "Bern", "PPLC", 130_000),
		entryWithCode(c, "Basel", "PPLA", 170_000),
	)
	engine := s.engine(c, Config{})

	specs := []struct {
		text string
		exp  []string
	}{
		{"zurich", []string{"Zürich"}},
		{"ZÜRICH", []string{"Zürich"}},
		{"name:bern", []string{"Bern"}},
		{"feature_code:pplc", []string{"Bern"}},
		{"+feature_code:ppla -zurich", []string{"Basel"}},
		{"berm~1", []string{"Bern"}},
		{"bern basel", []string{"Basel", "Bern"}},
	}

	for _, spec := range specs {
		res, err := engine.QueryMultiple(context.TODO(), spec.text)
		c.Assert(err, check.IsNil, check.Commentf("query %q", spec.text))
		c.Assert(names(res), check.DeepEquals, spec.exp, check.Commentf("query %q", spec.text))
	}
}

func (s *EngineTestSuite) TestCustomScoreFunc(c *check.C) {
	s.build(c, index.ModeCreate,
		entry(c, "Phoenix", 5),
		entry(c, "Phoenix Lake Village Park", 50),
	)

	engine := s.engine(c, Config{
		ScoreFunc: func(_ float64, population int64) float64 { return float64(population) },
	})

	res, err := engine.QueryMultiple(context.TODO(), "phoenix")
	c.Assert(err, check.IsNil)
	c.Assert(populations(res), check.DeepEquals, []int64{50, 5})
	c.Assert(res[0].Score(), check.Equals, 50.0)
}

func (s *EngineTestSuite) TestEarlyStop(c *check.C) {
	entries := make([]*index.Entry, 0, 40)
	for i := 0; i < 40; i++ {
		name := "Phoenix" + strings.Repeat(" x", i)
		entries = append(entries, entry(c, name, int64(1000*i)))
	}
	s.build(c, index.ModeCreate, entries...)

	pruned := &countingStore{Store: s.store}
	res, err := s.engine(c, Config{Store: pruned, PageSize: 2}).Query(context.TODO(), "phoenix", 3)
	c.Assert(err, check.IsNil)

	full := &countingStore{Store: s.store}
	exp, err := s.engine(c, Config{
		Store:     full,
		PageSize:  2,
		ScoreFunc: score.Rank,
	}).Query(context.TODO(), "phoenix", 3)
	c.Assert(err, check.IsNil)

	c.Assert(names(res), check.DeepEquals, names(exp))
	c.Assert(full.searches, check.Equals, 20)
	c.Assert(pruned.searches < full.searches, check.Equals, true, check.Commentf("%d searches", pruned.searches))
}

func (s *EngineTestSuite) TestCancelledContext(c *check.C) {
	s.build(c, index.ModeCreate, entry(c, "Phoenix", 1))

	ctx, cancel := context.WithCancel(context.TODO())
	cancel()

	_, err := s.engine(c, Config{}).QueryMultiple(ctx, "phoenix")
	c.Assert(errors.Is(err, index.ErrQueryExecution), check.Equals, true)
	c.Assert(errors.Is(err, context.Canceled), check.Equals, true)
}

func (s *EngineTestSuite) TestDiskStoreRoundTrip(c *check.C) {
	store, err := disk.NewDiskStore(disk.Config{})
	c.Assert(err, check.IsNil)
	location := filepath.Join(c.MkDir(), "gazetteer")

	b, err := builder.New(builder.Config{Store: store, Location: location})
	c.Assert(err, check.IsNil)

	first := []*index.Entry{entry(c, "Springfield", 1), entry(c, "Springfield", 2)}
	second := []*index.Entry{entry(c, "Springfield", 3), entry(c, "Shelbyville", 4), entry(c, "Springfield", 5)}
	c.Assert(b.BuildFromList(context.TODO(), first, index.ModeCreate, nil), check.IsNil)
	c.Assert(b.BuildFromList(context.TODO(), second, index.ModeAppend, nil), check.IsNil)

	engine, err := NewEngine(Config{Store: store, Location: location})
	c.Assert(err, check.IsNil)

	res, err := engine.Query(context.TODO(), "springfield", 10)
	c.Assert(err, check.IsNil)
	c.Assert(populations(res), check.DeepEquals, []int64{5, 3, 2, 1})

	res, err = engine.Query(context.TODO(), "springfield shelbyville", 10)
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, 5)
}

func (s *EngineTestSuite) TestAppendedSegmentDoesNotSkewRanking(c *check.C) {
	store, err := disk.NewDiskStore(disk.Config{MaxSegments: -1})
	c.Assert(err, check.IsNil)
	location := filepath.Join(c.MkDir(), "gazetteer")

	b, err := builder.New(builder.Config{Store: store, Location: location})
	c.Assert(err, check.IsNil)

	// The first segment holds many unrelated entries so that its term
	// statistics differ from those of the small appended segment.
	first := []*index.Entry{entry(c, "Phoenix", 100)}
	for i := 0; i < 30; i++ {
		first = append(first, entry(c, fmt.Sprintf("Town%02d", i), int64(1000+i)))
	}
	c.Assert(b.BuildFromList(context.TODO(), first, index.ModeCreate, nil), check.IsNil)
	c.Assert(b.BuildFromList(context.TODO(), []*index.Entry{entry(c, "Phoenix", 5000000)}, index.ModeAppend, nil), check.IsNil)

	engine, err := NewEngine(Config{Store: store, Location: location})
	c.Assert(err, check.IsNil)

	res, err := engine.QueryMultiple(context.TODO(), "phoenix")
	c.Assert(err, check.IsNil)
	c.Assert(populations(res), check.DeepEquals, []int64{5000000, 100})
	c.Assert(res[0].Score() > res[1].Score(), check.Equals, true)

	c.Assert(store.Compact(location), check.IsNil)

	res, err = engine.QueryMultiple(context.TODO(), "phoenix")
	c.Assert(err, check.IsNil)
	c.Assert(populations(res), check.DeepEquals, []int64{5000000, 100})
}

func (s *EngineTestSuite) TestTiesKeepInsertionOrder(c *check.C) {
	var twins []*index.Entry
	for i := 0; i < 20; i++ {
		twins = append(twins, entryAt(c, "Springfield", float64(i)))
	}
	s.build(c, index.ModeCreate, twins...)

	res, err := s.engine(c, Config{}).Query(context.TODO(), "springfield", 20)
	c.Assert(err, check.IsNil)
	c.Assert(latitudes(res), check.DeepEquals, latitudes(twins))

	store, err := disk.NewDiskStore(disk.Config{MaxSegments: -1})
	c.Assert(err, check.IsNil)
	location := filepath.Join(c.MkDir(), "gazetteer")

	b, err := builder.New(builder.Config{Store: store, Location: location})
	c.Assert(err, check.IsNil)
	c.Assert(b.BuildFromList(context.TODO(), twins[:10], index.ModeCreate, nil), check.IsNil)
	c.Assert(b.BuildFromList(context.TODO(), twins[10:], index.ModeAppend, nil), check.IsNil)

	engine, err := NewEngine(Config{Store: store, Location: location})
	c.Assert(err, check.IsNil)

	res, err = engine.Query(context.TODO(), "springfield", 5)
	c.Assert(err, check.IsNil)
	c.Assert(latitudes(res), check.DeepEquals, latitudes(twins[:5]))

	c.Assert(store.Compact(location), check.IsNil)

	res, err = engine.Query(context.TODO(), "springfield", 20)
	c.Assert(err, check.IsNil)
	c.Assert(latitudes(res), check.DeepEquals, latitudes(twins))
}

func (s *EngineTestSuite) build(c *check.C, mode index.Mode, entries ...*index.Entry) {
	b, err := builder.New(builder.Config{Store: s.store, Location: testLocation})
	c.Assert(err, check.IsNil)
	c.Assert(b.BuildFromList(context.TODO(), entries, mode, nil), check.IsNil)
}

func (s *EngineTestSuite) engine(c *check.C, cfg Config) *Engine {
	if cfg.Store == nil {
		cfg.Store = s.store
	}
	cfg.Location = testLocation
	cfg.Metrics = s.metrics

	engine, err := NewEngine(cfg)
	c.Assert(err, check.IsNil)

	return engine
}

// EngineFaultTestSuite injects storage failures through mocks.
type EngineFaultTestSuite struct{}

func (s *EngineFaultTestSuite) TestInvalidQueryDoesNotTouchStorage(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	engine := s.engine(c, mock_index.NewMockStore(ctrl))

	_, err := engine.Query(context.TODO(), " ", 3)
	c.Assert(errors.Is(err, index.ErrInvalidQuery), check.Equals, true)
}

func (s *EngineFaultTestSuite) TestSnapshotOpenFailure(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	errIO := errors.New("input/output error")
	store := mock_index.NewMockStore(ctrl)
	store.EXPECT().OpenSnapshot(testLocation).Return(nil, errIO)

	_, err := s.engine(c, store).QueryMultiple(context.TODO(), "phoenix")
	c.Assert(errors.Is(err, index.ErrQueryExecution), check.Equals, true)
	c.Assert(errors.Is(err, errIO), check.Equals, true)
}

func (s *EngineFaultTestSuite) TestSearchFailure(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	errIO := errors.New("segment read failed")
	store := mock_index.NewMockStore(ctrl)
	snap := mock_index.NewMockSnapshot(ctrl)
	store.EXPECT().OpenSnapshot(testLocation).Return(snap, nil)
	snap.EXPECT().Search(gomock.Any(), gomock.Any()).Return(nil, errIO)
	snap.EXPECT().Close().Return(nil)

	_, err := s.engine(c, store).QueryMultiple(context.TODO(), "phoenix")
	c.Assert(errors.Is(err, index.ErrQueryExecution), check.Equals, true)
	c.Assert(errors.Is(err, errIO), check.Equals, true)
}

func (s *EngineFaultTestSuite) TestMissingStoredField(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	store := mock_index.NewMockStore(ctrl)
	snap := mock_index.NewMockSnapshot(ctrl)
	store.EXPECT().OpenSnapshot(testLocation).Return(snap, nil)
	snap.EXPECT().Search(gomock.Any(), gomock.Any()).Return(&bleve.SearchResult{
		Total: 1,
		Hits: search.DocumentMatchCollection{
			{ID: "doc-1", Score: 1, Fields: map[string]interface{}{index.FieldName: "Phoenix"}},
		},
	}, nil)
	snap.EXPECT().Close().Return(nil)

	_, err := s.engine(c, store).QueryMultiple(context.TODO(), "phoenix")
	c.Assert(errors.Is(err, index.ErrQueryExecution), check.Equals, true)
	c.Assert(err, check.ErrorMatches, `.*missing stored field "population".*`)
}

func (s *EngineFaultTestSuite) TestSearchRequestShape(c *check.C) {
	ctrl := gomock.NewController(c)
	defer ctrl.Finish()

	store := mock_index.NewMockStore(ctrl)
	snap := mock_index.NewMockSnapshot(ctrl)
	store.EXPECT().OpenSnapshot(testLocation).Return(snap, nil)
	snap.EXPECT().Search(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
		c.Assert(req.Size, check.Equals, DefaultPageSize)
		c.Assert(req.From, check.Equals, 0)
		c.Assert(req.Fields, check.DeepEquals, index.StoredFields)
		c.Assert(req.Sort, check.HasLen, 2)

		return &bleve.SearchResult{}, nil
	})
	snap.EXPECT().Close().Return(nil)

	res, err := s.engine(c, store).QueryMultiple(context.TODO(), "phoenix")
	c.Assert(err, check.IsNil)
	c.Assert(res, check.HasLen, 0)
}

func (s *EngineFaultTestSuite) engine(c *check.C, store index.Store) *Engine {
	engine, err := NewEngine(Config{Store: store, Location: testLocation})
	c.Assert(err, check.IsNil)

	return engine
}

// countingStore counts the search requests issued through its snapshots.
type countingStore struct {
	index.Store
	searches int
}

func (s *countingStore) OpenSnapshot(location string) (index.Snapshot, error) {
	snap, err := s.Store.OpenSnapshot(location)
	if err != nil {
		return nil, err
	}

	return &countingSnapshot{Snapshot: snap, store: s}, nil
}

type countingSnapshot struct {
	index.Snapshot
	store *countingStore
}

func (s *countingSnapshot) Search(ctx context.Context, req *bleve.SearchRequest) (*bleve.SearchResult, error) {
	s.store.searches++

	return s.Snapshot.Search(ctx, req)
}

func entry(c *check.C, name string, population int64) *index.Entry {
	return entryWithCode(c, name, "PPL", population)
}

func entryWithCode(c *check.C, name, featureCode string, population int64) *index.Entry {
	e, err := index.NewEntry(index.EntryFields{
		Name:        name,
		Latitude:    33.45,
		Longitude:   -112.07,
		FeatureCode: featureCode,
		Population:  population,
	})
	c.Assert(err, check.IsNil)

	return e
}

func entryAt(c *check.C, name string, latitude float64) *index.Entry {
	e, err := index.NewEntry(index.EntryFields{
		Name:        name,
		Latitude:    latitude,
		Longitude:   -112.07,
		FeatureCode: "PPL",
		Population:  1000,
	})
	c.Assert(err, check.IsNil)

	return e
}

func names(entries []*index.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Name())
	}

	return out
}

func populations(entries []*index.Entry) []int64 {
	out := make([]int64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Population())
	}

	return out
}

func latitudes(entries []*index.Entry) []float64 {
	out := make([]float64, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Latitude())
	}

	return out
}

// Package query runs ranked place searches against a gazetteer index.
//
// Text relevance is computed by bleve over the analyzed name and feature code
// fields. Every text hit is then re-scored with a population-aware scoring
// function and only the best hits are materialized.
package query

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/blevesearch/bleve/v2"
	blevequery "github.com/blevesearch/bleve/v2/search/query"
	"github.com/sirupsen/logrus"

	"github.com/mycok/geoindex/index"
)

// Engine executes queries against a single store location.
type Engine struct {
	cfg Config
}

// NewEngine creates and returns a fully configured Engine instance.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("query engine: config validation failed: %w", err)
	}

	return &Engine{cfg: cfg}, nil
}

// QueryMultiple runs Query with the configured default result cap.
func (e *Engine) QueryMultiple(ctx context.Context, text string) ([]*index.Entry, error) {
	return e.Query(ctx, text, e.cfg.DefaultMaxResults)
}

// Query returns at most maxResults entries matching text, ordered by
// descending final score. Entries with equal final scores keep their text
// match order.
//
// text uses the bleve query string syntax; unqualified terms match the name
// and feature code fields. The returned error wraps index.ErrInvalidQuery,
// index.ErrNoSuchIndex, index.ErrQueryParse or index.ErrQueryExecution.
func (e *Engine) Query(ctx context.Context, text string, maxResults int) ([]*index.Entry, error) {
	start := e.cfg.Clock.Now()

	results, err := e.query(ctx, text, maxResults)

	took := e.cfg.Clock.Now().Sub(start)
	e.cfg.Metrics.ObserveQuery(len(results), err, took)

	logger := e.cfg.Logger.WithFields(logrus.Fields{
		"query":       text,
		"max_results": maxResults,
		"results":     len(results),
		"took":        took.String(),
	})
	if err != nil {
		logger.WithField("err", err).Warn("query failed")

		return nil, err
	}
	logger.Debug("query completed")

	return results, nil
}

func (e *Engine) query(ctx context.Context, text string, maxResults int) ([]*index.Entry, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: blank query text", index.ErrInvalidQuery)
	}

	if maxResults < 1 {
		return nil, fmt.Errorf("%w: max results %d, must be >= 1", index.ErrInvalidQuery, maxResults)
	}

	snap, err := e.cfg.Store.OpenSnapshot(e.cfg.Location)
	if err != nil {
		if errors.Is(err, index.ErrNoSuchIndex) {
			return nil, err
		}

		return nil, fmt.Errorf("%w: %w", index.ErrQueryExecution, err)
	}
	defer func() {
		if cErr := snap.Close(); cErr != nil {
			e.cfg.Logger.WithField("err", cErr).Warn("unable to release index snapshot")
		}
	}()

	q, err := bleve.NewQueryStringQuery(text).Parse()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %w", index.ErrQueryParse, text, err)
	}

	top, err := e.rank(ctx, snap, q, maxResults)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", index.ErrQueryExecution, err)
	}

	ranked := top.sorted()
	results := make([]*index.Entry, 0, len(ranked))
	for _, r := range ranked {
		doc, err := index.DocumentFromFields(r.hit.ID, r.hit.Fields)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", index.ErrQueryExecution, err)
		}

		entry, err := index.EntryFromDocument(doc, r.final)
		if err != nil {
			return nil, fmt.Errorf("%w: document %s: %w", index.ErrQueryExecution, r.hit.ID, err)
		}

		results = append(results, entry)
	}

	return results, nil
}

// rank pages through the text hits of q, best text match first, and keeps
// the maxResults hits with the highest final score.
func (e *Engine) rank(ctx context.Context, snap index.Snapshot, q blevequery.Query, maxResults int) (*topHits, error) {
	var (
		top     = newTopHits(maxResults)
		ordinal int
	)

	for from := 0; ; from += e.cfg.PageSize {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := bleve.NewSearchRequestOptions(q, e.cfg.PageSize, from, false)
		req.Fields = index.StoredFields
		req.SortBy([]string{"-_score", "_id"})

		res, err := snap.Search(ctx, req)
		if err != nil {
			return nil, err
		}

		for _, hit := range res.Hits {
			// Hits arrive in descending base score order, so once the best
			// possible final score of a hit cannot displace the worst kept
			// one, no later hit can either.
			if e.cfg.MaxLift > 0 && top.full() && hit.Score*e.cfg.MaxLift < top.worst().final {
				return top, nil
			}

			population, ok := hit.Fields[index.FieldPopulation].(float64)
			if !ok {
				return nil, fmt.Errorf("document %s: missing stored field %q", hit.ID, index.FieldPopulation)
			}

			top.offer(rankedHit{
				hit:     hit,
				final:   e.cfg.ScoreFunc(hit.Score, int64(population)),
				ordinal: ordinal,
			})
			ordinal++
		}

		if len(res.Hits) < e.cfg.PageSize || uint64(from+len(res.Hits)) >= res.Total {
			return top, nil
		}
	}
}

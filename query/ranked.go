package query

import (
	"container/heap"

	"github.com/blevesearch/bleve/v2/search"
)

// rankedHit is a text hit together with its final score. ordinal is the
// position of the hit in text-match order and breaks ties between equal
// final scores.
type rankedHit struct {
	hit     *search.DocumentMatch
	final   float64
	ordinal int
}

// ranksBelow reports whether h sorts after other in the result list.
func (h rankedHit) ranksBelow(other rankedHit) bool {
	if h.final != other.final {
		return h.final < other.final
	}

	return h.ordinal > other.ordinal
}

// topHits keeps the best limit hits seen so far. The root of the heap is the
// worst kept hit.
type topHits struct {
	limit int
	hits  []rankedHit
}

func newTopHits(limit int) *topHits {
	return &topHits{limit: limit}
}

func (t *topHits) Len() int           { return len(t.hits) }
func (t *topHits) Less(i, j int) bool { return t.hits[i].ranksBelow(t.hits[j]) }
func (t *topHits) Swap(i, j int)      { t.hits[i], t.hits[j] = t.hits[j], t.hits[i] }
func (t *topHits) Push(x interface{}) { t.hits = append(t.hits, x.(rankedHit)) }

func (t *topHits) Pop() interface{} {
	last := t.hits[len(t.hits)-1]
	t.hits = t.hits[:len(t.hits)-1]

	return last
}

// offer keeps h if it ranks among the best limit hits seen so far.
func (t *topHits) offer(h rankedHit) {
	if len(t.hits) < t.limit {
		heap.Push(t, h)

		return
	}

	if t.hits[0].ranksBelow(h) {
		t.hits[0] = h
		heap.Fix(t, 0)
	}
}

// full reports whether limit hits are kept.
func (t *topHits) full() bool {
	return len(t.hits) >= t.limit
}

// worst returns the lowest ranked kept hit. Only valid when Len() > 0.
func (t *topHits) worst() rankedHit {
	return t.hits[0]
}

// sorted drains the heap and returns the kept hits best first.
func (t *topHits) sorted() []rankedHit {
	out := make([]rankedHit, len(t.hits))
	for i := len(out) - 1; i >= 0; i-- {
		out[i] = heap.Pop(t).(rankedHit)
	}

	return out
}

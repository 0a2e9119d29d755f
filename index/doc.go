package index

import (
	"fmt"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
)

// DefaultBoost is the neutral static weight assigned to entries that do not
// specify one.
const DefaultBoost = 1.0

// EntryFields holds the raw values used to construct an Entry.
type EntryFields struct {
	Name        string
	Latitude    float64
	Longitude   float64
	FeatureCode string
	Population  int64

	// Comma-joined list of synonyms. Accepted at ingestion time only, it is
	// never stored in the index.
	AlternateNames string

	// Caller assigned static weight. Zero means DefaultBoost.
	Boost float64
}

// Entry is an immutable gazetteer place. Use NewEntry to create one.
type Entry struct {
	name           string
	latitude       float64
	longitude      float64
	featureCode    string
	population     int64
	alternateNames string
	boost          float64
	score          float64
}

// NewEntry validates f and returns the corresponding Entry. All validation
// failures are reported together and wrap ErrInvalidEntry.
func NewEntry(f EntryFields) (*Entry, error) {
	var err error

	if strings.TrimSpace(f.Name) == "" {
		err = multierror.Append(err, fmt.Errorf("name must not be blank"))
	}

	if math.IsNaN(f.Latitude) || f.Latitude < -90 || f.Latitude > 90 {
		err = multierror.Append(err, fmt.Errorf("latitude %v out of range [-90, 90]", f.Latitude))
	}

	if math.IsNaN(f.Longitude) || f.Longitude < -180 || f.Longitude > 180 {
		err = multierror.Append(err, fmt.Errorf("longitude %v out of range [-180, 180]", f.Longitude))
	}

	if f.Population < 0 {
		err = multierror.Append(err, fmt.Errorf("population %d must not be negative", f.Population))
	}

	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEntry, err)
	}

	boost := f.Boost
	if boost == 0 {
		boost = DefaultBoost
	}

	return &Entry{
		name:           f.Name,
		latitude:       f.Latitude,
		longitude:      f.Longitude,
		featureCode:    f.FeatureCode,
		population:     f.Population,
		alternateNames: f.AlternateNames,
		boost:          boost,
	}, nil
}

// Name returns the place name.
func (e *Entry) Name() string { return e.name }

// Latitude returns the latitude in decimal degrees.
func (e *Entry) Latitude() float64 { return e.latitude }

// Longitude returns the longitude in decimal degrees.
func (e *Entry) Longitude() float64 { return e.longitude }

// FeatureCode returns the categorical classification of the place.
func (e *Entry) FeatureCode() string { return e.featureCode }

// Population returns the population of the place.
func (e *Entry) Population() int64 { return e.population }

// AlternateNames returns the comma-joined synonyms. Always empty for entries
// returned by a query.
func (e *Entry) AlternateNames() string { return e.alternateNames }

// Boost returns the static weight of the entry.
func (e *Entry) Boost() float64 { return e.boost }

// Score returns the final rank score. Only meaningful on query results.
func (e *Entry) Score() float64 { return e.score }

// WithScore returns a copy of the entry carrying the provided score.
func (e *Entry) WithScore(score float64) *Entry {
	eCopy := new(Entry)
	*eCopy = *e
	eCopy.score = score

	return eCopy
}

// Document is the indexed subset of an Entry.
type Document struct {
	// Unique identifier of the document within a store. Identifiers sort
	// in creation order.
	ID          string
	Name        string
	Latitude    float64
	Longitude   float64
	FeatureCode string
	Population  int64
}

// NewDocument returns the document that gets written to a store for e.
// Alternate names and boost are ingestion-only and are left out.
func NewDocument(e *Entry) *Document {
	return &Document{
		ID:          uuid.Must(uuid.NewV7()).String(),
		Name:        e.name,
		Latitude:    e.latitude,
		Longitude:   e.longitude,
		FeatureCode: e.featureCode,
		Population:  e.population,
	}
}

package index

import (
	"fmt"
	"unicode"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/custom"
	"github.com/blevesearch/bleve/v2/analysis/token/lowercase"
	unicodetokenizer "github.com/blevesearch/bleve/v2/analysis/tokenizer/unicode"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/registry"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Names of the fields stored for every document.
const (
	FieldName        = "name"
	FieldLatitude    = "latitude"
	FieldLongitude   = "longitude"
	FieldFeatureCode = "feature_code"
	FieldPopulation  = "population"
)

// StoredFields lists every field that can be read back from a search hit.
var StoredFields = []string{FieldName, FieldLatitude, FieldLongitude, FieldFeatureCode, FieldPopulation}

const (
	// AnalyzerName is the analyzer applied to the text fields of a document
	// and to unqualified query terms.
	AnalyzerName = "gazetteer"

	foldFilterName = "diacritic_fold"

	// scoringModel selects BM25 similarity. Stores that search several
	// bleve indexes at once collect its statistics across all of them.
	scoringModel = "bm25"
)

func init() {
	err := registry.RegisterTokenFilter(foldFilterName, func(map[string]interface{}, *registry.Cache) (analysis.TokenFilter, error) {
		return foldFilter{}, nil
	})
	if err != nil {
		panic(err)
	}
}

// foldFilter strips combining marks so that "Zürich" and "Zurich" produce
// the same term.
type foldFilter struct{}

func (foldFilter) Filter(input analysis.TokenStream) analysis.TokenStream {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	for _, token := range input {
		folded, _, err := transform.Bytes(t, token.Term)
		if err == nil {
			token.Term = folded
		}
	}

	return input
}

// NewMapping returns the index mapping shared by all store implementations.
func NewMapping() (mapping.IndexMapping, error) {
	im := bleve.NewIndexMapping()
	im.ScoringModel = scoringModel

	err := im.AddCustomAnalyzer(AnalyzerName, map[string]interface{}{
		"type":          custom.Name,
		"tokenizer":     unicodetokenizer.Name,
		"token_filters": []string{lowercase.Name, foldFilterName},
	})
	if err != nil {
		return nil, fmt.Errorf("mapping: %w", err)
	}

	textField := func() *mapping.FieldMapping {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = AnalyzerName
		fm.Store = true
		fm.IncludeInAll = true

		return fm
	}

	numericField := func() *mapping.FieldMapping {
		fm := bleve.NewNumericFieldMapping()
		fm.Store = true
		fm.IncludeInAll = false

		return fm
	}

	docMapping := bleve.NewDocumentStaticMapping()
	docMapping.AddFieldMappingsAt(FieldName, textField())
	docMapping.AddFieldMappingsAt(FieldFeatureCode, textField())
	docMapping.AddFieldMappingsAt(FieldLatitude, numericField())
	docMapping.AddFieldMappingsAt(FieldLongitude, numericField())
	docMapping.AddFieldMappingsAt(FieldPopulation, numericField())

	im.DefaultMapping = docMapping
	im.DefaultAnalyzer = AnalyzerName
	im.StoreDynamic = false
	im.IndexDynamic = false

	return im, nil
}

// BleveFields converts doc into the field map handed over to bleve.
func BleveFields(doc *Document) map[string]interface{} {
	return map[string]interface{}{
		FieldName:        doc.Name,
		FieldLatitude:    doc.Latitude,
		FieldLongitude:   doc.Longitude,
		FieldFeatureCode: doc.FeatureCode,
		FieldPopulation:  float64(doc.Population),
	}
}

// DocumentFromFields rebuilds a document from the stored fields of a hit.
func DocumentFromFields(id string, fields map[string]interface{}) (*Document, error) {
	doc := &Document{ID: id}

	name, ok := fields[FieldName].(string)
	if !ok {
		return nil, fmt.Errorf("document %s: missing stored field %q", id, FieldName)
	}
	doc.Name = name

	// Empty feature codes produce no stored value.
	doc.FeatureCode, _ = fields[FieldFeatureCode].(string)

	numbers := []struct {
		field string
		dst   *float64
	}{
		{FieldLatitude, &doc.Latitude},
		{FieldLongitude, &doc.Longitude},
	}
	for _, n := range numbers {
		v, ok := fields[n.field].(float64)
		if !ok {
			return nil, fmt.Errorf("document %s: missing stored field %q", id, n.field)
		}
		*n.dst = v
	}

	pop, ok := fields[FieldPopulation].(float64)
	if !ok {
		return nil, fmt.Errorf("document %s: missing stored field %q", id, FieldPopulation)
	}
	doc.Population = int64(pop)

	return doc, nil
}

// EntryFromDocument materializes a query result. Alternate names are never
// stored so the result always carries an empty value, and the boost is reset
// to DefaultBoost.
func EntryFromDocument(doc *Document, score float64) (*Entry, error) {
	e, err := NewEntry(EntryFields{
		Name:        doc.Name,
		Latitude:    doc.Latitude,
		Longitude:   doc.Longitude,
		FeatureCode: doc.FeatureCode,
		Population:  doc.Population,
	})
	if err != nil {
		return nil, err
	}

	return e.WithScore(score), nil
}

// Package geonames extracts gazetteer entries from GeoNames dump files.
//
// Supported inputs are the tab-separated dumps published at
// http://download.geonames.org/export/dump/ (allCountries.txt,
// cities1000.txt, ...), either plain, gzip or zstd compressed, or inside the
// published .zip archives.
package geonames

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"

	"github.com/mycok/geoindex/index"
)

// Static and compile-time check to ensure Extractor implements index.Producer.
var _ index.Producer = (*Extractor)(nil)

// Column positions of the GeoNames "geoname" table.
const (
	colName           = 1
	colAlternateNames = 3
	colLatitude       = 4
	colLongitude      = 5
	colFeatureCode    = 7
	colPopulation     = 14

	minColumns = colPopulation + 1
)

const (
	// Rows of allCountries.txt can carry several kilobytes of alternate
	// names.
	maxLineSize = 1 << 20

	progressDone = 100
)

// Config defines the configuration for an Extractor.
type Config struct {
	// Entries with a smaller population are skipped.
	MinPopulation int64

	// If not empty, only entries whose feature code is listed are
	// extracted.
	FeatureCodes []string

	// The logger to use. If not defined an output-discarding logger will
	// be used instead.
	Logger *logrus.Entry
}

func (cfg *Config) validate() error {
	var err error

	if cfg.MinPopulation < 0 {
		err = multierror.Append(err, fmt.Errorf("invalid value for min population, must be >= 0"))
	}

	for _, code := range cfg.FeatureCodes {
		if strings.TrimSpace(code) == "" {
			err = multierror.Append(err, fmt.Errorf("blank feature code filter"))

			break
		}
	}

	if cfg.Logger == nil {
		cfg.Logger = logrus.NewEntry(&logrus.Logger{Out: io.Discard})
	}

	return err
}

// Extractor is an index.Producer that reads GeoNames dumps from the local
// file system. The sourceID passed to Produce is the path of the dump.
type Extractor struct {
	cfg          Config
	featureCodes map[string]struct{}
}

// NewExtractor creates and returns a fully configured Extractor instance.
func NewExtractor(cfg Config) (*Extractor, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("geonames extractor: config validation failed: %w", err)
	}

	e := &Extractor{cfg: cfg}
	if len(cfg.FeatureCodes) > 0 {
		e.featureCodes = make(map[string]struct{}, len(cfg.FeatureCodes))
		for _, code := range cfg.FeatureCodes {
			e.featureCodes[strings.ToUpper(strings.TrimSpace(code))] = struct{}{}
		}
	}

	return e, nil
}

// Produce pushes every entry of the dump at path to sink, followed by
// progress updates derived from the share of input bytes consumed. Malformed
// rows fail with index.ErrExtraction naming the offending line. Errors
// returned by sink stop the extraction and are returned unchanged.
func (e *Extractor) Produce(path string, sink index.Sink) error {
	src, err := openSource(path)
	if err != nil {
		return fmt.Errorf("%w: %w", index.ErrExtraction, err)
	}
	defer func() { _ = src.Close() }()

	logger := e.cfg.Logger.WithFields(logrus.Fields{
		"source": path,
		"member": src.name,
	})
	logger.Debug("extracting entries")

	var (
		scanner  = bufio.NewScanner(src)
		lineNo   int
		produced int
		reported = -1
	)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	for scanner.Scan() {
		lineNo++

		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		entry, err := parseLine(line)
		if err != nil {
			return fmt.Errorf("%w: %s line %d: %w", index.ErrExtraction, path, lineNo, err)
		}

		if e.accepts(entry) {
			if err = sink.Record(entry); err != nil {
				return err
			}
			produced++
		}

		// Full completion is only reported once the input is exhausted.
		if pct := min(src.percent(), progressDone-1); pct > reported {
			if err = sink.Progress(pct); err != nil {
				return err
			}
			reported = pct
		}
	}

	if err = scanner.Err(); err != nil {
		return fmt.Errorf("%w: %s line %d: %w", index.ErrExtraction, path, lineNo+1, err)
	}

	if err = sink.Progress(progressDone); err != nil {
		return err
	}

	logger.WithFields(logrus.Fields{
		"lines":   lineNo,
		"entries": produced,
	}).Info("extracted entries")

	return nil
}

func (e *Extractor) accepts(entry *index.Entry) bool {
	if entry.Population() < e.cfg.MinPopulation {
		return false
	}

	if e.featureCodes == nil {
		return true
	}

	_, ok := e.featureCodes[strings.ToUpper(entry.FeatureCode())]

	return ok
}

// parseLine converts one row of the geoname table into an entry.
func parseLine(line string) (*index.Entry, error) {
	cols := strings.Split(line, "\t")
	if len(cols) < minColumns {
		return nil, fmt.Errorf("expected at least %d columns, got %d", minColumns, len(cols))
	}

	lat, err := strconv.ParseFloat(strings.TrimSpace(cols[colLatitude]), 64)
	if err != nil {
		return nil, fmt.Errorf("latitude: %w", err)
	}

	lon, err := strconv.ParseFloat(strings.TrimSpace(cols[colLongitude]), 64)
	if err != nil {
		return nil, fmt.Errorf("longitude: %w", err)
	}

	var pop int64
	if raw := strings.TrimSpace(cols[colPopulation]); raw != "" {
		if pop, err = strconv.ParseInt(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("population: %w", err)
		}
	}

	return index.NewEntry(index.EntryFields{
		Name:           cols[colName],
		Latitude:       lat,
		Longitude:      lon,
		FeatureCode:    cols[colFeatureCode],
		Population:     pop,
		AlternateNames: cols[colAlternateNames],
	})
}

// source is a dump opened for reading. It tracks how many bytes of the
// underlying file or archive member were consumed.
type source struct {
	io.Reader
	name    string
	read    int64
	total   int64
	closers []io.Closer
}

func (s *source) percent() int {
	if s.total <= 0 {
		return 0
	}

	return int(s.read * progressDone / s.total)
}

func (s *source) Close() error {
	var err error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if cErr := s.closers[i].Close(); cErr != nil {
			err = multierror.Append(err, cErr)
		}
	}

	return err
}

// countingReader counts the bytes read from r into src.
type countingReader struct {
	r   io.Reader
	src *source
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.src.read += int64(n)

	return n, err
}

func openSource(path string) (*source, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return openZipSource(path)
	case ".gz":
		return openFileSource(path, openGzip)
	case ".zst":
		return openFileSource(path, openZstd)
	default:
		return openFileSource(path, nil)
	}
}

// decompressor wraps the raw bytes of a compressed dump.
type decompressor func(io.Reader) (io.ReadCloser, error)

func openGzip(r io.Reader) (io.ReadCloser, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open gzip stream: %w", err)
	}

	return gz, nil
}

func openZstd(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("open zstd stream: %w", err)
	}

	return dec.IOReadCloser(), nil
}

func openFileSource(path string, decompress decompressor) (*source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	info, err := f.Stat()
	if err != nil {
		_ = f.Close()

		return nil, err
	}

	src := &source{
		name:    filepath.Base(path),
		total:   info.Size(),
		closers: []io.Closer{f},
	}
	counted := &countingReader{r: f, src: src}
	src.Reader = counted

	if decompress != nil {
		rc, err := decompress(counted)
		if err != nil {
			_ = f.Close()

			return nil, err
		}
		src.Reader = rc
		src.closers = append(src.closers, rc)
	}

	return src, nil
}

// openZipSource opens the first .txt member of the archive that is not a
// readme.
func openZipSource(path string) (*source, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open zip archive: %w", err)
	}

	for _, member := range zr.File {
		name := filepath.Base(member.Name)
		if !strings.EqualFold(filepath.Ext(name), ".txt") || strings.HasPrefix(strings.ToLower(name), "readme") {
			continue
		}

		rc, err := member.Open()
		if err != nil {
			_ = zr.Close()

			return nil, fmt.Errorf("open zip member %s: %w", member.Name, err)
		}

		src := &source{
			name:    member.Name,
			total:   int64(member.UncompressedSize64),
			closers: []io.Closer{zr, rc},
		}
		src.Reader = &countingReader{r: rc, src: src}

		return src, nil
	}

	_ = zr.Close()

	return nil, fmt.Errorf("zip archive %s holds no GeoNames dump", path)
}

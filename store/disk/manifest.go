package disk

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
)

const (
	currentFileName = "CURRENT"
	manifestPrefix  = "MANIFEST-"
	segmentPrefix   = "seg-"
	tmpSuffix       = ".tmp"
	manifestVersion = 1
)

// errNoManifest is returned when a location has never been committed to.
var errNoManifest = errors.New("no committed manifest")

// manifest lists the segments that make up the committed state of a location.
type manifest struct {
	Version     int           `json:"version"`
	Generation  uint64        `json:"generation"`
	Segments    []segmentInfo `json:"segments"`
	CommittedAt time.Time     `json:"committed_at"`
}

type segmentInfo struct {
	// Directory name of the segment, relative to the location.
	Name     string `json:"name"`
	DocCount uint64 `json:"doc_count"`
}

func (m *manifest) fileName() string {
	return fmt.Sprintf("%s%06d.json", manifestPrefix, m.Generation)
}

func (m *manifest) references(segment string) bool {
	for _, s := range m.Segments {
		if s.Name == segment {
			return true
		}
	}

	return false
}

// loadManifest reads the manifest that CURRENT points to.
func loadManifest(dir string) (*manifest, error) {
	current, err := os.ReadFile(filepath.Join(dir, currentFileName))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, syscall.ENOTDIR) {
			return nil, errNoManifest
		}

		return nil, fmt.Errorf("read %s: %w", currentFileName, err)
	}

	name := strings.TrimSpace(string(current))
	if !strings.HasPrefix(name, manifestPrefix) || filepath.Base(name) != name {
		return nil, fmt.Errorf("invalid %s content %q", currentFileName, name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	var m manifest
	if err = json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", name, err)
	}

	if m.Version != manifestVersion {
		return nil, fmt.Errorf("unsupported manifest version: %d (expected %d)", m.Version, manifestVersion)
	}

	if len(m.Segments) == 0 {
		return nil, fmt.Errorf("manifest %s lists no segments", name)
	}

	return &m, nil
}

// saveManifest writes m and then atomically points CURRENT at it. The
// returned flag reports whether CURRENT was switched; once it has been, the
// new state is visible to readers even if a later directory sync fails.
func saveManifest(dir string, m *manifest) (bool, error) {
	m.Version = manifestVersion

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return false, fmt.Errorf("encode manifest: %w", err)
	}

	name := m.fileName()
	if err = writeFileAtomic(dir, name, data); err != nil {
		return false, fmt.Errorf("write manifest: %w", err)
	}

	if err = syncDir(dir); err != nil {
		return false, fmt.Errorf("sync manifest dir: %w", err)
	}

	if err = writeFileAtomic(dir, currentFileName, []byte(name)); err != nil {
		return false, fmt.Errorf("switch %s: %w", currentFileName, err)
	}

	if err = syncDir(dir); err != nil {
		return true, fmt.Errorf("sync %s: %w", currentFileName, err)
	}

	return true, nil
}

// writeFileAtomic writes data to a temporary file, syncs it and renames it
// to name.
func writeFileAtomic(dir, name string, data []byte) error {
	path := filepath.Join(dir, name)
	tmpPath := path + tmpSuffix

	f, err := os.OpenFile(tmpPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err = f.Write(data); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)

		return err
	}

	if err = f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(tmpPath)

		return err
	}

	if err = f.Close(); err != nil {
		_ = os.Remove(tmpPath)

		return err
	}

	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)

		return err
	}

	return nil
}

func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	return f.Sync()
}

// collectGarbage removes segments and manifests that m no longer references,
// including leftovers of sessions that never committed.
func collectGarbage(dir string, m *manifest) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	var gcErr error
	for _, e := range entries {
		name := e.Name()

		var stale bool
		switch {
		case strings.HasPrefix(name, segmentPrefix):
			stale = !m.references(name)
		case strings.HasPrefix(name, manifestPrefix):
			stale = name != m.fileName()
		case strings.HasSuffix(name, tmpSuffix):
			stale = true
		}

		if !stale {
			continue
		}

		if rmErr := os.RemoveAll(filepath.Join(dir, name)); rmErr != nil {
			gcErr = multierror.Append(gcErr, rmErr)
		}
	}

	return gcErr
}

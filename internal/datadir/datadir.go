// Package datadir reads and writes the catalog artifacts kept in the data
// directory: the id ledger, the new-entity GeoJSON, the summary and the
// last-updated marker.
//
// Runs must be serialized by the caller. Two concurrent writers against the
// same directory race and the last rename wins.
package datadir

import (
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Artifact file names inside the data directory.
const (
	KnownIDsFile    = "known-ids.json"
	NewEntitiesFile = "streetlamps-new.geojson"
	BaselineFile    = "streetlamps-baseline.geojson"
	StatsFile       = "stats.json"
	LastUpdatedFile = "last-updated.txt"
)

var (
	// ErrMissingPrerequisite means the directory has not been seeded.
	ErrMissingPrerequisite = eris.New("datadir: missing prerequisite")
	// ErrMalformedCatalog means a persisted artifact lacks an expected key or
	// cannot be decoded. It is never papered over with an empty catalog.
	ErrMalformedCatalog = eris.New("datadir: malformed catalog")
)

// Dir is a catalog data directory.
type Dir struct {
	path string
	log  *zap.Logger
}

// New returns a Dir rooted at path. Nothing is touched on disk.
func New(path string) *Dir {
	return &Dir{
		path: path,
		log:  zap.L().With(zap.String("component", "datadir"), zap.String("dir", path)),
	}
}

// Path returns the directory root.
func (d *Dir) Path() string {
	return d.path
}

// File returns the full path of an artifact.
func (d *Dir) File(name string) string {
	return filepath.Join(d.path, name)
}

func (d *Dir) requireDir() error {
	info, err := os.Stat(d.path)
	if os.IsNotExist(err) {
		return eris.Wrapf(ErrMissingPrerequisite, "data directory %s not found (run `lampioni baseline seed` first)", d.path)
	}
	if err != nil {
		return eris.Wrapf(err, "datadir: stat %s", d.path)
	}
	if !info.IsDir() {
		return eris.Wrapf(ErrMissingPrerequisite, "%s is not a directory", d.path)
	}
	return nil
}

func (d *Dir) readRequired(name string) ([]byte, error) {
	data, err := os.ReadFile(d.File(name))
	if os.IsNotExist(err) {
		return nil, eris.Wrapf(ErrMissingPrerequisite, "%s not found in %s (run `lampioni baseline seed` first)", name, d.path)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "datadir: read %s", name)
	}
	return data, nil
}

func malformed(name, format string, args ...any) error {
	return eris.Wrapf(ErrMalformedCatalog, name+": "+format, args...)
}

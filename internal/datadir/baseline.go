package datadir

import (
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/model"
)

// ReadFeatureFile reads a GeoJSON FeatureCollection from path.
func ReadFeatureFile(path string) (*geojson.FeatureCollection, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "datadir: read %s", path)
	}
	fc, err := DecodeFeatureCollection(data)
	if err != nil {
		return nil, eris.Wrapf(ErrMalformedCatalog, "%s: decode: %v", path, err)
	}
	return fc, nil
}

// LoadBaseline reads the optional baseline feature file. It returns nil
// without error when the directory has none.
func (d *Dir) LoadBaseline() (*geojson.FeatureCollection, error) {
	path := d.File(BaselineFile)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return ReadFeatureFile(path)
}

// SaveBaseline rewrites the baseline feature file.
func (d *Dir) SaveBaseline(fc *geojson.FeatureCollection) error {
	data, err := EncodeFeatureLines(fc.Features)
	if err != nil {
		return err
	}
	path := d.File(BaselineFile)
	return commit(map[string][]byte{path: data}, []string{path})
}

// Seed initializes the directory from the bulk extractor's baseline
// features: the baseline copy, an id ledger holding every baseline id, an
// empty new-entity collection and the initial summary. An existing ledger
// is only replaced when force is set.
func (d *Dir) Seed(baseline *geojson.FeatureCollection, lastUpdated time.Time, force bool) (*model.Summary, error) {
	if d.Exists() && !force {
		return nil, eris.Errorf("datadir: %s already exists in %s (use --force to overwrite)", KnownIDsFile, d.path)
	}
	if err := os.MkdirAll(d.path, 0o755); err != nil {
		return nil, eris.Wrapf(err, "datadir: create %s", d.path)
	}

	ids := make([]int64, 0, len(baseline.Features))
	seen := make(map[int64]struct{}, len(baseline.Features))
	for i, f := range baseline.Features {
		id, ok := FeatureOSMID(f)
		if !ok {
			return nil, eris.Wrapf(ErrMalformedCatalog, "baseline feature %d has no osm_id", i)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	summary := model.Summary{
		BaselineCount:  len(ids),
		LastUpdated:    lastUpdated.UTC().Format(time.RFC3339),
		Leaderboard:    []model.LeaderboardEntry{},
		DailyAdditions: map[string]int{},
	}
	baselineData, err := EncodeFeatureLines(baseline.Features)
	if err != nil {
		return nil, err
	}
	entities, err := encodeEntities(nil)
	if err != nil {
		return nil, err
	}
	stats, err := encodeSummary(summary)
	if err != nil {
		return nil, err
	}

	files := map[string][]byte{
		d.File(BaselineFile):    baselineData,
		d.File(NewEntitiesFile): entities,
		d.File(KnownIDsFile):    encodeKnownIDs(ids, nil),
		d.File(StatsFile):       stats,
		d.File(LastUpdatedFile): []byte(summary.LastUpdated),
	}
	order := []string{
		d.File(BaselineFile), d.File(NewEntitiesFile), d.File(KnownIDsFile),
		d.File(StatsFile), d.File(LastUpdatedFile),
	}
	if err := commit(files, order); err != nil {
		return nil, err
	}

	d.log.Info("data directory seeded", zap.Int("baseline_ids", len(ids)))
	return &summary, nil
}

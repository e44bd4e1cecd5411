package datadir

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lampioni/lampioni/internal/fetcher"
	"github.com/lampioni/lampioni/internal/model"
)

// Load reads the id ledger and the new-entity collection. Both are required.
// stats.json is derived and is not read here.
func (d *Dir) Load(ctx context.Context) (*model.Catalog, error) {
	if err := d.requireDir(); err != nil {
		return nil, err
	}

	var (
		baseline []int64
		newIDs   map[string][]int64
		entities []model.Entity
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := d.readRequired(KnownIDsFile)
		if err != nil {
			return err
		}
		baseline, newIDs, err = decodeKnownIDs(data)
		return err
	})
	g.Go(func() error {
		data, err := d.readRequired(NewEntitiesFile)
		if err != nil {
			return err
		}
		if err := gctx.Err(); err != nil {
			return err
		}
		entities, err = decodeEntities(data)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	d.log.Debug("catalog loaded",
		zap.Int("baseline_ids", len(baseline)),
		zap.Int("new_entities", len(entities)),
	)
	return &model.Catalog{
		BaselineIDs: baseline,
		NewIDs:      newIDs,
		NewEntities: entities,
	}, nil
}

// Save writes the catalog, the summary and the last-updated marker. Every
// artifact is encoded and staged before any of them replaces its
// predecessor.
func (d *Dir) Save(c *model.Catalog, s model.Summary) error {
	if err := d.requireDir(); err != nil {
		return err
	}

	entities, err := encodeEntities(c.NewEntities)
	if err != nil {
		return err
	}
	stats, err := encodeSummary(s)
	if err != nil {
		return err
	}

	files := map[string][]byte{
		d.File(NewEntitiesFile): entities,
		d.File(KnownIDsFile):    encodeKnownIDs(c.BaselineIDs, c.NewIDs),
		d.File(StatsFile):       stats,
		d.File(LastUpdatedFile): []byte(s.LastUpdated),
	}
	order := []string{d.File(NewEntitiesFile), d.File(KnownIDsFile), d.File(StatsFile), d.File(LastUpdatedFile)}
	if err := commit(files, order); err != nil {
		return err
	}

	d.log.Info("catalog saved",
		zap.Int("baseline_ids", len(c.BaselineIDs)),
		zap.Int("new_entities", len(c.NewEntities)),
	)
	return nil
}

// LoadSummary reads stats.json.
func (d *Dir) LoadSummary() (*model.Summary, error) {
	data, err := d.readRequired(StatsFile)
	if err != nil {
		return nil, err
	}
	s, err := fetcher.DecodeJSONBytes[model.Summary](data)
	if err != nil {
		return nil, malformed(StatsFile, "decode: %v", err)
	}
	if s.Leaderboard == nil {
		s.Leaderboard = []model.LeaderboardEntry{}
	}
	if s.DailyAdditions == nil {
		s.DailyAdditions = map[string]int{}
	}
	return s, nil
}

// LastUpdated reads the plain last-updated marker.
func (d *Dir) LastUpdated() (time.Time, error) {
	data, err := d.readRequired(LastUpdatedFile)
	if err != nil {
		return time.Time{}, err
	}
	ts, err := time.Parse(time.RFC3339, string(data))
	if err != nil {
		return time.Time{}, malformed(LastUpdatedFile, "%q", string(data))
	}
	return ts, nil
}

func encodeSummary(s model.Summary) ([]byte, error) {
	if s.Leaderboard == nil {
		s.Leaderboard = []model.LeaderboardEntry{}
	}
	if s.DailyAdditions == nil {
		s.DailyAdditions = map[string]int{}
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "datadir: encode summary")
	}
	return append(data, '\n'), nil
}

// Exists reports whether the id ledger is present.
func (d *Dir) Exists() bool {
	_, err := os.Stat(d.File(KnownIDsFile))
	return err == nil
}

package model

import "time"

// MergeMode selects how the merger treats prior entities absent from a fetch.
type MergeMode string

const (
	// MergeFull treats the fetch as authoritative for every non-baseline entity.
	MergeFull MergeMode = "full"
	// MergeIncremental keeps prior entities the narrower fetch did not report.
	MergeIncremental MergeMode = "incremental"
)

// ParseMergeMode maps the full-refresh flag onto a MergeMode.
func ParseMergeMode(fullRefresh bool) MergeMode {
	if fullRefresh {
		return MergeFull
	}
	return MergeIncremental
}

// Catalog is the persisted state of one run.
//
// BaselineIDs and the ids of NewEntities are disjoint. NewIDs is the
// date-keyed discovery index; it is audit data and never feeds the merge.
type Catalog struct {
	BaselineIDs []int64            `json:"baseline_ids"`
	NewIDs      map[string][]int64 `json:"new_ids"`
	NewEntities []Entity           `json:"new_entities"`
}

// BaselineSet returns the baseline ids as a lookup set.
func (c *Catalog) BaselineSet() map[int64]struct{} {
	set := make(map[int64]struct{}, len(c.BaselineIDs))
	for _, id := range c.BaselineIDs {
		set[id] = struct{}{}
	}
	return set
}

// EntityIndex returns the new entities keyed by id.
func (c *Catalog) EntityIndex() map[int64]Entity {
	idx := make(map[int64]Entity, len(c.NewEntities))
	for _, e := range c.NewEntities {
		idx[e.ID] = e
	}
	return idx
}

// LatestEdit returns the most recent upstream edit time among new entities,
// or nil when none carries one.
func (c *Catalog) LatestEdit() *time.Time {
	var latest *time.Time
	for _, e := range c.NewEntities {
		if e.EditTimestamp == nil {
			continue
		}
		if latest == nil || e.EditTimestamp.After(*latest) {
			ts := *e.EditTimestamp
			latest = &ts
		}
	}
	return latest
}

// LeaderboardEntry is one contributor row in the summary.
type LeaderboardEntry struct {
	User  string `json:"user" yaml:"user"`
	Count int    `json:"count" yaml:"count"`
}

// Summary is the derived aggregate persisted as stats.json.
type Summary struct {
	BaselineCount  int                `json:"baseline_count" yaml:"baseline_count"`
	NewCount       int                `json:"new_count" yaml:"new_count"`
	LastUpdated    string             `json:"last_updated" yaml:"last_updated"`
	Leaderboard    []LeaderboardEntry `json:"leaderboard" yaml:"leaderboard"`
	DailyAdditions map[string]int     `json:"daily_additions" yaml:"daily_additions"`
}

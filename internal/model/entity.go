// Package model defines the catalog domain types shared across packages.
package model

import (
	"sort"
	"time"
)

// UnknownContributor is recorded when a provider supplies no editor metadata.
const UnknownContributor = "unknown"

// DateLayout is the day-granularity layout used for date_added and the
// discovery index keys.
const DateLayout = "2006-01-02"

// Coord is a WGS84 lon/lat pair.
type Coord struct {
	Lon float64 `json:"lon"`
	Lat float64 `json:"lat"`
}

// Entity is a single street lamp known to the catalog.
type Entity struct {
	ID            int64             `json:"id"`
	Geometry      Coord             `json:"geometry"`
	Tags          map[string]string `json:"tags,omitempty"`
	Contributor   string            `json:"contributor"`
	EditTimestamp *time.Time        `json:"edit_timestamp,omitempty"`
	DateAdded     string            `json:"date_added"`
}

// HasContributor reports whether the entity carries real editor metadata.
func (e Entity) HasContributor() bool {
	return e.Contributor != "" && e.Contributor != UnknownContributor
}

// Clone returns a deep copy so callers never alias tag maps or timestamps
// across catalog versions.
func (e Entity) Clone() Entity {
	out := e
	if e.Tags != nil {
		out.Tags = make(map[string]string, len(e.Tags))
		for k, v := range e.Tags {
			out.Tags[k] = v
		}
	}
	if e.EditTimestamp != nil {
		ts := *e.EditTimestamp
		out.EditTimestamp = &ts
	}
	return out
}

// SortEntities orders entities by date_added descending, then id descending.
func SortEntities(entities []Entity) {
	sort.Slice(entities, func(i, j int) bool {
		if entities[i].DateAdded != entities[j].DateAdded {
			return entities[i].DateAdded > entities[j].DateAdded
		}
		return entities[i].ID > entities[j].ID
	})
}

// SortIDs orders ids ascending.
func SortIDs(ids []int64) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

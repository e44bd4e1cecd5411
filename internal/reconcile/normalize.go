package reconcile

import (
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/lampioni/lampioni/internal/model"
	"github.com/lampioni/lampioni/internal/provider"
)

// DefaultTags is the curated allow-list of lamp attributes kept in the catalog.
var DefaultTags = []string{
	"lamp_mount", "lamp_type", "support", "ref", "operator",
	"height", "direction", "colour", "light:colour", "light:count",
	"manufacturer", "model", "start_date",
}

// Batch is one normalized fetch. HasContributorMetadata travels with the
// entities so the merger never has to guess which dialect produced them.
type Batch struct {
	Endpoint               string
	Entities               []model.Entity
	DataTimestamp          *time.Time
	HasContributorMetadata bool
}

// Normalize maps a raw provider record to an Entity. Only nodes are
// accepted; the boolean is false for anything else.
func Normalize(el provider.RawElement, allow []string) (model.Entity, bool) {
	if el.Type != "" && el.Type != "node" {
		return model.Entity{}, false
	}

	e := model.Entity{
		ID:          el.ID,
		Geometry:    model.Coord{Lon: el.Lon, Lat: el.Lat},
		Contributor: model.UnknownContributor,
	}
	if el.User != "" {
		e.Contributor = norm.NFC.String(el.User)
	}
	if el.Timestamp != nil && !el.Timestamp.IsZero() {
		ts := el.Timestamp.UTC()
		e.EditTimestamp = &ts
	}
	for _, k := range allow {
		v, ok := el.Tags[k]
		if !ok {
			continue
		}
		if e.Tags == nil {
			e.Tags = make(map[string]string, len(allow))
		}
		e.Tags[k] = norm.NFC.String(v)
	}
	return e, true
}

// NormalizeResponse normalizes every element of resp. Later duplicates of
// an id replace earlier ones.
func NormalizeResponse(resp *provider.Response, allow []string) Batch {
	b := Batch{
		Endpoint:               resp.Endpoint,
		DataTimestamp:          resp.DataTimestamp,
		HasContributorMetadata: resp.HasContributorMetadata,
		Entities:               make([]model.Entity, 0, len(resp.Elements)),
	}
	pos := make(map[int64]int, len(resp.Elements))
	for _, el := range resp.Elements {
		e, ok := Normalize(el, allow)
		if !ok {
			continue
		}
		if i, dup := pos[e.ID]; dup {
			b.Entities[i] = e
			continue
		}
		pos[e.ID] = len(b.Entities)
		b.Entities = append(b.Entities, e)
	}
	return b
}

// IDs returns the ids in the batch.
func (b Batch) IDs() []int64 {
	ids := make([]int64, 0, len(b.Entities))
	for _, e := range b.Entities {
		ids = append(ids, e.ID)
	}
	return ids
}

package reconcile

import (
	"github.com/lampioni/lampioni/internal/model"
)

// MergeResult is the new catalog plus the classification of the fetch.
type MergeResult struct {
	Catalog model.Catalog
	// Fetched counts fetched entities that are not baseline.
	Fetched int
	// SkippedBaseline counts fetched entities discarded as baseline.
	SkippedBaseline int
	// Discovered lists ids observed for the first time, ascending.
	Discovered []int64
	// Updated lists previously known ids refreshed from the fetch, ascending.
	Updated []int64
	// Dropped lists previously known ids absent from a full fetch, ascending.
	Dropped []int64
}

// Merge builds a new catalog from prior and the fetched batch. prior is not
// modified. today is the run date in model.DateLayout.
//
// date_added is copied from the prior record whenever one exists. When the
// batch carries no contributor metadata, or reports the unknown sentinel,
// the prior contributor and edit time survive the refresh.
func Merge(batch Batch, prior model.Catalog, mode model.MergeMode, today string) MergeResult {
	baseline := prior.BaselineSet()

	priorByID := prior.EntityIndex()
	for id := range priorByID {
		if _, isBaseline := baseline[id]; isBaseline {
			delete(priorByID, id)
		}
	}

	merged := make(map[int64]model.Entity, len(priorByID)+len(batch.Entities))
	if mode == model.MergeIncremental {
		for id, e := range priorByID {
			merged[id] = e.Clone()
		}
	}

	var res MergeResult
	seen := make(map[int64]string, len(batch.Entities))
	fetchedIDs := make([]int64, 0, len(batch.Entities))

	for _, fe := range batch.Entities {
		if _, isBaseline := baseline[fe.ID]; isBaseline {
			res.SkippedBaseline++
			continue
		}

		next := fe.Clone()
		if next.Contributor == "" {
			next.Contributor = model.UnknownContributor
		}

		old, known := priorByID[fe.ID]
		if known {
			next.DateAdded = old.DateAdded
			if !batch.HasContributorMetadata || !next.HasContributor() {
				keep := old.Clone()
				next.Contributor = keep.Contributor
				next.EditTimestamp = keep.EditTimestamp
				if next.Contributor == "" {
					next.Contributor = model.UnknownContributor
				}
			}
		} else if date, dup := seen[fe.ID]; dup {
			next.DateAdded = date
		} else {
			next.DateAdded = firstSeenDate(next, today)
		}

		if _, dup := seen[fe.ID]; !dup {
			fetchedIDs = append(fetchedIDs, fe.ID)
			if known {
				res.Updated = append(res.Updated, fe.ID)
			} else {
				res.Discovered = append(res.Discovered, fe.ID)
			}
		}
		seen[fe.ID] = next.DateAdded
		merged[fe.ID] = next
	}
	res.Fetched = len(fetchedIDs)

	if mode == model.MergeFull {
		for id := range priorByID {
			if _, ok := merged[id]; !ok {
				res.Dropped = append(res.Dropped, id)
			}
		}
	}

	entities := make([]model.Entity, 0, len(merged))
	for _, e := range merged {
		entities = append(entities, e)
	}
	model.SortEntities(entities)

	baselineIDs := append([]int64(nil), prior.BaselineIDs...)
	model.SortIDs(baselineIDs)
	model.SortIDs(fetchedIDs)
	model.SortIDs(res.Discovered)
	model.SortIDs(res.Updated)
	model.SortIDs(res.Dropped)

	// The discovery index holds every non-baseline id of the current fetch
	// under today's date and replaces whatever was there before.
	res.Catalog = model.Catalog{
		BaselineIDs: baselineIDs,
		NewIDs:      map[string][]int64{today: fetchedIDs},
		NewEntities: entities,
	}
	return res
}

// firstSeenDate is the edit day when the provider reported one, else today.
func firstSeenDate(e model.Entity, today string) string {
	if e.EditTimestamp != nil && !e.EditTimestamp.IsZero() {
		return e.EditTimestamp.UTC().Format(model.DateLayout)
	}
	return today
}

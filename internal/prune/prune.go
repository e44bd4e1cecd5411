// Package prune re-validates the catalog against the configured boundary and
// drops every id the providers no longer report inside it.
package prune

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom/encoding/geojson"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/datadir"
	"github.com/lampioni/lampioni/internal/model"
	"github.com/lampioni/lampioni/internal/provider"
	"github.com/lampioni/lampioni/internal/reconcile"
	"github.com/lampioni/lampioni/internal/resilience"
	"github.com/lampioni/lampioni/internal/store"
)

// ErrEmptyValidSet is returned when the provider reports no ids at all.
// Pruning against an empty set would erase the catalog.
var ErrEmptyValidSet = eris.New("prune: provider returned no ids")

// Source answers a provider query. *provider.Selector implements it.
type Source interface {
	Select(ctx context.Context, q provider.Query) (*provider.Response, error)
}

// Pruner filters the persisted catalog down to the ids inside the boundary.
type Pruner struct {
	dir    *datadir.Dir
	source Source
	store  store.Store
	query  provider.Query
	now    func() time.Time
}

// New creates a Pruner. query carries the tag filter and boundary; the
// output mode is forced to ids only. A nil store disables the run ledger.
func New(dir *datadir.Dir, source Source, st store.Store, query provider.Query) *Pruner {
	if st == nil {
		st = store.Nop{}
	}
	return &Pruner{
		dir:    dir,
		source: source,
		store:  st,
		query:  query,
		now:    time.Now,
	}
}

// Options controls a prune run.
type Options struct {
	// DryRun computes the report without writing anything.
	DryRun bool
	// Now overrides the summary timestamp. Zero means the wall clock.
	Now time.Time
}

// Report describes what was (or would be) removed.
type Report struct {
	RunID    string `json:"run_id,omitempty"`
	DryRun   bool   `json:"dry_run"`
	Provider string `json:"provider"`
	ValidIDs int    `json:"valid_ids"`

	BaselineIDsBefore       int `json:"baseline_ids_before"`
	BaselineIDsRemoved      int `json:"baseline_ids_removed"`
	BaselineFeaturesBefore  int `json:"baseline_features_before"`
	BaselineFeaturesRemoved int `json:"baseline_features_removed"`
	NewBefore               int `json:"new_before"`
	NewRemoved              int `json:"new_removed"`

	BaselineCount int `json:"baseline_count"`
	NewCount      int `json:"new_count"`
}

// Removed is the total number of ids dropped from the catalog.
func (r *Report) Removed() int {
	return r.BaselineIDsRemoved + r.NewRemoved
}

// Run fetches the valid id set and filters the catalog against it.
func (p *Pruner) Run(ctx context.Context, opts Options) (*Report, error) {
	log := zap.L().With(zap.String("component", "prune"), zap.Bool("dry_run", opts.DryRun))

	var run *model.Run
	if !opts.DryRun {
		r, err := p.store.CreateRun(ctx, model.RunKindPrune, "")
		if err != nil {
			log.Warn("prune: failed to create run record", zap.Error(err))
		} else {
			run = r
		}
	}
	fail := func(err error) (*Report, error) {
		if run != nil && run.ID != "" {
			if ferr := p.store.FailRun(ctx, run.ID, err.Error(), resilience.ClassifyError(err)); ferr != nil {
				log.Warn("prune: failed to record failure", zap.Error(ferr))
			}
		}
		log.Error("prune: run failed", zap.Error(err))
		return nil, err
	}

	catalog, err := p.dir.Load(ctx)
	if err != nil {
		return fail(eris.Wrap(err, "prune: load catalog"))
	}
	baseline, err := p.dir.LoadBaseline()
	if err != nil {
		return fail(eris.Wrap(err, "prune: load baseline features"))
	}

	q := p.query
	q.Output = provider.OutputIDs
	q.NewerThan = nil
	resp, err := p.source.Select(ctx, q)
	if err != nil {
		return fail(eris.Wrap(err, "prune: select provider"))
	}
	valid := resp.IDs()
	if len(valid) == 0 {
		return fail(eris.Wrapf(ErrEmptyValidSet, "endpoint %s", resp.Endpoint))
	}
	log.Info("prune: fetched valid ids", zap.String("provider", resp.Endpoint), zap.Int("valid_ids", len(valid)))

	pruned, report := Filter(*catalog, valid)
	report.DryRun = opts.DryRun
	report.Provider = resp.Endpoint

	var features *geojson.FeatureCollection
	if baseline != nil {
		features, report.BaselineFeaturesBefore, report.BaselineFeaturesRemoved = FilterFeatures(baseline, valid)
	}

	log.Info("prune: results",
		zap.Int("baseline_ids_removed", report.BaselineIDsRemoved),
		zap.Int("baseline_features_removed", report.BaselineFeaturesRemoved),
		zap.Int("new_removed", report.NewRemoved),
	)
	if opts.DryRun {
		return report, nil
	}

	now := opts.Now
	if now.IsZero() {
		now = p.now()
	}
	if features != nil {
		if err := p.dir.SaveBaseline(features); err != nil {
			return fail(eris.Wrap(err, "prune: save baseline features"))
		}
	}
	if err := p.dir.Save(&pruned, reconcile.Summarize(pruned, now)); err != nil {
		return fail(eris.Wrap(err, "prune: save catalog"))
	}

	if run != nil && run.ID != "" {
		report.RunID = run.ID
		if cerr := p.store.CompleteRun(ctx, run.ID, &model.RunResult{
			Provider:      report.Provider,
			NewCount:      report.NewCount,
			BaselineCount: report.BaselineCount,
			Removed:       report.Removed(),
		}); cerr != nil {
			log.Warn("prune: failed to complete run record", zap.Error(cerr))
		}
	}
	return report, nil
}

// Filter keeps only the ids in valid: baseline ids, new entities and the
// discovery index. date_added values are carried over untouched.
func Filter(c model.Catalog, valid map[int64]struct{}) (model.Catalog, *Report) {
	r := &Report{
		ValidIDs:          len(valid),
		BaselineIDsBefore: len(c.BaselineIDs),
		NewBefore:         len(c.NewEntities),
	}

	out := model.Catalog{
		BaselineIDs: make([]int64, 0, len(c.BaselineIDs)),
		NewIDs:      make(map[string][]int64, len(c.NewIDs)),
		NewEntities: make([]model.Entity, 0, len(c.NewEntities)),
	}
	for _, id := range c.BaselineIDs {
		if _, ok := valid[id]; ok {
			out.BaselineIDs = append(out.BaselineIDs, id)
		}
	}
	for _, e := range c.NewEntities {
		if _, ok := valid[e.ID]; ok {
			out.NewEntities = append(out.NewEntities, e.Clone())
		}
	}
	for day, ids := range c.NewIDs {
		kept := make([]int64, 0, len(ids))
		for _, id := range ids {
			if _, ok := valid[id]; ok {
				kept = append(kept, id)
			}
		}
		out.NewIDs[day] = kept
	}
	model.SortIDs(out.BaselineIDs)
	model.SortEntities(out.NewEntities)

	r.BaselineIDsRemoved = r.BaselineIDsBefore - len(out.BaselineIDs)
	r.NewRemoved = r.NewBefore - len(out.NewEntities)
	r.BaselineCount = len(out.BaselineIDs)
	r.NewCount = len(out.NewEntities)
	return out, r
}

// FilterFeatures drops baseline features whose osm_id is not in valid.
// Features without a readable id are dropped too.
func FilterFeatures(fc *geojson.FeatureCollection, valid map[int64]struct{}) (*geojson.FeatureCollection, int, int) {
	kept := make([]*geojson.Feature, 0, len(fc.Features))
	for _, f := range fc.Features {
		id, ok := datadir.FeatureOSMID(f)
		if !ok {
			continue
		}
		if _, in := valid[id]; in {
			kept = append(kept, f)
		}
	}
	return &geojson.FeatureCollection{Features: kept}, len(fc.Features), len(fc.Features) - len(kept)
}

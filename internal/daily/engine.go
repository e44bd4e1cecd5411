// Package daily runs the reconciliation cycle: fetch from the first fresh
// provider, normalize, merge against the persisted catalog, summarize and
// write back.
package daily

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/datadir"
	"github.com/lampioni/lampioni/internal/model"
	"github.com/lampioni/lampioni/internal/provider"
	"github.com/lampioni/lampioni/internal/reconcile"
	"github.com/lampioni/lampioni/internal/resilience"
	"github.com/lampioni/lampioni/internal/store"
)

// ReportLeaderboardSize is the number of contributors printed after a run.
const ReportLeaderboardSize = 10

// Source answers a provider query. *provider.Selector implements it.
type Source interface {
	Select(ctx context.Context, q provider.Query) (*provider.Response, error)
}

// Engine wires the reconciliation stages together.
type Engine struct {
	dir      *datadir.Dir
	source   Source
	store    store.Store
	query    provider.Query
	baseline time.Time
	tags     []string
	now      func() time.Time
}

// Config holds the query parameters of a run.
type Config struct {
	// Query is the base query; NewerThan and Output are set per run.
	Query provider.Query
	// Baseline is the historical cutoff. Full refreshes fetch everything
	// edited after it.
	Baseline time.Time
	// Tags is the curated allow-list. Empty means reconcile.DefaultTags.
	Tags []string
}

// New creates an Engine. A nil store disables the run ledger.
func New(dir *datadir.Dir, source Source, st store.Store, cfg Config) *Engine {
	if st == nil {
		st = store.Nop{}
	}
	tags := cfg.Tags
	if len(tags) == 0 {
		tags = reconcile.DefaultTags
	}
	return &Engine{
		dir:      dir,
		source:   source,
		store:    st,
		query:    cfg.Query,
		baseline: cfg.Baseline.UTC(),
		tags:     tags,
		now:      time.Now,
	}
}

// Options controls a single run.
type Options struct {
	// FullRefresh treats the fetch as authoritative for every non-baseline
	// entity. Otherwise prior entities absent from the fetch survive.
	FullRefresh bool
	// Now overrides the run instant. Zero means the wall clock.
	Now time.Time
}

// Report summarizes a completed run.
type Report struct {
	RunID                  string                   `json:"run_id,omitempty"`
	Mode                   model.MergeMode          `json:"mode"`
	Provider               string                   `json:"provider"`
	HasContributorMetadata bool                     `json:"has_contributor_metadata"`
	Fetched                int                      `json:"fetched"`
	SkippedBaseline        int                      `json:"skipped_baseline"`
	DiscoveredToday        int                      `json:"discovered_today"`
	Updated                int                      `json:"updated"`
	Dropped                int                      `json:"dropped"`
	BaselineCount          int                      `json:"baseline_count"`
	NewCount               int                      `json:"new_count"`
	Leaderboard            []model.LeaderboardEntry `json:"leaderboard"`
	Summary                model.Summary            `json:"-"`
}

// Run performs one reconciliation. Nothing is written unless every stage
// up to the summary succeeds, so provider exhaustion leaves the catalog
// untouched on disk.
func (e *Engine) Run(ctx context.Context, opts Options) (*Report, error) {
	now := opts.Now
	if now.IsZero() {
		now = e.now()
	}
	now = now.UTC()
	today := now.Format(model.DateLayout)
	mode := model.ParseMergeMode(opts.FullRefresh)

	log := zap.L().With(zap.String("component", "daily.engine"), zap.String("mode", string(mode)))
	log.Info("daily: starting run", zap.String("today", today))

	run, err := e.store.CreateRun(ctx, model.RunKindDaily, mode)
	if err != nil {
		log.Warn("daily: failed to create run record", zap.Error(err))
		run = nil
	}
	fail := func(err error) (*Report, error) {
		if run != nil && run.ID != "" {
			if ferr := e.store.FailRun(ctx, run.ID, err.Error(), resilience.ClassifyError(err)); ferr != nil {
				log.Warn("daily: failed to record failure", zap.Error(ferr))
			}
		}
		log.Error("daily: run failed", zap.Error(err))
		return nil, err
	}

	prior, err := e.dir.Load(ctx)
	if err != nil {
		return fail(eris.Wrap(err, "daily: load catalog"))
	}

	q := e.query
	q.Output = provider.OutputMeta
	newer := e.newerThan(prior, mode)
	q.NewerThan = &newer
	log.Info("daily: querying providers", zap.Time("newer_than", newer))

	resp, err := e.source.Select(ctx, q)
	if err != nil {
		return fail(eris.Wrap(err, "daily: select provider"))
	}

	batch := reconcile.NormalizeResponse(resp, e.tags)
	if !batch.HasContributorMetadata {
		log.Warn("daily: provider returned no contributor metadata, leaderboard quality is reduced",
			zap.String("provider", batch.Endpoint),
		)
	}

	res := reconcile.Merge(batch, *prior, mode, today)
	summary := reconcile.Summarize(res.Catalog, now)

	if err := e.dir.Save(&res.Catalog, summary); err != nil {
		return fail(eris.Wrap(err, "daily: save catalog"))
	}

	report := &Report{
		Mode:                   mode,
		Provider:               batch.Endpoint,
		HasContributorMetadata: batch.HasContributorMetadata,
		Fetched:                res.Fetched,
		SkippedBaseline:        res.SkippedBaseline,
		DiscoveredToday:        len(res.Discovered),
		Updated:                len(res.Updated),
		Dropped:                len(res.Dropped),
		BaselineCount:          summary.BaselineCount,
		NewCount:               summary.NewCount,
		Leaderboard:            topN(summary.Leaderboard, ReportLeaderboardSize),
		Summary:                summary,
	}
	if run != nil && run.ID != "" {
		report.RunID = run.ID
		if cerr := e.store.CompleteRun(ctx, run.ID, &model.RunResult{
			Provider:        report.Provider,
			Fetched:         report.Fetched,
			DiscoveredToday: report.DiscoveredToday,
			NewCount:        report.NewCount,
			BaselineCount:   report.BaselineCount,
		}); cerr != nil {
			log.Warn("daily: failed to complete run record", zap.Error(cerr))
		}
	}

	log.Info("daily: run complete",
		zap.String("provider", report.Provider),
		zap.Int("fetched", report.Fetched),
		zap.Int("discovered_today", report.DiscoveredToday),
		zap.Int("dropped", report.Dropped),
		zap.Int("new_count", report.NewCount),
		zap.Int("baseline_count", report.BaselineCount),
	)
	return report, nil
}

// newerThan is the baseline cutoff for full refreshes. Incremental runs
// start from the latest known edit when it is later than the cutoff.
func (e *Engine) newerThan(prior *model.Catalog, mode model.MergeMode) time.Time {
	if mode == model.MergeIncremental {
		if latest := prior.LatestEdit(); latest != nil && latest.After(e.baseline) {
			return latest.UTC()
		}
	}
	return e.baseline
}

func topN(board []model.LeaderboardEntry, n int) []model.LeaderboardEntry {
	if len(board) > n {
		board = board[:n]
	}
	out := make([]model.LeaderboardEntry, len(board))
	copy(out, board)
	return out
}

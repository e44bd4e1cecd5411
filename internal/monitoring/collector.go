package monitoring

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/lampioni/lampioni/internal/datadir"
	"github.com/lampioni/lampioni/internal/model"
	"github.com/lampioni/lampioni/internal/store"
)

// historyLimit bounds how many daily runs are scanned per collection.
const historyLimit = 500

// Snapshot holds a point-in-time view of catalog health.
type Snapshot struct {
	// Daily run metrics (within lookback window).
	DailyTotal    int     `json:"daily_total"`
	DailyComplete int     `json:"daily_complete"`
	DailyFailed   int     `json:"daily_failed"`
	DailyRunning  int     `json:"daily_running"`
	DailyFailRate float64 `json:"daily_fail_rate"`

	// ConsecutiveFailures counts failed daily runs since the last success,
	// regardless of the lookback window.
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastSuccessAt       *time.Time `json:"last_success_at,omitempty"`
	LastProvider        string     `json:"last_provider,omitempty"`

	// Catalog metrics from the persisted summary. Zero when unseeded.
	CatalogLastUpdated *time.Time `json:"catalog_last_updated,omitempty"`
	CatalogAgeHours    float64    `json:"catalog_age_hours"`
	BaselineCount      int        `json:"baseline_count"`
	NewCount           int        `json:"new_count"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// SummaryReader abstracts the data directory methods needed by the collector.
type SummaryReader interface {
	LoadSummary() (*model.Summary, error)
}

// Collector gathers metrics from the run ledger and the data directory.
type Collector struct {
	store     store.Store
	summaries SummaryReader
	now       func() time.Time
}

// NewCollector creates a new metrics collector. Either source may be nil.
func NewCollector(st store.Store, summaries SummaryReader) *Collector {
	return &Collector{store: st, summaries: summaries, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	if c.store != nil {
		if err := c.collectRuns(ctx, snap, now.Add(-time.Duration(lookbackHours)*time.Hour)); err != nil {
			return nil, err
		}
	}
	if c.summaries != nil {
		if err := c.collectCatalog(snap, now); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

func (c *Collector) collectRuns(ctx context.Context, snap *Snapshot, cutoff time.Time) error {
	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		Kind:  model.RunKindDaily,
		Limit: historyLimit,
	})
	if err != nil {
		return eris.Wrap(err, "monitoring: list runs")
	}

	// Runs arrive newest first; the failure streak ends at the first success.
	streak := true
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			if snap.LastSuccessAt == nil {
				at := r.StartedAt
				if r.FinishedAt != nil {
					at = *r.FinishedAt
				}
				snap.LastSuccessAt = &at
				if r.Result != nil {
					snap.LastProvider = r.Result.Provider
				}
			}
			streak = false
		case model.RunStatusFailed:
			if streak {
				snap.ConsecutiveFailures++
				if snap.LastError == "" {
					snap.LastError = r.Error
				}
			}
		}

		if r.StartedAt.Before(cutoff) {
			continue
		}
		snap.DailyTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.DailyComplete++
		case model.RunStatusFailed:
			snap.DailyFailed++
		case model.RunStatusRunning:
			snap.DailyRunning++
		}
	}

	if finished := snap.DailyComplete + snap.DailyFailed; finished > 0 {
		snap.DailyFailRate = float64(snap.DailyFailed) / float64(finished)
	}
	return nil
}

func (c *Collector) collectCatalog(snap *Snapshot, now time.Time) error {
	s, err := c.summaries.LoadSummary()
	if errors.Is(err, datadir.ErrMissingPrerequisite) {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "monitoring: load summary")
	}

	snap.BaselineCount = s.BaselineCount
	snap.NewCount = s.NewCount
	if ts, err := time.Parse(time.RFC3339, s.LastUpdated); err == nil {
		ts = ts.UTC()
		snap.CatalogLastUpdated = &ts
		snap.CatalogAgeHours = now.Sub(ts).Hours()
	}
	return nil
}

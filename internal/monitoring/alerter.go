// Package monitoring watches the run ledger and the persisted summary and
// raises alerts when the daily reconciliation stops keeping up.
package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertConsecutiveFailures AlertType = "daily_consecutive_failures"
	AlertFailureRate         AlertType = "daily_failure_rate"
	AlertCatalogStale        AlertType = "catalog_stale"
)

// minFinishedForRate is the number of finished runs below which the failure
// rate is not evaluated.
const minFinishedForRate = 3

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a Snapshot against configured thresholds and sends
// alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
// A zero threshold disables its check.
func (a *Alerter) Evaluate(snap *Snapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	if a.cfg.MaxConsecutiveFailures > 0 && snap.ConsecutiveFailures >= a.cfg.MaxConsecutiveFailures {
		alerts = append(alerts, Alert{
			Type:     AlertConsecutiveFailures,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d consecutive daily runs failed (threshold %d): %s",
				snap.ConsecutiveFailures, a.cfg.MaxConsecutiveFailures, snap.LastError,
			),
			Details: map[string]any{
				"consecutive_failures": snap.ConsecutiveFailures,
				"threshold":            a.cfg.MaxConsecutiveFailures,
				"last_success_at":      snap.LastSuccessAt,
			},
			Timestamp: now,
		})
	}

	finished := snap.DailyComplete + snap.DailyFailed
	if a.cfg.FailureRateThreshold > 0 && finished >= minFinishedForRate && snap.DailyFailRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertFailureRate,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Daily failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.DailyFailRate*100, a.cfg.FailureRateThreshold*100,
				snap.DailyFailed, finished, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.DailyFailRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.DailyFailed,
				"finished":     finished,
			},
			Timestamp: now,
		})
	}

	if a.cfg.StaleAfterHours > 0 && snap.CatalogLastUpdated != nil && snap.CatalogAgeHours > float64(a.cfg.StaleAfterHours) {
		alerts = append(alerts, Alert{
			Type:     AlertCatalogStale,
			Severity: "high",
			Message: fmt.Sprintf(
				"Catalog last updated %.1fh ago, threshold %dh",
				snap.CatalogAgeHours, a.cfg.StaleAfterHours,
			),
			Details: map[string]any{
				"last_updated": snap.CatalogLastUpdated,
				"age_hours":    snap.CatalogAgeHours,
				"threshold":    a.cfg.StaleAfterHours,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}

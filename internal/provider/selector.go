package provider

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/lampioni/lampioni/internal/resilience"
)

// DefaultRateLimitPause is how long the selector waits after an HTTP 429
// before moving on to the next endpoint.
const DefaultRateLimitPause = 10 * time.Second

// Client runs a query against one endpoint of a given dialect.
type Client interface {
	Query(ctx context.Context, ep Endpoint, q Query) (*Response, error)
}

// SelectorOptions tune a Selector. Zero values pick the defaults.
type SelectorOptions struct {
	MaxAge         time.Duration
	RateLimitPause time.Duration
	Now            func() time.Time
	Sleep          func(ctx context.Context, d time.Duration) error
}

// Selector walks an ordered endpoint list and returns the first fresh,
// structurally valid response.
type Selector struct {
	endpoints []Endpoint
	clients   map[Kind]Client
	opts      SelectorOptions
	log       *zap.Logger
}

// NewSelector creates a selector over endpoints in priority order.
func NewSelector(endpoints []Endpoint, clients map[Kind]Client, opts SelectorOptions) *Selector {
	if opts.MaxAge <= 0 {
		opts.MaxAge = DefaultMaxAge
	}
	if opts.RateLimitPause < 0 {
		opts.RateLimitPause = 0
	} else if opts.RateLimitPause == 0 {
		opts.RateLimitPause = DefaultRateLimitPause
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepCtx
	}
	return &Selector{
		endpoints: endpoints,
		clients:   clients,
		opts:      opts,
		log:       zap.L().With(zap.String("component", "provider.selector")),
	}
}

// Endpoints returns the configured priority list.
func (s *Selector) Endpoints() []Endpoint {
	return s.endpoints
}

// Select tries each endpoint once, in order. Every failure (transport error,
// non-2xx, malformed body, stale data) moves on to the next endpoint; after an
// HTTP 429 the selector pauses first. When no endpoint succeeds the returned
// error matches ErrAllProvidersExhausted.
func (s *Selector) Select(ctx context.Context, q Query) (*Response, error) {
	attempts := make([]Attempt, 0, len(s.endpoints))

	for i, ep := range s.endpoints {
		if err := ctx.Err(); err != nil {
			return nil, eris.Wrap(err, "provider: select cancelled")
		}

		start := time.Now()
		resp, err := s.try(ctx, ep, q)
		elapsed := time.Since(start)
		if err == nil {
			s.log.Info("provider selected",
				zap.String("endpoint", ep.Name),
				zap.Int("elements", len(resp.Elements)),
				zap.Bool("metadata", resp.HasContributorMetadata),
				zap.Duration("elapsed", elapsed),
			)
			return resp, nil
		}

		attempts = append(attempts, Attempt{Endpoint: ep.Name, Err: err, Elapsed: elapsed})
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "provider: select cancelled")
		}

		s.log.Warn("provider attempt failed",
			zap.String("endpoint", ep.Name),
			zap.String("reason", failureReason(err)),
			zap.String("class", resilience.ClassifyError(err)),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)

		if resilience.IsRateLimited(err) && i < len(s.endpoints)-1 {
			s.log.Info("rate limited, pausing before next endpoint",
				zap.String("endpoint", ep.Name),
				zap.Duration("pause", s.opts.RateLimitPause),
			)
			if serr := s.opts.Sleep(ctx, s.opts.RateLimitPause); serr != nil {
				return nil, eris.Wrap(serr, "provider: select cancelled")
			}
		}
	}

	return nil, &ExhaustedError{Attempts: attempts}
}

func (s *Selector) try(ctx context.Context, ep Endpoint, q Query) (*Response, error) {
	client, ok := s.clients[ep.Kind]
	if !ok {
		return nil, eris.Errorf("provider %s: no client for kind %q", ep.Name, ep.Kind)
	}

	timeout := ep.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	qctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resp, err := client.Query(qctx, ep, q)
	if err != nil {
		return nil, err
	}

	now := s.opts.Now()
	if !IsFresh(resp.DataTimestamp, now, s.opts.MaxAge) {
		return nil, &StaleError{
			Endpoint:      ep.Name,
			DataTimestamp: *resp.DataTimestamp,
			Age:           now.Sub(*resp.DataTimestamp),
			MaxAge:        s.opts.MaxAge,
		}
	}
	if resp.Endpoint == "" {
		resp.Endpoint = ep.Name
	}
	return resp, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// failureReason names the attempt outcome for logs.
func failureReason(err error) string {
	switch {
	case errors.Is(err, ErrStale):
		return "stale"
	case IsMalformed(err):
		return "malformed"
	case resilience.IsRateLimited(err):
		return "rate_limited"
	default:
		return "error"
	}
}

// Package fetcher provides the HTTP transport used to talk to query providers.
package fetcher

import (
	"context"
	"net/url"
)

// Fetcher posts a form-encoded query to a provider endpoint and returns the
// full response body. Non-2xx statuses are returned as errors; transient ones
// wrap a *resilience.TransientError carrying the status code.
type Fetcher interface {
	PostForm(ctx context.Context, rawURL string, form url.Values) ([]byte, error)
}

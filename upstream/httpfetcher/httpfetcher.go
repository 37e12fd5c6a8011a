// Package httpfetcher implements upstream.Fetcher against a single JSON
// HTTP endpoint, in the teacher's plain net/http style (no HTTP framework
// anywhere in the retrieval pack's server code).
package httpfetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/quantfeed/nexus/snapshot"
	"github.com/quantfeed/nexus/upstream"
)

// Fetcher retrieves a Snapshot by issuing a GET to URL and decoding the
// response body as a JSON object.
type Fetcher struct {
	URL    string
	Client *http.Client
}

// New constructs a Fetcher against url using http.DefaultClient. Callers
// that need custom timeouts/transport should set Client directly.
func New(url string) *Fetcher {
	return &Fetcher{URL: url, Client: http.DefaultClient}
}

func (f *Fetcher) Fetch(ctx context.Context) (snapshot.Snapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", upstream.ErrUnavailable, err)
	}

	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Join(upstream.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, upstream.ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", upstream.ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Join(upstream.ErrUnavailable, err)
	}

	snap, err := snapshot.Unmarshal(body)
	if err != nil {
		return nil, errors.Join(upstream.ErrUnavailable, err)
	}
	return snap, nil
}

var _ upstream.Fetcher = (*Fetcher)(nil)

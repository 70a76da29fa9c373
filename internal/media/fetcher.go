// Package media provides the download capability for extracted video
// references.
package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"wp2s3/internal/extract"
)

// Fetcher opens a byte stream for a media reference. The returned size is
// the total length in bytes, or -1 when unknown. The caller must close the
// stream.
type Fetcher interface {
	Open(ctx context.Context, ref extract.Reference) (io.ReadCloser, int64, error)
}

// HTTPFetcher resolves the reference to a direct URL and streams it over
// HTTP.
type HTTPFetcher struct {
	resolver *Resolver
	client   *http.Client
}

// NewHTTPFetcher creates a fetcher backed by the given resolver.
func NewHTTPFetcher(resolver *Resolver) *HTTPFetcher {
	return &HTTPFetcher{
		resolver: resolver,
		client: &http.Client{
			Timeout: 30 * time.Minute, // videos can be large
		},
	}
}

// Open streams the media identified by ref.
func (f *HTTPFetcher) Open(ctx context.Context, ref extract.Reference) (io.ReadCloser, int64, error) {
	directURL, err := f.resolver.ResolveURL(ctx, ref.WatchURL)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to resolve media url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, directURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to download media: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, 0, fmt.Errorf("unexpected status code: %d", resp.StatusCode)
	}

	return resp.Body, resp.ContentLength, nil
}

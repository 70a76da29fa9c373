// Package source fetches records page by page from a WordPress-style
// listing endpoint.
package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// pageSize is the fixed number of records requested per page.
const pageSize = 100

// ErrUnavailable indicates the listing endpoint could not be read.
// It is fatal to the run that encountered it; records already yielded
// from earlier pages remain valid.
var ErrUnavailable = errors.New("source unavailable")

// Record is one unit of source content. Immutable once constructed.
type Record struct {
	ID          string
	Title       string
	RawContent  string
	PublishedAt time.Time
}

// post mirrors one item of the wp-json/wp/v2/posts response.
type post struct {
	ID      int      `json:"id"`
	Date    string   `json:"date"`
	Title   rendered `json:"title"`
	Content rendered `json:"content"`
}

type rendered struct {
	Rendered string `json:"rendered"`
}

// Client reads paginated records from a remote listing endpoint.
type Client struct {
	apiURL string
	http   *http.Client
	logger *zap.Logger
}

// NewClient creates a source client for the given listing endpoint.
func NewClient(apiURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		apiURL: apiURL,
		http:   &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// Fetch returns a lazy, single-pass sequence of records starting from page 1.
// It stops when the source reports no further pages, when an empty page is
// returned, or when maxCount records have been yielded (maxCount <= 0 means
// no cap). No page request is issued once the cap is reached. A failed page
// request is sent on the error channel and ends the sequence.
func (c *Client) Fetch(ctx context.Context, maxCount int) (<-chan Record, <-chan error) {
	recCh := make(chan Record)
	errCh := make(chan error, 1)

	go func() {
		defer close(recCh)
		defer close(errCh)

		yielded := 0
		for page := 1; ; page++ {
			posts, totalPages, err := c.fetchPage(ctx, page)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				errCh <- err
				return
			}

			if len(posts) == 0 {
				return
			}

			c.logger.Debug("Fetched page",
				zap.Int("page", page),
				zap.Int("records", len(posts)),
				zap.Int("total_pages", totalPages),
			)

			for i := range posts {
				select {
				case recCh <- newRecord(&posts[i]):
				case <-ctx.Done():
					return
				}

				yielded++
				if maxCount > 0 && yielded >= maxCount {
					return
				}
			}

			if totalPages > 0 && page >= totalPages {
				return
			}
		}
	}()

	return recCh, errCh
}

func (c *Client) fetchPage(ctx context.Context, page int) ([]post, int, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: invalid api url %q: %v", ErrUnavailable, c.apiURL, err)
	}

	q := u.Query()
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(pageSize))
	q.Set("orderby", "date")
	q.Set("order", "desc")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: build request for page %d: %v", ErrUnavailable, page, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: fetch page %d: %v", ErrUnavailable, page, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, 0, fmt.Errorf("%w: page %d returned status %d", ErrUnavailable, page, resp.StatusCode)
	}

	var posts []post
	if err := json.NewDecoder(resp.Body).Decode(&posts); err != nil {
		return nil, 0, fmt.Errorf("%w: decode page %d: %v", ErrUnavailable, page, err)
	}

	totalPages := 0
	if v := resp.Header.Get("X-WP-TotalPages"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			totalPages = n
		}
	}

	return posts, totalPages, nil
}

func newRecord(p *post) Record {
	rec := Record{
		ID:         strconv.Itoa(p.ID),
		Title:      p.Title.Rendered,
		RawContent: p.Content.Rendered,
	}

	// The timestamp is metadata only; a malformed date is not an error.
	if t, err := time.Parse("2006-01-02T15:04:05", p.Date); err == nil {
		rec.PublishedAt = t
	} else if t, err := time.Parse(time.RFC3339, p.Date); err == nil {
		rec.PublishedAt = t
	}

	return rec
}

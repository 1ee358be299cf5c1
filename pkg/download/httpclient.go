package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	pkgerrors "github.com/glorpus-work/modelstore/pkg/errors"
)

// HTTPClient implements TransferClient over net/http.
type HTTPClient struct {
	client    *http.Client
	userAgent string
}

// NewHTTPClient creates a transfer client with the given per-request timeout
// and user agent.
func NewHTTPClient(timeout time.Duration, userAgent string) *HTTPClient {
	if userAgent == "" {
		userAgent = "modelstore/1.0"
	}
	return &HTTPClient{
		client:    &http.Client{Timeout: timeout},
		userAgent: userAgent,
	}
}

// Probe issues a HEAD request and inspects Accept-Ranges and Content-Length.
// Sources that reject HEAD are probed with a one-byte range GET instead.
func (c *HTTPClient) Probe(ctx context.Context, url string) (Capabilities, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, http.NoBody)
	if err != nil {
		return Capabilities{}, pkgerrors.Wrap(err, "failed to create probe request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err == nil && resp.StatusCode == http.StatusOK {
		caps := Capabilities{
			AcceptRanges:  strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes"),
			ContentLength: resp.ContentLength,
		}
		_ = resp.Body.Close()
		return caps, nil
	}
	if err == nil {
		_ = resp.Body.Close()
	}

	return c.probeWithRangeGet(ctx, url)
}

// probeWithRangeGet requests the first byte; a 206 answer proves range
// support.
func (c *HTTPClient) probeWithRangeGet(ctx context.Context, url string) (Capabilities, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return Capabilities{}, pkgerrors.Wrap(err, "failed to create probe request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Range", "bytes=0-0")

	resp, err := c.client.Do(req)
	if err != nil {
		return Capabilities{}, pkgerrors.Wrap(err, "probe failed")
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return Capabilities{AcceptRanges: true, ContentLength: parseContentRangeTotal(resp.Header.Get("Content-Range"))}, nil
	case http.StatusOK:
		return Capabilities{AcceptRanges: false, ContentLength: resp.ContentLength}, nil
	default:
		return Capabilities{}, fmt.Errorf("unexpected status code %d: %w", resp.StatusCode, pkgerrors.ErrDownloadFailed)
	}
}

// FetchRange requests [start, end) with a Range header. A 200 answer means
// the source stopped honoring ranges, which is surfaced as a non-retryable
// error rather than silently downgrading to a full re-fetch.
func (c *HTTPClient) FetchRange(ctx context.Context, url string, start, end int64) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end-1))

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "range fetch failed")
	}

	switch resp.StatusCode {
	case http.StatusPartialContent:
		return resp.Body, nil
	case http.StatusOK:
		_ = resp.Body.Close()
		return nil, pkgerrors.ErrRangeSupportDropped
	default:
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code %d: %w", resp.StatusCode, pkgerrors.ErrDownloadFailed)
	}
}

// Fetch requests the complete body.
func (c *HTTPClient) Fetch(ctx context.Context, url string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to create request")
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "fetch failed")
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, fmt.Errorf("unexpected status code %d: %w", resp.StatusCode, pkgerrors.ErrDownloadFailed)
	}
	return resp.Body, nil
}

// parseContentRangeTotal extracts the total size from a Content-Range header
// of the form "bytes 0-0/12345", returning -1 when absent or unparsable.
func parseContentRangeTotal(header string) int64 {
	idx := strings.LastIndex(header, "/")
	if idx < 0 || idx == len(header)-1 {
		return -1
	}
	var total int64
	if _, err := fmt.Sscanf(header[idx+1:], "%d", &total); err != nil {
		return -1
	}
	return total
}

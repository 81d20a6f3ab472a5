package research

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"
)

// ErrUnprocessable marks 422-class upstream responses; callers may fall back
// to a simpler operation (extract -> scrape).
var ErrUnprocessable = errors.New("upstream could not process entity")

// HTTPClient wraps outbound JSON calls with pure exponential backoff retry.
// Each call site owns its own attempt budget; there is no circuit breaking.
type HTTPClient struct {
	client  *http.Client
	retries int
	backoff time.Duration
}

func NewHTTPClient(timeout time.Duration, retries int, backoff time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	if retries < 0 {
		retries = 0
	}
	if backoff == 0 {
		backoff = 400 * time.Millisecond
	}
	return &HTTPClient{client: &http.Client{Timeout: timeout}, retries: retries, backoff: backoff}
}

// DoJSON performs the request, retrying on any failure with backoff
// base * 2^attempt. The backoff sleep is cancellable via ctx. After the
// attempt budget is spent the last error is returned.
func (c *HTTPClient) DoJSON(ctx context.Context, method, url string, headers map[string]string, body any, out any) error {
	var payload []byte
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = b
	}

	var lastErr error
	tries := c.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		var bodyReader io.Reader
		if payload != nil {
			bodyReader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		if payload != nil && req.Header.Get("Content-Type") == "" {
			req.Header.Set("Content-Type", "application/json")
		}

		resp, err := c.client.Do(req)
		if err != nil {
			lastErr = err
		} else {
			lastErr = consumeJSON(resp, out)
			if lastErr == nil || errors.Is(lastErr, ErrUnprocessable) {
				return lastErr
			}
		}

		if attempt < tries-1 {
			select {
			case <-time.After(c.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// WithRetry wraps a Fetcher so each Fetch gets retries additional attempts
// with backoff base * 2^attempt, the same policy DoJSON applies to JSON
// calls. Fetchers that already retry internally should not be wrapped.
func WithRetry(f Fetcher, retries int, backoff time.Duration) Fetcher {
	if retries <= 0 {
		return f
	}
	if backoff <= 0 {
		backoff = 400 * time.Millisecond
	}
	return &retryFetcher{inner: f, retries: retries, backoff: backoff}
}

type retryFetcher struct {
	inner   Fetcher
	retries int
	backoff time.Duration
}

func (r *retryFetcher) Fetch(ctx context.Context, url string) (SourceDocument, error) {
	var lastErr error
	tries := r.retries + 1
	for attempt := 0; attempt < tries; attempt++ {
		doc, err := r.inner.Fetch(ctx, url)
		if err == nil {
			return doc, nil
		}
		lastErr = err
		if attempt < tries-1 {
			select {
			case <-time.After(r.backoff * time.Duration(1<<attempt)):
			case <-ctx.Done():
				return SourceDocument{}, ctx.Err()
			}
		}
	}
	return SourceDocument{}, lastErr
}

func consumeJSON(resp *http.Response, out any) error {
	defer resp.Body.Close()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if out == nil {
			return nil
		}
		return json.NewDecoder(resp.Body).Decode(out)
	}
	b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode == http.StatusUnprocessableEntity {
		return errors.Join(ErrUnprocessable, errors.New(resp.Status+": "+string(b)))
	}
	return errors.New(resp.Status + ": " + string(b))
}

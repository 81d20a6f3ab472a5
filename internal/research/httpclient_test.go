package research

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDoJSONRetriesUntilSuccess(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second, 3, time.Millisecond)
	var out struct {
		OK bool `json:"ok"`
	}
	if err := c.DoJSON(context.Background(), "GET", srv.URL, nil, nil, &out); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
	if !out.OK {
		t.Fatalf("expected ok response")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestDoJSONExhaustsBudget(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second, 2, time.Millisecond)
	err := c.DoJSON(context.Background(), "GET", srv.URL, nil, nil, nil)
	if err == nil {
		t.Fatalf("expected error after exhausted budget")
	}
	if got := atomic.LoadInt32(&calls); got != 3 {
		t.Fatalf("expected retries+1=3 attempts, got %d", got)
	}
}

func TestDoJSONUnprocessableShortCircuits(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second, 5, time.Millisecond)
	err := c.DoJSON(context.Background(), "POST", srv.URL, nil, map[string]string{"a": "b"}, nil)
	if !errors.Is(err, ErrUnprocessable) {
		t.Fatalf("expected ErrUnprocessable, got %v", err)
	}
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Fatalf("422 must not be retried, got %d attempts", got)
	}
}

func TestDoJSONCancelDuringBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	c := NewHTTPClient(time.Second, 5, time.Hour)

	done := make(chan error, 1)
	go func() { done <- c.DoJSON(ctx, "GET", srv.URL, nil, nil, nil) }()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("cancel did not interrupt backoff")
	}
}

func TestDoJSONResendsBodyOnRetry(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, 64)
		n, _ := r.Body.Read(buf)
		if n == 0 {
			t.Errorf("attempt %d received empty body", atomic.LoadInt32(&calls)+1)
		}
		if atomic.AddInt32(&calls, 1) < 2 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second, 2, time.Millisecond)
	if err := c.DoJSON(context.Background(), "POST", srv.URL, nil, map[string]string{"q": "x"}, nil); err != nil {
		t.Fatalf("DoJSON: %v", err)
	}
}

type flakyFetcher struct {
	calls    int32
	failures int32
}

func (f *flakyFetcher) Fetch(ctx context.Context, url string) (SourceDocument, error) {
	n := atomic.AddInt32(&f.calls, 1)
	if n <= f.failures {
		return SourceDocument{}, errors.New("transient")
	}
	return SourceDocument{URL: url, Title: "t", Text: "body"}, nil
}

func TestWithRetryRecoversTransientFailure(t *testing.T) {
	inner := &flakyFetcher{failures: 2}
	f := WithRetry(inner, 2, time.Millisecond)

	doc, err := f.Fetch(context.Background(), "https://a.com")
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if doc.Text != "body" {
		t.Fatalf("unexpected document: %+v", doc)
	}
	if got := atomic.LoadInt32(&inner.calls); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
}

func TestWithRetryExhaustsBudget(t *testing.T) {
	inner := &flakyFetcher{failures: 10}
	f := WithRetry(inner, 1, time.Millisecond)

	if _, err := f.Fetch(context.Background(), "https://a.com"); err == nil {
		t.Fatalf("expected error after budget spent")
	}
	if got := atomic.LoadInt32(&inner.calls); got != 2 {
		t.Fatalf("expected 2 attempts, got %d", got)
	}
}

func TestWithRetryZeroRetriesReturnsSameFetcher(t *testing.T) {
	inner := &flakyFetcher{}
	if got := WithRetry(inner, 0, time.Millisecond); got != Fetcher(inner) {
		t.Fatalf("zero retries must not wrap the fetcher")
	}
}

func TestWithRetryCancelDuringBackoff(t *testing.T) {
	inner := &flakyFetcher{failures: 10}
	f := WithRetry(inner, 3, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.Fetch(ctx, "https://a.com")
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("backoff sleep ignored cancellation")
	}
}

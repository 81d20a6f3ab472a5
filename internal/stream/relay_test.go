package stream

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/alfhq/alf/internal/research"
)

func TestRelayFrameFormat(t *testing.T) {
	rec := httptest.NewRecorder()
	relay, err := NewRelay(rec)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	if err := relay.Send(research.TextEvent("hello")); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("content type %q", ct)
	}
	body := rec.Body.String()
	frames := strings.Split(strings.TrimSuffix(body, "\n\n"), "\n\n")
	if len(frames) != 2 {
		t.Fatalf("expected connected + text frames, got %d:\n%s", len(frames), body)
	}
	if !strings.HasPrefix(frames[0], "event: status\ndata: ") {
		t.Fatalf("initial status frame malformed: %q", frames[0])
	}
	if !strings.HasPrefix(frames[1], "event: text\ndata: ") {
		t.Fatalf("text frame malformed: %q", frames[1])
	}
	var payload map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimPrefix(frames[1], "event: text\ndata: ")), &payload); err != nil {
		t.Fatalf("data is not valid JSON: %v", err)
	}
	if payload["delta"] != "hello" {
		t.Fatalf("payload %v", payload)
	}
}

func TestRelayCloseIsIdempotent(t *testing.T) {
	rec := httptest.NewRecorder()
	relay, err := NewRelay(rec)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	relay.Close()
	relay.Close()
	if !relay.Closed() {
		t.Fatalf("relay must report closed")
	}
	if err := relay.Send(research.TextEvent("late")); err != io.ErrClosedPipe {
		t.Fatalf("send after close must fail with ErrClosedPipe, got %v", err)
	}
	if strings.Contains(rec.Body.String(), "late") {
		t.Fatalf("closed relay must not write")
	}
}

func TestRelayClipsToolDetail(t *testing.T) {
	rec := httptest.NewRecorder()
	relay, err := NewRelay(rec)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	long := strings.Repeat("x", 1000)
	ev := research.ToolEvent("output", "scrape", map[string]interface{}{"output": long})
	if err := relay.Send(ev); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if strings.Contains(rec.Body.String(), long) {
		t.Fatalf("tool output must be truncated on the wire")
	}
	// in-process payload untouched
	if got := ev.Payload["output"].(string); len(got) != 1000 {
		t.Fatalf("relay must not mutate the original event")
	}
}

func TestRelayStripsDocumentBodies(t *testing.T) {
	rec := httptest.NewRecorder()
	relay, err := NewRelay(rec)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	docs := []research.SourceDocument{{URL: "https://a.com", Title: "A", Text: "SECRET-BODY"}}
	ev := research.DoneEvent(map[string]interface{}{"source_documents": docs})
	if err := relay.Send(ev); err != nil {
		t.Fatalf("Send: %v", err)
	}
	body := rec.Body.String()
	if strings.Contains(body, "SECRET-BODY") {
		t.Fatalf("done frame must not carry document text")
	}
	if !strings.Contains(body, "https://a.com") {
		t.Fatalf("done frame must keep document urls")
	}
	if docs[0].Text != "SECRET-BODY" {
		t.Fatalf("relay must not mutate the original documents")
	}
}

func TestRelayPumpClosesAfterChannel(t *testing.T) {
	rec := httptest.NewRecorder()
	relay, err := NewRelay(rec)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}
	ch := make(chan research.Event, 2)
	ch <- research.TextEvent("a")
	ch <- research.DoneEvent(nil)
	close(ch)

	if err := relay.Pump(ch); err != nil {
		t.Fatalf("Pump: %v", err)
	}
	if !relay.Closed() {
		t.Fatalf("pump must close the relay")
	}
}

func TestWriteTextStreamsDeltasAndReportsError(t *testing.T) {
	ch := make(chan research.Event, 4)
	ch <- research.StatusEvent("searching")
	ch <- research.TextEvent("partial ")
	ch <- research.TextEvent("text")
	ch <- research.ErrorEvent(io.ErrUnexpectedEOF)
	close(ch)

	var sb strings.Builder
	err := WriteText(&sb, ch)
	if sb.String() != "partial text" {
		t.Fatalf("text output %q", sb.String())
	}
	if err == nil || !strings.Contains(err.Error(), "unexpected EOF") {
		t.Fatalf("expected stream error, got %v", err)
	}
}

// brokenWriter streams normally for okWrites frames, then every write fails,
// the shape of a client dropping the connection mid-stream.
type brokenWriter struct {
	header   http.Header
	okWrites int
	writes   int
}

func (w *brokenWriter) Header() http.Header {
	if w.header == nil {
		w.header = make(http.Header)
	}
	return w.header
}

func (w *brokenWriter) WriteHeader(int) {}

func (w *brokenWriter) Write(p []byte) (int, error) {
	w.writes++
	if w.writes > w.okWrites {
		return 0, errors.New("connection reset by peer")
	}
	return len(p), nil
}

func (w *brokenWriter) Flush() {}

func TestRelayClosesOnceOnClientAbort(t *testing.T) {
	w := &brokenWriter{okWrites: 1}
	r, err := NewRelay(w)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	if err := r.Send(research.TextEvent("hello")); err == nil {
		t.Fatalf("send to a dead connection must fail")
	}
	if !r.Closed() {
		t.Fatalf("write failure must close the relay")
	}

	writesAfterAbort := w.writes
	if err := r.Send(research.TextEvent("more")); err != io.ErrClosedPipe {
		t.Fatalf("send after abort = %v, want io.ErrClosedPipe", err)
	}
	if w.writes != writesAfterAbort {
		t.Fatalf("closed relay must not touch the writer")
	}

	r.Close()
	r.Close()
	if w.writes != writesAfterAbort {
		t.Fatalf("double close must be a no-op")
	}
}

func TestRelayPumpDrainsOnClientAbort(t *testing.T) {
	w := &brokenWriter{okWrites: 1}
	r, err := NewRelay(w)
	if err != nil {
		t.Fatalf("NewRelay: %v", err)
	}

	events := make(chan research.Event, 3)
	events <- research.TextEvent("a")
	events <- research.TextEvent("b")
	events <- research.TextEvent("c")
	close(events)

	if err := r.Pump(events); err == nil {
		t.Fatalf("pump must report the send failure")
	}
	if _, open := <-events; open {
		t.Fatalf("pump must drain the channel after a failure")
	}
	if !r.Closed() {
		t.Fatalf("pump must leave the relay closed")
	}
}

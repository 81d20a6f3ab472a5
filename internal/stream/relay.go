// Package stream converts pipeline event channels into wire formats for
// HTTP clients: server-sent events and plain text.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/alfhq/alf/internal/research"
)

// maxToolDetail bounds tool event args/output on the wire. The pipeline keeps
// full payloads internally; only the relayed copy is clipped.
const maxToolDetail = 300

// Relay frames research events as server-sent events on a single response.
// It is single-consumer: one relay per HTTP request. Close is idempotent and
// every Send after Close reports io.ErrClosedPipe.
type Relay struct {
	w       io.Writer
	flusher http.Flusher

	mu     sync.Mutex
	closed bool
}

// NewRelay prepares an SSE session on w. It sets the stream headers, writes
// the opening status frame and flushes so proxies and clients see the stream
// immediately. Returns an error when w cannot stream.
func NewRelay(w http.ResponseWriter) (*Relay, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming unsupported by response writer")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	r := &Relay{w: w, flusher: flusher}
	if err := r.Send(research.StatusEvent("connected")); err != nil {
		return nil, err
	}
	return r, nil
}

// Send frames one event and flushes it. A write failure closes the relay so
// later sends fail fast instead of writing to a dead connection.
func (r *Relay) Send(ev research.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return io.ErrClosedPipe
	}

	data, err := json.Marshal(clipPayload(ev).Payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(r.w, "event: %s\ndata: %s\n\n", ev.Type, data); err != nil {
		r.closed = true
		return err
	}
	r.flusher.Flush()
	return nil
}

// Close ends the session. Safe to call more than once.
func (r *Relay) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
}

// Closed reports whether the relay no longer accepts events.
func (r *Relay) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// Pump forwards the channel to the client until the channel closes or a send
// fails, then closes the relay. It returns the first send error, if any.
func (r *Relay) Pump(events <-chan research.Event) error {
	defer r.Close()
	for ev := range events {
		if err := r.Send(ev); err != nil {
			// drain so the producer goroutine can finish
			for range events {
			}
			return err
		}
	}
	return nil
}

// clipPayload keeps wire frames small: oversized tool args/output are
// truncated and done events carry source metadata without bodies. The
// pipeline's in-process payloads are never modified.
func clipPayload(ev research.Event) research.Event {
	switch ev.Type {
	case research.EventTool:
		clipped := shallowCopy(ev)
		for k, v := range clipped.Payload {
			if k == "args" || k == "output" {
				if s, ok := v.(string); ok && len(s) > maxToolDetail {
					clipped.Payload[k] = s[:maxToolDetail] + "..."
				}
			}
		}
		return clipped
	case research.EventDone:
		docs, ok := ev.Payload["source_documents"].([]research.SourceDocument)
		if !ok {
			return ev
		}
		clipped := shallowCopy(ev)
		meta := make([]research.SourceDocument, len(docs))
		for i, d := range docs {
			meta[i] = research.SourceDocument{URL: d.URL, Title: d.Title, Date: d.Date}
		}
		clipped.Payload["source_documents"] = meta
		return clipped
	default:
		return ev
	}
}

func shallowCopy(ev research.Event) research.Event {
	out := research.Event{Type: ev.Type, Payload: make(map[string]interface{}, len(ev.Payload))}
	for k, v := range ev.Payload {
		out.Payload[k] = v
	}
	return out
}

package stream

import (
	"errors"
	"io"

	"github.com/alfhq/alf/internal/research"
)

// WriteText drains the event stream into w as plain text: text deltas are
// written verbatim, everything else is dropped. Mid-stream failure returns
// the pipeline error after whatever partial text was already written.
func WriteText(w io.Writer, events <-chan research.Event) error {
	flusher, _ := w.(interface{ Flush() })
	var streamErr error
	for ev := range events {
		switch ev.Type {
		case research.EventText:
			delta, _ := ev.Payload["delta"].(string)
			if _, err := io.WriteString(w, delta); err != nil {
				for range events {
				}
				return err
			}
			if flusher != nil {
				flusher.Flush()
			}
		case research.EventError:
			msg, _ := ev.Payload["message"].(string)
			if msg == "" {
				msg = "research failed"
			}
			streamErr = errors.New(msg)
		}
	}
	return streamErr
}

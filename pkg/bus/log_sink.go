package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// LogSink is a subscriber that writes every event it sees to an
// io.Writer, either as human-readable key=value text or as one JSON
// object per line. Register it with Subscribe("", sink.Handle, 0,
// nil) to observe all events.
type LogSink struct {
	writer   io.Writer
	jsonMode bool
}

// NewLogSink creates a LogSink writing to writer (os.Stdout if nil) in
// text mode, or JSON-lines mode when jsonMode is true.
func NewLogSink(writer io.Writer, jsonMode bool) *LogSink {
	if writer == nil {
		writer = os.Stdout
	}
	return &LogSink{writer: writer, jsonMode: jsonMode}
}

// Handle implements Handler. It never returns an error: a failing
// write is not grounds for the bus to treat the handler as broken,
// since logging is best-effort observability, not a correctness path.
func (s *LogSink) Handle(_ context.Context, event Event) error {
	if s.jsonMode {
		line, err := json.Marshal(struct {
			Type      string         `json:"type"`
			Source    string         `json:"source"`
			Payload   map[string]any `json:"payload"`
			Timestamp string         `json:"timestamp"`
		}{
			Type:      event.Type,
			Source:    event.Source,
			Payload:   event.Payload,
			Timestamp: event.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
		})
		if err != nil {
			return nil
		}
		_, _ = fmt.Fprintln(s.writer, string(line))
		return nil
	}

	_, _ = fmt.Fprintf(s.writer, "[%s] source=%s ts=%s payload=%v\n",
		event.Type, event.Source, event.Timestamp.Format("15:04:05.000"), event.Payload)
	return nil
}

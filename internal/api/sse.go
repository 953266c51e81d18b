package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

// SSE event types emitted by the streaming endpoints.
const (
	EventChunk = "chunk"
	EventTool  = "tool_calls"
	EventDone  = "done"
	EventError = "error"
)

// ChunkPayload carries one text delta.
type ChunkPayload struct {
	Text string `json:"text"`
}

// ToolCallsPayload announces tool invocations on the stream; for cached
// replays it arrives before any text.
type ToolCallsPayload struct {
	Calls json.RawMessage `json:"calls"`
}

// DonePayload terminates a successful stream.
type DonePayload struct {
	Cached bool `json:"cached"`
}

// ErrorPayload terminates a failed stream.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// errStreamingUnsupported is returned when the ResponseWriter cannot flush.
var errStreamingUnsupported = errors.New("response writer does not support flushing")

// sseHeaders prepares the response for server-sent events.
func sseHeaders(w http.ResponseWriter) (http.Flusher, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, errStreamingUnsupported
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	return flusher, nil
}

// writeEvent emits one SSE event and flushes it to the client.
func writeEvent[T any](w http.ResponseWriter, flusher http.Flusher, event string, data T) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshaling %s event: %w", event, err)
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return fmt.Errorf("writing %s event: %w", event, err)
	}
	flusher.Flush()
	return nil
}

// writeStreamError emits an error event; once a stream is open this is the
// only way to surface failures to the client.
func writeStreamError(w http.ResponseWriter, flusher http.Flusher, logger *slog.Logger, code, message string) {
	if err := writeEvent(w, flusher, EventError, ErrorPayload{Code: code, Message: message}); err != nil {
		logger.Debug("failed to write stream error", "error", err)
	}
}

package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"steward/internal/docstore"
	dErrors "steward/pkg/domain-errors"
)

const heartbeatInterval = 15 * time.Second

type subscribeFunc[T any] func(ctx context.Context, fn func(T)) (docstore.Unsubscribe, error)

// serveSnapshots streams every snapshot the subscription delivers as a
// server-sent "snapshot" event until the client goes away. Slow clients only
// ever see the latest snapshot.
func serveSnapshots[T any](h *Handler, w http.ResponseWriter, r *http.Request, op string, subscribe subscribeFunc[T], render func(T) any) {
	ctx := r.Context()
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.fail(w, r, op, dErrors.New(dErrors.CodeInternal, "streaming unsupported"))
		return
	}

	updates := make(chan T, 1)
	unsubscribe, err := subscribe(ctx, func(snapshot T) {
		for {
			select {
			case updates <- snapshot:
				return
			default:
			}
			select {
			case <-updates:
			default:
			}
		}
	})
	if err != nil {
		h.fail(w, r, op, err)
		return
	}
	defer unsubscribe()

	h.metrics.StreamOpened()
	defer h.metrics.StreamClosed()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case snapshot := <-updates:
			if err := writeEvent(w, "snapshot", render(snapshot)); err != nil {
				h.logger.DebugContext(ctx, "stream closed", "operation", op, "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, event string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

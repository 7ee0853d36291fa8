package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/warp/debt-ledger/ledger"
)

// Stream pushes a full snapshot as a server-sent event on connect and after
// every committed mutation. Idle connections get a comment frame every
// KeepAlive so proxies keep them open.
// GET /api/stream
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "Streaming unsupported", nil)
		return
	}

	ctx := r.Context()
	snapshots, err := h.Ledger.Subscribe(ctx)
	if err != nil {
		h.writeLedgerError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	keepAlive := time.NewTicker(h.KeepAlive)
	defer keepAlive.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case s, open := <-snapshots:
			if !open {
				return
			}
			if err := writeSnapshotEvent(w, s); err != nil {
				h.Log.Debug("stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSnapshotEvent(w http.ResponseWriter, s ledger.Snapshot) error {
	data, err := json.Marshal(toSnapshotDTO(s))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", data)
	return err
}

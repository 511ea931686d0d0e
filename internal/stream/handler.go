package stream

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prudhvinik1/liverelay/internal/hub"
	"github.com/prudhvinik1/liverelay/internal/models"
	"github.com/sirupsen/logrus"
)

// Handler returns the SSE endpoint. Each request registers one subscriber
// with the hub, drains its queue onto the response, and emits a comment
// frame every heartbeat interval so intermediaries keep the link open. Any
// write failure means the client is gone: the session unregisters and ends.
func Handler(h *hub.Hub, heartbeat time.Duration, logger *logrus.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		sub := h.Register()
		defer h.Unregister(sub)

		logger.Infof("Stream session %s opened from %s", sub.ID, r.RemoteAddr)

		ticker := time.NewTicker(heartbeat)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				logger.Infof("Stream session %s closed by client", sub.ID)
				return

			case event, ok := <-sub.C:
				if !ok {
					// Queue closed underneath us: the hub evicted this
					// subscriber for falling behind.
					logger.Infof("Stream session %s ended: evicted by hub", sub.ID)
					return
				}
				if err := writeEvent(w, event); err != nil {
					logger.Infof("Stream session %s ended: %v", sub.ID, err)
					return
				}
				flusher.Flush()

			case <-ticker.C:
				if _, err := fmt.Fprint(w, ": keep-alive\n\n"); err != nil {
					logger.Infof("Stream session %s ended: %v", sub.ID, err)
					return
				}
				flusher.Flush()
			}
		}
	}
}

// writeEvent frames one change event: an event-type label, the entity id
// when present, and the JSON body.
func writeEvent(w http.ResponseWriter, event *models.ChangeEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type()); err != nil {
		return err
	}
	if event.EntityID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", event.EntityID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

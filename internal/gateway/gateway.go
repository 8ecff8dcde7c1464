// Package gateway implements the Subscriber Gateway: the long-lived
// Server-Sent Events endpoint that streams review state changes to browser
// clients. It is grounded on the teacher's handleSSE (client-channel
// registration with deferred cleanup), generalized from an untyped string
// broadcast to typed, per-review JSON event frames with a heartbeat ticker.
package gateway

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/arctek/reviewsrv/review"
)

// HeartbeatInterval is the fixed cadence at which a heartbeat frame is sent
// to every live connection.
const HeartbeatInterval = 30 * time.Second

// ReviewLoader fetches the current snapshot of a review for the initial
// "connected" frame. Implemented by *review.Engine in production.
type ReviewLoader interface {
	Get(id, projectPath string) (*review.Review, error)
}

// Gateway serves one SSE connection per browser tab subscribing to a single
// review's event stream.
type Gateway struct {
	bus    *review.Bus
	loader ReviewLoader
	logger *slog.Logger
}

// New creates a Gateway backed by bus for event delivery and loader for the
// initial snapshot.
func New(bus *review.Bus, loader ReviewLoader, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{bus: bus, loader: loader, logger: logger}
}

// ServeReviewEvents streams events for the review named by reviewID and
// projectPath (may be empty) until the client disconnects or a write fails.
func (g *Gateway) ServeReviewEvents(w http.ResponseWriter, r *http.Request, reviewID, projectPath string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}
	connID := uuid.New().String()

	// Subscribe before taking the snapshot: if the snapshot were read first,
	// a mutation landing in the gap between the read and the subscription
	// would be lost entirely -- absent from the "connected" frame and never
	// published as an event, violating the no-GET-then-subscribe-race rule.
	events := make(chan review.Event, 16)
	unsubscribe := g.bus.Subscribe(reviewID, func(e review.Event) {
		select {
		case events <- e:
		default:
			// Slow consumer: drop the event rather than block the publisher.
		}
	})
	defer unsubscribe()

	snapshot, err := g.loader.Get(reviewID, projectPath)
	if err != nil {
		http.Error(w, "review not found", http.StatusNotFound)
		return
	}

	if !writeFrame(w, flusher, review.EventConnected, review.ConnectedPayload{Review: snapshot}) {
		return
	}

	ticker := time.NewTicker(HeartbeatInterval)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			g.logger.Debug("gateway client disconnected", "reviewId", reviewID, "connId", connID)
			return
		case e := <-events:
			if !writeFrame(w, flusher, e.Type, e.Payload) {
				return
			}
		case <-ticker.C:
			payload := review.HeartbeatPayload{Timestamp: time.Now().Format(time.RFC3339Nano)}
			if !writeFrame(w, flusher, review.EventHeartbeat, payload) {
				return
			}
		}
	}
}

// writeFrame writes one event/id/data record and flushes it, returning
// false if the write failed (the caller should tear the connection down).
func writeFrame(w http.ResponseWriter, flusher http.Flusher, eventType review.EventType, payload interface{}) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		return false
	}
	id := time.Now().UnixMilli()
	if _, err := fmt.Fprintf(w, "event: %s\nid: %d\ndata: %s\n\n", eventType, id, data); err != nil {
		return false
	}
	flusher.Flush()
	return true
}

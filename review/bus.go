package review

import "sync"

// EventType names the kind of payload carried by an Event.
type EventType string

const (
	EventConnected        EventType = "connected"
	EventStatusChanged    EventType = "status_changed"
	EventVersionUpdated   EventType = "version_updated"
	EventQuestionsUpdated EventType = "questions_updated"
	EventHeartbeat        EventType = "heartbeat"
)

// Event is one message published on the Bus for a single review.
type Event struct {
	ReviewID string      `json:"-"`
	Type     EventType   `json:"-"`
	Payload  interface{} `json:"-"`
}

// StatusChangedPayload is the payload of an EventStatusChanged event.
type StatusChangedPayload struct {
	Status         Status `json:"status"`
	PreviousStatus Status `json:"previousStatus"`
	PlanContent    string `json:"planContent,omitempty"`
}

// ResolvedCommentRef names a comment that transitioned to resolved and the
// resolution text recorded for it, for inclusion in a version_updated event.
type ResolvedCommentRef struct {
	CommentID  string `json:"commentId"`
	Resolution string `json:"resolution"`
}

// VersionSummary is the version{...} sub-object of a version_updated event.
type VersionSummary struct {
	Digest      string `json:"digest"`
	CreatedAt   string `json:"createdAt"`
	Description string `json:"description,omitempty"`
	Author      Author `json:"author"`
}

// VersionUpdatedPayload is the payload of an EventVersionUpdated event.
type VersionUpdatedPayload struct {
	Version          VersionSummary       `json:"version"`
	Content          string               `json:"content"`
	ResolvedComments []ResolvedCommentRef `json:"resolvedComments"`
}

// QuestionRef pairs a comment with the question attached to it, for a
// questions_updated event.
type QuestionRef struct {
	CommentID string          `json:"commentId"`
	Question  CommentQuestion `json:"question"`
}

// QuestionsUpdatedPayload is the payload of an EventQuestionsUpdated event.
type QuestionsUpdatedPayload struct {
	Questions []QuestionRef `json:"questions"`
}

// HeartbeatPayload is the payload of an EventHeartbeat event.
type HeartbeatPayload struct {
	Timestamp string `json:"timestamp"`
}

// ConnectedPayload is the payload of the synthetic "connected" event the
// Gateway sends as the first frame of every subscription.
type ConnectedPayload struct {
	Review *Review `json:"review"`
}

// Handler receives events published for the review it subscribed to.
// Handlers run synchronously on the publishing goroutine; a handler that
// panics or blocks will affect publish latency for that review, so handlers
// must be fast and must not panic. A handler failure (panic) is recovered
// by Bus.Publish and must not prevent delivery to other subscribers.
type Handler func(Event)

// Unsubscribe releases a subscription. Safe to call more than once.
type Unsubscribe func()

// Bus is an in-process, per-review publish/subscribe fan-out. It has no
// persistence and no replay: a subscriber only sees events published while
// it is subscribed.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[int]Handler
	nextID      int
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]map[int]Handler)}
}

// Subscribe registers handler to receive every event published for
// reviewID, returning a scoped Unsubscribe.
func (b *Bus) Subscribe(reviewID string, handler Handler) Unsubscribe {
	b.mu.Lock()
	if b.subscribers[reviewID] == nil {
		b.subscribers[reviewID] = make(map[int]Handler)
	}
	id := b.nextID
	b.nextID++
	b.subscribers[reviewID][id] = handler
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if subs, ok := b.subscribers[reviewID]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subscribers, reviewID)
				}
			}
		})
	}
}

// Publish dispatches event to every current subscriber of event.ReviewID.
// The order of delivery across subscribers within one Publish call is
// unspecified, but every individual subscriber still sees the review's
// events in publication order, since Publish itself is serialized behind
// the Engine's per-review mutex. A handler panic is recovered and does not
// prevent delivery to the remaining subscribers.
func (b *Bus) Publish(event Event) {
	b.mu.RLock()
	subs := b.subscribers[event.ReviewID]
	handlers := make([]Handler, 0, len(subs))
	for _, h := range subs {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		dispatch(h, event)
	}
}

func dispatch(h Handler, event Event) {
	defer func() { _ = recover() }()
	h(event)
}

// SubscriberCount reports how many handlers are currently subscribed to
// reviewID. Intended for diagnostics and tests.
func (b *Bus) SubscriberCount(reviewID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[reviewID])
}

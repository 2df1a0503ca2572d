package app

import (
	"sync"
	"time"

	"attestd/go-agent/pkg/models"
)

// NotificationEvent is one event on the consent surface stream.
type NotificationEvent struct {
	Seq       int64
	Method    string
	Payload   any
	Timestamp time.Time
}

// NotificationHub fans events out to SSE subscribers and keeps a
// bounded replay history so a consent UI that reconnects can catch up
// from its last cursor.
type NotificationHub struct {
	mu      sync.Mutex
	nextSeq int64
	limit   int
	history []NotificationEvent
	subs    map[int]chan NotificationEvent
	nextSub int
}

func NewNotificationHub(limit int) *NotificationHub {
	if limit < 1 {
		limit = 1
	}
	return &NotificationHub{
		limit: limit,
		subs:  make(map[int]chan NotificationEvent),
	}
}

func (h *NotificationHub) Publish(method string, payload any) NotificationEvent {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.nextSeq++
	event := NotificationEvent{
		Seq:       h.nextSeq,
		Method:    method,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
	h.history = append(h.history, event)
	if len(h.history) > h.limit {
		h.history = append([]NotificationEvent(nil), h.history[len(h.history)-h.limit:]...)
	}

	for id, ch := range h.subs {
		select {
		case ch <- event:
		default:
			// Slow subscriber; drop it rather than blocking consent
			// delivery.
			close(ch)
			delete(h.subs, id)
		}
	}
	return event
}

func (h *NotificationHub) Subscribe(fromSeq int64) ([]NotificationEvent, <-chan NotificationEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	replay := make([]NotificationEvent, 0)
	for _, event := range h.history {
		if event.Seq > fromSeq {
			replay = append(replay, event)
		}
	}

	id := h.nextSub
	h.nextSub++
	ch := make(chan NotificationEvent, 128)
	h.subs[id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[id]; ok {
			close(sub)
			delete(h.subs, id)
		}
	}
	return replay, ch, cancel
}

func (h *NotificationHub) BacklogSize() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.history)
}

// hubPresenter is the default consent surface: prompts go out as
// stream events, and the UI answers through the consent_decide RPC.
type hubPresenter struct {
	hub *NotificationHub
}

func (p *hubPresenter) Present(prompt models.ConsentPrompt) error {
	p.hub.Publish("consent_prompt", prompt)
	return nil
}

func (p *hubPresenter) Dismiss(sessionID string) {
	p.hub.Publish("consent_closed", map[string]string{"session_id": sessionID})
}

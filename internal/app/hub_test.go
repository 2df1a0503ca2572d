package app

import (
	"testing"

	"attestd/go-agent/pkg/models"
)

func TestHubReplayFromCursor(t *testing.T) {
	hub := NewNotificationHub(16)
	hub.Publish("consent_prompt", models.ConsentPrompt{SessionID: "cs_1"})
	second := hub.Publish("consent_prompt", models.ConsentPrompt{SessionID: "cs_2"})

	replay, _, cancel := hub.Subscribe(second.Seq - 1)
	defer cancel()
	if len(replay) != 1 {
		t.Fatalf("expected one replayed event, got %d", len(replay))
	}
	if got := replay[0].Payload.(models.ConsentPrompt).SessionID; got != "cs_2" {
		t.Fatalf("unexpected replayed event: %s", got)
	}
}

func TestHubHistoryIsBounded(t *testing.T) {
	hub := NewNotificationHub(4)
	for i := 0; i < 10; i++ {
		hub.Publish("consent_closed", nil)
	}
	if got := hub.BacklogSize(); got != 4 {
		t.Fatalf("expected backlog of 4, got %d", got)
	}
}

func TestHubLiveDelivery(t *testing.T) {
	hub := NewNotificationHub(16)
	_, ch, cancel := hub.Subscribe(0)
	defer cancel()

	want := hub.Publish("consent_prompt", models.ConsentPrompt{SessionID: "cs_live"})
	got := <-ch
	if got.Seq != want.Seq || got.Method != "consent_prompt" {
		t.Fatalf("unexpected event: %+v", got)
	}
}

func TestHubCancelStopsDelivery(t *testing.T) {
	hub := NewNotificationHub(16)
	_, ch, cancel := hub.Subscribe(0)
	cancel()
	if _, open := <-ch; open {
		t.Fatal("cancel must close the subscriber channel")
	}
}

package ws

import (
	"testing"

	"hobbymeet-sync/internal/models"
)

func TestHubAddAndRemoveSubscriber(t *testing.T) {
	hub := NewHub()

	hub.Add(nil, "evt-1", SubscriberInfo{ConnID: "c1"})
	if hub.Count() != 1 {
		t.Fatalf("expected subscriber to be registered")
	}

	if !hub.Remove(nil) {
		t.Fatalf("expected subscriber to be removed")
	}
	if hub.Remove(nil) {
		t.Fatalf("expected second remove to be a no-op")
	}
	if hub.Count() != 0 {
		t.Fatalf("expected hub to be empty")
	}
}

func TestSubscriberWantsChange(t *testing.T) {
	tests := []struct {
		room   string
		change models.Change
		want   bool
	}{
		{"", models.Change{Kind: models.ChangeMessage, RoomID: "evt-1"}, true},
		{"evt-1", models.Change{Kind: models.ChangeMessage, RoomID: "evt-1"}, true},
		{"evt-1", models.Change{Kind: models.ChangeMessage, RoomID: "evt-2"}, false},
		{"evt-1", models.Change{Kind: models.ChangeUnread}, true},
	}
	for _, tt := range tests {
		s := &subscriber{room: tt.room}
		if got := s.wants(tt.change); got != tt.want {
			t.Fatalf("wants(%q, %+v) = %v, want %v", tt.room, tt.change, got, tt.want)
		}
	}
}

package server

import (
	"context"
	"testing"
	"time"

	"github.com/urquidy/mhl-homes-frontend-sub001/internal/realtime"
)

func TestRealtimeHubPublishesToTenantSockets(t *testing.T) {
	hub := NewRealtimeHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first, cleanupFirst := hub.Subscribe(ctx, "acme", "user-1")
	defer cleanupFirst()
	second, cleanupSecond := hub.Subscribe(ctx, "acme", "user-2")
	defer cleanupSecond()

	hub.Publish(RealtimeMessage{TenantID: "acme", Event: realtime.EventAgendaUpdated})

	for _, stream := range []<-chan RealtimeMessage{first, second} {
		select {
		case received := <-stream:
			if received.Event != realtime.EventAgendaUpdated {
				t.Fatalf("expected event %s, got %s", realtime.EventAgendaUpdated, received.Event)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatal("expected realtime message within deadline")
		}
	}
	if hub.Connections("acme") != 2 {
		t.Fatalf("expected two connections, got %d", hub.Connections("acme"))
	}
}

func TestRealtimeHubIsolatedByTenant(t *testing.T) {
	hub := NewRealtimeHub()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	acmeStream, acmeCleanup := hub.Subscribe(ctx, "acme", "user-1")
	defer acmeCleanup()
	globexStream, globexCleanup := hub.Subscribe(ctx, "globex", "user-1")
	defer globexCleanup()

	hub.Publish(RealtimeMessage{TenantID: "globex", Event: realtime.EventNotification, Data: map[string]string{"id": "n-1"}})

	select {
	case <-acmeStream:
		t.Fatal("did not expect realtime message for unrelated tenant")
	case <-time.After(200 * time.Millisecond):
	}

	select {
	case msg := <-globexStream:
		if msg.TenantID != "globex" {
			t.Fatalf("expected globex, received %s", msg.TenantID)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected realtime message for subscribed tenant")
	}
}

func TestRealtimeHubClosesStreams(t *testing.T) {
	hub := NewRealtimeHub()
	ctx, cancel := context.WithCancel(context.Background())

	cancelled, _ := hub.Subscribe(ctx, "acme", "user-1")
	cancel()
	select {
	case _, ok := <-cancelled:
		if ok {
			t.Fatal("expected closed stream after context cancellation")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected stream to close after context cancellation")
	}

	open, cleanup := hub.Subscribe(context.Background(), "acme", "user-2")
	defer cleanup()
	hub.Close()
	if _, ok := <-open; ok {
		t.Fatal("expected closed stream after hub shutdown")
	}

	late, _ := hub.Subscribe(context.Background(), "acme", "user-3")
	if _, ok := <-late; ok {
		t.Fatal("expected closed stream from a closed hub")
	}
	hub.Publish(RealtimeMessage{TenantID: "acme", Event: realtime.EventAgendaUpdated})
}

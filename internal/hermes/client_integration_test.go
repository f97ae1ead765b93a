//go:build integration

package hermes

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/Sharpy077/m2mmoving-sub000/internal/notify"
)

func skipWithoutNATS(t *testing.T) string {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping integration test")
	}
	return url
}

func TestIntegration_NotifyAndEscalate(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()
	logger := slog.Default()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), logger)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	notes := make(chan notify.Notification, 1)
	escalations := make(chan notify.Escalation, 1)

	err = client.Subscribe(SubjectNotificationPrefix+">", func(subject string, data []byte) {
		var n notify.Notification
		json.Unmarshal(data, &n)
		notes <- n
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	err = client.Subscribe(SubjectEscalation, func(subject string, data []byte) {
		var e notify.Escalation
		json.Unmarshal(data, &e)
		escalations <- e
	})
	if err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}

	// Give subscription time to propagate
	time.Sleep(100 * time.Millisecond)

	if err := client.Notify(ctx, notify.Notification{
		Type: notify.KindReengageWarning, ConversationID: "conv-int", Message: "Still there?",
	}); err != nil {
		t.Fatalf("notify failed: %v", err)
	}
	if err := client.Escalate(ctx, notify.Escalation{
		ConversationID: "conv-int", Reason: "error threshold", Priority: notify.PriorityHigh,
	}); err != nil {
		t.Fatalf("escalate failed: %v", err)
	}

	select {
	case n := <-notes:
		if n.ConversationID != "conv-int" || n.Message != "Still there?" {
			t.Errorf("unexpected notification %+v", n)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
	select {
	case e := <-escalations:
		if e.Priority != notify.PriorityHigh {
			t.Errorf("unexpected escalation %+v", e)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for escalation")
	}
}

func TestIntegration_OnClose(t *testing.T) {
	natsURL := skipWithoutNATS(t)
	ctx := context.Background()

	client, err := NewClient(ctx, natsURL, os.Getenv("NATS_TOKEN"), slog.Default())
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	defer client.Close()

	closed := make(chan string, 1)
	if err := client.OnClose(func(_ context.Context, id string) error {
		closed <- id
		return nil
	}); err != nil {
		t.Fatalf("subscribe failed: %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	if err := client.Publish(SubjectClose, CloseRequest{ConversationID: "conv-int", Reason: "picked up"}); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	select {
	case id := <-closed:
		if id != "conv-int" {
			t.Errorf("expected conv-int, got %q", id)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for close request")
	}
}

package sse

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/yungbote/graphport-backend/internal/notify"
	"github.com/yungbote/graphport-backend/internal/pkg/logger"
)

func TestHubRoutesEventsByTask(t *testing.T) {
	hub := NewHub(logger.NewNop())
	taskA := uuid.New()
	taskB := uuid.New()

	clientA := hub.NewClient()
	hub.SubscribeTask(clientA, taskA)
	clientB := hub.NewClient()
	hub.SubscribeTask(clientB, taskB)

	hub.BroadcastEvent(notify.Event{
		TaskID:    taskA,
		Type:      notify.EventProgress,
		Data:      map[string]any{"percentage": 42},
		Timestamp: time.Now(),
	})

	select {
	case msg := <-clientA.Outbound:
		if msg.Channel != notify.ChannelForTask(taskA) {
			t.Fatalf("channel = %q", msg.Channel)
		}
		if msg.Type != notify.EventProgress {
			t.Fatalf("type = %q", msg.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("client A received nothing")
	}

	select {
	case msg := <-clientB.Outbound:
		t.Fatalf("client B received foreign event %+v", msg)
	default:
	}
}

func TestHubDropsWhenBufferFull(t *testing.T) {
	hub := NewHub(logger.NewNop())
	taskID := uuid.New()
	client := hub.NewClient()
	hub.SubscribeTask(client, taskID)

	// Nobody drains the client; broadcasting past the buffer must not block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.BroadcastEvent(notify.Event{TaskID: taskID, Type: notify.EventProgress})
		}
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast blocked on full client buffer")
	}
}

func TestHubRemoveClient(t *testing.T) {
	hub := NewHub(logger.NewNop())
	taskID := uuid.New()
	client := hub.NewClient()
	hub.SubscribeTask(client, taskID)
	hub.RemoveClient(client)

	hub.BroadcastEvent(notify.Event{TaskID: taskID, Type: notify.EventStatus})
	select {
	case msg := <-client.Outbound:
		t.Fatalf("removed client received %+v", msg)
	default:
	}
}

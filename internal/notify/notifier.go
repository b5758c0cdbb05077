package notify

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventStatus   EventType = "status"
	EventProgress EventType = "progress"
	EventError    EventType = "error"
)

// Event is one live update for an upload task. Delivery is best-effort:
// publish failures are logged by callers and never fail an ingestion.
type Event struct {
	TaskID    uuid.UUID      `json:"task_id"`
	Type      EventType      `json:"type"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ChannelForTask names the pub/sub channel clients subscribe to for one task.
func ChannelForTask(taskID uuid.UUID) string {
	return "task_" + taskID.String()
}

type Notifier interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type nopNotifier struct{}

// NewNop returns a notifier that drops every event. Used in tests and when
// no redis is configured.
func NewNop() Notifier { return nopNotifier{} }

func (nopNotifier) Publish(ctx context.Context, event Event) error { return nil }
func (nopNotifier) Close() error                                   { return nil }

package storage

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	TaskCreated     = "task-created"
	TaskCompleted   = "task-completed"
	TaskReopened    = "task-reopened"
	TaskDeleted     = "task-deleted"
	CategoryCreated = "category-created"
)

// Event describes one applied mutation on the optional event feed.
type Event struct {
	ID         string `json:"Id"`
	EntityID   string `json:"EntityId"`
	EntityType string `json:"EntityType"`
	Type       string `json:"Type"`
	Time       int64  `json:"Time"`
	UserID     string `json:"UserId"`
}

type eventQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

func newEvent(collection, userID, entityID, eventType string) Event {
	entityType := "task"
	if collection == collectionCategories {
		entityType = "category"
	}
	return Event{
		ID:         uuid.NewString(),
		EntityID:   entityID,
		EntityType: entityType,
		Type:       eventType,
		Time:       time.Now().UnixNano(),
		UserID:     userID,
	}
}

// publishEvent is best effort: the write has already been applied, so a
// failure here is logged and not returned.
func (s *Storage) publishEvent(ctx context.Context, ev Event) {
	if s.events == nil {
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.WithError(err).Error("marshal mutation event")
		return
	}
	if _, err := s.events.EnqueueMessage(ctx, string(data), nil); err != nil {
		s.logger.WithError(err).WithFields(log.Fields{"type": ev.Type, "entity": ev.EntityID}).Warn("unable to enqueue mutation event")
	}
}

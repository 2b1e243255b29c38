package repository

import (
	"context"
	"time"

	"github.com/jwalitptl/notifier/internal/model"
)

// EventRepository is the durable record of events and per-recipient read
// state.
type EventRepository interface {
	// CreateEvent inserts the event and one recipient row per distinct
	// recipient in a single transaction.
	CreateEvent(ctx context.Context, typeName string, actorID, objectID int64, recipientIDs []int64) (*model.Event, error)
	// ListForRecipient returns rows newest first (created_at, then event id).
	ListForRecipient(ctx context.Context, recipientID int64) ([]model.RecipientEvent, error)
	// MarkAllRead sets read_at on unread rows and returns how many changed.
	MarkAllRead(ctx context.Context, recipientID int64, at time.Time) (int64, error)
	ResolveType(ctx context.Context, name string) (*model.NotificationType, error)
	ListTypes(ctx context.Context) ([]model.NotificationType, error)
	Ping(ctx context.Context) error
}

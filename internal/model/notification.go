package model

import (
	"time"
)

// Known notification type names. The set is seeded at migration time and
// never changes at runtime.
const (
	TypePostCreated   = "post_created"
	TypePostLiked     = "post_liked"
	TypePostCommented = "post_commented"
	TypeUserFollowed  = "user_followed"
)

// NotificationTypes lists the seeded enumeration in id order.
var NotificationTypes = []string{
	TypePostCreated,
	TypePostLiked,
	TypePostCommented,
	TypeUserFollowed,
}

// IsKnownType reports whether name belongs to the enumeration.
func IsKnownType(name string) bool {
	for _, t := range NotificationTypes {
		if t == name {
			return true
		}
	}
	return false
}

type NotificationType struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Event is one immutable "actor did type to object at time" occurrence.
type Event struct {
	ID        int64     `db:"id" json:"event_id"`
	TypeID    int64     `db:"type_id" json:"-"`
	Type      string    `db:"type" json:"type"`
	ActorID   int64     `db:"actor_id" json:"actor_id"`
	ObjectID  int64     `db:"object_id" json:"object_id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// RecipientEntry is one recipient's read state for one event.
type RecipientEntry struct {
	EventID     int64      `db:"event_id" json:"event_id"`
	RecipientID int64      `db:"user_id" json:"recipient_id"`
	ReadAt      *time.Time `db:"read_at" json:"read_at,omitempty"`
}

// RecipientEvent is an Event joined with one recipient's read state, the
// row shape returned by ListForRecipient.
type RecipientEvent struct {
	EventID   int64      `db:"event_id" json:"event_id"`
	Type      string     `db:"type" json:"type"`
	ActorID   int64      `db:"actor_id" json:"actor_id"`
	ObjectID  int64      `db:"object_id" json:"object_id"`
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	ReadAt    *time.Time `db:"read_at" json:"read_at,omitempty"`
}

func (e RecipientEvent) Read() bool {
	return e.ReadAt != nil
}

// Push returns the incremental message for this row.
func (e RecipientEvent) Push() PushMessage {
	return PushMessage{
		EventID:   e.EventID,
		Type:      e.Type,
		ActorID:   e.ActorID,
		ObjectID:  e.ObjectID,
		Timestamp: e.CreatedAt,
	}
}

// Push returns the incremental message sent to live channels.
func (e *Event) Push() PushMessage {
	return PushMessage{
		EventID:   e.ID,
		Type:      e.Type,
		ActorID:   e.ActorID,
		ObjectID:  e.ObjectID,
		Timestamp: e.CreatedAt,
	}
}

// AggregatedNotification is the recipient-facing, coalesced view of every
// event sharing (ObjectID, Type). It is derived on read and never stored.
type AggregatedNotification struct {
	ObjectID              int64     `json:"object_id"`
	Type                  string    `json:"type"`
	RepresentativeEventID int64     `json:"representative_event_id"`
	LatestEventID         int64     `json:"latest_event_id"`
	// EventIDs lists every member event, ascending.
	EventIDs              []int64   `json:"event_ids"`
	ActorIDs              []int64   `json:"actor_ids"`
	LatestTimestamp       time.Time `json:"latest_timestamp"`
	Read                  bool      `json:"read"`
	Title                 string    `json:"title"`
	Message               string    `json:"message"`
}

// GroupKey identifies a coalesced group.
type GroupKey struct {
	ObjectID int64
	Type     string
}

func (n AggregatedNotification) Key() GroupKey {
	return GroupKey{ObjectID: n.ObjectID, Type: n.Type}
}

// PushMessage is the lightweight incremental payload delivered over a live
// channel.
type PushMessage struct {
	EventID   int64     `json:"event_id"`
	Type      string    `json:"type"`
	ActorID   int64     `json:"actor_id"`
	ObjectID  int64     `json:"object_id"`
	Timestamp time.Time `json:"timestamp"`
}

// RelayEnvelope carries a push to peer instances for recipients that had no
// local channel on the originating instance.
type RelayEnvelope struct {
	Origin       string      `json:"origin"`
	RecipientIDs []int64     `json:"recipient_ids"`
	Message      PushMessage `json:"message"`
}

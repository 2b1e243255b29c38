package model

import (
	"sort"
	"time"

	"github.com/jwalitptl/notifier/pkg/errors"
)

// Timestamp normalizes t to UTC at microsecond precision, the resolution the
// storage layer keeps, so a pushed value equals the value read back later.
func Timestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// SubmitRequest is the producer-facing input for one event.
type SubmitRequest struct {
	Type         string  `json:"type" binding:"required"`
	ActorID      int64   `json:"actor_id" binding:"required,gt=0"`
	ObjectID     int64   `json:"object_id" binding:"required,gt=0"`
	RecipientIDs []int64 `json:"recipient_ids" binding:"dive,gt=0"`
}

// SubmitResult reports the persisted event and how many recipients were
// pushed to on this instance. RecipientsNotified is diagnostic only.
type SubmitResult struct {
	EventID            int64 `json:"event_id"`
	RecipientsNotified int   `json:"recipients_notified"`
}

// Normalize checks r and returns a copy with recipient ids deduplicated and
// sorted. Checks run in order: type, recipients present, ids positive.
func (r SubmitRequest) Normalize() (SubmitRequest, error) {
	if !IsKnownType(r.Type) {
		return r, errors.NewInvalidType(r.Type)
	}
	if len(r.RecipientIDs) == 0 {
		return r, errors.NewEmptyRecipients()
	}
	if r.ActorID <= 0 {
		return r, errors.NewValidation("actor_id must be positive, got %d", r.ActorID)
	}
	if r.ObjectID <= 0 {
		return r, errors.NewValidation("object_id must be positive, got %d", r.ObjectID)
	}

	seen := make(map[int64]struct{}, len(r.RecipientIDs))
	ids := make([]int64, 0, len(r.RecipientIDs))
	for _, id := range r.RecipientIDs {
		if id <= 0 {
			return r, errors.NewValidation("recipient_ids must be positive, got %d", id)
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	r.RecipientIDs = ids
	return r, nil
}

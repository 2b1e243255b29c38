package aggregate

import (
	"sort"

	"github.com/jwalitptl/notifier/internal/model"
)

// Merge applies one pushed event to view and returns the updated view. view
// is not modified.
//
// A push whose event id is already a member of its group is a duplicate
// delivery and is ignored. Any other push marks the group unread, whatever
// its position relative to the group's latest event.
func Merge(view []model.AggregatedNotification, push model.PushMessage) []model.AggregatedNotification {
	out := Clone(view)
	key := model.GroupKey{ObjectID: push.ObjectID, Type: push.Type}

	idx := -1
	for i := range out {
		if out[i].Key() == key {
			idx = i
			break
		}
	}

	var g model.AggregatedNotification
	if idx < 0 {
		g = model.AggregatedNotification{
			ObjectID:              push.ObjectID,
			Type:                  push.Type,
			RepresentativeEventID: push.EventID,
			LatestEventID:         push.EventID,
			LatestTimestamp:       push.Timestamp,
			EventIDs:              []int64{push.EventID},
			ActorIDs:              []int64{push.ActorID},
			Read:                  false,
		}
	} else {
		g = out[idx]
		var added bool
		g.EventIDs, added = insertID(g.EventIDs, push.EventID)
		if !added {
			return out
		}
		g.ActorIDs, _ = insertID(g.ActorIDs, push.ActorID)
		if after(push.Timestamp, push.EventID, g.LatestTimestamp, g.LatestEventID) {
			g.LatestTimestamp = push.Timestamp
			g.LatestEventID = push.EventID
		}
		if push.EventID < g.RepresentativeEventID {
			g.RepresentativeEventID = push.EventID
		}
		g.Read = false
		out = append(out[:idx], out[idx+1:]...)
	}
	g.Title, g.Message = Render(g.Type, g.ActorIDs)

	pos := sort.Search(len(out), func(i int) bool { return newer(g, out[i]) })
	out = append(out, model.AggregatedNotification{})
	copy(out[pos+1:], out[pos:])
	out[pos] = g
	return out
}

// MarkAllRead returns a copy of view with every group read.
func MarkAllRead(view []model.AggregatedNotification) []model.AggregatedNotification {
	out := Clone(view)
	for i := range out {
		out[i].Read = true
	}
	return out
}

// Clone deep-copies view.
func Clone(view []model.AggregatedNotification) []model.AggregatedNotification {
	out := make([]model.AggregatedNotification, len(view))
	for i, g := range view {
		g.ActorIDs = append([]int64(nil), g.ActorIDs...)
		g.EventIDs = append([]int64(nil), g.EventIDs...)
		out[i] = g
	}
	return out
}

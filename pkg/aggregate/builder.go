package aggregate

import (
	"sort"
	"time"

	"github.com/jwalitptl/notifier/internal/model"
)

// Build coalesces a recipient's rows into groups ordered newest first. Input
// order does not matter.
func Build(rows []model.RecipientEvent) []model.AggregatedNotification {
	index := make(map[model.GroupKey]int, len(rows))
	groups := make([]model.AggregatedNotification, 0)

	for _, row := range rows {
		key := model.GroupKey{ObjectID: row.ObjectID, Type: row.Type}
		i, ok := index[key]
		if !ok {
			index[key] = len(groups)
			groups = append(groups, model.AggregatedNotification{
				ObjectID:              row.ObjectID,
				Type:                  row.Type,
				RepresentativeEventID: row.EventID,
				LatestEventID:         row.EventID,
				LatestTimestamp:       row.CreatedAt,
				EventIDs:              []int64{row.EventID},
				ActorIDs:              []int64{row.ActorID},
				Read:                  row.Read(),
			})
			continue
		}

		g := &groups[i]
		g.EventIDs, _ = insertID(g.EventIDs, row.EventID)
		g.ActorIDs, _ = insertID(g.ActorIDs, row.ActorID)
		if row.EventID < g.RepresentativeEventID {
			g.RepresentativeEventID = row.EventID
		}
		if after(row.CreatedAt, row.EventID, g.LatestTimestamp, g.LatestEventID) {
			g.LatestTimestamp = row.CreatedAt
			g.LatestEventID = row.EventID
		}
		g.Read = g.Read && row.Read()
	}

	for i := range groups {
		groups[i].Title, groups[i].Message = Render(groups[i].Type, groups[i].ActorIDs)
	}
	sort.Slice(groups, func(i, j int) bool { return newer(groups[i], groups[j]) })
	return groups
}

// UnreadCount is the number of groups with at least one unread member.
func UnreadCount(view []model.AggregatedNotification) int {
	n := 0
	for _, g := range view {
		if !g.Read {
			n++
		}
	}
	return n
}

// after orders events by (timestamp, id).
func after(ts time.Time, id int64, thanTS time.Time, thanID int64) bool {
	if ts.Equal(thanTS) {
		return id > thanID
	}
	return ts.After(thanTS)
}

func newer(a, b model.AggregatedNotification) bool {
	return after(a.LatestTimestamp, a.LatestEventID, b.LatestTimestamp, b.LatestEventID)
}

// insertID keeps ids sorted ascending and distinct. It reports whether id
// was added.
func insertID(ids []int64, id int64) ([]int64, bool) {
	i := sort.Search(len(ids), func(i int) bool { return ids[i] >= id })
	if i < len(ids) && ids[i] == id {
		return ids, false
	}
	ids = append(ids, 0)
	copy(ids[i+1:], ids[i:])
	ids[i] = id
	return ids, true
}

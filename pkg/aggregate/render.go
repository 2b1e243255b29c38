package aggregate

import (
	"fmt"

	"github.com/jwalitptl/notifier/internal/model"
)

type template struct {
	singular string
	plural   string
	verb     string
}

var templates = map[string]template{
	model.TypePostCreated:   {singular: "New post", plural: "New posts", verb: "published a new post"},
	model.TypePostLiked:     {singular: "New like", plural: "New likes", verb: "liked your post"},
	model.TypePostCommented: {singular: "New comment", plural: "New comments", verb: "commented on your post"},
	model.TypeUserFollowed:  {singular: "New follower", plural: "New followers", verb: "started following you"},
}

var fallback = template{singular: "New activity", plural: "New activity", verb: "interacted with your content"}

// ActorLabel is how an actor id is shown to a recipient.
func ActorLabel(id int64) string {
	return fmt.Sprintf("User %d", id)
}

// Render returns the title and message for a group. actorIDs must already be
// in display order (ascending).
func Render(notificationType string, actorIDs []int64) (title, message string) {
	tpl, ok := templates[notificationType]
	if !ok {
		tpl = fallback
	}

	switch len(actorIDs) {
	case 0:
		return tpl.singular, ""
	case 1:
		return tpl.singular, fmt.Sprintf("%s %s", ActorLabel(actorIDs[0]), tpl.verb)
	case 2:
		return tpl.plural, fmt.Sprintf("%s and %s %s", ActorLabel(actorIDs[0]), ActorLabel(actorIDs[1]), tpl.verb)
	default:
		return tpl.plural, fmt.Sprintf("%s and %d others %s", ActorLabel(actorIDs[0]), len(actorIDs)-1, tpl.verb)
	}
}

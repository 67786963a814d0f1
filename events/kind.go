package events

import (
	"net/http"
	"strconv"
)

// Kind is a category of channel activity which the bot calls out in chat.
type Kind int

const (
	Follow Kind = iota
	Raid
	Subscribe
	Redemption
)

func (k Kind) String() string {
	switch k {
	case Follow:
		return "follow"
	case Raid:
		return "raid"
	case Subscribe:
		return "subscribe"
	case Redemption:
		return "redemption"
	default:
		return "Kind(?)"
	}
}

// ParseKind returns the kind with the given name.
func ParseKind(s string) (Kind, bool) {
	for _, c := range categories {
		if c.kind.String() == s {
			return c.kind, true
		}
	}
	return 0, false
}

// Kinds lists all kinds in subscription order.
func Kinds() []Kind {
	return []Kind{Follow, Raid, Subscribe, Redemption}
}

// Named reports whether notifications of the kind carry the name of the user
// who caused them.
func (k Kind) Named() bool {
	return k == Follow || k == Redemption
}

// category describes the EventSub subscription backing a kind.
type category struct {
	kind    Kind
	typ     string
	version string
	// condition builds the subscription condition for a broadcaster ID.
	condition func(id string) map[string]string
	// forbidden is the guidance for a 403 response, usually a missing scope.
	forbidden string
}

// categories is in subscription order.
var categories = []category{
	{
		kind:    Follow,
		typ:     "channel.follow",
		version: "2",
		condition: func(id string) map[string]string {
			return map[string]string{"broadcaster_user_id": id, "moderator_user_id": id}
		},
		forbidden: "Follow events need moderator:read:followers scope. Regenerate token with that scope (see Settings).",
	},
	{
		kind:    Raid,
		typ:     "channel.raid",
		version: "1",
		condition: func(id string) map[string]string {
			return map[string]string{"to_broadcaster_user_id": id}
		},
	},
	{
		kind:    Subscribe,
		typ:     "channel.subscribe",
		version: "1",
		condition: func(id string) map[string]string {
			return map[string]string{"broadcaster_user_id": id}
		},
		forbidden: "Sub events need channel:read:subscriptions scope. Regenerate token (see Settings).",
	},
	{
		kind:    Redemption,
		typ:     "channel.channel_points_custom_reward_redemption.add",
		version: "1",
		condition: func(id string) map[string]string {
			return map[string]string{"broadcaster_user_id": id}
		},
		forbidden: "Redemption events need channel:read:redemptions (or channel:manage:redemptions). Regenerate token (see Settings).",
	},
}

// kindOf finds the kind for an EventSub subscription type.
func kindOf(typ string) (Kind, bool) {
	for _, c := range categories {
		if c.typ == typ {
			return c.kind, true
		}
	}
	return 0, false
}

// guidance gives the reason text for a failed subscription creation with
// the given HTTP status and API message.
func (c *category) guidance(status int, msg string) string {
	if status == http.StatusForbidden && c.forbidden != "" {
		return c.forbidden
	}
	if msg != "" {
		return msg
	}
	return "HTTP " + strconv.Itoa(status)
}

package eventsub

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
)

// Follow is the payload for a channel.follow notification.
type Follow struct {
	User             string `json:"user_id"`
	UserLogin        string `json:"user_login"`
	UserName         string `json:"user_name"`
	Broadcaster      string `json:"broadcaster_user_id"`
	BroadcasterLogin string `json:"broadcaster_user_login"`
	BroadcasterName  string `json:"broadcaster_user_name"`
	// Followed is the time at which the follow occurred in RFC3339Nano format.
	Followed string `json:"followed_at"`
}

// Raid is the payload for a channel.raid notification.
type Raid struct {
	From      string `json:"from_broadcaster_user_id"`
	FromLogin string `json:"from_broadcaster_user_login"`
	FromName  string `json:"from_broadcaster_user_name"`
	To        string `json:"to_broadcaster_user_id"`
	ToLogin   string `json:"to_broadcaster_user_login"`
	ToName    string `json:"to_broadcaster_user_name"`
	// Viewers is the number of viewers in the raid.
	Viewers int `json:"viewers"`
}

// Subscribe is the payload for a channel.subscribe notification.
type Subscribe struct {
	User             string `json:"user_id"`
	UserLogin        string `json:"user_login"`
	UserName         string `json:"user_name"`
	Broadcaster      string `json:"broadcaster_user_id"`
	BroadcasterLogin string `json:"broadcaster_user_login"`
	BroadcasterName  string `json:"broadcaster_user_name"`
	// Tier is "1000", "2000", or "3000".
	Tier   string `json:"tier"`
	IsGift bool   `json:"is_gift"`
}

// Redemption is the payload for a
// channel.channel_points_custom_reward_redemption.add notification.
type Redemption struct {
	ID               string `json:"id"`
	User             string `json:"user_id"`
	UserLogin        string `json:"user_login"`
	UserName         string `json:"user_name"`
	Broadcaster      string `json:"broadcaster_user_id"`
	BroadcasterLogin string `json:"broadcaster_user_login"`
	BroadcasterName  string `json:"broadcaster_user_name"`
	// Input is the text the user entered for the reward, if any.
	Input string `json:"user_input"`
	// Status is one of "unknown", "unfulfilled", "fulfilled", "canceled".
	Status string `json:"status"`
	Reward Reward `json:"reward"`
	// Redeemed is the time of the redemption in RFC3339Nano format.
	Redeemed string `json:"redeemed_at"`
}

// Reward describes a custom channel points reward.
type Reward struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Cost   int    `json:"cost"`
	Prompt string `json:"prompt"`
}

// Payload is a decoded notification event.
type Payload interface {
	// Subject is the display name of the user who caused the event, falling
	// back to their login.
	Subject() string
}

func (e *Follow) Subject() string     { return first(e.UserName, e.UserLogin) }
func (e *Raid) Subject() string       { return first(e.FromName, e.FromLogin) }
func (e *Subscribe) Subject() string  { return first(e.UserName, e.UserLogin) }
func (e *Redemption) Subject() string { return first(e.UserName, e.UserLogin) }

// first returns the first of names that isn't blank, trimmed.
func first(names ...string) string {
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			return n
		}
	}
	return ""
}

// ErrUnknownType is returned by [Decode] for subscription types without a
// payload type.
var ErrUnknownType = errors.New("unknown subscription type")

// Decode parses the event body of a notification of subscription type typ.
func Decode(typ string, event jsontext.Value) (Payload, error) {
	var p Payload
	switch typ {
	case "channel.follow":
		p = new(Follow)
	case "channel.raid":
		p = new(Raid)
	case "channel.subscribe":
		p = new(Subscribe)
	case "channel.channel_points_custom_reward_redemption.add":
		p = new(Redemption)
	default:
		return nil, fmt.Errorf("%w %q", ErrUnknownType, typ)
	}
	if err := json.Unmarshal(event, p); err != nil {
		return nil, fmt.Errorf("couldn't decode %s event: %w", typ, err)
	}
	return p, nil
}

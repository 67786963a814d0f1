package twitch

import (
	"context"
	"fmt"
	"iter"
	"net/url"

	"golang.org/x/oauth2"
)

// Subscription is an EventSub subscription as Helix reports it.
type Subscription struct {
	ID        string                `json:"id"`
	Status    string                `json:"status"`
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Created   string                `json:"created_at"`
	Transport SubscriptionTransport `json:"transport"`
	Cost      int                   `json:"cost"`
}

// SubscriptionTransport says where a subscription delivers. The bot only
// creates websocket transports; webhook fields appear when listing.
type SubscriptionTransport struct {
	Method       string `json:"method"`
	Callback     string `json:"callback,omitempty"`
	Session      string `json:"session_id,omitempty"`
	Connected    string `json:"connected_at,omitempty"`
	Disconnected string `json:"disconnected_at,omitempty"`
}

// SubscriptionRequest asks for a new subscription.
type SubscriptionRequest struct {
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition map[string]string     `json:"condition"`
	Transport SubscriptionTransport `json:"transport"`
}

const subscriptionsEP = "/helix/eventsub/subscriptions"

// Subscriptions iterates over the client's subscriptions, following
// pagination. An empty typ lists every type.
// WebSocket subscriptions are only visible with a user access token.
func Subscriptions(ctx context.Context, cl Client, tok *oauth2.Token, typ string) iter.Seq2[Subscription, error] {
	return func(yield func(Subscription, error) bool) {
		q := url.Values{}
		if typ != "" {
			q.Set("type", typ)
		}
		for {
			subs, cursor, err := helix[[]Subscription](ctx, cl, tok, "GET", endpoint(subscriptionsEP, q), nil)
			if err != nil {
				yield(Subscription{}, fmt.Errorf("couldn't get subscriptions: %w", err))
				return
			}
			for _, s := range subs {
				if !yield(s, nil) {
					return
				}
			}
			if cursor == "" {
				return
			}
			q.Set("after", cursor)
		}
	}
}

// CreateSubscription subscribes to an event type.
func CreateSubscription(ctx context.Context, cl Client, tok *oauth2.Token, sub SubscriptionRequest) (Subscription, error) {
	created, _, err := helix[[]Subscription](ctx, cl, tok, "POST", endpoint(subscriptionsEP, nil), sub)
	if err != nil {
		return Subscription{}, fmt.Errorf("couldn't create %s subscription: %w", sub.Type, err)
	}
	if len(created) != 0 {
		return created[0], nil
	}
	// 202 with no body. Echo the request back.
	r := Subscription{
		Type:      sub.Type,
		Version:   sub.Version,
		Condition: sub.Condition,
		Transport: sub.Transport,
	}
	return r, nil
}

// DeleteSubscription removes a subscription by ID.
func DeleteSubscription(ctx context.Context, cl Client, tok *oauth2.Token, id string) error {
	q := url.Values{"id": {id}}
	if _, _, err := helix[struct{}](ctx, cl, tok, "DELETE", endpoint(subscriptionsEP, q), nil); err != nil {
		return fmt.Errorf("couldn't delete EventSub subscription: %w", err)
	}
	return nil
}

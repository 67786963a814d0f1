package twitch

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"
	"golang.org/x/oauth2"
)

func TestSubscriptions(t *testing.T) {
	spy := apiresp(200, "get-eventsub-subscriptions.json")
	cl := Client{
		HTTP: &http.Client{Transport: spy},
	}
	tok := &oauth2.Token{AccessToken: "bocchi"}
	want := []Subscription{
		{
			ID:      "26b1c993-bfcf-44d9-b876-379dacafe75a",
			Status:  "enabled",
			Type:    "channel.follow",
			Version: "2",
			Condition: map[string]string{
				"broadcaster_user_id": "1234",
				"moderator_user_id":   "1234",
			},
			Created: "2020-11-10T20:08:33.12345678Z",
			Transport: SubscriptionTransport{
				Method:    "websocket",
				Session:   "AQoQexAWVYKSTIu4ec_2VAxyuhAB",
				Connected: "2020-11-10T20:08:33.12345678Z",
			},
		},
		{
			ID:      "35016908-41ff-33ce-7879-61b8dfc2ee16",
			Status:  "webhook_callback_verification_pending",
			Type:    "user.update",
			Version: "1",
			Condition: map[string]string{
				"user_id": "1234",
			},
			Created: "2020-11-10T14:32:18.730260295Z",
			Transport: SubscriptionTransport{
				Method:   "webhook",
				Callback: "https://this-is-a-callback.com",
			},
		},
	}
	var got []Subscription
	for s, err := range Subscriptions(context.Background(), cl, tok, "") {
		if err != nil {
			t.Error(err)
		}
		got = append(got, s)
	}
	if diff := cmp.Diff(got, want); diff != "" {
		t.Errorf("wrong result (+got/-want):\n%s", diff)
	}
}

func TestCreateSubscription(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		spy := apiresp(202, "create-eventsub-subscription.json")
		cl := Client{HTTP: &http.Client{Transport: spy}, ID: "kita"}
		tok := &oauth2.Token{AccessToken: "bocchi"}
		req := SubscriptionRequest{
			Type:      "channel.raid",
			Version:   "1",
			Condition: map[string]string{"to_broadcaster_user_id": "1234"},
			Transport: SubscriptionTransport{Method: "websocket", Session: "AQoQexAWVYKSTIu4ec_2VAxyuhAB"},
		}
		s, err := CreateSubscription(context.Background(), cl, tok, req)
		if err != nil {
			t.Fatal(err)
		}
		if s.ID != "f1c2a387-161a-49f9-a165-0f21d7a4e1c4" {
			t.Errorf("wrong subscription id %q", s.ID)
		}
		if spy.got.Method != "POST" {
			t.Errorf("wrong method %q", spy.got.Method)
		}
		if got := spy.got.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("wrong content type %q", got)
		}
		var body SubscriptionRequest
		if err := json.Unmarshal([]byte(spy.body), &body); err != nil {
			t.Fatalf("couldn't decode request body %q: %v", spy.body, err)
		}
		if diff := cmp.Diff(body, req); diff != "" {
			t.Errorf("wrong request body (+got/-want):\n%s", diff)
		}
	})
	t.Run("forbidden", func(t *testing.T) {
		spy := apiresp(403, "forbidden.json")
		cl := Client{HTTP: &http.Client{Transport: spy}, ID: "kita"}
		tok := &oauth2.Token{AccessToken: "bocchi"}
		req := SubscriptionRequest{Type: "channel.follow", Version: "2"}
		_, err := CreateSubscription(context.Background(), cl, tok, req)
		var ae *APIError
		if !errors.As(err, &ae) {
			t.Fatalf("wrong error: want *APIError, got %#v", err)
		}
		if ae.Status != 403 {
			t.Errorf("wrong status %d", ae.Status)
		}
	})
}

func TestDeleteSubscription(t *testing.T) {
	spy := textresp(204, "")
	cl := Client{HTTP: &http.Client{Transport: spy}, ID: "kita"}
	tok := &oauth2.Token{AccessToken: "bocchi"}
	if err := DeleteSubscription(context.Background(), cl, tok, "26b1c993"); err != nil {
		t.Fatal(err)
	}
	if spy.got.Method != "DELETE" {
		t.Errorf("wrong method %q", spy.got.Method)
	}
	if got := spy.got.URL.Query().Get("id"); got != "26b1c993" {
		t.Errorf("wrong id %q", got)
	}
}

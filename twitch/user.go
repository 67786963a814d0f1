package twitch

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"golang.org/x/oauth2"
)

// User is one entry of a Get Users response.
type User struct {
	ID              string `json:"id"`
	Login           string `json:"login"`
	DisplayName     string `json:"display_name"`
	Type            string `json:"type"`
	BroadcasterType string `json:"broadcaster_type"`
	Description     string `json:"description"`
	ProfileImageURL string `json:"profile_image_url"`
	OfflineImageURL string `json:"offline_image_url"`
	CreatedAt       string `json:"created_at"`
}

// UsersByLogin looks up users by login. Unknown logins are left out of the
// result. With no logins, Twitch describes the token's owner.
func UsersByLogin(ctx context.Context, client Client, tok *oauth2.Token, logins ...string) ([]User, error) {
	q := url.Values{}
	if len(logins) != 0 {
		q["login"] = logins
	}
	users, _, err := helix[[]User](ctx, client, tok, "GET", endpoint("/helix/users", q), nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't get users info: %w", err)
	}
	return users, nil
}

var errNoOwner = errors.New("no user owns the access token")

// TokenOwner returns the user the access token belongs to.
func TokenOwner(ctx context.Context, client Client, tok *oauth2.Token) (User, error) {
	users, err := UsersByLogin(ctx, client, tok)
	switch {
	case err != nil:
		return User{}, err
	case len(users) == 0:
		return User{}, errNoOwner
	}
	return users[0], nil
}

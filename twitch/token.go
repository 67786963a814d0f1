package twitch

import (
	"context"
	"fmt"
	"net/http"
	"slices"

	"github.com/go-json-experiment/json"
	"golang.org/x/oauth2"
)

var validateURL = "https://id.twitch.tv/oauth2/validate"

// Validation is the token validation response.
// On failure only Status and Message are set.
type Validation struct {
	ClientID  string   `json:"client_id"`
	Login     string   `json:"login"`
	UserID    string   `json:"user_id"`
	Scopes    []string `json:"scopes"`
	ExpiresIn int      `json:"expires_in"`

	Status  int    `json:"status"`
	Message string `json:"message"`
}

// Validate asks Twitch about an access token. A rejected token gives an
// error wrapping [ErrNeedRefresh]. The Validation is returned alongside
// API errors so callers can show Twitch's message.
func Validate(ctx context.Context, client *http.Client, tok *oauth2.Token) (*Validation, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, "GET", validateURL, nil)
	if err != nil {
		return nil, fmt.Errorf("couldn't make validate request: %w", err)
	}
	tok.SetAuthHeader(req)
	b, status, err := roundTrip(client, req)
	if err != nil {
		return nil, fmt.Errorf("couldn't validate access token: %w", err)
	}
	v := new(Validation)
	if status == http.StatusOK {
		if err := json.Unmarshal(b, v); err != nil {
			return nil, fmt.Errorf("couldn't decode token validation: %w", err)
		}
		return v, nil
	}
	json.Unmarshal(b, v)
	if v.Status == 0 {
		v.Status = status
	}
	return v, fmt.Errorf("token validation failed: %w", &APIError{Status: status, Message: v.Message})
}

// Missing lists which of scopes the token lacks.
func (v *Validation) Missing(scopes ...string) []string {
	var r []string
	for _, s := range scopes {
		if !slices.Contains(v.Scopes, s) {
			r = append(r, s)
		}
	}
	return r
}

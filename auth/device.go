package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-json-experiment/json"
	"golang.org/x/oauth2"
)

// DeviceEndpoint is Twitch's OAuth endpoint including device authorization.
var DeviceEndpoint = oauth2.Endpoint{
	AuthURL:       "https://id.twitch.tv/oauth2/authorize",
	TokenURL:      "https://id.twitch.tv/oauth2/token",
	DeviceAuthURL: "https://id.twitch.tv/oauth2/device",
	AuthStyle:     oauth2.AuthStyleInParams,
}

// DeviceCodePrompt shows the user the code to enter and where to enter it.
type DeviceCodePrompt func(userCode, verURI, verURIComplete string)

// DeviceLogin gets a user access token and refresh token through the device
// code flow. A nil client means [http.DefaultClient].
func DeviceLogin(ctx context.Context, clientID string, client *http.Client, prompt DeviceCodePrompt) (*oauth2.Token, error) {
	if clientID == "" {
		return nil, errors.New("client ID is required to log in")
	}
	if client == nil {
		client = http.DefaultClient
	}
	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	cfg := &oauth2.Config{ClientID: clientID, Endpoint: DeviceEndpoint, Scopes: Scopes}
	// Twitch reads "scopes", not the standard "scope".
	da, err := cfg.DeviceAuth(ctx, oauth2.SetAuthURLParam("scopes", strings.Join(Scopes, " ")))
	if err != nil {
		return nil, fmt.Errorf("couldn't start device code flow: %w", err)
	}
	prompt(da.UserCode, da.VerificationURI, da.VerificationURIComplete)
	// DeviceAccessToken waits the poll interval itself, but it doesn't
	// recognize Twitch's pending responses, so those come back here.
	for {
		tok, err := cfg.DeviceAccessToken(ctx, da)
		switch {
		case err == nil:
			return tok, nil
		case twitchReason(err) != "authorization_pending":
			return nil, fmt.Errorf("couldn't get token from device code flow: %w", err)
		}
	}
}

// twitchReason extracts the message from a Twitch OAuth error response.
// Twitch puts it where x/oauth2 doesn't look.
func twitchReason(err error) string {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) {
		return ""
	}
	var body struct {
		Status  int    `json:"status"`
		Message string `json:"message"`
	}
	if json.Unmarshal(re.Body, &body) != nil || body.Status != http.StatusBadRequest {
		return ""
	}
	return body.Message
}

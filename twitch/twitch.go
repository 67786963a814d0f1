// Package twitch is a small client for the parts of the Helix API the bot
// uses.
package twitch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-json-experiment/json"
	"golang.org/x/oauth2"
)

// Client identifies the application making API requests.
type Client struct {
	// HTTP performs requests. Nil means http.DefaultClient.
	HTTP *http.Client
	// ID is the application client ID.
	ID string
}

func (c Client) http() *http.Client {
	if c.HTTP == nil {
		return http.DefaultClient
	}
	return c.HTTP
}

// ErrNeedRefresh means the access token was rejected. Check it with
// [errors.Is].
var ErrNeedRefresh = errors.New("need refresh")

// APIError is a non-success response from Twitch.
type APIError struct {
	Status int `json:"status"`
	// Err is the status name, e.g. "Forbidden".
	Err     string `json:"error"`
	Message string `json:"message"`
}

func (err *APIError) Error() string {
	if err.Message == "" {
		return "HTTP " + strconv.Itoa(err.Status)
	}
	return strconv.Itoa(err.Status) + " - " + err.Message
}

// Unwrap reports 401 responses as [ErrNeedRefresh].
func (err *APIError) Unwrap() error {
	if err.Status == http.StatusUnauthorized {
		return ErrNeedRefresh
	}
	return nil
}

// maxBody bounds how much of a response is read.
const maxBody = 2 << 20

var apiBase = "https://api.twitch.tv/"

// endpoint joins ep onto the API base with query q.
func endpoint(ep string, q url.Values) string {
	u, err := url.JoinPath(apiBase, ep)
	if err != nil {
		panic("twitch: bad endpoint " + ep)
	}
	if len(q) != 0 {
		u += "?" + q.Encode()
	}
	return u
}

// page is the shape of Helix responses.
type page[T any] struct {
	Data       T `json:"data"`
	Pagination struct {
		Cursor string `json:"cursor"`
	} `json:"pagination"`
}

// helix performs one API request. If in is non-nil, it is sent as the JSON
// body. The result is the response data and the pagination cursor, if any.
func helix[T any](ctx context.Context, cl Client, tok *oauth2.Token, method, u string, in any) (T, string, error) {
	var r page[T]
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return r.Data, "", fmt.Errorf("couldn't encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return r.Data, "", fmt.Errorf("couldn't make request: %w", err)
	}
	tok.SetAuthHeader(req)
	req.Header.Set("Client-Id", cl.ID)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	b, status, err := roundTrip(cl.http(), req)
	if err != nil {
		return r.Data, "", err
	}
	if status >= 300 {
		e := &APIError{}
		// A body that isn't JSON still leaves us the status.
		json.Unmarshal(b, e)
		e.Status = status
		return r.Data, "", e
	}
	if len(b) == 0 {
		return r.Data, "", nil
	}
	if err := json.Unmarshal(b, &r); err != nil {
		return r.Data, "", fmt.Errorf("couldn't decode JSON response: %w", err)
	}
	return r.Data, r.Pagination.Cursor, nil
}

// roundTrip sends req and reads a bounded response body.
func roundTrip(hc *http.Client, req *http.Request) ([]byte, int, error) {
	resp, err := hc.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't %s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, 0, fmt.Errorf("couldn't read response: %w", err)
	}
	return b, resp.StatusCode, nil
}

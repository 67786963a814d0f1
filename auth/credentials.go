// Package auth manages the credentials the bot uses to talk to Twitch.
package auth

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"golang.org/x/oauth2"
)

// Credentials are the values needed to connect to Twitch as one account.
type Credentials struct {
	// AccessToken is the user access token. In normalized credentials it has
	// the oauth: prefix used by chat.
	AccessToken string `json:"access_token"`
	// RefreshToken is stored for the user's convenience. It is not used.
	RefreshToken string `json:"refresh_token"`
	// ClientID is the application client ID. EventSub requires it.
	ClientID string `json:"client_id"`
	// Channel is the channel to join. If empty, the token owner's channel
	// is used.
	Channel string `json:"channel"`
}

// Normalize returns c with surrounding space trimmed from every field, the
// access token in oauth: form, and the channel lowercased without #.
func (c Credentials) Normalize() Credentials {
	return Credentials{
		AccessToken:  NormalizeToken(c.AccessToken),
		RefreshToken: strings.TrimSpace(c.RefreshToken),
		ClientID:     strings.TrimSpace(c.ClientID),
		Channel:      NormalizeChannel(c.Channel),
	}
}

// Raw returns the access token without the oauth: prefix.
func (c Credentials) Raw() string {
	return strings.TrimPrefix(strings.TrimSpace(c.AccessToken), "oauth:")
}

// Bearer returns the access token for use with the Twitch API.
func (c Credentials) Bearer() *oauth2.Token {
	return &oauth2.Token{AccessToken: c.Raw(), TokenType: "Bearer"}
}

// NormalizeToken converts a token with or without the oauth: prefix into
// the canonical oauth:<raw> form. An empty token stays empty.
func NormalizeToken(tok string) string {
	tok = strings.TrimSpace(tok)
	tok = strings.TrimSpace(strings.TrimPrefix(tok, "oauth:"))
	if tok == "" {
		return ""
	}
	return "oauth:" + tok
}

// NormalizeChannel lowercases a channel name and removes any #.
func NormalizeChannel(ch string) string {
	ch = strings.ReplaceAll(ch, "#", "")
	return strings.ToLower(strings.TrimSpace(ch))
}

// Load reads credentials from the JSON file at p.
// A missing or unreadable file gives empty credentials.
// The result is not normalized.
func Load(p string) Credentials {
	b, err := os.ReadFile(p)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("couldn't read credentials", slog.String("path", p), slog.Any("err", err))
		}
		return Credentials{}
	}
	var c Credentials
	if err := json.Unmarshal(b, &c); err != nil {
		slog.Warn("couldn't parse credentials", slog.String("path", p), slog.Any("err", err))
		return Credentials{}
	}
	return c
}

// Save writes credentials to the JSON file at p, replacing it atomically.
func Save(p string, c Credentials) error {
	b, err := json.Marshal(c, jsontext.Multiline(true))
	if err != nil {
		return fmt.Errorf("couldn't encode credentials: %w", err)
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("couldn't create credentials directory: %w", err)
	}
	f, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("couldn't create credentials file: %w", err)
	}
	defer os.Remove(f.Name())
	if _, err := f.Write(append(b, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("couldn't write credentials: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("couldn't write credentials: %w", err)
	}
	if err := os.Rename(f.Name(), p); err != nil {
		return fmt.Errorf("couldn't replace credentials: %w", err)
	}
	return nil
}

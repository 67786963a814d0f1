package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"golang.org/x/time/rate"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/delboitv/babs/auth"
	"github.com/delboitv/babs/history"
	"github.com/delboitv/babs/response"
	"github.com/delboitv/babs/runner"
	"github.com/delboitv/babs/seen"
)

// Load loads the bot configuration from TOML.
func Load(ctx context.Context, r io.Reader) (*Config, *toml.MetaData, error) {
	var cfg Config
	md, err := toml.NewDecoder(r).Decode(&cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("couldn't decode config: %w", err)
	}
	expandcfg(&cfg, os.Getenv)
	if u := md.Undecoded(); len(u) != 0 {
		slog.WarnContext(ctx, "unknown config keys", slog.Any("keys", u))
	}
	return &cfg, &md, nil
}

// loadConfig loads the config at path p. If p is empty, the result is the
// default configuration.
func loadConfig(ctx context.Context, p string) (*Config, error) {
	if p == "" {
		return new(Config), nil
	}
	r, err := os.Open(p)
	if err != nil {
		return nil, fmt.Errorf("couldn't open config file: %w", err)
	}
	defer r.Close()
	cfg, _, err := Load(ctx, r)
	if err != nil {
		return nil, fmt.Errorf("couldn't load config: %w", err)
	}
	return cfg, nil
}

// Config is the marshaled structure of the bot's configuration.
type Config struct {
	// Credentials is the path to the JSON credential file.
	// If empty, credentials.json in the user config directory is used.
	Credentials string `toml:"credentials"`
	// SecretFile is the path to a file containing a secret key used to
	// encrypt the refresh token.
	SecretFile string `toml:"secret"`
	// Sealed is the path to the encrypted refresh token file. If empty, the
	// refresh token is kept in the credential file.
	Sealed string `toml:"sealed"`
	// HTTP is the local API configuration.
	HTTP HTTPCfg `toml:"http"`
	// EventSub is the EventSub connection configuration.
	EventSub EventSubCfg `toml:"eventsub"`
	// Chat is the chat connection configuration.
	Chat ChatCfg `toml:"chat"`
	// DB is the table of database paths.
	DB DBCfg `toml:"db"`
	// Responses replaces the built-in alert messages. Kinds left empty use
	// the built-in messages.
	Responses response.Pools `toml:"responses"`
}

// HTTPCfg is the configuration for the local HTTP API.
type HTTPCfg struct {
	// Listen is the address to serve on. If empty, there is no API.
	Listen string `toml:"listen"`
}

// EventSubCfg is the configuration for EventSub.
type EventSubCfg struct {
	// URL overrides the EventSub WebSocket URL.
	URL string `toml:"url"`
	// Keepalive is the keepalive interval in seconds, from 10 to 600.
	Keepalive int `toml:"keepalive"`
	// Retry is the list of waits in seconds before reconnecting.
	Retry []float64 `toml:"retry"`
}

// ChatCfg is the configuration for chat.
type ChatCfg struct {
	// Backend is the chat library, either tmi or irc. Default tmi.
	Backend string `toml:"backend"`
	// Greeting is the message sent on joining.
	Greeting string `toml:"greeting"`
	// Rate is the rate limit for sending.
	Rate Rate `toml:"rate"`
}

// DBCfg is the configuration of databases.
type DBCfg struct {
	// History is the SQLite connection string for alert history.
	// If empty, alerts are not recorded.
	History string `toml:"history"`
	// Seen is the directory of the message ID database.
	// If empty, message IDs are held in memory.
	Seen string `toml:"seen"`
	// SeenTTL is the time in seconds to remember message IDs.
	SeenTTL float64 `toml:"seen_ttl"`
}

// Rate is a rate limit configuration.
type Rate struct {
	Every float64 `toml:"every"`
	Num   int     `toml:"num"`
}

func (r Rate) limit() (rate.Limit, int) {
	if r.Every <= 0 || r.Num <= 0 {
		return 0, 0
	}
	return rate.Every(fseconds(r.Every / float64(r.Num))), r.Num
}

func fseconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// credentialsPath returns the path of the credential file.
func (cfg *Config) credentialsPath() (string, error) {
	if cfg.Credentials != "" {
		return cfg.Credentials, nil
	}
	d, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("couldn't find config directory: %w", err)
	}
	return filepath.Join(d, "babs", "credentials.json"), nil
}

func (cfg *Config) retry() []time.Duration {
	if len(cfg.EventSub.Retry) == 0 {
		return runner.DefaultRetry
	}
	r := make([]time.Duration, len(cfg.EventSub.Retry))
	for i, s := range cfg.EventSub.Retry {
		r[i] = fseconds(s)
	}
	return r
}

// openVault opens the sealed refresh token file, if one is configured.
func (cfg *Config) openVault() (*auth.Vault, error) {
	if cfg.Sealed == "" {
		return nil, nil
	}
	if cfg.SecretFile == "" {
		return nil, fmt.Errorf("sealed refresh token needs a secret key file")
	}
	k, err := os.ReadFile(cfg.SecretFile)
	if err != nil {
		return nil, fmt.Errorf("couldn't read secret key: %w", err)
	}
	return auth.OpenVault(cfg.Sealed, auth.DeriveKey(k, "refresh.twitch"))
}

// openDBs opens the history and message ID databases.
func (cfg *Config) openDBs(ctx context.Context) (hist *sqlitex.Pool, set *seen.Set, err error) {
	if cfg.DB.History != "" {
		slog.DebugContext(ctx, "history db", slog.String("path", cfg.DB.History))
		hist, err = sqlitex.NewPool(cfg.DB.History, sqlitex.PoolOptions{})
		if err != nil {
			return nil, nil, fmt.Errorf("couldn't open history db: %w", err)
		}
		if err := history.Init(ctx, hist); err != nil {
			hist.Close()
			return nil, nil, err
		}
	}
	set, err = seen.Open(cfg.DB.Seen, fseconds(cfg.DB.SeenTTL))
	if err != nil {
		if hist != nil {
			hist.Close()
		}
		return nil, nil, err
	}
	return hist, set, nil
}

func expandcfg(cfg *Config, expand func(s string) string) {
	fields := []*string{
		&cfg.Credentials,
		&cfg.SecretFile,
		&cfg.Sealed,
		&cfg.HTTP.Listen,
		&cfg.EventSub.URL,
		&cfg.Chat.Backend,
		&cfg.DB.History,
		&cfg.DB.Seen,
	}
	for _, f := range fields {
		*f = os.Expand(*f, expand)
	}
}

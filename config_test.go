package main_test

import (
	"context"
	_ "embed"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	main "github.com/delboitv/babs"
)

//go:embed example.toml
var exampleToml string

func eqcase[T comparable](t *testing.T, name string, val T, eq T) {
	t.Helper()
	if val != eq {
		t.Errorf("wrong %s: want %#v, got %#v", name, eq, val)
	}
}

func TestExampleConfig(t *testing.T) {
	t.Setenv("BABS_HOME", "/var/babs")
	cfg, _, err := main.Load(context.Background(), strings.NewReader(exampleToml))
	if err != nil {
		t.Fatalf("failed to load example.toml: %v", err)
	}

	eqcase(t, "Credentials", cfg.Credentials, "/var/babs/credentials.json")
	eqcase(t, "SecretFile", cfg.SecretFile, "/run/secrets/babs_key")
	eqcase(t, "Sealed", cfg.Sealed, "/var/babs/refresh")
	eqcase(t, "HTTP.Listen", cfg.HTTP.Listen, ":8766")
	eqcase(t, "EventSub.URL", cfg.EventSub.URL, "")
	eqcase(t, "EventSub.Keepalive", cfg.EventSub.Keepalive, 30)
	eqcase(t, "Chat.Backend", cfg.Chat.Backend, "tmi")
	eqcase(t, "Chat.Greeting", cfg.Chat.Greeting, "BabsBot here. I'll call out follows, raids, subs and redemptions.")
	eqcase(t, "Chat.Rate.Every", cfg.Chat.Rate.Every, 30)
	eqcase(t, "Chat.Rate.Num", cfg.Chat.Rate.Num, 20)
	eqcase(t, "DB.History", cfg.DB.History, "file:/var/babs/history.db")
	eqcase(t, "DB.Seen", cfg.DB.Seen, "/var/babs/seen")
	eqcase(t, "DB.SeenTTL", cfg.DB.SeenTTL, 900)
	if diff := cmp.Diff([]float64{1, 5, 15, 60, 300}, cfg.EventSub.Retry); diff != "" {
		t.Errorf("wrong EventSub.Retry (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Welcome to the herd, {}!", "{} just followed. Hi!"}, cfg.Responses.Follow); diff != "" {
		t.Errorf("wrong Responses.Follow (-want +got):\n%s", diff)
	}
	eqcase(t, "len(Responses.Raid)", len(cfg.Responses.Raid), 1)
	eqcase(t, "len(Responses.Subscribe)", len(cfg.Responses.Subscribe), 0)
}

func TestEmptyConfig(t *testing.T) {
	cfg, _, err := main.Load(context.Background(), strings.NewReader(""))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(main.Config{}, *cfg); diff != "" {
		t.Errorf("empty config isn't zero (-want +got):\n%s", diff)
	}
}

package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/delboitv/babs/runner"
)

func TestConsole(t *testing.T) {
	b := &fakeBot{sigs: make(chan runner.Signal, 4)}
	at := time.Date(2024, 1, 1, 12, 34, 56, 0, time.UTC)
	b.sigs <- runner.Signal{Kind: runner.Channel, Text: "testchan", Time: at}
	b.sigs <- runner.Signal{Kind: runner.Warning, Text: "channel.follow: HTTP 500", Time: at}
	b.sigs <- runner.Signal{Kind: runner.Error, Text: "No access token in config.", Time: at}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var w strings.Builder
	if err := console(ctx, b, &w); err != nil {
		t.Fatal(err)
	}
	want := "12:34:56 [channel] testchan\n" +
		"12:34:56 [warning] channel.follow: HTTP 500\n" +
		"12:34:56 [ERROR] No access token in config.\n"
	if diff := cmp.Diff(want, w.String()); diff != "" {
		t.Errorf("wrong output (-want +got):\n%s", diff)
	}
}

func TestReadConsole(t *testing.T) {
	b := new(fakeBot)
	readConsole(context.Background(), b, strings.NewReader("hello\n\n  test chat  \n"))
	if diff := cmp.Diff([]string{"hello", "test chat"}, b.sent); diff != "" {
		t.Errorf("wrong sends (-want +got):\n%s", diff)
	}
}

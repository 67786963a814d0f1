package runner_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/go-cmp/cmp"
	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/delboitv/babs/auth"
	"github.com/delboitv/babs/chat"
	"github.com/delboitv/babs/history"
	"github.com/delboitv/babs/response"
	"github.com/delboitv/babs/runner"
	"github.com/delboitv/babs/seen"
)

// fakeChat is a chat connection which records sends.
type fakeChat struct {
	cfg   chat.Config
	fail  error
	sends chan string

	mu    sync.Mutex
	ready []func(context.Context)
}

func newFakeChat() *fakeChat {
	return &fakeChat{sends: make(chan string, 16)}
}

func (c *fakeChat) Connect(ctx context.Context) error {
	if c.fail != nil {
		return c.fail
	}
	c.mu.Lock()
	ready := slices.Clone(c.ready)
	c.mu.Unlock()
	for _, f := range ready {
		f(ctx)
	}
	<-ctx.Done()
	return nil
}

func (c *fakeChat) Send(ctx context.Context, text string) {
	c.sends <- text
}

func (c *fakeChat) OnReady(f func(ctx context.Context)) {
	c.mu.Lock()
	c.ready = append(c.ready, f)
	c.mu.Unlock()
}

func (c *fakeChat) OnMessage(f func(ctx context.Context, m chat.Message)) {}

func (c *fakeChat) Close() error { return nil }

// next waits for the next sent message.
func (c *fakeChat) next(t *testing.T) string {
	t.Helper()
	select {
	case s := <-c.sends:
		return s
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for a chat message")
		return ""
	}
}

// twitchAPI is a fake Twitch API where every request succeeds.
type twitchAPI struct {
	// validate is the token validation response. Empty means the token
	// belongs to babsbot.
	validate string
	posts    atomic.Int32
}

func (a *twitchAPI) RoundTrip(req *http.Request) (*http.Response, error) {
	respond := func(status int, body string) (*http.Response, error) {
		return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body))}, nil
	}
	switch {
	case req.URL.Path == "/oauth2/validate":
		if a.validate != "" {
			return respond(401, a.validate)
		}
		return respond(200, `{"client_id":"cid","login":"babsbot","scopes":[],"user_id":"999","expires_in":3600}`)
	case req.URL.Path == "/helix/users":
		return respond(200, `{"data":[{"id":"111","login":"testchan","display_name":"TestChan"}]}`)
	case req.Method == "GET":
		return respond(200, `{"data":[],"pagination":{}}`)
	case req.Method == "POST":
		a.posts.Add(1)
		return respond(202, `{"data":[{"id":"x","status":"enabled"}]}`)
	}
	return respond(404, `{"error":"Not Found","status":404,"message":""}`)
}

func welcome() string {
	return `{"metadata":{"message_id":"w","message_type":"session_welcome"},"payload":{"session":{"id":"sess","status":"connected","keepalive_timeout_seconds":10}}}`
}

func notification(id, typ, event string) string {
	return `{"metadata":{"message_id":"` + id + `","message_type":"notification","message_timestamp":"2024-01-01T00:00:00Z","subscription_type":"` + typ + `"},"payload":{"subscription":{"id":"s","type":"` + typ + `","version":"1"},"event":` + event + `}}`
}

func eventsubServer(t *testing.T, msgs ...string) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer c.CloseNow()
		ctx := r.Context()
		for _, m := range msgs {
			if err := c.Write(ctx, websocket.MessageText, []byte(m)); err != nil {
				return
			}
		}
		for {
			if _, _, err := c.Read(ctx); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

var testCreds = auth.Credentials{AccessToken: "abc", ClientID: "cid", Channel: "testchan"}

// start runs r in the background. The returned function stops it and
// returns its error.
func start(r *runner.Runner) func() error {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	return func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(10 * time.Second):
			return errors.New("runner didn't stop")
		}
	}
}

// await waits for a signal of the given kind and returns it along with every
// signal before it.
func await(t *testing.T, r *runner.Runner, kind runner.SignalKind) []runner.Signal {
	t.Helper()
	var got []runner.Signal
	timeout := time.After(10 * time.Second)
	for {
		select {
		case s := <-r.Signals():
			got = append(got, s)
			if s.Kind == kind {
				return got
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v signal; got %v", kind, got)
		}
	}
}

// drain collects signals which are already buffered.
func drain(r *runner.Runner) []runner.Signal {
	var got []runner.Signal
	for {
		select {
		case s := <-r.Signals():
			got = append(got, s)
		default:
			return got
		}
	}
}

func count(sigs []runner.Signal, kind runner.SignalKind) int {
	n := 0
	for _, s := range sigs {
		if s.Kind == kind {
			n++
		}
	}
	return n
}

func TestRunReady(t *testing.T) {
	api := new(twitchAPI)
	c := newFakeChat()
	r := runner.New(runner.Config{
		Credentials: testCreds,
		HTTP:        &http.Client{Transport: api},
		Chat:        func(cfg chat.Config) chat.Conn { c.cfg = cfg; return c },
		EventSub:    eventsubServer(t, welcome()),
	})
	stop := start(r)
	sigs := await(t, r, runner.Ready)
	st := r.Status()
	if err := stop(); err != nil {
		t.Errorf("run failed: %v", err)
	}
	sigs = append(sigs, drain(r)...)
	if n := count(sigs, runner.Ready); n != 1 {
		t.Errorf("wrong number of ready signals: want 1, got %d", n)
	}
	if n := count(sigs, runner.Warning); n != 0 {
		t.Errorf("unexpected warnings: %v", sigs)
	}
	if sigs[0].Kind != runner.Channel || sigs[0].Text != "testchan" {
		t.Errorf("first signal should name the channel, got %+v", sigs[0])
	}
	if n := api.posts.Load(); n != 4 {
		t.Errorf("wrong number of subscriptions: want 4, got %d", n)
	}
	want := chat.Config{Nick: "babsbot", Token: "oauth:abc", Channel: "testchan", Greeting: runner.DefaultGreeting}
	if diff := cmp.Diff(want, c.cfg); diff != "" {
		t.Errorf("wrong chat config (-want +got):\n%s", diff)
	}
	select {
	case s := <-c.sends:
		t.Errorf("unexpected send %q", s)
	default:
	}
	if st.Nick != "babsbot" || st.Channel != "testchan" || !st.Chat {
		t.Errorf("wrong status %+v", st)
	}
}

func TestRunRaid(t *testing.T) {
	c := newFakeChat()
	url := eventsubServer(t, welcome(), notification("m1", "channel.raid", `{"from_broadcaster_user_name":"Kita","viewers":9}`))
	r := runner.New(runner.Config{
		Credentials: testCreds,
		HTTP:        &http.Client{Transport: new(twitchAPI)},
		Chat:        func(chat.Config) chat.Conn { return c },
		Selector:    response.New(rand.NewPCG(1, 2), response.Pools{}),
		EventSub:    url,
	})
	stop := start(r)
	got := c.next(t)
	if err := stop(); err != nil {
		t.Errorf("run failed: %v", err)
	}
	if !slices.Contains(response.Defaults().Raid, got) {
		t.Errorf("raid alert %q isn't a raid template", got)
	}
	if st := r.Status(); st.Alerts != 1 || st.Sent != 1 {
		t.Errorf("wrong counts in %+v", st)
	}
}

func TestRunFollowSubject(t *testing.T) {
	c := newFakeChat()
	pools := response.Pools{Follow: []string{"thanks {}"}}
	url := eventsubServer(t, welcome(), notification("m1", "channel.follow", `{"user_name":"Bocchi","user_login":"bocchi"}`))
	r := runner.New(runner.Config{
		Credentials: testCreds,
		HTTP:        &http.Client{Transport: new(twitchAPI)},
		Chat:        func(chat.Config) chat.Conn { return c },
		Selector:    response.New(rand.NewPCG(1, 2), pools),
		EventSub:    url,
	})
	stop := start(r)
	got := c.next(t)
	stop()
	if got != "thanks Bocchi" {
		t.Errorf(`wrong alert: want "thanks Bocchi", got %q`, got)
	}
}

var dbcount atomic.Int64

func TestRunDuplicates(t *testing.T) {
	ctx := context.Background()
	db, err := sqlitex.NewPool(fmt.Sprintf("file:test-runner-%d.db?mode=memory&cache=shared", dbcount.Add(1)), sqlitex.PoolOptions{
		Flags: sqlite.OpenReadWrite | sqlite.OpenCreate | sqlite.OpenMemory | sqlite.OpenSharedCache | sqlite.OpenURI,
	})
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if err := history.Init(ctx, db); err != nil {
		t.Fatal(err)
	}
	set, err := seen.Open("", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	defer set.Close()
	follow := `{"user_name":"Ryo"}`
	url := eventsubServer(t,
		welcome(),
		notification("m1", "channel.follow", follow),
		notification("m1", "channel.follow", follow),
		notification("m2", "channel.subscribe", `{"user_name":"Nijika","tier":"1000"}`),
	)
	c := newFakeChat()
	pools := response.Pools{Follow: []string{"follow {}"}, Subscribe: []string{"sub"}}
	r := runner.New(runner.Config{
		Credentials: testCreds,
		HTTP:        &http.Client{Transport: new(twitchAPI)},
		Chat:        func(chat.Config) chat.Conn { return c },
		Selector:    response.New(nil, pools),
		EventSub:    url,
		History:     db,
		Seen:        set,
	})
	stop := start(r)
	sent := []string{c.next(t), c.next(t)}
	stop()
	if diff := cmp.Diff([]string{"follow Ryo", "sub"}, sent); diff != "" {
		t.Errorf("wrong sends (-want +got):\n%s", diff)
	}
	alerts, err := r.Recent(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 2 {
		t.Fatalf("wrong number of recorded alerts: want 2, got %d", len(alerts))
	}
	kinds := []string{alerts[0].Kind, alerts[1].Kind}
	slices.Sort(kinds)
	if diff := cmp.Diff([]string{"follow", "subscribe"}, kinds); diff != "" {
		t.Errorf("wrong recorded kinds (-want +got):\n%s", diff)
	}
}

func TestRunNoToken(t *testing.T) {
	r := runner.New(runner.Config{Credentials: auth.Credentials{ClientID: "cid", Channel: "testchan"}})
	err := r.Run(context.Background())
	if !errors.Is(err, runner.ErrNoToken) {
		t.Errorf("wrong error: want %v, got %v", runner.ErrNoToken, err)
	}
	want := []runner.Signal{{Kind: runner.Error, Text: "No access token in config."}}
	got := drain(r)
	if diff := cmp.Diff(want, got, cmpSignal); diff != "" {
		t.Errorf("wrong signals (-want +got):\n%s", diff)
	}
}

func TestRunNoChannel(t *testing.T) {
	api := &twitchAPI{validate: `{"status":401,"message":"invalid access token"}`}
	r := runner.New(runner.Config{
		Credentials: auth.Credentials{AccessToken: "abc", ClientID: "cid"},
		HTTP:        &http.Client{Transport: api},
	})
	err := r.Run(context.Background())
	if !errors.Is(err, runner.ErrNoChannel) {
		t.Errorf("wrong error: want %v, got %v", runner.ErrNoChannel, err)
	}
	want := []runner.Signal{{Kind: runner.Error, Text: "Could not get channel from token. Set 'Channel to join' in Settings or check token."}}
	if diff := cmp.Diff(want, drain(r), cmpSignal); diff != "" {
		t.Errorf("wrong signals (-want +got):\n%s", diff)
	}
}

func TestRunChannelFromToken(t *testing.T) {
	c := newFakeChat()
	r := runner.New(runner.Config{
		Credentials: auth.Credentials{AccessToken: "oauth:abc", ClientID: "cid"},
		HTTP:        &http.Client{Transport: new(twitchAPI)},
		Chat:        func(cfg chat.Config) chat.Conn { c.cfg = cfg; return c },
		EventSub:    eventsubServer(t, welcome()),
	})
	stop := start(r)
	sigs := await(t, r, runner.Channel)
	await(t, r, runner.Ready)
	stop()
	if got := sigs[len(sigs)-1].Text; got != "babsbot" {
		t.Errorf(`wrong channel: want "babsbot", got %q`, got)
	}
	if c.cfg.Channel != "babsbot" {
		t.Errorf(`chat joins %q instead of "babsbot"`, c.cfg.Channel)
	}
}

func TestRunChatFails(t *testing.T) {
	c := newFakeChat()
	c.fail = chat.ErrDisconnected
	r := runner.New(runner.Config{
		Credentials: testCreds,
		HTTP:        &http.Client{Transport: new(twitchAPI)},
		Chat:        func(chat.Config) chat.Conn { return c },
		EventSub:    eventsubServer(t, welcome()),
	})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	err := r.Run(ctx)
	if !errors.Is(err, chat.ErrDisconnected) {
		t.Errorf("wrong error: want %v, got %v", chat.ErrDisconnected, err)
	}
	sigs := drain(r)
	if n := count(sigs, runner.Error); n != 1 {
		t.Errorf("wrong number of errors: want 1, got %d in %v", n, sigs)
	}
}

func TestSend(t *testing.T) {
	c := newFakeChat()
	r := runner.New(runner.Config{
		Credentials: testCreds,
		HTTP:        &http.Client{Transport: new(twitchAPI)},
		Chat:        func(chat.Config) chat.Conn { return c },
		EventSub:    eventsubServer(t, welcome()),
	})
	if r.Send("  \n") {
		t.Error("blank text was queued")
	}
	if !r.Send("test chat") {
		t.Fatal("couldn't queue before run")
	}
	stop := start(r)
	if got := c.next(t); got != "test chat" {
		t.Errorf(`wrong send: want "test chat", got %q`, got)
	}
	if !r.Send("again") {
		t.Error("couldn't queue while running")
	}
	if got := c.next(t); got != "again" {
		t.Errorf(`wrong send: want "again", got %q`, got)
	}
	stop()
	if st := r.Status(); st.Sent != 2 || st.Alerts != 0 {
		t.Errorf("wrong counts in %+v", st)
	}
}

func TestRunTwice(t *testing.T) {
	r := runner.New(runner.Config{})
	r.Run(context.Background())
	if err := r.Run(context.Background()); err == nil || errors.Is(err, runner.ErrNoToken) {
		t.Errorf("second run gave %v", err)
	}
}

var cmpSignal = cmp.Comparer(func(a, b runner.Signal) bool {
	return a.Kind == b.Kind && a.Text == b.Text
})

// Package runner runs the chat connection and the EventSub session together
// and turns channel activity into chat messages.
package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/delboitv/babs/auth"
	"github.com/delboitv/babs/chat"
	"github.com/delboitv/babs/events"
	"github.com/delboitv/babs/history"
	"github.com/delboitv/babs/metrics"
	"github.com/delboitv/babs/response"
	"github.com/delboitv/babs/seen"
	"github.com/delboitv/babs/twitch"
)

// DefaultGreeting is sent to chat when the bot joins.
const DefaultGreeting = "BabsBot here. I'll call out follows, raids, subs and redemptions."

const (
	errNoToken   = "No access token in config."
	errNoChannel = "Could not get channel from token. Set 'Channel to join' in Settings or check token."
)

// ErrNoToken is returned by Run when the credentials have no access token.
var ErrNoToken = errors.New("no access token")

// ErrNoChannel is returned by Run when no channel is configured and the
// token owner can't be found.
var ErrNoChannel = errors.New("no channel to join")

// Config configures a Runner.
type Config struct {
	// Credentials are the account credentials. They are normalized once.
	Credentials auth.Credentials
	// HTTP is the client for Twitch API requests. If nil, the default client
	// is used.
	HTTP *http.Client
	// Chat creates the chat connection. If nil, [chat.NewTMI] is used.
	Chat func(chat.Config) chat.Conn
	// Greeting is sent when the bot joins chat. If empty, DefaultGreeting.
	Greeting string
	// Selector chooses alert messages. If nil, the default pools are used.
	Selector *response.Selector

	// EventSub is the EventSub WebSocket URL. If empty, the Twitch URL.
	EventSub string
	// Dial is the HTTP client for WebSocket connections.
	Dial *http.Client
	// Keepalive is the requested EventSub keepalive in seconds.
	Keepalive int
	// Retry lists the waits before EventSub reconnect attempts.
	Retry []time.Duration
	// Clock times reconnect waits. If nil, the real clock.
	Clock clockwork.Clock

	// History records alerts, if not nil.
	History *sqlitex.Pool
	// Seen drops redelivered notifications, if not nil.
	Seen *seen.Set
	// Metrics observes the runner, if not nil.
	Metrics *metrics.Metrics
	// Signals is the capacity of the signal channel. If zero, 64.
	Signals int
}

// DefaultRetry is the EventSub reconnect schedule used by the CLI.
var DefaultRetry = []time.Duration{
	time.Second,
	5 * time.Second,
	15 * time.Second,
	time.Minute,
	5 * time.Minute,
}

// Runner owns one chat connection and one EventSub session.
// A Runner runs at most once. To change settings, make a new Runner.
type Runner struct {
	cfg     Config
	creds   auth.Credentials
	sel     *response.Selector
	signals chan Signal
	send    chan string
	// queue holds alerts from the event session until the send loop says them.
	queue chan alert

	mu      sync.Mutex
	nick    string
	channel string
	session *events.Session

	joined atomic.Bool
	sent   atomic.Int64
	alerts atomic.Int64
	ran    atomic.Bool
}

// New creates a runner.
func New(cfg Config) *Runner {
	n := cfg.Signals
	if n <= 0 {
		n = 64
	}
	sel := cfg.Selector
	if sel == nil {
		sel = response.New(nil, response.Pools{})
	}
	if cfg.Greeting == "" {
		cfg.Greeting = DefaultGreeting
	}
	if cfg.Chat == nil {
		cfg.Chat = func(c chat.Config) chat.Conn { return chat.NewTMI(c) }
	}
	return &Runner{
		cfg:     cfg,
		creds:   cfg.Credentials.Normalize(),
		sel:     sel,
		signals: make(chan Signal, n),
		send:    make(chan string, 16),
		queue:   make(chan alert, 64),
	}
}

// Signals returns the channel of signals for the presentation layer.
// Signals are dropped when the channel is full.
func (r *Runner) Signals() <-chan Signal {
	return r.signals
}

// Send queues text to be sent to chat exactly as given. It reports whether
// the text was queued.
func (r *Runner) Send(text string) bool {
	if strings.TrimSpace(text) == "" {
		return false
	}
	select {
	case r.send <- text:
		return true
	default:
		return false
	}
}

// Run connects to chat and EventSub and serves both until ctx is done or the
// chat connection fails. Loss of EventSub is reported through signals but
// does not end Run.
func (r *Runner) Run(ctx context.Context) error {
	if !r.ran.CompareAndSwap(false, true) {
		return errors.New("runner already ran")
	}
	if r.creds.AccessToken == "" {
		r.emit(ctx, Error, errNoToken)
		return ErrNoToken
	}
	nick, channel, err := r.identify(ctx)
	if err != nil {
		r.emit(ctx, Error, errNoChannel)
		return fmt.Errorf("%w: %w", ErrNoChannel, err)
	}
	slog.InfoContext(ctx, "joining", slog.String("nick", nick), slog.String("channel", channel))
	r.emit(ctx, Channel, channel)

	conn := r.cfg.Chat(chat.Config{
		Nick:     nick,
		Token:    r.creds.AccessToken,
		Channel:  channel,
		Greeting: r.cfg.Greeting,
	})
	conn.OnReady(func(ctx context.Context) {
		r.joined.Store(true)
		r.emit(ctx, Status, "Chat connected to "+chat.Channel(channel))
	})
	conn.OnMessage(func(ctx context.Context, m chat.Message) {
		slog.DebugContext(ctx, "chat", slog.String("from", m.Name), slog.String("text", m.Text), slog.Bool("mod", m.IsModerator))
	})
	session := &events.Session{
		Client:    twitch.Client{HTTP: r.cfg.HTTP, ID: r.creds.ClientID},
		Token:     r.creds.Bearer(),
		Channel:   channel,
		URL:       r.cfg.EventSub,
		Dial:      r.cfg.Dial,
		Keepalive: r.cfg.Keepalive,
		Retry:     r.cfg.Retry,
		Clock:     r.cfg.Clock,
	}
	r.mu.Lock()
	r.nick, r.channel = nick, channel
	r.session = session
	r.mu.Unlock()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := conn.Connect(ctx)
		r.joined.Store(false)
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = chat.ErrDisconnected
		}
		r.emit(ctx, Error, "Chat: "+err.Error())
		return fmt.Errorf("chat failed: %w", err)
	})
	group.Go(func() error {
		err := session.Run(ctx, sink{r})
		if err != nil && ctx.Err() == nil {
			slog.ErrorContext(ctx, "EventSub stopped", slog.Any("err", err))
		}
		return nil
	})
	group.Go(func() error { return r.sendLoop(ctx, conn) })
	group.Go(func() error {
		<-ctx.Done()
		if err := conn.Close(); err != nil {
			slog.ErrorContext(ctx, "couldn't close chat", slog.Any("err", err))
		}
		return nil
	})
	return group.Wait()
}

// identify finds the bot's nick and the channel to join.
func (r *Runner) identify(ctx context.Context) (nick, channel string, err error) {
	channel = r.creds.Channel
	v, err := twitch.Validate(ctx, r.cfg.HTTP, r.creds.Bearer())
	if err != nil || v.Login == "" {
		if err == nil {
			err = fmt.Errorf("token has no owner: %d %s", v.Status, v.Message)
		}
		if channel == "" {
			return "", "", err
		}
		// Chat only needs the nick to be present. Use the channel instead.
		slog.WarnContext(ctx, "couldn't get token owner", slog.Any("err", err))
		return channel, channel, nil
	}
	if channel == "" {
		channel = v.Login
	}
	return v.Login, channel, nil
}

// sendLoop says manual sends and alerts in the order they arrive until ctx
// is done.
func (r *Runner) sendLoop(ctx context.Context, conn chat.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case text := <-r.send:
			r.say(ctx, conn, text)
		case a := <-r.queue:
			r.deliver(ctx, conn, a)
		}
	}
}

// say sends text to chat and counts it.
func (r *Runner) say(ctx context.Context, conn chat.Conn, text string) {
	conn.Send(ctx, text)
	r.sent.Add(1)
	if r.cfg.Metrics != nil {
		metrics.Observe(r.cfg.Metrics.ChatSends, 1)
	}
}

// Recent returns up to n recent alerts. Without history, it returns none.
func (r *Runner) Recent(ctx context.Context, n int) ([]history.Alert, error) {
	if r.cfg.History == nil {
		return nil, nil
	}
	return history.Recent(ctx, r.cfg.History, n)
}

// Counts returns the number of alerts of each kind sent since t.
// Without history, it returns none.
func (r *Runner) Counts(ctx context.Context, since time.Time) (map[string]int, error) {
	if r.cfg.History == nil {
		return nil, nil
	}
	return history.Counts(ctx, r.cfg.History, since)
}

// State is a snapshot of the runner.
type State struct {
	Nick     string `json:"nick"`
	Channel  string `json:"channel"`
	Chat     bool   `json:"chat"`
	EventSub string `json:"eventsub"`
	Sent     int64  `json:"sent"`
	Alerts   int64  `json:"alerts"`
}

// Status returns the current state of the runner.
func (r *Runner) Status() State {
	r.mu.Lock()
	s := State{Nick: r.nick, Channel: r.channel}
	session := r.session
	r.mu.Unlock()
	s.EventSub = events.Disconnected.String()
	if session != nil {
		s.EventSub = session.State().String()
	}
	s.Chat = r.joined.Load()
	s.Sent = r.sent.Load()
	s.Alerts = r.alerts.Load()
	return s
}

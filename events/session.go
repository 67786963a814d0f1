// Package events maintains the EventSub session which reports follows, raids,
// subscriptions, and channel point redemptions for one channel.
package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/oauth2"

	"github.com/delboitv/babs/twitch"
	"github.com/delboitv/babs/twitch/eventsub"
)

// State is the phase of an event session.
type State int32

const (
	Disconnected State = iota
	Connecting
	AwaitingWelcome
	Subscribing
	Active
	Closed
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case AwaitingWelcome:
		return "awaiting welcome"
	case Subscribing:
		return "subscribing"
	case Active:
		return "active"
	case Closed:
		return "closed"
	default:
		return "State(?)"
	}
}

// Notification is a decoded channel activity.
type Notification struct {
	// ID is the EventSub message ID.
	ID string
	// Kind is the category of the activity.
	Kind Kind
	// Subject is the display name of the user who caused the activity.
	// It is empty for kinds which aren't [Kind.Named].
	Subject string
	// Timestamp is the message time in RFC3339Nano format.
	Timestamp string
}

// Sink receives the outcomes of an event session.
// Methods are called from the goroutine running the session.
type Sink interface {
	// Warn reports a problem the user can probably fix.
	Warn(ctx context.Context, msg string)
	// Ready reports that every subscription was created.
	// It is called at most once per Session.
	Ready(ctx context.Context)
	// Notify delivers a notification.
	Notify(ctx context.Context, n Notification)
	// Disconnected reports loss of the EventSub connection.
	// If giveUp is false, the session tries again after wait.
	Disconnected(ctx context.Context, err error, wait time.Duration, giveUp bool)
}

// ErrNoClientID is returned when a session is run without a client ID.
var ErrNoClientID = errors.New("client ID is required for EventSub")

// HaltError is a failure which stops the session without retrying.
type HaltError struct {
	// Reason is the warning reported for the failure.
	Reason string
	Err    error
}

func (err *HaltError) Error() string {
	return "EventSub halted: " + err.Reason
}

func (err *HaltError) Unwrap() error {
	return err.Err
}

const (
	warnNoClientID  = "Client ID is required for follow/raid/sub/redemption. Add it in Settings (Show optional fields)."
	warnNotWelcome  = "EventSub: did not receive session_welcome."
	warnNoSessionID = "EventSub: no session ID in welcome."
)

// Session is an EventSub session for one channel.
// A Session must not be run more than once concurrently.
type Session struct {
	// Client is the Twitch API client. Its ID must be set.
	Client twitch.Client
	// Token is the user access token.
	Token *oauth2.Token
	// Channel is the login of the channel to watch.
	Channel string
	// URL is the EventSub WebSocket URL. If empty, the Twitch URL is used.
	URL string
	// Dial is the HTTP client used to open WebSocket connections.
	// If nil, http.DefaultClient is used.
	Dial *http.Client
	// Keepalive is the requested keepalive interval in seconds.
	// If zero, the Twitch default is used.
	Keepalive int
	// Retry lists the waits before successive reconnect attempts.
	// Once the list is exhausted, the session gives up.
	// The list restarts after each connection which reaches the active state.
	Retry []time.Duration
	// Clock times reconnect waits. If nil, the real clock is used.
	Clock clockwork.Clock

	state       atomic.Int32
	broadcaster string
	ready       bool
}

// State returns the current phase of the session.
// It is safe to call concurrently with Run.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) setState(st State) {
	s.state.Store(int32(st))
}

// Run connects to EventSub and delivers notifications to sink until ctx is
// done, the session halts, or reconnect attempts are exhausted.
func (s *Session) Run(ctx context.Context, sink Sink) error {
	defer s.setState(Closed)
	if s.Client.ID == "" {
		sink.Warn(ctx, warnNoClientID)
		return ErrNoClientID
	}
	clk := s.Clock
	if clk == nil {
		clk = clockwork.NewRealClock()
	}
	attempt := 0
	// wasActive records whether any connection has been active. After that,
	// handshake failures are treated as connection loss and retried.
	wasActive := false
	for {
		active, err := s.negotiate(ctx, sink)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var halt *HaltError
		if errors.As(err, &halt) && !wasActive {
			slog.ErrorContext(ctx, "EventSub halted", slog.String("reason", halt.Reason), slog.Any("err", halt.Err))
			return err
		}
		if active {
			attempt = 0
			wasActive = true
		}
		s.setState(Disconnected)
		if attempt >= len(s.Retry) {
			slog.ErrorContext(ctx, "EventSub giving up", slog.Any("err", err))
			sink.Disconnected(ctx, err, 0, true)
			return err
		}
		wait := s.Retry[attempt]
		attempt++
		slog.WarnContext(ctx, "EventSub disconnected", slog.Any("err", err), slog.Duration("wait", wait), slog.Int("attempt", attempt))
		sink.Disconnected(ctx, err, wait, false)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(wait):
		}
	}
}

// negotiate runs one EventSub connection from dial to disconnect.
// active reports whether the connection reached the active state.
func (s *Session) negotiate(ctx context.Context, sink Sink) (active bool, err error) {
	s.setState(Connecting)
	es, err := eventsub.Dial(ctx, s.Dial, s.Keepalive, s.URL)
	if err != nil {
		return false, err
	}
	s.setState(AwaitingWelcome)
	if err := es.Welcome(ctx); err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		msg := warnNotWelcome
		if errors.Is(err, eventsub.ErrNoSessionID) {
			msg = warnNoSessionID
		}
		sink.Warn(ctx, msg)
		return false, &HaltError{Reason: msg, Err: err}
	}
	defer func() { es.Close() }()
	slog.InfoContext(ctx, "EventSub connected", slog.String("session", es.ID()))

	s.setState(Subscribing)
	id, err := s.resolve(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		msg := "Could not get broadcaster ID: " + err.Error()
		var ae *twitch.APIError
		if errors.As(err, &ae) {
			msg = fmt.Sprintf("Could not get broadcaster ID: %d - %s", ae.Status, ae.Message)
		}
		sink.Warn(ctx, msg)
		return false, &HaltError{Reason: msg, Err: err}
	}
	s.cleanup(ctx)
	if s.subscribe(ctx, sink, id, es.ID()) && !s.ready {
		s.ready = true
		sink.Ready(ctx)
	}

	s.setState(Active)
	return true, s.active(ctx, sink, &es)
}

// resolve gets the broadcaster ID for the session's channel.
func (s *Session) resolve(ctx context.Context) (string, error) {
	if s.broadcaster != "" {
		return s.broadcaster, nil
	}
	u, err := twitch.UsersByLogin(ctx, s.Client, s.Token, s.Channel)
	if err != nil {
		return "", err
	}
	if len(u) == 0 {
		return "", fmt.Errorf("no user named %q", s.Channel)
	}
	s.broadcaster = u[0].ID
	slog.InfoContext(ctx, "resolved broadcaster", slog.String("channel", s.Channel), slog.String("id", s.broadcaster))
	return s.broadcaster, nil
}

// cleanup deletes WebSocket subscriptions left over from earlier sessions.
// Failures don't matter; stale subscriptions expire with their sessions.
func (s *Session) cleanup(ctx context.Context) {
	var ids []string
	for sub, err := range twitch.Subscriptions(ctx, s.Client, s.Token, "") {
		if err != nil {
			slog.DebugContext(ctx, "couldn't list subscriptions", slog.Any("err", err))
			break
		}
		if sub.Transport.Method == "websocket" {
			ids = append(ids, sub.ID)
		}
	}
	for _, id := range ids {
		if err := twitch.DeleteSubscription(ctx, s.Client, s.Token, id); err != nil {
			slog.DebugContext(ctx, "couldn't delete subscription", slog.String("id", id), slog.Any("err", err))
		}
	}
}

// subscribe creates a subscription for every kind in order.
// Every creation is attempted even if earlier ones fail.
func (s *Session) subscribe(ctx context.Context, sink Sink, broadcaster, session string) bool {
	ok := true
	for i := range categories {
		c := &categories[i]
		req := twitch.SubscriptionRequest{
			Type:      c.typ,
			Version:   c.version,
			Condition: c.condition(broadcaster),
			Transport: twitch.SubscriptionTransport{
				Method:  "websocket",
				Session: session,
			},
		}
		_, err := twitch.CreateSubscription(ctx, s.Client, s.Token, req)
		if err == nil {
			slog.InfoContext(ctx, "subscribed", slog.String("type", c.typ))
			continue
		}
		ok = false
		reason := err.Error()
		var ae *twitch.APIError
		if errors.As(err, &ae) {
			reason = c.guidance(ae.Status, ae.Message)
		}
		slog.WarnContext(ctx, "couldn't subscribe", slog.String("type", c.typ), slog.Any("err", err))
		sink.Warn(ctx, c.typ+": "+reason)
	}
	return ok
}

// active receives notifications until the connection ends.
// It follows reconnect messages by replacing *es.
func (s *Session) active(ctx context.Context, sink Sink, es **eventsub.Session) error {
	for {
		ev, err := (*es).Recv(ctx)
		if err != nil {
			var rc *eventsub.ReconnectError
			var rv *eventsub.RevocationError
			switch {
			case errors.As(err, &rc):
				slog.InfoContext(ctx, "EventSub reconnect", slog.String("url", rc.URL))
				next, err := eventsub.Connect(ctx, s.Dial, 0, rc.URL)
				if err != nil {
					return fmt.Errorf("couldn't follow EventSub reconnect: %w", err)
				}
				// Subscriptions move to the new connection once it's welcomed.
				(*es).Close()
				*es = next
				continue
			case errors.As(err, &rv):
				sink.Warn(ctx, fmt.Sprintf("%s subscription revoked: %s", rv.Type, rv.Reason))
				return err
			default:
				return fmt.Errorf("EventSub connection lost: %w", err)
			}
		}
		k, ok := kindOf(ev.Subscription.Type)
		if !ok {
			slog.DebugContext(ctx, "ignoring notification", slog.String("type", ev.Subscription.Type))
			continue
		}
		n := Notification{ID: ev.ID, Kind: k, Timestamp: ev.Timestamp}
		if k.Named() {
			p, err := eventsub.Decode(ev.Subscription.Type, ev.Event)
			if err != nil {
				slog.WarnContext(ctx, "couldn't decode notification", slog.String("id", ev.ID), slog.Any("err", err))
			} else {
				n.Subject = p.Subject()
			}
		}
		sink.Notify(ctx, n)
	}
}

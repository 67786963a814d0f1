// Package eventsub speaks the EventSub WebSocket transport.
package eventsub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/coder/websocket"
)

// DefaultURL is the Twitch EventSub WebSocket URL.
const DefaultURL = "wss://eventsub.wss.twitch.tv/ws"

var (
	openTimeout    = 10 * time.Second
	welcomeTimeout = 15 * time.Second
	closeTimeout   = 2 * time.Second
)

var (
	// ErrNotWelcome means the connection did not begin with a session_welcome
	// in time.
	ErrNotWelcome = errors.New("did not receive session_welcome")
	// ErrNoSessionID means the welcome had an empty session ID.
	ErrNoSessionID = errors.New("no session ID in welcome")
)

// Session is one EventSub WebSocket connection.
type Session struct {
	ws *websocket.Conn
	id string
	// idle is how long Recv waits for any frame before giving up.
	idle time.Duration
}

// withKeepalive adds the keepalive request to u. Reconnect URLs may already
// have a query.
func withKeepalive(u string, keepalive int) string {
	if keepalive <= 0 {
		return u
	}
	q := "keepalive_timeout_seconds=" + strconv.Itoa(keepalive)
	if strings.ContainsRune(u, '?') {
		return u + "&" + q
	}
	return u + "?" + q
}

// Dial opens a connection. The session is unusable until
// [*Session.Welcome] succeeds.
// A nil client means the WebSocket library's default. An empty url means
// [DefaultURL]. A keepalive of zero leaves Twitch's default interval.
func Dial(ctx context.Context, client *http.Client, keepalive int, url string) (*Session, error) {
	if url == "" {
		url = DefaultURL
	}
	url = withKeepalive(url, keepalive)
	var opts websocket.DialOptions
	opts.HTTPClient = client

	slog.DebugContext(ctx, "dial EventSub", slog.String("url", url))
	ctx, cancel := context.WithTimeout(ctx, openTimeout)
	defer cancel()
	ws, resp, err := websocket.Dial(ctx, url, &opts)
	if err == nil {
		return &Session{ws: ws}, nil
	}
	if resp == nil || resp.Body == nil {
		return nil, fmt.Errorf("couldn't connect to EventSub: %w", err)
	}
	detail, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	return nil, fmt.Errorf("couldn't connect to EventSub: %w (%s)", err, detail)
}

// Welcome reads the session_welcome that opens every connection. If it
// fails, the connection is dropped.
func (s *Session) Welcome(ctx context.Context) error {
	env, err := s.welcome(ctx)
	if err != nil {
		s.ws.CloseNow()
		return err
	}
	info := env.Body.Session
	k := info.Keepalive
	if k <= 0 {
		k = 10
	}
	s.id = info.ID
	// Allow a little slack past the promised keepalive.
	s.idle = time.Duration(k)*time.Second + 2*time.Second
	slog.DebugContext(ctx, "EventSub welcome", slog.String("session", s.id), slog.Int("keepalive", k))
	return nil
}

func (s *Session) welcome(ctx context.Context) (*envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, welcomeTimeout)
	defer cancel()
	_, b, err := s.ws.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrNotWelcome, err)
	}
	env, err := decode(b)
	switch {
	case err != nil:
		return nil, fmt.Errorf("%w: couldn't decode welcome: %w", ErrNotWelcome, err)
	case env.Meta.Type != typeWelcome:
		return nil, fmt.Errorf("%w: got message with type %q", ErrNotWelcome, env.Meta.Type)
	case env.Body.Session.ID == "":
		return nil, ErrNoSessionID
	}
	return env, nil
}

// Connect is [Dial] followed by [*Session.Welcome].
func Connect(ctx context.Context, client *http.Client, keepalive int, url string) (*Session, error) {
	s, err := Dial(ctx, client, keepalive, url)
	if err != nil {
		return nil, err
	}
	if err := s.Welcome(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

// ID returns the session ID from the welcome.
func (s *Session) ID() string {
	return s.id
}

// Recv returns the next notification. Keepalives are consumed here and
// frames that don't decode are logged and skipped. A reconnect request
// comes back as a [*ReconnectError] and a revocation as a
// [*RevocationError].
//
// Cancelling ctx during Recv closes the connection.
func (s *Session) Recv(ctx context.Context) (*Event, error) {
	for {
		env, err := s.read(ctx)
		if err != nil {
			return nil, err
		}
		if env == nil {
			continue
		}
		log := slog.With(slog.String("id", env.Meta.MessageID), slog.String("type", env.Meta.Type))
		switch env.Meta.Type {
		case typeNotification:
			log.DebugContext(ctx, "EventSub notification", slog.String("subscription_type", env.Meta.SubType))
			return env.event(), nil
		case typeKeepalive:
			log.DebugContext(ctx, "EventSub keepalive")
		case typeReconnect:
			log.DebugContext(ctx, "EventSub reconnect requested")
			return nil, env.reconnect()
		case typeRevocation:
			log.DebugContext(ctx, "EventSub revocation", slog.String("subscription_type", env.Meta.SubType))
			return nil, env.revocation()
		default:
			log.DebugContext(ctx, "EventSub unknown message")
		}
	}
}

// read waits up to the idle timeout for one frame. It returns a nil envelope
// for frames that aren't valid messages.
func (s *Session) read(ctx context.Context) (*envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, s.idle)
	defer cancel()
	_, b, err := s.ws.Read(ctx)
	if err != nil {
		return nil, err
	}
	env, err := decode(b)
	if err != nil {
		slog.WarnContext(ctx, "skipping undecodable EventSub message", slog.Any("err", err), slog.Int("len", len(b)))
		return nil, nil
	}
	return env, nil
}

// Close performs the close handshake, dropping the connection outright if
// the server hasn't answered after a short wait.
func (s *Session) Close() error {
	t := time.AfterFunc(closeTimeout, func() { s.ws.CloseNow() })
	defer t.Stop()
	return s.ws.Close(websocket.StatusNormalClosure, "")
}

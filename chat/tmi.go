package chat

import (
	"context"
	"crypto/tls"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gitlab.com/zephyrtronium/tmi"
	"golang.org/x/time/rate"
)

// Config configures a chat connection.
type Config struct {
	// Nick is the login of the account which owns the token.
	Nick string
	// Token is the access token, with or without the oauth: prefix.
	Token string
	// Channel is the channel to join, with or without the leading #.
	Channel string
	// Greeting is sent once each time the channel is joined.
	// If empty, no greeting is sent.
	Greeting string
	// Rate is the sustained send rate. If zero, 20 messages per 30 seconds.
	Rate rate.Limit
	// Burst is the send burst size. If zero, 1.
	Burst int
}

func (cfg *Config) limiter() *rate.Limiter {
	r, b := cfg.Rate, cfg.Burst
	if r == 0 {
		r = rate.Every(1500 * time.Millisecond)
	}
	if b == 0 {
		b = 1
	}
	return rate.NewLimiter(r, b)
}

// TMI is a chat connection through gitlab.com/zephyrtronium/tmi.
type TMI struct {
	cfg      tmi.ConnectConfig
	channel  string
	greeting string
	rate     *rate.Limiter
	send     chan *tmi.Message

	mu      sync.Mutex
	ready   []func(context.Context)
	message []func(context.Context, Message)
	cancel  context.CancelFunc
	closed  atomic.Bool
}

var _ Conn = (*TMI)(nil)

// NewTMI creates a TMI connection. It does not connect until Connect is called.
func NewTMI(cfg Config) *TMI {
	tok := strings.TrimPrefix(strings.TrimSpace(cfg.Token), "oauth:")
	return &TMI{
		cfg: tmi.ConnectConfig{
			Dial:         new(tls.Dialer).DialContext,
			RetryWait:    tmi.RetryList(false, 0, time.Second, 10*time.Second, time.Minute, 5*time.Minute),
			Nick:         strings.ToLower(cfg.Nick),
			Pass:         "oauth:" + tok,
			Capabilities: []string{"twitch.tv/commands", "twitch.tv/tags"},
			Timeout:      300 * time.Second,
		},
		channel:  Channel(cfg.Channel),
		greeting: cfg.Greeting,
		rate:     cfg.limiter(),
		send:     make(chan *tmi.Message, 8),
	}
}

// Connect connects to TMI and serves the connection.
func (c *TMI) Connect(ctx context.Context) error {
	cctx, cancel := context.WithCancel(ctx)
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()
	recv := make(chan *tmi.Message, 8) // 8 is enough for on-connect msgs
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.serve(cctx, recv)
	}()
	lg := slog.NewLogLogger(slog.Default().Handler(), slog.LevelDebug)
	tmi.Connect(cctx, c.cfg, tmi.Log(lg, false), c.send, recv)
	cancel()
	<-done
	switch {
	case c.closed.Load():
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	default:
		return ErrDisconnected
	}
}

// serve handles messages received from TMI.
func (c *TMI) serve(ctx context.Context, recv <-chan *tmi.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-recv:
			if !ok {
				return
			}
			switch msg.Command {
			case "PRIVMSG":
				if msg.To() != c.channel {
					continue
				}
				m := fromTMI(msg)
				for _, f := range c.messageFuncs() {
					f(ctx, m)
				}
			case "NOTICE":
				slog.InfoContext(ctx, "TMI notice", slog.String("text", msg.Trailing), slog.String("tags", msg.Tags))
			case "GLOBALUSERSTATE":
				slog.InfoContext(ctx, "connected to TMI", slog.String("GLOBALUSERSTATE", msg.Tags))
			case "376": // End MOTD
				join := &tmi.Message{Command: "JOIN", Params: []string{c.channel}}
				select {
				case <-ctx.Done():
					return
				case c.send <- join:
				}
			case "366": // End NAMES
				if len(msg.Params) > 1 {
					slog.InfoContext(ctx, "joined channel", slog.String("channel", msg.Params[1]))
				}
				for _, f := range c.readyFuncs() {
					f(ctx)
				}
				go c.greet(ctx)
			}
		}
	}
}

// greet sends the greeting twice, once as a raw PRIVMSG and once through
// tmi.Privmsg.
func (c *TMI) greet(ctx context.Context) {
	if c.greeting == "" {
		return
	}
	raw := &tmi.Message{Command: "PRIVMSG", Params: []string{c.channel}, Trailing: c.greeting}
	c.enqueue(ctx, raw)
	c.enqueue(ctx, tmi.Privmsg(c.channel, c.greeting))
}

// Send queues a message to the channel.
func (c *TMI) Send(ctx context.Context, text string) {
	text = Clean(text)
	if text == "" {
		return
	}
	c.enqueue(ctx, tmi.Privmsg(c.channel, text))
}

func (c *TMI) enqueue(ctx context.Context, msg *tmi.Message) {
	if err := c.rate.Wait(ctx); err != nil {
		slog.WarnContext(ctx, "dropped chat message", slog.String("reason", "rate limit"), slog.Any("err", err))
		return
	}
	select {
	case c.send <- msg:
		slog.DebugContext(ctx, "queued chat message", slog.String("channel", c.channel), slog.String("text", msg.Trailing))
	default:
		slog.WarnContext(ctx, "dropped chat message", slog.String("reason", "send queue full"), slog.String("text", msg.Trailing))
	}
}

// OnReady registers f to be called when the channel is joined.
func (c *TMI) OnReady(f func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = append(c.ready, f)
}

// OnMessage registers f to be called for each message in the channel.
func (c *TMI) OnMessage(f func(ctx context.Context, m Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.message = append(c.message, f)
}

func (c *TMI) readyFuncs() []func(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *TMI) messageFuncs() []func(context.Context, Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

// Close ends the connection.
func (c *TMI) Close() error {
	c.closed.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

package chat

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"

	twitchirc "github.com/gempir/go-twitch-irc/v4"
	"golang.org/x/time/rate"
)

// IRC is a chat connection through github.com/gempir/go-twitch-irc.
type IRC struct {
	client   *twitchirc.Client
	channel  string
	greeting string
	rate     *rate.Limiter

	mu      sync.Mutex
	ctx     context.Context
	ready   []func(context.Context)
	message []func(context.Context, Message)
}

var _ Conn = (*IRC)(nil)

// NewIRC creates an IRC connection. It does not connect until Connect is called.
func NewIRC(cfg Config) *IRC {
	tok := strings.TrimPrefix(strings.TrimSpace(cfg.Token), "oauth:")
	c := &IRC{
		client:   twitchirc.NewClient(strings.ToLower(cfg.Nick), "oauth:"+tok),
		channel:  strings.TrimPrefix(Channel(cfg.Channel), "#"),
		greeting: cfg.Greeting,
		rate:     cfg.limiter(),
		ctx:      context.Background(),
	}
	c.client.OnConnect(func() {
		slog.InfoContext(c.context(), "connected to Twitch IRC", slog.String("channel", c.channel))
		c.client.Join(c.channel)
	})
	c.client.OnSelfJoinMessage(c.joined)
	c.client.OnPrivateMessage(c.privmsg)
	c.client.OnNoticeMessage(func(m twitchirc.NoticeMessage) {
		slog.InfoContext(c.context(), "IRC notice", slog.String("id", m.MsgID), slog.String("text", m.Message))
	})
	return c
}

// joined runs ready functions and greets once the bot is in the channel.
func (c *IRC) joined(m twitchirc.UserJoinMessage) {
	ctx := c.context()
	slog.InfoContext(ctx, "joined channel", slog.String("channel", m.Channel))
	for _, f := range c.readyFuncs() {
		f(ctx)
	}
	if c.greeting != "" {
		// The library has no raw send, so the greeting goes once.
		go c.Send(ctx, c.greeting)
	}
}

func (c *IRC) privmsg(m twitchirc.PrivateMessage) {
	if !strings.EqualFold(m.Channel, c.channel) {
		return
	}
	msg := Message{
		ID:          m.ID,
		To:          "#" + m.Channel,
		Sender:      m.User.ID,
		Name:        m.User.DisplayName,
		Text:        m.Message,
		IsModerator: m.User.Badges["moderator"] > 0 || m.User.Badges["broadcaster"] > 0,
	}
	ctx := c.context()
	for _, f := range c.messageFuncs() {
		f(ctx, msg)
	}
}

// Connect connects to Twitch IRC and blocks until the connection ends.
func (c *IRC) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()
	errc := make(chan error, 1)
	go func() {
		errc <- c.client.Connect()
	}()
	select {
	case <-ctx.Done():
		c.client.Disconnect()
		<-errc
		return ctx.Err()
	case err := <-errc:
		if errors.Is(err, twitchirc.ErrClientDisconnected) {
			return nil
		}
		slog.ErrorContext(ctx, "IRC connection ended", slog.Any("err", err))
		return ErrDisconnected
	}
}

// Send queues a message to the channel.
func (c *IRC) Send(ctx context.Context, text string) {
	text = Clean(text)
	if text == "" {
		return
	}
	if err := c.rate.Wait(ctx); err != nil {
		slog.WarnContext(ctx, "dropped chat message", slog.String("reason", "rate limit"), slog.Any("err", err))
		return
	}
	c.client.Say(c.channel, text)
}

func (c *IRC) OnReady(f func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ready = append(c.ready, f)
}

func (c *IRC) OnMessage(f func(ctx context.Context, m Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.message = append(c.message, f)
}

func (c *IRC) readyFuncs() []func(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

func (c *IRC) messageFuncs() []func(context.Context, Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.message
}

func (c *IRC) context() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// Close ends the connection.
func (c *IRC) Close() error {
	err := c.client.Disconnect()
	if errors.Is(err, twitchirc.ErrConnectionIsNotOpen) {
		return nil
	}
	return err
}

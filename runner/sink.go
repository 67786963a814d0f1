package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/delboitv/babs/chat"
	"github.com/delboitv/babs/events"
	"github.com/delboitv/babs/history"
	"github.com/delboitv/babs/metrics"
)

// sink bridges the event session to chat and signals.
type sink struct {
	r *Runner
}

var _ events.Sink = sink{}

func (s sink) Warn(ctx context.Context, msg string) {
	s.r.emit(ctx, Warning, msg)
}

func (s sink) Ready(ctx context.Context) {
	s.r.emit(ctx, Ready, "EventSub ready: follow, raid, sub, redemption.")
}

func (s sink) Disconnected(ctx context.Context, err error, wait time.Duration, giveUp bool) {
	if giveUp {
		s.r.emit(ctx, Disconnected, fmt.Sprintf("EventSub disconnected, giving up: %v", err))
		return
	}
	if m := s.r.cfg.Metrics; m != nil {
		metrics.Observe(m.Reconnects, 1)
	}
	s.r.emit(ctx, Status, fmt.Sprintf("EventSub disconnected, reconnecting in %v", wait))
}

func (s sink) Notify(ctx context.Context, n events.Notification) {
	r := s.r
	m := r.cfg.Metrics
	kind := n.Kind.String()
	if m != nil {
		metrics.Observe(m.Notifications, 1, kind)
	}
	if r.cfg.Seen != nil {
		fresh, err := r.cfg.Seen.Add(ctx, n.ID)
		if err != nil {
			slog.WarnContext(ctx, "couldn't check message id", slog.String("id", n.ID), slog.Any("err", err))
		}
		if err == nil && !fresh {
			slog.InfoContext(ctx, "dropping redelivered notification", slog.String("id", n.ID))
			if m != nil {
				metrics.Observe(m.Duplicates, 1)
			}
			return
		}
	}
	text := r.sel.Select(n.Kind, n.Subject)
	// Chat sends wait on the rate limit. Hand the alert off so EventSub
	// reads aren't held up.
	select {
	case r.queue <- alert{n: n, text: text}:
	case <-ctx.Done():
		slog.WarnContext(ctx, "dropped alert", slog.String("id", n.ID), slog.String("kind", kind))
	}
}

// alert is a notification with its chosen response.
type alert struct {
	n    events.Notification
	text string
}

// deliver records an alert and sends it to chat.
func (r *Runner) deliver(ctx context.Context, conn chat.Conn, a alert) {
	n, kind := a.n, a.n.Kind.String()
	now := time.Now()
	r.alerts.Add(1)
	slog.InfoContext(ctx, "alert", slog.String("kind", kind), slog.String("subject", n.Subject), slog.String("text", a.text))
	if m := r.cfg.Metrics; m != nil {
		metrics.Observe(m.Alerts, 1, kind)
		if t, err := time.Parse(time.RFC3339Nano, n.Timestamp); err == nil {
			metrics.Observe(m.AlertLatency, now.Sub(t).Seconds())
		}
	}
	if r.cfg.History != nil {
		h := history.Alert{ID: n.ID, Kind: kind, Subject: n.Subject, Text: a.text, Time: now}
		if err := history.Record(ctx, r.cfg.History, h); err != nil {
			slog.ErrorContext(ctx, "couldn't record alert", slog.Any("err", err))
		}
	}
	r.say(ctx, conn, a.text)
}

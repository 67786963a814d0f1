package runner

import (
	"context"
	"log/slog"
	"time"
)

// SignalKind is the kind of a signal sent to the presentation layer.
type SignalKind int

const (
	// Status is a change in connection status.
	Status SignalKind = iota
	// Error is a fatal problem.
	Error
	// Warning is a problem which the user can probably fix.
	Warning
	// Ready means every EventSub subscription was created.
	Ready
	// Channel names the channel the bot joins.
	Channel
	// Disconnected means EventSub has stopped for good.
	Disconnected
)

func (k SignalKind) String() string {
	switch k {
	case Status:
		return "status"
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Ready:
		return "ready"
	case Channel:
		return "channel"
	case Disconnected:
		return "disconnected"
	default:
		return "SignalKind(?)"
	}
}

// Signal is a message from the runner to the presentation layer.
type Signal struct {
	Kind SignalKind
	Text string
	Time time.Time
}

// emit delivers a signal without blocking.
func (r *Runner) emit(ctx context.Context, kind SignalKind, text string) {
	s := Signal{Kind: kind, Text: text, Time: time.Now()}
	select {
	case r.signals <- s:
	default:
		slog.WarnContext(ctx, "dropped signal", slog.String("kind", kind.String()), slog.String("text", text))
	}
}

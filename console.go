package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/delboitv/babs/runner"
)

// bot is the part of a runner the presentation layer uses.
type bot interface {
	Signals() <-chan runner.Signal
	Send(text string) bool
}

// console prints signals from b to w until ctx is done.
func console(ctx context.Context, b bot, w io.Writer) error {
	sigs := b.Signals()
	for {
		select {
		case <-ctx.Done():
			// Print whatever explains why we stopped.
			for {
				select {
				case s := <-sigs:
					printSignal(w, s)
				default:
					return nil
				}
			}
		case s := <-sigs:
			printSignal(w, s)
		}
	}
}

func printSignal(w io.Writer, s runner.Signal) {
	var tag string
	switch s.Kind {
	case runner.Error:
		tag = "ERROR"
	case runner.Warning:
		tag = "warning"
	case runner.Ready:
		tag = "ready"
	case runner.Channel:
		tag = "channel"
	case runner.Disconnected:
		tag = "disconnected"
	default:
		tag = "status"
	}
	fmt.Fprintf(w, "%s [%s] %s\n", s.Time.Format(time.TimeOnly), tag, s.Text)
}

// readConsole sends each line of r to chat. It returns at the end of r.
// Reads from r can't be interrupted, so it does not wait for ctx.
func readConsole(ctx context.Context, b bot, r io.Reader) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		if !b.Send(text) {
			slog.WarnContext(ctx, "send queue full", slog.String("text", text))
		}
	}
	if err := sc.Err(); err != nil {
		slog.ErrorContext(ctx, "couldn't read console", slog.Any("err", err))
	}
}

// openBrowser opens u in the user's browser.
func openBrowser(u string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", u)
	case "darwin":
		cmd = exec.Command("open", u)
	default:
		cmd = exec.Command("xdg-open", u)
	}
	return cmd.Start()
}

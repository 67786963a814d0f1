package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"regexp"
	"strconv"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/delboitv/babs/history"
	"github.com/delboitv/babs/runner"
)

// apiBot is what the HTTP API needs from the runner.
type apiBot interface {
	Send(text string) bool
	Status() runner.State
	Recent(ctx context.Context, n int) ([]history.Alert, error)
	Counts(ctx context.Context, since time.Time) (map[string]int, error)
}

// api serves the HTTP API on listen until ctx is done.
func api(ctx context.Context, listen string, b apiBot, metrics []prometheus.Collector) error {
	l, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("couldn't start API server: %w", err)
	}
	srv := &http.Server{
		Handler:     apiMux(b, metrics),
		ReadTimeout: 5 * time.Second,
		BaseContext: func(net.Listener) context.Context { return ctx },
	}
	slog.InfoContext(ctx, "HTTP API server", slog.Any("addr", l.Addr()))
	go func() {
		if err := srv.Serve(l); !errors.Is(err, http.ErrServerClosed) {
			slog.ErrorContext(ctx, "HTTP API server closed", slog.Any("err", err))
		}
	}()
	<-ctx.Done()
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return srv.Shutdown(sctx)
}

// runtimeMetrics selects the Go runtime metrics worth exporting.
var runtimeMetrics = regexp.MustCompile(`^(/gc/heap/goal:bytes|/memory/classes/total:bytes|/sched/goroutines:goroutines|/sched/latencies:seconds)$`)

func apiMux(b apiBot, metrics []prometheus.Collector) *http.ServeMux {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(
		collectors.WithGoCollectorMemStatsMetricsDisabled(),
		collectors.WithGoCollectorRuntimeMetrics(collectors.GoRuntimeMetricsRule{Matcher: runtimeMetrics}),
	))
	reg.MustRegister(metrics...)

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	mux.HandleFunc("GET /debug/pprof/", pprof.Index)
	mux.HandleFunc("GET /debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("GET /debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("GET /debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("GET /debug/pprof/trace", pprof.Trace)

	h := handlers{b}
	mux.Handle("POST /api/send", apiHandler("send", h.send))
	mux.Handle("GET /api/status", apiHandler("status", h.status))
	mux.Handle("GET /api/history", apiHandler("history", h.history))
	return mux
}

// apiFunc handles one API request. A non-nil apiError is written as the
// response. Otherwise the handler has written its own.
type apiFunc func(w http.ResponseWriter, r *http.Request, log *slog.Logger) *apiError

type apiError struct {
	Error  string `json:"error"`
	Status int    `json:"status"`
}

func fail(status int, msg string) *apiError { return &apiError{Error: msg, Status: status} }

// apiHandler adds a traced logger and JSON error responses to f.
func apiHandler(name string, f apiFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		log := slog.With(slog.String("api", name), slog.Any("trace", uuid.New()))
		log.InfoContext(ctx, "handle", slog.String("route", r.Pattern), slog.String("remote", r.RemoteAddr))
		w.Header().Set("Content-Type", "application/json")
		if e := f(w, r, log); e != nil {
			log.WarnContext(ctx, "request failed", slog.Int("status", e.Status), slog.String("error", e.Error))
			w.WriteHeader(e.Status)
			if err := json.MarshalWrite(w, e); err != nil {
				log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
			}
			return
		}
		log.InfoContext(ctx, "done")
	})
}

type handlers struct {
	bot apiBot
}

func (h handlers) send(w http.ResponseWriter, r *http.Request, log *slog.Logger) *apiError {
	var msg struct {
		Text string `json:"text"`
	}
	if err := json.UnmarshalRead(http.MaxBytesReader(w, r.Body, 4096), &msg); err != nil {
		log.WarnContext(r.Context(), "bad request", slog.Any("err", err))
		return fail(http.StatusBadRequest, "body must be a JSON object with text")
	}
	if msg.Text == "" {
		return fail(http.StatusBadRequest, "no text")
	}
	if !h.bot.Send(msg.Text) {
		return fail(http.StatusServiceUnavailable, "send queue full")
	}
	w.WriteHeader(http.StatusAccepted)
	w.Write([]byte(`{"status":202}`))
	return nil
}

func (h handlers) status(w http.ResponseWriter, r *http.Request, log *slog.Logger) *apiError {
	st := h.bot.Status()
	if err := json.MarshalWrite(w, &st); err != nil {
		log.ErrorContext(r.Context(), "write response failed", slog.Any("err", err))
	}
	return nil
}

// historyLimit bounds the n parameter of /api/history.
const historyLimit = 1000

func (h handlers) history(w http.ResponseWriter, r *http.Request, log *slog.Logger) *apiError {
	ctx := r.Context()
	n := 20
	if s := r.FormValue("n"); s != "" {
		var err error
		n, err = strconv.Atoi(s)
		if err != nil || n <= 0 || n > historyLimit {
			return fail(http.StatusBadRequest, "invalid count")
		}
	}
	alerts, err := h.bot.Recent(ctx, n)
	if err != nil {
		return fail(http.StatusInternalServerError, err.Error())
	}
	day, err := h.bot.Counts(ctx, time.Now().Add(-24*time.Hour))
	if err != nil {
		return fail(http.StatusInternalServerError, err.Error())
	}
	if alerts == nil {
		alerts = []history.Alert{}
	}
	resp := struct {
		Data   []history.Alert `json:"data"`
		Day    map[string]int  `json:"day"`
		Status int             `json:"status"`
	}{alerts, day, http.StatusOK}
	if err := json.MarshalWrite(w, &resp); err != nil {
		log.ErrorContext(ctx, "write response failed", slog.Any("err", err))
	}
	return nil
}

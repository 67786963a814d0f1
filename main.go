package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"

	"github.com/delboitv/babs/auth"
	"github.com/delboitv/babs/chat"
	"github.com/delboitv/babs/metrics"
	"github.com/delboitv/babs/response"
	"github.com/delboitv/babs/runner"
	"github.com/delboitv/babs/twitch"
)

var app = cli.Command{
	Name:  "babs",
	Usage: "Twitch chat bot which calls out follows, raids, subs, and redemptions",

	Flags: []cli.Flag{
		&flagConfig,
		&flagLog,
		&flagLogFormat,
	},
	Commands: []*cli.Command{
		{
			Name:   "run",
			Usage:  "Connect to chat and EventSub and serve",
			Action: cliRun,
		},
		{
			Name:  "login",
			Usage: "Get an access token and save it to the credential file",
			Flags: []cli.Flag{
				&cli.BoolFlag{
					Name:  "device",
					Usage: "Use the device code flow instead of a local redirect",
				},
				&cli.StringFlag{
					Name:  "client-id",
					Usage: "Application client ID; defaults to the one in the credential file",
				},
				&cli.StringFlag{
					Name:  "addr",
					Usage: "Listen address for the login redirect",
					Value: auth.DefaultLoginAddr,
				},
			},
			Action: cliLogin,
		},
		{
			Name:  "configure",
			Usage: "Set fields of the credential file",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "token", Usage: "Access token, with or without oauth:"},
				&cli.StringFlag{Name: "refresh-token", Usage: "Refresh token"},
				&cli.StringFlag{Name: "client-id", Usage: "Application client ID"},
				&cli.StringFlag{Name: "channel", Usage: "Channel to join; empty means the token owner's"},
			},
			Action: cliConfigure,
		},
		{
			Name:   "check",
			Usage:  "Validate the access token and its scopes",
			Action: cliCheck,
		},
	},
	Action: cliRun,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	go func() {
		<-ctx.Done()
		stop()
	}()
	err := app.Run(ctx, os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func cliRun(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	p, err := cfg.credentialsPath()
	if err != nil {
		return err
	}
	creds := auth.Load(p)
	hist, set, err := cfg.openDBs(ctx)
	if err != nil {
		return err
	}
	defer set.Close()
	if hist != nil {
		defer hist.Close()
	}
	m := metrics.New()
	r := runner.New(runner.Config{
		Credentials: creds,
		Chat:        cfg.chat(),
		Greeting:    cfg.Chat.Greeting,
		Selector:    response.New(nil, cfg.Responses),
		EventSub:    cfg.EventSub.URL,
		Keepalive:   cfg.EventSub.Keepalive,
		Retry:       cfg.retry(),
		History:     hist,
		Seen:        set,
		Metrics:     m,
	})

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error { return r.Run(ctx) })
	group.Go(func() error { return console(ctx, r, os.Stdout) })
	go readConsole(ctx, r, os.Stdin)
	if cfg.HTTP.Listen != "" {
		group.Go(func() error { return api(ctx, cfg.HTTP.Listen, r, m.Collectors()) })
	}
	err = group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// chat returns the chat connection constructor for the configured backend.
func (cfg *Config) chat() func(chat.Config) chat.Conn {
	lim, burst := cfg.Chat.Rate.limit()
	return func(c chat.Config) chat.Conn {
		c.Rate, c.Burst = lim, burst
		switch strings.ToLower(cfg.Chat.Backend) {
		case "irc":
			return chat.NewIRC(c)
		default:
			return chat.NewTMI(c)
		}
	}
}

func cliLogin(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	p, err := cfg.credentialsPath()
	if err != nil {
		return err
	}
	creds := auth.Load(p)
	if id := cmd.String("client-id"); id != "" {
		creds.ClientID = id
	}
	if creds.ClientID == "" {
		fmt.Println("A client ID is needed to log in. Without an application, get a token from")
		fmt.Println(auth.GeneratorURL)
		fmt.Println("and save it with babs configure --token.")
		return errors.New("no client ID")
	}
	ctx, cancel := context.WithTimeout(ctx, 10*time.Minute)
	defer cancel()
	if cmd.Bool("device") {
		prompt := func(code, uri, complete string) {
			fmt.Printf("Go to %s and enter the code %s\n", uri, code)
		}
		tok, err := auth.DeviceLogin(ctx, creds.ClientID, nil, prompt)
		if err != nil {
			return err
		}
		creds.AccessToken = tok.AccessToken
		if err := storeRefresh(ctx, cfg, &creds, tok.RefreshToken); err != nil {
			return err
		}
	} else {
		l := auth.Login{ClientID: creds.ClientID, Addr: cmd.String("addr"), Open: openBrowser}
		fmt.Println("Opening a browser to log in. If nothing happens, open the URL in the log.")
		tok, err := l.Token(ctx)
		if err != nil {
			return err
		}
		creds.AccessToken = tok
	}
	creds = creds.Normalize()
	if err := auth.Save(p, creds); err != nil {
		return err
	}
	fmt.Println("Saved credentials to", p)
	return nil
}

// storeRefresh keeps a refresh token in the sealed file if one is
// configured, otherwise in the credentials.
func storeRefresh(ctx context.Context, cfg *Config, creds *auth.Credentials, refresh string) error {
	v, err := cfg.openVault()
	if err != nil {
		return err
	}
	if v == nil {
		creds.RefreshToken = refresh
		return nil
	}
	defer v.Close()
	if err := v.Store(ctx, refresh); err != nil {
		return fmt.Errorf("couldn't seal refresh token: %w", err)
	}
	creds.RefreshToken = ""
	return nil
}

func cliConfigure(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	p, err := cfg.credentialsPath()
	if err != nil {
		return err
	}
	creds := auth.Load(p)
	if cmd.IsSet("token") {
		creds.AccessToken = cmd.String("token")
	}
	if cmd.IsSet("client-id") {
		creds.ClientID = cmd.String("client-id")
	}
	if cmd.IsSet("channel") {
		creds.Channel = cmd.String("channel")
	}
	if cmd.IsSet("refresh-token") {
		if err := storeRefresh(ctx, cfg, &creds, cmd.String("refresh-token")); err != nil {
			return err
		}
	}
	creds = creds.Normalize()
	if err := auth.Save(p, creds); err != nil {
		return err
	}
	fmt.Println("Saved credentials to", p)
	return nil
}

func cliCheck(ctx context.Context, cmd *cli.Command) error {
	slog.SetDefault(loggerFromFlags(cmd))
	cfg, err := loadConfig(ctx, cmd.String("config"))
	if err != nil {
		return err
	}
	p, err := cfg.credentialsPath()
	if err != nil {
		return err
	}
	creds := auth.Load(p).Normalize()
	if creds.AccessToken == "" {
		return errors.New("No access token in config.")
	}
	v, err := twitch.Validate(ctx, nil, creds.Bearer())
	if err != nil {
		return err
	}
	fmt.Printf("token belongs to %s (%s), expires in %v\n", v.Login, v.UserID, time.Duration(v.ExpiresIn)*time.Second)
	switch {
	case creds.ClientID == "":
		fmt.Println("no client ID; follow, raid, sub, and redemption alerts are disabled")
	case creds.ClientID != v.ClientID:
		fmt.Printf("configured client ID %s doesn't match the token's %s\n", creds.ClientID, v.ClientID)
	}
	if missing := v.Missing(auth.Scopes...); len(missing) != 0 {
		fmt.Println("missing scopes:", strings.Join(missing, " "))
	}
	channel := creds.Channel
	if channel == "" {
		channel = v.Login
	}
	fmt.Println("will join", chat.Channel(channel))
	vault, err := cfg.openVault()
	if err != nil {
		return err
	}
	if vault != nil {
		defer vault.Close()
		r, err := vault.Load(ctx)
		switch {
		case err != nil:
			fmt.Println("sealed refresh token is unreadable:", err)
		case r == "":
			fmt.Println("no sealed refresh token")
		default:
			fmt.Println("sealed refresh token present")
		}
	}
	return nil
}

var (
	flagConfig = cli.StringFlag{
		Name:       "config",
		Usage:      "TOML config file",
		Persistent: true,
		Action: func(ctx context.Context, cmd *cli.Command, s string) error {
			i, err := os.Stat(s)
			if err != nil {
				return err
			}
			if !i.Mode().IsRegular() {
				return errors.New("config must be a regular file")
			}
			return nil
		},
	}

	flagLog = cli.StringFlag{
		Name:       "log",
		Usage:      "Logging level, one of debug, info, warn, error",
		Value:      "info",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			var l slog.Level
			return l.UnmarshalText([]byte(s))
		},
	}

	flagLogFormat = cli.StringFlag{
		Name:       "log-format",
		Usage:      "Logging format, either text or json",
		Value:      "text",
		Persistent: true,
		Action: func(ctx context.Context, c *cli.Command, s string) error {
			switch strings.ToLower(s) {
			case "text", "json":
				return nil
			default:
				return errors.New("unknown logging format")
			}
		},
	}
)

func loggerFromFlags(cmd *cli.Command) *slog.Logger {
	var l slog.Level
	if err := l.UnmarshalText([]byte(cmd.String("log"))); err != nil {
		panic(err)
	}
	var h slog.Handler
	switch strings.ToLower(cmd.String("log-format")) {
	case "text":
		h = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	case "json":
		h = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: l})
	}
	return slog.New(h)
}

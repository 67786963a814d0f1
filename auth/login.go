package auth

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// Scopes are the scopes the bot needs for chat and all event kinds.
var Scopes = []string{
	"chat:read",
	"chat:edit",
	"moderator:read:followers",
	"channel:read:subscriptions",
	"channel:read:redemptions",
}

// DefaultLoginAddr is the address of the local login listener. The redirect
// URL registered for the application must match it.
const DefaultLoginAddr = "localhost:8765"

// GeneratorURL is a third-party page which creates tokens with the bot's
// scopes for users without their own application.
var GeneratorURL = "https://twitchtokengenerator.com/?auth=auth_stay&scope=" + strings.Join(Scopes, "+")

// Login runs the OAuth implicit grant flow through a local HTTP listener.
// A Login value is good for one token.
type Login struct {
	// ClientID is the application client ID.
	ClientID string
	// Addr is the listen address. If empty, DefaultLoginAddr is used.
	Addr string
	// Open is called with the authorization URL, usually to open a browser.
	// If nil, the URL is only logged.
	Open func(url string) error

	state string
	// token is a single-slot hand-off from the capture handler.
	token chan string
}

func (l *Login) addr() string {
	if l.Addr == "" {
		return DefaultLoginAddr
	}
	return l.Addr
}

func (l *Login) config() *oauth2.Config {
	return &oauth2.Config{
		ClientID:    l.ClientID,
		Endpoint:    oauth2.Endpoint{AuthURL: "https://id.twitch.tv/oauth2/authorize", TokenURL: "https://id.twitch.tv/oauth2/token"},
		RedirectURL: "http://" + l.addr() + "/callback",
		Scopes:      Scopes,
	}
}

// URL returns the authorization URL for the given state.
func (l *Login) URL(state string) string {
	return l.config().AuthCodeURL(state,
		oauth2.SetAuthURLParam("response_type", "token"),
		oauth2.SetAuthURLParam("force_verify", "true"),
	)
}

// Token listens for the authorization redirect and returns the captured
// access token in oauth: form. It returns when a token is captured or ctx
// is done.
func (l *Login) Token(ctx context.Context) (string, error) {
	if l.ClientID == "" {
		return "", errors.New("client ID is required to log in")
	}
	ln, err := net.Listen("tcp", l.addr())
	if err != nil {
		return "", fmt.Errorf("couldn't listen for login redirect: %w", err)
	}
	if strings.HasSuffix(l.addr(), ":0") {
		l.Addr = ln.Addr().String()
	}
	l.state = uuid.NewString()
	l.token = make(chan string, 1)
	srv := &http.Server{
		Handler:           l.handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	go srv.Serve(ln)
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}()

	u := l.URL(l.state)
	slog.InfoContext(ctx, "waiting for login", slog.String("url", u))
	if l.Open != nil {
		if err := l.Open(u); err != nil {
			slog.WarnContext(ctx, "couldn't open browser", slog.Any("err", err))
		}
	}
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case tok := <-l.token:
		return NormalizeToken(tok), nil
	}
}

// handler serves the redirect page and the capture endpoint.
func (l *Login) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /callback", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := callbackPage.Execute(w, nil); err != nil {
			slog.ErrorContext(r.Context(), "couldn't write callback page", slog.Any("err", err))
		}
	})
	mux.HandleFunc("GET /capture", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if e := q.Get("error"); e != "" {
			slog.WarnContext(r.Context(), "login refused", slog.String("error", e), slog.String("description", q.Get("error_description")))
			http.Error(w, "Login was refused: "+q.Get("error_description"), http.StatusBadRequest)
			return
		}
		if q.Get("state") != l.state {
			http.Error(w, "Login state doesn't match. Try logging in again.", http.StatusBadRequest)
			return
		}
		tok := q.Get("access_token")
		if tok == "" {
			http.Error(w, "No access token in redirect.", http.StatusBadRequest)
			return
		}
		select {
		case l.token <- tok:
			w.Header().Set("Content-Type", "text/html; charset=utf-8")
			w.Write([]byte(successPage))
		default:
			http.Error(w, "Already logged in.", http.StatusConflict)
		}
	})
	return mux
}

// callbackPage forwards the token from the URL fragment, which browsers
// don't send to servers, to the capture endpoint.
var callbackPage = template.Must(template.New("callback").Parse(`<!DOCTYPE html>
<html><head><title>Logging in</title></head>
<body>
<p>Finishing login...</p>
<script>
const p = new URLSearchParams(window.location.hash.slice(1));
const q = new URLSearchParams(window.location.search);
const out = new URLSearchParams();
for (const k of ["access_token", "state", "error", "error_description"]) {
	const v = p.get(k) || q.get(k);
	if (v) out.set(k, v);
}
window.location.replace("/capture?" + out.toString());
</script>
</body></html>
`))

const successPage = `<!DOCTYPE html>
<html><head><title>Logged in</title></head>
<body><p>Logged in. You can close this tab.</p></body></html>
`

package auth

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"golang.org/x/oauth2"
)

type fixedResponse struct {
	status int
	body   string
}

func (f *fixedResponse) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(f.status)
	io.WriteString(w, f.body)
}

// pendingOnce answers the first token request as pending.
type pendingOnce struct {
	n    atomic.Int32
	done *fixedResponse
}

func (p *pendingOnce) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if p.n.Add(1) == 1 {
		(&fixedResponse{status: 400, body: `{"status":400,"message":"authorization_pending"}`}).ServeHTTP(w, r)
		return
	}
	p.done.ServeHTTP(w, r)
}

func deviceFixture(t *testing.T, token http.Handler) {
	t.Helper()
	var mux http.ServeMux
	mux.Handle("POST /oauth2/device", &fixedResponse{
		status: 200,
		body:   `{"device_code":"bocchi","expires_in":1800,"interval":1,"user_code":"ryou","verification_uri":"http://error/"}`,
	})
	mux.Handle("POST /oauth2/token", token)
	srv := httptest.NewServer(&mux)
	t.Cleanup(srv.Close)
	old := DeviceEndpoint
	DeviceEndpoint = oauth2.Endpoint{
		DeviceAuthURL: srv.URL + "/oauth2/device",
		TokenURL:      srv.URL + "/oauth2/token",
		AuthStyle:     oauth2.AuthStyleInParams,
	}
	t.Cleanup(func() { DeviceEndpoint = old })
}

func TestDeviceLogin(t *testing.T) {
	deviceFixture(t, &pendingOnce{done: &fixedResponse{
		status: 200,
		body:   `{"access_token":"nijika","expires_in":14400,"refresh_token":"kita","scope":["chat:read"],"token_type":"bearer"}`,
	}})
	var code string
	prompt := func(userCode, verURI, verURIComplete string) { code = userCode }
	tok, err := DeviceLogin(context.Background(), "bocchi", nil, prompt)
	if err != nil {
		t.Fatalf("couldn't get token: %v", err)
	}
	if tok.AccessToken != "nijika" {
		t.Errorf("wrong access token: want %q, got %q", "nijika", tok.AccessToken)
	}
	if tok.RefreshToken != "kita" {
		t.Errorf("wrong refresh token: want %q, got %q", "kita", tok.RefreshToken)
	}
	if code != "ryou" {
		t.Errorf("wrong user code prompted: %q", code)
	}
}

func TestDeviceLoginDenied(t *testing.T) {
	deviceFixture(t, &fixedResponse{status: 400, body: `{"status":400,"message":"authorization_declined"}`})
	_, err := DeviceLogin(context.Background(), "bocchi", nil, func(string, string, string) {})
	if err == nil {
		t.Error("expected an error")
	}
}

func TestDeviceLoginNoClient(t *testing.T) {
	if _, err := DeviceLogin(context.Background(), "", nil, func(string, string, string) {}); err == nil {
		t.Error("expected an error")
	}
}

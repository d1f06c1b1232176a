package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/brizzai/social-login/internal/channel"
	"github.com/brizzai/social-login/internal/config"
	"github.com/brizzai/social-login/internal/coordinator"
	"github.com/brizzai/social-login/internal/extractor"
	"github.com/brizzai/social-login/internal/login"
	"github.com/brizzai/social-login/internal/session"
	"github.com/brizzai/social-login/internal/wallet"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

const (
	appOrigin   = "https://app.example.com"
	loginOrigin = "https://login.example.com"
)

type fakeProvider struct{}

func (fakeProvider) Name() login.Provider { return login.ProviderGoogle }

func (fakeProvider) AuthURL(state, _, redirectURI string) string {
	q := url.Values{"state": {state}, "redirect_uri": {redirectURI}}
	return "https://idp.example.com/authorize?" + q.Encode()
}

func (fakeProvider) Exchange(_ context.Context, code, _, _ string) (*oauth2.Token, error) {
	return &oauth2.Token{AccessToken: "token-" + code}, nil
}

func (fakeProvider) Identity(context.Context, *oauth2.Token) (*wallet.Identity, error) {
	return &wallet.Identity{Subject: "sub-1", Email: "a@b.com", Name: "Ada"}, nil
}

type fixture struct {
	handler  *Handler
	http     http.Handler
	broker   *wallet.Broker
	registry *channel.Registry
	store    *session.Store
}

func newFixture(t *testing.T, opts ...func(*config.Config)) *fixture {
	t.Helper()
	cfg := &config.Config{
		Login: config.LoginConfig{
			AllowedOrigins: []string{appOrigin},
			TargetOrigin:   appOrigin,
			FallbackPath:   "/custom-page",
			PollDelay:      10 * time.Millisecond,
			Timeout:        5 * time.Second,
		},
		OAuth: &config.OAuthConfig{BaseURL: loginOrigin},
	}
	for _, opt := range opts {
		opt(cfg)
	}
	require.NoError(t, cfg.Validate())

	store, err := session.NewStore(session.NewMemoryKV(), config.DefaultSessionKey)
	require.NoError(t, err)
	registry := channel.NewRegistry()
	broker := wallet.NewBroker(cfg.OAuth.BaseURL, fakeProvider{})
	sender, err := channel.NewSenderFromConfig(cfg, store)
	require.NoError(t, err)
	ex, err := extractor.New(extractor.Options{
		Host:          config.DefaultExtractHost,
		FollowUpPath:  "/custom-page",
		RedirectDelay: time.Hour,
	}, store)
	require.NoError(t, err)

	h, err := NewHandler(Params{
		Config:    cfg,
		Registry:  registry,
		Broker:    broker,
		Sender:    sender,
		Extractor: ex,
		Store:     store,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = h.Stop(context.Background()) })

	return &fixture{
		handler:  h,
		http:     h.CreateHTTPHandler("/mcp", http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTeapot) })),
		broker:   broker,
		registry: registry,
		store:    store,
	}
}

func (f *fixture) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Origin", appOrigin)
	rec := httptest.NewRecorder()
	f.http.ServeHTTP(rec, req)
	return rec
}

func TestCreateHTTPHandler_MountsMCP(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, http.StatusTeapot, f.do(http.MethodPost, "/mcp", "{}").Code)
}

func TestCORS(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodOptions, "/mcp", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, appOrigin, rec.Header().Get("Access-Control-Allow-Origin"))

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	f.http.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestHandleCallback_UnknownState(t *testing.T) {
	f := newFixture(t)
	rec := f.do(http.MethodGet, "/oauth/callback?state=nope&code=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "invalid_request")
}

func TestHandleCallback_FallbackRedirect(t *testing.T) {
	f := newFixture(t)

	a, err := f.broker.Begin("closed-page", login.ProviderGoogle)
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/oauth/callback?state="+a.State+"&code=abc", "")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "/custom-page", loc.Path)
	assert.Equal(t, "success", loc.Query().Get("login"))
	address := wallet.Address(login.ProviderGoogle, "sub-1")
	assert.Equal(t, address, loc.Query().Get("address"))

	stored, ok := f.store.Read(context.Background())
	require.True(t, ok)
	assert.Equal(t, address, stored.Address)
	assert.Equal(t, "a@b.com", stored.Email)
}

func TestHandleCallback_ProviderError(t *testing.T) {
	f := newFixture(t)

	a, err := f.broker.Begin("closed-page", login.ProviderGoogle)
	require.NoError(t, err)

	rec := f.do(http.MethodGet, "/oauth/callback?state="+a.State+"&error=access_denied&error_description=User+cancelled", "")
	require.Equal(t, http.StatusFound, rec.Code)

	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "error", loc.Query().Get("login"))
	assert.Equal(t, "User cancelled", loc.Query().Get("error"))

	_, ok := f.store.Read(context.Background())
	assert.False(t, ok)
}

func TestHandleExtract(t *testing.T) {
	f := newFixture(t)

	payload := `{"storedToken":{"authDetails":{"userWalletId":"0xABC","email":"a@b.com"}}}`
	body, err := json.Marshal(map[string]string{
		"url": "https://embedded-wallet.thirdweb.com/sdk/oauth?authResult=" + url.QueryEscape(payload),
	})
	require.NoError(t, err)

	rec := f.do(http.MethodPost, "/api/extract", string(body))
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Result          login.Result `json:"result"`
		Redirect        string       `json:"redirect"`
		RedirectAfterMs int64        `json:"redirect_after_ms"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "0xABC", resp.Result.Address)
	assert.Equal(t, login.ProviderSocial, resp.Result.Provider)
	assert.Equal(t, "/custom-page?address=0xABC&login=success&provider=social", resp.Redirect)
	assert.Equal(t, time.Hour.Milliseconds(), resp.RedirectAfterMs)

	stored, ok := f.store.Read(context.Background())
	require.True(t, ok)
	assert.Equal(t, "0xABC", stored.Address)

	rec = f.do(http.MethodPost, "/api/extract", `{"url":"https://example.com/"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "not_recognized")

	rec = f.do(http.MethodPost, "/api/extract", `{"url":"https://embedded-wallet.thirdweb.com/sdk/oauth"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "malformed_payload")

	rec = f.do(http.MethodPost, "/api/extract", `{"url":"x","page":"missing"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/extract", "not json").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodGet, "/api/extract", "").Code)
}

func TestHandleSession(t *testing.T) {
	f := newFixture(t)

	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/session", "").Code)

	require.NoError(t, f.store.Write(context.Background(), login.Success("0xABC", login.ProviderGoogle)))
	rec := f.do(http.MethodGet, "/api/session", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got login.Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "0xABC", got.Address)

	assert.Equal(t, http.StatusNoContent, f.do(http.MethodDelete, "/api/session", "").Code)
	assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/api/session", "").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, f.do(http.MethodPut, "/api/session", "").Code)
}

type wireInstruction struct {
	Event string                `json:"event"`
	Page  string                `json:"page"`
	URL   string                `json:"url"`
	State *coordinator.Snapshot `json:"state"`
}

// readUntil reads instructions until match returns true.
func readUntil(t *testing.T, conn *websocket.Conn, match func(wireInstruction) bool) wireInstruction {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var ins wireInstruction
		require.NoError(t, conn.ReadJSON(&ins))
		if match(ins) {
			return ins
		}
	}
}

func stateIs(s coordinator.State) func(wireInstruction) bool {
	return func(ins wireInstruction) bool {
		return ins.Event == "state" && ins.State != nil && ins.State.State == s
	}
}

func TestPopupLogin(t *testing.T) {
	f := newFixture(t)
	srv := httptest.NewServer(f.http)
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {appOrigin}})
	require.NoError(t, err)
	defer conn.Close()

	hello := readUntil(t, conn, func(ins wireInstruction) bool { return ins.Event == "attached" })
	require.NotEmpty(t, hello.Page)
	readUntil(t, conn, stateIs(coordinator.StateIdle))

	require.NoError(t, conn.WriteJSON(channel.Command{Type: channel.CommandStart, Provider: "google"}))
	open := readUntil(t, conn, func(ins wireInstruction) bool { return ins.Event == "open" })
	consent, err := url.Parse(open.URL)
	require.NoError(t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)

	resp, err := http.Get(srv.URL + "/oauth/callback?state=" + state + "&code=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	done := readUntil(t, conn, stateIs(coordinator.StateConnected))
	require.NotNil(t, done.State.Result)
	assert.Equal(t, wallet.Address(login.ProviderGoogle, "sub-1"), done.State.Result.Address)
	assert.Equal(t, login.ProviderGoogle, done.State.Result.Provider)

	assert.Eventually(t, func() bool {
		stored, ok := f.store.Read(context.Background())
		return ok && stored.Address == done.State.Result.Address
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteJSON(channel.Command{Type: channel.CommandDisconnect}))
	readUntil(t, conn, stateIs(coordinator.StateIdle))
	assert.Eventually(t, func() bool {
		_, ok := f.store.Read(context.Background())
		return !ok
	}, 2*time.Second, 10*time.Millisecond)
}

// slowAccessor leaves the callback message as the only completion source.
func slowAccessor(timeout time.Duration) func(*config.Config) {
	return func(cfg *config.Config) {
		cfg.Login.PollDelay = time.Hour
		cfg.Login.StorePollInterval = 0
		cfg.Login.Timeout = timeout
	}
}

// startLogin attaches a tab, starts a google login and returns the consent state.
func startLogin(t *testing.T, srv *httptest.Server) (*websocket.Conn, string) {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {appOrigin}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	readUntil(t, conn, stateIs(coordinator.StateIdle))
	require.NoError(t, conn.WriteJSON(channel.Command{Type: channel.CommandStart, Provider: "google"}))
	open := readUntil(t, conn, func(ins wireInstruction) bool { return ins.Event == "open" })
	consent, err := url.Parse(open.URL)
	require.NoError(t, err)
	state := consent.Query().Get("state")
	require.NotEmpty(t, state)
	return conn, state
}

func callback(t *testing.T, srv *httptest.Server, state string) int {
	t.Helper()
	resp, err := http.Get(srv.URL + "/oauth/callback?state=" + state + "&code=abc")
	require.NoError(t, err)
	defer resp.Body.Close()
	return resp.StatusCode
}

func TestPopupLogin_CallbackOnSeparateOrigin(t *testing.T) {
	f := newFixture(t, slowAccessor(5*time.Second))
	srv := httptest.NewServer(f.http)
	defer srv.Close()

	conn, state := startLogin(t, srv)
	assert.Equal(t, http.StatusOK, callback(t, srv, state))

	done := readUntil(t, conn, stateIs(coordinator.StateConnected))
	require.NotNil(t, done.State.Result)
	assert.Equal(t, wallet.Address(login.ProviderGoogle, "sub-1"), done.State.Result.Address)
}

func TestPopupLogin_LateCallbackAfterTimeout(t *testing.T) {
	f := newFixture(t, slowAccessor(150*time.Millisecond))
	srv := httptest.NewServer(f.http)
	defer srv.Close()

	conn, state := startLogin(t, srv)
	timedOut := readUntil(t, conn, stateIs(coordinator.StateTimedOut))
	assert.Contains(t, timedOut.State.Message, "timed out")
	assert.Equal(t, 1, f.broker.Pending())

	assert.Equal(t, http.StatusOK, callback(t, srv, state))
	done := readUntil(t, conn, stateIs(coordinator.StateConnected))
	require.NotNil(t, done.State.Result)
	assert.Equal(t, wallet.Address(login.ProviderGoogle, "sub-1"), done.State.Result.Address)
	assert.Eventually(t, func() bool {
		stored, ok := f.store.Read(context.Background())
		return ok && stored.Address == done.State.Result.Address
	}, 2*time.Second, 10*time.Millisecond)
}

func TestPopupLogin_DisconnectRejectsPendingConsent(t *testing.T) {
	f := newFixture(t, slowAccessor(150*time.Millisecond))
	srv := httptest.NewServer(f.http)
	defer srv.Close()

	conn, state := startLogin(t, srv)
	readUntil(t, conn, stateIs(coordinator.StateTimedOut))
	require.NoError(t, conn.WriteJSON(channel.Command{Type: channel.CommandDisconnect}))
	readUntil(t, conn, stateIs(coordinator.StateIdle))

	assert.Equal(t, http.StatusBadRequest, callback(t, srv, state))
}

func TestPageSession_RestoresAndResumes(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.store.Write(context.Background(), login.Success("0xABC", login.ProviderApple)))

	srv := httptest.NewServer(f.http)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {appOrigin}})
	require.NoError(t, err)
	restored := readUntil(t, conn, stateIs(coordinator.StateConnected))
	assert.Equal(t, "0xABC", restored.State.Result.Address)
	require.NoError(t, conn.Close())

	require.NoError(t, f.store.Clear(context.Background()))
	conn, _, err = websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {appOrigin}})
	require.NoError(t, err)
	defer conn.Close()
	readUntil(t, conn, stateIs(coordinator.StateIdle))

	require.NoError(t, conn.WriteJSON(channel.Command{
		Type:  channel.CommandResume,
		Query: "?login=error&error=denied&provider=google",
	}))
	failed := readUntil(t, conn, stateIs(coordinator.StateFailed))
	assert.Contains(t, failed.State.Message, "denied")
}

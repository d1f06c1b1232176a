package channel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPWindow(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/oauth/callback", nil)
	w := NewHTTPWindow(rec, req, nil)
	assert.Nil(t, w.Opener())

	require.NoError(t, w.Navigate(context.Background(), "/custom-page?login=success"))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/custom-page?login=success", rec.Header().Get("Location"))

	rec = httptest.NewRecorder()
	w = NewHTTPWindow(rec, req, NewRegistry().Open(appOrigin))
	assert.NotNil(t, w.Opener())
	require.NoError(t, w.Close(context.Background()))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "window.close()")
}

func TestIngress(t *testing.T) {
	reg := NewRegistry()
	page := reg.Open(appOrigin)
	h := &recordingHandler{}
	recv, err := NewReceiver([]string{appOrigin}, h)
	require.NoError(t, err)
	require.NoError(t, recv.Mount(page))
	defer recv.Unmount()

	ingress := NewIngress(reg)
	post := func(pageID, origin, body string) int {
		req := httptest.NewRequest(http.MethodPost, "/api/messages?page="+pageID, strings.NewReader(body))
		req.Header.Set("Origin", origin)
		rec := httptest.NewRecorder()
		ingress.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNotFound, post("missing", appOrigin, `{}`))
	assert.Equal(t, http.StatusForbidden, post(page.ID(), "https://evil.example", `{"type":"login-error","payload":{"error":"x"}}`))
	assert.Equal(t, http.StatusForbidden, post(page.ID(), "", `{"type":"login-error","payload":{"error":"x"}}`))
	assert.Empty(t, h.Messages())

	// Results with an address only come from the callback window.
	assert.Equal(t, http.StatusAccepted, post(page.ID(), appOrigin, `{"type":"login-success","payload":{"address":"0xFORGED","provider":"google"}}`))
	assert.Empty(t, h.Messages())

	assert.Equal(t, http.StatusAccepted, post(page.ID(), appOrigin, `{"type":"login-error","payload":{"error":"x","provider":"google"}}`))
	require.Len(t, h.Messages(), 1)
	assert.Equal(t, KindLoginError, h.Messages()[0].Kind)

	rec := httptest.NewRecorder()
	ingress.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/messages", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBridge(t *testing.T) {
	reg := NewRegistry()
	commands := make(chan Command, 4)
	attached := make(chan *Page, 1)
	detached := make(chan *Page, 1)

	bridge, err := NewBridge(reg, BridgeOptions{
		AllowedOrigins: []string{appOrigin},
		OnAttach:       func(_ context.Context, p *Page) { attached <- p },
		OnCommand:      func(_ context.Context, _ *Page, cmd Command) { commands <- cmd },
		OnDetach:       func(p *Page) { detached <- p },
	})
	require.NoError(t, err)

	srv := httptest.NewServer(bridge)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {"https://evil.example"}})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, http.Header{"Origin": {appOrigin}})
	require.NoError(t, err)
	defer conn.Close()

	var hello Instruction
	require.NoError(t, conn.ReadJSON(&hello))
	assert.Equal(t, "attached", hello.Event)
	require.NotEmpty(t, hello.Page)

	var page *Page
	select {
	case page = <-attached:
	case <-time.After(2 * time.Second):
		t.Fatal("attach callback not called")
	}
	assert.Equal(t, hello.Page, page.ID())
	assert.Equal(t, appOrigin, page.Origin())

	h := &recordingHandler{}
	recv, err := NewReceiver([]string{appOrigin}, h)
	require.NoError(t, err)
	require.NoError(t, recv.Mount(page))
	defer recv.Unmount()

	require.NoError(t, conn.WriteJSON(Command{Type: CommandStart, Provider: "google"}))
	require.NoError(t, conn.WriteJSON(Command{
		Type:   CommandMessage,
		Origin: "https://login.example.com",
		Data:   []byte(`{"type":"login-success","payload":{"address":"0xFORGED","provider":"google"}}`),
	}))
	require.NoError(t, conn.WriteJSON(Command{
		Type:   CommandMessage,
		Origin: "https://evil.example",
		Data:   []byte(`{"eventType":"oauthSuccessResult","authResult":{"storedToken":{}}}`),
	}))

	select {
	case cmd := <-commands:
		assert.Equal(t, CommandStart, cmd.Type)
		assert.Equal(t, "google", cmd.Provider)
	case <-time.After(2 * time.Second):
		t.Fatal("command not delivered")
	}

	require.NoError(t, page.Navigate(context.Background(), "https://accounts.example.com/auth"))
	var nav Instruction
	require.NoError(t, conn.ReadJSON(&nav))
	assert.Equal(t, "navigate", nav.Event)
	assert.Equal(t, "https://accounts.example.com/auth", nav.URL)

	assert.Eventually(t, func() bool { return len(h.Messages()) == 1 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, KindOAuthSuccess, h.Messages()[0].Kind)

	require.NoError(t, conn.Close())
	select {
	case p := <-detached:
		assert.Equal(t, page.ID(), p.ID())
	case <-time.After(2 * time.Second):
		t.Fatal("detach callback not called")
	}
}

func TestNewBridge_RequiresOrigins(t *testing.T) {
	_, err := NewBridge(NewRegistry(), BridgeOptions{})
	assert.ErrorIs(t, err, ErrOriginsRequired)
}

package extractor

import (
	"context"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/brizzai/social-login/internal/login"
	"github.com/brizzai/social-login/internal/session"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const scenarioURL = "https://embedded-wallet.thirdweb.com/cb?authResult=%7B%22storedToken%22%3A%7B%22authDetails%22%3A%7B%22userWalletId%22%3A%220xABC%22%2C%22email%22%3A%22a%40b.com%22%7D%7D%7D"

type recordingNavigator struct {
	mu        sync.Mutex
	locations []string
	done      chan struct{}
}

func newRecordingNavigator() *recordingNavigator {
	return &recordingNavigator{done: make(chan struct{}, 8)}
}

func (n *recordingNavigator) Navigate(_ context.Context, location string) error {
	n.mu.Lock()
	n.locations = append(n.locations, location)
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

func (n *recordingNavigator) Locations() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.locations...)
}

func newTestExtractor(t *testing.T, delay time.Duration) (*Extractor, *session.Store) {
	t.Helper()
	store, err := session.NewStore(session.NewMemoryKV(), "thirdweb-login-data")
	require.NoError(t, err)
	ex, err := New(Options{
		Host:          "embedded-wallet.thirdweb.com",
		FollowUpPath:  "/custom-page",
		RedirectDelay: delay,
	}, store)
	require.NoError(t, err)
	t.Cleanup(ex.Stop)
	return ex, store
}

func authURL(payload string) string {
	return "https://embedded-wallet.thirdweb.com/sdk/oauth?authResult=" + url.QueryEscape(payload)
}

func TestNew_RequiresHost(t *testing.T) {
	_, err := New(Options{}, nil)
	assert.Error(t, err)
}

func TestParse_Scenario(t *testing.T) {
	ex, _ := newTestExtractor(t, 0)

	got, err := ex.Parse(scenarioURL)
	require.NoError(t, err)

	want := login.Result{
		Address:  "0xABC",
		Email:    "a@b.com",
		Name:     "a",
		Provider: login.ProviderSocial,
		Status:   login.StatusSuccess,
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Parse mismatch (-want +got):\n%s", diff)
	}
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    login.Result
		wantErr error
	}{
		{
			name: "name is the email local part",
			raw:  authURL(`{"storedToken":{"authDetails":{"userWalletId":"w-1","email":"jane.doe@example.org"}}}`),
			want: login.Result{Address: "w-1", Email: "jane.doe@example.org", Name: "jane.doe", Provider: login.ProviderSocial, Status: login.StatusSuccess},
		},
		{
			name: "missing fields default",
			raw:  authURL(`{"storedToken":{"authDetails":{}}}`),
			want: login.Result{Address: "unknown", Email: "unknown", Name: DefaultName, Provider: login.ProviderSocial, Status: login.StatusSuccess},
		},
		{
			name: "empty local part falls back",
			raw:  authURL(`{"storedToken":{"authDetails":{"userWalletId":"w-3","email":"@b.com"}}}`),
			want: login.Result{Address: "w-3", Email: "@b.com", Name: DefaultName, Provider: login.ProviderSocial, Status: login.StatusSuccess},
		},
		{
			name: "double encoded payload",
			raw:  authURL(url.QueryEscape(`{"storedToken":{"authDetails":{"userWalletId":"w-2","email":"x@y.z"}}}`)),
			want: login.Result{Address: "w-2", Email: "x@y.z", Name: "x", Provider: login.ProviderSocial, Status: login.StatusSuccess},
		},
		{
			name:    "unrelated host",
			raw:     "https://example.com/cb?authResult=%7B%7D",
			wantErr: login.ErrNotRecognizedURL,
		},
		{
			name:    "empty input",
			raw:     "",
			wantErr: login.ErrNotRecognizedURL,
		},
		{
			name:    "no authResult",
			raw:     "https://embedded-wallet.thirdweb.com/cb?foo=bar",
			wantErr: login.ErrMalformedPayload,
		},
		{
			name:    "not json",
			raw:     authURL("definitely not json"),
			wantErr: login.ErrMalformedPayload,
		},
		{
			name:    "missing storedToken",
			raw:     authURL(`{"other":{}}`),
			wantErr: login.ErrMalformedPayload,
		},
		{
			name:    "missing authDetails",
			raw:     authURL(`{"storedToken":{"jwtToken":"test-token"}}`),
			wantErr: login.ErrMalformedPayload,
		},
	}

	ex, _ := newTestExtractor(t, 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ex.Parse(tt.raw)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtract_WritesSessionAndRedirects(t *testing.T) {
	ex, store := newTestExtractor(t, 20*time.Millisecond)
	nav := newRecordingNavigator()

	result, err := ex.Extract(context.Background(), scenarioURL, nav)
	require.NoError(t, err)
	assert.Equal(t, "0xABC", result.Address)

	stored, ok := store.Read(context.Background())
	require.True(t, ok)
	assert.Equal(t, result, stored)

	assert.Empty(t, nav.Locations(), "navigation waits for the redirect delay")

	select {
	case <-nav.done:
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up navigation did not fire")
	}
	assert.Equal(t, []string{"/custom-page?address=0xABC&login=success&provider=social"}, nav.Locations())
}

func TestExtract_FailuresLeaveStoreUntouched(t *testing.T) {
	ex, store := newTestExtractor(t, 0)
	nav := newRecordingNavigator()

	for _, raw := range []string{
		"https://example.com/?authResult=%7B%7D",
		authURL(`{"storedToken":{}}`),
	} {
		_, err := ex.Extract(context.Background(), raw, nav)
		require.Error(t, err)
	}

	_, ok := store.Read(context.Background())
	assert.False(t, ok)
	assert.Empty(t, nav.Locations())
}

func TestStop_CancelsPendingNavigation(t *testing.T) {
	ex, _ := newTestExtractor(t, time.Hour)
	nav := newRecordingNavigator()

	_, err := ex.Extract(context.Background(), scenarioURL, nav)
	require.NoError(t, err)
	ex.Stop()
	assert.Empty(t, ex.timers)
	assert.Empty(t, nav.Locations())
}

package pages

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultManifest(t *testing.T) {
	m := DefaultManifest()
	require.NoError(t, m.Validate())
	require.Len(t, m.Widgets, 2)

	content := m.Widgets[0]
	assert.Equal(t, "show_content", content.ID)
	assert.Equal(t, "ui://widget/content-template.html", content.TemplateURI)
	assert.Equal(t, "/", content.Path)
	assert.Equal(t, map[string]any{
		"openai/outputTemplate":          "ui://widget/content-template.html",
		"openai/toolInvocation/invoking": "Loading content...",
		"openai/toolInvocation/invoked":  "Content loaded",
		"openai/widgetAccessible":        false,
		"openai/resultCanProduceWidget":  true,
	}, content.ToolMeta())

	custom := m.Widgets[1]
	assert.Equal(t, "/custom-page", custom.Path)
	assert.Equal(t, map[string]any{
		"openai/widgetDescription":   "Displays the custom page content",
		"openai/widgetPrefersBorder": true,
		"openai/widgetDomain":        "https://nextjs.org/docs",
	}, custom.ContentMeta())
	assert.NotContains(t, custom.ResourceMeta(), "openai/widgetDomain")
}

func TestLoadManifest(t *testing.T) {
	m, err := LoadManifest("")
	require.NoError(t, err)
	assert.Equal(t, DefaultManifest(), m)

	m, err = LoadManifest(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultManifest(), m)

	path := filepath.Join(t.TempDir(), "widgets.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
widgets:
  - id: show_profile
    title: Show Profile
    template_uri: ui://widget/profile.html
    path: /profile
    args:
      - name: address
        description: Wallet address
`), 0o600))
	m, err = LoadManifest(path)
	require.NoError(t, err)
	require.Len(t, m.Widgets, 1)
	assert.Equal(t, "show_profile", m.Widgets[0].ID)
	assert.Equal(t, []Arg{{Name: "address", Description: "Wallet address"}}, m.Widgets[0].Args)

	require.NoError(t, os.WriteFile(path, []byte(`
widgets:
  - {id: a, template_uri: ui://a, path: /a}
  - {id: a, template_uri: ui://b, path: /b}
`), 0o600))
	_, err = LoadManifest(path)
	assert.Error(t, err)

	require.NoError(t, os.WriteFile(path, []byte(`widgets: [{id: a}]`), 0o600))
	_, err = LoadManifest(path)
	assert.Error(t, err)
}

func TestDocument(t *testing.T) {
	assert.Equal(t, "<html><body>hi</body></html>", Document("<body>hi</body>"))
}

func TestFetcher_CachesAndDeduplicates(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte("<body>" + r.URL.Path + "</body>"))
	}))
	defer srv.Close()

	f := NewFetcher(srv.URL + "/")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			html, err := f.HTML(context.Background(), "/custom-page")
			assert.NoError(t, err)
			assert.Equal(t, "<body>/custom-page</body>", html)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), hits.Load())

	_, err := f.HTML(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, int32(2), hits.Load())

	f.Invalidate()
	_, err = f.HTML(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, int32(3), hits.Load())
}

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	html, err := NewFetcher(srv.URL).HTML(context.Background(), "/")
	require.NoError(t, err)
	assert.Equal(t, "ok", html)
	assert.Equal(t, int32(2), hits.Load())
}

func TestFetcher_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	f := NewFetcher(srv.URL)
	_, err := f.HTML(context.Background(), "/missing")
	assert.Error(t, err)
}

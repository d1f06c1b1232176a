package pages

import (
	"fmt"

	"github.com/brizzai/social-login/internal/config"
	"go.uber.org/fx"
)

// NewManifestFromConfig loads the configured widgets file.
func NewManifestFromConfig(cfg *config.Config) (*Manifest, error) {
	return LoadManifest(cfg.Pages.WidgetsFile)
}

// NewFetcherFromConfig fetches pages from pages.base_url, or from this
// server when unset.
func NewFetcherFromConfig(cfg *config.Config) *Fetcher {
	base := cfg.Pages.BaseURL
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}
	return NewFetcher(base)
}

// Module provides the widget manifest and the page fetcher
var Module = fx.Module("pages",
	fx.Provide(
		NewManifestFromConfig,
		NewFetcherFromConfig,
	),
)

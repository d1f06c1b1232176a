package tui

import (
	"strings"

	"github.com/brizzai/social-login/internal/login"
)

// providerItem is one entry of the provider picker.
type providerItem struct {
	provider login.Provider
}

func (i providerItem) Title() string {
	name := string(i.provider)
	if name == "" {
		return ""
	}
	return strings.ToUpper(name[:1]) + name[1:]
}

func (i providerItem) Description() string {
	return "Sign in with " + i.Title()
}

func (i providerItem) FilterValue() string {
	return string(i.provider)
}

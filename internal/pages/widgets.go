// Package pages describes the pages exposed to agent hosts as widgets and
// loads their HTML from the site that renders them.
package pages

import (
	"fmt"
	"os"

	"github.com/brizzai/social-login/internal/logger"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// MIMEType marks widget HTML for agent hosts.
const MIMEType = "text/html+skybridge"

// Arg is a string argument of a widget tool.
type Arg struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// Widget is one page published as a tool plus a resource template.
type Widget struct {
	// ID is the tool name.
	ID    string `yaml:"id"`
	Title string `yaml:"title"`
	// ToolDescription describes the tool, Description the page itself.
	ToolDescription string `yaml:"tool_description"`
	Description     string `yaml:"description"`
	ResourceName    string `yaml:"resource_name"`
	TemplateURI     string `yaml:"template_uri"`
	// Path is fetched from the pages base URL.
	Path         string `yaml:"path"`
	Invoking     string `yaml:"invoking"`
	Invoked      string `yaml:"invoked"`
	WidgetDomain string `yaml:"widget_domain"`
	Args         []Arg  `yaml:"args,omitempty"`
	// Text is the tool's text content. Empty echoes the first argument.
	Text string `yaml:"text,omitempty"`
	// Message is added to the structured content when set.
	Message string `yaml:"message,omitempty"`
}

// Manifest lists the published widgets.
type Manifest struct {
	Widgets []Widget `yaml:"widgets"`
}

// DefaultManifest publishes the home page and the custom page.
func DefaultManifest() *Manifest {
	return &Manifest{Widgets: []Widget{
		{
			ID:              "show_content",
			Title:           "Show Content",
			ToolDescription: "Fetch and display the homepage content with the name of the user",
			Description:     "Displays the homepage content",
			ResourceName:    "content-widget",
			TemplateURI:     "ui://widget/content-template.html",
			Path:            "/",
			Invoking:        "Loading content...",
			Invoked:         "Content loaded",
			WidgetDomain:    "https://nextjs.org/docs",
			Args: []Arg{
				{Name: "name", Description: "The name of the user to display on the homepage"},
			},
		},
		{
			ID:              "show_custom_page",
			Title:           "Show Custom Page",
			ToolDescription: "Display the custom page with welcome message and navigation",
			Description:     "Displays the custom page content",
			ResourceName:    "custom-page-widget",
			TemplateURI:     "ui://widget/custom-page-template.html",
			Path:            "/custom-page",
			Invoking:        "Loading custom page...",
			Invoked:         "Custom page loaded",
			WidgetDomain:    "https://nextjs.org/docs",
			Text:            "Custom page displayed successfully",
			Message:         "Welcome to the custom page!",
		},
	}}
}

// LoadManifest reads a manifest from filePath. An empty path or a missing
// file yields the default manifest.
func LoadManifest(filePath string) (*Manifest, error) {
	if filePath == "" {
		logger.Info("No widgets file provided, using defaults")
		return DefaultManifest(), nil
	}

	logger.Info("Loading widgets from file", zap.String("file", filePath))
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		logger.Error("Widgets file not found, using defaults", zap.String("file", filePath))
		return DefaultManifest(), nil
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks that every widget can be published.
func (m *Manifest) Validate() error {
	seen := make(map[string]struct{}, len(m.Widgets))
	for i, w := range m.Widgets {
		if w.ID == "" || w.TemplateURI == "" || w.Path == "" {
			return fmt.Errorf("widget %d: id, template_uri and path are required", i)
		}
		if _, ok := seen[w.ID]; ok {
			return fmt.Errorf("widget %q is defined twice", w.ID)
		}
		seen[w.ID] = struct{}{}
	}
	return nil
}

// ToolMeta is attached to the tool and to each of its results.
func (w Widget) ToolMeta() map[string]any {
	return map[string]any{
		"openai/outputTemplate":          w.TemplateURI,
		"openai/toolInvocation/invoking": w.Invoking,
		"openai/toolInvocation/invoked":  w.Invoked,
		"openai/widgetAccessible":        false,
		"openai/resultCanProduceWidget":  true,
	}
}

// ResourceMeta is attached to the resource listing.
func (w Widget) ResourceMeta() map[string]any {
	return map[string]any{
		"openai/widgetDescription":   w.Description,
		"openai/widgetPrefersBorder": true,
	}
}

// ContentMeta is attached to the resource contents.
func (w Widget) ContentMeta() map[string]any {
	m := w.ResourceMeta()
	m["openai/widgetDomain"] = w.WidgetDomain
	return m
}

// Document wraps fetched page HTML for the resource text.
func Document(html string) string {
	return "<html>" + html + "</html>"
}

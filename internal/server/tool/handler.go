// Package tool turns page widgets into MCP tools and resources.
package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/brizzai/social-login/internal/logger"
	"github.com/brizzai/social-login/internal/pages"
	"github.com/mark3labs/mcp-go/mcp"
	"go.uber.org/zap"
)

// timestampLayout matches JavaScript's Date.toISOString.
const timestampLayout = "2006-01-02T15:04:05.000Z07:00"

// PageSource loads the HTML behind a widget.
type PageSource interface {
	HTML(ctx context.Context, path string) (string, error)
}

// Handler builds tool and resource handlers for widgets.
type Handler struct {
	pages PageSource
	now   func() time.Time
}

// NewHandler creates a new tool handler.
func NewHandler(source *pages.Fetcher) *Handler {
	return newHandler(source)
}

func newHandler(source PageSource) *Handler {
	return &Handler{pages: source, now: time.Now}
}

// Tool describes the widget's tool.
func (h *Handler) Tool(w pages.Widget) mcp.Tool {
	opts := []mcp.ToolOption{
		mcp.WithDescription(w.ToolDescription),
		mcp.WithTitleAnnotation(w.Title),
	}
	for _, arg := range w.Args {
		opts = append(opts, mcp.WithString(arg.Name, mcp.Required(), mcp.Description(arg.Description)))
	}
	tool := mcp.NewTool(w.ID, opts...)
	tool.Meta = &mcp.Meta{AdditionalFields: w.ToolMeta()}
	return tool
}

// Resource describes the widget's HTML template.
func (h *Handler) Resource(w pages.Widget) mcp.Resource {
	res := mcp.NewResource(w.TemplateURI, w.ResourceName,
		mcp.WithResourceDescription(w.Description),
		mcp.WithMIMEType(pages.MIMEType),
	)
	res.Meta = &mcp.Meta{AdditionalFields: w.ResourceMeta()}
	return res
}

// CreateHandler creates a handler function for a widget's tool. The result
// points the host at the widget template.
func (h *Handler) CreateHandler(w pages.Widget) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		structured := make(map[string]any, len(w.Args)+2)
		text := w.Text
		for i, arg := range w.Args {
			value, err := request.RequireString(arg.Name)
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}
			structured[arg.Name] = value
			if i == 0 && text == "" {
				text = value
			}
		}
		if w.Message != "" {
			structured["message"] = w.Message
		}
		structured["timestamp"] = h.now().UTC().Format(timestampLayout)

		logger.Debug("Widget tool called", zap.String("tool", w.ID))
		result := mcp.NewToolResultStructured(structured, text)
		result.Meta = &mcp.Meta{AdditionalFields: w.ToolMeta()}
		return result, nil
	}
}

// CreateResourceHandler serves the widget's page wrapped as a document.
func (h *Handler) CreateResourceHandler(w pages.Widget) func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		html, err := h.pages.HTML(ctx, w.Path)
		if err != nil {
			logger.Error("Failed to load widget page", zap.String("widget", w.ID), zap.Error(err))
			return nil, fmt.Errorf("failed to load page for %s: %w", w.ID, err)
		}

		uri := request.Params.URI
		if uri == "" {
			uri = w.TemplateURI
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      uri,
				MIMEType: pages.MIMEType,
				Text:     pages.Document(html),
				Meta:     w.ContentMeta(),
			},
		}, nil
	}
}

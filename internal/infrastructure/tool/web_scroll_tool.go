package tool

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	domaintool "github.com/strandlabs/strand/internal/domain/tool"
	"github.com/strandlabs/strand/internal/infrastructure/cache"
)

// WebScrollTool pages through a session cached by web_read. It never
// fetches: a cache miss tells the model to call web_read first.
type WebScrollTool struct {
	cache  *cache.WebCache
	logger *zap.Logger
}

// NewWebScrollTool creates the handler.
func NewWebScrollTool(webCache *cache.WebCache, logger *zap.Logger) *WebScrollTool {
	return &WebScrollTool{cache: webCache, logger: logger}
}

func (t *WebScrollTool) Name() string          { return "web_scroll" }
func (t *WebScrollTool) Kind() domaintool.Kind { return domaintool.KindRead }

func (t *WebScrollTool) Execute(ctx context.Context, args map[string]any, inv *domaintool.Invocation) (*domaintool.Result, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return &domaintool.Result{Output: "Error: 'url' parameter is required", Success: false}, nil
	}
	page := intArg(args, "page", -1)
	if page < 0 {
		return &domaintool.Result{Output: "Error: 'page' parameter is required (0-based)", Success: false}, nil
	}

	session, ok := t.cache.Get(ctx, rawURL)
	if !ok {
		return &domaintool.Result{
			Output:  fmt.Sprintf("No cached session for %s. Call web_read first.", rawURL),
			Success: false,
		}, nil
	}
	if page >= len(session.Pages) {
		return &domaintool.Result{
			Output:  fmt.Sprintf("Page %d out of bounds: %s has %d pages.", page, rawURL, len(session.Pages)),
			Success: false,
		}, nil
	}

	return &domaintool.Result{Output: renderPage(session, page), Success: true}, nil
}

// intArg reads an integer argument that JSON decoding may have left as
// float64 or string-free int.
func intArg(args map[string]any, key string, def int) int {
	switch v := args[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	default:
		return def
	}
}

package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	readability "github.com/go-shiori/go-readability"
	"go.uber.org/zap"

	domaintool "github.com/strandlabs/strand/internal/domain/tool"
	"github.com/strandlabs/strand/internal/infrastructure/cache"
)

// pageSize is the pagination unit for fetched pages.
const pageSize = 4096

// WebReadTool fetches a URL, extracts readable text, paginates it into
// ~4KB pages, and caches the session so web_scroll and web_search can
// revisit without re-fetching. Rendering goes through a headless
// browser worker when one is configured; otherwise a plain GET.
type WebReadTool struct {
	cache      *cache.WebCache
	browserURL string
	client     *http.Client
	logger     *zap.Logger
}

// NewWebReadTool creates the handler. browserURL may be empty.
func NewWebReadTool(webCache *cache.WebCache, browserURL string, logger *zap.Logger) *WebReadTool {
	return &WebReadTool{
		cache:      webCache,
		browserURL: strings.TrimRight(browserURL, "/"),
		client:     &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

func (t *WebReadTool) Name() string          { return "web_read" }
func (t *WebReadTool) Kind() domaintool.Kind { return domaintool.KindRead }

func (t *WebReadTool) Execute(ctx context.Context, args map[string]any, inv *domaintool.Invocation) (*domaintool.Result, error) {
	rawURL, _ := args["url"].(string)
	if rawURL == "" {
		return &domaintool.Result{Output: "Error: 'url' parameter is required", Success: false}, nil
	}
	forceRefresh, _ := args["force_refresh"].(bool)

	session, ok := t.session(ctx, rawURL, forceRefresh)
	if !ok {
		var err error
		session, err = t.fetch(ctx, rawURL)
		if err != nil {
			return &domaintool.Result{
				Output:  fmt.Sprintf("Failed to read %s: %v", rawURL, err),
				Success: false,
				Error:   err.Error(),
			}, nil
		}
		t.cache.Put(ctx, session)
	}

	return &domaintool.Result{
		Output:  renderPage(session, 0),
		Success: true,
	}, nil
}

func (t *WebReadTool) session(ctx context.Context, rawURL string, forceRefresh bool) (*cache.WebSession, bool) {
	if forceRefresh {
		t.cache.Invalidate(ctx, rawURL)
		return nil, false
	}
	return t.cache.Get(ctx, rawURL)
}

func (t *WebReadTool) fetch(ctx context.Context, rawURL string) (*cache.WebSession, error) {
	html, err := t.fetchHTML(ctx, rawURL)
	if err != nil {
		return nil, err
	}

	parsed, _ := url.Parse(rawURL)
	title := ""
	text := ""
	article, err := readability.FromReader(strings.NewReader(html), parsed)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		title = article.Title
		text = strings.TrimSpace(article.TextContent)
	} else {
		text = stripTags(html)
	}
	if text == "" {
		return nil, fmt.Errorf("no readable content at %s", rawURL)
	}

	return &cache.WebSession{
		URL:       rawURL,
		Title:     title,
		Pages:     paginate(text, pageSize),
		FetchedAt: time.Now(),
	}, nil
}

// fetchHTML prefers the browser worker (renders JS-heavy pages) and
// falls back to a direct GET when no worker is configured or it errors.
func (t *WebReadTool) fetchHTML(ctx context.Context, rawURL string) (string, error) {
	if t.browserURL != "" {
		html, err := t.renderViaWorker(ctx, rawURL)
		if err == nil {
			return html, nil
		}
		t.logger.Warn("Browser worker failed, falling back to direct fetch",
			zap.String("url", rawURL), zap.Error(err))
	}
	return t.directFetch(ctx, rawURL)
}

func (t *WebReadTool) renderViaWorker(ctx context.Context, rawURL string) (string, error) {
	body, err := json.Marshal(map[string]string{"url": rawURL})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.browserURL+"/render", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("browser worker status %d", resp.StatusCode)
	}

	var rendered struct {
		HTML string `json:"html"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&rendered); err != nil {
		return "", err
	}
	return rendered.HTML, nil
}

func (t *WebReadTool) directFetch(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", fmt.Errorf("invalid URL: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; StrandBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, rawURL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}

// renderPage formats one page with scroll hints.
func renderPage(s *cache.WebSession, page int) string {
	var b strings.Builder
	if s.Title != "" {
		fmt.Fprintf(&b, "# %s\n", s.Title)
	}
	fmt.Fprintf(&b, "[%s - page %d/%d]\n\n", s.URL, page+1, len(s.Pages))
	b.WriteString(s.Pages[page])
	if page+1 < len(s.Pages) {
		fmt.Fprintf(&b, "\n\n[SYSTEM NOTICE: %d more pages. Call web_scroll(url, page) with page=%d to continue.]",
			len(s.Pages)-page-1, page+1)
	}
	return b.String()
}

// paginate splits text into chunks of at most size bytes, breaking on
// line boundaries where possible.
func paginate(text string, size int) []string {
	var pages []string
	for len(text) > size {
		cut := size
		if idx := strings.LastIndexByte(text[:size], '\n'); idx > size/2 {
			cut = idx + 1
		}
		pages = append(pages, strings.TrimSpace(text[:cut]))
		text = text[cut:]
	}
	if rest := strings.TrimSpace(text); rest != "" || len(pages) == 0 {
		pages = append(pages, rest)
	}
	return pages
}

// stripTags is the crude fallback when readability extraction fails.
func stripTags(html string) string {
	var b strings.Builder
	inTag := false
	for _, r := range html {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

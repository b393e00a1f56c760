package tool

import (
	"context"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/strandlabs/strand/internal/domain/tool"
	"github.com/strandlabs/strand/internal/infrastructure/cache"
)

const (
	// maxSnippets bounds in-session search output.
	maxSnippets = 15
	// snippetRadius is the context window around each match.
	snippetRadius = 150
	// serpResults is the SERP result count.
	serpResults = 5
)

// WebSearchTool has two modes. With a url argument it scans that
// cached session's pages for the query and returns context snippets.
// Without one it runs a DuckDuckGo HTML query and returns the top
// results as a numbered list with links.
type WebSearchTool struct {
	cache  *cache.WebCache
	client *http.Client
	logger *zap.Logger
}

// NewWebSearchTool creates the handler.
func NewWebSearchTool(webCache *cache.WebCache, logger *zap.Logger) *WebSearchTool {
	return &WebSearchTool{
		cache:  webCache,
		client: &http.Client{Timeout: 20 * time.Second},
		logger: logger,
	}
}

func (t *WebSearchTool) Name() string          { return "web_search" }
func (t *WebSearchTool) Kind() domaintool.Kind { return domaintool.KindSearch }

func (t *WebSearchTool) Execute(ctx context.Context, args map[string]any, inv *domaintool.Invocation) (*domaintool.Result, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return &domaintool.Result{Output: "Error: 'query' parameter is required", Success: false}, nil
	}

	if rawURL, _ := args["url"].(string); rawURL != "" {
		return t.searchSession(ctx, rawURL, query)
	}
	return t.serp(ctx, query)
}

// searchSession scans a cached page set for the query.
func (t *WebSearchTool) searchSession(ctx context.Context, rawURL, query string) (*domaintool.Result, error) {
	session, ok := t.cache.Get(ctx, rawURL)
	if !ok {
		return &domaintool.Result{
			Output:  fmt.Sprintf("No cached session for %s. Call web_read first.", rawURL),
			Success: false,
		}, nil
	}

	needle := strings.ToLower(query)
	var b strings.Builder
	count := 0
	for pageNo, page := range session.Pages {
		haystack := strings.ToLower(page)
		offset := 0
		for count < maxSnippets {
			idx := strings.Index(haystack[offset:], needle)
			if idx < 0 {
				break
			}
			idx += offset
			start := idx - snippetRadius
			if start < 0 {
				start = 0
			}
			end := idx + len(needle) + snippetRadius
			if end > len(page) {
				end = len(page)
			}
			count++
			fmt.Fprintf(&b, "%d. [page %d] ...%s...\n", count, pageNo, strings.TrimSpace(page[start:end]))
			offset = idx + len(needle)
		}
		if count >= maxSnippets {
			break
		}
	}

	if count == 0 {
		return &domaintool.Result{
			Output:  fmt.Sprintf("No matches for %q in %s (%d pages).", query, rawURL, len(session.Pages)),
			Success: true,
		}, nil
	}
	return &domaintool.Result{
		Output:  fmt.Sprintf("%d match(es) for %q in %s:\n%s", count, query, rawURL, b.String()),
		Success: true,
	}, nil
}

// serpResultRe pulls result anchors out of the DuckDuckGo HTML page.
var serpResultRe = regexp.MustCompile(`<a[^>]+class="result__a"[^>]+href="([^"]+)"[^>]*>(.*?)</a>`)

var tagRe = regexp.MustCompile(`<[^>]+>`)

// serp runs a DuckDuckGo HTML query and formats the top results.
func (t *WebSearchTool) serp(ctx context.Context, query string) (*domaintool.Result, error) {
	endpoint := "https://html.duckduckgo.com/html/?q=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; StrandBot/1.0)")

	resp, err := t.client.Do(req)
	if err != nil {
		return &domaintool.Result{
			Output:  fmt.Sprintf("Search failed: %v", err),
			Success: false,
			Error:   err.Error(),
		}, nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &domaintool.Result{
			Output:  fmt.Sprintf("Search failed: HTTP %d", resp.StatusCode),
			Success: false,
		}, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}

	matches := serpResultRe.FindAllStringSubmatch(string(body), serpResults)
	if len(matches) == 0 {
		return &domaintool.Result{
			Output:  "No results found for query: " + query,
			Success: true,
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Top results for %q:\n", query)
	for i, m := range matches {
		link := decodeSERPLink(m[1])
		title := strings.TrimSpace(html.UnescapeString(tagRe.ReplaceAllString(m[2], "")))
		fmt.Fprintf(&b, "%d. %s\n   %s\n", i+1, title, link)
	}
	b.WriteString("Use web_read(url) to open a result.")
	return &domaintool.Result{Output: b.String(), Success: true}, nil
}

// decodeSERPLink unwraps DuckDuckGo's redirect links (//duckduckgo.com/l/?uddg=...).
func decodeSERPLink(href string) string {
	href = html.UnescapeString(href)
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		if decoded, err := url.QueryUnescape(target); err == nil {
			return decoded
		}
	}
	if u.Scheme == "" {
		return "https:" + href
	}
	return href
}

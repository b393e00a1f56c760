package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/strandlabs/strand/internal/domain/tool"
)

// defaultTopK bounds per-store result counts when the caller omits one.
const defaultTopK = 5

// StoreResolver maps an assistant id to its attached vector stores.
type StoreResolver interface {
	VectorStores(ctx context.Context, assistantID string) ([]string, error)
}

// searchHit is one result row from the vector worker.
type searchHit struct {
	Text     string         `json:"text"`
	Score    float64        `json:"score"`
	Source   string         `json:"source,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// VectorSearchTool fans a query out over every vector store attached to
// the calling assistant and concatenates the hits. Filters are
// mongo-style dictionaries, already validated by the router, and passed
// through to the worker untouched. Registered under both file_search
// and vector_store_search.
type VectorSearchTool struct {
	name      string
	workerURL string
	resolver  StoreResolver
	client    *http.Client
	logger    *zap.Logger
}

// NewVectorSearchTool creates the handler under the given name.
func NewVectorSearchTool(name, workerURL string, resolver StoreResolver, logger *zap.Logger) *VectorSearchTool {
	return &VectorSearchTool{
		name:      name,
		workerURL: strings.TrimRight(workerURL, "/"),
		resolver:  resolver,
		client:    &http.Client{Timeout: 20 * time.Second},
		logger:    logger,
	}
}

func (t *VectorSearchTool) Name() string          { return t.name }
func (t *VectorSearchTool) Kind() domaintool.Kind { return domaintool.KindSearch }

func (t *VectorSearchTool) Execute(ctx context.Context, args map[string]any, inv *domaintool.Invocation) (*domaintool.Result, error) {
	query, _ := args["query"].(string)
	if query == "" {
		return &domaintool.Result{Output: "Error: 'query' parameter is required", Success: false}, nil
	}
	topK := intArg(args, "top_k", defaultTopK)
	filters, _ := args["filters"].(map[string]any)

	stores, err := t.resolver.VectorStores(ctx, inv.AssistantID)
	if err != nil {
		return nil, fmt.Errorf("resolve vector stores: %w", err)
	}
	if len(stores) == 0 {
		return &domaintool.Result{
			Output:  "No vector stores are attached to this assistant.",
			Success: false,
		}, nil
	}

	var b strings.Builder
	total := 0
	for _, storeID := range stores {
		hits, err := t.search(ctx, storeID, query, topK, filters)
		if err != nil {
			t.logger.Warn("Vector store query failed",
				zap.String("store_id", storeID), zap.Error(err))
			fmt.Fprintf(&b, "[store %s unavailable: %v]\n", storeID, err)
			continue
		}
		for _, hit := range hits {
			total++
			fmt.Fprintf(&b, "%d. (%.3f", total, hit.Score)
			if hit.Source != "" {
				fmt.Fprintf(&b, ", %s", hit.Source)
			}
			fmt.Fprintf(&b, ") %s\n", strings.TrimSpace(hit.Text))
		}
	}

	if total == 0 {
		return &domaintool.Result{
			Output:  fmt.Sprintf("No matches for %q across %d store(s).", query, len(stores)),
			Success: true,
		}, nil
	}
	return &domaintool.Result{Output: b.String(), Success: true}, nil
}

func (t *VectorSearchTool) search(ctx context.Context, storeID, query string, topK int, filters map[string]any) ([]searchHit, error) {
	payload, err := json.Marshal(map[string]any{
		"vector_store_id": storeID,
		"query":           query,
		"top_k":           topK,
		"filters":         filters,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.workerURL+"/search", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("worker status %d: %s", resp.StatusCode, string(body))
	}

	var out struct {
		Results []searchHit `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode results: %w", err)
	}
	return out.Results, nil
}

package llm

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/service"
)

// FamilyConfig describes one upstream API family.
type FamilyConfig struct {
	Name           string         `mapstructure:"name"`
	BaseURL        string         `mapstructure:"base_url"`
	APIKey         string         `mapstructure:"api_key"`
	Prefixes       []string       `mapstructure:"prefixes"`
	NativeTools    bool           `mapstructure:"native_tools"`
	ContextWindows map[string]int `mapstructure:"context_windows"`
	DefaultWindow  int            `mapstructure:"default_window"`
	// StripPrefix removes the routing prefix before the upstream call
	// (e.g. "together-ai/meta-llama/x" → "meta-llama/x").
	StripPrefix bool `mapstructure:"strip_prefix"`
}

// Client is one OpenAI-compatible upstream adapter. It only translates:
// payload out, deltas in. Tool-call interpretation belongs downstream.
type Client struct {
	cfg    FamilyConfig
	client *http.Client
	logger *zap.Logger
}

var _ service.Provider = (*Client)(nil)

// NewClient creates an adapter for one family.
func NewClient(cfg FamilyConfig, logger *zap.Logger) *Client {
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ResponseHeaderTimeout: 300 * time.Second,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		TLSClientConfig:       &tls.Config{MinVersion: tls.VersionTLS12},
	}
	return &Client{
		cfg:    cfg,
		client: &http.Client{Transport: transport},
		logger: logger.With(zap.String("provider", cfg.Name)),
	}
}

func (c *Client) Name() string { return c.cfg.Name }

// ContextWindow returns the declared window for a model, 0 if unknown.
func (c *Client) ContextWindow(model string) int {
	if w, ok := c.cfg.ContextWindows[model]; ok {
		return w
	}
	return c.cfg.DefaultWindow
}

// NativeTools reports whether this family accepts structured tool
// schemas in the request payload.
func (c *Client) NativeTools(model string) bool {
	return c.cfg.NativeTools
}

// Stream opens the upstream SSE connection and writes raw deltas to out
// until the stream ends or ctx is cancelled. The caller owns out.
func (c *Client) Stream(ctx context.Context, req *service.ProviderRequest, out chan<- service.Delta) error {
	payload := c.buildRequest(req)
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(c.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey(req))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("upstream request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upstream status %d: %s", resp.StatusCode, string(respBody))
	}

	// Force-close the body on cancellation so a blocked Read unwinds.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			resp.Body.Close()
		case <-done:
		}
	}()

	return parseSSE(ctx, resp.Body, out, c.logger)
}

// apiKey prefers the caller-supplied override; keys are never mixed
// across runs because the request carries its own.
func (c *Client) apiKey(req *service.ProviderRequest) string {
	if req.APIKey != "" {
		return req.APIKey
	}
	return c.cfg.APIKey
}

func (c *Client) buildRequest(req *service.ProviderRequest) *chatRequest {
	model := req.Model
	if c.cfg.StripPrefix {
		for _, p := range c.cfg.Prefixes {
			if strings.HasPrefix(model, p) {
				model = strings.TrimPrefix(model, p)
				break
			}
		}
	}

	out := &chatRequest{
		Model:         model,
		Temperature:   req.Temperature,
		MaxTokens:     req.MaxTokens,
		Stream:        true,
		StreamOptions: map[string]any{"include_usage": true},
	}
	for _, m := range req.Messages {
		out.Messages = append(out.Messages, chatMessage(m))
	}
	if c.cfg.NativeTools {
		out.Tools = convertTools(req.Tools)
	}
	return out
}

func convertTools(specs []entity.ToolSpec) []chatTool {
	var tools []chatTool
	for _, t := range specs {
		if t.Function == nil {
			continue
		}
		tools = append(tools, chatTool{
			Type: "function",
			Function: chatToolFunction{
				Name:        t.Function.Name,
				Description: t.Function.Description,
				Parameters:  t.Function.Parameters,
			},
		})
	}
	return tools
}

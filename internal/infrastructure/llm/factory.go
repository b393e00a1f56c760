package llm

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/service"
)

// Factory routes a model string to its family adapter by prefix
// (deepseek-*, qwen/*, meta-llama/*, together-ai/*, hyperbolic/*, ...).
// Longest prefix wins so "together-ai/meta-llama/x" routes to
// together-ai, not meta-llama. A family with no prefixes is the
// fallback for unmatched models.
type Factory struct {
	clients  []*Client
	fallback *Client
}

var _ service.ProviderFactory = (*Factory)(nil)

// NewFactory builds adapters for every configured family.
func NewFactory(families []FamilyConfig, logger *zap.Logger) *Factory {
	f := &Factory{}
	for _, cfg := range families {
		client := NewClient(cfg, logger)
		if len(cfg.Prefixes) == 0 {
			f.fallback = client
			continue
		}
		f.clients = append(f.clients, client)
	}
	return f
}

// ForModel resolves the adapter for a model string.
func (f *Factory) ForModel(model string) (service.Provider, error) {
	var best *Client
	bestLen := -1
	for _, c := range f.clients {
		for _, p := range c.cfg.Prefixes {
			if strings.HasPrefix(model, p) && len(p) > bestLen {
				best = c
				bestLen = len(p)
			}
		}
	}
	if best != nil {
		return best, nil
	}
	if f.fallback != nil {
		return f.fallback, nil
	}
	return nil, fmt.Errorf("no provider for model %q", model)
}

// DefaultFamilies is the out-of-the-box routing table; config overrides
// or extends it.
func DefaultFamilies() []FamilyConfig {
	return []FamilyConfig{
		{
			Name:          "deepseek",
			BaseURL:       "https://api.deepseek.com/v1",
			Prefixes:      []string{"deepseek-"},
			NativeTools:   true,
			DefaultWindow: 65536,
		},
		{
			Name:          "qwen",
			BaseURL:       "https://dashscope.aliyuncs.com/compatible-mode/v1",
			Prefixes:      []string{"qwen/"},
			StripPrefix:   true,
			NativeTools:   true,
			DefaultWindow: 131072,
		},
		{
			Name:          "together",
			BaseURL:       "https://api.together.xyz/v1",
			Prefixes:      []string{"together-ai/", "meta-llama/"},
			NativeTools:   false,
			DefaultWindow: 131072,
		},
		{
			Name:          "hyperbolic",
			BaseURL:       "https://api.hyperbolic.xyz/v1",
			Prefixes:      []string{"hyperbolic/"},
			StripPrefix:   true,
			NativeTools:   false,
			DefaultWindow: 131072,
		},
		{
			Name:          "openai",
			BaseURL:       "https://api.openai.com/v1",
			NativeTools:   true,
			DefaultWindow: 128000,
		},
	}
}

package llm

import (
	"testing"

	"go.uber.org/zap"

	"github.com/strandlabs/strand/internal/domain/entity"
	"github.com/strandlabs/strand/internal/domain/service"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func providerRequest(model string) *service.ProviderRequest {
	return &service.ProviderRequest{
		Model: model,
		Messages: []service.PromptMessage{
			{Role: entity.RoleUser, Content: "hi"},
		},
		Tools: []entity.ToolSpec{
			{Type: "function", Function: &entity.ToolFunction{Name: "get_weather"}},
		},
	}
}

// === Prefix routing ===

func TestFactory_PrefixRouting(t *testing.T) {
	f := NewFactory(DefaultFamilies(), testLogger())

	tests := []struct {
		model string
		want  string
	}{
		{"deepseek-chat", "deepseek"},
		{"deepseek-reasoner", "deepseek"},
		{"qwen/qwen-max", "qwen"},
		{"meta-llama/Llama-3.3-70B-Instruct-Turbo", "together"},
		{"together-ai/meta-llama/Llama-3.3-70B", "together"},
		{"hyperbolic/deepseek-ai/DeepSeek-V3", "hyperbolic"},
		{"gpt-4o", "openai"},
		{"some-unknown-model", "openai"},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			p, err := f.ForModel(tt.model)
			if err != nil {
				t.Fatalf("ForModel: %v", err)
			}
			if p.Name() != tt.want {
				t.Errorf("got %q, want %q", p.Name(), tt.want)
			}
		})
	}
}

func TestFactory_LongestPrefixWins(t *testing.T) {
	families := []FamilyConfig{
		{Name: "short", Prefixes: []string{"a/"}},
		{Name: "long", Prefixes: []string{"a/b/"}},
	}
	f := NewFactory(families, testLogger())

	p, err := f.ForModel("a/b/model")
	if err != nil {
		t.Fatalf("ForModel: %v", err)
	}
	if p.Name() != "long" {
		t.Errorf("got %q, want long", p.Name())
	}
}

func TestFactory_NoFallbackErrors(t *testing.T) {
	f := NewFactory([]FamilyConfig{{Name: "only", Prefixes: []string{"x/"}}}, testLogger())
	if _, err := f.ForModel("unmatched"); err == nil {
		t.Error("expected error without fallback family")
	}
}

// === Per-family behavior ===

func TestClient_ContextWindowLookup(t *testing.T) {
	c := NewClient(FamilyConfig{
		Name:           "fam",
		ContextWindows: map[string]int{"fam-big": 200000},
		DefaultWindow:  32768,
	}, testLogger())

	if got := c.ContextWindow("fam-big"); got != 200000 {
		t.Errorf("declared model: got %d", got)
	}
	if got := c.ContextWindow("fam-other"); got != 32768 {
		t.Errorf("default: got %d", got)
	}
}

func TestClient_BuildRequestStripsPrefix(t *testing.T) {
	c := NewClient(FamilyConfig{
		Name:        "qwen",
		Prefixes:    []string{"qwen/"},
		StripPrefix: true,
	}, testLogger())

	req := c.buildRequest(providerRequest("qwen/qwen-max"))
	if req.Model != "qwen-max" {
		t.Errorf("model: got %q", req.Model)
	}

	keep := NewClient(FamilyConfig{
		Name:     "together",
		Prefixes: []string{"meta-llama/"},
	}, testLogger())
	req = keep.buildRequest(providerRequest("meta-llama/Llama-3.3-70B"))
	if req.Model != "meta-llama/Llama-3.3-70B" {
		t.Errorf("model: got %q", req.Model)
	}
}

func TestClient_NativeToolsGateTools(t *testing.T) {
	reqFor := func(native bool) *chatRequest {
		c := NewClient(FamilyConfig{Name: "fam", NativeTools: native}, testLogger())
		return c.buildRequest(providerRequest("fam-model"))
	}

	if tools := reqFor(true).Tools; len(tools) != 1 {
		t.Errorf("native family: got %d tools", len(tools))
	}
	if tools := reqFor(false).Tools; len(tools) != 0 {
		t.Errorf("non-native family: got %d tools", len(tools))
	}
}

func TestClient_CallerKeyOverrides(t *testing.T) {
	c := NewClient(FamilyConfig{Name: "fam", APIKey: "server-key"}, testLogger())

	r := providerRequest("fam-model")
	if got := c.apiKey(r); got != "server-key" {
		t.Errorf("server key: got %q", got)
	}
	r.APIKey = "caller-key"
	if got := c.apiKey(r); got != "caller-key" {
		t.Errorf("caller override: got %q", got)
	}
}

package config

import (
	"context"
	"errors"
	"testing"

	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
	llmmock "github.com/Enntity/cortex-sub003/pkg/provider/llm/mock"
)

// countingRegistry returns a registry whose "openai" factory records every
// construction and the entries it saw.
func countingRegistry() (*Registry, *[]ProviderEntry) {
	reg := NewRegistry()
	var built []ProviderEntry
	reg.RegisterLLM("openai", func(entry ProviderEntry) (llm.Provider, error) {
		built = append(built, entry)
		return &llmmock.Provider{}, nil
	})
	return reg, &built
}

func twoModels() ModelsConfig {
	return ModelsConfig{
		Default: "fast",
		Endpoints: []ModelEndpoint{
			{Model: "fast", Provider: ProviderEntry{Name: "openai", Model: "gpt-4.1-mini"}},
			{Model: "deep", Provider: ProviderEntry{Name: "openai", Model: "gpt-4.1"}},
		},
	}
}

func TestEndpointResolvesAndCaches(t *testing.T) {
	reg, built := countingRegistry()
	e := NewEndpoints(reg, twoModels())

	a, err := e.Endpoint("fast")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Endpoint("fast")
	if err != nil {
		t.Fatal(err)
	}
	if a != b {
		t.Error("repeated resolution built a second provider")
	}
	if len(*built) != 1 {
		t.Errorf("factory calls = %d, want 1", len(*built))
	}
	if (*built)[0].Model != "gpt-4.1-mini" {
		t.Errorf("factory entry model = %q", (*built)[0].Model)
	}
}

func TestEndpointEmptyNameUsesDefault(t *testing.T) {
	reg, built := countingRegistry()
	e := NewEndpoints(reg, twoModels())

	if _, err := e.Endpoint(""); err != nil {
		t.Fatal(err)
	}
	if len(*built) != 1 || (*built)[0].Model != "gpt-4.1-mini" {
		t.Errorf("default did not resolve to fast endpoint: %+v", *built)
	}
}

func TestEndpointUnknownModel(t *testing.T) {
	reg, _ := countingRegistry()
	e := NewEndpoints(reg, twoModels())

	_, err := e.Endpoint("missing")
	if !errors.Is(err, ErrModelNotConfigured) {
		t.Errorf("err = %v, want ErrModelNotConfigured", err)
	}
}

func TestEndpointNoDefaultConfigured(t *testing.T) {
	reg, _ := countingRegistry()
	mc := twoModels()
	mc.Default = ""
	e := NewEndpoints(reg, mc)

	if _, err := e.Endpoint(""); !errors.Is(err, ErrModelNotConfigured) {
		t.Errorf("err = %v, want ErrModelNotConfigured", err)
	}
}

func TestEndpointUnregisteredProvider(t *testing.T) {
	e := NewEndpoints(NewRegistry(), twoModels())

	_, err := e.Endpoint("fast")
	if !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("err = %v, want ErrProviderNotRegistered", err)
	}
}

func TestEndpointFillsLogicalModelName(t *testing.T) {
	reg, built := countingRegistry()
	mc := ModelsConfig{Endpoints: []ModelEndpoint{
		{Model: "gpt-4.1-mini", Provider: ProviderEntry{Name: "openai"}},
	}}
	e := NewEndpoints(reg, mc)

	if _, err := e.Endpoint("gpt-4.1-mini"); err != nil {
		t.Fatal(err)
	}
	if (*built)[0].Model != "gpt-4.1-mini" {
		t.Errorf("logical name not passed through: %+v", (*built)[0])
	}
}

func TestReconfigureKeepsUnchangedProviders(t *testing.T) {
	reg, built := countingRegistry()
	e := NewEndpoints(reg, twoModels())

	fast, _ := e.Endpoint("fast")
	deep, _ := e.Endpoint("deep")
	if len(*built) != 2 {
		t.Fatalf("factory calls = %d", len(*built))
	}

	mc := twoModels()
	mc.Endpoints[1].Provider.Model = "gpt-5"
	e.Reconfigure(mc)

	fast2, _ := e.Endpoint("fast")
	if fast2 != fast {
		t.Error("unchanged endpoint rebuilt after reconfigure")
	}
	deep2, _ := e.Endpoint("deep")
	if deep2 == deep {
		t.Error("redefined endpoint kept its stale provider")
	}
	if len(*built) != 3 {
		t.Errorf("factory calls = %d, want 3", len(*built))
	}
}

func TestEndpointWithFallbacksFailsOver(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterLLM("openai", func(entry ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{CompleteErr: errors.New("quota exceeded")}, nil
	})
	reg.RegisterLLM("ollama", func(entry ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{
			CompleteResponse: &llm.CompletionResponse{Content: "local says hi"},
		}, nil
	})
	e := NewEndpoints(reg, ModelsConfig{
		Default: "fast",
		Endpoints: []ModelEndpoint{{
			Model:     "fast",
			Provider:  ProviderEntry{Name: "openai", Model: "gpt-4.1-mini"},
			Fallbacks: []ProviderEntry{{Name: "ollama", Model: "llama3.1"}},
		}},
	})

	p, err := e.Endpoint("fast")
	if err != nil {
		t.Fatal(err)
	}
	resp, err := p.Complete(context.Background(), llm.CompletionRequest{})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "local says hi" {
		t.Errorf("content = %q, fallback not used", resp.Content)
	}
}

func TestReconfigureRebuildsOnFallbackChange(t *testing.T) {
	reg, built := countingRegistry()
	mc := twoModels()
	mc.Endpoints[0].Fallbacks = []ProviderEntry{{Name: "openai", Model: "gpt-4.1"}}
	e := NewEndpoints(reg, mc)

	fast, _ := e.Endpoint("fast")
	if len(*built) != 2 {
		t.Fatalf("factory calls = %d, want primary plus fallback", len(*built))
	}

	mc2 := twoModels()
	mc2.Endpoints[0].Fallbacks = []ProviderEntry{{Name: "openai", Model: "gpt-5"}}
	e.Reconfigure(mc2)

	fast2, _ := e.Endpoint("fast")
	if fast2 == fast {
		t.Error("fallback change kept the stale endpoint")
	}
}

func TestModels(t *testing.T) {
	e := NewEndpoints(NewRegistry(), twoModels())
	names := e.Models()
	if len(names) != 2 {
		t.Errorf("models = %v", names)
	}
}

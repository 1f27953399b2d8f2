package config

import (
	"errors"
	"testing"

	"github.com/Enntity/cortex-sub003/pkg/provider/embeddings"
	embmock "github.com/Enntity/cortex-sub003/pkg/provider/embeddings/mock"
	"github.com/Enntity/cortex-sub003/pkg/provider/llm"
	llmmock "github.com/Enntity/cortex-sub003/pkg/provider/llm/mock"
	"github.com/Enntity/cortex-sub003/pkg/provider/voice"
	voicemock "github.com/Enntity/cortex-sub003/pkg/provider/voice/mock"
)

func TestRegistryCreateByKind(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterLLM("openai", func(entry ProviderEntry) (llm.Provider, error) {
		return &llmmock.Provider{}, nil
	})
	reg.RegisterEmbeddings("openai", func(entry ProviderEntry) (embeddings.Provider, error) {
		return &embmock.Provider{DimensionsValue: 1536, ModelIDValue: entry.Model}, nil
	})
	reg.RegisterVoice("openai-realtime", func(entry ProviderEntry) (voice.Provider, error) {
		return &voicemock.Provider{}, nil
	})

	if _, err := reg.CreateLLM(ProviderEntry{Name: "openai"}); err != nil {
		t.Fatal(err)
	}
	emb, err := reg.CreateEmbeddings(ProviderEntry{Name: "openai", Model: "text-embedding-3-small"})
	if err != nil {
		t.Fatal(err)
	}
	if emb.Dimensions() != 1536 {
		t.Errorf("dimensions = %d", emb.Dimensions())
	}
	if emb.ModelID() != "text-embedding-3-small" {
		t.Errorf("model id = %q", emb.ModelID())
	}
	if _, err := reg.CreateVoice(ProviderEntry{Name: "openai-realtime"}); err != nil {
		t.Fatal(err)
	}
}

func TestRegistryUnregisteredName(t *testing.T) {
	reg := NewRegistry()

	if _, err := reg.CreateLLM(ProviderEntry{Name: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("llm err = %v", err)
	}
	if _, err := reg.CreateEmbeddings(ProviderEntry{Name: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("embeddings err = %v", err)
	}
	if _, err := reg.CreateVoice(ProviderEntry{Name: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("voice err = %v", err)
	}
}

func TestRegistryOverwriteKeepsLatest(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterEmbeddings("local", func(entry ProviderEntry) (embeddings.Provider, error) {
		return &embmock.Provider{DimensionsValue: 384}, nil
	})
	reg.RegisterEmbeddings("local", func(entry ProviderEntry) (embeddings.Provider, error) {
		return &embmock.Provider{DimensionsValue: 768}, nil
	})

	emb, err := reg.CreateEmbeddings(ProviderEntry{Name: "local"})
	if err != nil {
		t.Fatal(err)
	}
	if emb.Dimensions() != 768 {
		t.Errorf("dimensions = %d, want the latest registration", emb.Dimensions())
	}
}

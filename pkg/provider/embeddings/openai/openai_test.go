package openai

import "testing"

func TestModelDimensions(t *testing.T) {
	tests := []struct {
		model string
		want  int
	}{
		{"text-embedding-3-small", 1536},
		{"text-embedding-3-large", 3072},
		{"text-embedding-ada-002", 1536},
	}
	for _, tc := range tests {
		if got := modelDimensions(tc.model); got != tc.want {
			t.Errorf("modelDimensions(%q) = %d, want %d", tc.model, got, tc.want)
		}
	}
}

func TestModelDimensionsUnknownModel(t *testing.T) {
	if got := modelDimensions("some-future-model"); got <= 0 {
		t.Errorf("unknown model dimensions = %d, want a positive default", got)
	}
}

func TestDimensionsFollowsConfiguredModel(t *testing.T) {
	for _, model := range []string{"text-embedding-3-small", "text-embedding-3-large"} {
		p := &Provider{model: model}
		if got := p.Dimensions(); got != modelDimensions(model) {
			t.Errorf("%s: Dimensions() = %d, want %d", model, got, modelDimensions(model))
		}
	}
}

func TestModelIDPassthrough(t *testing.T) {
	p := &Provider{model: "my-custom-embeddings-model"}
	if got := p.ModelID(); got != "my-custom-embeddings-model" {
		t.Errorf("ModelID() = %q", got)
	}
}

func TestNewDefaultsModel(t *testing.T) {
	p, err := New("sk-test", "")
	if err != nil {
		t.Fatal(err)
	}
	if p.ModelID() != DefaultModel {
		t.Errorf("model = %q, want %q", p.ModelID(), DefaultModel)
	}
}

func TestNewRejectsEmptyKey(t *testing.T) {
	if _, err := New("", "text-embedding-3-small"); err == nil {
		t.Fatal("empty API key accepted")
	}
}

func TestNewAppliesOptions(t *testing.T) {
	_, err := New("sk-test", "text-embedding-3-small",
		WithBaseURL("https://custom.example.com"),
		WithOrganization("org-123"),
	)
	if err != nil {
		t.Fatalf("options rejected: %v", err)
	}
}

func TestFloat64ToFloat32(t *testing.T) {
	in := []float64{1.0, 2.5, -0.5}
	out := float64ToFloat32(in)
	if len(out) != len(in) {
		t.Fatalf("len = %d, want %d", len(out), len(in))
	}
	for i, v := range out {
		if v != float32(in[i]) {
			t.Errorf("[%d] = %v, want %v", i, v, float32(in[i]))
		}
	}
}

package provider

import (
	"strings"
	"testing"
)

func TestGeminiGenerationConfigCarriesSeed(t *testing.T) {
	g := &GeminiClient{model: "test-model"}

	cfg := g.generationConfig(Request{Seed: 1234})
	if cfg.Seed == nil || *cfg.Seed != 1234 {
		t.Errorf("Seed = %v, want 1234", cfg.Seed)
	}

	cfg = g.generationConfig(Request{})
	if cfg.Seed != nil {
		t.Errorf("zero request seed should leave the config seed unset, got %d", *cfg.Seed)
	}
	if len(cfg.ResponseModalities) != 2 {
		t.Errorf("modalities = %v, want text and image", cfg.ResponseModalities)
	}
}

func TestGeminiBuildParts(t *testing.T) {
	g := &GeminiClient{model: "test-model"}

	parts, err := g.buildParts(Request{
		Capability: CapabilityInpaint,
		Images: map[string][]byte{
			"input": []byte("img"),
			"mask":  []byte("msk"),
		},
		Prompt:         "repair the wall",
		NegativePrompt: "blurry",
	})
	if err != nil {
		t.Fatalf("buildParts: %v", err)
	}
	if len(parts) != 3 {
		t.Fatalf("parts = %d, want instruction plus two images", len(parts))
	}
	if !strings.Contains(parts[0].Text, "repair the wall") || !strings.Contains(parts[0].Text, "blurry") {
		t.Errorf("instruction = %q", parts[0].Text)
	}
	if parts[1].InlineData == nil || string(parts[1].InlineData.Data) != "img" {
		t.Error("first inline part should be the input image")
	}
	if parts[2].InlineData == nil || string(parts[2].InlineData.Data) != "msk" {
		t.Error("second inline part should be the mask")
	}
}

func TestGeminiBuildPartsMissingSlot(t *testing.T) {
	g := &GeminiClient{model: "test-model"}

	if _, err := g.buildParts(Request{
		Capability: CapabilityInpaint,
		Images:     map[string][]byte{"input": []byte("img")},
	}); err == nil {
		t.Error("missing mask should fail before any network call")
	}
	if _, err := g.buildParts(Request{Capability: CapabilityFaceSwap}); err == nil {
		t.Error("unsupported capability should fail")
	}
}

package provider

import (
	"context"
	"fmt"
	"strings"

	genai "google.golang.org/genai"
)

// GeminiClient serves inpaint and character capabilities through the
// Gemini image models. It is a fallback backend: the input images go
// in as inline parts with an instruction assembled from the request.
type GeminiClient struct {
	cli   *genai.Client
	model string
}

func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		return nil, fmt.Errorf("gemini model is required")
	}
	return &GeminiClient{cli: cli, model: model}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) Invoke(ctx context.Context, req Request) Result {
	parts, err := g.buildParts(req)
	if err != nil {
		return Failure(ReasonMissingPayload, err)
	}

	resp, err := g.cli.Models.GenerateContent(ctx, g.model,
		[]*genai.Content{{Parts: parts}},
		g.generationConfig(req),
	)
	if err != nil {
		return Failure(ReasonTransportError, err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Failure(ReasonProviderRejected, fmt.Errorf("no candidates in response"))
	}
	for _, part := range resp.Candidates[0].Content.Parts {
		if part.InlineData != nil && len(part.InlineData.Data) > 0 {
			return Success(part.InlineData.Data)
		}
	}
	return Failure(ReasonMissingPayload, fmt.Errorf("response carried no image part"))
}

// generationConfig carries the request seed so a re-run with a fresh
// seed actually varies and the same seed reproduces.
func (g *GeminiClient) generationConfig(req Request) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		ResponseModalities: []string{"TEXT", "IMAGE"},
	}
	if req.Seed != 0 {
		seed := int32(req.Seed)
		cfg.Seed = &seed
	}
	return cfg
}

func (g *GeminiClient) buildParts(req Request) ([]*genai.Part, error) {
	var instruction string
	var images [][]byte

	switch req.Capability {
	case CapabilityInpaint:
		input := req.Image("input")
		mask := req.Image("mask")
		if input == nil || mask == nil {
			return nil, fmt.Errorf("inpaint requires input and mask images")
		}
		instruction = "Repaint only the region of the first image covered by the white area of the second (mask) image. " + req.Prompt
		if req.NegativePrompt != "" {
			instruction += " Avoid: " + req.NegativePrompt + "."
		}
		images = [][]byte{input, mask}

	case CapabilityCharacter:
		face := req.Image("face")
		pose := req.Image("pose")
		if face == nil || pose == nil {
			return nil, fmt.Errorf("character generation requires face and pose images")
		}
		instruction = "Render the person from the first image in the pose shown by the second image. " + req.Prompt
		images = [][]byte{face, pose}

	default:
		return nil, fmt.Errorf("capability %s not supported", req.Capability)
	}

	parts := make([]*genai.Part, 0, len(images)+1)
	parts = append(parts, &genai.Part{Text: instruction})
	for _, img := range images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{
			MIMEType: "image/jpeg",
			Data:     img,
		}})
	}
	return parts, nil
}

package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Segmind-style endpoint paths per capability.
const (
	segmindInpaintPath   = "/sd1.5-inpainting"
	segmindFaceSwapPath  = "/faceswap-v2"
	segmindCharacterPath = "/consistent-character-with-pose"
)

// Per-capability payload defaults.
const (
	defaultScheduler = "DDIM"
	defaultSteps     = 25
	defaultGuidance  = 7.5
	defaultStrength  = 1.0
	defaultInpaintWH = 512
	defaultCharWH    = 1024
	defaultQuality   = 95
)

// SegmindClient calls the Segmind image APIs. Requests are JSON with
// base64-encoded images and an x-api-key header; responses are either
// a JSON object with a base64 image under "image" or a raw image byte
// stream declared by content type.
type SegmindClient struct {
	http    *http.Client
	apiKey  string
	baseURL string
}

func NewSegmindClient(apiKey, baseURL string, timeout time.Duration) *SegmindClient {
	if timeout <= 0 {
		timeout = 3 * time.Minute
	}
	return &SegmindClient{
		http:    &http.Client{Timeout: timeout},
		apiKey:  apiKey,
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
	}
}

func (s *SegmindClient) Name() string { return "segmind" }

func (s *SegmindClient) Invoke(ctx context.Context, req Request) Result {
	path, payload, err := s.buildPayload(req)
	if err != nil {
		return Failure(ReasonMissingPayload, err)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Failure(ReasonMalformedResponse, fmt.Errorf("marshal request: %w", err))
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return Failure(ReasonTransportError, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", s.apiKey)

	resp, err := s.http.Do(httpReq)
	if err != nil {
		return Failure(ReasonTransportError, err)
	}
	defer resp.Body.Close()

	return decodeImageResponse(resp)
}

func (s *SegmindClient) buildPayload(req Request) (string, map[string]any, error) {
	switch req.Capability {
	case CapabilityInpaint:
		input := req.Image("input")
		mask := req.Image("mask")
		if input == nil || mask == nil {
			return "", nil, fmt.Errorf("inpaint requires input and mask images")
		}
		return segmindInpaintPath, map[string]any{
			"prompt":              req.Prompt,
			"negative_prompt":     req.NegativePrompt,
			"samples":             1,
			"image":               base64.StdEncoding.EncodeToString(input),
			"mask":                base64.StdEncoding.EncodeToString(mask),
			"scheduler":           orString(req.Scheduler, defaultScheduler),
			"num_inference_steps": orInt(req.Steps, defaultSteps),
			"guidance_scale":      orFloat(req.Guidance, defaultGuidance),
			"strength":            orFloat(req.Strength, defaultStrength),
			"seed":                req.Seed,
			"img_width":           orInt(req.Width, defaultInpaintWH),
			"img_height":          orInt(req.Height, defaultInpaintWH),
		}, nil

	case CapabilityFaceSwap:
		source := req.Image("source")
		target := req.Image("target")
		if source == nil || target == nil {
			return "", nil, fmt.Errorf("faceswap requires source and target images")
		}
		return segmindFaceSwapPath, map[string]any{
			"source_img":         base64.StdEncoding.EncodeToString(source),
			"target_img":         base64.StdEncoding.EncodeToString(target),
			"source_faces_index": req.SourceFaceIndex,
			"input_faces_index":  req.TargetFaceIndex,
			"face_restore":       "codeformer-v0.1.0.pth",
			"base64":             true,
		}, nil

	case CapabilityCharacter:
		face := req.Image("face")
		pose := req.Image("pose")
		if face == nil || pose == nil {
			return "", nil, fmt.Errorf("character generation requires face and pose images")
		}
		return segmindCharacterPath, map[string]any{
			"base_64":                 false,
			"face_image":              base64.StdEncoding.EncodeToString(face),
			"pose_image":              base64.StdEncoding.EncodeToString(pose),
			"prompt":                  req.Prompt,
			"custom_width":            orInt(req.Width, defaultCharWH),
			"custom_height":           orInt(req.Height, defaultCharWH),
			"output_format":           "png",
			"quality":                 orInt(req.Quality, defaultQuality),
			"samples":                 1,
			"seed":                    req.Seed,
			"use_input_img_dimension": true,
		}, nil

	default:
		return "", nil, fmt.Errorf("capability %s not supported", req.Capability)
	}
}

// decodeImageResponse applies the shared response policy: a 2xx JSON
// body with a base64 image under "image", or a 2xx raw body with an
// image content type. Anything else is a classified failure.
func decodeImageResponse(resp *http.Response) Result {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Failure(ReasonTransportError, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failure(ReasonProviderRejected, fmt.Errorf("status %s: %s", resp.Status, truncate(body, 512)))
	}

	contentType := resp.Header.Get("Content-Type")
	if strings.HasPrefix(contentType, "image/") {
		if len(body) == 0 {
			return Failure(ReasonMissingPayload, fmt.Errorf("empty image body"))
		}
		return Success(body)
	}

	var parsed struct {
		Image string `json:"image"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return Failure(ReasonMalformedResponse, fmt.Errorf("response is neither JSON nor an image: %w", err))
	}
	if parsed.Image == "" {
		return Failure(ReasonMissingPayload, fmt.Errorf("image key absent from response JSON"))
	}
	decoded, err := base64.StdEncoding.DecodeString(parsed.Image)
	if err != nil {
		return Failure(ReasonMalformedResponse, fmt.Errorf("decode image payload: %w", err))
	}
	return Success(decoded)
}

func truncate(b []byte, max int) string {
	if len(b) > max {
		b = b[:max]
	}
	return string(b)
}

func orString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func orInt(v, fallback int) int {
	if v <= 0 {
		return fallback
	}
	return v
}

func orFloat(v, fallback float64) float64 {
	if v <= 0 {
		return fallback
	}
	return v
}

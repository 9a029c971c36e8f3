package provider

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// GradioClient serves the mask capability through a gradio-hosted
// segmentation space. The space's predict endpoint takes a data-URL
// image plus the text describing what to segment, and answers with
// either an inline base64 image or a file URL to fetch.
type GradioClient struct {
	http    *http.Client
	name    string
	baseURL string
	apiName string
}

func NewGradioClient(name, baseURL, apiName string, timeout time.Duration) *GradioClient {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if strings.TrimSpace(apiName) == "" {
		apiName = "process_image"
	}
	return &GradioClient{
		http:    &http.Client{Timeout: timeout},
		name:    name,
		baseURL: strings.TrimSuffix(strings.TrimSpace(baseURL), "/"),
		apiName: strings.Trim(apiName, "/"),
	}
}

func (g *GradioClient) Name() string { return g.name }

type gradioPredictRequest struct {
	Data []any `json:"data"`
}

type gradioPredictResponse struct {
	Data []json.RawMessage `json:"data"`
}

type gradioFileRef struct {
	URL  string `json:"url"`
	Path string `json:"path"`
}

func (g *GradioClient) Invoke(ctx context.Context, req Request) Result {
	input := req.Image("input")
	if input == nil {
		return Failure(ReasonMissingPayload, fmt.Errorf("mask generation requires an input image"))
	}

	payload := gradioPredictRequest{
		Data: []any{
			"data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(input),
			req.MaskTarget,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Failure(ReasonMalformedResponse, fmt.Errorf("marshal request: %w", err))
	}

	url := g.baseURL + "/run/" + g.apiName
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Failure(ReasonTransportError, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.http.Do(httpReq)
	if err != nil {
		return Failure(ReasonTransportError, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Failure(ReasonProviderRejected, fmt.Errorf("status %s", resp.Status))
	}

	var parsed gradioPredictResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Failure(ReasonMalformedResponse, fmt.Errorf("decode predict response: %w", err))
	}
	if len(parsed.Data) == 0 {
		return Failure(ReasonMissingPayload, fmt.Errorf("predict response has no data entries"))
	}
	return g.extractImage(ctx, parsed.Data[0])
}

// extractImage handles the two shapes a gradio space answers with: an
// inline string (raw or data-URL base64) or a file reference object.
func (g *GradioClient) extractImage(ctx context.Context, raw json.RawMessage) Result {
	var inline string
	if err := json.Unmarshal(raw, &inline); err == nil {
		decoded, err := decodeInlineImage(inline)
		if err != nil {
			return Failure(ReasonMalformedResponse, err)
		}
		return Success(decoded)
	}

	var ref gradioFileRef
	if err := json.Unmarshal(raw, &ref); err != nil {
		return Failure(ReasonMalformedResponse, fmt.Errorf("unrecognized predict data shape: %w", err))
	}
	fileURL := ref.URL
	if fileURL == "" && ref.Path != "" {
		fileURL = g.baseURL + "/file=" + ref.Path
	}
	if fileURL == "" {
		return Failure(ReasonMissingPayload, fmt.Errorf("file reference has neither url nor path"))
	}
	return g.fetchFile(ctx, fileURL)
}

func (g *GradioClient) fetchFile(ctx context.Context, url string) Result {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Failure(ReasonTransportError, err)
	}
	resp, err := g.http.Do(httpReq)
	if err != nil {
		return Failure(ReasonTransportError, err)
	}
	defer resp.Body.Close()
	return decodeImageResponse(resp)
}

func decodeInlineImage(s string) ([]byte, error) {
	if idx := strings.Index(s, "base64,"); idx >= 0 {
		s = s[idx+len("base64,"):]
	}
	decoded, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decode inline image: %w", err)
	}
	if len(decoded) == 0 {
		return nil, fmt.Errorf("inline image is empty")
	}
	return decoded, nil
}

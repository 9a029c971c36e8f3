package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func maskRequest() Request {
	return Request{
		Capability: CapabilityMask,
		Images:     map[string][]byte{"input": []byte("photo")},
		MaskTarget: "background",
	}
}

func TestGradioInlineBase64Response(t *testing.T) {
	want := []byte("mask-bytes")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/run/process_image" {
			t.Errorf("path = %s, want /run/process_image", r.URL.Path)
		}
		var req gradioPredictRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if len(req.Data) != 2 || req.Data[1] != "background" {
			t.Errorf("request data = %v, want [image, background]", req.Data)
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": []string{"data:image/png;base64," + base64.StdEncoding.EncodeToString(want)},
		})
	}))
	defer srv.Close()

	client := NewGradioClient("mask-primary", srv.URL, "process_image", time.Second)
	res := client.Invoke(context.Background(), maskRequest())

	if !res.OK() {
		t.Fatalf("Invoke failed: %s (%v)", res.Reason, res.Err)
	}
	if string(res.Artifact) != string(want) {
		t.Errorf("artifact = %q, want %q", res.Artifact, want)
	}
}

func TestGradioFileReferenceResponse(t *testing.T) {
	want := []byte{0x89, 0x50, 0x4e, 0x47}
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	mux.HandleFunc("/run/process_image", func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]string{{"url": srv.URL + "/file/mask.png"}},
		})
	})
	mux.HandleFunc("/file/mask.png", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		w.Write(want)
	})

	client := NewGradioClient("mask-primary", srv.URL, "process_image", time.Second)
	res := client.Invoke(context.Background(), maskRequest())

	if !res.OK() {
		t.Fatalf("Invoke failed: %s (%v)", res.Reason, res.Err)
	}
	if string(res.Artifact) != string(want) {
		t.Errorf("artifact = %q, want %q", res.Artifact, want)
	}
}

func TestGradioMalformedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("not json at all"))
	}))
	defer srv.Close()

	client := NewGradioClient("mask-primary", srv.URL, "process_image", time.Second)
	res := client.Invoke(context.Background(), maskRequest())

	if res.Reason != ReasonMalformedResponse {
		t.Errorf("reason = %s, want %s", res.Reason, ReasonMalformedResponse)
	}
}

func TestGradioRejectedStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "space is sleeping", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewGradioClient("mask-primary", srv.URL, "process_image", time.Second)
	res := client.Invoke(context.Background(), maskRequest())

	if res.Reason != ReasonProviderRejected {
		t.Errorf("reason = %s, want %s", res.Reason, ReasonProviderRejected)
	}
}

package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func inpaintRequest() Request {
	return Request{
		Capability: CapabilityInpaint,
		Images: map[string][]byte{
			"input": []byte("input-bytes"),
			"mask":  []byte("mask-bytes"),
		},
		Prompt: "restore the wall texture",
		Seed:   42,
	}
}

func TestSegmindDecodesBase64JSONResponse(t *testing.T) {
	want := []byte("result-image")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sd1.5-inpainting", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))

		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("input-bytes")), payload["image"])
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("mask-bytes")), payload["mask"])
		assert.Equal(t, float64(42), payload["seed"])
		assert.Equal(t, "DDIM", payload["scheduler"])

		json.NewEncoder(w).Encode(map[string]string{
			"image": base64.StdEncoding.EncodeToString(want),
		})
	}))
	defer srv.Close()

	client := NewSegmindClient("test-key", srv.URL, time.Second)
	res := client.Invoke(context.Background(), inpaintRequest())

	require.True(t, res.OK(), "Invoke failed: %s (%v)", res.Reason, res.Err)
	assert.Equal(t, want, res.Artifact)
}

func TestSegmindAcceptsRawImageResponse(t *testing.T) {
	want := []byte{0xff, 0xd8, 0xff, 0xe0}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(want)
	}))
	defer srv.Close()

	client := NewSegmindClient("test-key", srv.URL, time.Second)
	res := client.Invoke(context.Background(), inpaintRequest())

	require.True(t, res.OK())
	assert.Equal(t, want, res.Artifact)
}

func TestSegmindClassifiesFailures(t *testing.T) {
	tests := []struct {
		name    string
		handler http.HandlerFunc
		reason  FailureReason
	}{
		{
			name: "non-2xx status",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				http.Error(w, "quota exceeded", http.StatusPaymentRequired)
			},
			reason: ReasonProviderRejected,
		},
		{
			name: "body neither JSON nor image",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.Header().Set("Content-Type", "text/html")
				w.Write([]byte("<html>gateway error</html>"))
			},
			reason: ReasonMalformedResponse,
		},
		{
			name: "JSON without image key",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"status": "queued"})
			},
			reason: ReasonMissingPayload,
		},
		{
			name: "image key not base64",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				json.NewEncoder(w).Encode(map[string]string{"image": "!!not base64!!"})
			},
			reason: ReasonMalformedResponse,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(tt.handler)
			defer srv.Close()

			client := NewSegmindClient("test-key", srv.URL, time.Second)
			res := client.Invoke(context.Background(), inpaintRequest())

			assert.False(t, res.OK())
			assert.Equal(t, tt.reason, res.Reason)
			assert.Error(t, res.Err)
		})
	}
}

func TestSegmindTimeoutIsTransportError(t *testing.T) {
	blocked := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		<-blocked
	}))
	defer srv.Close()
	defer close(blocked)

	client := NewSegmindClient("test-key", srv.URL, 50*time.Millisecond)
	res := client.Invoke(context.Background(), inpaintRequest())

	assert.Equal(t, ReasonTransportError, res.Reason)
}

func TestSegmindMissingSlotNeverHitsNetwork(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		called = true
	}))
	defer srv.Close()

	client := NewSegmindClient("test-key", srv.URL, time.Second)
	res := client.Invoke(context.Background(), Request{
		Capability: CapabilityFaceSwap,
		Images:     map[string][]byte{"source": []byte("only-one")},
	})

	assert.Equal(t, ReasonMissingPayload, res.Reason)
	assert.False(t, called)
}

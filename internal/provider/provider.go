// Package provider talks to remote image-generation services. Every
// client classifies its outcome into a Result instead of surfacing
// transport errors; chains escalate through fallback clients until one
// succeeds.
package provider

import (
	"context"
	"fmt"
	"strings"
)

// Capability is a category of remote image operation. Several
// interchangeable clients may serve the same capability.
type Capability string

const (
	CapabilityMask      Capability = "mask"
	CapabilityInpaint   Capability = "inpaint"
	CapabilityFaceSwap  Capability = "faceswap"
	CapabilityCharacter Capability = "character"
)

// FailureReason classifies why a provider call produced no artifact.
type FailureReason string

const (
	ReasonTransportError    FailureReason = "transport_error"
	ReasonMalformedResponse FailureReason = "malformed_response"
	ReasonProviderRejected  FailureReason = "provider_rejected"
	ReasonMissingPayload    FailureReason = "missing_payload"
	ReasonAllExhausted      FailureReason = "all_exhausted"
)

// Request is an immutable description of one remote invocation. Input
// images are keyed by slot name; which keys a capability reads is part
// of its payload contract.
type Request struct {
	Capability Capability
	Images     map[string][]byte

	Prompt         string
	NegativePrompt string
	Seed           int64

	// Sampling options. Zero values fall back to per-capability
	// defaults inside the client.
	Width     int
	Height    int
	Steps     int
	Guidance  float64
	Scheduler string
	Strength  float64
	Quality   int

	// Face swap selectors.
	SourceFaceIndex int
	TargetFaceIndex int

	// MaskTarget is the text describing what the mask capability
	// should segment.
	MaskTarget string
}

// Image returns the named input image, or nil.
func (r Request) Image(slot string) []byte {
	return r.Images[slot]
}

// Result is the tagged outcome of a provider call: an artifact on
// success, a classified reason otherwise. Err carries diagnostics for
// logging and is never shown to end users.
type Result struct {
	Artifact []byte
	Reason   FailureReason
	Err      error
}

func Success(artifact []byte) Result {
	return Result{Artifact: artifact}
}

func Failure(reason FailureReason, err error) Result {
	return Result{Reason: reason, Err: err}
}

func (r Result) OK() bool {
	return r.Reason == "" && r.Artifact != nil
}

// Client is a single remote provider. Invoke never returns a Go error:
// timeouts, non-2xx statuses, and unparseable bodies all come back as
// a classified failure Result.
type Client interface {
	Name() string
	Invoke(ctx context.Context, req Request) Result
}

func describeFailures(failures []string) error {
	return fmt.Errorf("all providers failed: %s", strings.Join(failures, "; "))
}

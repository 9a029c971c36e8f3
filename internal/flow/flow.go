package flow

import (
	"strings"

	"pixflow/internal/provider"
	"pixflow/internal/session"
)

// Slot is one image input a flow collects before invoking a provider.
type Slot struct {
	Name string
	Ask  string
}

// Definition describes one workflow: the images it collects, whether it
// needs a prompt, and how the result is delivered.
type Definition struct {
	Name    session.Flow
	Command string
	Slots   []Slot

	// PromptAsk, when set, makes the flow ask for a text prompt after
	// the last slot. Empty means the prompt comes from configuration.
	PromptAsk string

	Capability   provider.Capability
	RequiresAuth bool

	// OfferProviderChoice asks the user which backend to use when the
	// capability's chain has more than one client.
	OfferProviderChoice bool

	// MaskSlot and MaskSource wire automatic mask generation: once the
	// MaskSource slot is filled, the mask capability runs on it and the
	// result is stored under MaskSlot.
	MaskSlot   string
	MaskSource string

	// Retain keeps the run's artifacts after success so /again can
	// re-run with a fresh seed.
	Retain bool

	ResultCaption  string
	FailureMessage string
}

// RequestSlots lists every artifact slot a provider request reads,
// collected inputs plus the generated mask.
func (d Definition) RequestSlots() []string {
	names := make([]string, 0, len(d.Slots)+1)
	for _, s := range d.Slots {
		names = append(names, s.Name)
	}
	if d.MaskSlot != "" {
		names = append(names, d.MaskSlot)
	}
	return names
}

// Definitions returns the built-in workflows. gatedFlows names the
// flows that require the shared secret; the others stay open even
// when a secret is configured.
func Definitions(gatedFlows []string) []Definition {
	gated := make(map[session.Flow]bool, len(gatedFlows))
	for _, name := range gatedFlows {
		gated[session.Flow(strings.TrimSpace(name))] = true
	}
	return []Definition{
		{
			Name:    session.FlowInpaint,
			Command: "/inpaint",
			Slots: []Slot{
				{Name: "input", Ask: "Send the image to edit."},
			},
			Capability:          provider.CapabilityInpaint,
			RequiresAuth:        gated[session.FlowInpaint],
			OfferProviderChoice: true,
			MaskSlot:            "mask",
			MaskSource:          "input",
			Retain:              true,
			ResultCaption:       "Here is your edited image. Send /again for another take.",
			FailureMessage:      "Image generation failed. Please try again later.",
		},
		{
			Name:    session.FlowFaceSwap,
			Command: "/faceswap",
			Slots: []Slot{
				{Name: "source", Ask: "Send the photo with the face to use."},
				{Name: "target", Ask: "Send the photo to place the face onto."},
			},
			Capability:     provider.CapabilityFaceSwap,
			RequiresAuth:   gated[session.FlowFaceSwap],
			ResultCaption:  "Here is your swapped image.",
			FailureMessage: "Face swap failed. Please try again later.",
		},
		{
			Name:    session.FlowCharacter,
			Command: "/character",
			Slots: []Slot{
				{Name: "face", Ask: "Send a photo of the face."},
				{Name: "pose", Ask: "Send a photo with the pose to match."},
			},
			PromptAsk:           "Describe the character you want.",
			Capability:          provider.CapabilityCharacter,
			RequiresAuth:        gated[session.FlowCharacter],
			OfferProviderChoice: true,
			ResultCaption:       "Here is your character.",
			FailureMessage:      "Character generation failed. Please try again later.",
		},
	}
}

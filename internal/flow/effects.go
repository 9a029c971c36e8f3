package flow

// EffectKind tells the transport how to render one effect.
type EffectKind string

const (
	EffectText    EffectKind = "text"
	EffectImage   EffectKind = "image"
	EffectChoices EffectKind = "choices"
)

// Effect is one outbound message produced by the engine. Transports
// render effects in the order they are emitted.
type Effect struct {
	Kind EffectKind

	// Text is the message body for EffectText and the question for
	// EffectChoices.
	Text string

	// Image and Caption are set for EffectImage.
	Image   []byte
	Caption string

	// Choices lists the options for EffectChoices; transports send the
	// selected option back through OnProviderChoice.
	Choices []string
}

// EmitFunc receives effects as the engine produces them, so progress
// messages reach the user before slow provider calls finish.
type EmitFunc func(Effect)

func textEffect(text string) Effect {
	return Effect{Kind: EffectText, Text: text}
}

func imageEffect(image []byte, caption string) Effect {
	return Effect{Kind: EffectImage, Image: image, Caption: caption}
}

func choicesEffect(text string, choices []string) Effect {
	return Effect{Kind: EffectChoices, Text: text, Choices: choices}
}

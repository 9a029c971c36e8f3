// Package flow runs the per-user conversation state machine. Each
// inbound event claims the user's session, advances it, and emits
// ordered effects for the transport to render.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log"
	mathrand "math/rand/v2"
	"strings"

	"pixflow/internal/artifact"
	"pixflow/internal/auth"
	"pixflow/internal/config"
	"pixflow/internal/provider"
	"pixflow/internal/session"
)

const (
	msgBusy           = "Still working on your previous request. Please wait."
	msgNeedPassword   = "This command needs a password. Send it now."
	msgWrongPassword  = "Wrong password. Try again."
	msgAccessGranted  = "Access granted."
	msgUnexpectedText = "I wasn't expecting text right now. Try /help."
	msgUnexpectedImg  = "I wasn't expecting an image. Start with /inpaint, /faceswap or /character."
	msgPickOption     = "Please pick one of the options below."
	msgChooseBackend  = "Which backend should I use?"
	msgGeneratingMask = "Generating mask..."
	msgWorking        = "Working on it, this can take a minute..."
	msgNothingToRedo  = "Nothing to redo yet. Run a flow first."
	msgLostArtifacts  = "I no longer have the images from that run. Start a new flow."
	msgUnknownCommand = "Unknown command. Try /help."
	msgInternal       = "Something went wrong on my side. Please try again."
)

// Engine wires the session store, artifact store, auth gate, and
// provider registry into the conversation handlers the transports call.
type Engine struct {
	sessions  *session.Store
	artifacts artifact.Store
	gate      *auth.Gate
	registry  *provider.Registry

	defs     []Definition
	flows    map[session.Flow]Definition
	commands map[string]Definition

	cfg  config.ProviderConfig
	seed func() int64
}

// NewEngine builds an engine over the given stores. A nil seed func
// falls back to math/rand, so every invocation gets a fresh seed.
func NewEngine(sessions *session.Store, artifacts artifact.Store, gate *auth.Gate, registry *provider.Registry, defs []Definition, cfg config.ProviderConfig, seed func() int64) *Engine {
	if seed == nil {
		seed = mathrand.Int64
	}
	e := &Engine{
		sessions:  sessions,
		artifacts: artifacts,
		gate:      gate,
		registry:  registry,
		defs:      defs,
		flows:     make(map[session.Flow]Definition, len(defs)),
		commands:  make(map[string]Definition, len(defs)),
		cfg:       cfg,
		seed:      seed,
	}
	for _, d := range defs {
		e.flows[d.Name] = d
		e.commands[d.Command] = d
	}
	return e
}

// OnCommand handles a slash command from the user.
func (e *Engine) OnCommand(ctx context.Context, userID, command string, emit EmitFunc) {
	st, release, ok := e.sessions.TryLock(userID)
	if !ok {
		emit(textEffect(msgBusy))
		return
	}
	defer release()

	switch command {
	case "/start":
		emit(textEffect("Hi! I edit images through a few guided flows.\n" + e.helpText()))
	case "/help":
		emit(textEffect(e.helpText()))
	case "/again":
		e.handleAgain(ctx, st, emit)
	default:
		def, found := e.commands[command]
		if !found {
			emit(textEffect(msgUnknownCommand))
			return
		}
		e.startFlow(ctx, st, def, emit)
	}
}

// OnText handles a free-form text message.
func (e *Engine) OnText(ctx context.Context, userID, text string, emit EmitFunc) {
	st, release, ok := e.sessions.TryLock(userID)
	if !ok {
		emit(textEffect(msgBusy))
		return
	}
	defer release()

	switch st.Step {
	case session.StepAwaitingPassword:
		if !e.gate.Submit(userID, text) {
			log.Printf("user %s: %v", userID, ErrAuthenticationRejected)
			emit(textEffect(msgWrongPassword))
			return
		}
		st.Authenticated = true
		emit(textEffect(msgAccessGranted))
		pending := st.PendingFlow
		st.PendingFlow = session.FlowNone
		st.Step = session.StepIdle
		if def, found := e.flows[pending]; found {
			e.startFlow(ctx, st, def, emit)
		}
	case session.StepAwaitingPrompt:
		def := e.flows[st.Flow]
		st.Options["prompt"] = strings.TrimSpace(text)
		e.afterInputs(ctx, st, def, emit)
	case session.StepAwaitingProviderChoice:
		def := e.flows[st.Flow]
		emit(textEffect(msgPickOption))
		if chain, found := e.registry.Chain(def.Capability); found {
			emit(choicesEffect(msgChooseBackend, chain.Names()))
		}
	default:
		log.Printf("user %s: %v: text at step %s", userID, ErrUnexpectedInput, st.Step)
		emit(textEffect(msgUnexpectedText))
	}
}

// OnImage handles an inbound photo. Outside of a slot-collecting step
// the image is rejected without touching the artifact store.
func (e *Engine) OnImage(ctx context.Context, userID string, image []byte, emit EmitFunc) {
	st, release, ok := e.sessions.TryLock(userID)
	if !ok {
		emit(textEffect(msgBusy))
		return
	}
	defer release()

	if st.Step != session.StepAwaitingSlot {
		log.Printf("user %s: %v: image at step %s", userID, ErrUnexpectedInput, st.Step)
		emit(textEffect(msgUnexpectedImg))
		return
	}
	def := e.flows[st.Flow]
	slot := def.Slots[st.NextSlot]

	if err := e.artifacts.Put(ctx, st.SessionID, slot.Name, image); err != nil {
		log.Printf("flow %s: store slot %s: %v", def.Name, slot.Name, err)
		emit(textEffect(msgInternal))
		e.abort(ctx, st)
		return
	}
	st.Artifacts[slot.Name] = true
	st.NextSlot++

	if def.MaskSlot != "" && def.MaskSource == slot.Name {
		if !e.generateMask(ctx, st, def, image, emit) {
			return
		}
	}

	if st.NextSlot < len(def.Slots) {
		emit(textEffect(def.Slots[st.NextSlot].Ask))
		return
	}
	e.afterInputs(ctx, st, def, emit)
}

// OnProviderChoice handles the user's backend selection.
func (e *Engine) OnProviderChoice(ctx context.Context, userID, name string, emit EmitFunc) {
	st, release, ok := e.sessions.TryLock(userID)
	if !ok {
		emit(textEffect(msgBusy))
		return
	}
	defer release()

	if st.Step != session.StepAwaitingProviderChoice {
		emit(textEffect(msgUnexpectedText))
		return
	}
	def := e.flows[st.Flow]
	chain, found := e.registry.Chain(def.Capability)
	if !found || !containsName(chain.Names(), name) {
		emit(textEffect(msgPickOption))
		if found {
			emit(choicesEffect(msgChooseBackend, chain.Names()))
		}
		return
	}
	st.Options["provider"] = name
	e.invoke(ctx, st, def, emit)
}

func (e *Engine) startFlow(ctx context.Context, st *session.State, def Definition, emit EmitFunc) {
	if def.RequiresAuth && e.gate.Enabled() && !st.Authenticated {
		if e.gate.Check(st.UserID) {
			st.Authenticated = true
		} else {
			st.PendingFlow = def.Name
			st.Step = session.StepAwaitingPassword
			emit(textEffect(msgNeedPassword))
			return
		}
	}

	// Starting a flow abandons the previous run and its artifacts.
	if err := e.artifacts.Clear(ctx, st.SessionID); err != nil {
		log.Printf("flow %s: clear session %s: %v", def.Name, st.SessionID, err)
	}
	e.sessions.Rotate(st)
	st.LastFlow = session.FlowNone
	st.LastOptions = nil
	st.BeginFlow(def.Name, session.StepAwaitingSlot)
	emit(textEffect(def.Slots[0].Ask))
}

func (e *Engine) afterInputs(ctx context.Context, st *session.State, def Definition, emit EmitFunc) {
	if def.PromptAsk != "" && st.Options["prompt"] == "" {
		st.Step = session.StepAwaitingPrompt
		emit(textEffect(def.PromptAsk))
		return
	}
	if def.OfferProviderChoice {
		if chain, found := e.registry.Chain(def.Capability); found && len(chain.Names()) > 1 {
			st.Step = session.StepAwaitingProviderChoice
			emit(choicesEffect(msgChooseBackend, chain.Names()))
			return
		}
	}
	e.invoke(ctx, st, def, emit)
}

// generateMask runs the mask capability on the source image and stores
// the result as another artifact. It reports whether the flow may
// continue.
func (e *Engine) generateMask(ctx context.Context, st *session.State, def Definition, source []byte, emit EmitFunc) bool {
	emit(textEffect(msgGeneratingMask))
	res := e.registry.Resolve(ctx, provider.Request{
		Capability: provider.CapabilityMask,
		Images:     map[string][]byte{"input": source},
		MaskTarget: e.cfg.MaskTarget,
		Seed:       e.seed(),
	})
	if !res.OK() {
		log.Printf("flow %s: mask generation: %s (%v)", def.Name, res.Reason, res.Err)
		emit(textEffect(def.FailureMessage))
		e.abort(ctx, st)
		return false
	}
	if err := e.artifacts.Put(ctx, st.SessionID, def.MaskSlot, res.Artifact); err != nil {
		log.Printf("flow %s: store mask: %v", def.Name, err)
		emit(textEffect(msgInternal))
		e.abort(ctx, st)
		return false
	}
	st.Artifacts[def.MaskSlot] = true
	return true
}

func (e *Engine) invoke(ctx context.Context, st *session.State, def Definition, emit EmitFunc) {
	st.Step = session.StepInvoking
	emit(textEffect(msgWorking))

	req, err := e.buildRequest(ctx, st.SessionID, def, st.Options)
	if err != nil {
		if errors.Is(err, ErrMissingArtifact) {
			emit(textEffect(msgLostArtifacts))
		} else {
			log.Printf("flow %s: build request: %v", def.Name, err)
			emit(textEffect(msgInternal))
		}
		st.EndFlow()
		return
	}

	chain, found := e.registry.Chain(def.Capability)
	if !found {
		log.Printf("flow %s: no chain for %s", def.Name, def.Capability)
		emit(textEffect(def.FailureMessage))
		e.abort(ctx, st)
		return
	}
	if name := st.Options["provider"]; name != "" {
		chain = chain.Prefer(name)
	}

	res := chain.Resolve(ctx, req)
	if !res.OK() {
		log.Printf("flow %s: %s (%v)", def.Name, res.Reason, res.Err)
		emit(textEffect(def.FailureMessage))
		e.abort(ctx, st)
		return
	}

	emit(imageEffect(res.Artifact, def.ResultCaption))
	st.LastFlow = def.Name
	st.LastOptions = copyOptions(st.Options)
	if !def.Retain {
		if err := e.artifacts.Clear(ctx, st.SessionID); err != nil {
			log.Printf("flow %s: clear session %s: %v", def.Name, st.SessionID, err)
		}
	}
	st.EndFlow()
}

func (e *Engine) handleAgain(ctx context.Context, st *session.State, emit EmitFunc) {
	if st.Flow != session.FlowNone {
		emit(textEffect("Finish the current flow first."))
		return
	}
	def, found := e.flows[st.LastFlow]
	if !found {
		emit(textEffect(msgNothingToRedo))
		return
	}
	st.Flow = def.Name
	st.Options = copyOptions(st.LastOptions)
	e.invoke(ctx, st, def, emit)
}

// buildRequest reads every artifact the flow needs. A gone artifact
// surfaces as ErrMissingArtifact before any provider is contacted.
func (e *Engine) buildRequest(ctx context.Context, sessionID string, def Definition, opts map[string]string) (provider.Request, error) {
	images := make(map[string][]byte, len(def.Slots)+1)
	for _, slot := range def.RequestSlots() {
		data, err := e.artifacts.Get(ctx, sessionID, slot)
		if err != nil {
			if errors.Is(err, artifact.ErrNotFound) {
				return provider.Request{}, fmt.Errorf("%w: %s", ErrMissingArtifact, slot)
			}
			return provider.Request{}, err
		}
		images[slot] = data
	}

	prompt := opts["prompt"]
	if prompt == "" && def.Capability == provider.CapabilityInpaint {
		prompt = e.cfg.InpaintPrompt
	}
	return provider.Request{
		Capability:     def.Capability,
		Images:         images,
		Prompt:         prompt,
		NegativePrompt: e.cfg.InpaintNegativePrompt,
		Seed:           e.seed(),
		MaskTarget:     e.cfg.MaskTarget,
	}, nil
}

// abort ends the flow and drops its artifacts.
func (e *Engine) abort(ctx context.Context, st *session.State) {
	if err := e.artifacts.Clear(ctx, st.SessionID); err != nil {
		log.Printf("clear session %s: %v", st.SessionID, err)
	}
	st.EndFlow()
}

func (e *Engine) helpText() string {
	var b strings.Builder
	b.WriteString("Commands:\n")
	for _, d := range e.defs {
		b.WriteString(d.Command)
		b.WriteString(" - ")
		switch d.Name {
		case session.FlowInpaint:
			b.WriteString("repaint part of an image")
		case session.FlowFaceSwap:
			b.WriteString("swap a face between two photos")
		case session.FlowCharacter:
			b.WriteString("generate a character from a face and a pose")
		default:
			b.WriteString(string(d.Name))
		}
		b.WriteString("\n")
	}
	b.WriteString("/again - redo the last run with a fresh seed\n")
	b.WriteString("/help - show this message")
	return b.String()
}

func copyOptions(opts map[string]string) map[string]string {
	out := make(map[string]string, len(opts))
	for k, v := range opts {
		out[k] = v
	}
	return out
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}

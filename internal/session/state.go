package session

import "time"

// Flow identifies which multi-step workflow a user is currently in.
type Flow string

const (
	FlowNone      Flow = ""
	FlowInpaint   Flow = "inpaint"
	FlowFaceSwap  Flow = "faceswap"
	FlowCharacter Flow = "character"
)

// Step identifies what input the conversation expects next.
type Step string

const (
	StepIdle                   Step = "idle"
	StepAwaitingPassword       Step = "awaiting_password"
	StepAwaitingSlot           Step = "awaiting_slot"
	StepAwaitingPrompt         Step = "awaiting_prompt"
	StepAwaitingProviderChoice Step = "awaiting_provider_choice"
	StepInvoking               Step = "invoking"
)

// State holds everything the engine remembers about one user. Access
// goes through Store.TryLock so only one event mutates it at a time.
type State struct {
	UserID    string
	Flow      Flow
	Step      Step
	SessionID string

	// NextSlot indexes the flow's slot list; artifacts received so far
	// are tracked by slot name so the engine can tell what is missing.
	NextSlot  int
	Artifacts map[string]bool

	// Options carries per-run inputs gathered during the flow, e.g. the
	// prompt text or a provider choice.
	Options map[string]string

	// PendingFlow is the flow a user asked for before authenticating.
	PendingFlow Flow

	// LastFlow and LastOptions make /again possible after a run whose
	// definition retains its artifacts.
	LastFlow    Flow
	LastOptions map[string]string

	Authenticated bool
	Busy          bool
	UpdatedAt     time.Time
}

// BeginFlow resets the per-run fields and enters the named flow.
func (s *State) BeginFlow(f Flow, step Step) {
	s.Flow = f
	s.Step = step
	s.NextSlot = 0
	s.Artifacts = make(map[string]bool)
	s.Options = make(map[string]string)
	s.UpdatedAt = time.Now()
}

// EndFlow returns the state to idle without touching authentication or
// the LastFlow bookkeeping.
func (s *State) EndFlow() {
	s.Flow = FlowNone
	s.Step = StepIdle
	s.NextSlot = 0
	s.Artifacts = nil
	s.Options = nil
	s.UpdatedAt = time.Now()
}

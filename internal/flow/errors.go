package flow

import "errors"

var (
	// ErrMissingArtifact means a run needs an input image that is no
	// longer in the artifact store.
	ErrMissingArtifact = errors.New("missing artifact")

	// ErrUnexpectedInput means the event does not fit the step the
	// conversation is waiting on.
	ErrUnexpectedInput = errors.New("unexpected input")

	// ErrAuthenticationRejected means the submitted password did not
	// match the shared secret.
	ErrAuthenticationRejected = errors.New("authentication rejected")
)

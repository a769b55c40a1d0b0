package errs

import "encoding/json"

// Envelope is the single JSON object every CLI failure path writes as its
// final line of stdout.
type Envelope struct {
	OK          bool              `json:"ok"`
	Code        Code              `json:"code,omitempty"`
	Message     string            `json:"message,omitempty"`
	Hints       []string          `json:"hints,omitempty"`
	HintContext map[string]string `json:"hintContext,omitempty"`
	Retryable   bool              `json:"retryable,omitempty"`
}

// EnvelopeFor converts an *Error into its wire envelope.
func EnvelopeFor(err *Error) Envelope {
	return Envelope{
		OK:          false,
		Code:        err.Code,
		Message:     err.Message,
		Hints:       err.Hints,
		HintContext: err.HintContext,
		Retryable:   err.Retryable,
	}
}

// MarshalEnvelope renders the envelope as a single compact JSON line,
// matching the newline-delimited wire format used elsewhere in the core.
func MarshalEnvelope(err *Error) ([]byte, error) {
	return json.Marshal(EnvelopeFor(err))
}

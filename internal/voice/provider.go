package voice

import "context"

// Carrier is the provider-agnostic call-control surface the gateway uses.
//
// Rules:
// - No provider calls outside carrier adapters.
// - Adapters return errors wrapping ErrCarrier and never include credentials.
type Carrier interface {
	Name() string
	PlaceCall(ctx context.Context, req PlaceCallRequest) (PlaceCallResult, error)
}

// PlaceCallRequest describes one outbound call. Numbers are E.164 where
// possible.
type PlaceCallRequest struct {
	From string `json:"from"`
	To   string `json:"to"`

	// InstructionURL is fetched by the carrier when the call connects.
	InstructionURL string `json:"instruction_url"`

	// StatusCallbackURL receives progress for StatusEvents.
	StatusCallbackURL string   `json:"status_callback_url"`
	StatusEvents      []string `json:"status_events"`
}

type PlaceCallResult struct {
	// Sid is the carrier call identifier, the correlation key for status
	// callbacks.
	Sid    string `json:"sid"`
	Status string `json:"status,omitempty"`
}

// StatusEvents is the set of progress events every placed call subscribes
// to.
var StatusEvents = []string{"initiated", "ringing", "answered", "completed"}

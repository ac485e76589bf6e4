package calls

import (
	"strings"
	"time"
)

// Call represents one outbound carrier call placed on behalf of a visitor.
//
// The carrier-assigned Sid is the only correlation key between the placement
// request and later status callbacks. Nothing here is authoritative: the
// carrier owns the call state and we only keep what it tells us.
type Call struct {
	Sid    string `json:"sid"`
	From   string `json:"from"`
	To     string `json:"to"`
	Status Status `json:"status"`

	// Label is the visitor phone number or name the call was placed for.
	Label string `json:"label,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// Status is a carrier call status as reported in CallStatus.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusInitiated  Status = "initiated"
	StatusRinging    Status = "ringing"
	StatusInProgress Status = "in-progress"
	StatusAnswered   Status = "answered"
	StatusCompleted  Status = "completed"
	StatusBusy       Status = "busy"
	StatusFailed     Status = "failed"
	StatusNoAnswer   Status = "no-answer"
	StatusCanceled   Status = "canceled"
)

// rank orders statuses along initiated → ringing → answered → completed.
// Terminal alternatives share the completed rank.
var rank = map[Status]int{
	StatusQueued:     1,
	StatusInitiated:  1,
	StatusRinging:    2,
	StatusInProgress: 3,
	StatusAnswered:   3,
	StatusCompleted:  4,
	StatusBusy:       4,
	StatusFailed:     4,
	StatusNoAnswer:   4,
	StatusCanceled:   4,
}

// ParseStatus normalizes a raw carrier value. Unknown values are returned
// as-is with ok=false; the carrier vocabulary may grow.
func ParseStatus(raw string) (Status, bool) {
	s := Status(strings.ToLower(strings.TrimSpace(raw)))
	_, ok := rank[s]
	return s, ok
}

// Rank returns the position of s in the call progression, or 0 if unknown.
func (s Status) Rank() int { return rank[s] }

func (s Status) Known() bool {
	_, ok := rank[s]
	return ok
}

func (s Status) Terminal() bool {
	return s.Rank() == rank[StatusCompleted]
}

// Transition is one recorded status callback for a call.
type Transition struct {
	CallSid string `json:"call_sid"`
	Status  Status `json:"status"`

	// OutOfOrder is set when the status ranks below one already recorded
	// for the same call. The transition is still recorded.
	OutOfOrder bool `json:"out_of_order,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

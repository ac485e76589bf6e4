package voice

import (
	"net/http"
	"strings"
)

// TwilioStatusForm captures the subset of status callback fields we log.
// Twilio sends application/x-www-form-urlencoded by default.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
type TwilioStatusForm struct {
	CallSid        string
	AccountSid     string
	CallStatus     string
	From           string
	To             string
	Direction      string
	CallDuration   string
	SequenceNumber string
	Timestamp      string
}

func ParseTwilioStatusCallback(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	// Form (not PostForm) so GET callbacks with query params work too.
	return TwilioStatusForm{
		CallSid:        strings.TrimSpace(r.FormValue("CallSid")),
		AccountSid:     strings.TrimSpace(r.FormValue("AccountSid")),
		CallStatus:     strings.TrimSpace(r.FormValue("CallStatus")),
		From:           strings.TrimSpace(r.FormValue("From")),
		To:             strings.TrimSpace(r.FormValue("To")),
		Direction:      r.FormValue("Direction"),
		CallDuration:   r.FormValue("CallDuration"),
		SequenceNumber: r.FormValue("SequenceNumber"),
		Timestamp:      r.FormValue("Timestamp"),
	}, nil
}

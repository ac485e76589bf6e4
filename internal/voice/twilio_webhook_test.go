package voice

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestParseTwilioStatusCallback(t *testing.T) {
	body := strings.NewReader("CallSid=CA123&CallStatus=ringing&From=%2B15551234567&To=%2B15557654321&SequenceNumber=1")
	r := httptest.NewRequest(http.MethodPost, "/api/voice/status", body)
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	form, err := ParseTwilioStatusCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA123" || form.CallStatus != "ringing" {
		t.Fatalf("unexpected sid/status: %q %q", form.CallSid, form.CallStatus)
	}
	if form.From != "+15551234567" || form.To != "+15557654321" {
		t.Fatalf("unexpected from/to: %q %q", form.From, form.To)
	}
}

func TestParseTwilioStatusCallbackQuery(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/api/voice/status?CallSid=CA9&CallStatus=completed", nil)
	form, err := ParseTwilioStatusCallback(r)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if form.CallSid != "CA9" || form.CallStatus != "completed" {
		t.Fatalf("unexpected form %+v", form)
	}
}

package voice

import (
	"bytes"
	"encoding/xml"
	"strings"
)

// TwiML is built with encoding/xml. Only the verbs the instruction source
// needs are modeled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

type twimlPause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

const announceVoice = "alice"

// Announcement returns the spoken text for an operator call. caller is the
// visitor label supplied at placement time and may be empty.
func Announcement(caller string) string {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return "Hello, a visitor on the website has requested a call. Connecting you now."
	}
	return "Hello, " + caller + " has requested a call from the website. Connecting you now."
}

// RenderAnnouncement renders the instruction document the carrier fetches
// when the operator answers.
func RenderAnnouncement(caller string) (string, error) {
	r := twimlResponse{Verbs: []any{
		twimlSay{Voice: announceVoice, Text: Announcement(caller)},
		twimlPause{Length: 1},
	}}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := enc.Encode(r); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

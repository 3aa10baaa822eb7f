package telephony

import (
	"bytes"
	"encoding/xml"
	"errors"
	"strings"
)

// TwiML is a minimal Twilio Markup Language response builder.
// Only the verbs the bridge needs are modelled.

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type twimlSay struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type twimlHangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type twimlDial struct {
	XMLName xml.Name  `xml:"Dial"`
	Sip     *twimlSip `xml:"Sip,omitempty"`
}

type twimlSip struct {
	URI string `xml:",chardata"`
}

// BridgeSIPURI is the SIP address of a conversation room on the bridge domain.
func BridgeSIPURI(roomName, domain string) string {
	return "sip:" + roomName + "@" + domain
}

// RenderBridgeTwiML greets the callee (when greeting is set) and dials the room over SIP.
func RenderBridgeTwiML(roomName, domain, greeting string) (string, error) {
	roomName = strings.TrimSpace(roomName)
	domain = strings.TrimSpace(domain)
	if roomName == "" {
		return "", errors.New("telephony: room name required for bridge")
	}
	if domain == "" {
		return "", errors.New("telephony: bridge SIP domain not configured")
	}

	var r twimlResponse
	if g := strings.TrimSpace(greeting); g != "" {
		r.Verbs = append(r.Verbs, twimlSay{Text: g})
	}
	r.Verbs = append(r.Verbs, twimlDial{Sip: &twimlSip{URI: BridgeSIPURI(roomName, domain)}})
	return encodeTwiML(r)
}

// RenderHangupTwiML ends the call, used when a webhook arrives for a room we cannot bridge.
// A non-empty message is spoken first.
func RenderHangupTwiML(message string) (string, error) {
	var r twimlResponse
	if m := strings.TrimSpace(message); m != "" {
		r.Verbs = append(r.Verbs, twimlSay{Text: m})
	}
	r.Verbs = append(r.Verbs, twimlHangup{})
	return encodeTwiML(r)
}

func encodeTwiML(r twimlResponse) (string, error) {
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

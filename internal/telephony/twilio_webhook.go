package telephony

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/twilio/twilio-go/client"
)

// Twilio sends application/x-www-form-urlencoded webhooks.
// Ref: https://www.twilio.com/docs/voice/api/call-resource#statuscallback
//
// Only the fields we act on are parsed; the bridge decision is made by the gateway.

type TwilioStatusForm struct {
	CallSid        string
	CallStatus     string
	CallDuration   int
	SequenceNumber string
	Timestamp      string
}

type TwilioRecordingForm struct {
	CallSid           string
	RecordingSid      string
	RecordingURL      string
	RecordingStatus   string
	RecordingDuration int
}

func ParseTwilioStatus(r *http.Request) (TwilioStatusForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioStatusForm{}, err
	}
	return TwilioStatusForm{
		CallSid:        strings.TrimSpace(r.PostFormValue("CallSid")),
		CallStatus:     strings.TrimSpace(r.PostFormValue("CallStatus")),
		CallDuration:   atoiOrZero(r.PostFormValue("CallDuration")),
		SequenceNumber: r.PostFormValue("SequenceNumber"),
		Timestamp:      r.PostFormValue("Timestamp"),
	}, nil
}

func ParseTwilioRecording(r *http.Request) (TwilioRecordingForm, error) {
	if err := r.ParseForm(); err != nil {
		return TwilioRecordingForm{}, err
	}
	return TwilioRecordingForm{
		CallSid:           strings.TrimSpace(r.PostFormValue("CallSid")),
		RecordingSid:      r.PostFormValue("RecordingSid"),
		RecordingURL:      strings.TrimSpace(r.PostFormValue("RecordingUrl")),
		RecordingStatus:   r.PostFormValue("RecordingStatus"),
		RecordingDuration: atoiOrZero(r.PostFormValue("RecordingDuration")),
	}, nil
}

func atoiOrZero(s string) int {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0
	}
	return n
}

// SignatureValidator checks X-Twilio-Signature against the public webhook URL.
type SignatureValidator struct {
	validator     client.RequestValidator
	publicBaseURL string
}

func NewSignatureValidator(authToken, publicBaseURL string) *SignatureValidator {
	return &SignatureValidator{
		validator:     client.NewRequestValidator(authToken),
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}
}

// Valid reports whether r carries a correct signature. r's form must be parsable.
func (v *SignatureValidator) Valid(r *http.Request) bool {
	sig := r.Header.Get("X-Twilio-Signature")
	if sig == "" {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	params := make(map[string]string, len(r.PostForm))
	for k, vals := range r.PostForm {
		if len(vals) > 0 {
			params[k] = vals[0]
		}
	}
	return v.validator.Validate(v.publicBaseURL+r.URL.RequestURI(), params, sig)
}

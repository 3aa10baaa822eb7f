package telephony

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

type fakeNotes struct {
	recordings map[string]string
	notes      map[string][]string
}

func newFakeNotes() *fakeNotes {
	return &fakeNotes{recordings: map[string]string{}, notes: map[string][]string{}}
}

func (f *fakeNotes) SetRecordingURL(ctx context.Context, ref, url string, now time.Time) error {
	f.recordings[ref] = url
	return nil
}

func (f *fakeNotes) AppendNoteByReference(ctx context.Context, ref, note string, now time.Time) error {
	f.notes[ref] = append(f.notes[ref], note)
	return nil
}

func newWebhookRouter(h WebhookHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	wh := r.Group("/webhooks/twilio", h.VerifySignature())
	wh.POST("/voice", h.HandleVoice)
	wh.POST("/status", h.HandleStatus)
	wh.POST("/recording", h.HandleRecording)
	return r
}

func postForm(r http.Handler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandleVoice_RendersBridge(t *testing.T) {
	r := newWebhookRouter(WebhookHandler{Gateway: testTwilio(&fakeCalls{}, nil)})

	w := postForm(r, "/webhooks/twilio/voice?room_name=onboarding-1-2", "CallSid=CA123")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if !strings.Contains(w.Body.String(), "sip:onboarding-1-2@bridge.example.com") {
		t.Fatalf("unexpected body %s", w.Body.String())
	}

	w = postForm(r, "/webhooks/twilio/voice", "CallSid=CA123")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without room_name, got %d", w.Code)
	}
}

func TestHandleVoice_UnbridgeableCallHangsUp(t *testing.T) {
	g := testTwilio(&fakeCalls{}, nil)
	g.settings.BridgeDomain = ""
	for name, h := range map[string]WebhookHandler{
		"no bridge domain": {Gateway: g},
		"no gateway":       {},
	} {
		r := newWebhookRouter(h)
		w := postForm(r, "/webhooks/twilio/voice?room_name=onboarding-1-2", "CallSid=CA123")
		if w.Code != http.StatusOK {
			t.Fatalf("%s: expected 200, got %d: %s", name, w.Code, w.Body.String())
		}
		if ct := w.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
			t.Fatalf("%s: unexpected content type %q", name, ct)
		}
		body := w.Body.String()
		if !strings.Contains(body, "<Say>") || !strings.Contains(body, "<Hangup>") || strings.Contains(body, "<Dial>") {
			t.Fatalf("%s: expected apology and hangup, got %s", name, body)
		}
	}
}

func TestHandleStatusAndRecording(t *testing.T) {
	notes := newFakeNotes()
	r := newWebhookRouter(WebhookHandler{Gateway: testTwilio(&fakeCalls{}, nil), Sessions: notes})

	w := postForm(r, "/webhooks/twilio/status?room_name=r", "CallSid=CA123&CallStatus=completed&CallDuration=42")
	if w.Code != http.StatusOK || w.Body.Len() != 0 {
		t.Fatalf("expected bare 200, got %d %q", w.Code, w.Body.String())
	}
	if got := notes.notes["CA123"]; len(got) != 1 || got[0] != "carrier status: completed (42s)" {
		t.Fatalf("unexpected notes %v", got)
	}

	w = postForm(r, "/webhooks/twilio/recording", "CallSid=CA123&RecordingUrl=https%3A%2F%2Fapi.twilio.com%2Frec%2FRE1&RecordingStatus=completed")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if notes.recordings["CA123"] != "https://api.twilio.com/rec/RE1" {
		t.Fatalf("unexpected recording %v", notes.recordings)
	}
}

func TestVerifySignature_RejectsUnsigned(t *testing.T) {
	h := WebhookHandler{
		Gateway:    testTwilio(&fakeCalls{}, nil),
		Signatures: NewSignatureValidator("secret-token", "https://dialer.example.com"),
	}
	r := newWebhookRouter(h)

	w := postForm(r, "/webhooks/twilio/status", "CallSid=CA123&CallStatus=ringing")
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 without signature, got %d", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader("CallSid=CA123"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Twilio-Signature", "bogus")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected 403 with bad signature, got %d", w.Code)
	}
}

func TestParseTwilioStatus(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/twilio/status", strings.NewReader("CallSid=+CA9+&CallStatus=busy&CallDuration=x"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	form, err := ParseTwilioStatus(req)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if form.CallSid != "CA9" || form.CallStatus != "busy" || form.CallDuration != 0 {
		t.Fatalf("unexpected form %+v", form)
	}
}

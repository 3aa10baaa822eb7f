package telephony

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"calling-agent/internal/calls"
	"calling-agent/pkg/logger"

	"github.com/gin-gonic/gin"
)

// SessionNotes is the part of the session store the carrier callbacks write to.
type SessionNotes interface {
	SetRecordingURL(ctx context.Context, ref, url string, now time.Time) error
	AppendNoteByReference(ctx context.Context, ref, note string, now time.Time) error
}

// WebhookHandler serves the carrier callbacks.
//
// No business logic here: parse, delegate, respond.
type WebhookHandler struct {
	Gateway  Gateway
	Sessions SessionNotes
	// Signatures, when set, rejects requests without a valid carrier signature.
	Signatures *SignatureValidator

	Now func() time.Time
}

func (h WebhookHandler) now() time.Time {
	if h.Now == nil {
		return time.Now().UTC()
	}
	return h.Now().UTC()
}

// VerifySignature is gin middleware enforcing h.Signatures.
func (h WebhookHandler) VerifySignature() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.Signatures == nil {
			c.Next()
			return
		}
		if !h.Signatures.Valid(c.Request) {
			logger.FromGin(c).Warn("twilio signature rejected", "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "invalid signature"})
			return
		}
		c.Next()
	}
}

const bridgeApology = "Sorry, we are unable to connect your call right now. Goodbye."

// HandleVoice returns the bridge document for ?room_name=. When the call cannot be
// bridged it still answers 200 with a document that apologises and hangs up.
func (h WebhookHandler) HandleVoice(c *gin.Context) {
	log := logger.FromGin(c)
	if h.Gateway == nil {
		log.Error("voice webhook without telephony gateway")
		h.hangup(c)
		return
	}
	room := c.Query("room_name")
	if room == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "room_name is required"})
		return
	}

	doc, err := h.Gateway.RenderBridgeResponse(room)
	if err != nil {
		log.Error("bridge render failed", "room", room, "err", err)
		h.hangup(c)
		return
	}
	if doc == "" {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "provider does not use a bridge document"})
		return
	}
	log.Info("bridging call", "room", room, "call_reference", c.PostForm("CallSid"))
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, doc)
}

func (h WebhookHandler) hangup(c *gin.Context) {
	doc, err := RenderHangupTwiML(bridgeApology)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "bridge failed"})
		return
	}
	c.Header("Content-Type", "application/xml")
	c.String(http.StatusOK, doc)
}

// HandleStatus records carrier progress on the session. Always answers 200 so the carrier does not retry.
func (h WebhookHandler) HandleStatus(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := ParseTwilioStatus(c.Request)
	if err != nil {
		log.Warn("twilio status parse failed", "err", err)
		c.Status(http.StatusOK)
		return
	}
	log.Info("carrier status", "call_reference", form.CallSid, "status", form.CallStatus, "room", c.Query("room_name"))
	if h.Sessions != nil && form.CallSid != "" && form.CallStatus != "" {
		note := fmt.Sprintf("carrier status: %s", form.CallStatus)
		if form.CallDuration > 0 {
			note = fmt.Sprintf("%s (%ds)", note, form.CallDuration)
		}
		if err := h.Sessions.AppendNoteByReference(c.Request.Context(), form.CallSid, note, h.now()); err != nil && !errors.Is(err, calls.ErrNotFound) {
			log.Warn("status note not stored", "call_reference", form.CallSid, "err", err)
		}
	}
	c.Status(http.StatusOK)
}

// HandleRecording stores the recording URL on the session.
func (h WebhookHandler) HandleRecording(c *gin.Context) {
	log := logger.FromGin(c)
	form, err := ParseTwilioRecording(c.Request)
	if err != nil {
		log.Warn("twilio recording parse failed", "err", err)
		c.Status(http.StatusOK)
		return
	}
	if h.Sessions != nil && form.CallSid != "" && form.RecordingURL != "" {
		if err := h.Sessions.SetRecordingURL(c.Request.Context(), form.CallSid, form.RecordingURL, h.now()); err != nil {
			log.Warn("recording url not stored", "call_reference", form.CallSid, "err", err)
		}
	}
	c.Status(http.StatusOK)
}

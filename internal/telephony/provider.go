package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"calling-agent/internal/config"
)

// Gateway places and controls outbound calls.
//
// Rules:
// - No provider SDK calls outside telephony adapters.
// - CallReference is the carrier's identifier; callers store it but never key on it.
type Gateway interface {
	Name() string

	// Originate dials req.PhoneNumber and bridges the answered call into req.RoomName.
	Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error)

	// PollStatus returns the carrier's current status string. Best effort.
	PollStatus(ctx context.Context, callReference string) (string, error)

	// Terminate hangs up. It reports whether the carrier accepted the request.
	Terminate(ctx context.Context, callReference string) bool

	// RenderBridgeResponse returns the document the carrier fetches once the callee answers.
	// It is pure and may return "" when the provider needs no such document.
	RenderBridgeResponse(roomName string) (string, error)
}

type OriginateRequest struct {
	PhoneNumber string `json:"phone_number"`
	RoomName    string `json:"room_name"`
	DisplayName string `json:"display_name,omitempty"`
}

type OriginateResult struct {
	CallReference string `json:"call_reference"`
}

var (
	// ErrGatewayUnavailable means the provider is not configured (credentials absent).
	ErrGatewayUnavailable = errors.New("telephony: gateway unavailable")
	// ErrDialFailed wraps the carrier's rejection message.
	ErrDialFailed = errors.New("telephony: dial failed")
)

const (
	ProviderTwilio     = "twilio"
	ProviderLiveKitSIP = "livekit_sip"
)

// NewGateway selects the provider named by cfg.Telephony.Provider.
func NewGateway(cfg config.Config, log *slog.Logger) (Gateway, error) {
	if log == nil {
		log = slog.Default()
	}
	var rooms *RoomProvisioner
	if cfg.LiveKitEnabled() {
		rooms = NewRoomProvisioner(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret)
	}

	switch cfg.Telephony.Provider {
	case ProviderTwilio, "":
		return NewTwilioGateway(TwilioSettings{
			AccountSID:    cfg.Twilio.AccountSID,
			AuthToken:     cfg.Twilio.AuthToken,
			FromNumber:    cfg.Twilio.PhoneNumber,
			PublicBaseURL: cfg.App.PublicBaseURL,
			BridgeDomain:  cfg.Twilio.BridgeSIPDomain,
			Greeting:      cfg.Twilio.Greeting,
		}, rooms, log), nil
	case ProviderLiveKitSIP:
		return NewLiveKitSIPGateway(cfg.LiveKit.URL, cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.SIPTrunkID, rooms, log), nil
	default:
		return nil, fmt.Errorf("telephony: unknown provider %q", cfg.Telephony.Provider)
	}
}

package telephony

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/twilio/twilio-go"
	openapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// callsAPI is the subset of the Twilio REST API the gateway uses.
type callsAPI interface {
	CreateCall(params *openapi.CreateCallParams) (*openapi.ApiV2010Call, error)
	FetchCall(sid string, params *openapi.FetchCallParams) (*openapi.ApiV2010Call, error)
	UpdateCall(sid string, params *openapi.UpdateCallParams) (*openapi.ApiV2010Call, error)
}

type TwilioSettings struct {
	AccountSID    string
	AuthToken     string
	FromNumber    string
	PublicBaseURL string
	BridgeDomain  string
	Greeting      string
}

func (s TwilioSettings) configured() bool {
	return s.AccountSID != "" && s.AuthToken != "" && s.FromNumber != "" && s.PublicBaseURL != ""
}

// TwilioGateway dials over Twilio Programmable Voice. Twilio fetches the bridge
// TwiML from our voice webhook once the callee answers.
type TwilioGateway struct {
	settings TwilioSettings
	api      callsAPI
	rooms    *RoomProvisioner
	log      *slog.Logger
}

// NewTwilioGateway builds the gateway. rooms may be nil when LiveKit is not configured;
// the bridge domain is then expected to create rooms on first join.
func NewTwilioGateway(s TwilioSettings, rooms *RoomProvisioner, log *slog.Logger) *TwilioGateway {
	g := &TwilioGateway{settings: s, rooms: rooms, log: log.With("component", "telephony", "provider", ProviderTwilio)}
	if s.configured() {
		client := twilio.NewRestClientWithParams(twilio.ClientParams{
			Username: s.AccountSID,
			Password: s.AuthToken,
		})
		g.api = client.Api
	}
	return g
}

func (g *TwilioGateway) Name() string { return ProviderTwilio }

func (g *TwilioGateway) Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error) {
	if g.api == nil {
		return OriginateResult{}, fmt.Errorf("%w: twilio credentials, from number or public base url missing", ErrGatewayUnavailable)
	}
	// Without a bridge domain the voice webhook cannot connect the answered call.
	if g.settings.BridgeDomain == "" {
		return OriginateResult{}, fmt.Errorf("%w: twilio bridge sip domain missing", ErrGatewayUnavailable)
	}
	if req.PhoneNumber == "" || req.RoomName == "" {
		return OriginateResult{}, fmt.Errorf("%w: phone number and room name are required", ErrDialFailed)
	}
	if g.rooms != nil {
		if err := g.rooms.Provision(ctx, req.RoomName, req.DisplayName); err != nil {
			return OriginateResult{}, fmt.Errorf("%w: provision room: %v", ErrDialFailed, err)
		}
	}

	params := &openapi.CreateCallParams{}
	params.SetTo(req.PhoneNumber)
	params.SetFrom(g.settings.FromNumber)
	params.SetUrl(g.webhookURL("/webhooks/twilio/voice", req.RoomName))
	params.SetMethod("POST")
	params.SetStatusCallback(g.webhookURL("/webhooks/twilio/status", req.RoomName))
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	params.SetRecord(true)
	params.SetRecordingStatusCallback(g.webhookURL("/webhooks/twilio/recording", req.RoomName))
	params.SetRecordingStatusCallbackMethod("POST")

	call, err := g.api.CreateCall(params)
	if err != nil {
		g.cleanupRoom(req.RoomName)
		return OriginateResult{}, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}
	if call == nil || call.Sid == nil || *call.Sid == "" {
		g.cleanupRoom(req.RoomName)
		return OriginateResult{}, fmt.Errorf("%w: twilio returned no call sid", ErrDialFailed)
	}
	g.log.Info("call originated", "room", req.RoomName, "call_reference", *call.Sid)
	return OriginateResult{CallReference: *call.Sid}, nil
}

func (g *TwilioGateway) cleanupRoom(room string) {
	if g.rooms == nil {
		return
	}
	if err := g.rooms.Delete(context.Background(), room); err != nil {
		g.log.Debug("room cleanup failed", "room", room, "err", err)
	}
}

func (g *TwilioGateway) PollStatus(ctx context.Context, callReference string) (string, error) {
	if g.api == nil {
		return "", ErrGatewayUnavailable
	}
	call, err := g.api.FetchCall(callReference, &openapi.FetchCallParams{})
	if err != nil {
		return "", err
	}
	if call == nil || call.Status == nil {
		return "unknown", nil
	}
	return *call.Status, nil
}

func (g *TwilioGateway) Terminate(ctx context.Context, callReference string) bool {
	if g.api == nil || callReference == "" {
		return false
	}
	params := &openapi.UpdateCallParams{}
	params.SetStatus("completed")
	if _, err := g.api.UpdateCall(callReference, params); err != nil {
		g.log.Warn("terminate failed", "call_reference", callReference, "err", err)
		return false
	}
	return true
}

func (g *TwilioGateway) RenderBridgeResponse(roomName string) (string, error) {
	return RenderBridgeTwiML(roomName, g.settings.BridgeDomain, g.settings.Greeting)
}

func (g *TwilioGateway) webhookURL(path, room string) string {
	base := strings.TrimRight(g.settings.PublicBaseURL, "/")
	return base + path + "?room_name=" + url.QueryEscape(room)
}

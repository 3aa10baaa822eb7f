package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/twitchtv/twirp"
)

const (
	roomEmptyTimeoutSeconds = 300
	roomMaxParticipants     = 2
)

type roomAPI interface {
	CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error)
	DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) error
	GetParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.ParticipantInfo, error)
	RemoveParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) error
}

type sipAPI interface {
	CreateSIPParticipant(ctx context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error)
}

// lkRooms adapts the SDK room client to roomAPI.
type lkRooms struct{ c *lksdk.RoomServiceClient }

func (a lkRooms) CreateRoom(ctx context.Context, req *livekit.CreateRoomRequest) (*livekit.Room, error) {
	return a.c.CreateRoom(ctx, req)
}

func (a lkRooms) DeleteRoom(ctx context.Context, req *livekit.DeleteRoomRequest) error {
	_, err := a.c.DeleteRoom(ctx, req)
	return err
}

func (a lkRooms) GetParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) (*livekit.ParticipantInfo, error) {
	return a.c.GetParticipant(ctx, req)
}

func (a lkRooms) RemoveParticipant(ctx context.Context, req *livekit.RoomParticipantIdentity) error {
	_, err := a.c.RemoveParticipant(ctx, req)
	return err
}

type lkSIP struct{ c *lksdk.SIPClient }

func (a lkSIP) CreateSIPParticipant(ctx context.Context, req *livekit.CreateSIPParticipantRequest) (*livekit.SIPParticipantInfo, error) {
	return a.c.CreateSIPParticipant(ctx, req)
}

// RoomProvisioner creates the conversation room before the call is placed.
type RoomProvisioner struct {
	api roomAPI
}

func NewRoomProvisioner(url, apiKey, apiSecret string) *RoomProvisioner {
	return &RoomProvisioner{api: lkRooms{c: lksdk.NewRoomServiceClient(url, apiKey, apiSecret)}}
}

// Provision creates room, closing itself after five idle minutes, for the agent and one callee.
func (p *RoomProvisioner) Provision(ctx context.Context, room, metadata string) error {
	_, err := p.api.CreateRoom(ctx, &livekit.CreateRoomRequest{
		Name:            room,
		EmptyTimeout:    roomEmptyTimeoutSeconds,
		MaxParticipants: roomMaxParticipants,
		Metadata:        metadata,
	})
	return err
}

func (p *RoomProvisioner) Delete(ctx context.Context, room string) error {
	return p.api.DeleteRoom(ctx, &livekit.DeleteRoomRequest{Room: room})
}

// LiveKitSIPGateway dials through a LiveKit outbound SIP trunk. The callee joins the
// room directly, so no bridge document is needed.
type LiveKitSIPGateway struct {
	trunkID string
	sip     sipAPI
	rooms   *RoomProvisioner
	log     *slog.Logger

	mu    sync.Mutex
	calls map[string]sipTarget // call reference -> room participant
}

type sipTarget struct {
	room     string
	identity string
}

func NewLiveKitSIPGateway(url, apiKey, apiSecret, trunkID string, rooms *RoomProvisioner, log *slog.Logger) *LiveKitSIPGateway {
	g := &LiveKitSIPGateway{
		trunkID: trunkID,
		rooms:   rooms,
		log:     log.With("component", "telephony", "provider", ProviderLiveKitSIP),
		calls:   map[string]sipTarget{},
	}
	if url != "" && apiKey != "" && apiSecret != "" {
		g.sip = lkSIP{c: lksdk.NewSIPClient(url, apiKey, apiSecret)}
	}
	return g
}

func (g *LiveKitSIPGateway) Name() string { return ProviderLiveKitSIP }

// SIPIdentity is the participant identity the callee gets in the room.
func SIPIdentity(phone string) string {
	return "sip_" + strings.TrimSpace(phone)
}

func (g *LiveKitSIPGateway) Originate(ctx context.Context, req OriginateRequest) (OriginateResult, error) {
	if g.sip == nil || g.trunkID == "" || g.rooms == nil {
		return OriginateResult{}, fmt.Errorf("%w: livekit credentials or sip trunk missing", ErrGatewayUnavailable)
	}
	if req.PhoneNumber == "" || req.RoomName == "" {
		return OriginateResult{}, fmt.Errorf("%w: phone number and room name are required", ErrDialFailed)
	}
	if err := g.rooms.Provision(ctx, req.RoomName, req.DisplayName); err != nil {
		return OriginateResult{}, fmt.Errorf("%w: provision room: %v", ErrDialFailed, err)
	}

	identity := SIPIdentity(req.PhoneNumber)
	info, err := g.sip.CreateSIPParticipant(ctx, &livekit.CreateSIPParticipantRequest{
		SipTrunkId:          g.trunkID,
		SipCallTo:           req.PhoneNumber,
		RoomName:            req.RoomName,
		ParticipantIdentity: identity,
		ParticipantName:     req.DisplayName,
	})
	if err != nil {
		if derr := g.rooms.Delete(context.Background(), req.RoomName); derr != nil {
			g.log.Debug("room cleanup failed", "room", req.RoomName, "err", derr)
		}
		return OriginateResult{}, fmt.Errorf("%w: %v", ErrDialFailed, err)
	}

	ref := info.GetSipCallId()
	if ref == "" {
		ref = req.RoomName + "/" + identity
	}
	g.mu.Lock()
	g.calls[ref] = sipTarget{room: req.RoomName, identity: identity}
	g.mu.Unlock()

	g.log.Info("call originated", "room", req.RoomName, "call_reference", ref)
	return OriginateResult{CallReference: ref}, nil
}

func (g *LiveKitSIPGateway) target(ref string) (sipTarget, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	t, ok := g.calls[ref]
	return t, ok
}

// PollStatus reports the SIP call status attribute, or the participant state when absent.
// A participant that has left reports "completed". Terminal calls are forgotten.
func (g *LiveKitSIPGateway) PollStatus(ctx context.Context, callReference string) (string, error) {
	if g.rooms == nil {
		return "", ErrGatewayUnavailable
	}
	t, ok := g.target(callReference)
	if !ok {
		return "", errors.New("telephony: unknown call reference")
	}
	p, err := g.rooms.api.GetParticipant(ctx, &livekit.RoomParticipantIdentity{Room: t.room, Identity: t.identity})
	if err != nil {
		var terr twirp.Error
		if errors.As(err, &terr) && terr.Code() == twirp.NotFound {
			g.forget(callReference)
			return "completed", nil
		}
		return "", fmt.Errorf("telephony: poll participant: %w", err)
	}
	status := p.GetAttributes()["sip.callStatus"]
	if status == "" {
		status = strings.ToLower(p.GetState().String())
	}
	switch status {
	case "hangup", "completed", "disconnected":
		g.forget(callReference)
	}
	return status, nil
}

func (g *LiveKitSIPGateway) forget(ref string) {
	g.mu.Lock()
	delete(g.calls, ref)
	g.mu.Unlock()
}

func (g *LiveKitSIPGateway) Terminate(ctx context.Context, callReference string) bool {
	if g.rooms == nil {
		return false
	}
	t, ok := g.target(callReference)
	if !ok {
		return false
	}
	err := g.rooms.api.RemoveParticipant(ctx, &livekit.RoomParticipantIdentity{Room: t.room, Identity: t.identity})
	if err != nil {
		g.log.Warn("terminate failed", "call_reference", callReference, "err", err)
		return false
	}
	g.forget(callReference)
	return true
}

func (g *LiveKitSIPGateway) RenderBridgeResponse(roomName string) (string, error) {
	return "", nil
}

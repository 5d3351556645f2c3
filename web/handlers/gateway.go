// Package handlers wires the WebSocket event protocol and the REST surface
// onto the room registry, match engine and store.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Cardanoian/discussion-server/internal/battle"
	"github.com/Cardanoian/discussion-server/internal/core"
	"github.com/Cardanoian/discussion-server/internal/room"
	"github.com/Cardanoian/discussion-server/internal/storage"
	"github.com/Cardanoian/discussion-server/internal/ws"
)

// Gateway routes client events to the domain services and fans engine events
// back out. It implements battle.Emitter.
type Gateway struct {
	hub      *ws.Hub
	sessions *room.Sessions
	deduper  *room.Deduper
	registry *room.Registry
	engine   *battle.Engine
	store    storage.Storage
}

// NewGateway creates the gateway shell. The hub, registry and engine are
// attached by the composition root because they need the gateway as their
// emitter.
func NewGateway(store storage.Storage, sessions *room.Sessions, deduper *room.Deduper) *Gateway {
	return &Gateway{
		store:    store,
		sessions: sessions,
		deduper:  deduper,
	}
}

// Attach finishes the two-phase construction.
func (gw *Gateway) Attach(hub *ws.Hub, registry *room.Registry, engine *battle.Engine) {
	gw.hub = hub
	gw.registry = registry
	gw.engine = engine
}

// Broadcast implements battle.Emitter.
func (gw *Gateway) Broadcast(roomID, event string, payload any) {
	if event == battle.EventBattleResult {
		gw.registry.MarkCompleted(roomID)
	}
	gw.hub.Broadcast(roomID, event, payload)
}

// SendToUser implements battle.Emitter: targeted delivery to every
// connection the user holds.
func (gw *Gateway) SendToUser(roomID, userID, event string, payload any) {
	conns := gw.sessions.ConnsOf(userID)
	if len(conns) == 0 {
		slog.Debug("targeted event for offline user dropped", "room_id", roomID, "user_id", userID, "event", event)
		return
	}
	for _, connID := range conns {
		gw.hub.Send(connID, event, payload)
	}
}

// errorPayload is the error half of a request callback.
type errorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

func kindOf(err error) string {
	switch {
	case errors.Is(err, core.ErrNotFound) || storage.IsNotFound(err):
		return "not_found"
	case errors.Is(err, core.ErrForbidden):
		return "forbidden"
	case errors.Is(err, core.ErrConflict):
		return "conflict"
	case errors.Is(err, core.ErrBadRequest):
		return "bad_request"
	default:
		return "internal"
	}
}

func (gw *Gateway) replyError(c *ws.Client, env ws.Envelope, err error) {
	gw.hub.SendReply(c.ID, "error", map[string]any{
		"op":    env.Event,
		"error": errorPayload{Kind: kindOf(err), Message: err.Error()},
	}, env.ID)
}

func (gw *Gateway) reply(c *ws.Client, env ws.Envelope, payload any) {
	gw.hub.SendReply(c.ID, env.Event, payload, env.ID)
}

// Event payloads. One request shape per protocol entry; unknown events are
// rejected with bad_request.
type userReq struct {
	UserID string `json:"userId"`
}

type createRoomReq struct {
	UserID    string `json:"userId"`
	SubjectID string `json:"subjectId"`
}

type roomUserReq struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type selectRoleReq struct {
	RoomID string    `json:"roomId"`
	UserID string    `json:"userId"`
	Role   core.Role `json:"role"`
}

type selectPositionReq struct {
	RoomID   string         `json:"roomId"`
	UserID   string         `json:"userId"`
	Position *core.Position `json:"position"`
}

type sendMessageReq struct {
	RoomID  string `json:"roomId"`
	UserID  string `json:"userId"`
	Message string `json:"message"`
}

type timeOverflowReq struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Type   string `json:"type"`
}

type roomReq struct {
	RoomID string `json:"roomId"`
}

type refereePointsReq struct {
	RoomID       string `json:"roomId"`
	TargetUserID string `json:"targetUserId"`
	Points       int    `json:"points"`
	RefereeID    string `json:"refereeId"`
}

type refereeTimeReq struct {
	RoomID       string `json:"roomId"`
	TargetUserID string `json:"targetUserId"`
	Seconds      int64  `json:"seconds"`
	RefereeID    string `json:"refereeId"`
}

type refereeScoresReq struct {
	RoomID    string               `json:"roomId"`
	Scores    battle.RefereeScores `json:"scores"`
	RefereeID string               `json:"refereeId"`
}

// guarded wraps a mutating handler with the request deduper so duplicated
// client events cannot double-apply.
func (gw *Gateway) guarded(c *ws.Client, env ws.Envelope, fn func()) {
	if !gw.deduper.Begin(c.ID, env.Event) {
		gw.replyError(c, env, fmt.Errorf("operation already in flight: %w", core.ErrConflict))
		return
	}
	defer gw.deduper.End(c.ID, env.Event)
	fn()
}

func decode[T any](env ws.Envelope) (T, error) {
	var req T
	if len(env.Data) == 0 {
		return req, nil
	}
	if err := json.Unmarshal(env.Data, &req); err != nil {
		return req, errors.Join(core.ErrBadRequest, err)
	}
	return req, nil
}

// HandleConnect registers a fresh connection on the lobby channel.
func (gw *Gateway) HandleConnect(c *ws.Client) {
	gw.hub.JoinRoomChannel(c.ID, room.LobbyChannel)
	gw.hub.Send(c.ID, battle.EventRoomsUpdate, gw.registry.RoomViews())
}

// HandleDisconnect cleans a vanished connection up. Seats stay for reconnect.
func (gw *Gateway) HandleDisconnect(c *ws.Client) {
	gw.sessions.Drop(c.ID)
	gw.deduper.Cleanup(c.ID)
}

// HandleEvent is the single dispatch point for inbound frames.
func (gw *Gateway) HandleEvent(c *ws.Client, env ws.Envelope) {
	switch env.Event {
	case "get_subjects":
		gw.reply(c, env, map[string]any{"subjects": gw.registry.Subjects()})

	case "get_rooms":
		gw.reply(c, env, map[string]any{"rooms": gw.registry.RoomViews()})

	case "get_my_room":
		req, err := decode[userReq](env)
		if err != nil {
			gw.replyError(c, env, err)
			return
		}
		gw.bind(c, req.UserID)
		if view, ok := gw.registry.RoomViewOfUser(req.UserID); ok {
			gw.reply(c, env, map[string]any{"room": view})
		} else {
			gw.reply(c, env, map[string]any{"room": nil})
		}

	case "get_user_profile":
		req, err := decode[userReq](env)
		if err != nil || req.UserID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.bind(c, req.UserID)
		profile, err := gw.store.GetProfile(req.UserID)
		if err != nil {
			gw.replyError(c, env, err)
			return
		}
		gw.reply(c, env, map[string]any{"profile": profile})

	case "create_room":
		req, err := decode[createRoomReq](env)
		if err != nil || req.UserID == "" || req.SubjectID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.bind(c, req.UserID)
		gw.guarded(c, env, func() {
			view, err := gw.registry.CreateRoom(c.ID, req.UserID, req.SubjectID)
			if err != nil {
				gw.replyError(c, env, err)
				return
			}
			gw.hub.JoinRoomChannel(c.ID, view.RoomID)
			gw.reply(c, env, map[string]any{"room": view})
		})

	case "join_room":
		req, err := decode[roomUserReq](env)
		if err != nil || req.UserID == "" || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.bind(c, req.UserID)
		gw.guarded(c, env, func() {
			view, err := gw.registry.JoinRoom(req.RoomID, c.ID, req.UserID)
			if err != nil {
				gw.replyError(c, env, err)
				return
			}
			gw.hub.JoinRoomChannel(c.ID, view.RoomID)
			gw.reply(c, env, map[string]any{"room": view})
		})

	case "leave_room":
		req, err := decode[roomUserReq](env)
		if err != nil || req.UserID == "" || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		if err := gw.registry.LeaveRoom(req.RoomID, req.UserID); err != nil {
			gw.replyError(c, env, err)
			return
		}
		gw.hub.LeaveRoomChannel(c.ID, req.RoomID)

	case "select_role":
		req, err := decode[selectRoleReq](env)
		if err != nil || req.UserID == "" || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.guarded(c, env, func() {
			if _, err := gw.registry.SelectRole(req.RoomID, req.UserID, req.Role); err != nil {
				gw.replyError(c, env, err)
			}
		})

	case "select_position":
		req, err := decode[selectPositionReq](env)
		if err != nil || req.UserID == "" || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		pos := core.PositionUnset
		if req.Position != nil {
			pos = *req.Position
		}
		gw.guarded(c, env, func() {
			if _, err := gw.registry.SelectPosition(req.RoomID, req.UserID, pos); err != nil {
				gw.replyError(c, env, err)
			}
		})

	case "player_ready":
		req, err := decode[roomUserReq](env)
		if err != nil || req.UserID == "" || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.guarded(c, env, func() {
			if _, err := gw.registry.ToggleReady(req.RoomID, req.UserID); err != nil {
				gw.replyError(c, env, err)
			}
		})

	case "join_discussion_room":
		req, err := decode[roomUserReq](env)
		if err != nil || req.UserID == "" || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.bind(c, req.UserID)
		view, err := gw.registry.RebindConnection(req.RoomID, req.UserID, c.ID)
		if err != nil {
			gw.replyError(c, env, err)
			return
		}
		gw.hub.JoinRoomChannel(c.ID, req.RoomID)
		gw.reply(c, env, map[string]any{"room": view})

	case "discussion_view_ready":
		req, err := decode[roomUserReq](env)
		if err != nil || req.UserID == "" || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		if err := gw.registry.DiscussionViewReady(req.RoomID, req.UserID); err != nil {
			gw.replyError(c, env, err)
		}

	case "send_message":
		req, err := decode[sendMessageReq](env)
		if err != nil || req.UserID == "" || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.engine.HandleMessage(req.RoomID, req.UserID, req.Message)

	case "time_overflow":
		req, err := decode[timeOverflowReq](env)
		if err != nil || req.UserID == "" || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.engine.HandleTimeOverflow(req.RoomID, req.UserID, req.Type)

	case "get_messages":
		req, err := decode[roomReq](env)
		if err != nil || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		snap := gw.engine.SnapshotFor(req.RoomID, "")
		gw.reply(c, env, map[string]any{"messages": snap.Messages})

	case "get_room_state":
		req, err := decode[roomUserReq](env)
		if err != nil || req.UserID == "" || req.RoomID == "" {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.bind(c, req.UserID)
		gw.sendRoomState(c, env, req.RoomID, req.UserID)

	case "referee_add_points":
		req, err := decode[refereePointsReq](env)
		if err != nil {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.guarded(c, env, func() {
			if err := gw.engine.AddPoints(req.RoomID, req.RefereeID, req.TargetUserID, req.Points); err != nil {
				gw.sendRefereeError(c, env, err)
			}
		})

	case "referee_deduct_points":
		req, err := decode[refereePointsReq](env)
		if err != nil {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.guarded(c, env, func() {
			if err := gw.engine.DeductPoints(req.RoomID, req.RefereeID, req.TargetUserID, req.Points); err != nil {
				gw.sendRefereeError(c, env, err)
			}
		})

	case "referee_extend_time":
		req, err := decode[refereeTimeReq](env)
		if err != nil {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.guarded(c, env, func() {
			if err := gw.engine.ExtendTime(req.RoomID, req.RefereeID, req.TargetUserID, req.Seconds); err != nil {
				gw.sendRefereeError(c, env, err)
			}
		})

	case "referee_reduce_time":
		req, err := decode[refereeTimeReq](env)
		if err != nil {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.guarded(c, env, func() {
			if err := gw.engine.ReduceTime(req.RoomID, req.RefereeID, req.TargetUserID, req.Seconds); err != nil {
				gw.sendRefereeError(c, env, err)
			}
		})

	case "referee_submit_scores":
		req, err := decode[refereeScoresReq](env)
		if err != nil {
			gw.replyError(c, env, core.ErrBadRequest)
			return
		}
		gw.guarded(c, env, func() {
			if err := gw.engine.SubmitScores(req.RoomID, req.RefereeID, req.Scores); err != nil {
				gw.sendRefereeError(c, env, err)
			}
		})

	default:
		slog.Debug("unknown event rejected", "conn_id", c.ID, "event", env.Event)
		gw.replyError(c, env, core.ErrBadRequest)
	}
}

// bind maps the connection to the user on the first event naming one.
func (gw *Gateway) bind(c *ws.Client, userID string) {
	gw.sessions.Bind(c.ID, userID)
}

// sendRefereeError surfaces a failed referee action to the requester only.
func (gw *Gateway) sendRefereeError(c *ws.Client, env ws.Envelope, err error) {
	gw.hub.SendReply(c.ID, env.Event+"_error", errorPayload{Kind: kindOf(err), Message: err.Error()}, env.ID)
}

// roomStatePayload is the consolidated resync snapshot.
type roomStatePayload struct {
	battle.Snapshot
	Players []room.ParticipantView `json:"players"`
}

func (gw *Gateway) sendRoomState(c *ws.Client, env ws.Envelope, roomID, userID string) {
	snap := gw.engine.SnapshotFor(roomID, userID)
	payload := roomStatePayload{Snapshot: snap}
	if view, ok := gw.registry.RoomView(roomID); ok {
		payload.Players = view.Participants
	}
	gw.hub.SendReply(c.ID, battle.EventRoomStateUpdated, payload, env.ID)
}

// Package room manages rooms, membership negotiation and the hand-off into a
// running battle.
package room

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Cardanoian/discussion-server/internal/battle"
	"github.com/Cardanoian/discussion-server/internal/core"
	"github.com/Cardanoian/discussion-server/internal/storage"
)

// LobbyChannel is the pseudo-room every connection is subscribed to for
// room-index updates.
const LobbyChannel = "lobby"

// Participant is one user's seat in a room. A user holds at most one seat per
// room; reconnecting rebinds ConnectionID without adding a seat.
type Participant struct {
	ConnectionID        string
	UserID              string
	DisplayName         string
	IsAdmin             bool
	Role                core.Role
	Position            core.Position
	IsReady             bool
	DiscussionViewReady bool
	RatingSnapshot      int
	WinsSnapshot        int
	LossesSnapshot      int
}

// ParticipantView is the wire shape of a seat.
type ParticipantView struct {
	UserID      string        `json:"userId"`
	DisplayName string        `json:"displayName"`
	Role        core.Role     `json:"role"`
	Position    core.Position `json:"position"`
	IsReady     bool          `json:"isReady"`
	Rating      int           `json:"rating"`
	Wins        int           `json:"wins"`
	Losses      int           `json:"losses"`
}

func (p *Participant) view() ParticipantView {
	return ParticipantView{
		UserID:      p.UserID,
		DisplayName: p.DisplayName,
		Role:        p.Role,
		Position:    p.Position,
		IsReady:     p.IsReady,
		Rating:      p.RatingSnapshot,
		Wins:        p.WinsSnapshot,
		Losses:      p.LossesSnapshot,
	}
}

// Room groups participants around one subject.
type Room struct {
	RoomID        string
	Subject       core.Subject
	Participants  []*Participant
	BattleStarted bool
	IsCompleted   bool
	HasReferee    bool

	matchLaunched bool
}

// RoomView is the wire shape of a room, safe to serialise after the registry
// lock is released.
type RoomView struct {
	RoomID        string            `json:"roomId"`
	Subject       core.Subject      `json:"subject"`
	Participants  []ParticipantView `json:"participants"`
	BattleStarted bool              `json:"battleStarted"`
	IsCompleted   bool              `json:"isCompleted"`
	HasReferee    bool              `json:"hasReferee"`
}

// view snapshots the room. Caller holds the registry lock.
func (r *Room) view() RoomView {
	v := RoomView{
		RoomID:        r.RoomID,
		Subject:       r.Subject,
		Participants:  make([]ParticipantView, 0, len(r.Participants)),
		BattleStarted: r.BattleStarted,
		IsCompleted:   r.IsCompleted,
		HasReferee:    r.HasReferee,
	}
	for _, p := range r.Participants {
		v.Participants = append(v.Participants, p.view())
	}
	return v
}

// participant returns the seat of a user, or nil.
func (r *Room) participant(userID string) *Participant {
	for _, p := range r.Participants {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

// players returns the Player seats in join order.
func (r *Room) players() []*Participant {
	var out []*Participant
	for _, p := range r.Participants {
		if p.Role == core.RolePlayer {
			out = append(out, p)
		}
	}
	return out
}

// referee returns the referee seat, or nil.
func (r *Room) referee() *Participant {
	for _, p := range r.Participants {
		if p.Role == core.RoleReferee {
			return p
		}
	}
	return nil
}

func (r *Room) recomputeHasReferee() {
	r.HasReferee = r.referee() != nil
}

// Registry is the process-wide set of rooms. Operations hold its mutex for
// short critical sections only and never across store or judge calls.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room

	store       storage.Storage
	engine      *battle.Engine
	emit        battle.Emitter
	settleDelay time.Duration
}

// NewRegistry creates the room registry.
func NewRegistry(store storage.Storage, engine *battle.Engine, emit battle.Emitter, settleDelay time.Duration) *Registry {
	return &Registry{
		rooms:       make(map[string]*Room),
		store:       store,
		engine:      engine,
		emit:        emit,
		settleDelay: settleDelay,
	}
}

// Subjects returns the live subject list, falling back to the built-in list
// when the store is unreachable.
func (g *Registry) Subjects() []*core.Subject {
	subjects, err := g.store.ListSubjects()
	if err != nil {
		slog.Warn("subject list unavailable, serving builtins", "error", err)
		return storage.BuiltinSubjects()
	}
	if len(subjects) == 0 {
		return storage.BuiltinSubjects()
	}
	return subjects
}

// subjectByID resolves a subject from the store, consulting the built-in list
// on transient failure.
func (g *Registry) subjectByID(id string) (*core.Subject, error) {
	subject, err := g.store.GetSubject(id)
	if err == nil {
		return subject, nil
	}
	if storage.IsTransient(err) {
		for _, s := range storage.BuiltinSubjects() {
			if s.ID == id {
				return s, nil
			}
		}
	}
	return nil, err
}

// RoomViews returns a snapshot of all rooms for the public index.
func (g *Registry) RoomViews() []RoomView {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.roomViewsLocked()
}

func (g *Registry) roomViewsLocked() []RoomView {
	out := make([]RoomView, 0, len(g.rooms))
	for _, r := range g.rooms {
		out = append(out, r.view())
	}
	return out
}

// RoomView returns one room's snapshot.
func (g *Registry) RoomView(roomID string) (RoomView, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	if !ok {
		return RoomView{}, false
	}
	return r.view(), true
}

// RoomViewOfUser finds the room a user currently occupies.
func (g *Registry) RoomViewOfUser(userID string) (RoomView, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, r := range g.rooms {
		if r.participant(userID) != nil {
			return r.view(), true
		}
	}
	return RoomView{}, false
}

// ConnectionOfUser resolves the connection currently bound to a user's seat.
func (g *Registry) ConnectionOfUser(roomID, userID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	r, ok := g.rooms[roomID]
	if !ok {
		return "", false
	}
	p := r.participant(userID)
	if p == nil {
		return "", false
	}
	return p.ConnectionID, true
}

// newParticipant builds a seat from the user's profile.
func (g *Registry) newParticipant(connID, userID string, role core.Role) (*Participant, error) {
	profile, err := g.store.GetProfile(userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	return &Participant{
		ConnectionID:   connID,
		UserID:         userID,
		DisplayName:    profile.DisplayName,
		IsAdmin:        profile.IsAdmin,
		Role:           role,
		Position:       core.PositionUnset,
		RatingSnapshot: profile.Rating,
		WinsSnapshot:   profile.Wins,
		LossesSnapshot: profile.Loses,
	}, nil
}

// CreateRoom builds a room with the creator attached: referee when admin,
// player otherwise.
func (g *Registry) CreateRoom(connID, userID, subjectID string) (RoomView, error) {
	subject, err := g.subjectByID(subjectID)
	if err != nil {
		return RoomView{}, fmt.Errorf("unknown subject %s: %w", subjectID, err)
	}

	creator, err := g.newParticipant(connID, userID, core.RolePlayer)
	if err != nil {
		return RoomView{}, err
	}
	if creator.IsAdmin {
		creator.Role = core.RoleReferee
	}

	r := &Room{
		RoomID:       uuid.NewString(),
		Subject:      *subject,
		Participants: []*Participant{creator},
	}
	r.recomputeHasReferee()

	g.mu.Lock()
	g.rooms[r.RoomID] = r
	view := r.view()
	g.mu.Unlock()

	slog.Info("room created", "room_id", r.RoomID, "user_id", userID, "subject", subject.Title)
	g.broadcastRoomsIndex()
	return view, nil
}

// JoinRoom attaches a user to a room. Joining a started battle is rejected;
// a user already present only has their connection refreshed.
func (g *Registry) JoinRoom(roomID, connID, userID string) (RoomView, error) {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}

	if existing := r.participant(userID); existing != nil {
		existing.ConnectionID = connID
		view := r.view()
		g.mu.Unlock()
		g.broadcastRoomView(view)
		return view, nil
	}

	if r.BattleStarted {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("battle already started in room %s: %w", roomID, core.ErrConflict)
	}
	playerCount := len(r.players())
	g.mu.Unlock()

	// Profile read happens outside the registry lock.
	role := core.RolePlayer
	if playerCount >= 2 {
		role = core.RoleSpectator
	}
	p, err := g.newParticipant(connID, userID, role)
	if err != nil {
		return RoomView{}, err
	}

	g.mu.Lock()
	r, ok = g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	if again := r.participant(userID); again != nil {
		again.ConnectionID = connID
	} else {
		// Player seats may have filled while the lock was released.
		if p.Role == core.RolePlayer && len(r.players()) >= 2 {
			p.Role = core.RoleSpectator
		}
		r.Participants = append(r.Participants, p)
	}
	view := r.view()
	g.mu.Unlock()

	slog.Info("user joined room", "room_id", roomID, "user_id", userID, "role", p.Role)
	g.broadcastRoomView(view)
	g.broadcastRoomsIndex()
	return view, nil
}

// SelectRole changes a participant's role. The referee role requires an admin
// profile and a free referee seat; any role change resets position and
// readiness.
func (g *Registry) SelectRole(roomID, userID string, role core.Role) (RoomView, error) {
	switch role {
	case core.RolePlayer, core.RoleSpectator, core.RoleReferee:
	default:
		return RoomView{}, fmt.Errorf("unknown role %q: %w", role, core.ErrBadRequest)
	}

	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	p := r.participant(userID)
	if p == nil {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("user %s is not in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	if r.BattleStarted {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("cannot change role after battle start: %w", core.ErrConflict)
	}
	if role == core.RoleReferee {
		if !p.IsAdmin {
			g.mu.Unlock()
			return RoomView{}, fmt.Errorf("referee role requires admin: %w", core.ErrForbidden)
		}
		if ref := r.referee(); ref != nil && ref.UserID != userID {
			g.mu.Unlock()
			return RoomView{}, fmt.Errorf("room already has a referee: %w", core.ErrConflict)
		}
	}
	if role == core.RolePlayer && p.Role != core.RolePlayer && len(r.players()) >= 2 {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("both player seats are taken: %w", core.ErrConflict)
	}

	p.Role = role
	p.Position = core.PositionUnset
	p.IsReady = false
	r.recomputeHasReferee()
	view := r.view()
	g.mu.Unlock()

	g.emit.Broadcast(roomID, battle.EventRoleSelected, map[string]any{
		"userId": userID,
		"role":   role,
	})
	g.broadcastRoomView(view)
	return view, nil
}

// SelectPosition sets a player's side. Re-selecting the held side clears it.
func (g *Registry) SelectPosition(roomID, userID string, pos core.Position) (RoomView, error) {
	switch pos {
	case core.PositionAgree, core.PositionDisagree, core.PositionUnset:
	default:
		return RoomView{}, fmt.Errorf("unknown position %q: %w", pos, core.ErrBadRequest)
	}

	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	p := r.participant(userID)
	if p == nil {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("user %s is not in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	if p.Role != core.RolePlayer {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("only players hold a position: %w", core.ErrForbidden)
	}

	if pos == core.PositionUnset || p.Position == pos {
		p.Position = core.PositionUnset
	} else {
		p.Position = pos
	}
	selected := p.Position
	view := r.view()
	g.mu.Unlock()

	g.emit.Broadcast(roomID, battle.EventPositionSelected, map[string]any{
		"userId":   userID,
		"position": selected,
	})
	g.broadcastRoomView(view)
	return view, nil
}

// ToggleReady flips a participant's readiness. Once two players are ready the
// battle is marked started; spectators and referees never block the start.
func (g *Registry) ToggleReady(roomID, userID string) (RoomView, error) {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	p := r.participant(userID)
	if p == nil {
		g.mu.Unlock()
		return RoomView{}, fmt.Errorf("user %s is not in room %s: %w", userID, roomID, core.ErrNotFound)
	}

	p.IsReady = !p.IsReady

	started := false
	if !r.BattleStarted {
		readyPlayers := 0
		for _, pl := range r.players() {
			if pl.IsReady {
				readyPlayers++
			}
		}
		if readyPlayers >= 2 {
			r.BattleStarted = true
			started = true
		}
	}
	view := r.view()
	g.mu.Unlock()

	g.broadcastRoomView(view)
	if started {
		slog.Info("battle starting", "room_id", roomID)
		g.emit.Broadcast(roomID, battle.EventBattleStart, view)
		g.broadcastRoomsIndex()
	}
	return view, nil
}

// LeaveRoom detaches a user. The last one out deletes the room and any match;
// otherwise readiness resets for everyone left behind.
func (g *Registry) LeaveRoom(roomID, userID string) error {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}

	idx := -1
	for i, p := range r.Participants {
		if p.UserID == userID {
			idx = i
			break
		}
	}
	if idx < 0 {
		g.mu.Unlock()
		return fmt.Errorf("user %s is not in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	r.Participants = append(r.Participants[:idx], r.Participants[idx+1:]...)

	empty := len(r.Participants) == 0
	var view RoomView
	if empty {
		delete(g.rooms, roomID)
	} else {
		for _, p := range r.Participants {
			p.IsReady = false
		}
		r.recomputeHasReferee()
		view = r.view()
	}
	g.mu.Unlock()

	slog.Info("user left room", "room_id", roomID, "user_id", userID, "room_deleted", empty)
	if empty {
		g.engine.Teardown(roomID)
	} else {
		g.broadcastRoomView(view)
	}
	g.broadcastRoomsIndex()
	return nil
}

// RebindConnection points a participant's seat at a fresh connection. This is
// the reconnect path of join_discussion_room.
func (g *Registry) RebindConnection(roomID, userID, connID string) (RoomView, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	r, ok := g.rooms[roomID]
	if !ok {
		return RoomView{}, fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	p := r.participant(userID)
	if p == nil {
		return RoomView{}, fmt.Errorf("user %s is not in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	p.ConnectionID = connID
	return r.view(), nil
}

// DiscussionViewReady records that a player rendered the discussion view.
// Once both players are there, positions are filled in, the final player list
// goes out and the match starts after a settling delay.
func (g *Registry) DiscussionViewReady(roomID, userID string) error {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return fmt.Errorf("room %s: %w", roomID, core.ErrNotFound)
	}
	p := r.participant(userID)
	if p == nil {
		g.mu.Unlock()
		return fmt.Errorf("user %s is not in room %s: %w", userID, roomID, core.ErrNotFound)
	}
	p.DiscussionViewReady = true

	players := r.players()
	bothReady := len(players) >= 2 && players[0].DiscussionViewReady && players[1].DiscussionViewReady
	if !bothReady || r.matchLaunched || !r.BattleStarted {
		g.mu.Unlock()
		return nil
	}
	r.matchLaunched = true
	fillPositions(players)

	playerViews := make([]ParticipantView, 0, len(players))
	for _, pl := range players {
		playerViews = append(playerViews, pl.view())
	}
	g.mu.Unlock()

	g.emit.Broadcast(roomID, battle.EventPlayerListUpdated, map[string]any{
		"players": playerViews,
	})

	// Give clients a moment to render roles before stage 1 opens.
	time.AfterFunc(g.settleDelay, func() { g.launchBattle(roomID) })
	return nil
}

// fillPositions completes missing sides: a lone choice gets complemented, no
// choice at all seats the first-joined player as agree.
func fillPositions(players []*Participant) {
	if len(players) < 2 {
		return
	}
	first, second := players[0], players[1]
	switch {
	case first.Position == core.PositionUnset && second.Position == core.PositionUnset:
		first.Position = core.PositionAgree
		second.Position = core.PositionDisagree
	case first.Position == core.PositionUnset:
		first.Position = second.Position.Opposite()
	case second.Position == core.PositionUnset:
		second.Position = first.Position.Opposite()
	case first.Position == second.Position:
		// Both picked the same side; the later join yields.
		second.Position = first.Position.Opposite()
	}
}

// launchBattle hands the room over to the match engine.
func (g *Registry) launchBattle(roomID string) {
	g.mu.Lock()
	r, ok := g.rooms[roomID]
	if !ok {
		g.mu.Unlock()
		return
	}

	var agree, disagree battle.PlayerRef
	for _, p := range r.players() {
		ref := battle.PlayerRef{UserID: p.UserID, DisplayName: p.DisplayName}
		if p.Position == core.PositionAgree {
			agree = ref
		} else if p.Position == core.PositionDisagree {
			disagree = ref
		}
	}
	refereeID := ""
	if ref := r.referee(); ref != nil {
		refereeID = ref.UserID
	}
	subject := r.Subject
	g.mu.Unlock()

	if _, err := g.engine.Start(roomID, subject, agree, disagree, refereeID); err != nil {
		slog.Error("failed to start battle", "room_id", roomID, "error", err)
		g.emit.Broadcast(roomID, battle.EventBattleError, "경기를 시작하지 못했습니다.")
	}
}

// MarkCompleted flags a room whose match finished.
func (g *Registry) MarkCompleted(roomID string) {
	g.mu.Lock()
	if r, ok := g.rooms[roomID]; ok {
		r.IsCompleted = true
	}
	g.mu.Unlock()
}

func (g *Registry) broadcastRoomView(view RoomView) {
	g.emit.Broadcast(view.RoomID, battle.EventRoomUpdate, view)
}

// broadcastRoomsIndex pushes the public room list to the lobby channel.
func (g *Registry) broadcastRoomsIndex() {
	g.emit.Broadcast(LobbyChannel, battle.EventRoomsUpdate, g.RoomViews())
}

package battle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/Cardanoian/discussion-server/internal/core"
	"github.com/Cardanoian/discussion-server/internal/judge"
	"github.com/Cardanoian/discussion-server/internal/storage"
)

// Human referee scores outweigh the model's.
const (
	aiWeight    = 0.4
	humanWeight = 0.6
)

// EngineParams wires an Engine's collaborators.
type EngineParams struct {
	Store   storage.Storage
	Judge   judge.Client
	Emitter Emitter
	Clock   core.Clock
	Limits  Limits

	// DisableTicker keeps the per-second goroutine off so tests can call
	// Tick by hand against a manual clock.
	DisableTicker bool
}

// Engine owns every running match. Matches are looked up by room ID; all
// state of one match is serialised through its own mutex, while the engine
// mutex only guards the lookup map.
type Engine struct {
	mu      sync.Mutex
	matches map[string]*Match

	store         storage.Storage
	judge         judge.Client
	emit          Emitter
	clock         core.Clock
	limits        Limits
	disableTicker bool
}

// NewEngine creates a match engine.
func NewEngine(p EngineParams) *Engine {
	limits := p.Limits
	if limits.RoundLimitMs == 0 {
		limits = DefaultLimits()
	}
	clock := p.Clock
	if clock == nil {
		clock = core.SystemClock{}
	}
	return &Engine{
		matches:       make(map[string]*Match),
		store:         p.Store,
		judge:         p.Judge,
		emit:          p.Emitter,
		clock:         clock,
		limits:        limits,
		disableTicker: p.DisableTicker,
	}
}

// match returns the live match for a room, or nil.
func (e *Engine) match(roomID string) *Match {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.matches[roomID]
}

// Exists reports whether a room has a live match.
func (e *Engine) Exists(roomID string) bool {
	return e.match(roomID) != nil
}

func (e *Engine) removeMatch(roomID string) {
	e.mu.Lock()
	delete(e.matches, roomID)
	e.mu.Unlock()
}

// Start creates the match for a room and opens stage 1. The registry calls
// this once both players reported their discussion view ready and the
// settling delay elapsed.
func (e *Engine) Start(roomID string, subject core.Subject, agree, disagree PlayerRef, refereeID string) (*Match, error) {
	if agree.UserID == "" || disagree.UserID == "" {
		return nil, fmt.Errorf("both players are required")
	}
	if agree.UserID == disagree.UserID {
		return nil, fmt.Errorf("players must be distinct users")
	}

	m := &Match{
		RoomID:    roomID,
		Subject:   subject,
		Stage:     StageAgreeOpening,
		Agree:     agree,
		Disagree:  disagree,
		RefereeID: refereeID,
		Timers: map[string]*PlayerTimer{
			agree.UserID:    {},
			disagree.UserID: {},
		},
		Limits:   e.limits,
		stopTick: make(chan struct{}),
	}

	e.mu.Lock()
	if _, exists := e.matches[roomID]; exists {
		e.mu.Unlock()
		return nil, fmt.Errorf("room %s already has a running match", roomID)
	}
	e.matches[roomID] = m
	e.mu.Unlock()

	slog.Info("battle started", "room_id", roomID, "subject", subject.Title,
		"agree", agree.UserID, "disagree", disagree.UserID, "referee", refereeID != "")

	m.mu.Lock()
	e.announceTurnLocked(m)
	m.mu.Unlock()

	if !e.disableTicker {
		go e.runTicker(roomID, m.stopTick)
	}
	return m, nil
}

// announceTurnLocked appends the turn notice, emits turn_info and starts the
// speaker's timer. Caller holds m.mu.
func (e *Engine) announceTurnLocked(m *Match) {
	sp := m.currentSpeaker()
	if sp == nil {
		return
	}
	nowMs := e.clock.Now()

	m.appendMessage(core.SenderSystem, turnNotice(m.Stage, sp.DisplayName), nowMs)
	e.emit.Broadcast(m.RoomID, EventMessagesUpdated, MessagesUpdatedPayload{Messages: m.messagesCopy()})

	e.emit.Broadcast(m.RoomID, EventTurnInfo, TurnInfoPayload{
		CurrentPlayerID:  sp.UserID,
		Stage:            m.Stage,
		Message:          turnNotice(m.Stage, sp.DisplayName),
		StageDescription: StageDescription(m.Stage),
	})

	e.startTurn(m, nowMs)
}

// HandleMessage applies one send_message from a client. Messages from anyone
// but the current speaker are dropped without a reply.
func (e *Engine) HandleMessage(roomID, userID, text string) {
	m := e.match(roomID)
	if m == nil || text == "" {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed || m.evaluating || m.awaiting {
		return
	}
	sp := m.currentSpeaker()
	if sp == nil || sp.UserID != userID {
		slog.Debug("message from non-current speaker dropped", "room_id", roomID, "user_id", userID, "stage", m.Stage)
		return
	}

	nowMs := e.clock.Now()
	e.absorbTurn(m, nowMs)

	m.Log = append(m.Log, core.DiscussionEntry{UserID: userID, Text: text, Stage: m.Stage})

	sender := core.SenderAgree
	if SpeakerSide(m.Stage) == core.PositionDisagree {
		sender = core.SenderDisagree
	}
	m.appendMessage(sender, text, nowMs)
	e.emit.Broadcast(m.RoomID, EventMessagesUpdated, MessagesUpdatedPayload{Messages: m.messagesCopy()})

	m.Stage++
	if m.Stage <= StageDisagreeClosing {
		e.announceTurnLocked(m)
		return
	}
	e.beginEvaluationLocked(m)
}

// HandleTimeOverflow applies a client-reported overflow for the current
// speaker. The authoritative ticker produces the same result on its own; the
// event only accelerates it.
func (e *Engine) HandleTimeOverflow(roomID, userID, overflowType string) {
	switch overflowType {
	case "round", "total", "overtime":
	default:
		return
	}

	m := e.match(roomID)
	if m == nil {
		return
	}

	m.mu.Lock()
	ended := false
	sp := m.currentSpeaker()
	if !m.closed && !m.evaluating && !m.awaiting && sp != nil && sp.UserID == userID && m.TurnStartedAt > 0 {
		ended = e.applyOverflowLocked(m, e.clock.Now())
	}
	m.mu.Unlock()

	if ended {
		e.removeMatch(roomID)
	}
}

// beginEvaluationLocked enters stage 10 and launches the judge call off the
// match's serialised context. Caller holds m.mu.
func (e *Engine) beginEvaluationLocked(m *Match) {
	m.evaluating = true
	m.TurnStartedAt = 0
	nowMs := e.clock.Now()

	m.appendMessage(core.SenderSystem, "모든 발언이 끝났습니다. 심판이 토론을 평가하고 있습니다.", nowMs)
	e.emit.Broadcast(m.RoomID, EventMessagesUpdated, MessagesUpdatedPayload{Messages: m.messagesCopy()})
	e.emit.Broadcast(m.RoomID, EventAIJudgeMessage, AIJudgeMessagePayload{
		Message: "심판이 토론을 평가하고 있습니다. 잠시만 기다려 주세요.",
		Stage:   m.Stage,
	})

	input := judge.Input{SubjectTitle: m.Subject.Title}
	for _, entry := range m.Log {
		if entry.UserID == m.Agree.UserID {
			input.AgreeTurns = append(input.AgreeTurns, entry.Text)
		} else {
			input.DisagreeTurns = append(input.DisagreeTurns, entry.Text)
		}
	}

	roomID := m.RoomID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
		defer cancel()
		result, err := e.judge.Evaluate(ctx, input)
		e.applyVerdict(roomID, result, err)
	}()
}

// applyVerdict lands the judge completion back on the match. Completions for
// a torn-down match are dropped.
func (e *Engine) applyVerdict(roomID string, result *judge.Result, err error) {
	m := e.match(roomID)
	if m == nil {
		slog.Debug("judge completion for vanished match dropped", "room_id", roomID)
		return
	}

	m.mu.Lock()
	ended := false
	if !m.closed {
		if err != nil {
			slog.Error("judge evaluation failed", "room_id", roomID, "error", err)
			e.emit.Broadcast(roomID, EventBattleError, "심판 평가에 실패하여 경기가 종료됩니다. 전적은 반영되지 않습니다.")
			e.closeLocked(m)
			ended = true
		} else {
			ended = e.acceptVerdictLocked(m, result)
		}
	}
	m.mu.Unlock()

	if ended {
		e.removeMatch(roomID)
	}
}

func (e *Engine) acceptVerdictLocked(m *Match, result *judge.Result) (ended bool) {
	nowMs := e.clock.Now()
	verdict := core.Verdict{
		Agree:    result.Evaluation.Agree,
		Disagree: result.Evaluation.Disagree,
	}
	// The evaluator names the side; storage and broadcast carry the user.
	if result.Evaluation.Winner == "agree" {
		verdict.WinnerUserID = m.Agree.UserID
	} else {
		verdict.WinnerUserID = m.Disagree.UserID
	}
	m.AIVerdict = &verdict
	m.evaluating = false

	m.appendMessage(core.SenderJudge, result.Narration, nowMs)
	e.emit.Broadcast(m.RoomID, EventMessagesUpdated, MessagesUpdatedPayload{Messages: m.messagesCopy()})
	e.emit.Broadcast(m.RoomID, EventAIJudgeMessage, AIJudgeMessagePayload{Message: result.Narration, Stage: m.Stage})

	if m.HasReferee() {
		m.awaiting = true
		e.emit.SendToUser(m.RoomID, m.RefereeID, EventShowRefereeScoreModal, ShowRefereeScoreModalPayload{Verdict: verdict})
		return false
	}
	return e.finalizeLocked(m, verdict)
}

// SubmitScores blends the referee's scores with the AI verdict and finishes
// the match.
func (e *Engine) SubmitScores(roomID, refereeID string, scores RefereeScores) error {
	m := e.match(roomID)
	if m == nil {
		return fmt.Errorf("no running match in room %s: %w", roomID, core.ErrNotFound)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("match already finished: %w", core.ErrConflict)
	}
	if m.RefereeID == "" || m.RefereeID != refereeID {
		m.mu.Unlock()
		return fmt.Errorf("only the room referee may submit scores: %w", core.ErrForbidden)
	}
	if !m.awaiting || m.AIVerdict == nil {
		m.mu.Unlock()
		return fmt.Errorf("evaluation has not completed yet: %w", core.ErrConflict)
	}
	if scores.Agree < 0 || scores.Agree > 100 || scores.Disagree < 0 || scores.Disagree > 100 {
		m.mu.Unlock()
		return fmt.Errorf("scores must be within 0..100: %w", core.ErrBadRequest)
	}

	m.HumanScores = &scores
	blended := blendVerdict(*m.AIVerdict, scores, m.Agree.UserID, m.Disagree.UserID)
	ended := e.finalizeLocked(m, blended)
	m.mu.Unlock()

	if ended {
		e.removeMatch(roomID)
	}
	return nil
}

// blendVerdict combines AI and human scores 0.4/0.6 and recomputes the
// winner. Ties keep the AI's pick.
func blendVerdict(ai core.Verdict, human RefereeScores, agreeID, disagreeID string) core.Verdict {
	blended := ai
	blended.Agree.Score = clampScore(int(math.Round(float64(ai.Agree.Score)*aiWeight + float64(human.Agree)*humanWeight)))
	blended.Disagree.Score = clampScore(int(math.Round(float64(ai.Disagree.Score)*aiWeight + float64(human.Disagree)*humanWeight)))

	switch {
	case blended.Agree.Score > blended.Disagree.Score:
		blended.WinnerUserID = agreeID
	case blended.Agree.Score < blended.Disagree.Score:
		blended.WinnerUserID = disagreeID
	default:
		blended.WinnerUserID = ai.WinnerUserID
	}
	return blended
}

func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// forfeitLocked ends the match by penalty overflow: the non-offender wins
// 100 to 0. Caller holds m.mu.
func (e *Engine) forfeitLocked(m *Match, offenderID string, nowMs int64) (ended bool) {
	m.EndedByPenalty = true
	m.Stage = StagePenaltyTerminal

	winner := m.opponentOf(offenderID)
	verdict := core.Verdict{WinnerUserID: winner.UserID}
	if winner.UserID == m.Agree.UserID {
		verdict.Agree.Score = 100
		verdict.Agree.Good = "상대의 퇴장으로 승리했습니다."
	} else {
		verdict.Disagree.Score = 100
		verdict.Disagree.Good = "상대의 퇴장으로 승리했습니다."
	}
	m.AIVerdict = &verdict

	offender := m.opponentOf(winner.UserID)
	m.appendMessage(core.SenderJudge,
		fmt.Sprintf("%s님이 벌점 %d점 누적으로 퇴장되어 %s님의 승리로 판정합니다.",
			offender.DisplayName, m.Limits.PenaltyMax, winner.DisplayName), nowMs)
	e.emit.Broadcast(m.RoomID, EventMessagesUpdated, MessagesUpdatedPayload{Messages: m.messagesCopy()})

	slog.Info("battle ended by penalty", "room_id", m.RoomID, "offender", offenderID, "winner", winner.UserID)
	return e.finalizeLocked(m, verdict)
}

// finalizeLocked emits battle_result, persists the record, applies the Elo
// update and closes the match. Caller holds m.mu and must removeMatch on a
// true return.
func (e *Engine) finalizeLocked(m *Match, verdict core.Verdict) (ended bool) {
	e.emit.Broadcast(m.RoomID, EventBattleResult, BattleResultPayload{
		Verdict:        verdict,
		EndedByPenalty: m.EndedByPenalty,
	})

	e.persistResult(m, verdict)
	e.applyRatings(m, verdict)
	e.closeLocked(m)
	return true
}

func (e *Engine) persistResult(m *Match, verdict core.Verdict) {
	logJSON, err := json.Marshal(m.Log)
	if err != nil {
		slog.Error("failed to marshal battle log", "room_id", m.RoomID, "error", err)
		logJSON = []byte("[]")
	}
	verdictJSON, err := json.Marshal(verdict)
	if err != nil {
		slog.Error("failed to marshal verdict", "room_id", m.RoomID, "error", err)
		verdictJSON = []byte("{}")
	}

	record := &storage.BattleRecord{
		ID:          core.GenerateID(),
		Player1:     m.Agree.UserID,
		Player2:     m.Disagree.UserID,
		SubjectID:   m.Subject.ID,
		WinnerID:    verdict.WinnerUserID,
		LogJSON:     string(logJSON),
		VerdictJSON: string(verdictJSON),
		CreatedAt:   time.Now().UTC(),
	}
	if err := e.store.InsertBattle(record); err != nil {
		slog.Error("failed to persist battle record", "room_id", m.RoomID, "error", err)
	}
}

func (e *Engine) applyRatings(m *Match, verdict core.Verdict) {
	winnerID := verdict.WinnerUserID
	loserID := m.opponentOf(winnerID).UserID

	winnerProfile, err := e.store.GetProfile(winnerID)
	if err != nil {
		slog.Error("failed to load winner profile", "user_id", winnerID, "error", err)
		return
	}
	loserProfile, err := e.store.GetProfile(loserID)
	if err != nil {
		slog.Error("failed to load loser profile", "user_id", loserID, "error", err)
		return
	}

	newWinner, newLoser := core.UpdateRatings(float64(winnerProfile.Rating), float64(loserProfile.Rating))

	winnerRating := core.RoundRating(newWinner)
	winnerWins := winnerProfile.Wins + 1
	if err := e.store.UpdateProfile(winnerID, storage.ProfileUpdate{Rating: &winnerRating, Wins: &winnerWins}); err != nil {
		slog.Error("failed to update winner profile", "user_id", winnerID, "error", err)
	}

	loserRating := core.RoundRating(newLoser)
	loserLoses := loserProfile.Loses + 1
	if err := e.store.UpdateProfile(loserID, storage.ProfileUpdate{Rating: &loserRating, Loses: &loserLoses}); err != nil {
		slog.Error("failed to update loser profile", "user_id", loserID, "error", err)
	}
}

// closeLocked marks the match terminal and stops its ticker. No events may
// be emitted for the room after this. Caller holds m.mu.
func (e *Engine) closeLocked(m *Match) {
	if m.closed {
		return
	}
	m.closed = true
	if m.stopTick != nil {
		close(m.stopTick)
		m.stopTick = nil
	}
}

// Teardown destroys a room's match without emitting anything, e.g. when the
// last participant leaves.
func (e *Engine) Teardown(roomID string) {
	m := e.match(roomID)
	if m == nil {
		return
	}
	m.mu.Lock()
	e.closeLocked(m)
	m.mu.Unlock()
	e.removeMatch(roomID)
	slog.Info("battle torn down", "room_id", roomID)
}

// AddPoints is the referee restoring penalty points (decreasing the total),
// clamped at zero.
func (e *Engine) AddPoints(roomID, refereeID, targetID string, points int) error {
	return e.refereeOp(roomID, refereeID, targetID, func(m *Match, t *PlayerTimer) {
		t.PenaltyPoints = max(t.PenaltyPoints-points, 0)
		e.emit.Broadcast(m.RoomID, EventPointsAdded, PointsAdjustedPayload{
			UserID:        targetID,
			Points:        points,
			PenaltyPoints: t.PenaltyPoints,
		})
	})
}

// DeductPoints is the referee adding penalty points, clamped at the ceiling.
// Reaching the ceiling forfeits on the spot.
func (e *Engine) DeductPoints(roomID, refereeID, targetID string, points int) error {
	m := e.match(roomID)
	if m == nil {
		return fmt.Errorf("no running match in room %s: %w", roomID, core.ErrNotFound)
	}

	m.mu.Lock()
	if err := m.checkRefereeLocked(refereeID, targetID); err != nil {
		m.mu.Unlock()
		return err
	}
	if points <= 0 {
		m.mu.Unlock()
		return fmt.Errorf("points must be positive: %w", core.ErrBadRequest)
	}

	t := m.timerFor(targetID)
	t.PenaltyPoints = min(t.PenaltyPoints+points, m.Limits.PenaltyMax)
	e.emit.Broadcast(m.RoomID, EventPointsDeducted, PointsAdjustedPayload{
		UserID:        targetID,
		Points:        points,
		PenaltyPoints: t.PenaltyPoints,
	})

	ended := false
	if t.PenaltyPoints >= m.Limits.PenaltyMax {
		ended = e.forfeitLocked(m, targetID, e.clock.Now())
	}
	m.mu.Unlock()

	if ended {
		e.removeMatch(roomID)
	}
	return nil
}

// ExtendTime gives a player back total time.
func (e *Engine) ExtendTime(roomID, refereeID, targetID string, seconds int64) error {
	return e.refereeOp(roomID, refereeID, targetID, func(m *Match, t *PlayerTimer) {
		t.TotalTimeUsedMs = max(t.TotalTimeUsedMs-seconds*1000, 0)
		e.emit.Broadcast(m.RoomID, EventTimeExtended, TimeAdjustedPayload{
			UserID:          targetID,
			Seconds:         seconds,
			TotalTimeUsedMs: t.TotalTimeUsedMs,
		})
	})
}

// ReduceTime charges a player total time.
func (e *Engine) ReduceTime(roomID, refereeID, targetID string, seconds int64) error {
	return e.refereeOp(roomID, refereeID, targetID, func(m *Match, t *PlayerTimer) {
		t.TotalTimeUsedMs += seconds * 1000
		e.emit.Broadcast(m.RoomID, EventTimeReduced, TimeAdjustedPayload{
			UserID:          targetID,
			Seconds:         seconds,
			TotalTimeUsedMs: t.TotalTimeUsedMs,
		})
	})
}

func (e *Engine) refereeOp(roomID, refereeID, targetID string, apply func(*Match, *PlayerTimer)) error {
	m := e.match(roomID)
	if m == nil {
		return fmt.Errorf("no running match in room %s: %w", roomID, core.ErrNotFound)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkRefereeLocked(refereeID, targetID); err != nil {
		return err
	}
	apply(m, m.timerFor(targetID))
	return nil
}

func (m *Match) checkRefereeLocked(refereeID, targetID string) error {
	if m.closed {
		return fmt.Errorf("match already finished: %w", core.ErrConflict)
	}
	if m.RefereeID == "" || m.RefereeID != refereeID {
		return fmt.Errorf("only the room referee may do this: %w", core.ErrForbidden)
	}
	if targetID != m.Agree.UserID && targetID != m.Disagree.UserID {
		return fmt.Errorf("target is not a player in this match: %w", core.ErrBadRequest)
	}
	return nil
}

// SnapshotFor builds the consolidated resync state for one caller. A room
// without a match gets a terminal-looking snapshot with empty messages.
func (e *Engine) SnapshotFor(roomID, userID string) Snapshot {
	m := e.match(roomID)
	if m == nil {
		return Snapshot{
			Active:           false,
			Stage:            StagePenaltyTerminal,
			StageDescription: StageDescription(StagePenaltyTerminal),
			Messages:         []core.Message{},
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Active:           !m.closed,
		Stage:            m.Stage,
		StageDescription: StageDescription(m.Stage),
		Messages:         m.messagesCopy(),
		RoundLimitSec:    m.Limits.RoundLimitMs / 1000,
		TotalLimitSec:    m.Limits.TotalLimitMs / 1000,
	}

	if sp := m.currentSpeaker(); sp != nil {
		snap.CurrentPlayerID = sp.UserID
		snap.IsMyTurn = sp.UserID == userID
		t := m.timerFor(sp.UserID)
		r := m.computeRemaining(t, e.clock.Now())
		snap.RoundTimeRemainingSec = r.roundSec
		snap.TotalTimeRemainingSec = r.totalSec
		snap.IsOvertime = t.IsOvertime
		snap.OvertimeRemainingSec = r.overtimeSec
	}

	if userID == m.Agree.UserID {
		snap.MyPenaltyCount = m.timerFor(m.Agree.UserID).PenaltyCount
		snap.OpponentPenaltyCount = m.timerFor(m.Disagree.UserID).PenaltyCount
	} else if userID == m.Disagree.UserID {
		snap.MyPenaltyCount = m.timerFor(m.Disagree.UserID).PenaltyCount
		snap.OpponentPenaltyCount = m.timerFor(m.Agree.UserID).PenaltyCount
	}

	return snap
}

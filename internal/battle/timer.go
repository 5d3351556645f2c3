package battle

import (
	"log/slog"
	"time"

	"github.com/Cardanoian/discussion-server/internal/core"
)

// remaining holds the derived countdown values for the active speaker.
type remaining struct {
	roundSec    int64
	totalSec    int64
	overtimeSec int64
}

// startTurn zeroes the speaker's round usage and begins a fresh turn.
// Caller holds m.mu.
func (e *Engine) startTurn(m *Match, nowMs int64) {
	sp := m.currentSpeaker()
	if sp == nil {
		return
	}
	t := m.timerFor(sp.UserID)
	t.RoundTimeUsedMs = 0
	t.IsOvertime = false
	t.OvertimeStartedAt = 0
	m.TurnStartedAt = nowMs
	m.lastTimer = timerBroadcast{}
}

// absorbTurn folds the running turn's elapsed time into the speaker's total
// and clears the turn marker. Caller holds m.mu.
func (e *Engine) absorbTurn(m *Match, nowMs int64) {
	sp := m.currentSpeaker()
	if sp == nil || m.TurnStartedAt == 0 {
		return
	}
	t := m.timerFor(sp.UserID)
	elapsed := nowMs - m.TurnStartedAt
	if elapsed > 0 {
		t.TotalTimeUsedMs += elapsed
	}
	t.RoundTimeUsedMs = 0
	m.TurnStartedAt = 0
}

// computeRemaining derives the countdown values at nowMs. Caller holds m.mu.
func (m *Match) computeRemaining(t *PlayerTimer, nowMs int64) remaining {
	elapsed := nowMs - m.TurnStartedAt
	if m.TurnStartedAt == 0 {
		elapsed = 0
	}

	var r remaining
	r.roundSec = max(0, m.Limits.RoundLimitMs-elapsed) / 1000
	r.totalSec = max(0, m.Limits.TotalLimitMs-(t.TotalTimeUsedMs+elapsed)) / 1000
	if t.IsOvertime {
		r.roundSec = 0
		r.overtimeSec = max(0, m.Limits.OvertimeLimitMs-(nowMs-t.OvertimeStartedAt)) / 1000
	}
	return r
}

// Tick advances the match clock by observation: it recomputes the active
// speaker's budgets, applies overflow when a budget ran out, and broadcasts a
// timer_update when a whole-second value changed.
func (e *Engine) Tick(roomID string) {
	m := e.match(roomID)
	if m == nil {
		return
	}

	m.mu.Lock()
	ended := e.tickLocked(m)
	m.mu.Unlock()

	if ended {
		e.removeMatch(roomID)
	}
}

func (e *Engine) tickLocked(m *Match) (ended bool) {
	if m.closed || m.evaluating || m.awaiting {
		return false
	}
	sp := m.currentSpeaker()
	if sp == nil || m.TurnStartedAt == 0 {
		return false
	}

	nowMs := e.clock.Now()
	t := m.timerFor(sp.UserID)
	elapsed := nowMs - m.TurnStartedAt
	t.RoundTimeUsedMs = elapsed

	switch {
	case !t.IsOvertime && elapsed > m.Limits.RoundLimitMs:
		ended = e.applyOverflowLocked(m, nowMs)
	case !t.IsOvertime && t.TotalTimeUsedMs+elapsed > m.Limits.TotalLimitMs:
		ended = e.applyOverflowLocked(m, nowMs)
	case t.IsOvertime && nowMs-t.OvertimeStartedAt > m.Limits.OvertimeLimitMs:
		ended = e.applyOverflowLocked(m, nowMs)
	}
	if ended || m.closed {
		return ended
	}

	e.broadcastTimerLocked(m, sp.UserID, t, nowMs)
	return false
}

// broadcastTimerLocked emits timer_update when the visible values changed.
func (e *Engine) broadcastTimerLocked(m *Match, userID string, t *PlayerTimer, nowMs int64) {
	r := m.computeRemaining(t, nowMs)
	snap := timerBroadcast{
		userID:      userID,
		roundSec:    r.roundSec,
		totalSec:    r.totalSec,
		overtimeSec: r.overtimeSec,
		overtime:    t.IsOvertime,
	}
	if snap == m.lastTimer {
		return
	}
	m.lastTimer = snap

	e.emit.Broadcast(m.RoomID, EventTimerUpdate, TimerUpdatePayload{
		CurrentPlayerID:       userID,
		RoundTimeRemainingSec: r.roundSec,
		TotalTimeRemainingSec: r.totalSec,
		IsOvertime:            t.IsOvertime,
		OvertimeRemainingSec:  r.overtimeSec,
		RoundLimitSec:         m.Limits.RoundLimitMs / 1000,
		TotalLimitSec:         m.Limits.TotalLimitMs / 1000,
	})
}

// applyOverflowLocked accrues one penalty, grants a fresh overtime window and
// fires the forfeit when the ceiling is reached. Reports whether the match
// ended.
func (e *Engine) applyOverflowLocked(m *Match, nowMs int64) (ended bool) {
	sp := m.currentSpeaker()
	if sp == nil {
		return false
	}
	t := m.timerFor(sp.UserID)

	t.PenaltyPoints = min(t.PenaltyPoints+m.Limits.PenaltyStep, m.Limits.PenaltyMax)
	t.PenaltyCount++
	t.IsOvertime = true
	t.OvertimeStartedAt = nowMs

	slog.Debug("time overflow", "room_id", m.RoomID, "user_id", sp.UserID,
		"penalty_points", t.PenaltyPoints, "penalty_count", t.PenaltyCount)

	e.emit.Broadcast(m.RoomID, EventPenaltyApplied, PenaltyAppliedPayload{
		UserID:        sp.UserID,
		PenaltyPoints: t.PenaltyPoints,
		PenaltyCount:  t.PenaltyCount,
	})
	e.emit.Broadcast(m.RoomID, EventOvertimeGranted, OvertimeGrantedPayload{
		UserID:               sp.UserID,
		OvertimeRemainingSec: m.Limits.OvertimeLimitMs / 1000,
	})

	notice := penaltyNotice(SpeakerSide(m.Stage), sp.DisplayName, m.Limits.PenaltyStep, t.PenaltyPoints)
	m.appendMessage(core.SenderSystem, notice, nowMs)
	e.emit.Broadcast(m.RoomID, EventMessagesUpdated, MessagesUpdatedPayload{Messages: m.messagesCopy()})

	if t.PenaltyPoints >= m.Limits.PenaltyMax {
		return e.forfeitLocked(m, sp.UserID, nowMs)
	}
	return false
}

// runTicker drives per-second ticks until the match stops.
func (e *Engine) runTicker(roomID string, stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.Tick(roomID)
		}
	}
}

package battle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startTimerFixture(t *testing.T, refereeID string) *fixture {
	t.Helper()
	fx := newFixture(t, &fakeJudge{result: agreeWinsResult(80, 70)})
	_, err := fx.engine.Start("room-1", testSubject, agreeRef, disagreeRef, refereeID)
	require.NoError(t, err)
	return fx
}

func (fx *fixture) penaltyOf(t *testing.T, userID string) (points, count int) {
	t.Helper()
	m := fx.engine.match("room-1")
	require.NotNil(t, m)
	m.mu.Lock()
	defer m.mu.Unlock()
	pt := m.timerFor(userID)
	return pt.PenaltyPoints, pt.PenaltyCount
}

func TestTickEmitsTimerUpdateOncePerSecondChange(t *testing.T) {
	fx := startTimerFixture(t, "")

	fx.clock.Advance(time.Second)
	fx.engine.Tick("room-1")
	require.Equal(t, 1, fx.emitter.count(EventTimerUpdate))

	// Same instant again: nothing visible changed, no second broadcast.
	fx.engine.Tick("room-1")
	assert.Equal(t, 1, fx.emitter.count(EventTimerUpdate))

	fx.clock.Advance(time.Second)
	fx.engine.Tick("room-1")
	assert.Equal(t, 2, fx.emitter.count(EventTimerUpdate))

	updates := fx.emitter.named(EventTimerUpdate)
	first := updates[0].Payload.(TimerUpdatePayload)
	assert.Equal(t, agreeRef.UserID, first.CurrentPlayerID)
	assert.Equal(t, int64(119), first.RoundTimeRemainingSec)
	assert.Equal(t, int64(299), first.TotalTimeRemainingSec)
	assert.Equal(t, int64(120), first.RoundLimitSec)
	assert.Equal(t, int64(300), first.TotalLimitSec)
	assert.False(t, first.IsOvertime)
}

func TestTurnInfoPrecedesFirstTimerUpdate(t *testing.T) {
	fx := startTimerFixture(t, "")

	fx.clock.Advance(time.Second)
	fx.engine.Tick("room-1")

	turnIdx := fx.emitter.firstIndex(EventTurnInfo)
	timerIdx := fx.emitter.firstIndex(EventTimerUpdate)
	require.GreaterOrEqual(t, turnIdx, 0)
	require.GreaterOrEqual(t, timerIdx, 0)
	assert.Less(t, turnIdx, timerIdx)
}

func TestRoundBoundaryExactLimitIsSafe(t *testing.T) {
	fx := startTimerFixture(t, "")

	// Exactly at the limit: no overflow.
	fx.clock.Advance(120 * time.Second)
	fx.engine.Tick("room-1")
	points, count := fx.penaltyOf(t, agreeRef.UserID)
	assert.Zero(t, points)
	assert.Zero(t, count)

	// One millisecond past: overflow on the next tick.
	fx.clock.Advance(time.Millisecond)
	fx.engine.Tick("room-1")
	points, count = fx.penaltyOf(t, agreeRef.UserID)
	assert.Equal(t, 3, points)
	assert.Equal(t, 1, count)
	assert.Equal(t, 1, fx.emitter.count(EventPenaltyApplied))
	assert.Equal(t, 1, fx.emitter.count(EventOvertimeGranted))
}

func TestOverflowGrantsFreshOvertimeWindow(t *testing.T) {
	fx := startTimerFixture(t, "")

	fx.clock.Advance(121 * time.Second)
	fx.engine.Tick("room-1")
	points, _ := fx.penaltyOf(t, agreeRef.UserID)
	require.Equal(t, 3, points)

	// Inside the 30 s window: no further penalty.
	fx.clock.Advance(29 * time.Second)
	fx.engine.Tick("room-1")
	points, _ = fx.penaltyOf(t, agreeRef.UserID)
	assert.Equal(t, 3, points)

	// Window exhausted: another penalty and another fresh window.
	fx.clock.Advance(2 * time.Second)
	fx.engine.Tick("room-1")
	points, count := fx.penaltyOf(t, agreeRef.UserID)
	assert.Equal(t, 6, points)
	assert.Equal(t, 2, count)
	assert.Equal(t, 2, fx.emitter.count(EventOvertimeGranted))
}

func TestOvertimeTimerShape(t *testing.T) {
	fx := startTimerFixture(t, "")

	fx.clock.Advance(121 * time.Second)
	fx.engine.Tick("room-1")
	fx.clock.Advance(10 * time.Second)
	fx.engine.Tick("room-1")

	updates := fx.emitter.named(EventTimerUpdate)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1].Payload.(TimerUpdatePayload)
	assert.True(t, last.IsOvertime)
	assert.Zero(t, last.RoundTimeRemainingSec)
	assert.Equal(t, int64(20), last.OvertimeRemainingSec)
}

func TestPenaltyForfeitAfterSixOverflows(t *testing.T) {
	fx := startTimerFixture(t, "")

	// First overflow past the round limit, then five overtime exhaustions.
	fx.clock.Advance(121 * time.Second)
	fx.engine.Tick("room-1")
	for i := 0; i < 5; i++ {
		fx.clock.Advance(31 * time.Second)
		fx.engine.Tick("room-1")
	}

	assert.Equal(t, 6, fx.emitter.count(EventPenaltyApplied))

	results := fx.emitter.named(EventBattleResult)
	require.Len(t, results, 1, "forfeit must fire on the transition that reaches the ceiling")
	payload := results[0].Payload.(BattleResultPayload)
	assert.True(t, payload.EndedByPenalty)
	assert.Equal(t, disagreeRef.UserID, payload.Verdict.WinnerUserID)
	assert.Equal(t, 100, payload.Verdict.Disagree.Score)
	assert.Zero(t, payload.Verdict.Agree.Score)

	// penalty_applied precedes battle_result.
	assert.Less(t, fx.emitter.firstIndex(EventPenaltyApplied), fx.emitter.firstIndex(EventBattleResult))

	// Exactly one persisted record and one set of Elo updates.
	assert.Equal(t, 1, fx.store.battleCount())
	winner := fx.store.profile(disagreeRef.UserID)
	loser := fx.store.profile(agreeRef.UserID)
	assert.Equal(t, 1, winner.Wins)
	assert.Equal(t, 1, loser.Loses)

	assert.False(t, fx.engine.Exists("room-1"))

	// No events for the room after teardown.
	n := len(fx.emitter.events)
	fx.clock.Advance(5 * time.Second)
	fx.engine.Tick("room-1")
	assert.Equal(t, n, len(fx.emitter.events))
}

func TestTotalBudgetOverflow(t *testing.T) {
	fx := startTimerFixture(t, "ref-1")

	// Referee charges the agree side 299 of its 300 total seconds.
	require.NoError(t, fx.engine.ReduceTime("room-1", "ref-1", agreeRef.UserID, 299))

	fx.clock.Advance(2 * time.Second)
	fx.engine.Tick("room-1")

	points, _ := fx.penaltyOf(t, agreeRef.UserID)
	assert.Equal(t, 3, points)
}

func TestClientReportedOverflow(t *testing.T) {
	fx := startTimerFixture(t, "")

	fx.clock.Advance(121 * time.Second)
	fx.engine.HandleTimeOverflow("room-1", agreeRef.UserID, "round")
	points, _ := fx.penaltyOf(t, agreeRef.UserID)
	assert.Equal(t, 3, points)

	t.Run("UnknownTypeIgnored", func(t *testing.T) {
		fx.engine.HandleTimeOverflow("room-1", agreeRef.UserID, "bogus")
		points, _ := fx.penaltyOf(t, agreeRef.UserID)
		assert.Equal(t, 3, points)
	})

	t.Run("NonSpeakerIgnored", func(t *testing.T) {
		fx.engine.HandleTimeOverflow("room-1", disagreeRef.UserID, "round")
		points, _ := fx.penaltyOf(t, disagreeRef.UserID)
		assert.Zero(t, points)
	})
}

func TestMessageAbsorbsElapsedIntoTotal(t *testing.T) {
	fx := startTimerFixture(t, "")
	m := fx.engine.match("room-1")

	fx.clock.Advance(42 * time.Second)
	fx.engine.HandleMessage("room-1", agreeRef.UserID, "A1")

	m.mu.Lock()
	total := m.timerFor(agreeRef.UserID).TotalTimeUsedMs
	turnStarted := m.TurnStartedAt
	m.mu.Unlock()

	assert.Equal(t, int64(42_000), total)
	// A new turn started for the disagree side.
	assert.Equal(t, fx.clock.Now(), turnStarted)
}

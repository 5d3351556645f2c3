package battle

import (
	"sync"

	"github.com/Cardanoian/discussion-server/internal/core"
)

// PlayerRef identifies one side's player inside a match.
type PlayerRef struct {
	UserID      string `json:"userId"`
	DisplayName string `json:"displayName"`
}

// PlayerTimer accumulates one player's time usage and penalties.
type PlayerTimer struct {
	TotalTimeUsedMs   int64 `json:"totalTimeUsedMs"`
	RoundTimeUsedMs   int64 `json:"roundTimeUsedMs"`
	PenaltyPoints     int   `json:"penaltyPoints"`
	PenaltyCount      int   `json:"penaltyCount"`
	IsOvertime        bool  `json:"isOvertime"`
	OvertimeStartedAt int64 `json:"overtimeStartedAt,omitempty"`
}

// RefereeScores is a human referee's submission.
type RefereeScores struct {
	Agree    int `json:"agree"`
	Disagree int `json:"disagree"`
}

// Limits are the per-match time budgets and penalty rules.
type Limits struct {
	RoundLimitMs    int64
	TotalLimitMs    int64
	OvertimeLimitMs int64
	PenaltyStep     int
	PenaltyMax      int
}

// DefaultLimits returns the standard budgets: 2 minute rounds inside a
// 5 minute total, 30 second overtime grants, 3 points per overflow, defeat
// at 18.
func DefaultLimits() Limits {
	return Limits{
		RoundLimitMs:    120_000,
		TotalLimitMs:    300_000,
		OvertimeLimitMs: 30_000,
		PenaltyStep:     3,
		PenaltyMax:      18,
	}
}

// timerBroadcast remembers the last whole-second values sent so ticks only
// fan out when something visible changed.
type timerBroadcast struct {
	userID      string
	roundSec    int64
	totalSec    int64
	overtimeSec int64
	overtime    bool
}

// Match is the full state of one running debate. All access is serialised
// through mu; the engine locks it for every read and write.
type Match struct {
	mu sync.Mutex

	RoomID    string
	Subject   core.Subject
	Stage     int
	Agree     PlayerRef
	Disagree  PlayerRef
	RefereeID string // empty when no referee attends

	Log      []core.DiscussionEntry
	Messages []core.Message

	Timers        map[string]*PlayerTimer
	TurnStartedAt int64 // 0 when no turn is running

	Limits Limits

	EndedByPenalty bool
	AIVerdict      *core.Verdict
	HumanScores    *RefereeScores

	evaluating bool
	awaiting   bool // verdict arrived, waiting on referee scores
	closed     bool // terminal; no further events may be emitted

	lastTimer timerBroadcast
	stopTick  chan struct{}
}

// HasReferee reports whether a referee is attached to the match.
func (m *Match) HasReferee() bool {
	return m.RefereeID != ""
}

// currentSpeaker returns the player whose turn it is, or nil outside
// speaking stages.
func (m *Match) currentSpeaker() *PlayerRef {
	switch SpeakerSide(m.Stage) {
	case core.PositionAgree:
		return &m.Agree
	case core.PositionDisagree:
		return &m.Disagree
	default:
		return nil
	}
}

// opponentOf returns the other player's ref.
func (m *Match) opponentOf(userID string) *PlayerRef {
	if m.Agree.UserID == userID {
		return &m.Disagree
	}
	return &m.Agree
}

// appendMessage adds a message unless an identical (sender, text) pair is
// already in the feed. It reports whether the entry was appended; callers
// re-broadcast the feed either way, so a dropped duplicate goes out as the
// unchanged list.
func (m *Match) appendMessage(sender core.Sender, text string, nowMs int64) bool {
	for _, existing := range m.Messages {
		if existing.Sender == sender && existing.Text == text {
			return false
		}
	}
	m.Messages = append(m.Messages, core.Message{Sender: sender, Text: text, TimestampMs: nowMs})
	return true
}

// messagesCopy snapshots the feed for fan-out outside the lock.
func (m *Match) messagesCopy() []core.Message {
	out := make([]core.Message, len(m.Messages))
	copy(out, m.Messages)
	return out
}

// timerFor returns the timer of a player, creating it lazily.
func (m *Match) timerFor(userID string) *PlayerTimer {
	t, ok := m.Timers[userID]
	if !ok {
		t = &PlayerTimer{}
		m.Timers[userID] = t
	}
	return t
}

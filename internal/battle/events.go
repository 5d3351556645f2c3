package battle

import "github.com/Cardanoian/discussion-server/internal/core"

// Server → client event names.
const (
	EventRoomsUpdate           = "rooms_update"
	EventRoomUpdate            = "room_update"
	EventBattleStart           = "battle_start"
	EventBattleError           = "battle_error"
	EventAIJudgeMessage        = "ai_judge_message"
	EventMessagesUpdated       = "messages_updated"
	EventTurnInfo              = "turn_info"
	EventTimerUpdate           = "timer_update"
	EventPenaltyApplied        = "penalty_applied"
	EventOvertimeGranted       = "overtime_granted"
	EventTimeExtended          = "time_extended"
	EventTimeReduced           = "time_reduced"
	EventPointsAdded           = "points_added"
	EventPointsDeducted        = "points_deducted"
	EventPlayerListUpdated     = "player_list_updated"
	EventPositionSelected      = "position_selected"
	EventRoleSelected          = "role_selected"
	EventBattleResult          = "battle_result"
	EventShowRefereeScoreModal = "show_referee_score_modal"
	EventRoomStateUpdated      = "room_state_updated"
)

// Emitter delivers named events to a room's subscribers. The transport layer
// implements it; the engine never sees connections.
type Emitter interface {
	Broadcast(roomID, event string, payload any)
	SendToUser(roomID, userID, event string, payload any)
}

// TimerUpdatePayload is the once-per-second timer broadcast.
type TimerUpdatePayload struct {
	CurrentPlayerID       string `json:"currentPlayerId"`
	RoundTimeRemainingSec int64  `json:"roundTimeRemainingSec"`
	TotalTimeRemainingSec int64  `json:"totalTimeRemainingSec"`
	IsOvertime            bool   `json:"isOvertime"`
	OvertimeRemainingSec  int64  `json:"overtimeRemainingSec"`
	RoundLimitSec         int64  `json:"roundLimitSec"`
	TotalLimitSec         int64  `json:"totalLimitSec"`
}

// TurnInfoPayload announces whose turn begins.
type TurnInfoPayload struct {
	CurrentPlayerID  string `json:"currentPlayerId"`
	Stage            int    `json:"stage"`
	Message          string `json:"message"`
	StageDescription string `json:"stageDescription"`
}

// MessagesUpdatedPayload carries the full message feed.
type MessagesUpdatedPayload struct {
	Messages []core.Message `json:"messages"`
}

// PenaltyAppliedPayload reports a penalty accrual.
type PenaltyAppliedPayload struct {
	UserID        string `json:"userId"`
	PenaltyPoints int    `json:"penaltyPoints"`
	PenaltyCount  int    `json:"penaltyCount"`
}

// OvertimeGrantedPayload reports a fresh overtime window.
type OvertimeGrantedPayload struct {
	UserID               string `json:"userId"`
	OvertimeRemainingSec int64  `json:"overtimeRemainingSec"`
}

// TimeAdjustedPayload reports a referee time adjustment.
type TimeAdjustedPayload struct {
	UserID          string `json:"userId"`
	Seconds         int64  `json:"seconds"`
	TotalTimeUsedMs int64  `json:"totalTimeUsedMs"`
}

// PointsAdjustedPayload reports a referee penalty adjustment.
type PointsAdjustedPayload struct {
	UserID        string `json:"userId"`
	Points        int    `json:"points"`
	PenaltyPoints int    `json:"penaltyPoints"`
}

// AIJudgeMessagePayload carries judge narration to the room.
type AIJudgeMessagePayload struct {
	Message string `json:"message"`
	Stage   int    `json:"stage"`
}

// BattleResultPayload is the terminal verdict broadcast.
type BattleResultPayload struct {
	Verdict        core.Verdict `json:"verdict"`
	EndedByPenalty bool         `json:"endedByPenalty"`
}

// ShowRefereeScoreModalPayload asks the referee for human scores.
type ShowRefereeScoreModalPayload struct {
	Verdict core.Verdict `json:"verdict"`
}

// Snapshot is the consolidated room state for late joins and reconnects.
type Snapshot struct {
	Active                bool           `json:"active"`
	Stage                 int            `json:"stage"`
	StageDescription      string         `json:"stageDescription"`
	Messages              []core.Message `json:"messages"`
	CurrentPlayerID       string         `json:"currentPlayerId"`
	IsMyTurn              bool           `json:"isMyTurn"`
	RoundTimeRemainingSec int64          `json:"roundTimeRemainingSec"`
	TotalTimeRemainingSec int64          `json:"totalTimeRemainingSec"`
	IsOvertime            bool           `json:"isOvertime"`
	OvertimeRemainingSec  int64          `json:"overtimeRemainingSec"`
	RoundLimitSec         int64          `json:"roundLimitSec"`
	TotalLimitSec         int64          `json:"totalLimitSec"`
	MyPenaltyCount        int            `json:"myPenaltyCount"`
	OpponentPenaltyCount  int            `json:"opponentPenaltyCount"`
}

// Package battle implements the turn protocol, timers and evaluation
// handshake of a single debate match.
package battle

import (
	"fmt"

	"github.com/Cardanoian/discussion-server/internal/core"
)

// Stage indices of the turn protocol. Stages 1..9 are speaking turns, 10 is
// the evaluation handshake. 11 is a sentinel for forfeit by penalty and never
// appears as a speaking turn.
const (
	StageOpening         = 0
	StageAgreeOpening    = 1
	StageDisagreeOpening = 2
	StageDisagreeQ       = 3
	StageAgreeAQ1        = 4
	StageDisagreeAQ1     = 5
	StageAgreeAQ2        = 6
	StageDisagreeA       = 7
	StageAgreeClosing    = 8
	StageDisagreeClosing = 9
	StageEvaluation      = 10
	StagePenaltyTerminal = 11
)

// SpeakerSide returns which side speaks at a stage, or PositionUnset when the
// stage has no speaker.
func SpeakerSide(stage int) core.Position {
	switch stage {
	case StageAgreeOpening, StageAgreeAQ1, StageAgreeAQ2, StageAgreeClosing:
		return core.PositionAgree
	case StageDisagreeOpening, StageDisagreeQ, StageDisagreeAQ1, StageDisagreeA, StageDisagreeClosing:
		return core.PositionDisagree
	default:
		return core.PositionUnset
	}
}

var stageDescriptions = map[int]string{
	StageOpening:         "대기 중",
	StageAgreeOpening:    "찬성측 대표발언",
	StageDisagreeOpening: "반대측 대표발언",
	StageDisagreeQ:       "반대측 질문",
	StageAgreeAQ1:        "찬성측 답변 및 질문",
	StageDisagreeAQ1:     "반대측 답변 및 질문",
	StageAgreeAQ2:        "찬성측 답변 및 질문",
	StageDisagreeA:       "반대측 답변",
	StageAgreeClosing:    "찬성측 최종발언",
	StageDisagreeClosing: "반대측 최종발언",
	StageEvaluation:      "심판 평가",
	StagePenaltyTerminal: "벌점 퇴장",
}

var stagePhrases = map[int]string{
	StageAgreeOpening:    "대표발언",
	StageDisagreeOpening: "대표발언",
	StageDisagreeQ:       "질문",
	StageAgreeAQ1:        "답변 및 질문",
	StageDisagreeAQ1:     "답변 및 질문",
	StageAgreeAQ2:        "답변 및 질문",
	StageDisagreeA:       "답변",
	StageAgreeClosing:    "최종발언",
	StageDisagreeClosing: "최종발언",
}

// StageDescription returns the Korean label for a stage.
func StageDescription(stage int) string {
	if desc, ok := stageDescriptions[stage]; ok {
		return desc
	}
	return "알 수 없음"
}

func sideLabel(side core.Position) string {
	if side == core.PositionAgree {
		return "찬성"
	}
	return "반대"
}

// turnNotice builds the system announcement for a speaking turn, e.g.
// "찬성측 철수님의 대표발언 차례입니다."
func turnNotice(stage int, displayName string) string {
	side := SpeakerSide(stage)
	return fmt.Sprintf("%s측 %s님의 %s 차례입니다.", sideLabel(side), displayName, stagePhrases[stage])
}

// penaltyNotice announces a penalty accrual.
func penaltyNotice(side core.Position, displayName string, step, total int) string {
	return fmt.Sprintf("%s측 %s님에게 벌점 %d점이 부과되었습니다. (누적 %d점)", sideLabel(side), displayName, step, total)
}

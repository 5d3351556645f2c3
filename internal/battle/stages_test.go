package battle

import (
	"testing"

	"github.com/Cardanoian/discussion-server/internal/core"
)

func TestSpeakerSide(t *testing.T) {
	agreeStages := []int{StageAgreeOpening, StageAgreeAQ1, StageAgreeAQ2, StageAgreeClosing}
	disagreeStages := []int{StageDisagreeOpening, StageDisagreeQ, StageDisagreeAQ1, StageDisagreeA, StageDisagreeClosing}

	for _, stage := range agreeStages {
		if SpeakerSide(stage) != core.PositionAgree {
			t.Errorf("stage %d should belong to the agree side", stage)
		}
	}
	for _, stage := range disagreeStages {
		if SpeakerSide(stage) != core.PositionDisagree {
			t.Errorf("stage %d should belong to the disagree side", stage)
		}
	}
	for _, stage := range []int{StageOpening, StageEvaluation, StagePenaltyTerminal} {
		if SpeakerSide(stage) != core.PositionUnset {
			t.Errorf("stage %d has no speaker", stage)
		}
	}
}

func TestTurnNoticeFormat(t *testing.T) {
	tests := []struct {
		stage int
		name  string
		want  string
	}{
		{stage: StageAgreeOpening, name: "X", want: "찬성측 X님의 대표발언 차례입니다."},
		{stage: StageDisagreeOpening, name: "영희", want: "반대측 영희님의 대표발언 차례입니다."},
		{stage: StageDisagreeQ, name: "영희", want: "반대측 영희님의 질문 차례입니다."},
		{stage: StageAgreeClosing, name: "철수", want: "찬성측 철수님의 최종발언 차례입니다."},
	}
	for _, tt := range tests {
		if got := turnNotice(tt.stage, tt.name); got != tt.want {
			t.Errorf("turnNotice(%d, %q) = %q, want %q", tt.stage, tt.name, got, tt.want)
		}
	}
}

func TestStageDescription(t *testing.T) {
	if StageDescription(StageEvaluation) != "심판 평가" {
		t.Errorf("evaluation description wrong: %q", StageDescription(StageEvaluation))
	}
	if StageDescription(99) != "알 수 없음" {
		t.Errorf("unknown stage should have a fallback label")
	}
}

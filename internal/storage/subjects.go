package storage

import "github.com/Cardanoian/discussion-server/internal/core"

// BuiltinSubjects is the fallback subject list served when the store cannot
// be reached, and the corpus used by `server subjects seed`.
func BuiltinSubjects() []*core.Subject {
	return []*core.Subject{
		{
			ID:    "builtin-1",
			Title: "인공지능은 인간의 일자리를 대체할 것인가?",
			Body:  "생성형 인공지능의 발전이 고용 시장에 미치는 영향을 두고 찬반 입장을 정해 토론합니다.",
		},
		{
			ID:    "builtin-2",
			Title: "학교에서 스마트폰 사용을 전면 금지해야 하는가?",
			Body:  "학습 집중도와 디지털 리터러시 교육 사이에서 어느 가치가 우선인지 토론합니다.",
		},
		{
			ID:    "builtin-3",
			Title: "원자력 발전을 확대해야 하는가?",
			Body:  "탄소 중립 목표와 안전성 우려를 균형 있게 고려하여 토론합니다.",
		},
		{
			ID:    "builtin-4",
			Title: "기본소득제를 도입해야 하는가?",
			Body:  "복지 사각지대 해소 효과와 재원 조달 문제를 중심으로 토론합니다.",
		},
		{
			ID:    "builtin-5",
			Title: "동물실험은 금지되어야 하는가?",
			Body:  "의학 발전의 필요성과 동물권 보호 사이의 긴장을 다룹니다.",
		},
	}
}

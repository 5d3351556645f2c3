package judge

import (
	"strings"
	"testing"
)

func TestParseEvaluation(t *testing.T) {
	tests := []struct {
		name         string
		input        string
		wantWinner   string
		wantAgree    int
		wantDisagree int
		wantErr      bool
	}{
		{
			name:         "plain_json",
			input:        `{"agree":{"score":80,"good":"논리적","bad":"근거 부족"},"disagree":{"score":70,"good":"침착함","bad":"반박 약함"},"winner":"agree"}`,
			wantWinner:   "agree",
			wantAgree:    80,
			wantDisagree: 70,
		},
		{
			name: "fenced_json",
			input: "```json\n" +
				`{"agree":{"score":60},"disagree":{"score":80},"winner":"disagree"}` +
				"\n```",
			wantWinner:   "disagree",
			wantAgree:    60,
			wantDisagree: 80,
		},
		{
			name:         "json_with_surrounding_prose",
			input:        "평가 결과는 다음과 같습니다.\n{\"agree\":{\"score\":55},\"disagree\":{\"score\":45},\"winner\":\"agree\"}\n감사합니다.",
			wantWinner:   "agree",
			wantAgree:    55,
			wantDisagree: 45,
		},
		{
			name:         "winner_token_case_insensitive",
			input:        `{"agree":{"score":50},"disagree":{"score":50},"winner":" Agree "}`,
			wantWinner:   "agree",
			wantAgree:    50,
			wantDisagree: 50,
		},
		{
			name:         "nested_braces_in_strings",
			input:        `{"agree":{"score":90,"good":"예시 {구체적}"},"disagree":{"score":10},"winner":"agree"}`,
			wantWinner:   "agree",
			wantAgree:    90,
			wantDisagree: 10,
		},
		{
			name:    "no_json",
			input:   "죄송합니다. 평가할 수 없습니다.",
			wantErr: true,
		},
		{
			name:    "unknown_winner_token",
			input:   `{"agree":{"score":50},"disagree":{"score":50},"winner":"tie"}`,
			wantErr: true,
		},
		{
			name:    "score_out_of_range",
			input:   `{"agree":{"score":120},"disagree":{"score":50},"winner":"agree"}`,
			wantErr: true,
		},
		{
			name:    "negative_score",
			input:   `{"agree":{"score":-5},"disagree":{"score":50},"winner":"agree"}`,
			wantErr: true,
		},
		{
			name:    "truncated_json",
			input:   `{"agree":{"score":80},"disagree":{"score":70},"winner":"agr`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eval, err := ParseEvaluation(tt.input)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("want error, got %+v", eval)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if eval.Winner != tt.wantWinner {
				t.Errorf("winner = %q, want %q", eval.Winner, tt.wantWinner)
			}
			if eval.Agree.Score != tt.wantAgree {
				t.Errorf("agree score = %d, want %d", eval.Agree.Score, tt.wantAgree)
			}
			if eval.Disagree.Score != tt.wantDisagree {
				t.Errorf("disagree score = %d, want %d", eval.Disagree.Score, tt.wantDisagree)
			}
		})
	}
}

func TestExtractJSONIgnoresBracesInsideStrings(t *testing.T) {
	s := `prefix {"a":"}{","b":{"c":1}} suffix`
	got := extractJSON(s)
	if !strings.HasPrefix(got, `{"a":`) || !strings.HasSuffix(got, `}`) {
		t.Fatalf("extractJSON returned %q", got)
	}
}

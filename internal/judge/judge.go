// Package judge calls the external evaluator service and parses its verdict.
package judge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/Cardanoian/discussion-server/internal/core"
)

// Error represents a failure of the evaluator service. The engine treats it
// as terminal but non-forfeit: the battle is aborted without stats mutation.
type Error struct {
	// Stage is which pass failed: "structured" or "narration".
	Stage string

	// Message is a human-readable error message.
	Message string

	// Err is the underlying error (if any).
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("judge %s pass: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("judge %s pass: %s", e.Stage, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Evaluation is the structured verdict before winner normalisation. Winner is
// the side token "agree" or "disagree"; the engine maps it to a user ID.
type Evaluation struct {
	Agree    core.SideScore `json:"agree"`
	Disagree core.SideScore `json:"disagree"`
	Winner   string         `json:"winner"`
}

// Result carries both passes of an evaluation.
type Result struct {
	Evaluation Evaluation
	Narration  string
}

// Input is the material handed to the evaluator.
type Input struct {
	SubjectTitle  string
	AgreeTurns    []string
	DisagreeTurns []string
}

// Client evaluates a finished debate.
type Client interface {
	Evaluate(ctx context.Context, input Input) (*Result, error)
}

// Config holds the evaluator service settings.
type Config struct {
	URL     string
	APIKey  string
	Model   string
	Timeout time.Duration
}

// HTTPClient is a Client backed by an OpenAI-compatible chat completion API.
type HTTPClient struct {
	cfg    Config
	client *http.Client
}

// NewHTTPClient creates a judge client.
func NewHTTPClient(cfg Config) *HTTPClient {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 2 * time.Minute
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

const structuredSystemPrompt = `당신은 토론 대회의 심판입니다. 주어진 토론을 평가하고 반드시 아래 JSON 형식으로만 답하십시오.
{"agree":{"score":0-100,"good":"잘한 점","bad":"아쉬운 점"},"disagree":{"score":0-100,"good":"잘한 점","bad":"아쉬운 점"},"winner":"agree 또는 disagree"}
JSON 외의 텍스트는 절대 포함하지 마십시오.`

const narrationSystemPrompt = `당신은 토론 대회의 심판입니다. 주어진 평가 결과를 참가자들에게 전달할 한 단락의 심사평으로 풀어 쓰십시오. 두 측의 장단점과 승패 이유를 정중한 한국어로 설명합니다.`

// Evaluate runs the two-shot evaluation: a structured pass producing the
// verdict JSON, then a narration pass summarising it for the room.
func (c *HTTPClient) Evaluate(ctx context.Context, input Input) (*Result, error) {
	transcript := buildTranscript(input)

	raw, err := c.complete(ctx, structuredSystemPrompt, transcript)
	if err != nil {
		return nil, &Error{Stage: "structured", Message: "request failed", Err: err}
	}

	eval, err := ParseEvaluation(raw)
	if err != nil {
		return nil, &Error{Stage: "structured", Message: "malformed verdict", Err: err}
	}

	evalJSON, _ := json.Marshal(eval)
	narration, err := c.complete(ctx, narrationSystemPrompt, string(evalJSON))
	if err != nil {
		return nil, &Error{Stage: "narration", Message: "request failed", Err: err}
	}
	narration = strings.TrimSpace(narration)
	if narration == "" {
		return nil, &Error{Stage: "narration", Message: "empty narration"}
	}

	slog.Debug("judge evaluation complete", "winner", eval.Winner,
		"agree_score", eval.Agree.Score, "disagree_score", eval.Disagree.Score)

	return &Result{Evaluation: *eval, Narration: narration}, nil
}

func buildTranscript(input Input) string {
	var b strings.Builder
	fmt.Fprintf(&b, "주제: %s\n\n", input.SubjectTitle)
	b.WriteString("[찬성측 발언]\n")
	for i, turn := range input.AgreeTurns {
		fmt.Fprintf(&b, "%d. %s\n", i+1, turn)
	}
	b.WriteString("\n[반대측 발언]\n")
	for i, turn := range input.DisagreeTurns {
		fmt.Fprintf(&b, "%d. %s\n", i+1, turn)
	}
	return b.String()
}

func (c *HTTPClient) complete(ctx context.Context, system, user string) (string, error) {
	payload := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		MaxTokens: 4096,
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 10*1024*1024))
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("evaluator returned status %d", resp.StatusCode)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return parsed.Choices[0].Message.Content, nil
}

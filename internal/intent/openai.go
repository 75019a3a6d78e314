package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/queryforge/queryforge/internal/nlq"
)

type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// OpenAIParser classifies free text through an OpenAI-compatible
// chat-completions endpoint.
type OpenAIParser struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	client      *http.Client
}

func NewOpenAIParser(cfg OpenAIConfig) (*OpenAIParser, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "gpt-5"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &OpenAIParser{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		client:      &http.Client{Timeout: timeout},
	}, nil
}

func (p *OpenAIParser) Parse(ctx context.Context, text string, intents []string) (nlq.QuerySpec, error) {
	body, err := json.Marshal(buildPayload(p.model, p.temperature, text, intents))
	if err != nil {
		return nlq.QuerySpec{}, fmt.Errorf("marshal chat payload: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nlq.QuerySpec{}, fmt.Errorf("build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nlq.QuerySpec{}, fmt.Errorf("request chat completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nlq.QuerySpec{}, fmt.Errorf("read chat response body: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nlq.QuerySpec{}, fmt.Errorf("chat completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return nlq.QuerySpec{}, fmt.Errorf("decode chat completion response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return nlq.QuerySpec{}, fmt.Errorf("empty chat completion choices")
	}

	content := stripMarkdownFence(parsed.Choices[0].Message.Content)
	var classified struct {
		Intent     string            `json:"intent"`
		Params     map[string]string `json:"params"`
		Confidence float64           `json:"confidence"`
	}
	if err := json.Unmarshal([]byte(content), &classified); err != nil {
		return nlq.QuerySpec{}, fmt.Errorf("decode classification %q: %w", content, err)
	}
	if strings.TrimSpace(classified.Intent) == "" {
		return nlq.QuerySpec{}, fmt.Errorf("model returned no intent")
	}

	return nlq.QuerySpec{
		NLQ:        text,
		Intent:     classified.Intent,
		Params:     classified.Params,
		Confidence: classified.Confidence,
	}, nil
}

func buildPayload(model string, temperature float64, text string, intents []string) map[string]any {
	systemPrompt := "You classify warehouse analytics questions into a supported query intent and extract its semantic parameters. " +
		"Respond with a single JSON object {\"intent\": string, \"params\": object, \"confidence\": number between 0 and 1}. " +
		"No markdown, no explanation."
	userPrompt := fmt.Sprintf(
		"Supported intents:\n%s\n\nQuestion:\n%s\n\nRules:\n- Pick exactly one intent from the list, or your best guess with low confidence.\n- Dates use YYYY-MM-DD.\n- Omit parameters you cannot extract.",
		strings.Join(intents, "\n"),
		strings.TrimSpace(text),
	)

	return map[string]any{
		"model": model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature": temperature,
	}
}

func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

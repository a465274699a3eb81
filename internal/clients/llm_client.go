/**
 * LLM Client - OpenRouter-compatible chat completions
 *
 * Sends a system instruction plus user content and returns the raw content
 * of the first choice. Callers own parsing and validation of that content.
 */

package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adverant/nexus/vocab-worker/internal/logging"
)

const (
	// DefaultLLMURL is the OpenRouter chat completions endpoint
	DefaultLLMURL = "https://openrouter.ai/api/v1/chat/completions"
	// DefaultLLMModel is used when no model is configured
	DefaultLLMModel = "openai/gpt-4o-mini"
)

// LLMClient handles communication with the language model service
type LLMClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *logging.Logger
}

// ChatMessage is one message in a completion request
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat requests structured output
type ResponseFormat struct {
	Type string `json:"type"`
}

// ChatRequest is the chat completions request body
type ChatRequest struct {
	Model          string          `json:"model"`
	Messages       []ChatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// ChatResponse is the chat completions response body
type ChatResponse struct {
	ID      string       `json:"id"`
	Model   string       `json:"model"`
	Choices []ChatChoice `json:"choices"`
	Usage   struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// ChatChoice is a single completion choice
type ChatChoice struct {
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

// CompletionRequest is the provider-neutral input to Complete
type CompletionRequest struct {
	Model       string
	System      string
	User        string
	Temperature float64
	JSONMode    bool
}

// NewLLMClient creates a new language model client
func NewLLMClient(endpoint, apiKey string, timeout time.Duration) *LLMClient {
	if endpoint == "" {
		endpoint = DefaultLLMURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &LLMClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logging.NewLogger("LLMClient"),
	}
}

// Complete runs one chat completion and returns the first choice's content.
func (c *LLMClient) Complete(ctx context.Context, req *CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = DefaultLLMModel
	}

	chatReq := ChatRequest{
		Model: model,
		Messages: []ChatMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		Temperature: req.Temperature,
	}
	if req.JSONMode {
		chatReq.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}

	reqBody, err := json.Marshal(chatReq)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewReader(reqBody))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-Title", "Chapter Vocabulary Worker")
	httpReq.Header.Set("X-Source", "vocab-worker")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request to language model failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("language model returned error status %d: %s", resp.StatusCode, truncate(string(body), 512))
	}

	var chatResp ChatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if chatResp.Error != nil {
		return "", fmt.Errorf("language model error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("language model returned no choices")
	}

	content := strings.TrimSpace(chatResp.Choices[0].Message.Content)

	c.logger.Info("Completion received",
		"model", chatResp.Model,
		"promptTokens", chatResp.Usage.PromptTokens,
		"completionTokens", chatResp.Usage.CompletionTokens,
		"finishReason", chatResp.Choices[0].FinishReason,
		"elapsed", time.Since(start))

	return content, nil
}

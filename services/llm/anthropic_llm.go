package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/AleutianAI/aleutian-agent/services/orchestrator/datatypes"
)

const (
	anthropicAPIVersion = "2023-06-01"
	anthropicBaseURL    = "https://api.anthropic.com/v1/messages"

	// anthropicDefaultMaxTokens is used when the caller does not set
	// params.MaxTokens. The Messages API rejects requests without one.
	anthropicDefaultMaxTokens = 4096
)

type anthropicRequest struct {
	Model     string             `json:"model"`
	Messages  []anthropicMessage `json:"messages"`
	System    []systemBlock      `json:"system,omitempty"` // Top-level system prompt
	MaxTokens int                `json:"max_tokens"`
	Tools     []anthropicTool    `json:"tools,omitempty"`

	Temperature *float32 `json:"temperature,omitempty"`
	TopP        *float32 `json:"top_p,omitempty"`
	TopK        *int     `json:"top_k,omitempty"`
	StopSeqs    []string `json:"stop_sequences,omitempty"`
	Stream      bool     `json:"stream,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// anthropicBlock is one content block. Which fields are set depends on
// Type: Text for "text", ID/Name/Input for "tool_use", ToolUseID and
// Content for "tool_result".
type anthropicBlock struct {
	Type      string          `json:"type"`
	Text      string          `json:"text,omitempty"`
	Thinking  string          `json:"thinking,omitempty"`
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name,omitempty"`
	Input     json.RawMessage `json:"input,omitempty"`
	ToolUseID string          `json:"tool_use_id,omitempty"`
	Content   string          `json:"content,omitempty"`
}

type systemBlock struct {
	Type         string        `json:"type"`
	Text         string        `json:"text"`
	CacheControl *cacheControl `json:"cache_control,omitempty"`
}

type cacheControl struct {
	Type string `json:"type"` // Must be "ephemeral"
}

type anthropicTool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"` // JSON Schema
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Role       string           `json:"role"`
	Content    []anthropicBlock `json:"content"`
	StopReason string           `json:"stop_reason"`
	Usage      *anthropicUsage  `json:"usage,omitempty"`
	Error      *anthropicError  `json:"error,omitempty"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// anthropicStreamEvent is one SSE payload. The Type field decides which
// of the other fields are populated.
type anthropicStreamEvent struct {
	Type         string             `json:"type"`
	Message      *anthropicResponse `json:"message,omitempty"`
	Index        int                `json:"index,omitempty"`
	ContentBlock *anthropicBlock    `json:"content_block,omitempty"`
	Delta        *anthropicDelta    `json:"delta,omitempty"`
	Usage        *anthropicUsage    `json:"usage,omitempty"`
	Error        *anthropicError    `json:"error,omitempty"`
}

type anthropicDelta struct {
	Type        string `json:"type"`
	Text        string `json:"text,omitempty"`
	Thinking    string `json:"thinking,omitempty"`
	PartialJSON string `json:"partial_json,omitempty"`
	StopReason  string `json:"stop_reason,omitempty"`
}

// --- Client Implementation ---

type AnthropicClient struct {
	httpClient *http.Client
	apiKey     string
	model      string
	baseURL    string
}

func NewAnthropicClient() (*AnthropicClient, error) {
	apiKey := os.Getenv("ANTHROPIC_API_KEY")
	model := os.Getenv("CLAUDE_MODEL")

	if apiKey == "" {
		secretPath := "/run/secrets/anthropic_api_key"
		if content, err := os.ReadFile(secretPath); err == nil {
			apiKey = strings.TrimSpace(string(content))
			slog.Info("Read Anthropic API Key from Podman Secrets")
		}
	}

	if apiKey == "" {
		slog.Warn("Anthropic API Key is missing.")
		return nil, fmt.Errorf("ANTHROPIC_API_KEY is missing")
	}

	if model == "" {
		model = "claude-3-5-sonnet-20240620"
		slog.Info("CLAUDE_MODEL not set, defaulting to", "model", model)
	}

	return &AnthropicClient{
		httpClient: &http.Client{Timeout: 120 * time.Second},
		apiKey:     apiKey,
		model:      model,
		baseURL:    anthropicBaseURL,
	}, nil
}

// Generate implements the LLMClient interface
func (a *AnthropicClient) Generate(ctx context.Context, prompt string, params GenerationParams) (string, error) {
	messages := []datatypes.Message{
		{Role: datatypes.RoleUser, Content: prompt},
	}
	result, err := a.Chat(ctx, messages, params)
	if err != nil {
		return "", err
	}
	if result.Content == "" {
		return "", fmt.Errorf("received content but no text block found")
	}
	return result.Content, nil
}

// Chat implements the LLMClient interface
func (a *AnthropicClient) Chat(ctx context.Context, messages []datatypes.Message, params GenerationParams) (*ChatResult, error) {
	reqPayload := a.buildRequest(messages, params, false)

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(req)

	slog.Debug("Sending REST request to Anthropic", "model", a.model)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response JSON: %w", err)
	}
	if apiResp.Error != nil {
		return nil, fmt.Errorf("anthropic API error: %s - %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	if len(apiResp.Content) == 0 {
		return nil, fmt.Errorf("received empty content from Anthropic")
	}

	result := &ChatResult{}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "thinking":
			slog.Debug("Claude thoughts", "thinking", block.Thinking)
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, datatypes.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: block.Input,
			})
		}
	}
	if result.Content == "" && len(result.ToolCalls) == 0 {
		return nil, fmt.Errorf("received content but no text or tool_use block found")
	}
	if apiResp.Usage != nil {
		result.Usage = &Usage{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
		}
	}

	slog.Debug("Received chat response from Anthropic",
		"stop_reason", apiResp.StopReason,
		"tool_calls", len(result.ToolCalls),
	)
	return result, nil
}

// ChatStream implements the LLMClient interface
func (a *AnthropicClient) ChatStream(ctx context.Context, messages []datatypes.Message,
	params GenerationParams, callback StreamCallback) error {

	reqPayload := a.buildRequest(messages, params, true)

	reqBodyBytes, err := json.Marshal(reqPayload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", a.baseURL, bytes.NewBuffer(reqBodyBytes))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	a.setHeaders(req)

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("anthropic API returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}

	// Tool call arguments arrive as input_json_delta fragments keyed by
	// block index. Assemble them and emit one tool_calls event at the end,
	// same contract as the OpenAI client.
	type toolBlock struct {
		id   string
		name string
		args strings.Builder
	}
	pending := make(map[int]*toolBlock)
	order := []int{}
	var usage *Usage

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := bytes.TrimSpace(scanner.Bytes())
		// SSE frames: "event: <name>" then "data: <json>". The payload
		// repeats the event name in its type field, so only data matters.
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		payload := bytes.TrimSpace(bytes.TrimPrefix(line, []byte("data:")))
		if len(payload) == 0 {
			continue
		}

		var event anthropicStreamEvent
		if err := json.Unmarshal(payload, &event); err != nil {
			slog.Warn("Skipping malformed stream event from Anthropic", "error", err)
			continue
		}

		switch event.Type {
		case "message_start":
			if event.Message != nil && event.Message.Usage != nil {
				usage = &Usage{PromptTokens: event.Message.Usage.InputTokens}
			}
		case "content_block_start":
			if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
				pending[event.Index] = &toolBlock{
					id:   event.ContentBlock.ID,
					name: event.ContentBlock.Name,
				}
				order = append(order, event.Index)
				if err := callback(StreamEvent{Type: StreamEventToolPending, Content: event.ContentBlock.Name}); err != nil {
					return err
				}
			}
		case "content_block_delta":
			if event.Delta == nil {
				continue
			}
			switch event.Delta.Type {
			case "text_delta":
				if err := callback(StreamEvent{Type: StreamEventToken, Content: event.Delta.Text}); err != nil {
					return err
				}
			case "thinking_delta":
				if err := callback(StreamEvent{Type: StreamEventThinking, Content: event.Delta.Thinking}); err != nil {
					return err
				}
			case "input_json_delta":
				if block, ok := pending[event.Index]; ok {
					block.args.WriteString(event.Delta.PartialJSON)
				}
			}
		case "message_delta":
			if event.Usage != nil {
				if usage == nil {
					usage = &Usage{}
				}
				usage.CompletionTokens = event.Usage.OutputTokens
			}
		case "error":
			if event.Error != nil {
				return fmt.Errorf("anthropic API error: %s - %s", event.Error.Type, event.Error.Message)
			}
			return fmt.Errorf("anthropic stream reported an error")
		}
	}
	if err := scanner.Err(); err != nil {
		// A cancelled context surfaces as a transport read error here.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("anthropic stream read failed: %w", err)
	}

	if len(order) > 0 {
		toolCalls := make([]datatypes.ToolCall, 0, len(order))
		for _, idx := range order {
			block := pending[idx]
			args := block.args.String()
			if args == "" {
				args = "{}"
			}
			toolCalls = append(toolCalls, datatypes.ToolCall{
				ID:        block.id,
				Name:      block.name,
				Arguments: json.RawMessage(args),
			})
		}
		if err := callback(StreamEvent{Type: StreamEventToolCalls, ToolCalls: toolCalls}); err != nil {
			return err
		}
	}
	return callback(StreamEvent{Type: StreamEventDone, Usage: usage})
}

func (a *AnthropicClient) setHeaders(req *http.Request) {
	req.Header.Set("x-api-key", a.apiKey)
	req.Header.Set("anthropic-version", anthropicAPIVersion)
	req.Header.Set("content-type", "application/json")
}

// buildRequest converts internal messages to the Messages API format.
//
// The system role moves to the top-level system field. Assistant tool
// calls become tool_use blocks, and tool results become tool_result
// blocks inside user messages. Consecutive tool results are merged into
// one user message; the API rejects a tool_result that does not
// immediately follow its tool_use turn.
func (a *AnthropicClient) buildRequest(messages []datatypes.Message, params GenerationParams, stream bool) *anthropicRequest {
	var apiMessages []anthropicMessage
	var systemPrompt string

	appendToolResult := func(block anthropicBlock) {
		if n := len(apiMessages); n > 0 {
			last := &apiMessages[n-1]
			if last.Role == "user" && len(last.Content) > 0 && last.Content[0].Type == "tool_result" {
				last.Content = append(last.Content, block)
				return
			}
		}
		apiMessages = append(apiMessages, anthropicMessage{
			Role:    "user",
			Content: []anthropicBlock{block},
		})
	}

	for _, msg := range messages {
		switch strings.ToLower(msg.Role) {
		case datatypes.RoleSystem:
			systemPrompt = msg.Content
		case datatypes.RoleTool:
			appendToolResult(anthropicBlock{
				Type:      "tool_result",
				ToolUseID: msg.ToolCallID,
				Content:   msg.Content,
			})
		case datatypes.RoleAssistant:
			var blocks []anthropicBlock
			if msg.Content != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				input := tc.Arguments
				if len(input) == 0 {
					input = json.RawMessage("{}")
				}
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    tc.ID,
					Name:  tc.Name,
					Input: input,
				})
			}
			if len(blocks) == 0 {
				continue
			}
			apiMessages = append(apiMessages, anthropicMessage{Role: "assistant", Content: blocks})
		default:
			apiMessages = append(apiMessages, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: msg.Content}},
			})
		}
	}

	// Handle System Prompt with Caching
	var systemBlocks []systemBlock
	if systemPrompt != "" {
		block := systemBlock{
			Type: "text",
			Text: systemPrompt,
		}
		if len(systemPrompt) > 1024 {
			block.CacheControl = &cacheControl{Type: "ephemeral"}
		}
		systemBlocks = append(systemBlocks, block)
	}

	reqPayload := &anthropicRequest{
		Model:       a.model,
		Messages:    apiMessages,
		System:      systemBlocks,
		MaxTokens:   anthropicDefaultMaxTokens,
		Temperature: params.Temperature,
		TopP:        params.TopP,
		TopK:        params.TopK,
		StopSeqs:    params.Stop,
		Stream:      stream,
	}
	if params.MaxTokens != nil {
		reqPayload.MaxTokens = *params.MaxTokens
	}
	for _, tool := range params.Tools {
		reqPayload.Tools = append(reqPayload.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	return reqPayload
}

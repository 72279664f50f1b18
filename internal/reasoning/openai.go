package reasoning

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/transitops/movi/internal/capability"
	"github.com/transitops/movi/internal/domain"
)

const (
	defaultBaseURL     = "https://api.openai.com"
	chatCompletionsPath = "/v1/chat/completions"
	defaultHTTPTimeout = 60 * time.Second
	userAgent          = "movi-server/reasoning"
)

// OpenAIConfig configures the chat-completions client.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// OpenAIGateway implements Gateway against an OpenAI-compatible
// chat-completions endpoint.
type OpenAIGateway struct {
	client  *http.Client
	baseURL string
	model   string
	apiKey  string
}

// NewOpenAI creates a chat-completions gateway. When client is nil a default
// client with the configured timeout is used.
func NewOpenAI(cfg OpenAIConfig, client *http.Client) (*OpenAIGateway, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api key is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("openai model name is required")
	}

	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultHTTPTimeout
		}
		client = &http.Client{Timeout: timeout}
	}

	return &OpenAIGateway{
		client:  client,
		baseURL: baseURL,
		model:   cfg.Model,
		apiKey:  cfg.APIKey,
	}, nil
}

// Wire types follow the chat-completions contract.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Tools       []chatTool    `json:"tools,omitempty"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
}

type chatToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type chatTool struct {
	Type     string      `json:"type"`
	Function chatToolDef `json:"function"`
}

type chatToolDef struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Parameters  capability.Schema `json:"parameters"`
}

type chatResponse struct {
	Choices []struct {
		Message      chatMessage `json:"message"`
		FinishReason string      `json:"finish_reason"`
	} `json:"choices"`
}

type errorResponse struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// APIError surfaces reasoning-service errors with HTTP metadata.
type APIError struct {
	StatusCode int
	Type       string
	Message    string
}

func (e APIError) Error() string {
	if e.Type == "" {
		return fmt.Sprintf("reasoning API error (%d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("reasoning API error (%d, %s): %s", e.StatusCode, e.Type, e.Message)
}

// Decide sends the full history plus capability definitions and maps the
// response back into a domain message. Malformed capability-call arguments
// are an error; missing arguments are never guessed.
func (g *OpenAIGateway) Decide(ctx context.Context, history []domain.Message, defs []capability.Definition) (domain.Message, error) {
	reqBody := chatRequest{
		Model:    g.model,
		Messages: make([]chatMessage, 0, len(history)),
	}
	for _, m := range history {
		reqBody.Messages = append(reqBody.Messages, toChatMessage(m))
	}
	for _, def := range defs {
		reqBody.Tools = append(reqBody.Tools, chatTool{
			Type: "function",
			Function: chatToolDef{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  def.Parameters,
			},
		})
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return domain.Message{}, fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		g.baseURL+chatCompletionsPath, bytes.NewReader(payload))
	if err != nil {
		return domain.Message{}, fmt.Errorf("build chat request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		return domain.Message{}, fmt.Errorf("call reasoning service: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Message{}, fmt.Errorf("read reasoning response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr errorResponse
		if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error.Message != "" {
			return domain.Message{}, APIError{
				StatusCode: resp.StatusCode,
				Type:       apiErr.Error.Type,
				Message:    apiErr.Error.Message,
			}
		}
		return domain.Message{}, APIError{StatusCode: resp.StatusCode, Message: string(body)}
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return domain.Message{}, fmt.Errorf("decode reasoning response: %w", err)
	}
	if len(parsed.Choices) == 0 {
		return domain.Message{}, fmt.Errorf("reasoning response contained no choices")
	}

	return fromChatMessage(parsed.Choices[0].Message)
}

func toChatMessage(m domain.Message) chatMessage {
	out := chatMessage{
		Role:       string(m.Role),
		Content:    m.Content,
		ToolCallID: m.ToolCallID,
	}
	for _, call := range m.ToolCalls {
		args, err := json.Marshal(call.Arguments)
		if err != nil {
			args = []byte("{}")
		}
		out.ToolCalls = append(out.ToolCalls, chatToolCall{
			ID:   call.ID,
			Type: "function",
			Function: chatFunction{
				Name:      call.Name,
				Arguments: string(args),
			},
		})
	}
	return out
}

func fromChatMessage(m chatMessage) (domain.Message, error) {
	out := domain.Message{
		Role:    domain.RoleAssistant,
		Content: m.Content,
	}
	for _, call := range m.ToolCalls {
		args := map[string]any{}
		raw := strings.TrimSpace(call.Function.Arguments)
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &args); err != nil {
				return domain.Message{}, fmt.Errorf(
					"malformed arguments for capability %s: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, domain.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

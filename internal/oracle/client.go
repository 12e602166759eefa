package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"datagov/agent/internal/config"
)

const maxErrorBodyBytes = 8 * 1024

var ErrMissingAPIKey = errors.New("oracle api key is not configured")

// SchemaError reports a structured-output response that does not match the
// declared shape. It is fatal for the enclosing call and never retried.
type SchemaError struct {
	Schema string
	Detail string
}

func (e SchemaError) Error() string {
	return fmt.Sprintf("oracle output does not match schema %q: %s", e.Schema, e.Detail)
}

type APIError struct {
	StatusCode int
	Body       string
}

func (e APIError) Error() string {
	return fmt.Sprintf("oracle returned %d: %s", e.StatusCode, e.Body)
}

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

// ToolCall is one tool invocation proposed by the oracle.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolDefinition describes a tool the oracle may invoke by name.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type ReplyKind string

const (
	ReplyToolRequest ReplyKind = "tool_request"
	ReplyFinalAnswer ReplyKind = "final_answer"
)

// Reply is the tagged result of a free-form invocation: either the oracle
// wants tools executed, or it has produced its final text.
type Reply struct {
	Kind      ReplyKind
	Text      string
	ToolCalls []ToolCall
}

// Schema declares the shape of a structured response.
type Schema struct {
	Name       string
	Definition json.RawMessage
}

type Invoker interface {
	Invoke(ctx context.Context, messages []Message, tools []ToolDefinition) (Reply, error)
	InvokeStructured(ctx context.Context, messages []Message, schema Schema, target any) error
}

type Client struct {
	apiKey     string
	baseURL    string
	model      string
	httpClient *http.Client
}

func NewClient(cfg config.Config, httpClient *http.Client) Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return Client{
		apiKey:     strings.TrimSpace(cfg.OracleAPIKey),
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.OracleBaseURL), "/"),
		model:      strings.TrimSpace(cfg.OracleModel),
		httpClient: httpClient,
	}
}

type apiToolFunction struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters,omitempty"`
}

type apiTool struct {
	Type     string          `json:"type"`
	Function apiToolFunction `json:"function"`
}

type apiMessage struct {
	Role       string        `json:"role"`
	Content    string        `json:"content"`
	ToolCalls  []apiToolCall `json:"tool_calls,omitempty"`
	ToolCallID string        `json:"tool_call_id,omitempty"`
	Name       string        `json:"name,omitempty"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type apiJSONSchema struct {
	Name   string          `json:"name"`
	Strict bool            `json:"strict"`
	Schema json.RawMessage `json:"schema"`
}

type apiResponseFormat struct {
	Type       string         `json:"type"`
	JSONSchema *apiJSONSchema `json:"json_schema,omitempty"`
}

type apiRequest struct {
	Model          string             `json:"model"`
	Messages       []apiMessage       `json:"messages"`
	Tools          []apiTool          `json:"tools,omitempty"`
	ResponseFormat *apiResponseFormat `json:"response_format,omitempty"`
}

type apiResponse struct {
	Choices []struct {
		Message apiMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// Invoke performs a free-form, optionally tool-augmented oracle call. The
// reply tag tells the caller whether tool executions were requested.
func (c Client) Invoke(ctx context.Context, messages []Message, tools []ToolDefinition) (Reply, error) {
	apiTools := make([]apiTool, 0, len(tools))
	for _, tool := range tools {
		apiTools = append(apiTools, apiTool{
			Type: "function",
			Function: apiToolFunction{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	parsed, err := c.complete(ctx, apiRequest{
		Model:    c.model,
		Messages: toAPIMessages(messages),
		Tools:    apiTools,
	})
	if err != nil {
		return Reply{}, err
	}

	message := parsed.Choices[0].Message
	if len(message.ToolCalls) > 0 {
		calls := make([]ToolCall, 0, len(message.ToolCalls))
		for _, call := range message.ToolCalls {
			calls = append(calls, ToolCall{
				ID:        call.ID,
				Name:      call.Function.Name,
				Arguments: json.RawMessage(call.Function.Arguments),
			})
		}
		return Reply{Kind: ReplyToolRequest, Text: message.Content, ToolCalls: calls}, nil
	}

	return Reply{Kind: ReplyFinalAnswer, Text: message.Content}, nil
}

// InvokeStructured performs an oracle call constrained to the declared JSON
// schema and decodes the response into target. A response that fails to
// decode is a SchemaError.
func (c Client) InvokeStructured(ctx context.Context, messages []Message, schema Schema, target any) error {
	parsed, err := c.complete(ctx, apiRequest{
		Model:    c.model,
		Messages: toAPIMessages(messages),
		ResponseFormat: &apiResponseFormat{
			Type: "json_schema",
			JSONSchema: &apiJSONSchema{
				Name:   schema.Name,
				Strict: true,
				Schema: schema.Definition,
			},
		},
	})
	if err != nil {
		return err
	}

	content := strings.TrimSpace(parsed.Choices[0].Message.Content)
	if content == "" {
		return SchemaError{Schema: schema.Name, Detail: "empty response"}
	}
	if err := json.Unmarshal([]byte(content), target); err != nil {
		return SchemaError{Schema: schema.Name, Detail: err.Error()}
	}
	return nil
}

func (c Client) complete(ctx context.Context, req apiRequest) (apiResponse, error) {
	if c.apiKey == "" {
		return apiResponse{}, ErrMissingAPIKey
	}
	if len(req.Messages) == 0 {
		return apiResponse{}, errors.New("messages are required")
	}

	payload, err := json.Marshal(req)
	if err != nil {
		return apiResponse{}, fmt.Errorf("marshal oracle request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return apiResponse{}, fmt.Errorf("build oracle request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return apiResponse{}, fmt.Errorf("request oracle: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return apiResponse{}, APIError{
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	var parsed apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return apiResponse{}, fmt.Errorf("decode oracle response: %w", err)
	}
	if parsed.Error != nil && strings.TrimSpace(parsed.Error.Message) != "" {
		return apiResponse{}, errors.New(strings.TrimSpace(parsed.Error.Message))
	}
	if len(parsed.Choices) == 0 {
		return apiResponse{}, errors.New("oracle response has no choices")
	}
	return parsed, nil
}

func toAPIMessages(messages []Message) []apiMessage {
	out := make([]apiMessage, 0, len(messages))
	for _, message := range messages {
		converted := apiMessage{
			Role:       string(message.Role),
			Content:    message.Content,
			ToolCallID: message.ToolCallID,
			Name:       message.Name,
		}
		for _, call := range message.ToolCalls {
			apiCall := apiToolCall{ID: call.ID, Type: "function"}
			apiCall.Function.Name = call.Name
			apiCall.Function.Arguments = string(call.Arguments)
			converted.ToolCalls = append(converted.ToolCalls, apiCall)
		}
		out = append(out, converted)
	}
	return out
}

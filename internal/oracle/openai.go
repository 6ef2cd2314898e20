package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventline/internal/domain"
	"eventline/internal/logging"
)

// OpenAI talks to any OpenAI-compatible chat/completions endpoint.
type OpenAI struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewOpenAI(baseURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *OpenAI {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAI{
		baseURL:    normalizeBaseURL(baseURL),
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.OrNop(logger),
	}
}

// normalizeBaseURL strips trailing slashes and a "/chat/completions"
// suffix so the path is never doubled.
func normalizeBaseURL(raw string) string {
	s := strings.TrimRight(raw, "/")
	return strings.TrimSuffix(s, "/chat/completions")
}

type chatRequest struct {
	Model    string     `json:"model"`
	Messages []chatMsg  `json:"messages"`
	Tools    []chatTool `json:"tools,omitempty"`
}

type chatMsg struct {
	Role       string         `json:"role"`
	Content    string         `json:"content"`
	Name       string         `json:"name,omitempty"`
	ToolCallID string         `json:"tool_call_id,omitempty"`
	ToolCalls  []chatToolCall `json:"tool_calls,omitempty"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string         `json:"content"`
			ToolCalls []chatToolCall `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (o *OpenAI) Invoke(ctx context.Context, req Request) (Response, error) {
	payload := chatRequest{Model: o.model, Messages: toChatMessages(req)}
	for _, a := range req.Actions {
		payload.Tools = append(payload.Tools, chatTool{
			Type:     "function",
			Function: chatFunction{Name: a.Name, Description: a.Description, Parameters: a.Parameters},
		})
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Response{}, fmt.Errorf("oracle: marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("oracle: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)

	resp, err := o.httpClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("oracle: http request: %w", err)
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("oracle: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return Response{}, fmt.Errorf("oracle: HTTP %d: %s", resp.StatusCode, string(respBody))
	}
	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return Response{}, fmt.Errorf("oracle: unmarshal response: %w", err)
	}
	if chatResp.Error != nil {
		return Response{}, fmt.Errorf("oracle: API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return Response{}, fmt.Errorf("oracle: no choices in response")
	}
	msg := chatResp.Choices[0].Message
	out := Response{Utterance: msg.Content}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		args := json.RawMessage(tc.Function.Arguments)
		if !json.Valid(args) {
			args = json.RawMessage("{}")
		}
		out.Actions = append(out.Actions, domain.ActionCall{ID: id, Name: tc.Function.Name, Args: args})
	}
	o.logger.Debug("oracle response",
		zap.String("model", o.model),
		zap.Int("prompt_tokens", chatResp.Usage.PromptTokens),
		zap.Int("completion_tokens", chatResp.Usage.CompletionTokens),
		zap.Int("actions", len(out.Actions)))
	return out, nil
}

func toChatMessages(req Request) []chatMsg {
	msgs := []chatMsg{{Role: "system", Content: req.System}}
	for _, t := range req.Turns {
		m := chatMsg{Role: string(t.Role), Content: t.Content}
		switch t.Role {
		case domain.RoleTool:
			m.ToolCallID = t.ToolCallID
		case domain.RoleAssistant:
			for _, a := range t.Actions {
				tc := chatToolCall{ID: a.ID, Type: "function"}
				tc.Function.Name = a.Name
				tc.Function.Arguments = string(a.Args)
				if tc.Function.Arguments == "" {
					tc.Function.Arguments = "{}"
				}
				m.ToolCalls = append(m.ToolCalls, tc)
			}
		}
		msgs = append(msgs, m)
	}
	return msgs
}

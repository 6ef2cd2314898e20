package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"eventline/internal/config"
	"eventline/internal/domain"
	"eventline/internal/logging"
)

func TestNormalizeBaseURL(t *testing.T) {
	assert.Equal(t, "https://api.x/v1", normalizeBaseURL("https://api.x/v1/"))
	assert.Equal(t, "https://api.x/v1", normalizeBaseURL("https://api.x/v1/chat/completions"))
}

func TestOpenAIInvokeMapsToolCalls(t *testing.T) {
	var got chatRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"looking","tool_calls":[
			{"id":"c1","type":"function","function":{"name":"fetch_suppliers","arguments":"{\"content\":\"Restaurant\"}"}},
			{"id":"c2","type":"function","function":{"name":"get_event_detail","arguments":"not json"}}]}}]}`))
	}))
	defer srv.Close()

	o := NewOpenAI(srv.URL+"/v1/", "k", "m", 0, nil)
	resp, err := o.Invoke(context.Background(), Request{
		System: "sys",
		Turns: []domain.Turn{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Actions: []domain.ActionCall{{ID: "a1", Name: "x"}}},
			{Role: domain.RoleTool, ToolCallID: "a1", Content: "done"},
		},
		Actions: []ActionSpec{{Name: "fetch_suppliers", Parameters: map[string]any{"type": "object"}}},
	})
	require.NoError(t, err)

	assert.Equal(t, "looking", resp.Utterance)
	require.Len(t, resp.Actions, 2)
	assert.JSONEq(t, `{"content":"Restaurant"}`, string(resp.Actions[0].Args))
	assert.JSONEq(t, `{}`, string(resp.Actions[1].Args))

	require.Len(t, got.Messages, 4)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "{}", got.Messages[2].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "a1", got.Messages[3].ToolCallID)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "function", got.Tools[0].Type)
}

func TestOpenAIInvokeSurfacesHTTPErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewOpenAI(srv.URL, "k", "m", 0, nil).Invoke(context.Background(), Request{})
	assert.ErrorContains(t, err, "HTTP 401")
}

type fakeGenerator struct {
	contents []*genai.Content
	config   *genai.GenerateContentConfig
	resp     *genai.GenerateContentResponse
}

func (f *fakeGenerator) GenerateContent(ctx context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.contents = contents
	f.config = cfg
	return f.resp, nil
}

func TestGeminiInvoke(t *testing.T) {
	gen := &fakeGenerator{resp: &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{Content: &genai.Content{Role: genai.RoleModel, Parts: []*genai.Part{
			{Text: "thinking", Thought: true},
			{Text: "Here you go"},
			{FunctionCall: &genai.FunctionCall{Name: "fetch_suppliers", Args: map[string]any{"content": "Hotel"}}},
		}}}},
	}}
	g := &Gemini{models: gen, model: "gemini-test", logger: logging.OrNop(nil)}

	resp, err := g.Invoke(context.Background(), Request{
		System: "sys",
		Turns: []domain.Turn{
			{Role: domain.RoleUser, Content: "hi"},
			{Role: domain.RoleAssistant, Actions: []domain.ActionCall{{ID: "a1", Name: "fetch_suppliers", Args: json.RawMessage(`{"content":"Bus"}`)}}},
			{Role: domain.RoleTool, ToolCallID: "a1", Content: "[]"},
		},
		Actions: []ActionSpec{{Name: "fetch_suppliers"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "Here you go", resp.Utterance)
	require.Len(t, resp.Actions, 1)
	assert.NotEmpty(t, resp.Actions[0].ID)
	assert.JSONEq(t, `{"content":"Hotel"}`, string(resp.Actions[0].Args))

	require.Len(t, gen.contents, 3)
	assert.Equal(t, "fetch_suppliers", gen.contents[1].Parts[0].FunctionCall.Name)
	assert.Equal(t, "fetch_suppliers", gen.contents[2].Parts[0].FunctionResponse.Name)
	require.Len(t, gen.config.Tools, 1)
	assert.Len(t, gen.config.Tools[0].FunctionDeclarations, 1)
}

func TestScriptedReplaysInOrder(t *testing.T) {
	s, err := ParseScript([]byte(`
responses:
  - say: first
    actions:
      - name: fetch_suppliers
        args: {content: Restaurant, limit: 3}
  - say: second
`))
	require.NoError(t, err)

	r1, err := s.Invoke(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "first", r1.Utterance)
	require.Len(t, r1.Actions, 1)
	assert.JSONEq(t, `{"content":"Restaurant","limit":3}`, string(r1.Actions[0].Args))

	r2, err := s.Invoke(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "second", r2.Utterance)
	assert.Empty(t, r2.Actions)

	_, err = s.Invoke(context.Background(), Request{})
	assert.ErrorIs(t, err, ErrScriptExhausted)
	assert.Len(t, s.Requests(), 3)
}

func TestNewSelectsProvider(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.yml")
	require.NoError(t, os.WriteFile(path, []byte("responses: [{say: hi}]\n"), 0o644))

	o, err := New(context.Background(), config.Oracle{Provider: "scripted", Script: path}, nil)
	require.NoError(t, err)
	assert.IsType(t, &Scripted{}, o)

	t.Setenv("EVENTLINE_TEST_KEY", "")
	_, err = New(context.Background(), config.Oracle{Provider: "openai", APIKeyEnv: "EVENTLINE_TEST_KEY"}, nil)
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv("EVENTLINE_TEST_KEY", "secret")
	o, err = New(context.Background(), config.Oracle{Provider: "openai", APIKeyEnv: "EVENTLINE_TEST_KEY", Model: "m"}, nil)
	require.NoError(t, err)
	assert.IsType(t, &OpenAI{}, o)

	_, err = New(context.Background(), config.Oracle{Provider: "other"}, nil)
	assert.Error(t, err)
}

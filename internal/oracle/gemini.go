package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"eventline/internal/domain"
	"eventline/internal/logging"
)

// contentGenerator is the part of genai.Models the oracle needs.
type contentGenerator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini drives the phases with Google's Gemini API.
type Gemini struct {
	models contentGenerator
	model  string
	logger *zap.Logger
}

func NewGemini(ctx context.Context, apiKey, model string, logger *zap.Logger) (*Gemini, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &Gemini{models: client.Models, model: model, logger: logging.OrNop(logger)}, nil
}

func (g *Gemini) Invoke(ctx context.Context, req Request) (Response, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(req.System, genai.RoleUser),
	}
	if len(req.Actions) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.Actions))
		for _, a := range req.Actions {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:                 a.Name,
				Description:          a.Description,
				ParametersJsonSchema: a.Parameters,
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}

	resp, err := g.models.GenerateContent(ctx, g.model, toGeminiContents(req.Turns), cfg)
	if err != nil {
		return Response{}, fmt.Errorf("gemini generate: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return Response{}, fmt.Errorf("gemini generate: empty response")
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p == nil || p.Thought {
			continue
		}
		text.WriteString(p.Text)
	}
	out := Response{Utterance: text.String()}
	for _, fc := range resp.FunctionCalls() {
		args, err := json.Marshal(fc.Args)
		if err != nil || fc.Args == nil {
			args = []byte("{}")
		}
		id := fc.ID
		if id == "" {
			id = uuid.NewString()
		}
		out.Actions = append(out.Actions, domain.ActionCall{ID: id, Name: fc.Name, Args: args})
	}
	g.logger.Debug("oracle response", zap.String("model", g.model), zap.Int("actions", len(out.Actions)))
	return out, nil
}

// toGeminiContents maps the conversation onto user and model roles. Tool
// results go back as function responses keyed by action name.
func toGeminiContents(turns []domain.Turn) []*genai.Content {
	names := map[string]string{}
	var out []*genai.Content
	for _, t := range turns {
		switch t.Role {
		case domain.RoleAssistant:
			var parts []*genai.Part
			if t.Content != "" {
				parts = append(parts, genai.NewPartFromText(t.Content))
			}
			for _, a := range t.Actions {
				names[a.ID] = a.Name
				args := map[string]any{}
				_ = json.Unmarshal(a.Args, &args)
				parts = append(parts, genai.NewPartFromFunctionCall(a.Name, args))
			}
			if len(parts) > 0 {
				out = append(out, genai.NewContentFromParts(parts, genai.RoleModel))
			}
		case domain.RoleTool:
			name := names[t.ToolCallID]
			if name == "" {
				name = t.Name
			}
			if name == "" {
				out = append(out, genai.NewContentFromText(t.Content, genai.RoleUser))
				continue
			}
			part := genai.NewPartFromFunctionResponse(name, map[string]any{"output": t.Content})
			out = append(out, genai.NewContentFromParts([]*genai.Part{part}, genai.RoleUser))
		default:
			// user and system turns both travel as user text
			if t.Content != "" {
				out = append(out, genai.NewContentFromText(t.Content, genai.RoleUser))
			}
		}
	}
	return out
}

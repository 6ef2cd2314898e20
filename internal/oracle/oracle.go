// Package oracle is the decision-making collaborator that drives each
// phase: given the conversation it returns an utterance and, optionally,
// actions to run.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"

	"eventline/internal/config"
	"eventline/internal/domain"
)

// ActionSpec describes an action the oracle may request. Parameters is a
// JSON schema object.
type ActionSpec struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type Request struct {
	System  string
	Turns   []domain.Turn
	Actions []ActionSpec
}

type Response struct {
	Utterance string
	Actions   []domain.ActionCall
}

type Oracle interface {
	Invoke(ctx context.Context, req Request) (Response, error)
}

// Func adapts a function to Oracle.
type Func func(ctx context.Context, req Request) (Response, error)

func (f Func) Invoke(ctx context.Context, req Request) (Response, error) { return f(ctx, req) }

var ErrMissingAPIKey = errors.New("oracle api key not set")

// New builds the variant named by cfg.Provider.
func New(ctx context.Context, cfg config.Oracle, logger *zap.Logger) (Oracle, error) {
	switch cfg.Provider {
	case "openai":
		key, err := apiKey(cfg)
		if err != nil {
			return nil, err
		}
		return NewOpenAI(cfg.BaseURL, key, cfg.Model, cfg.Timeout, logger), nil
	case "gemini":
		key, err := apiKey(cfg)
		if err != nil {
			return nil, err
		}
		return NewGemini(ctx, key, cfg.Model, logger)
	case "scripted":
		return LoadScript(cfg.Script)
	}
	return nil, fmt.Errorf("unknown oracle provider %q", cfg.Provider)
}

func apiKey(cfg config.Oracle) (string, error) {
	if cfg.APIKeyEnv == "" {
		return "", fmt.Errorf("%w: config.oracle.api_key_env is empty", ErrMissingAPIKey)
	}
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrMissingAPIKey, cfg.APIKeyEnv)
	}
	return key, nil
}

package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"eventline/internal/domain"
)

var ErrScriptExhausted = errors.New("scripted oracle has no responses left")

// Scripted replays canned responses in order. It backs offline demos and
// end-to-end tests.
type Scripted struct {
	mu        sync.Mutex
	responses []ScriptedResponse
	next      int
	requests  []Request
}

type ScriptedResponse struct {
	Say     string           `yaml:"say"`
	Actions []ScriptedAction `yaml:"actions"`
}

type ScriptedAction struct {
	Name string         `yaml:"name"`
	Args map[string]any `yaml:"args"`
}

type scriptFile struct {
	Responses []ScriptedResponse `yaml:"responses"`
}

// LoadScript reads a YAML file of the form
//
//	responses:
//	  - say: "..."
//	    actions:
//	      - name: fetch_suppliers
//	        args: {content: Restaurant}
func LoadScript(path string) (*Scripted, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	return ParseScript(data)
}

func ParseScript(data []byte) (*Scripted, error) {
	var f scriptFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("invalid script yaml: %w", err)
	}
	return NewScripted(f.Responses...), nil
}

func NewScripted(responses ...ScriptedResponse) *Scripted {
	return &Scripted{responses: responses}
}

func (s *Scripted) Invoke(ctx context.Context, req Request) (Response, error) {
	if err := ctx.Err(); err != nil {
		return Response{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if s.next >= len(s.responses) {
		return Response{}, ErrScriptExhausted
	}
	r := s.responses[s.next]
	s.next++
	out := Response{Utterance: r.Say}
	for _, a := range r.Actions {
		args := a.Args
		if args == nil {
			args = map[string]any{}
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return Response{}, fmt.Errorf("scripted action %s: %w", a.Name, err)
		}
		out.Actions = append(out.Actions, domain.ActionCall{ID: uuid.NewString(), Name: a.Name, Args: raw})
	}
	return out, nil
}

// Requests returns what the oracle has been asked so far.
func (s *Scripted) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Remaining reports how many responses are left.
func (s *Scripted) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.responses) - s.next
}

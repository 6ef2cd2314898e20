// Package actions holds the side-effecting operations the oracle may
// request during a phase.
package actions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"eventline/internal/domain"
	"eventline/internal/oracle"
)

var (
	ErrUnknownAction = errors.New("unknown action")
	ErrDuplicate     = errors.New("action already registered")
	ErrPanicked      = errors.New("action panicked")
	ErrBadArgs       = errors.New("invalid action arguments")
)

// Call is what an action sees: the run it acts for, a read-only view of the
// run's document and the raw arguments.
type Call struct {
	RunID string
	Doc   *domain.Document
	Args  json.RawMessage
}

type Handler func(ctx context.Context, call Call) (any, error)

type Action struct {
	Name        string
	Description string
	Parameters  map[string]any
	Handler     Handler
}

// Registry is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]*Action
}

func NewRegistry() *Registry {
	return &Registry{actions: map[string]*Action{}}
}

func (r *Registry) Register(a *Action) error {
	if a == nil || a.Name == "" || a.Handler == nil {
		return fmt.Errorf("invalid action: name and handler are required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.actions[a.Name]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicate, a.Name)
	}
	r.actions[a.Name] = a
	return nil
}

func (r *Registry) MustRegister(a *Action) {
	if err := r.Register(a); err != nil {
		panic(fmt.Sprintf("failed to register action %s: %v", a.Name, err))
	}
}

func (r *Registry) Lookup(name string) (*Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Names returns registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.actions))
	for name := range r.actions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Specs describes the named actions for the oracle; with no names it
// describes every registered action. Unknown names are skipped.
func (r *Registry) Specs(names ...string) []oracle.ActionSpec {
	if len(names) == 0 {
		names = r.Names()
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	specs := make([]oracle.ActionSpec, 0, len(names))
	for _, name := range names {
		a, ok := r.actions[name]
		if !ok {
			continue
		}
		params := a.Parameters
		if params == nil {
			params = object(nil)
		}
		specs = append(specs, oracle.ActionSpec{Name: a.Name, Description: a.Description, Parameters: params})
	}
	return specs
}

// Execute runs an action and renders its result as JSON. A panicking
// handler is reported as ErrPanicked.
func (r *Registry) Execute(ctx context.Context, name string, call Call) (out string, err error) {
	a, ok := r.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
	defer func() {
		if p := recover(); p != nil {
			out = ""
			err = fmt.Errorf("%w: %s: %v", ErrPanicked, name, p)
		}
	}()
	if len(call.Args) == 0 {
		call.Args = json.RawMessage("{}")
	}
	res, err := a.Handler(ctx, call)
	if err != nil {
		return "", err
	}
	data, err := json.Marshal(res)
	if err != nil {
		return "", fmt.Errorf("encode %s result: %w", name, err)
	}
	return string(data), nil
}

func decodeArgs(call Call, out any) error {
	if err := json.Unmarshal(call.Args, out); err != nil {
		return fmt.Errorf("%w: %v", ErrBadArgs, err)
	}
	return nil
}

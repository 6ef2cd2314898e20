package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"eventline/internal/actions"
	"eventline/internal/domain"
	"eventline/internal/oracle"
)

var ErrLoopExhausted = errors.New("action loop exhausted")

// loopState names where the action loop is; it only shows up in logs.
type loopState string

const (
	stateInvoking  loopState = "invoking"
	stateDeciding  loopState = "deciding"
	stateExecuting loopState = "executing"
	stateDone      loopState = "done"
)

type phaseOutcome struct {
	Reply      string
	Committed  bool
	Changed    bool
	Warning    string
	Iterations int
}

// runPhase drives one phase on doc, which must be the turn's private copy.
// It invokes the oracle, runs requested actions and repeats until the
// oracle stops asking for actions, then looks for a structured commit.
func (e *Engine) runPhase(ctx context.Context, def phaseDef, doc *domain.Document, log *zap.Logger) (phaseOutcome, error) {
	var specs []oracle.ActionSpec
	if def.Actions != nil && e.Registry != nil {
		specs = e.Registry.Specs(def.Actions...)
	}
	offered := make(map[string]bool, len(specs))
	names := make([]string, 0, len(specs))
	for _, s := range specs {
		offered[s.Name] = true
		names = append(names, s.Name)
	}
	system := e.renderPrompt(def.Prompt, doc)
	limit := e.maxIterations()

	var out phaseOutcome
	for {
		if out.Iterations >= limit {
			return out, fmt.Errorf("%w: %s after %d iterations", ErrLoopExhausted, def.Phase, limit)
		}
		out.Iterations++
		log.Debug("action loop", zap.String("state", string(stateInvoking)), zap.Int("iteration", out.Iterations))
		resp, err := e.Oracle.Invoke(ctx, oracle.Request{System: system, Turns: doc.Conversation, Actions: specs})
		if err != nil {
			return out, fmt.Errorf("oracle: %w", err)
		}
		doc.Append(domain.Turn{
			ID:        uuid.NewString(),
			Role:      domain.RoleAssistant,
			Content:   resp.Utterance,
			Actions:   resp.Actions,
			CreatedAt: e.timestamp(),
		})

		log.Debug("action loop", zap.String("state", string(stateDeciding)), zap.Int("actions", len(resp.Actions)))
		if len(resp.Actions) == 0 {
			out.Reply = resp.Utterance
			break
		}

		for _, call := range resp.Actions {
			log.Debug("action loop", zap.String("state", string(stateExecuting)), zap.String("action", call.Name))
			content := e.execute(ctx, call, doc, offered, names, log)
			if err := ctx.Err(); err != nil {
				return out, err
			}
			doc.Append(domain.Turn{
				ID:         uuid.NewString(),
				Role:       domain.RoleTool,
				Name:       call.Name,
				ToolCallID: call.ID,
				Content:    content,
				CreatedAt:  e.timestamp(),
			})
		}
	}
	log.Debug("action loop", zap.String("state", string(stateDone)), zap.Int("iterations", out.Iterations))

	return e.commit(def, doc, out, log)
}

func (e *Engine) execute(ctx context.Context, call domain.ActionCall, doc *domain.Document, offered map[string]bool, names []string, log *zap.Logger) string {
	if !offered[call.Name] {
		log.Warn("oracle requested unknown action", zap.String("action", call.Name))
		return fmt.Sprintf("warning: unknown action %q ignored; available actions: %s", call.Name, strings.Join(names, ", "))
	}
	res, err := e.Registry.Execute(ctx, call.Name, actions.Call{RunID: doc.RunID, Doc: doc, Args: call.Args})
	if err != nil {
		log.Warn("action failed", zap.String("action", call.Name), zap.Error(err))
		b, _ := json.Marshal(map[string]string{"error": err.Error()})
		return string(b)
	}
	return res
}

// commit applies a structured commit found in the final utterance. Parse
// and validation problems leave the document as is and return the raw
// utterance with a warning turn appended.
func (e *Engine) commit(def phaseDef, doc *domain.Document, out phaseOutcome, log *zap.Logger) (phaseOutcome, error) {
	payload, found := Extract(out.Reply)
	marked := strings.Contains(out.Reply, def.Marker)
	rooted := def.RootCommits && found && hasRoot(payload, def.RootKey)
	if !marked && !rooted {
		return out, nil
	}

	var err error
	if !found {
		err = &domain.ValidationError{Field: def.RootKey, Reason: "finalize marker without a structured payload"}
	} else {
		out.Changed, err = def.commit(doc, payload)
	}
	if errors.Is(err, domain.ErrStaleTransition) {
		return out, err
	}
	if err != nil {
		log.Warn("structured commit rejected", zap.String("field", def.RootKey), zap.Error(err))
		out.Warning = err.Error()
		doc.Append(domain.Turn{
			ID:        uuid.NewString(),
			Role:      domain.RoleSystem,
			Content:   fmt.Sprintf("warning: the %s payload was not accepted: %v", def.RootKey, err),
			CreatedAt: e.timestamp(),
		})
		return out, nil
	}

	summary := def.summary(doc)
	doc.Compact(domain.Turn{
		ID:        uuid.NewString(),
		Role:      domain.RoleAssistant,
		Content:   summary,
		CreatedAt: e.timestamp(),
	})
	out.Reply = summary
	out.Committed = true
	log.Info("phase committed", zap.String("field", def.RootKey), zap.Bool("changed", out.Changed))
	return out, nil
}

func (e *Engine) maxIterations() int {
	if e.Config != nil && e.Config.Loop.MaxIterations > 0 {
		return e.Config.Loop.MaxIterations
	}
	return 25
}

func (e *Engine) renderPrompt(prompt string, doc *domain.Document) string {
	draft := doc.FinalDraft
	if doc.FinalDraftWithSuppliers != nil {
		draft = doc.FinalDraftWithSuppliers
	}
	return strings.NewReplacer(
		"{{date}}", e.now().Format(domain.DateLayout),
		"{{requirements}}", pretty(doc.Requirements),
		"{{timeline}}", pretty(doc.ApprovedTimeline),
		"{{final_draft}}", pretty(draft),
	).Replace(prompt)
}

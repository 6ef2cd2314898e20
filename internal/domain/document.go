package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Document is the plan owned by one run. The four optional fields only
// move forward: once set they are never cleared, except that compaction
// rewrites the conversation.
type Document struct {
	RunID                   string            `json:"run_id"`
	Version                 int64             `json:"version"`
	Conversation            []Turn            `json:"conversation"`
	Requirements            *Requirements     `json:"requirements,omitempty"`
	ApprovedTimeline        *ApprovedTimeline `json:"approved_timeline,omitempty"`
	FinalDraft              *Draft            `json:"final_draft,omitempty"`
	FinalDraftWithSuppliers *Draft            `json:"final_draft_with_suppliers,omitempty"`
	CreatedAt               string            `json:"created_at" format:"date-time"`
	UpdatedAt               string            `json:"updated_at" format:"date-time"`
}

func NewDocument(runID, now string) *Document {
	return &Document{RunID: runID, CreatedAt: now, UpdatedAt: now}
}

func (d *Document) HasRequirements() bool            { return d.Requirements != nil }
func (d *Document) HasApprovedTimeline() bool        { return d.ApprovedTimeline != nil }
func (d *Document) HasFinalDraft() bool              { return d.FinalDraft != nil }
func (d *Document) HasFinalDraftWithSuppliers() bool { return d.FinalDraftWithSuppliers != nil }

func (d *Document) SetRequirements(r Requirements) (bool, error) {
	r.Normalize()
	if err := r.Validate(); err != nil {
		return false, err
	}
	return setOnce("requirements", &d.Requirements, r)
}

func (d *Document) SetApprovedTimeline(t ApprovedTimeline) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}
	return setOnce("approved_timeline", &d.ApprovedTimeline, t)
}

func (d *Document) SetFinalDraft(draft Draft) (bool, error) {
	draft.Requirements.Normalize()
	if err := draft.Validate(); err != nil {
		return false, err
	}
	return setOnce("final_draft", &d.FinalDraft, draft)
}

func (d *Document) SetFinalDraftWithSuppliers(draft Draft) (bool, error) {
	draft.Requirements.Normalize()
	if err := draft.Validate(); err != nil {
		return false, err
	}
	return setOnce("final_draft_with_suppliers", &d.FinalDraftWithSuppliers, draft)
}

// ReviseFinalDraftWithSuppliers replaces the supplier-augmented draft while
// the run keeps refining suppliers. It requires the final draft to exist.
func (d *Document) ReviseFinalDraftWithSuppliers(draft Draft) (bool, error) {
	if d.FinalDraft == nil {
		return false, invalid("final_draft_with_suppliers", "final draft not approved yet")
	}
	draft.Requirements.Normalize()
	if err := draft.Validate(); err != nil {
		return false, err
	}
	if d.FinalDraftWithSuppliers != nil && sameJSON(*d.FinalDraftWithSuppliers, draft) {
		return false, nil
	}
	d.FinalDraftWithSuppliers = &draft
	return true, nil
}

func (d *Document) Append(turns ...Turn) {
	d.Conversation = append(d.Conversation, turns...)
}

// Compact replaces the whole conversation with a single summary turn.
func (d *Document) Compact(summary Turn) {
	d.Conversation = []Turn{summary}
}

// Clone returns a deep copy.
func (d *Document) Clone() (*Document, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("clone document %s: %w", d.RunID, err)
	}
	var out Document
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("clone document %s: %w", d.RunID, err)
	}
	return &out, nil
}

func setOnce[T any](field string, dst **T, v T) (bool, error) {
	if *dst == nil {
		*dst = &v
		return true, nil
	}
	if sameJSON(**dst, v) {
		return false, nil
	}
	return false, &StaleTransitionError{Field: field}
}

func sameJSON(a, b any) bool {
	ab, err1 := json.Marshal(a)
	bb, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && bytes.Equal(ab, bb)
}

package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"eventline/internal/domain"
)

type Phase string

const (
	PhaseGatherRequirements Phase = "gather_requirements"
	PhaseDraftTimeline      Phase = "draft_timeline"
	PhaseFinalDraft         Phase = "final_draft"
	PhaseFindSuppliers      Phase = "find_suppliers"
)

// phaseDef describes how one phase talks to the oracle and what it commits.
type phaseDef struct {
	Phase   Phase
	Marker  string
	RootKey string
	// RootCommits lets the root key alone commit. Without it the marker is
	// required and an unmarked payload is still a proposal.
	RootCommits bool
	// Actions lists the actions offered to the oracle. nil offers none;
	// an empty non-nil slice offers every registered action.
	Actions []string
	Prompt  string
	// commit decodes the extracted payload into the document.
	commit func(doc *domain.Document, payload json.RawMessage) (bool, error)
	// summary renders the committed field for the compacted log.
	summary func(doc *domain.Document) string
}

var phases = map[Phase]phaseDef{
	PhaseGatherRequirements: {
		Phase:   PhaseGatherRequirements,
		Marker:  "--requirements_finalized--",
		RootKey: "requirements",
		Prompt:  gatherPrompt,
		commit: func(doc *domain.Document, payload json.RawMessage) (bool, error) {
			var r domain.Requirements
			if err := decodeRoot(payload, "requirements", &r); err != nil {
				return false, err
			}
			return doc.SetRequirements(r)
		},
		summary: func(doc *domain.Document) string { return requirementsTable(*doc.Requirements) },
	},
	PhaseDraftTimeline: {
		Phase:   PhaseDraftTimeline,
		Marker:  "--timeline_finalized--",
		RootKey: "timeline",
		Prompt:  timelinePrompt,
		commit: func(doc *domain.Document, payload json.RawMessage) (bool, error) {
			t, err := decodeTimeline(payload)
			if err != nil {
				return false, err
			}
			return doc.SetApprovedTimeline(t)
		},
		summary: func(doc *domain.Document) string { return timelineTable(doc.ApprovedTimeline.Days) },
	},
	PhaseFinalDraft: {
		Phase:   PhaseFinalDraft,
		Marker:  "--final_draft_approved--",
		RootKey: "final_draft_approved",
		Prompt:  finalDraftPrompt,
		commit: func(doc *domain.Document, payload json.RawMessage) (bool, error) {
			var d domain.Draft
			if err := decodeRoot(payload, "final_draft_approved", &d); err != nil {
				return false, err
			}
			return doc.SetFinalDraft(d)
		},
		summary: func(doc *domain.Document) string { return draftSummary("Final draft approved", *doc.FinalDraft) },
	},
	PhaseFindSuppliers: {
		Phase:       PhaseFindSuppliers,
		Marker:      "--suppliers_finalized--",
		RootKey:     "final_draft_with_suppliers",
		RootCommits: true,
		Actions:     []string{},
		Prompt:      suppliersPrompt,
		commit: func(doc *domain.Document, payload json.RawMessage) (bool, error) {
			var d domain.Draft
			if err := decodeRoot(payload, "final_draft_with_suppliers", &d); err != nil {
				return false, err
			}
			return doc.ReviseFinalDraftWithSuppliers(d)
		},
		summary: func(doc *domain.Document) string {
			return draftSummary("Final draft with suppliers", *doc.FinalDraftWithSuppliers)
		},
	},
}

// Field returns the document field a phase fills.
func (p Phase) Field() string {
	if def, ok := phases[p]; ok {
		return def.RootKey
	}
	return ""
}

func decodeRoot(payload json.RawMessage, key string, out any) error {
	inner := payload
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(payload, &obj); err == nil {
		if v, ok := obj[key]; ok {
			inner = v
		}
	}
	if err := json.Unmarshal(inner, out); err != nil {
		return invalidPayload(key, err)
	}
	return nil
}

// decodeTimeline accepts {"timeline": [...], "additional_preferences": [...]}
// or a bare list of days. Inside a list, an item carrying
// additional_preferences is folded into the preferences rather than read
// as a day; items that are neither are ignored.
func decodeTimeline(payload json.RawMessage) (domain.ApprovedTimeline, error) {
	var t domain.ApprovedTimeline
	items := payload
	if !isArray(payload) {
		var obj struct {
			Timeline              json.RawMessage `json:"timeline"`
			AdditionalPreferences []string        `json:"additional_preferences"`
		}
		if err := json.Unmarshal(payload, &obj); err != nil {
			return t, invalidPayload("timeline", err)
		}
		t.AdditionalPreferences = obj.AdditionalPreferences
		items = obj.Timeline
		if len(items) == 0 {
			return t, nil
		}
	}
	var raw []json.RawMessage
	if err := json.Unmarshal(items, &raw); err != nil {
		return t, invalidPayload("timeline", err)
	}
	for _, item := range raw {
		var keys map[string]json.RawMessage
		if err := json.Unmarshal(item, &keys); err != nil {
			return t, invalidPayload("timeline", err)
		}
		if prefs, ok := keys["additional_preferences"]; ok {
			var list domain.StringList
			if err := json.Unmarshal(prefs, &list); err != nil {
				return t, invalidPayload("timeline.additional_preferences", err)
			}
			t.AdditionalPreferences = append(t.AdditionalPreferences, list...)
			continue
		}
		if _, ok := keys["date"]; !ok {
			continue
		}
		var day domain.DayTimeline
		if err := json.Unmarshal(item, &day); err != nil {
			return t, invalidPayload("timeline", err)
		}
		t.Days = append(t.Days, day)
	}
	return t, nil
}

func invalidPayload(field string, err error) error {
	return &domain.ValidationError{Field: field, Reason: fmt.Sprintf("malformed payload: %v", err)}
}

func isArray(b json.RawMessage) bool {
	return strings.HasPrefix(strings.TrimSpace(string(b)), "[")
}

const gatherPrompt = `You are a friendly and professional assistant helping users plan events by gathering their requirements.
The current date is {{date}}.

Ask one question at a time and offer a few lettered options with each question.
Mandatory: event_type, start_date, end_date (YYYY-MM-DD), participants, location.
Optional: event_start_time, event_end_time, overnight_guests, event_contents (each with content, parts and preferred_suppliers), additional_requirements, tasks.
Group parts likely to be procured from the same supplier under the same content. Do not suggest specific suppliers yet.

When every mandatory field is known, reply with the requirements as a fenced json block shaped like
{"requirements": {"event_type": "...", "start_date": "...", "end_date": "...", "participants": 0, "location": "...", "event_contents": [{"content": "...", "parts": ["..."]}]}}
followed by the line --requirements_finalized--`

const timelinePrompt = `You are an event planner drafting a day-by-day timeline for the requirements below.
The current date is {{date}}.

Requirements:
{{requirements}}

Iterate the timeline with the user until they approve it. Each event has time (HH:MM), name, duration_hours ("hours,minutes") and an optional location.
Once approved, reply with {"timeline": [{"date": "YYYY-MM-DD", "events": [...]}], "additional_preferences": [...]} as a fenced json block followed by the line --timeline_finalized--`

const finalDraftPrompt = `You are an event planner turning approved requirements and timeline into a final draft.

Requirements:
{{requirements}}

Timeline:
{{timeline}}

Every timed part must match exactly one timeline event by name and every timeline event must match exactly one part.
Parts have name, amount, amount_type (PEOPLE or PIECES), timeless, and date, time and duration_hours unless timeless.
Put content with no procurement need under the content "Internal".
When the user approves, reply with {"final_draft_approved": {"requirements": {...}, "timeline": [...]}} as a fenced json block followed by the line --final_draft_approved--`

const suppliersPrompt = `You are an event planner finding suppliers for the final draft below.

Final draft:
{{final_draft}}

Use fetch_suppliers to search the supplier directory per content and suggest at most 4 potential_suppliers per content
({"supplier_name", "potential_supplier_id", "el_supplier_id"}). Skip the "Internal" content.
When the user is satisfied, reply with {"final_draft_with_suppliers": {"requirements": {...}, "timeline": [...]}} as a fenced json block followed by the line --suppliers_finalized--
You may keep refining and resend it. When asked to create the event, call create_event.`

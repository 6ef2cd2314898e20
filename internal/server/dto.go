package server

import (
	"encoding/json"

	"eventline/internal/domain"
	"eventline/internal/engine"
)

// Request payloads

type TurnRequest struct {
	Message string `json:"message" minLength:"1"`
}

type ReconcileRequest struct {
	Email string `json:"email" minLength:"3"`
	Mode  string `json:"mode,omitempty" enum:"create,attach,send" default:"create"`
}

type CreateRunRequest struct {
	ID string `json:"id,omitempty"`
}

// Responses

type TurnResponse struct {
	RunID     string   `json:"run_id"`
	Version   int64    `json:"version"`
	Phase     string   `json:"phase"`
	NextPhase string   `json:"next_phase"`
	Reply     string   `json:"reply"`
	Committed []string `json:"committed"`
	Warnings  []string `json:"warnings,omitempty"`
}

type EventResponse struct {
	ID      int64          `json:"id"`
	TS      string         `json:"ts" format:"date-time"`
	Type    string         `json:"type"`
	RunID   string         `json:"run_id,omitempty"`
	Phase   string         `json:"phase,omitempty"`
	Payload map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type runList struct {
	Items []domain.RunSummary `json:"items"`
}

func turnResponse(res engine.TurnResult) TurnResponse {
	return TurnResponse{
		RunID:     res.RunID,
		Version:   res.Version,
		Phase:     string(res.Phase),
		NextPhase: string(res.Next),
		Reply:     res.Reply,
		Committed: nonNilSlice(res.Committed),
		Warnings:  res.Warnings,
	}
}

func eventResponse(evt domain.Event) EventResponse {
	payload := map[string]any{}
	_ = json.Unmarshal([]byte(evt.Payload), &payload)
	return EventResponse{
		ID:      evt.ID,
		TS:      evt.TS,
		Type:    evt.Type,
		RunID:   evt.RunID,
		Phase:   evt.Phase,
		Payload: payload,
	}
}

func nonNilSlice[T any](in []T) []T {
	if in == nil {
		return []T{}
	}
	return in
}

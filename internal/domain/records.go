package domain

type Event struct {
	ID      int64  `json:"id"`
	TS      string `json:"ts" format:"date-time"`
	Type    string `json:"type"`
	RunID   string `json:"run_id,omitempty"`
	Phase   string `json:"phase,omitempty"`
	Payload string `json:"payload_json"`
}

// RunSummary is the listing view of a run.
type RunSummary struct {
	ID        string `json:"id"`
	Version   int64  `json:"version"`
	Phase     string `json:"phase"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

// Category is a supplier category known to the booking system.
type Category struct {
	ID       int64  `json:"id" yaml:"id"`
	Name     string `json:"name" yaml:"name"`
	EnName   string `json:"en_name,omitempty" yaml:"en_name"`
	ParentID *int64 `json:"parent_id,omitempty" yaml:"parent_id"`
	Type     string `json:"type,omitempty" yaml:"type"`
}

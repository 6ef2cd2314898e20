package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ActionCall is a named action requested by the oracle.
type ActionCall struct {
	ID   string          `json:"id"`
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type Turn struct {
	ID         string       `json:"id"`
	Role       Role         `json:"role" enum:"system,user,assistant,tool"`
	Content    string       `json:"content"`
	Name       string       `json:"name,omitempty"`
	ToolCallID string       `json:"tool_call_id,omitempty"`
	Actions    []ActionCall `json:"actions,omitempty"`
	CreatedAt  string       `json:"created_at" format:"date-time"`
}

type AmountType string

const (
	AmountPeople AmountType = "PEOPLE"
	AmountPieces AmountType = "PIECES"
)

// InternalContent names content that is arranged in-house and never procured.
const InternalContent = "Internal"

// MaxPotentialSuppliers caps the suppliers suggested per content.
const MaxPotentialSuppliers = 4

type Requirements struct {
	EventType              string         `json:"event_type"`
	StartDate              string         `json:"start_date"`
	EndDate                string         `json:"end_date"`
	EventStartTime         string         `json:"event_start_time,omitempty"`
	EventEndTime           string         `json:"event_end_time,omitempty"`
	Participants           Count          `json:"participants"`
	Location               string         `json:"location"`
	OvernightGuests        string         `json:"overnight_guests,omitempty"`
	EventContents          []EventContent `json:"event_contents,omitempty"`
	AdditionalRequirements string         `json:"additional_requirements,omitempty"`
	Tasks                  StringList     `json:"tasks,omitempty"`
}

type EventContent struct {
	Name               string              `json:"content"`
	Parts              []Part              `json:"parts,omitempty"`
	PreferredSuppliers []string            `json:"preferred_suppliers,omitempty"`
	PotentialSuppliers []PotentialSupplier `json:"potential_suppliers,omitempty"`
}

type Part struct {
	Name       string     `json:"name"`
	Amount     *Count     `json:"amount,omitempty"`
	AmountType AmountType `json:"amount_type"`
	Timeless   bool       `json:"timeless"`
	Date       string     `json:"date,omitempty"`
	Time       string     `json:"time,omitempty"`
	Duration   string     `json:"duration_hours,omitempty"`
}

// UnmarshalJSON also accepts a bare part name, which is how parts are
// listed while requirements are still being gathered.
func (p *Part) UnmarshalJSON(b []byte) error {
	if s := strings.TrimSpace(string(b)); strings.HasPrefix(s, `"`) {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*p = Part{Name: strings.TrimSpace(name)}
		return nil
	}
	type alias Part
	var v alias
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*p = Part(v)
	return nil
}

// Sketch reports whether the part is only a name without quantities or
// schedule.
func (p Part) Sketch() bool {
	return p.AmountType == "" && p.Amount == nil && !p.Timeless && p.Date == "" && p.Time == "" && p.Duration == ""
}

type PotentialSupplier struct {
	DisplayName string `json:"supplier_name"`
	InternalID  ID     `json:"potential_supplier_id"`
	ExternalID  ID     `json:"el_supplier_id,omitempty"`
}

type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type Location struct {
	Name        string       `json:"name"`
	Coordinates *Coordinates `json:"coordinates,omitempty"`
}

type TimelineEvent struct {
	Time     string    `json:"time"`
	Name     string    `json:"name"`
	Duration string    `json:"duration"`
	Location *Location `json:"location,omitempty"`
}

// UnmarshalJSON accepts both "duration" and "duration_hours".
func (e *TimelineEvent) UnmarshalJSON(b []byte) error {
	type alias TimelineEvent
	var raw struct {
		alias
		DurationHours string `json:"duration_hours"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*e = TimelineEvent(raw.alias)
	if e.Duration == "" {
		e.Duration = raw.DurationHours
	}
	return nil
}

type DayTimeline struct {
	Date   string          `json:"date"`
	Events []TimelineEvent `json:"events"`
}

type ApprovedTimeline struct {
	Days                  []DayTimeline `json:"timeline"`
	AdditionalPreferences []string      `json:"additional_preferences,omitempty"`
}

// Draft is a requirements + timeline snapshot (final draft, with or without suppliers).
type Draft struct {
	Requirements Requirements  `json:"requirements"`
	Timeline     []DayTimeline `json:"timeline"`
}

// Count accepts both 20 and "20".
type Count int

func (c *Count) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		return nil
	}
	s = strings.TrimSpace(strings.Trim(s, `"`))
	if s == "" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid count %q", s)
		}
		n = int(f)
	}
	*c = Count(n)
	return nil
}

// Int returns a pointer-safe int value.
func (c *Count) Int() int {
	if c == nil {
		return 0
	}
	return int(*c)
}

// ID accepts both numeric and string identifiers.
type ID string

func (id *ID) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*id = ""
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var v string
		if err := json.Unmarshal(b, &v); err != nil {
			return err
		}
		*id = ID(strings.TrimSpace(v))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("invalid id %s", s)
	}
	*id = ID(n.String())
	return nil
}

// Int64 parses numeric ids; ok is false for non-numeric ids.
func (id ID) Int64() (int64, bool) {
	n, err := strconv.ParseInt(string(id), 10, 64)
	return n, err == nil
}

// StringList accepts a single string or a list of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" {
		*l = nil
		return nil
	}
	if strings.HasPrefix(s, "[") {
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if strings.TrimSpace(v) == "" {
		*l = nil
		return nil
	}
	*l = StringList{v}
	return nil
}

// Eligible returns the suppliers that can be attached in the booking system.
func (c EventContent) Eligible() []PotentialSupplier {
	var out []PotentialSupplier
	for _, s := range c.PotentialSuppliers {
		if strings.TrimSpace(string(s.ExternalID)) != "" {
			out = append(out, s)
		}
	}
	return out
}

// IsInternal reports whether the content has no procurement need.
func (c EventContent) IsInternal() bool {
	return strings.EqualFold(strings.TrimSpace(c.Name), InternalContent)
}

// Days returns the inclusive event length in days.
func (r Requirements) Days() int {
	start, err1 := time.Parse(DateLayout, r.StartDate)
	end, err2 := time.Parse(DateLayout, r.EndDate)
	if err1 != nil || err2 != nil || end.Before(start) {
		return 1
	}
	return int(end.Sub(start).Hours()/24) + 1
}

// Normalize defaults PEOPLE parts without an explicit amount to the participant count.
func (r *Requirements) Normalize() {
	for i := range r.EventContents {
		for j := range r.EventContents[i].Parts {
			p := &r.EventContents[i].Parts[j]
			if p.AmountType == AmountPeople && p.Amount == nil {
				n := r.Participants
				p.Amount = &n
			}
		}
	}
}

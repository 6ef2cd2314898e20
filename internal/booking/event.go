package booking

import (
	"context"
	"fmt"
	"strings"

	"eventline/internal/domain"
	"eventline/internal/mapper"
)

// EventView is the internal reading of an event detail document.
type EventView struct {
	ID                     domain.ID     `json:"id"`
	EventType              string        `json:"event_type"`
	StartDate              string        `json:"start_date"`
	EndDate                string        `json:"end_date"`
	Participants           string        `json:"participants"`
	Location               string        `json:"location"`
	AdditionalRequirements string        `json:"additional_requirements"`
	Contents               []ContentView `json:"event_contents"`
}

type ContentView struct {
	ID     domain.ID   `json:"id,omitempty"`
	Name   string      `json:"content"`
	Offers []OfferView `json:"offers,omitempty"`
}

type OfferView struct {
	RequestID domain.ID  `json:"request_id"`
	Status    string     `json:"status,omitempty"`
	Parts     []PartView `json:"parts,omitempty"`
}

type PartView struct {
	Name          string `json:"name"`
	Amount        int    `json:"amount"`
	AmountType    string `json:"amount_type"`
	StartTime     int64  `json:"start_time"`
	EndTime       int64  `json:"end_time"`
	EventFromDate int64  `json:"event_from_date"`
}

// RequestID returns the request id exposed by the content's first offer.
func (c ContentView) RequestID() (string, bool) {
	for _, o := range c.Offers {
		if id := strings.TrimSpace(string(o.RequestID)); id != "" {
			return id, true
		}
	}
	return "", false
}

// Content finds a content by name.
func (v EventView) Content(name string) (ContentView, bool) {
	for _, c := range v.Contents {
		if c.Name == name {
			return c, true
		}
	}
	return ContentView{}, false
}

// LiftEvent translates a raw event detail into an EventView.
func LiftEvent(detail map[string]any) (EventView, error) {
	if _, ok := mapper.Get(detail, "event.requests"); !ok {
		return EventView{}, fmt.Errorf("unexpected event detail format")
	}
	lifted := mapper.Lift(detail, mapper.Reverse(mapper.EventDetailSpec))
	var view EventView
	if err := mapper.Decode(lifted, &view); err != nil {
		return EventView{}, err
	}
	return view, nil
}

// Event fetches and lifts an event detail.
func (c *Client) Event(ctx context.Context, eventID string) (EventView, error) {
	detail, err := c.EventDetail(ctx, eventID)
	if err != nil {
		return EventView{}, err
	}
	return LiftEvent(detail)
}

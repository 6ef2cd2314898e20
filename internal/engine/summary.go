package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"

	"eventline/internal/domain"
)

func requirementsTable(r domain.Requirements) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Requirement", "Value"})
	tw.AppendRow(table.Row{"event_type", r.EventType})
	tw.AppendRow(table.Row{"start_date", r.StartDate})
	tw.AppendRow(table.Row{"end_date", r.EndDate})
	tw.AppendRow(table.Row{"participants", int(r.Participants)})
	tw.AppendRow(table.Row{"location", r.Location})
	optional := []struct{ k, v string }{
		{"event_start_time", r.EventStartTime},
		{"event_end_time", r.EventEndTime},
		{"overnight_guests", r.OvernightGuests},
		{"additional_requirements", r.AdditionalRequirements},
		{"tasks", strings.Join(r.Tasks, "; ")},
	}
	for _, o := range optional {
		if o.v != "" {
			tw.AppendRow(table.Row{o.k, o.v})
		}
	}
	for _, c := range r.EventContents {
		names := make([]string, 0, len(c.Parts))
		for _, p := range c.Parts {
			names = append(names, p.Name)
		}
		tw.AppendRow(table.Row{"content: " + c.Name, strings.Join(names, ", ")})
	}
	return "Here are the gathered requirements:\n\n" + tw.RenderMarkdown()
}

func timelineTable(days []domain.DayTimeline) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Date", "Time", "Event", "Duration"})
	for _, d := range days {
		for _, e := range d.Events {
			tw.AppendRow(table.Row{d.Date, e.Time, e.Name, e.Duration})
		}
	}
	return "Here is the approved timeline:\n\n" + tw.RenderMarkdown()
}

func draftSummary(title string, d domain.Draft) string {
	tw := table.NewWriter()
	tw.AppendHeader(table.Row{"Content", "Part", "Amount", "Type", "When", "Suppliers"})
	for _, c := range d.Requirements.EventContents {
		var suppliers []string
		for _, s := range c.PotentialSuppliers {
			suppliers = append(suppliers, s.DisplayName)
		}
		for _, p := range c.Parts {
			when := "timeless"
			if !p.Timeless {
				when = fmt.Sprintf("%s %s (%s)", p.Date, p.Time, p.Duration)
			}
			tw.AppendRow(table.Row{c.Name, p.Name, p.Amount.Int(), string(p.AmountType), when, strings.Join(suppliers, ", ")})
		}
	}
	return fmt.Sprintf("%s for %s in %s, %s to %s:\n\n%s",
		title, d.Requirements.EventType, d.Requirements.Location, d.Requirements.StartDate, d.Requirements.EndDate, tw.RenderMarkdown())
}

func pretty(v any) string {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(b)
}

package domain

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// NewPart builds a validated part. amount < 0 leaves the amount unset.
func NewPart(name string, amount int, amountType AmountType, timeless bool, date, clock, duration string) (Part, error) {
	p := Part{
		Name:       name,
		AmountType: amountType,
		Timeless:   timeless,
		Date:       date,
		Time:       clock,
		Duration:   duration,
	}
	if amount >= 0 {
		n := Count(amount)
		p.Amount = &n
	}
	if err := p.Validate(); err != nil {
		return Part{}, err
	}
	return p, nil
}

func (p Part) Validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return invalid("part.name", "required")
	}
	switch p.AmountType {
	case AmountPeople, AmountPieces:
	default:
		return invalid("part."+p.Name+".amount_type", "must be PEOPLE or PIECES, got %q", p.AmountType)
	}
	if p.Amount != nil && *p.Amount < 0 {
		return invalid("part."+p.Name+".amount", "must be >= 0")
	}
	if p.Timeless {
		return nil
	}
	if p.Date == "" || p.Time == "" || p.Duration == "" {
		return invalid("part."+p.Name, "date, time and duration are required for non-timeless parts")
	}
	if _, err := time.Parse(DateLayout, p.Date); err != nil {
		return invalid("part."+p.Name+".date", "expected YYYY-MM-DD, got %q", p.Date)
	}
	if _, err := time.Parse(ClockLayout, p.Time); err != nil {
		return invalid("part."+p.Name+".time", "expected HH:MM, got %q", p.Time)
	}
	if _, err := ParseDuration(p.Duration); err != nil {
		return invalid("part."+p.Name+".duration_hours", "%v", err)
	}
	return nil
}

// Window returns the part's start instant and end instant in loc.
func (p Part) Window(loc *time.Location) (time.Time, time.Time, error) {
	if p.Timeless {
		return time.Time{}, time.Time{}, fmt.Errorf("part %s is timeless", p.Name)
	}
	start, err := time.ParseInLocation(DateLayout+" "+ClockLayout, p.Date+" "+p.Time, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	d, err := ParseDuration(p.Duration)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(d), nil
}

// ParseDuration accepts "H,MM" (hours,minutes), Go durations ("1h30m"),
// worded durations ("1 hour 30 minutes", "1.5 hours") and bare hour counts.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if h, m, ok := strings.Cut(s, ","); ok {
		hours, err1 := strconv.Atoi(strings.TrimSpace(h))
		minutes, err2 := strconv.Atoi(strings.TrimSpace(m))
		if err1 != nil || err2 != nil || hours < 0 || minutes < 0 {
			return 0, fmt.Errorf("invalid duration %q, expected hours,minutes", s)
		}
		return time.Duration(hours)*time.Hour + time.Duration(minutes)*time.Minute, nil
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return time.Duration(f * float64(time.Hour)), nil
	}
	fields := strings.Fields(strings.ToLower(s))
	if len(fields)%2 != 0 {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	var total time.Duration
	for i := 0; i < len(fields); i += 2 {
		v, err := strconv.ParseFloat(fields[i], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		switch unit := fields[i+1]; {
		case strings.HasPrefix(unit, "h"):
			total += time.Duration(v * float64(time.Hour))
		case strings.HasPrefix(unit, "m"):
			total += time.Duration(v * float64(time.Minute))
		default:
			return 0, fmt.Errorf("invalid duration unit %q", unit)
		}
	}
	return total, nil
}

func (r Requirements) Validate() error {
	if strings.TrimSpace(r.EventType) == "" {
		return invalid("requirements.event_type", "required")
	}
	if strings.TrimSpace(r.Location) == "" {
		return invalid("requirements.location", "required")
	}
	if r.Participants <= 0 {
		return invalid("requirements.participants", "must be > 0")
	}
	start, err := time.Parse(DateLayout, r.StartDate)
	if err != nil {
		return invalid("requirements.start_date", "expected YYYY-MM-DD, got %q", r.StartDate)
	}
	end, err := time.Parse(DateLayout, r.EndDate)
	if err != nil {
		return invalid("requirements.end_date", "expected YYYY-MM-DD, got %q", r.EndDate)
	}
	if end.Before(start) {
		return invalid("requirements.end_date", "before start_date")
	}
	seen := map[string]bool{}
	for _, c := range r.EventContents {
		if strings.TrimSpace(c.Name) == "" {
			return invalid("requirements.event_contents", "content name required")
		}
		if seen[c.Name] {
			return invalid("requirements.event_contents", "duplicate content %q", c.Name)
		}
		seen[c.Name] = true
		if len(c.PotentialSuppliers) > MaxPotentialSuppliers {
			return invalid("content."+c.Name+".potential_suppliers", "at most %d suppliers", MaxPotentialSuppliers)
		}
		for _, p := range c.Parts {
			if p.Sketch() && strings.TrimSpace(p.Name) != "" {
				continue
			}
			if err := p.Validate(); err != nil {
				return err
			}
		}
	}
	return nil
}

func (t ApprovedTimeline) Validate() error {
	if len(t.Days) == 0 {
		return invalid("timeline", "at least one day required")
	}
	return validateDays(t.Days)
}

func validateDays(days []DayTimeline) error {
	for _, d := range days {
		if _, err := time.Parse(DateLayout, d.Date); err != nil {
			return invalid("timeline.date", "expected YYYY-MM-DD, got %q", d.Date)
		}
		for _, e := range d.Events {
			if strings.TrimSpace(e.Name) == "" || e.Time == "" || e.Duration == "" {
				return invalid("timeline."+d.Date, "events need time, name and duration")
			}
		}
	}
	return nil
}

// Validate checks the draft and the part/timeline alignment: every
// non-timeless part has exactly one timeline event of the same name and
// every timeline event has exactly one part.
func (d Draft) Validate() error {
	if err := d.Requirements.Validate(); err != nil {
		return err
	}
	if err := validateDays(d.Timeline); err != nil {
		return err
	}
	for _, c := range d.Requirements.EventContents {
		for _, p := range c.Parts {
			if p.Sketch() {
				return invalid("content."+c.Name+".parts."+p.Name, "amount_type and schedule are required in a draft")
			}
		}
	}
	events := map[string]int{}
	for _, day := range d.Timeline {
		for _, e := range day.Events {
			events[e.Name]++
		}
	}
	parts := map[string]int{}
	for _, c := range d.Requirements.EventContents {
		for _, p := range c.Parts {
			parts[p.Name]++
			if p.Timeless {
				continue
			}
			if events[p.Name] != 1 {
				return invalid("content."+c.Name+".parts."+p.Name, "expected exactly one timeline event, found %d", events[p.Name])
			}
		}
	}
	names := make([]string, 0, len(events))
	for name := range events {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if events[name] != 1 || parts[name] != 1 {
			return invalid("timeline."+name, "expected exactly one part, found %d", parts[name])
		}
	}
	return nil
}

package domain_test

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventline/internal/domain"
)

func sampleRequirements() domain.Requirements {
	return domain.Requirements{
		EventType:    "Kickoff",
		StartDate:    "2025-05-06",
		EndDate:      "2025-05-07",
		Participants: 20,
		Location:     "Stockholm",
		EventContents: []domain.EventContent{
			{
				Name: "Restaurant",
				Parts: []domain.Part{
					{Name: "Dinner", AmountType: domain.AmountPeople, Date: "2025-05-06", Time: "19:00", Duration: "2,00"},
				},
				PotentialSuppliers: []domain.PotentialSupplier{{DisplayName: "Bistro", InternalID: "11", ExternalID: "901"}},
			},
			{
				Name: "Internal",
				Parts: []domain.Part{
					{Name: "Welcome", AmountType: domain.AmountPeople, Date: "2025-05-06", Time: "09:00", Duration: "0,30"},
					{Name: "Swag", AmountType: domain.AmountPieces, Timeless: true},
				},
			},
		},
	}
}

func sampleTimeline() []domain.DayTimeline {
	return []domain.DayTimeline{{
		Date: "2025-05-06",
		Events: []domain.TimelineEvent{
			{Time: "09:00", Name: "Welcome", Duration: "0,30"},
			{Time: "19:00", Name: "Dinner", Duration: "2,00"},
		},
	}}
}

func TestNewPartRejectsMissingTime(t *testing.T) {
	_, err := domain.NewPart("Lunch", 10, domain.AmountPeople, false, "2025-05-06", "", "1,00")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrValidation)
	var verr *domain.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "part.Lunch", verr.Field)

	p, err := domain.NewPart("Projector", 1, domain.AmountPieces, true, "", "", "")
	require.NoError(t, err)
	assert.Equal(t, 1, p.Amount.Int())
}

func TestNewPartRejectsBadAmountType(t *testing.T) {
	_, err := domain.NewPart("Lunch", 10, "GUESTS", true, "", "", "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"2,30", 2*time.Hour + 30*time.Minute},
		{"0,45", 45 * time.Minute},
		{"1h15m", 75 * time.Minute},
		{"1.5", 90 * time.Minute},
		{"1 hour 30 minutes", 90 * time.Minute},
		{"2 hours", 2 * time.Hour},
		{" 3 , 00 ", 3 * time.Hour},
	}
	for _, tc := range cases {
		got, err := domain.ParseDuration(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	for _, bad := range []string{"", "soon", "a,b", "2 fortnights"} {
		_, err := domain.ParseDuration(bad)
		assert.Error(t, err, bad)
	}
}

func TestLenientDecoding(t *testing.T) {
	raw := `{
		"event_type": "Offsite", "start_date": "2025-01-01", "end_date": "2025-01-03",
		"participants": "12", "location": "Uppsala", "tasks": "book rooms",
		"event_contents": [{"content": "Hotel", "parts": [{"name": "Room", "amount_type": "PEOPLE", "timeless": true}],
			"potential_suppliers": [{"supplier_name": "Grand", "potential_supplier_id": 7, "el_supplier_id": "88"}]}]
	}`
	var r domain.Requirements
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	assert.Equal(t, domain.Count(12), r.Participants)
	assert.Equal(t, domain.StringList{"book rooms"}, r.Tasks)
	assert.Equal(t, domain.ID("7"), r.EventContents[0].PotentialSuppliers[0].InternalID)
	id, ok := r.EventContents[0].PotentialSuppliers[0].ExternalID.Int64()
	assert.True(t, ok)
	assert.Equal(t, int64(88), id)
	assert.Equal(t, 3, r.Days())

	r.Normalize()
	assert.Equal(t, 12, r.EventContents[0].Parts[0].Amount.Int())
	assert.NoError(t, r.Validate())
}

func TestSketchPartsDuringGathering(t *testing.T) {
	raw := `{"event_type":"Conference","start_date":"2025-03-01","end_date":"2025-03-01","participants":40,
		"location":"Lund","event_contents":[{"content":"Conference Venue","parts":["Main room","Coffee break"]}]}`
	var r domain.Requirements
	require.NoError(t, json.Unmarshal([]byte(raw), &r))
	require.Len(t, r.EventContents[0].Parts, 2)
	assert.Equal(t, "Main room", r.EventContents[0].Parts[0].Name)
	assert.True(t, r.EventContents[0].Parts[0].Sketch())
	require.NoError(t, r.Validate())

	d := domain.Draft{Requirements: r, Timeline: []domain.DayTimeline{{Date: "2025-03-01"}}}
	assert.ErrorIs(t, d.Validate(), domain.ErrValidation)
}

func TestTimelineEventAcceptsDurationHours(t *testing.T) {
	var e domain.TimelineEvent
	require.NoError(t, json.Unmarshal([]byte(`{"time":"10:00","name":"Talk","duration_hours":"1,00"}`), &e))
	assert.Equal(t, "1,00", e.Duration)
}

func TestRequirementsValidate(t *testing.T) {
	r := sampleRequirements()
	require.NoError(t, r.Validate())

	r.EndDate = "2025-05-01"
	assert.ErrorIs(t, r.Validate(), domain.ErrValidation)

	r = sampleRequirements()
	r.EventContents[0].PotentialSuppliers = make([]domain.PotentialSupplier, domain.MaxPotentialSuppliers+1)
	assert.ErrorIs(t, r.Validate(), domain.ErrValidation)
}

func TestDraftAlignment(t *testing.T) {
	d := domain.Draft{Requirements: sampleRequirements(), Timeline: sampleTimeline()}
	require.NoError(t, d.Validate())

	missing := d
	missing.Timeline = []domain.DayTimeline{{Date: "2025-05-06", Events: sampleTimeline()[0].Events[:1]}}
	assert.ErrorIs(t, missing.Validate(), domain.ErrValidation)

	extra := domain.Draft{Requirements: sampleRequirements(), Timeline: sampleTimeline()}
	extra.Timeline[0].Events = append(extra.Timeline[0].Events, domain.TimelineEvent{Time: "12:00", Name: "Lunch", Duration: "1,00"})
	assert.ErrorIs(t, extra.Validate(), domain.ErrValidation)

	// Several orphan events always report the same one.
	orphans := domain.Draft{Requirements: sampleRequirements(), Timeline: sampleTimeline()}
	orphans.Timeline[0].Events = append(orphans.Timeline[0].Events,
		domain.TimelineEvent{Time: "12:00", Name: "Lunch", Duration: "1,00"},
		domain.TimelineEvent{Time: "08:00", Name: "Breakfast", Duration: "1,00"},
		domain.TimelineEvent{Time: "15:00", Name: "Coffee", Duration: "0,30"},
	)
	for i := 0; i < 20; i++ {
		var ve *domain.ValidationError
		require.ErrorAs(t, orphans.Validate(), &ve)
		assert.Equal(t, "timeline.Breakfast", ve.Field)
	}
}

func TestEligibleSuppliers(t *testing.T) {
	c := domain.EventContent{Name: "Catering", PotentialSuppliers: []domain.PotentialSupplier{
		{DisplayName: "A", InternalID: "1", ExternalID: "10"},
		{DisplayName: "B", InternalID: "2"},
	}}
	assert.Len(t, c.Eligible(), 1)
	assert.False(t, c.IsInternal())
	assert.True(t, domain.EventContent{Name: "internal"}.IsInternal())
}

func TestDocumentFieldsAreSetOnce(t *testing.T) {
	doc := domain.NewDocument("run-1", "2025-01-01T00:00:00Z")
	r := sampleRequirements()

	changed, err := doc.SetRequirements(r)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = doc.SetRequirements(sampleRequirements())
	require.NoError(t, err)
	assert.False(t, changed, "identical value is a no-op")

	other := sampleRequirements()
	other.Location = "Göteborg"
	_, err = doc.SetRequirements(other)
	assert.ErrorIs(t, err, domain.ErrStaleTransition)
	assert.Equal(t, "Stockholm", doc.Requirements.Location)

	bad := domain.ApprovedTimeline{}
	_, err = doc.SetApprovedTimeline(bad)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.False(t, doc.HasApprovedTimeline())
}

func TestReviseFinalDraftWithSuppliers(t *testing.T) {
	doc := domain.NewDocument("run-1", "2025-01-01T00:00:00Z")
	draft := domain.Draft{Requirements: sampleRequirements(), Timeline: sampleTimeline()}

	_, err := doc.ReviseFinalDraftWithSuppliers(draft)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = doc.SetFinalDraft(draft)
	require.NoError(t, err)
	changed, err := doc.SetFinalDraftWithSuppliers(draft)
	require.NoError(t, err)
	assert.True(t, changed)

	revised := domain.Draft{Requirements: sampleRequirements(), Timeline: sampleTimeline()}
	revised.Requirements.EventContents[0].PotentialSuppliers = nil
	_, err = doc.SetFinalDraftWithSuppliers(revised)
	assert.ErrorIs(t, err, domain.ErrStaleTransition)

	changed, err = doc.ReviseFinalDraftWithSuppliers(revised)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Empty(t, doc.FinalDraftWithSuppliers.Requirements.EventContents[0].PotentialSuppliers)
}

func TestCompactAndClone(t *testing.T) {
	doc := domain.NewDocument("run-1", "2025-01-01T00:00:00Z")
	doc.Append(domain.Turn{Role: domain.RoleUser, Content: "hi"}, domain.Turn{Role: domain.RoleAssistant, Content: "hello"})
	_, err := doc.SetRequirements(sampleRequirements())
	require.NoError(t, err)

	clone, err := doc.Clone()
	require.NoError(t, err)
	clone.Compact(domain.Turn{Role: domain.RoleSystem, Content: "summary"})
	clone.Requirements.Location = "changed"

	assert.Len(t, doc.Conversation, 2)
	assert.Equal(t, "Stockholm", doc.Requirements.Location)
	require.Len(t, clone.Conversation, 1)
	assert.Equal(t, "summary", clone.Conversation[0].Content)
	assert.True(t, clone.HasRequirements())
}

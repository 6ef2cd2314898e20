package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventline/internal/booking"
	"eventline/internal/config"
	"eventline/internal/domain"
	"eventline/internal/reconcile"
)

// fakeBackend records every call and makes contents visible after a
// configurable number of detail fetches.
type fakeBackend struct {
	calls       []string
	contents    []string
	hiddenFor   int
	detailCalls int
	failPart    int
	partCalls   int
	failCreate  bool
	payloads    []map[string]any
}

func (f *fakeBackend) CreateEvent(ctx context.Context, payload map[string]any) (string, map[string]any, error) {
	f.calls = append(f.calls, "create_event")
	f.payloads = append(f.payloads, payload)
	if f.failCreate {
		return "", nil, errors.New("boom")
	}
	return "77", map[string]any{"id": 77}, nil
}

func (f *fakeBackend) UpsertContent(ctx context.Context, eventID, name, contentID string) error {
	f.calls = append(f.calls, "content:"+name)
	f.contents = append(f.contents, name)
	return nil
}

func (f *fakeBackend) Event(ctx context.Context, eventID string) (booking.EventView, error) {
	f.detailCalls++
	view := booking.EventView{ID: domain.ID(eventID)}
	if f.detailCalls <= f.hiddenFor {
		return view, nil
	}
	for i, name := range f.contents {
		view.Contents = append(view.Contents, booking.ContentView{
			Name:   name,
			Offers: []booking.OfferView{{RequestID: domain.ID(fmt.Sprint(900 + i))}},
		})
	}
	return view, nil
}

func (f *fakeBackend) AddPart(ctx context.Context, requestID string, payload map[string]any) (map[string]any, error) {
	f.partCalls++
	f.calls = append(f.calls, fmt.Sprintf("part:%s:%v", requestID, payload["name"]))
	f.payloads = append(f.payloads, payload)
	if f.partCalls == f.failPart {
		return nil, &booking.APIError{StatusCode: 400, Body: "rejected"}
	}
	return map[string]any{"id": f.partCalls}, nil
}

func (f *fakeBackend) AddSuppliers(ctx context.Context, requestID string, s []booking.SupplierRef) error {
	f.calls = append(f.calls, fmt.Sprintf("suppliers:%s:%d", requestID, len(s)))
	return nil
}

func (f *fakeBackend) AddSuppliersAndSend(ctx context.Context, requestID string, s []booking.SupplierRef) error {
	f.calls = append(f.calls, fmt.Sprintf("send:%s:%d", requestID, len(s)))
	return nil
}

func draft() domain.Draft {
	amount := domain.Count(1)
	return domain.Draft{
		Requirements: domain.Requirements{
			EventType:    "Kickoff",
			StartDate:    "2025-05-06",
			EndDate:      "2025-05-07",
			Participants: 20,
			Location:     "Stockholm",
			EventContents: []domain.EventContent{
				{
					Name: "Conference",
					Parts: []domain.Part{
						{Name: "Room", AmountType: domain.AmountPeople, Date: "2025-05-06", Time: "09:00", Duration: "3,00"},
						{Name: "Projector", AmountType: domain.AmountPieces, Amount: &amount, Timeless: true},
					},
				},
				{
					Name: "Restaurant",
					Parts: []domain.Part{
						{Name: "Dinner", AmountType: domain.AmountPeople, Date: "2025-05-06", Time: "19:00", Duration: "2,30"},
					},
					PotentialSuppliers: []domain.PotentialSupplier{
						{DisplayName: "Bistro", InternalID: "1", ExternalID: "501"},
						{DisplayName: "Unlisted", InternalID: "2"},
					},
				},
			},
		},
		Timeline: []domain.DayTimeline{{Date: "2025-05-06", Events: []domain.TimelineEvent{
			{Time: "09:00", Name: "Room", Duration: "3,00"},
			{Time: "19:00", Name: "Dinner", Duration: "2,30"},
		}}},
	}
}

func newEngine(b *fakeBackend) *reconcile.Engine {
	cfg := config.Default().Booking
	cfg.StepDelay = 0
	cfg.PollInterval = 0
	e := reconcile.New(b, cfg, nil)
	e.Location = time.UTC
	return e
}

func TestReconcileOrderingAndPartialFailure(t *testing.T) {
	b := &fakeBackend{failPart: 2}
	res, err := newEngine(b).Reconcile(context.Background(), reconcile.Request{Draft: draft(), Email: "a@b.se", Mode: reconcile.ModeAttach})
	require.NoError(t, err)

	assert.Equal(t, []string{
		"create_event",
		"content:Conference",
		"content:Restaurant",
		"part:900:Room",
		"part:900:Projector",
		"part:901:Dinner",
		"suppliers:901:1",
	}, b.calls)
	assert.Equal(t, reconcile.StatusPartialFailure, res.Status)
	assert.Equal(t, []string{"Conference/Projector"}, res.Failures())
	assert.Equal(t, "77", res.EventID)
	require.NotNil(t, res.Contents[1].Suppliers)
	assert.True(t, res.Contents[1].Suppliers.OK)
	assert.Nil(t, res.Contents[0].Suppliers)
}

func TestReconcileSendModeAddsSeparateSendCall(t *testing.T) {
	b := &fakeBackend{}
	res, err := newEngine(b).Reconcile(context.Background(), reconcile.Request{Draft: draft(), Mode: reconcile.ModeSend})
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusSucceeded, res.Status)
	assert.Equal(t, []string{"suppliers:901:1", "send:901:1"}, b.calls[len(b.calls)-2:])
}

func TestReconcileCreateFailureAborts(t *testing.T) {
	b := &fakeBackend{failCreate: true}
	res, err := newEngine(b).Reconcile(context.Background(), reconcile.Request{Draft: draft()})
	assert.ErrorIs(t, err, reconcile.ErrCreateEvent)
	assert.Equal(t, reconcile.StatusFailed, res.Status)
	assert.Equal(t, []string{"create_event"}, b.calls)
}

func TestReconcileResumesOnlyFailedUnits(t *testing.T) {
	first := &fakeBackend{failPart: 2}
	prev, err := newEngine(first).Reconcile(context.Background(), reconcile.Request{Draft: draft(), Mode: reconcile.ModeAttach})
	require.NoError(t, err)
	require.Equal(t, []string{"Conference/Projector"}, prev.Failures())

	again := &fakeBackend{}
	res, err := newEngine(again).Reconcile(context.Background(), reconcile.Request{
		Draft:    draft(),
		Mode:     reconcile.ModeSend,
		EventID:  prev.EventID,
		Previous: &prev,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"part:900:Projector", "send:901:1"}, again.calls)
	assert.Equal(t, reconcile.StatusSucceeded, res.Status)
	assert.Empty(t, res.Failures())
	assert.Equal(t, "77", res.EventID)
	assert.Len(t, res.Contents[0].Parts, 2)
	require.NotNil(t, res.Contents[1].Send)
	assert.True(t, res.Contents[1].Send.OK)
}

func TestReconcileResumeRetriesMissingContents(t *testing.T) {
	prev, err := newEngine(&fakeBackend{hiddenFor: 1000}).Reconcile(context.Background(), reconcile.Request{Draft: draft()})
	require.NoError(t, err)
	require.Equal(t, []string{"Conference", "Restaurant"}, prev.Failures())

	again := &fakeBackend{}
	res, err := newEngine(again).Reconcile(context.Background(), reconcile.Request{Draft: draft(), EventID: prev.EventID, Previous: &prev})
	require.NoError(t, err)
	assert.NotContains(t, again.calls, "create_event")
	assert.Equal(t, []string{"content:Conference", "content:Restaurant", "part:900:Room", "part:900:Projector", "part:901:Dinner"}, again.calls)
	assert.Equal(t, reconcile.StatusSucceeded, res.Status)
}

func TestReconcilePollsUntilVisible(t *testing.T) {
	b := &fakeBackend{hiddenFor: 2}
	res, err := newEngine(b).Reconcile(context.Background(), reconcile.Request{Draft: draft()})
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusSucceeded, res.Status)
	assert.Equal(t, "900", res.Contents[0].RequestID)
	assert.Equal(t, 4, b.detailCalls)
}

func TestReconcileContentNeverVisible(t *testing.T) {
	b := &fakeBackend{hiddenFor: 1000}
	res, err := newEngine(b).Reconcile(context.Background(), reconcile.Request{Draft: draft()})
	require.NoError(t, err)
	assert.Equal(t, reconcile.StatusPartialFailure, res.Status)
	assert.Equal(t, []string{"Conference", "Restaurant"}, res.Failures())
	assert.Zero(t, b.partCalls)
}

func TestReconcilePayloads(t *testing.T) {
	b := &fakeBackend{}
	_, err := newEngine(b).Reconcile(context.Background(), reconcile.Request{Draft: draft(), Email: "a@b.se"})
	require.NoError(t, err)

	create := b.payloads[0]
	assert.Equal(t, int64(1239948), create["templateId"])
	assert.Equal(t, "20", create["participantAmount"])
	assert.Equal(t, "Sweden", create["eventAddress"].(map[string]any)["country"])
	assert.Equal(t, time.Date(2025, 5, 6, 0, 0, 0, 0, time.UTC).UnixMilli(), create["fromDate"])

	room := b.payloads[1]
	assert.Equal(t, int64(9*time.Hour/time.Millisecond), room["dateTimeFrom"])
	assert.Equal(t, int64(12*time.Hour/time.Millisecond), room["dateTimeTo"])
	assert.Equal(t, 20, room["amount"])

	projector := b.payloads[2]
	_, timed := projector["dateTimeFrom"]
	assert.False(t, timed)
	assert.Equal(t, 1, projector["amount"])
}

func TestReconcileRejectsInvalidDraft(t *testing.T) {
	d := draft()
	d.Requirements.EventContents[0].Parts[0].Time = ""
	b := &fakeBackend{}
	_, err := newEngine(b).Reconcile(context.Background(), reconcile.Request{Draft: d})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, b.calls)
}

func TestParseMode(t *testing.T) {
	m, err := reconcile.ParseMode("create_add_suppliers_and_send_requests")
	require.NoError(t, err)
	assert.Equal(t, reconcile.ModeSend, m)
	_, err = reconcile.ParseMode("destroy")
	assert.ErrorIs(t, err, reconcile.ErrInvalidMode)
}

func TestFromDocumentRequiresSupplierDraft(t *testing.T) {
	doc := domain.NewDocument("r1", "2025-01-01T00:00:00Z")
	_, err := reconcile.FromDocument(doc, "a@b.se", reconcile.ModeCreate)
	assert.ErrorIs(t, err, reconcile.ErrNothingToRun)

	d := draft()
	doc.FinalDraftWithSuppliers = &d
	req, err := reconcile.FromDocument(doc, "a@b.se", reconcile.ModeSend)
	require.NoError(t, err)
	assert.Equal(t, reconcile.ModeSend, req.Mode)
	assert.Equal(t, "Kickoff", req.Draft.Requirements.EventType)
}

func TestReconcileRunReturnsResult(t *testing.T) {
	b := &fakeBackend{}
	res, shared, err := newEngine(b).ReconcileRun(context.Background(), "r1", reconcile.Request{Draft: draft()})
	require.NoError(t, err)
	assert.False(t, shared)
	assert.Equal(t, "77", res.EventID)
}

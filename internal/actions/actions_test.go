package actions_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventline/internal/actions"
	"eventline/internal/booking"
	"eventline/internal/domain"
	"eventline/internal/reconcile"
)

type fakeBooking struct {
	calls     []string
	query     booking.SupplierQuery
	box       *booking.Boundaries
	payload   map[string]any
	refs      [][]booking.SupplierRef
	suppliers int
}

func (f *fakeBooking) Event(ctx context.Context, eventID string) (booking.EventView, error) {
	f.calls = append(f.calls, "event:"+eventID)
	return booking.EventView{
		ID:        domain.ID(eventID),
		StartDate: "1746489600000",
		Contents:  []booking.ContentView{{Name: "Restaurant", Offers: []booking.OfferView{{RequestID: "900"}}}},
	}, nil
}

func (f *fakeBooking) UpsertContent(ctx context.Context, eventID, name, contentID string) error {
	f.calls = append(f.calls, "content:"+name+":"+contentID)
	return nil
}

func (f *fakeBooking) AddPart(ctx context.Context, requestID string, payload map[string]any) (map[string]any, error) {
	f.calls = append(f.calls, "part:"+requestID)
	f.payload = payload
	return map[string]any{"id": 5}, nil
}

func (f *fakeBooking) AddSuppliers(ctx context.Context, requestID string, s []booking.SupplierRef) error {
	f.calls = append(f.calls, "suppliers:"+requestID)
	f.refs = append(f.refs, append([]booking.SupplierRef(nil), s...))
	return nil
}

func (f *fakeBooking) AddSuppliersAndSend(ctx context.Context, requestID string, s []booking.SupplierRef) error {
	f.calls = append(f.calls, "send:"+requestID)
	f.refs = append(f.refs, append([]booking.SupplierRef(nil), s...))
	return nil
}

func (f *fakeBooking) Boundaries(ctx context.Context, location string) (booking.Boundaries, bool, error) {
	f.calls = append(f.calls, "bounds:"+location)
	if location == "Nowhere" {
		return booking.Boundaries{}, false, nil
	}
	return booking.Boundaries{North: 60, South: 59, East: 19, West: 17}, true, nil
}

func (f *fakeBooking) SearchSuppliers(ctx context.Context, q booking.SupplierQuery, box *booking.Boundaries) (booking.SupplierPage, error) {
	f.calls = append(f.calls, "search")
	f.query = q
	f.box = box
	page := booking.SupplierPage{Total: f.suppliers}
	for i := 0; i < f.suppliers; i++ {
		page.Suppliers = append(page.Suppliers, map[string]any{"id": i})
	}
	return page, nil
}

type fakeCatalog map[string][]int64

func (c fakeCatalog) MatchCategories(ctx context.Context, name string, allowed []string) ([]int64, error) {
	return c[name], nil
}

type fakeReconciler struct {
	runID string
	req   reconcile.Request
}

func (f *fakeReconciler) ReconcileRun(ctx context.Context, runID string, req reconcile.Request) (reconcile.Result, bool, error) {
	f.runID = runID
	f.req = req
	return reconcile.Result{EventID: "77", Status: reconcile.StatusSucceeded}, false, nil
}

func setup(t *testing.T) (*actions.Registry, *fakeBooking, *fakeReconciler) {
	t.Helper()
	b := &fakeBooking{}
	rec := &fakeReconciler{}
	r := actions.NewRegistry()
	require.NoError(t, actions.Register(r, actions.Deps{
		Booking:    b,
		Reconciler: rec,
		Catalog:    fakeCatalog{"restaurant": {11, 12}, "hotel": {20}},
		Allowed:    []string{"restaurant", "hotel", "bus"},
		Location:   time.UTC,
	}))
	return r, b, rec
}

func run(t *testing.T, r *actions.Registry, name, args string, doc *domain.Document) (map[string]any, error) {
	t.Helper()
	out, err := r.Execute(context.Background(), name, actions.Call{RunID: "r1", Doc: doc, Args: json.RawMessage(args)})
	if err != nil {
		return nil, err
	}
	var m map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &m))
	return m, nil
}

func TestRegistrySpecsAndLookup(t *testing.T) {
	r, _, _ := setup(t)
	assert.Equal(t, []string{
		"add_content_part", "add_or_update_content", "add_suppliers_to_content",
		"create_event", "fetch_suppliers", "get_event_detail",
	}, r.Names())

	specs := r.Specs(actions.FetchSuppliers, "missing")
	require.Len(t, specs, 1)
	assert.Equal(t, "object", specs[0].Parameters["type"])
	assert.Len(t, r.Specs(), 6)

	err := r.Register(&actions.Action{Name: actions.FetchSuppliers, Handler: func(context.Context, actions.Call) (any, error) { return nil, nil }})
	assert.ErrorIs(t, err, actions.ErrDuplicate)
}

func TestExecuteRecoversPanics(t *testing.T) {
	r := actions.NewRegistry()
	r.MustRegister(&actions.Action{Name: "boom", Handler: func(context.Context, actions.Call) (any, error) {
		panic("kaput")
	}})
	_, err := r.Execute(context.Background(), "boom", actions.Call{})
	assert.ErrorIs(t, err, actions.ErrPanicked)

	_, err = r.Execute(context.Background(), "nope", actions.Call{})
	assert.ErrorIs(t, err, actions.ErrUnknownAction)
}

func TestFetchSuppliersBuildsQuery(t *testing.T) {
	r, b, _ := setup(t)
	b.suppliers = 14
	out, err := run(t, r, actions.FetchSuppliers,
		`{"location":"Stockholm","categories":["restaurant","bus"],"limit":50,"sort_order":"DESC","minRating":"x"}`, nil)
	require.Error(t, err, "minRating must be numeric")
	assert.Nil(t, out)

	out, err = run(t, r, actions.FetchSuppliers,
		`{"location":"Stockholm","categories":["restaurant","bus"],"limit":50,"sort_order":"DESC","minRating":3.5}`, nil)
	require.NoError(t, err)
	assert.Len(t, out["suppliers"], 10)
	assert.Equal(t, 10, b.query.Limit)
	assert.Equal(t, "desc", b.query.SortOrder)
	assert.Equal(t, "supplier_name", b.query.SortBy)
	assert.Equal(t, 3.5, b.query.MinRating)
	assert.Equal(t, 5.0, b.query.MaxRating)
	assert.Equal(t, []int64{11, 12}, b.query.CategoryIDs)
	assert.Equal(t, actions.DefaultSupplierFields, b.query.Fields)
	require.NotNil(t, b.box)
	assert.Equal(t, 60.0, b.box.North)
}

func TestFetchSuppliersRejectsBadInput(t *testing.T) {
	r, b, _ := setup(t)

	_, err := run(t, r, actions.FetchSuppliers, `{"sort_by":"price"}`, nil)
	assert.ErrorIs(t, err, actions.ErrBadArgs)

	_, err = run(t, r, actions.FetchSuppliers, `{"categories":["spa","bus"]}`, nil)
	assert.ErrorIs(t, err, actions.ErrBadArgs)
	assert.ErrorContains(t, err, "spa, bus")

	_, err = run(t, r, actions.FetchSuppliers, `{"limit":0,"location":"Nowhere"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, b.query.Limit)
	assert.Nil(t, b.box)
}

func TestAddContentPartValidates(t *testing.T) {
	r, b, _ := setup(t)

	_, err := run(t, r, actions.AddContentPart,
		`{"content_id":900,"name":"Dinner","amount":20,"amount_type":"PEOPLE","timeless":false,"date":"2025-05-06"}`, nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, b.calls)

	out, err := run(t, r, actions.AddContentPart,
		`{"content_id":900,"name":"Dinner","amount":"20","amount_type":"people","timeless":false,"date":"2025-05-06","time":"19:00","duration_hours":"2,30"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out["success"])
	assert.Equal(t, []string{"part:900"}, b.calls)
	assert.Equal(t, int64(19*time.Hour/time.Millisecond), b.payload["dateTimeFrom"])
	assert.Equal(t, int64((21*time.Hour+30*time.Minute)/time.Millisecond), b.payload["dateTimeTo"])
}

func TestAddSuppliersToContent(t *testing.T) {
	r, b, _ := setup(t)
	_, err := run(t, r, actions.AddSuppliersToContent, `{"content_id":"900","supplier_ids":[501,"502"],"send_requests":true}`, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"suppliers:900", "send:900"}, b.calls)
	assert.False(t, b.refs[0][0].Send)
	assert.True(t, b.refs[1][1].Send)
	assert.Equal(t, "502", b.refs[1][1].ID)
}

func TestAddOrUpdateContentReturnsDetails(t *testing.T) {
	r, b, _ := setup(t)
	out, err := run(t, r, actions.AddOrUpdateContent, `{"event_id":77,"content_name":"Restaurant"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"content:Restaurant:", "event:77"}, b.calls)
	details := out["content_details"].(map[string]any)
	assert.Equal(t, "Restaurant", details["content"])
}

func TestGetEventDetailFormatsDates(t *testing.T) {
	r, _, _ := setup(t)
	out, err := run(t, r, actions.GetEventDetail, `{"event_id":"77"}`, nil)
	require.NoError(t, err)
	assert.Equal(t, "2025-05-06", out["start_date"])
}

func TestCreateEventNeedsSupplierDraft(t *testing.T) {
	r, _, rec := setup(t)
	doc := domain.NewDocument("r1", "2025-01-01T00:00:00Z")

	_, err := run(t, r, actions.CreateEvent, `{"user_email":"a@b.se","action":"create"}`, doc)
	assert.True(t, errors.Is(err, reconcile.ErrNothingToRun))

	_, err = run(t, r, actions.CreateEvent, `{"user_email":"a@b.se","action":"explode"}`, doc)
	assert.ErrorIs(t, err, reconcile.ErrInvalidMode)

	doc.FinalDraftWithSuppliers = &domain.Draft{Requirements: domain.Requirements{EventType: "Kickoff"}}
	out, err := run(t, r, actions.CreateEvent, `{"user_email":"a@b.se","action":"create_and_add_suppliers"}`, doc)
	require.NoError(t, err)
	assert.Equal(t, "77", out["event_id"])
	assert.Equal(t, "r1", rec.runID)
	assert.Equal(t, reconcile.ModeAttach, rec.req.Mode)
	assert.Equal(t, "a@b.se", rec.req.Email)
}

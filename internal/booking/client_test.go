package booking_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eventline/internal/booking"
	"eventline/internal/config"
)

func newClient(url string) *booking.Client {
	return &booking.Client{BaseURL: url, Timeout: 5 * time.Second, Retries: 2, Backoff: time.Millisecond}
}

func TestRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"id": 4711}`))
	}))
	defer srv.Close()

	id, _, err := newClient(srv.URL).CreateEvent(context.Background(), map[string]any{"name": "Kickoff"})
	require.NoError(t, err)
	assert.Equal(t, "4711", id)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGivesUpAfterRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).EventDetail(context.Background(), "1")
	assert.ErrorIs(t, err, booking.ErrTransient)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestClientErrorsAreNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad part", http.StatusBadRequest)
	}))
	defer srv.Close()

	_, err := newClient(srv.URL).AddPart(context.Background(), "9", map[string]any{})
	var apiErr *booking.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestUpsertContentAndSuppliersPayloads(t *testing.T) {
	bodies := map[string]map[string]any{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		var body map[string]any
		_ = json.Unmarshal(data, &body)
		bodies[r.URL.Path] = body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	require.NoError(t, c.UpsertContent(context.Background(), "12", "Catering", ""))
	require.NoError(t, c.AddSuppliersAndSend(context.Background(), "900", []booking.SupplierRef{{ID: "55", Send: true}}))

	req := bodies["/api/add_or_update_content/12"]["requests"].([]any)[0].(map[string]any)["request"].(map[string]any)
	assert.Equal(t, "Catering", req["name"])
	_, hasID := req["id"]
	assert.False(t, hasID)

	sup := bodies["/api/add_supplier_to_request_and_send/900"]["suppliers"].([]any)[0].(map[string]any)
	assert.Equal(t, float64(55), sup["id"])
	assert.Equal(t, true, sup["send"])
}

func TestSearchSuppliersQuery(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = map[string]string{}
		for k := range r.URL.Query() {
			got[k] = r.URL.Query().Get(k)
		}
		_, _ = w.Write([]byte(`{"total": 1, "suppliers": [{"supplier_name": "Bistro"}]}`))
	}))
	defer srv.Close()

	page, err := newClient(srv.URL).SearchSuppliers(context.Background(), booking.SupplierQuery{
		MaxRating: 5, Limit: 10, SortBy: "rating", SortOrder: "desc", CategoryIDs: []int64{3, 4},
	}, &booking.Boundaries{North: 59.4, South: 59.2, East: 18.2, West: 17.9})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)
	assert.Equal(t, "3,4", got["categories"])
	assert.Equal(t, "59.4", got["north"])
	assert.Equal(t, "rating", got["sort_by"])
	_, hasName := got["name"]
	assert.False(t, hasName)
}

func TestLiftEvent(t *testing.T) {
	var detail map[string]any
	require.NoError(t, json.Unmarshal([]byte(`{
		"event": {
			"id": 12, "name": "Kickoff", "fromDate": 1746482400000, "toDate": 1746568800000,
			"participantAmount": "20", "eventAddress": {"displayAddress": "Stockholm"},
			"requests": [
				{"id": 3, "name": "Catering", "requestOffers": [{"request": {"id": 900}, "status": {"name": "DRAFT"},
					"offerParts": [{"name": "Lunch", "amount": 20, "amountType": {"name": "PEOPLE"}, "dateTimeFrom": 43200000, "dateTimeTo": 46800000}]}]},
				{"id": 4, "name": "Hotel", "requestOffers": []}
			]
		}
	}`), &detail))

	view, err := booking.LiftEvent(detail)
	require.NoError(t, err)
	assert.Equal(t, "12", string(view.ID))
	assert.Equal(t, "Stockholm", view.Location)

	catering, ok := view.Content("Catering")
	require.True(t, ok)
	id, ok := catering.RequestID()
	require.True(t, ok)
	assert.Equal(t, "900", id)
	assert.Equal(t, "PEOPLE", catering.Offers[0].Parts[0].AmountType)

	hotel, ok := view.Content("Hotel")
	require.True(t, ok)
	_, ok = hotel.RequestID()
	assert.False(t, ok)

	_, err = booking.LiftEvent(map[string]any{"error": "nope"})
	assert.Error(t, err)
}

func TestSharedClientServesConcurrentRuns(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"id": 1}`))
	}))
	defer srv.Close()

	c := newClient(srv.URL)
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.AddPart(context.Background(), "9", map[string]any{"name": "Dinner"})
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Equal(t, int32(8), atomic.LoadInt32(&calls))
	assert.Nil(t, c.HTTPClient)

	built := booking.New(config.Booking{BaseURL: srv.URL, Timeout: time.Second}, nil)
	require.NotNil(t, built.HTTPClient)
	assert.Equal(t, time.Second, built.HTTPClient.Timeout)
}

package eventlinesdk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSendTurnAndErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		switch r.URL.Path {
		case "/v0/runs/r%201/turns", "/v0/runs/r 1/turns":
			var body map[string]string
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, "hello", body["message"])
			json.NewEncoder(w).Encode(map[string]any{"run_id": "r 1", "phase": "gather_requirements", "reply": "hi", "committed": []string{}})
		case "/v0/runs/r1/events":
			assert.Equal(t, "7", r.URL.Query().Get("after"))
			json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{{"id": 8, "type": "turn.completed"}}})
		default:
			w.WriteHeader(http.StatusConflict)
			w.Write([]byte(`{"error":{"code":"stale_transition","message":"moved on"}}`))
		}
	}))
	defer srv.Close()

	c := New(srv.URL + "/")
	c.BearerToken = "tok"
	ctx := context.Background()

	res, err := c.SendTurn(ctx, "r 1", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hi", res.Reply)

	evs, err := c.EventsAfter(ctx, "r1", 7, 0)
	require.NoError(t, err)
	require.Len(t, evs, 1)
	assert.EqualValues(t, 8, evs[0].ID)

	_, err = c.Reconcile(ctx, "r1", "a@b.se", "send")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "stale_transition", apiErr.Code)
}

func TestZeroClientIsSafeForConcurrentUse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"items": []map[string]any{}})
	}))
	defer srv.Close()

	c := &Client{BaseURL: srv.URL}
	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = c.EventsAfter(context.Background(), "r1", 1, 10)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.Nil(t, c.HTTPClient)
	assert.NotNil(t, New(srv.URL).HTTPClient)
}

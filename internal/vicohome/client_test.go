package vicohome

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jpaulin/freebird-go/internal/errors"
)

// apiFixture scripts the login endpoint and a sequence of library API
// responses, counting calls to each.
type apiFixture struct {
	t          *testing.T
	logins     atomic.Int64
	apiCalls   atomic.Int64
	apiHandler func(call int64, w http.ResponseWriter, r *http.Request)
	server     *httptest.Server
}

func newAPIFixture(t *testing.T, apiHandler func(call int64, w http.ResponseWriter, r *http.Request)) *apiFixture {
	t.Helper()
	f := &apiFixture{t: t, apiHandler: apiHandler}
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/account/login":
			f.logins.Add(1)
			require.NoError(t, json.NewEncoder(w).Encode(loginResponse("tok-fresh")))
		default:
			f.apiHandler(f.apiCalls.Add(1), w, r)
		}
	}))
	t.Cleanup(f.server.Close)
	return f
}

// client returns a Client whose token manager is seeded with a credential
// the server may or may not accept.
func (f *apiFixture) client(seedToken string) *Client {
	settings := testSettings(f.t, f.server.URL)
	tm := NewTokenManager(settings)
	if seedToken != "" {
		tm.token = seedToken
		tm.expiresAt = time.Now().Add(time.Hour)
	}
	return NewClient(settings, tm)
}

func writeJSON(t *testing.T, w http.ResponseWriter, v any) {
	t.Helper()
	require.NoError(t, json.NewEncoder(w).Encode(v))
}

func eventListResponse(traceIDs ...string) map[string]any {
	list := make([]map[string]any, 0, len(traceIDs))
	for _, id := range traceIDs {
		list = append(list, map[string]any{
			"traceId":    id,
			"timestamp":  1700000000,
			"deviceName": "Feeder Cam",
		})
	}
	return map[string]any{
		"code": 0,
		"data": map[string]any{"list": list},
	}
}

func TestListEventsAuthRetrySucceedsOnce(t *testing.T) {
	fixture := newAPIFixture(t, func(call int64, w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") == "tok-stale" {
			writeJSON(t, w, map[string]any{"result": -1024, "msg": "token expired"})
			return
		}
		writeJSON(t, w, eventListResponse("trace-1"))
	})
	client := fixture.client("tok-stale")

	events, err := client.ListEvents(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "trace-1", events[0].TraceID)

	// Exactly one re-login, two API attempts, no third of either.
	assert.Equal(t, int64(1), fixture.logins.Load())
	assert.Equal(t, int64(2), fixture.apiCalls.Load())
}

func TestListEventsTwoAuthFailuresAreFatal(t *testing.T) {
	fixture := newAPIFixture(t, func(call int64, w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"result": -1025, "msg": "invalid token"})
	})
	client := fixture.client("tok-stale")

	_, err := client.ListEvents(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsAuth(err))

	// One transparent retry, never a third attempt.
	assert.Equal(t, int64(2), fixture.apiCalls.Load())
	assert.Equal(t, int64(1), fixture.logins.Load())
}

func TestListEventsHTMLResponseTreatedAsAuthFailure(t *testing.T) {
	fixture := newAPIFixture(t, func(call int64, w http.ResponseWriter, r *http.Request) {
		if call == 1 {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write([]byte("<html><body>session expired</body></html>"))
			return
		}
		writeJSON(t, w, eventListResponse("trace-2"))
	})
	client := fixture.client("tok-stale")

	events, err := client.ListEvents(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, int64(2), fixture.apiCalls.Load())
}

func TestListEventsTransportErrorSkipsAuthRetry(t *testing.T) {
	fixture := newAPIFixture(t, func(call int64, w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})
	client := fixture.client("tok-valid")

	_, err := client.ListEvents(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryNetwork))

	// No auth dance for non-auth failures.
	assert.Equal(t, int64(1), fixture.apiCalls.Load())
	assert.Equal(t, int64(0), fixture.logins.Load())
}

func TestListEventsSkipsUnparseableItems(t *testing.T) {
	fixture := newAPIFixture(t, func(call int64, w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{
				"list": []any{
					map[string]any{"traceId": "trace-ok", "timestamp": 1700000000},
					map[string]any{"timestamp": "not-a-number"},
				},
			},
		})
	})
	client := fixture.client("tok-valid")

	events, err := client.ListEvents(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "trace-ok", events[0].TraceID)
}

func TestListEventsRequestPayload(t *testing.T) {
	start := time.Unix(1700000000, 0)
	end := time.Unix(1700003600, 0)

	fixture := newAPIFixture(t, func(call int64, w http.ResponseWriter, r *http.Request) {
		var payload map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
		assert.Equal(t, "1700000000", payload["startTimestamp"])
		assert.Equal(t, "1700003600", payload["endTimestamp"])
		assert.Equal(t, "en", payload["language"])
		assert.Equal(t, "US", payload["countryNo"])
		writeJSON(t, w, eventListResponse())
	})
	client := fixture.client("tok-valid")

	_, err := client.ListEvents(context.Background(), start, end)
	require.NoError(t, err)
}

func TestGetEventNestedUnderEventKey(t *testing.T) {
	fixture := newAPIFixture(t, func(call int64, w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{
			"code": 0,
			"data": map[string]any{
				"event": map[string]any{
					"traceId":    "trace-nested",
					"deviceName": "Feeder Cam",
				},
			},
		})
	})
	client := fixture.client("tok-valid")

	event, err := client.GetEvent(context.Background(), "trace-nested")
	require.NoError(t, err)
	require.NotNil(t, event)
	assert.Equal(t, "trace-nested", event.TraceID)
}

func TestGetEventUnknownTraceReturnsNil(t *testing.T) {
	fixture := newAPIFixture(t, func(call int64, w http.ResponseWriter, r *http.Request) {
		writeJSON(t, w, map[string]any{"code": -2, "msg": "no such event"})
	})
	client := fixture.client("tok-valid")

	event, err := client.GetEvent(context.Background(), "trace-missing")
	require.NoError(t, err)
	assert.Nil(t, event)
}

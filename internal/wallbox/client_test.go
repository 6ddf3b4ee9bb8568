package wallbox

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client := NewClient(zap.NewNop(), WithBaseURLs(srv.URL, srv.URL))
	return client, srv
}

func TestSigninDecodesSession(t *testing.T) {
	expiry := time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/signin", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		require.True(t, ok)
		assert.Equal(t, "a@b.c", user)
		assert.Equal(t, "secret", pass)
		assert.Equal(t, "wallbox", r.Header.Get("Partner"))

		fmt.Fprintf(w, `{"data":{"attributes":{
			"user_id": 12345,
			"token": "tok",
			"refresh_token": "ref",
			"ttl": %d,
			"refresh_token_ttl": %d
		}}}`, expiry.UnixMilli(), expiry.Add(14*24*time.Hour).UnixMilli())
	}))

	session, err := client.Signin(context.Background(), "a@b.c", "secret")
	require.NoError(t, err)
	assert.Equal(t, "12345", session.UserID)
	assert.Equal(t, "tok", session.Token)
	assert.Equal(t, "ref", session.RefreshToken)
	assert.Equal(t, expiry, session.Expiry.UTC())
}

func TestRefreshDecodesDeeperEnvelope(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/users/refresh-token", r.URL.Path)
		assert.Equal(t, "Bearer old-refresh", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{"data":{"data":{"attributes":{
			"user_id": "u1",
			"token": "tok2",
			"refresh_token": "ref2",
			"ttl": 1900000000000,
			"refresh_token_ttl": 1900000000000
		}}}}`)
	}))

	session, err := client.Refresh(context.Background(), "old-refresh")
	require.NoError(t, err)
	assert.Equal(t, "tok2", session.Token)
	assert.Equal(t, "ref2", session.RefreshToken)
}

func TestRefreshDoesNotRetryUnauthorized(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))

	_, err := client.Refresh(context.Background(), "stale")
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
	assert.Equal(t, int32(1), hits.Load(), "401 must surface immediately for the signin fallback")
}

func TestGetChargerStatusDecodes(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chargers/status/42", r.URL.Path)
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{
			"config_data": {
				"charger_id": 42,
				"uid": "uid-42",
				"locked": 1,
				"max_charging_current": 32,
				"sync_timestamp": 1717243200
			},
			"name": "Garage",
			"status_id": 210,
			"added_energy": 10.0,
			"charging_time": 3700
		}`)
	}))

	snap, err := client.GetChargerStatus(context.Background(), "tok", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, snap.ChargerID)
	assert.Equal(t, "uid-42", snap.UID)
	assert.Equal(t, "Garage", snap.Name)
	assert.Equal(t, 210, snap.StatusID)
	assert.True(t, snap.Locked)
	assert.Equal(t, 32.0, snap.MaxChargingCurrent)
	assert.Equal(t, 10.0, snap.AddedEnergy)
	assert.Equal(t, 3700, snap.ChargingTime)
	assert.Equal(t, int64(1717243200), snap.SyncTimestamp.Unix())
}

func TestStatusRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"config_data":{"charger_id":7},"status_id":193}`)
	}))

	snap, err := client.GetChargerStatus(context.Background(), "tok", 7)
	require.NoError(t, err)
	assert.Equal(t, 193, snap.StatusID)
	assert.Equal(t, int32(3), hits.Load())
}

func TestStatusRetriesAreBounded(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))

	_, err := client.GetChargerStatus(context.Background(), "tok", 7)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.Code)
	assert.Equal(t, int32(3), hits.Load(), "status endpoint is limited to 3 attempts")
}

func TestSetLockSendsBodyAndDecodes(t *testing.T) {
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/v2/charger/42", r.URL.Path)

		var body map[string]bool
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, map[string]bool{"locked": true}, body)

		fmt.Fprint(w, `{"data":{"chargerData":{"id":42,"locked":true,"maxChargingCurrent":32}}}`)
	}))

	data, err := client.SetLock(context.Background(), "tok", 42, true)
	require.NoError(t, err)
	assert.True(t, data.Locked)
	assert.Equal(t, 32.0, data.MaxChargingCurrent)
}

func TestRemoteActionCodes(t *testing.T) {
	tests := []struct {
		name     string
		action   RemoteAction
		expected int
	}{
		{"resume", ActionResume, 1},
		{"pause", ActionPause, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/v3/chargers/9/remote-action", r.URL.Path)

				var body map[string]int
				require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(t, tt.expected, body["action"])
				w.WriteHeader(http.StatusOK)
			}))

			require.NoError(t, client.RemoteAction(context.Background(), "tok", 9, tt.action))
		})
	}
}

func TestNonRetryableErrorSurfacesUnmodified(t *testing.T) {
	var hits atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))

	_, err := client.SetMaxCurrent(context.Background(), "tok", 42, 16)
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
	assert.Equal(t, int32(1), hits.Load())
}

package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/model"
)

const snapshotBody = `{
	"timestamp": "2024-05-01T12:00:00.000001",
	"user_id": "user123",
	"vital_signs": {"heart_rate": 75, "spo2": 98, "respiratory_rate": 16,
		"blood_pressure": {"systolic": 118, "diastolic": 76}},
	"movement_data": {"activity_state": "normal", "device_orientation": "upright", "minutes_since_last_movement": 0.4},
	"context": {"location_type": "indoor", "gps_coordinates": {"latitude": 0, "longitude": 0}, "time_of_day": "12:00"}
}`

func newTestClient(url string) *Health {
	return NewHealth(HealthOptions{BaseURL: url, Timeout: time.Second, UserAgent: "test"}, noopLogger())
}

func TestFetchSnapshotSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/health/user123", r.URL.Path)
		assert.Equal(t, "test", r.Header.Get("User-Agent"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(snapshotBody))
	}))
	defer srv.Close()

	snap, err := newTestClient(srv.URL).FetchSnapshot(context.Background(), "user123")
	require.NoError(t, err)
	assert.Equal(t, 75.0, snap.VitalSigns.HeartRate)
	assert.Equal(t, 118.0, snap.VitalSigns.BloodPressure.Systolic)
	assert.Equal(t, model.ActivityNormal, snap.MovementData.ActivityState)
	assert.Nil(t, snap.AccidentData)
	assert.Equal(t, "user123", snap.UserID)
}

func TestFetchSnapshotHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"detail": "simulator restarting"})
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).FetchSnapshot(context.Background(), "user123")
	require.Error(t, err)

	var fe *FetchError
	require.True(t, errors.As(err, &fe))
	assert.Equal(t, KindHTTPStatus, fe.Kind)
	assert.Equal(t, http.StatusServiceUnavailable, fe.StatusCode)
	assert.Contains(t, err.Error(), "simulator restarting")
}

const (
	validVitals   = `"vital_signs": {"heart_rate": 70, "spo2": 98, "respiratory_rate": 14, "blood_pressure": {"systolic": 120, "diastolic": 80}}`
	validMovement = `"movement_data": {"activity_state": "normal", "minutes_since_last_movement": 1}`
	validContext  = `"context": {"location_type": "outdoor", "gps_coordinates": {"latitude": 51.5, "longitude": -0.12}, "time_of_day": "14:05"}`
)

func snapshotWith(sections ...string) string {
	return "{" + strings.Join(sections, ",") + "}"
}

func serveBody(t *testing.T, body string) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchSnapshotRejectsPartialPayload(t *testing.T) {
	cases := map[string]string{
		"not json":              `<html>oops</html>`,
		"null":                  `null`,
		"missing vitals":        snapshotWith(validMovement, validContext),
		"missing spo2":          snapshotWith(`"vital_signs": {"heart_rate": 70, "respiratory_rate": 14, "blood_pressure": {"systolic": 120, "diastolic": 80}}`, validMovement, validContext),
		"missing movement":      snapshotWith(validVitals, validContext),
		"missing context":       snapshotWith(validVitals, validMovement),
		"empty context":         snapshotWith(validVitals, validMovement, `"context": {}`),
		"context without gps":   snapshotWith(validVitals, validMovement, `"context": {"location_type": "indoor", "time_of_day": "09:00"}`),
		"gps without longitude": snapshotWith(validVitals, validMovement, `"context": {"location_type": "indoor", "gps_coordinates": {"latitude": 1}, "time_of_day": "09:00"}`),
		"context without time":  snapshotWith(validVitals, validMovement, `"context": {"location_type": "indoor", "gps_coordinates": {"latitude": 0, "longitude": 0}}`),
		"accident without type": snapshotWith(validVitals, validMovement, validContext, `"accident_data": {"accident_phase": "impact", "elapsed_time": 1}`),
		"unknown accident type": snapshotWith(validVitals, validMovement, validContext, `"accident_data": {"accident_type": "meteor", "accident_phase": "impact", "elapsed_time": 1}`),
		"accident type only":    snapshotWith(validVitals, validMovement, validContext, `"accident_data": {"accident_type": "car_crash"}`),
		"accident without time": snapshotWith(validVitals, validMovement, validContext, `"accident_data": {"accident_type": "fall", "accident_phase": "impact"}`),
	}

	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			srv := serveBody(t, body)

			snap, err := newTestClient(srv.URL).FetchSnapshot(context.Background(), "user123")
			require.Error(t, err)
			assert.True(t, IsKind(err, KindDecode), "expected decode error, got %v", err)
			assert.Equal(t, model.Snapshot{}, snap)
		})
	}
}

func TestFetchSnapshotWithAccident(t *testing.T) {
	srv := serveBody(t, snapshotWith(validVitals, validMovement, validContext,
		`"accident_data": {"accident_type": "car_crash", "accident_phase": "impact", "elapsed_time": 3.2}`))

	snap, err := newTestClient(srv.URL).FetchSnapshot(context.Background(), "user123")
	require.NoError(t, err)
	require.NotNil(t, snap.AccidentData)
	assert.Equal(t, model.AccidentEvent{AccidentType: model.AccidentCarCrash, AccidentPhase: "impact", ElapsedTime: 3.2}, *snap.AccidentData)
	assert.Equal(t, model.LocationContext{
		LocationType:   "outdoor",
		GPSCoordinates: model.GPSCoordinates{Latitude: 51.5, Longitude: -0.12},
		TimeOfDay:      "14:05",
	}, snap.Context)
}

func TestFetchSnapshotNetworkError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := newTestClient(url).FetchSnapshot(context.Background(), "user123")
	require.Error(t, err)
	assert.Equal(t, KindNetwork, KindOf(err))
}

func TestFetchHistoryKeepsServiceOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health/user123/history", r.URL.Path)
		assert.Equal(t, "6", r.URL.Query().Get("hours"))
		_, _ = w.Write([]byte(`[
			{"timestamp": "2024-05-01T11:00:00", "vital_signs": {"heart_rate": 80, "spo2": 97, "respiratory_rate": 15, "blood_pressure": {"systolic": 121, "diastolic": 79}}},
			{"timestamp": "2024-05-01T10:00:00", "vital_signs": {"heart_rate": 70, "spo2": 98, "respiratory_rate": 14, "blood_pressure": {"systolic": 119, "diastolic": 77}}}
		]`))
	}))
	defer srv.Close()

	series, err := newTestClient(srv.URL).FetchHistory(context.Background(), "user123", 6)
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, 80.0, series[0].VitalSigns.HeartRate)
	assert.Equal(t, 70.0, series[1].VitalSigns.HeartRate)
}

func TestFetchHistoryDefaultsWindowAndRejectsBadPoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "24", r.URL.Query().Get("hours"))
		_, _ = w.Write([]byte(`[{"vital_signs": {"heart_rate": 80, "spo2": 97, "respiratory_rate": 15, "blood_pressure": {"systolic": 121, "diastolic": 79}}}]`))
	}))
	defer srv.Close()

	series, err := newTestClient(srv.URL).FetchHistory(context.Background(), "user123", 0)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDecode))
	assert.Nil(t, series)
}

func TestFetchHistoryEmptyArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	series, err := newTestClient(srv.URL).FetchHistory(context.Background(), "user123", 24)
	require.NoError(t, err)
	assert.Empty(t, series)
}

func TestFetchHistoryRejectsNull(t *testing.T) {
	srv := serveBody(t, `null`)

	series, err := newTestClient(srv.URL).FetchHistory(context.Background(), "user123", 24)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindDecode))
	assert.Nil(t, series)
}

func TestSendSimulate(t *testing.T) {
	var received map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/health/user123/simulate", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	err := newTestClient(srv.URL).SendSimulate(context.Background(), "user123", model.AccidentCarCrash)
	require.NoError(t, err)
	assert.Equal(t, "car_crash", received["accident_type"])
}

func TestSendSimulateFailures(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	err := client.SendSimulate(context.Background(), "user123", model.AccidentType("meteor"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrUnknownAccidentType))
	assert.Equal(t, 0, calls, "unknown types must not reach the service")

	err = client.SendSimulate(context.Background(), "user123", model.AccidentFall)
	require.Error(t, err)
	assert.True(t, IsKind(err, KindHTTPStatus))
	assert.Equal(t, 1, calls, "no retries inside the client")
}

func TestErrorDetail(t *testing.T) {
	assert.Equal(t, "boom", errorDetail([]byte(`{"detail":"boom"}`)))
	assert.Equal(t, `[{"loc":["body"]}]`, errorDetail([]byte(`{"detail":[{"loc":["body"]}]}`)))
	assert.Equal(t, "plain text", errorDetail([]byte("  plain text \n")))
}

func TestTruncateKeepsRunesWhole(t *testing.T) {
	short := strings.Repeat("é", 10)
	assert.Equal(t, short, truncate(short))

	// one ASCII byte shifts every two-byte rune off the limit boundary.
	long := "x" + strings.Repeat("é", maxErrorDetail)
	out := truncate(long)
	assert.True(t, utf8.ValidString(out), "truncated detail must stay valid UTF-8")
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.LessOrEqual(t, len(out), maxErrorDetail+len("..."))
}

func noopLogger() zerolog.Logger {
	return zerolog.Nop()
}

package model

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAccidentType(t *testing.T) {
	got, err := ParseAccidentType(" Car_Crash ")
	require.NoError(t, err)
	assert.Equal(t, AccidentCarCrash, got)

	_, err = ParseAccidentType("meteor")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnknownAccidentType))
}

func TestTimestampAcceptsZonelessISO(t *testing.T) {
	var ts Timestamp
	require.NoError(t, json.Unmarshal([]byte(`"2024-05-01T12:30:00.123456"`), &ts))
	assert.Equal(t, time.Date(2024, 5, 1, 12, 30, 0, 123456000, time.UTC), ts.Time)

	require.NoError(t, json.Unmarshal([]byte(`"2024-05-01T12:30:00+02:00"`), &ts))
	assert.Equal(t, time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC), ts.Time)

	assert.Error(t, json.Unmarshal([]byte(`"yesterday"`), &ts))
	assert.Error(t, json.Unmarshal([]byte(`12`), &ts))
}

func TestSnapshotDecodesServicePayload(t *testing.T) {
	payload := `{
		"timestamp": "2024-05-01T12:00:00",
		"user_id": "user123",
		"vital_signs": {"heart_rate": 75, "spo2": 98, "respiratory_rate": 16,
			"blood_pressure": {"systolic": 118, "diastolic": 76}},
		"movement_data": {"activity_state": "fallen", "device_orientation": "face_down",
			"minutes_since_last_movement": 6.5, "acceleration": {"x": 0.1, "y": -0.2, "z": 9.8}},
		"context": {"location_type": "indoor", "gps_coordinates": {"latitude": 1.5, "longitude": 2.5}, "time_of_day": "12:00"},
		"accident_data": {"accident_type": "car_crash", "accident_phase": "impact", "elapsed_time": 3.2}
	}`

	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(payload), &snap))
	assert.Equal(t, "user123", snap.UserID)
	assert.True(t, snap.MovementData.Fallen())
	require.NotNil(t, snap.MovementData.Acceleration)
	assert.InDelta(t, 9.8, snap.MovementData.Acceleration.Z, 1e-9)
	require.True(t, snap.HasAccident())
	assert.Equal(t, AccidentCarCrash, snap.AccidentData.AccidentType)
	assert.Equal(t, 3.2, snap.AccidentData.ElapsedTime)
}

func TestHistorySeriesHelpers(t *testing.T) {
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	series := HistorySeries{
		{Timestamp: NewTimestamp(base)},
		{Timestamp: NewTimestamp(base.Add(time.Hour))},
		{Timestamp: NewTimestamp(base.Add(2 * time.Hour))},
	}
	assert.True(t, series.Ascending())
	assert.Equal(t, 2*time.Hour, series.Span())

	latest, ok := series.Latest()
	require.True(t, ok)
	assert.Equal(t, base.Add(2*time.Hour), latest.Timestamp.Time)

	series[0], series[2] = series[2], series[0]
	assert.False(t, series.Ascending())

	_, ok = HistorySeries{}.Latest()
	assert.False(t, ok)
}

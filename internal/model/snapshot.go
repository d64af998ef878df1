package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAccidentType is returned for accident types the service does not simulate.
var ErrUnknownAccidentType = errors.New("unknown accident type")

// AccidentType names a server-tracked accident scenario.
type AccidentType string

const (
	AccidentCarCrash     AccidentType = "car_crash"
	AccidentFall         AccidentType = "fall"
	AccidentSportsInjury AccidentType = "sports_injury"
)

// AccidentTypes lists every type accepted by the simulate endpoint.
var AccidentTypes = []AccidentType{AccidentCarCrash, AccidentFall, AccidentSportsInjury}

// ParseAccidentType normalises s and rejects unknown values.
func ParseAccidentType(s string) (AccidentType, error) {
	candidate := AccidentType(strings.ToLower(strings.TrimSpace(s)))
	for _, t := range AccidentTypes {
		if candidate == t {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownAccidentType, s)
}

// Label is the human readable name of the accident type.
func (t AccidentType) Label() string {
	switch t {
	case AccidentCarCrash:
		return "Car crash"
	case AccidentFall:
		return "Fall"
	case AccidentSportsInjury:
		return "Sports injury"
	default:
		return string(t)
	}
}

// ActivityState is the device-reported movement classification.
// The device may report values beyond the ones named here.
type ActivityState string

const (
	ActivityNormal     ActivityState = "normal"
	ActivityActive     ActivityState = "active"
	ActivityStationary ActivityState = "stationary"
	ActivityFallen     ActivityState = "fallen"
)

// BloodPressure in mmHg.
type BloodPressure struct {
	Systolic  float64 `json:"systolic"`
	Diastolic float64 `json:"diastolic"`
}

// VitalSigns is one set of vital-sign readings.
type VitalSigns struct {
	HeartRate       float64       `json:"heart_rate"`
	SpO2            float64       `json:"spo2"`
	RespiratoryRate float64       `json:"respiratory_rate"`
	BloodPressure   BloodPressure `json:"blood_pressure"`
}

// Acceleration in m/s².
type Acceleration struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MovementData describes posture and recent movement.
type MovementData struct {
	ActivityState            ActivityState `json:"activity_state"`
	DeviceOrientation        string        `json:"device_orientation"`
	MinutesSinceLastMovement float64       `json:"minutes_since_last_movement"`
	Acceleration             *Acceleration `json:"acceleration,omitempty"`
}

// Fallen reports whether the device classified the subject as fallen.
func (m MovementData) Fallen() bool {
	return m.ActivityState == ActivityFallen
}

// GPSCoordinates in decimal degrees.
type GPSCoordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// LocationContext is where and when the reading was taken.
type LocationContext struct {
	LocationType   string         `json:"location_type"`
	GPSCoordinates GPSCoordinates `json:"gps_coordinates"`
	TimeOfDay      string         `json:"time_of_day"`
}

// AccidentEvent is an active accident as tracked by the service.
type AccidentEvent struct {
	AccidentType  AccidentType `json:"accident_type"`
	AccidentPhase string       `json:"accident_phase"`
	// ElapsedTime is seconds since the accident started.
	ElapsedTime float64 `json:"elapsed_time"`
}

// Snapshot is the complete current-state reading for one subject.
// It is replaced wholesale on every successful fetch and never mutated in place.
type Snapshot struct {
	Timestamp    Timestamp       `json:"timestamp,omitzero"`
	UserID       string          `json:"user_id,omitempty"`
	VitalSigns   VitalSigns      `json:"vital_signs"`
	MovementData MovementData    `json:"movement_data"`
	Context      LocationContext `json:"context"`
	AccidentData *AccidentEvent  `json:"accident_data,omitempty"`
}

// HasAccident reports whether the snapshot carries an active accident.
func (s Snapshot) HasAccident() bool {
	return s.AccidentData != nil
}

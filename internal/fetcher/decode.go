package fetcher

import (
	"encoding/json"
	"errors"
	"fmt"

	"vitalwatch/internal/model"
)

// Wire shapes use pointers so missing sections can be told apart from zero values.
// A payload either decodes completely or is rejected.

type wireBloodPressure struct {
	Systolic  *float64 `json:"systolic"`
	Diastolic *float64 `json:"diastolic"`
}

type wireVitals struct {
	HeartRate       *float64           `json:"heart_rate"`
	SpO2            *float64           `json:"spo2"`
	RespiratoryRate *float64           `json:"respiratory_rate"`
	BloodPressure   *wireBloodPressure `json:"blood_pressure"`
}

type wireMovement struct {
	ActivityState            *string             `json:"activity_state"`
	DeviceOrientation        string              `json:"device_orientation"`
	MinutesSinceLastMovement *float64            `json:"minutes_since_last_movement"`
	Acceleration             *model.Acceleration `json:"acceleration"`
}

type wireGPS struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

type wireContext struct {
	LocationType   *string  `json:"location_type"`
	GPSCoordinates *wireGPS `json:"gps_coordinates"`
	TimeOfDay      *string  `json:"time_of_day"`
}

type wireAccident struct {
	AccidentType  *string  `json:"accident_type"`
	AccidentPhase *string  `json:"accident_phase"`
	ElapsedTime   *float64 `json:"elapsed_time"`
}

type wireSnapshot struct {
	Timestamp    *model.Timestamp `json:"timestamp"`
	UserID       string           `json:"user_id"`
	VitalSigns   *wireVitals      `json:"vital_signs"`
	MovementData *wireMovement    `json:"movement_data"`
	Context      *wireContext     `json:"context"`
	AccidentData *wireAccident    `json:"accident_data"`
}

type wireHistoryPoint struct {
	Timestamp  *model.Timestamp `json:"timestamp"`
	VitalSigns *wireVitals      `json:"vital_signs"`
}

func decodeSnapshot(payload []byte) (model.Snapshot, error) {
	var w wireSnapshot
	if err := json.Unmarshal(payload, &w); err != nil {
		return model.Snapshot{}, err
	}

	vitals, err := w.VitalSigns.toModel()
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("vital_signs: %w", err)
	}
	movement, err := w.MovementData.toModel()
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("movement_data: %w", err)
	}
	location, err := w.Context.toModel()
	if err != nil {
		return model.Snapshot{}, fmt.Errorf("context: %w", err)
	}

	snap := model.Snapshot{
		UserID:       w.UserID,
		VitalSigns:   vitals,
		MovementData: movement,
		Context:      location,
	}
	if w.Timestamp != nil {
		snap.Timestamp = *w.Timestamp
	}
	if w.AccidentData != nil {
		accident, err := w.AccidentData.toModel()
		if err != nil {
			return model.Snapshot{}, fmt.Errorf("accident_data: %w", err)
		}
		snap.AccidentData = &accident
	}
	return snap, nil
}

func decodeHistory(payload []byte) (model.HistorySeries, error) {
	var points []wireHistoryPoint
	if err := json.Unmarshal(payload, &points); err != nil {
		return nil, err
	}
	// null unmarshals into a nil slice; only [] means an empty window.
	if points == nil {
		return nil, errors.New("history missing")
	}

	series := make(model.HistorySeries, 0, len(points))
	for i, p := range points {
		if p.Timestamp == nil || p.Timestamp.IsZero() {
			return nil, fmt.Errorf("point %d: timestamp missing", i)
		}
		vitals, err := p.VitalSigns.toModel()
		if err != nil {
			return nil, fmt.Errorf("point %d: vital_signs: %w", i, err)
		}
		series = append(series, model.HistoryPoint{Timestamp: *p.Timestamp, VitalSigns: vitals})
	}
	return series, nil
}

func (w *wireVitals) toModel() (model.VitalSigns, error) {
	if w == nil {
		return model.VitalSigns{}, errors.New("missing")
	}
	switch {
	case w.HeartRate == nil:
		return model.VitalSigns{}, errors.New("heart_rate missing")
	case w.SpO2 == nil:
		return model.VitalSigns{}, errors.New("spo2 missing")
	case w.RespiratoryRate == nil:
		return model.VitalSigns{}, errors.New("respiratory_rate missing")
	case w.BloodPressure == nil || w.BloodPressure.Systolic == nil || w.BloodPressure.Diastolic == nil:
		return model.VitalSigns{}, errors.New("blood_pressure incomplete")
	}
	return model.VitalSigns{
		HeartRate:       *w.HeartRate,
		SpO2:            *w.SpO2,
		RespiratoryRate: *w.RespiratoryRate,
		BloodPressure: model.BloodPressure{
			Systolic:  *w.BloodPressure.Systolic,
			Diastolic: *w.BloodPressure.Diastolic,
		},
	}, nil
}

func (w *wireMovement) toModel() (model.MovementData, error) {
	if w == nil {
		return model.MovementData{}, errors.New("missing")
	}
	if w.ActivityState == nil || *w.ActivityState == "" {
		return model.MovementData{}, errors.New("activity_state missing")
	}
	if w.MinutesSinceLastMovement == nil {
		return model.MovementData{}, errors.New("minutes_since_last_movement missing")
	}
	if *w.MinutesSinceLastMovement < 0 {
		return model.MovementData{}, fmt.Errorf("minutes_since_last_movement negative: %v", *w.MinutesSinceLastMovement)
	}
	return model.MovementData{
		ActivityState:            model.ActivityState(*w.ActivityState),
		DeviceOrientation:        w.DeviceOrientation,
		MinutesSinceLastMovement: *w.MinutesSinceLastMovement,
		Acceleration:             w.Acceleration,
	}, nil
}

func (w *wireContext) toModel() (model.LocationContext, error) {
	if w == nil {
		return model.LocationContext{}, errors.New("missing")
	}
	switch {
	case w.LocationType == nil || *w.LocationType == "":
		return model.LocationContext{}, errors.New("location_type missing")
	case w.GPSCoordinates == nil || w.GPSCoordinates.Latitude == nil || w.GPSCoordinates.Longitude == nil:
		return model.LocationContext{}, errors.New("gps_coordinates incomplete")
	case w.TimeOfDay == nil || *w.TimeOfDay == "":
		return model.LocationContext{}, errors.New("time_of_day missing")
	}
	return model.LocationContext{
		LocationType: *w.LocationType,
		GPSCoordinates: model.GPSCoordinates{
			Latitude:  *w.GPSCoordinates.Latitude,
			Longitude: *w.GPSCoordinates.Longitude,
		},
		TimeOfDay: *w.TimeOfDay,
	}, nil
}

func (w *wireAccident) toModel() (model.AccidentEvent, error) {
	if w.AccidentType == nil {
		return model.AccidentEvent{}, errors.New("accident_type missing")
	}
	accidentType, err := model.ParseAccidentType(*w.AccidentType)
	if err != nil {
		return model.AccidentEvent{}, err
	}
	if w.AccidentPhase == nil || *w.AccidentPhase == "" {
		return model.AccidentEvent{}, errors.New("accident_phase missing")
	}
	if w.ElapsedTime == nil {
		return model.AccidentEvent{}, errors.New("elapsed_time missing")
	}
	if *w.ElapsedTime < 0 {
		return model.AccidentEvent{}, fmt.Errorf("elapsed_time negative: %v", *w.ElapsedTime)
	}
	return model.AccidentEvent{
		AccidentType:  accidentType,
		AccidentPhase: *w.AccidentPhase,
		ElapsedTime:   *w.ElapsedTime,
	}, nil
}

package alerting

import (
	"math"

	"vitalwatch/internal/display"
	"vitalwatch/internal/model"
)

// Metric names a vital sign covered by a threshold rule.
type Metric string

const (
	MetricHeartRate       Metric = "heart_rate"
	MetricSpO2            Metric = "spo2"
	MetricRespiratoryRate Metric = "respiratory_rate"
	MetricSystolic        Metric = "systolic_bp"
)

// Label is the display name of the metric.
func (m Metric) Label() string {
	switch m {
	case MetricHeartRate:
		return "Heart Rate"
	case MetricSpO2:
		return "Blood Oxygen"
	case MetricRespiratoryRate:
		return "Respiratory Rate"
	case MetricSystolic:
		return "Systolic BP"
	default:
		return string(m)
	}
}

// Unit is the display unit of the metric.
func (m Metric) Unit() string {
	switch m {
	case MetricHeartRate:
		return "BPM"
	case MetricSpO2:
		return "%"
	case MetricRespiratoryRate:
		return "/min"
	case MetricSystolic:
		return "mmHg"
	default:
		return ""
	}
}

// Bound says which side of the safe range was crossed.
type Bound string

const (
	BoundBelowMin Bound = "below_min"
	BoundAboveMax Bound = "above_max"
)

// Range is a closed safe interval. Values equal to a limit are safe.
// Use math.Inf for an open side.
type Range struct {
	Min float64
	Max float64
}

// check returns the violated bound and its limit, or ok=false when v is safe.
func (r Range) check(v float64) (Bound, float64, bool) {
	switch {
	case v < r.Min:
		return BoundBelowMin, r.Min, true
	case v > r.Max:
		return BoundAboveMax, r.Max, true
	default:
		return "", 0, false
	}
}

// Rules are the limits the evaluator applies.
type Rules struct {
	HeartRate       Range
	SpO2            Range
	RespiratoryRate Range
	Systolic        Range
	// FallInactivityMinutes must be strictly exceeded after a fall to raise
	// the emergency alert.
	FallInactivityMinutes float64
}

// DefaultRules are the clinical limits used by the dashboard.
func DefaultRules() Rules {
	return Rules{
		HeartRate:             Range{Min: 50, Max: 120},
		SpO2:                  Range{Min: 95, Max: math.Inf(1)},
		RespiratoryRate:       Range{Min: 12, Max: 20},
		Systolic:              Range{Min: 90, Max: 140},
		FallInactivityMinutes: 5,
	}
}

// ThresholdAlert is a vital sign outside its safe range.
type ThresholdAlert struct {
	Metric Metric  `json:"metric"`
	Value  float64 `json:"value"`
	Bound  Bound   `json:"bound_violated"`
	Limit  float64 `json:"limit"`
}

// AlertSet is derived from a snapshot on every read and never stored.
type AlertSet struct {
	Thresholds []ThresholdAlert     `json:"threshold_alerts"`
	Emergency  bool                 `json:"emergency_alert"`
	Accident   *model.AccidentEvent `json:"accident_alert,omitempty"`
}

// Empty reports whether no condition is active.
func (a AlertSet) Empty() bool {
	return len(a.Thresholds) == 0 && !a.Emergency && a.Accident == nil
}

// Threshold returns the alert for metric m, if raised.
func (a AlertSet) Threshold(m Metric) (ThresholdAlert, bool) {
	for _, t := range a.Thresholds {
		if t.Metric == m {
			return t, true
		}
	}
	return ThresholdAlert{}, false
}

// Evaluate applies DefaultRules to snap.
func Evaluate(snap model.Snapshot) AlertSet {
	return DefaultRules().Evaluate(snap)
}

// Evaluate maps a snapshot to its alert conditions. It is pure: the result
// depends on snap and r only, and every check runs independently.
func (r Rules) Evaluate(snap model.Snapshot) AlertSet {
	vitals := snap.VitalSigns
	checks := []struct {
		metric Metric
		value  float64
		rng    Range
	}{
		{MetricHeartRate, vitals.HeartRate, r.HeartRate},
		{MetricSpO2, vitals.SpO2, r.SpO2},
		{MetricRespiratoryRate, vitals.RespiratoryRate, r.RespiratoryRate},
		{MetricSystolic, vitals.BloodPressure.Systolic, r.Systolic},
	}

	set := AlertSet{Thresholds: []ThresholdAlert{}}
	for _, c := range checks {
		if bound, limit, violated := c.rng.check(c.value); violated {
			set.Thresholds = append(set.Thresholds, ThresholdAlert{
				Metric: c.metric,
				Value:  c.value,
				Bound:  bound,
				Limit:  limit,
			})
		}
	}

	movement := snap.MovementData
	set.Emergency = movement.Fallen() && movement.MinutesSinceLastMovement > r.FallInactivityMinutes

	if snap.AccidentData != nil {
		accident := *snap.AccidentData
		set.Accident = &accident
	}
	return set
}

// Kind groups conditions for metrics and notification.
type Kind string

const (
	KindThreshold Kind = "threshold"
	KindEmergency Kind = "emergency"
	KindAccident  Kind = "accident"
)

// Condition is one active alert flattened for transition tracking. Key is
// stable while the same condition stays active.
type Condition struct {
	Key     string   `json:"key"`
	Kind    Kind     `json:"kind"`
	Summary string   `json:"summary"`
	Value   *float64 `json:"value,omitempty"`
}

// Conditions flattens the set in a fixed order: thresholds, emergency, accident.
func (a AlertSet) Conditions() []Condition {
	out := make([]Condition, 0, len(a.Thresholds)+2)
	for _, t := range a.Thresholds {
		v := t.Value
		out = append(out, Condition{
			Key:     string(KindThreshold) + ":" + string(t.Metric) + ":" + string(t.Bound),
			Kind:    KindThreshold,
			Summary: describeThreshold(t),
			Value:   &v,
		})
	}
	if a.Emergency {
		out = append(out, Condition{
			Key:     string(KindEmergency),
			Kind:    KindEmergency,
			Summary: "Potential emergency: fall detected with no movement",
		})
	}
	if a.Accident != nil {
		elapsed := a.Accident.ElapsedTime
		out = append(out, Condition{
			Key:     string(KindAccident) + ":" + string(a.Accident.AccidentType),
			Kind:    KindAccident,
			Summary: describeAccident(*a.Accident),
			Value:   &elapsed,
		})
	}
	return out
}

func describeThreshold(t ThresholdAlert) string {
	direction := "above"
	if t.Bound == BoundBelowMin {
		direction = "below"
	}
	unit := t.Metric.Unit()
	return t.Metric.Label() + " " + display.Fixed(t.Value, 1) + " " + unit + " " + direction + " " + display.Fixed(t.Limit, 0) + " " + unit
}

func describeAccident(a model.AccidentEvent) string {
	summary := "Accident: " + a.AccidentType.Label()
	if a.AccidentPhase != "" {
		summary += " (" + display.Title(a.AccidentPhase) + ")"
	}
	return summary + ", " + display.Fixed(a.ElapsedTime, 1) + "s elapsed"
}

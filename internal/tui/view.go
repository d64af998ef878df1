package tui

import (
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"vitalwatch/internal/alerting"
	"vitalwatch/internal/display"
	"vitalwatch/internal/model"
	"vitalwatch/internal/service"
)

const messageTTL = 10 * time.Second

var sparkBlocks = []rune("▁▂▃▄▅▆▇█")

func (m Model) View() string {
	now := m.now()
	st := m.state

	var sections []string
	sections = append(sections, m.renderHeader(now))

	switch st.SnapshotStatus {
	case service.StatusUnavailable:
		sections = append(sections, alertPanelStyle.Render(
			critStyle.Render("Health service unavailable")+"\n"+
				valueStyle.Render(display.Inline(errText(st.Snapshot.Err)))+"\n"+
				labelStyle.Render("Retrying on the next poll. Press r to retry now.")))
	case service.StatusLoading:
		sections = append(sections, panelStyle.Render(labelStyle.Render("Connecting to health service...")))
	default:
		if st.SnapshotStatus == service.StatusStale {
			sections = append(sections, warnStyle.Render(
				"STALE: last update "+display.Age(st.Snapshot.UpdatedAt, now)+" ("+display.Inline(errText(st.Snapshot.Err))+")"))
		}
		snap := st.Snapshot.Value
		alerts := alerting.AlertSet{}
		if st.Alerts != nil {
			alerts = *st.Alerts
		}
		top := lipgloss.JoinHorizontal(lipgloss.Top,
			renderVitals(snap.VitalSigns, alerts),
			renderMovement(snap.MovementData, alerts),
			renderLocation(snap.Context),
		)
		sections = append(sections, top, renderAlerts(alerts))
	}

	sections = append(sections, renderHistory(st, now))

	if m.message != "" && now.Sub(m.messageAt) < messageTTL {
		style := okStyle
		if m.messageErr {
			style = critStyle
		}
		sections = append(sections, style.Render(m.message))
	}
	sections = append(sections, helpStyle.Render("c car crash · f fall · s sports injury · r refresh · q quit"))

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

func (m Model) renderHeader(now time.Time) string {
	st := m.state
	return titleStyle.Render("vitalwatch") + "  " +
		labelStyle.Render("subject ") + valueStyle.Render(st.SubjectID) + "  " +
		labelStyle.Render("snapshot ") + statusStyle(st.SnapshotStatus).Render(string(st.SnapshotStatus)) + "  " +
		labelStyle.Render("history ") + statusStyle(st.HistoryStatus).Render(string(st.HistoryStatus)) + "  " +
		labelStyle.Render(now.Format("15:04:05"))
}

func statusStyle(s service.Status) lipgloss.Style {
	switch s {
	case service.StatusLive:
		return okStyle
	case service.StatusStale:
		return warnStyle
	case service.StatusUnavailable:
		return critStyle
	default:
		return labelStyle
	}
}

func renderVitals(v model.VitalSigns, alerts alerting.AlertSet) string {
	row := func(metric alerting.Metric, value string) string {
		style := okStyle
		if _, raised := alerts.Threshold(metric); raised {
			style = critStyle
		}
		return labelStyle.Render(padRight(metric.Label(), 18)) + style.Render(value+" "+metric.Unit())
	}
	lines := []string{
		titleStyle.Render("Vital Signs"),
		row(alerting.MetricHeartRate, display.Whole(v.HeartRate)),
		row(alerting.MetricSpO2, display.Whole(v.SpO2)),
		row(alerting.MetricRespiratoryRate, display.Whole(v.RespiratoryRate)),
		row(alerting.MetricSystolic, display.BloodPressure(v.BloodPressure.Systolic, v.BloodPressure.Diastolic)),
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderMovement(mv model.MovementData, alerts alerting.AlertSet) string {
	activity := okStyle
	if mv.Fallen() {
		activity = warnStyle
		if alerts.Emergency {
			activity = critStyle
		}
	}
	lines := []string{
		titleStyle.Render("Movement"),
		labelStyle.Render("Activity     ") + activity.Render(display.Title(string(mv.ActivityState))),
		labelStyle.Render("Orientation  ") + valueStyle.Render(display.Title(mv.DeviceOrientation)),
		labelStyle.Render("Still for    ") + valueStyle.Render(display.Fixed(mv.MinutesSinceLastMovement, 1)+" min"),
	}
	if mv.Acceleration != nil {
		a := mv.Acceleration
		lines = append(lines, labelStyle.Render("Accel        ")+valueStyle.Render(
			display.Fixed(a.X, 2)+", "+display.Fixed(a.Y, 2)+", "+display.Fixed(a.Z, 2)))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderLocation(c model.LocationContext) string {
	lines := []string{
		titleStyle.Render("Location"),
		labelStyle.Render("Type         ") + valueStyle.Render(display.Title(c.LocationType)),
		labelStyle.Render("GPS          ") + valueStyle.Render(display.Coordinate(c.GPSCoordinates.Latitude)+", "+display.Coordinate(c.GPSCoordinates.Longitude)),
		labelStyle.Render("Time of day  ") + valueStyle.Render(display.Title(c.TimeOfDay)),
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

func renderAlerts(alerts alerting.AlertSet) string {
	if alerts.Empty() {
		return panelStyle.Render(titleStyle.Render("Alerts") + "\n" + okStyle.Render("All vitals within normal range"))
	}
	lines := []string{critStyle.Render("Alerts")}
	if alerts.Emergency {
		lines = append(lines, critStyle.Render("EMERGENCY: fall detected with no movement"))
	}
	for _, c := range alerts.Conditions() {
		if c.Kind == alerting.KindEmergency {
			continue
		}
		lines = append(lines, warnStyle.Render("• "+c.Summary))
	}
	return alertPanelStyle.Render(strings.Join(lines, "\n"))
}

func renderHistory(st service.State, now time.Time) string {
	title := titleStyle.Render("History")
	switch st.HistoryStatus {
	case service.StatusLoading:
		return panelStyle.Render(title + "\n" + labelStyle.Render("Loading..."))
	case service.StatusUnavailable:
		return panelStyle.Render(title + "\n" + critStyle.Render("Unavailable: "+display.Inline(errText(st.History.Err))))
	}

	series := st.History.Value
	lines := []string{title}
	if st.HistoryStatus == service.StatusStale {
		lines = append(lines, warnStyle.Render("stale, updated "+display.Age(st.History.UpdatedAt, now)))
	}
	if len(series) == 0 {
		lines = append(lines, labelStyle.Render("No data points in window"))
		return panelStyle.Render(strings.Join(lines, "\n"))
	}

	hr := make([]float64, len(series))
	for i, p := range series {
		hr[i] = p.VitalSigns.HeartRate
	}
	lines = append(lines,
		labelStyle.Render("Heart rate  ")+valueStyle.Render(sparkline(hr, 60)),
		labelStyle.Render("Points      ")+valueStyle.Render(strconv.Itoa(len(series)))+
			labelStyle.Render("  span ")+valueStyle.Render(series.Span().Round(time.Minute).String()),
	)
	if latest, ok := series.Latest(); ok {
		lines = append(lines, labelStyle.Render("Latest      ")+valueStyle.Render(latest.Timestamp.UTC().Format(time.RFC3339)))
	}
	return panelStyle.Render(strings.Join(lines, "\n"))
}

// sparkline draws the last width values scaled between their min and max.
func sparkline(values []float64, width int) string {
	if len(values) > width {
		values = values[len(values)-width:]
	}
	if len(values) == 0 {
		return ""
	}
	lo, hi := values[0], values[0]
	for _, v := range values {
		lo = min(lo, v)
		hi = max(hi, v)
	}
	var b strings.Builder
	for _, v := range values {
		idx := 0
		if hi > lo {
			idx = int((v - lo) / (hi - lo) * float64(len(sparkBlocks)-1))
		}
		b.WriteRune(sparkBlocks[idx])
	}
	return b.String()
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return s + " "
	}
	return s + strings.Repeat(" ", n-len(s))
}

func errText(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

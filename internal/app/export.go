package app

import (
	"context"
	"encoding/csv"
	"errors"
	"math"
	"os"
	"path/filepath"
	"time"

	chart "github.com/wcharczuk/go-chart/v2"

	"vitalwatch/internal/display"
	"vitalwatch/internal/model"
)

// Export renders the history window as CSV and/or PNG.
func (a *App) Export(ctx context.Context, opts ExportOptions) error {
	if opts.CSVPath == "" && opts.PNGPath == "" {
		return errors.New("at least one of --csv or --png must be provided")
	}

	opts.MaxPoints = a.Config.ResolveMaxPoints(opts.MaxPoints)
	hours := a.Config.ResolveHistoryHours(opts.Hours)

	client := a.newClient(a.Logger)
	series, err := client.FetchHistory(ctx, a.Config.Service.SubjectID, hours)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		a.Logger.Info().Int("hours", hours).Msg("no history points found for export window")
		return nil
	}

	downsampled := downsampleSeries(series, opts.MaxPoints)
	a.Logger.Info().Int("total", len(series)).Int("exported", len(downsampled)).Msg("exporting history")

	if opts.CSVPath != "" {
		if err := writeSeriesCSV(opts.CSVPath, downsampled); err != nil {
			return err
		}
	}

	if opts.PNGPath != "" {
		if len(downsampled) < 2 {
			a.Logger.Warn().Msg("need at least two points to draw a chart; skipping png")
			return nil
		}
		if err := writeSeriesPNG(opts.PNGPath, downsampled); err != nil {
			return err
		}
	}

	return nil
}

func downsampleSeries(series model.HistorySeries, max int) model.HistorySeries {
	if max <= 1 || len(series) <= max {
		return series
	}

	result := make(model.HistorySeries, 0, max)
	step := float64(len(series)-1) / float64(max-1)
	for i := 0; i < max; i++ {
		idx := int(math.Round(step * float64(i)))
		if idx >= len(series) {
			idx = len(series) - 1
		}
		result = append(result, series[idx])
	}
	return result
}

func writeSeriesCSV(path string, series model.HistorySeries) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{"timestamp", "heart_rate", "spo2", "respiratory_rate", "systolic", "diastolic"}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, p := range series {
		v := p.VitalSigns
		record := []string{
			p.Timestamp.UTC().Format(time.RFC3339),
			display.Fixed(v.HeartRate, 1),
			display.Fixed(v.SpO2, 1),
			display.Fixed(v.RespiratoryRate, 1),
			display.Fixed(v.BloodPressure.Systolic, 1),
			display.Fixed(v.BloodPressure.Diastolic, 1),
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

func writeSeriesPNG(path string, series model.HistorySeries) error {
	if err := ensureDir(path); err != nil {
		return err
	}

	x := make([]time.Time, len(series))
	heart := make([]float64, len(series))
	spo2 := make([]float64, len(series))
	resp := make([]float64, len(series))
	systolic := make([]float64, len(series))

	for i, p := range series {
		x[i] = p.Timestamp.Time
		heart[i] = p.VitalSigns.HeartRate
		spo2[i] = p.VitalSigns.SpO2
		resp[i] = p.VitalSigns.RespiratoryRate
		systolic[i] = p.VitalSigns.BloodPressure.Systolic
	}

	valueFormatter := func(v interface{}) string {
		return chart.FloatValueFormatterWithFormat(v, "%.0f")
	}
	graph := chart.Chart{
		Width:  1280,
		Height: 720,
		XAxis: chart.XAxis{
			ValueFormatter: chart.TimeValueFormatter,
		},
		YAxis: chart.YAxis{
			Name:           "BPM / mmHg / %",
			ValueFormatter: valueFormatter,
		},
		YAxisSecondary: chart.YAxis{
			Name:           "Breaths/min",
			ValueFormatter: valueFormatter,
		},
		Series: []chart.Series{
			chart.TimeSeries{Name: "Heart Rate", XValues: x, YValues: heart},
			chart.TimeSeries{Name: "SpO2", XValues: x, YValues: spo2},
			chart.TimeSeries{Name: "Systolic", XValues: x, YValues: systolic},
			chart.TimeSeries{Name: "Respiratory Rate", XValues: x, YValues: resp, YAxis: chart.YAxisSecondary},
		},
	}
	graph.Elements = []chart.Renderable{chart.Legend(&graph)}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return graph.Render(chart.PNG, file)
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "." || dir == "" {
		return nil
	}
	return os.MkdirAll(dir, 0o755)
}

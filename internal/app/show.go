package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"vitalwatch/internal/alerting"
	"vitalwatch/internal/display"
	"vitalwatch/internal/model"
)

// Show fetches the current snapshot once and prints it with its alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	if opts.Cached {
		return a.showCached(ctx)
	}

	client := a.newClient(a.Logger)
	snap, err := client.FetchSnapshot(ctx, a.Config.Service.SubjectID)
	if err != nil {
		return err
	}
	alerts := a.Config.Rules().Evaluate(snap)

	if opts.JSON {
		enc := json.NewEncoder(a.Out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Snapshot model.Snapshot    `json:"snapshot"`
			Alerts   alerting.AlertSet `json:"alerts"`
		}{snap, alerts})
	}

	a.printSnapshot(snap, alerts)
	return nil
}

func (a *App) showCached(ctx context.Context) error {
	publisher, err := a.openPublisher(ctx, a.Logger)
	if err != nil {
		return err
	}
	if publisher == nil {
		return errors.New("redis not configured; cannot read cached state")
	}
	defer publisher.Close()

	raw, err := publisher.Latest(ctx, a.Config.Service.SubjectID)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(a.Out, string(raw))
	return err
}

func (a *App) printSnapshot(snap model.Snapshot, alerts alerting.AlertSet) {
	v := snap.VitalSigns
	mv := snap.MovementData
	loc := snap.Context

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(writer, "Subject\t%s\n", a.Config.Service.SubjectID)
	if !snap.Timestamp.IsZero() {
		fmt.Fprintf(writer, "Reading (UTC)\t%s\n", snap.Timestamp.UTC().Format(time.RFC3339))
	}
	fmt.Fprintf(writer, "Heart Rate\t%s BPM\n", display.Whole(v.HeartRate))
	fmt.Fprintf(writer, "Blood Oxygen\t%s %%\n", display.Whole(v.SpO2))
	fmt.Fprintf(writer, "Respiratory Rate\t%s /min\n", display.Whole(v.RespiratoryRate))
	fmt.Fprintf(writer, "Blood Pressure\t%s mmHg\n", display.BloodPressure(v.BloodPressure.Systolic, v.BloodPressure.Diastolic))
	fmt.Fprintf(writer, "Activity\t%s (%s min still)\n", display.Title(string(mv.ActivityState)), display.Fixed(mv.MinutesSinceLastMovement, 1))
	fmt.Fprintf(writer, "Orientation\t%s\n", display.Title(mv.DeviceOrientation))
	fmt.Fprintf(writer, "Location\t%s (%s, %s)\n", display.Title(loc.LocationType),
		display.Coordinate(loc.GPSCoordinates.Latitude), display.Coordinate(loc.GPSCoordinates.Longitude))
	fmt.Fprintf(writer, "Time of Day\t%s\n", display.Title(loc.TimeOfDay))
	writer.Flush()

	if alerts.Empty() {
		fmt.Fprintln(a.Out, "\nNo active alerts")
		return
	}
	fmt.Fprintln(a.Out, "\nActive alerts:")
	for _, c := range alerts.Conditions() {
		fmt.Fprintf(a.Out, "  [%s] %s\n", c.Kind, c.Summary)
	}
}

// History fetches the history window once and prints the newest points.
func (a *App) History(ctx context.Context, opts HistoryOptions) error {
	hours := a.Config.ResolveHistoryHours(opts.Hours)
	client := a.newClient(a.Logger)
	series, err := client.FetchHistory(ctx, a.Config.Service.SubjectID, hours)
	if err != nil {
		return err
	}
	if len(series) == 0 {
		fmt.Fprintf(a.Out, "no history in the last %dh\n", hours)
		return nil
	}

	points := series
	if opts.Limit > 0 && len(points) > opts.Limit {
		points = points[len(points)-opts.Limit:]
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Time (UTC)\tHR (BPM)\tSpO2 (%)\tRR (/min)\tBP (mmHg)")
	for _, p := range points {
		v := p.VitalSigns
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			p.Timestamp.UTC().Format(time.RFC3339),
			display.Whole(v.HeartRate),
			display.Whole(v.SpO2),
			display.Whole(v.RespiratoryRate),
			display.BloodPressure(v.BloodPressure.Systolic, v.BloodPressure.Diastolic),
		)
	}
	writer.Flush()
	fmt.Fprintf(a.Out, "%d of %d points, window %dh\n", len(points), len(series), hours)
	return nil
}

// Alerts lists recently journaled alert events.
func (a *App) Alerts(ctx context.Context, opts AlertsOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot list alerts")
	}
	defer closeStore()

	events, err := store.ListRecentAlertEvents(ctx, a.Config.Service.SubjectID, opts.Limit)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(a.Out, "no alert events found")
		return nil
	}

	writer := tabwriter.NewWriter(a.Out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Raised (UTC)\tKind\tCondition\tSummary\tRun")
	for _, e := range events {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\t%s\n",
			e.RaisedAt.UTC().Format(time.RFC3339),
			e.Kind,
			e.ConditionKey,
			display.Inline(e.Summary),
			shortRunID(e.RunID),
		)
	}
	writer.Flush()
	return nil
}

// PruneAlerts deletes journaled events older than the retention window.
func (a *App) PruneAlerts(ctx context.Context, olderThan time.Duration) error {
	if olderThan <= 0 {
		return errors.New("retention must be greater than zero")
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot prune alerts")
	}
	defer closeStore()

	cutoff := time.Now().UTC().Add(-olderThan)
	deleted, err := store.DeleteAlertEventsBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	a.Logger.Info().Time("cutoff", cutoff).Int64("deleted", deleted).Msg("alert events pruned")
	fmt.Fprintf(a.Out, "deleted %d alert events raised before %s\n", deleted, cutoff.Format(time.RFC3339))
	return nil
}

func shortRunID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Migrate applies the SQL migrations under database.migrations_path.
func (a *App) Migrate(ctx context.Context) error {
	dir := a.Config.Database.MigrationsPath
	if dir == "" {
		return errors.New("database.migrations_path is required")
	}
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot apply migrations")
	}
	defer closeStore()

	applied, err := store.Migrate(ctx, os.DirFS(dir))
	if err != nil {
		return err
	}
	a.Logger.Info().Str("dir", dir).Strs("applied", applied).Msg("migrations applied")
	fmt.Fprintf(a.Out, "applied %d migration files from %s\n", len(applied), dir)
	return nil
}

package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vitalwatch/internal/alerting"
	"vitalwatch/internal/fetcher"
	"vitalwatch/internal/model"
	"vitalwatch/internal/storage"
)

type fakeClient struct {
	mu          sync.Mutex
	snapshot    model.Snapshot
	snapshotErr error
	history     model.HistorySeries
	historyErr  error
	simulateErr error
	simulated   []model.AccidentType
	snapCalls   int
	histCalls   int
	histHours   int
}

func (f *fakeClient) FetchSnapshot(_ context.Context, _ string) (model.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapCalls++
	return f.snapshot, f.snapshotErr
}

func (f *fakeClient) FetchHistory(_ context.Context, _ string, hours int) (model.HistorySeries, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.histCalls++
	f.histHours = hours
	return f.history, f.historyErr
}

func (f *fakeClient) SendSimulate(_ context.Context, _ string, t model.AccidentType) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulated = append(f.simulated, t)
	return f.simulateErr
}

func (f *fakeClient) set(fn func(*fakeClient)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeClient) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapCalls, f.histCalls
}

type fakeJournal struct {
	mu     sync.Mutex
	events []storage.AlertEvent
}

func (j *fakeJournal) InsertAlertEvent(_ context.Context, e storage.AlertEvent) (storage.AlertEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e.ID = int64(len(j.events) + 1)
	j.events = append(j.events, e)
	return e, nil
}

func (j *fakeJournal) ListRecentAlertEvents(context.Context, string, int) ([]storage.AlertEvent, error) {
	return nil, nil
}

func (j *fakeJournal) DeleteAlertEventsBefore(context.Context, time.Time) (int64, error) {
	return 0, nil
}

func (j *fakeJournal) keys() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]string, 0, len(j.events))
	for _, e := range j.events {
		out = append(out, e.ConditionKey)
	}
	return out
}

type fakeNotifier struct {
	mu    sync.Mutex
	notes []alerting.Notification
	err   error
}

func (n *fakeNotifier) Notify(_ context.Context, note alerting.Notification) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notes = append(n.notes, note)
	return n.err
}

type fakePublisher struct {
	mu       sync.Mutex
	payloads []State
}

func (p *fakePublisher) Publish(_ context.Context, _ string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.payloads = append(p.payloads, payload.(State))
	return nil
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.payloads)
}

func normalSnapshot() model.Snapshot {
	return model.Snapshot{
		VitalSigns: model.VitalSigns{
			HeartRate:       75,
			SpO2:            98,
			RespiratoryRate: 16,
			BloodPressure:   model.BloodPressure{Systolic: 118, Diastolic: 76},
		},
		MovementData: model.MovementData{ActivityState: model.ActivityNormal, DeviceOrientation: "upright"},
		Context: model.LocationContext{
			LocationType:   "home",
			GPSCoordinates: model.GPSCoordinates{Latitude: 51.5074, Longitude: -0.1278},
			TimeOfDay:      "morning",
		},
	}
}

func testOptions() Options {
	return Options{
		SubjectID:        "user123",
		HistoryHours:     24,
		SnapshotInterval: 10 * time.Millisecond,
		HistoryInterval:  time.Hour,
		Rules:            alerting.DefaultRules(),
		AlertsEnabled:    true,
		Cooldown:         time.Hour,
		Channels:         []string{"telegram"},
	}
}

func TestRunPopulatesState(t *testing.T) {
	client := &fakeClient{
		snapshot: normalSnapshot(),
		history: model.HistorySeries{
			{Timestamp: model.NewTimestamp(time.Now().Add(-time.Minute)), VitalSigns: normalSnapshot().VitalSigns},
		},
	}
	pub := &fakePublisher{}
	svc := New(testOptions(), Deps{Client: client, Publisher: pub, Metrics: NewMetrics()}, zerolog.Nop())

	st := svc.State()
	assert.Equal(t, StatusLoading, st.SnapshotStatus)
	assert.Equal(t, StatusLoading, st.HistoryStatus)
	assert.Nil(t, st.Alerts)
	assert.Equal(t, "idle", st.Scheduler)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		st := svc.State()
		return st.SnapshotStatus == StatusLive && st.HistoryStatus == StatusLive
	}, 2*time.Second, 5*time.Millisecond)

	st = svc.State()
	require.NotNil(t, st.Alerts)
	assert.True(t, st.Alerts.Empty())
	assert.Len(t, st.History.Value, 1)
	assert.Equal(t, "running", st.Scheduler)
	assert.Eventually(t, func() bool { return pub.count() > 0 }, time.Second, 5*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, "stopped", svc.State().Scheduler)

	_, histCalls := client.calls()
	assert.Equal(t, 1, histCalls, "history cadence is independent of snapshot cadence")
	assert.Equal(t, 24, client.histHours)
}

func TestFailureAfterSuccessKeepsValue(t *testing.T) {
	client := &fakeClient{snapshot: normalSnapshot()}
	svc := New(testOptions(), Deps{Client: client}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool { return svc.State().SnapshotStatus == StatusLive }, 2*time.Second, 5*time.Millisecond)

	client.set(func(f *fakeClient) {
		f.snapshotErr = &fetcher.FetchError{Op: "fetch snapshot", Kind: fetcher.KindNetwork, Err: errors.New("connection refused")}
	})

	require.Eventually(t, func() bool { return svc.State().SnapshotStatus == StatusStale }, 2*time.Second, 5*time.Millisecond)
	st := svc.State()
	assert.True(t, st.Snapshot.Present)
	assert.Equal(t, 75.0, st.Snapshot.Value.VitalSigns.HeartRate)
	assert.True(t, fetcher.IsKind(st.Snapshot.Err, fetcher.KindNetwork))
	assert.False(t, st.Blocking())
	require.NotNil(t, st.Alerts, "alerts stay derived from the last good snapshot")
}

func TestInitialFailureIsUnavailable(t *testing.T) {
	client := &fakeClient{
		snapshotErr: &fetcher.FetchError{Op: "fetch snapshot", Kind: fetcher.KindHTTPStatus, StatusCode: 503},
		historyErr:  &fetcher.FetchError{Op: "fetch history", Kind: fetcher.KindHTTPStatus, StatusCode: 503},
	}
	svc := New(testOptions(), Deps{Client: client}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool {
		st := svc.State()
		return st.SnapshotStatus == StatusUnavailable && st.HistoryStatus == StatusUnavailable
	}, 2*time.Second, 5*time.Millisecond)
	assert.True(t, svc.State().Blocking())
	assert.Nil(t, svc.State().Alerts)
}

func TestAlertTransitions(t *testing.T) {
	client := &fakeClient{}
	journal := &fakeJournal{}
	notifier := &fakeNotifier{}
	metrics := NewMetrics()
	svc := New(testOptions(), Deps{Client: client, Journal: journal, Notifier: notifier, Metrics: metrics}, zerolog.Nop())

	clock := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }
	step := func(seq uint64, snap model.Snapshot) {
		clock = clock.Add(time.Minute)
		require.True(t, svc.snapshots.Update(seq, snap, nil))
		svc.processSnapshot(context.Background())
	}
	ctx := context.Background()

	tachy := normalSnapshot()
	tachy.VitalSigns.HeartRate = 135
	step(1, tachy)
	assert.Equal(t, []string{"threshold:heart_rate:above_max"}, journal.keys())
	require.Len(t, notifier.notes, 1)
	assert.Equal(t, "user123", notifier.notes[0].SubjectID)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.activeAlerts.WithLabelValues("threshold")))

	// still active: nothing new raised
	step(2, tachy)
	assert.Len(t, journal.keys(), 1)
	assert.Len(t, notifier.notes, 1)

	// a failed refresh does not re-evaluate
	svc.snapshots.Update(3, model.Snapshot{}, errors.New("timeout"))
	svc.processSnapshot(ctx)
	assert.Len(t, journal.keys(), 1)

	fallen := tachy
	fallen.MovementData.ActivityState = model.ActivityFallen
	fallen.MovementData.MinutesSinceLastMovement = 6
	fallen.AccidentData = &model.AccidentEvent{AccidentType: model.AccidentFall, AccidentPhase: "post_fall", ElapsedTime: 30}
	step(4, fallen)
	assert.Equal(t, []string{"threshold:heart_rate:above_max", "emergency", "accident:fall"}, journal.keys())
	require.Len(t, notifier.notes, 2)
	assert.Len(t, notifier.notes[1].Conditions, 2)

	// cleared then raised again within the cooldown: journaled, not notified
	step(5, normalSnapshot())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.activeAlerts.WithLabelValues("threshold")))
	step(6, tachy)
	assert.Len(t, journal.keys(), 4)
	assert.Len(t, notifier.notes, 2)
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.alertsRaised.WithLabelValues("threshold")))

	for _, e := range journal.events {
		assert.Equal(t, svc.RunID(), e.RunID)
		assert.Equal(t, "user123", e.SubjectID)
	}
	require.NotNil(t, journal.events[0].Value)
	assert.Equal(t, "135", journal.events[0].Value.String())
}

func TestNotificationFailureRetriesOnNextRaise(t *testing.T) {
	client := &fakeClient{}
	notifier := &fakeNotifier{err: errors.New("telegram down")}
	opts := testOptions()
	svc := New(opts, Deps{Client: client, Notifier: notifier}, zerolog.Nop())

	low := normalSnapshot()
	low.VitalSigns.SpO2 = 90
	svc.snapshots.Update(1, low, nil)
	svc.processSnapshot(context.Background())
	require.Len(t, notifier.notes, 1)

	svc.snapshots.Update(2, normalSnapshot(), nil)
	svc.processSnapshot(context.Background())
	notifier.err = nil
	svc.snapshots.Update(3, low, nil)
	svc.processSnapshot(context.Background())
	assert.Len(t, notifier.notes, 2, "a failed send does not start the cooldown")
}

func TestAlertsDisabledSkipsNotifier(t *testing.T) {
	notifier := &fakeNotifier{}
	journal := &fakeJournal{}
	opts := testOptions()
	opts.AlertsEnabled = false
	svc := New(opts, Deps{Client: &fakeClient{}, Notifier: notifier, Journal: journal}, zerolog.Nop())

	snap := normalSnapshot()
	snap.VitalSigns.RespiratoryRate = 25
	svc.snapshots.Update(1, snap, nil)
	svc.processSnapshot(context.Background())

	assert.Empty(t, notifier.notes)
	require.Len(t, journal.events, 1)
	assert.Empty(t, journal.events[0].Channels)
}

func TestSimulateDoesNotTouchState(t *testing.T) {
	client := &fakeClient{}
	metrics := NewMetrics()
	svc := New(testOptions(), Deps{Client: client, Metrics: metrics}, zerolog.Nop())

	require.NoError(t, svc.Simulate(context.Background(), model.AccidentFall))
	assert.Equal(t, []model.AccidentType{model.AccidentFall}, client.simulated)
	assert.Equal(t, StatusLoading, svc.State().SnapshotStatus)

	client.set(func(f *fakeClient) {
		f.simulateErr = &fetcher.FetchError{Op: "simulate", Kind: fetcher.KindHTTPStatus, StatusCode: 500}
	})
	err := svc.Simulate(context.Background(), model.AccidentCarCrash)
	require.Error(t, err)
	assert.True(t, fetcher.IsKind(err, fetcher.KindHTTPStatus))
	assert.Equal(t, StatusLoading, svc.State().SnapshotStatus)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.simulateTotal.WithLabelValues("car_crash", "error")))
}

// accidentClient mimics the health service: an accepted simulation shows up
// in the snapshots it serves afterwards.
type accidentClient struct {
	*fakeClient
	phase   string
	elapsed float64
}

func (c *accidentClient) SendSimulate(ctx context.Context, subject string, t model.AccidentType) error {
	if err := c.fakeClient.SendSimulate(ctx, subject, t); err != nil {
		return err
	}
	c.set(func(f *fakeClient) {
		f.snapshot.AccidentData = &model.AccidentEvent{AccidentType: t, AccidentPhase: c.phase, ElapsedTime: c.elapsed}
	})
	return nil
}

func TestSimulatedAccidentArrivesWithNextSnapshot(t *testing.T) {
	client := &accidentClient{fakeClient: &fakeClient{snapshot: normalSnapshot()}, phase: "impact", elapsed: 3.2}
	journal := &fakeJournal{}
	svc := New(testOptions(), Deps{Client: client, Journal: journal, Metrics: NewMetrics()}, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	require.Eventually(t, func() bool { return svc.State().SnapshotStatus == StatusLive }, 2*time.Second, 5*time.Millisecond)
	before := svc.State()
	require.NotNil(t, before.Alerts)
	assert.Nil(t, before.Alerts.Accident)

	require.NoError(t, svc.Simulate(ctx, model.AccidentCarCrash))

	var st State
	require.Eventually(t, func() bool {
		st = svc.State()
		return st.Alerts != nil && st.Alerts.Accident != nil
	}, 2*time.Second, 5*time.Millisecond)

	assert.Greater(t, st.Snapshot.Seq, before.Snapshot.Seq, "accident must come from a later scheduled fetch")
	assert.Equal(t, model.AccidentEvent{AccidentType: model.AccidentCarCrash, AccidentPhase: "impact", ElapsedTime: 3.2}, *st.Alerts.Accident)
	assert.Equal(t, []model.AccidentType{model.AccidentCarCrash}, client.simulated)
	assert.Eventually(t, func() bool {
		for _, key := range journal.keys() {
			if key == "accident:car_crash" {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond)
}

func TestRefresh(t *testing.T) {
	client := &fakeClient{snapshot: normalSnapshot()}
	opts := testOptions()
	opts.SnapshotInterval = time.Hour
	svc := New(opts, Deps{Client: client}, zerolog.Nop())

	assert.False(t, svc.Refresh(StreamSnapshot), "not running yet")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	require.Eventually(t, func() bool { s, h := client.calls(); return s == 1 && h == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.True(t, svc.Refresh(StreamHistory))
	assert.False(t, svc.Refresh("vitals"))
	require.Eventually(t, func() bool { _, h := client.calls(); return h == 2 }, 2*time.Second, 5*time.Millisecond)
}

func TestSubscribeNotifiedAfterUpdate(t *testing.T) {
	client := &fakeClient{snapshot: normalSnapshot()}
	opts := testOptions()
	opts.SnapshotInterval = time.Hour
	svc := New(opts, Deps{Client: client}, zerolog.Nop())

	ch, unsubscribe := svc.Subscribe()
	defer unsubscribe()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = svc.Run(ctx) }()

	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("no change notification")
	}
}

func TestStateJSON(t *testing.T) {
	svc := New(testOptions(), Deps{Client: &fakeClient{}}, zerolog.Nop())
	snap := normalSnapshot()
	snap.VitalSigns.HeartRate = 40
	svc.snapshots.Update(1, snap, nil)

	data, err := json.Marshal(svc.State())
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "live", decoded["snapshot_status"])
	assert.Equal(t, "loading", decoded["history_status"])
	alerts := decoded["alerts"].(map[string]any)
	thresholds := alerts["threshold_alerts"].([]any)
	require.Len(t, thresholds, 1)
	assert.Equal(t, "below_min", thresholds[0].(map[string]any)["bound_violated"])
}

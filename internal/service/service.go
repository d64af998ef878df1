package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"vitalwatch/internal/alerting"
	"vitalwatch/internal/config"
	"vitalwatch/internal/fetcher"
	"vitalwatch/internal/model"
	"vitalwatch/internal/scheduler"
	"vitalwatch/internal/state"
	"vitalwatch/internal/storage"
)

// Stream names double as scheduler task names.
const (
	StreamSnapshot = "snapshot"
	StreamHistory  = "history"
)

const sideEffectTimeout = 10 * time.Second

// Publisher mirrors derived state to an external feed.
type Publisher interface {
	Publish(ctx context.Context, subjectID string, payload any) error
}

// Options configure the service.
type Options struct {
	SubjectID        string
	HistoryHours     int
	SnapshotInterval time.Duration
	HistoryInterval  time.Duration
	StartupDelay     time.Duration
	Rules            alerting.Rules
	AlertsEnabled    bool
	Cooldown         time.Duration
	Channels         []string
}

// OptionsFromConfig maps configuration onto service options.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SubjectID:        cfg.Service.SubjectID,
		HistoryHours:     cfg.Service.HistoryHours,
		SnapshotInterval: cfg.Scheduler.SnapshotInterval,
		HistoryInterval:  cfg.Scheduler.HistoryInterval,
		StartupDelay:     cfg.Scheduler.StartupDelay,
		Rules:            cfg.Rules(),
		AlertsEnabled:    cfg.Alerting.Enabled,
		Cooldown:         cfg.Alerting.Cooldown,
		Channels:         cfg.Alerting.Channels,
	}
}

// Deps are the collaborators of the service. Only Client is required.
type Deps struct {
	Client    fetcher.HealthClient
	Notifier  alerting.Notifier
	Journal   storage.AlertEventStore
	Publisher Publisher
	Metrics   *Metrics
}

// Service orchestrates polling, state, alert evaluation and side effects.
type Service struct {
	opts      Options
	client    fetcher.HealthClient
	notifier  alerting.Notifier
	journal   storage.AlertEventStore
	publisher Publisher
	metrics   *Metrics
	logger    zerolog.Logger
	runID     string
	now       func() time.Time

	snapshots *state.SnapshotStore
	history   *state.HistoryBuffer
	scheduler *scheduler.Scheduler

	snapshotSeq atomic.Uint64
	historySeq  atomic.Uint64

	changes state.Signal

	// alert transition tracking
	trackMu      sync.Mutex
	active       map[string]alerting.Condition
	lastSent     map[string]time.Time
	evaluatedSeq uint64
}

// New constructs the monitoring service.
func New(opts Options, deps Deps, logger zerolog.Logger) *Service {
	if deps.Client == nil {
		panic("service: health client is required")
	}
	if opts.HistoryHours <= 0 {
		opts.HistoryHours = fetcher.DefaultHistoryHours
	}
	if opts.SnapshotInterval <= 0 {
		opts.SnapshotInterval = 5 * time.Second
	}
	if opts.HistoryInterval <= 0 {
		opts.HistoryInterval = time.Minute
	}

	runID := uuid.NewString()
	s := &Service{
		opts:      opts,
		client:    deps.Client,
		notifier:  deps.Notifier,
		journal:   deps.Journal,
		publisher: deps.Publisher,
		metrics:   deps.Metrics,
		logger: logger.With().
			Str("component", "service").
			Str("subject", opts.SubjectID).
			Str("run_id", runID).
			Logger(),
		runID:     runID,
		now:       time.Now,
		snapshots: state.NewSnapshotStore(),
		history:   state.NewHistoryBuffer(),
		active:    make(map[string]alerting.Condition),
		lastSent:  make(map[string]time.Time),
	}

	s.scheduler = scheduler.New(scheduler.Options{StartupDelay: opts.StartupDelay}, logger,
		scheduler.Task{Name: StreamSnapshot, Interval: opts.SnapshotInterval, Job: s.fetchSnapshot},
		scheduler.Task{Name: StreamHistory, Interval: opts.HistoryInterval, Job: s.fetchHistory},
	)
	return s
}

// RunID identifies this service instance in logs and journal rows.
func (s *Service) RunID() string {
	return s.runID
}

// SubjectID is the monitored subject.
func (s *Service) SubjectID() string {
	return s.opts.SubjectID
}

// Run polls both streams until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	snapCh, cancelSnap := s.snapshots.Subscribe()
	histCh, cancelHist := s.history.Subscribe()

	// side effects of the final updates may outlive ctx.
	reactorCtx := context.WithoutCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.react(reactorCtx, snapCh, histCh)
	}()

	s.logger.Info().
		Dur("snapshot_interval", s.opts.SnapshotInterval).
		Dur("history_interval", s.opts.HistoryInterval).
		Int("history_hours", s.opts.HistoryHours).
		Msg("starting polling")

	err := s.scheduler.Run(ctx)

	cancelSnap()
	cancelHist()
	<-done

	s.logger.Info().Msg("polling stopped")
	return err
}

// Refresh requests an immediate fetch of the named stream.
func (s *Service) Refresh(stream string) bool {
	ok := s.scheduler.Trigger(stream)
	if ok {
		s.logger.Debug().Str("stream", stream).Msg("refresh requested")
	}
	return ok
}

// Simulate asks the service to inject an accident of the given type. It never
// touches local state: the effect shows up with the next snapshot refresh.
func (s *Service) Simulate(ctx context.Context, accidentType model.AccidentType) error {
	err := s.client.SendSimulate(ctx, s.opts.SubjectID, accidentType)
	s.metrics.simulated(string(accidentType), err)
	if err != nil {
		s.logger.Error().Err(err).Str("accident_type", string(accidentType)).Msg("simulate failed")
		return fmt.Errorf("simulate %s: %w", accidentType, err)
	}
	s.logger.Info().Str("accident_type", string(accidentType)).Msg("simulate accepted")
	return nil
}

// Subscribe is notified after every applied snapshot or history update has
// been processed.
func (s *Service) Subscribe() (<-chan struct{}, func()) {
	return s.changes.Subscribe()
}

// Scheduler exposes the lifecycle state of the poller.
func (s *Service) Scheduler() scheduler.State {
	return s.scheduler.State()
}

func (s *Service) fetchSnapshot(ctx context.Context) func() {
	seq := s.snapshotSeq.Add(1)
	started := time.Now()
	snap, err := s.client.FetchSnapshot(ctx, s.opts.SubjectID)
	s.metrics.observeFetch(StreamSnapshot, time.Since(started), err)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("seq", seq).Msg("snapshot refresh failed")
	}
	return func() {
		s.snapshots.Update(seq, snap, err)
	}
}

func (s *Service) fetchHistory(ctx context.Context) func() {
	seq := s.historySeq.Add(1)
	started := time.Now()
	series, err := s.client.FetchHistory(ctx, s.opts.SubjectID, s.opts.HistoryHours)
	s.metrics.observeFetch(StreamHistory, time.Since(started), err)
	if err != nil {
		s.logger.Warn().Err(err).Uint64("seq", seq).Msg("history refresh failed")
	}
	return func() {
		s.history.Update(seq, series, err)
	}
}

func (s *Service) react(ctx context.Context, snapCh, histCh <-chan struct{}) {
	for snapCh != nil || histCh != nil {
		select {
		case _, ok := <-snapCh:
			if !ok {
				snapCh = nil
				continue
			}
			s.processSnapshot(ctx)
		case _, ok := <-histCh:
			if !ok {
				histCh = nil
				continue
			}
			s.metrics.setStale(StreamHistory, s.history.Read().Stale)
		}
		s.publish(ctx)
		s.changes.Notify()
	}
}

// processSnapshot 针对新写入的快照跟踪告警状态变化，
// 只有上一次快照中未激活的条件才算新触发。
func (s *Service) processSnapshot(ctx context.Context) {
	reading := s.snapshots.Read()
	s.metrics.setStale(StreamSnapshot, reading.Stale)

	s.trackMu.Lock()
	defer s.trackMu.Unlock()

	if !reading.Present || reading.Seq <= s.evaluatedSeq {
		return
	}
	s.evaluatedSeq = reading.Seq

	conditions := s.opts.Rules.Evaluate(reading.Value).Conditions()
	current := make(map[string]alerting.Condition, len(conditions))
	counts := make(map[string]int)
	var raised []alerting.Condition
	for _, c := range conditions {
		current[c.Key] = c
		counts[string(c.Kind)]++
		if _, ok := s.active[c.Key]; !ok {
			raised = append(raised, c)
		}
	}
	for _, key := range sortedKeys(s.active) {
		if _, ok := current[key]; !ok {
			s.logger.Info().Str("condition", key).Msg("alert cleared")
		}
	}
	s.active = current
	s.metrics.setActive(counts)

	if len(raised) == 0 {
		return
	}

	raisedAt := s.now().UTC()
	for _, c := range raised {
		s.metrics.alertRaised(string(c.Kind))
		s.logger.Warn().Str("condition", c.Key).Str("kind", string(c.Kind)).Msg(c.Summary)
		s.record(ctx, c, raisedAt)
	}
	s.notify(ctx, reading.Value, raised, raisedAt)
}

func (s *Service) record(ctx context.Context, c alerting.Condition, raisedAt time.Time) {
	if s.journal == nil {
		return
	}
	event := storage.AlertEvent{
		RunID:        s.runID,
		SubjectID:    s.opts.SubjectID,
		Kind:         string(c.Kind),
		ConditionKey: c.Key,
		Summary:      c.Summary,
		RaisedAt:     raisedAt,
	}
	if s.opts.AlertsEnabled {
		event.Channels = s.opts.Channels
	}
	if c.Value != nil {
		v := decimal.NewFromFloat(*c.Value)
		event.Value = &v
	}

	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	if _, err := s.journal.InsertAlertEvent(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("condition", c.Key).Msg("failed to persist alert event")
	}
}

func (s *Service) notify(ctx context.Context, snap model.Snapshot, raised []alerting.Condition, raisedAt time.Time) {
	if !s.opts.AlertsEnabled || s.notifier == nil {
		return
	}

	due := make([]alerting.Condition, 0, len(raised))
	for _, c := range raised {
		if last, ok := s.lastSent[c.Key]; ok && raisedAt.Sub(last) < s.opts.Cooldown {
			s.logger.Debug().Str("condition", c.Key).Msg("notification suppressed by cooldown")
			continue
		}
		due = append(due, c)
	}
	if len(due) == 0 {
		return
	}

	note := alerting.Notification{
		SubjectID:  s.opts.SubjectID,
		RaisedAt:   raisedAt,
		Conditions: due,
		Vitals:     snap.VitalSigns,
		Movement:   snap.MovementData,
		Location:   snap.Context,
		Channels:   s.opts.Channels,
	}

	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	err := s.notifier.Notify(ctx, note)
	s.metrics.notified(err)
	if err != nil {
		s.logger.Error().Err(err).Int("conditions", len(due)).Msg("failed to dispatch alert")
		return
	}
	for _, c := range due {
		s.lastSent[c.Key] = raisedAt
	}
}

func (s *Service) publish(ctx context.Context) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sideEffectTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, s.opts.SubjectID, s.State()); err != nil {
		s.logger.Warn().Err(err).Msg("failed to publish state")
	}
}

func sortedKeys(m map[string]alerting.Condition) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

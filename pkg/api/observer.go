package api

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Observer receives callbacks from the orchestration core for logging and
// metrics.
//
// Implementations should be fast and non-blocking; the two branches of the
// fork/join section call them concurrently.
type Observer interface {
	// OnInstanceStart is called when an instance is created or relaunched.
	OnInstanceStart(ctx context.Context, inst InstanceRef, resumed bool)

	// OnInstanceCompleted is called when an instance reaches StatusCompleted.
	OnInstanceCompleted(ctx context.Context, inst InstanceRef)

	// OnInstanceFailed is called when an instance transitions to
	// StatusFailed, including operator cancellation.
	OnInstanceFailed(ctx context.Context, inst InstanceRef, phase string, err error)

	// OnPhaseStart is called before the first step of a phase executes.
	OnPhaseStart(ctx context.Context, inst InstanceRef, phase string)

	// OnPhaseCompleted is called when a phase returns, for both successes
	// and failures (err != nil).
	OnPhaseCompleted(ctx context.Context, inst InstanceRef, phase string, err error, duration time.Duration)

	// OnActivityAttempt is called after each activity attempt returns.
	OnActivityAttempt(ctx context.Context, inst InstanceRef, phase, step, activity string, attempt int, err error, duration time.Duration)

	// OnSignal is called when a signal is buffered (timedOut == false) or a
	// gate's max wait elapses (timedOut == true).
	OnSignal(ctx context.Context, inst InstanceRef, phase, signal string, timedOut bool)
}

// NoopObserver is an Observer that does nothing.
// It is used as the default when no observer is configured.
type NoopObserver struct{}

func (NoopObserver) OnInstanceStart(ctx context.Context, inst InstanceRef, resumed bool) {}
func (NoopObserver) OnInstanceCompleted(ctx context.Context, inst InstanceRef)           {}
func (NoopObserver) OnInstanceFailed(ctx context.Context, inst InstanceRef, phase string, err error) {
}
func (NoopObserver) OnPhaseStart(ctx context.Context, inst InstanceRef, phase string) {}
func (NoopObserver) OnPhaseCompleted(ctx context.Context, inst InstanceRef, phase string, err error, d time.Duration) {
}
func (NoopObserver) OnActivityAttempt(ctx context.Context, inst InstanceRef, phase, step, activity string, attempt int, err error, d time.Duration) {
}
func (NoopObserver) OnSignal(ctx context.Context, inst InstanceRef, phase, signal string, timedOut bool) {
}

// CompositeObserver fans out events to multiple observers.
type CompositeObserver struct {
	observers []Observer
}

// NewCompositeObserver creates an Observer that forwards events to each
// non-nil observer in obs.
func NewCompositeObserver(obs ...Observer) Observer {
	filtered := make([]Observer, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			filtered = append(filtered, o)
		}
	}
	if len(filtered) == 0 {
		return NoopObserver{}
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return &CompositeObserver{observers: filtered}
}

func (c *CompositeObserver) OnInstanceStart(ctx context.Context, inst InstanceRef, resumed bool) {
	for _, o := range c.observers {
		o.OnInstanceStart(ctx, inst, resumed)
	}
}

func (c *CompositeObserver) OnInstanceCompleted(ctx context.Context, inst InstanceRef) {
	for _, o := range c.observers {
		o.OnInstanceCompleted(ctx, inst)
	}
}

func (c *CompositeObserver) OnInstanceFailed(ctx context.Context, inst InstanceRef, phase string, err error) {
	for _, o := range c.observers {
		o.OnInstanceFailed(ctx, inst, phase, err)
	}
}

func (c *CompositeObserver) OnPhaseStart(ctx context.Context, inst InstanceRef, phase string) {
	for _, o := range c.observers {
		o.OnPhaseStart(ctx, inst, phase)
	}
}

func (c *CompositeObserver) OnPhaseCompleted(ctx context.Context, inst InstanceRef, phase string, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnPhaseCompleted(ctx, inst, phase, err, d)
	}
}

func (c *CompositeObserver) OnActivityAttempt(ctx context.Context, inst InstanceRef, phase, step, activity string, attempt int, err error, d time.Duration) {
	for _, o := range c.observers {
		o.OnActivityAttempt(ctx, inst, phase, step, activity, attempt, err, d)
	}
}

func (c *CompositeObserver) OnSignal(ctx context.Context, inst InstanceRef, phase, signal string, timedOut bool) {
	for _, o := range c.observers {
		o.OnSignal(ctx, inst, phase, signal, timedOut)
	}
}

// LoggingObserver writes structured logs using log/slog.
type LoggingObserver struct {
	Logger *slog.Logger
}

// NewLoggingObserver creates an Observer that logs instance, phase, activity
// and signal events using the provided slog.Logger. If logger is nil,
// slog.Default() is used.
func NewLoggingObserver(logger *slog.Logger) Observer {
	if logger == nil {
		logger = slog.Default()
	}
	return &LoggingObserver{Logger: logger}
}

func (o *LoggingObserver) OnInstanceStart(ctx context.Context, inst InstanceRef, resumed bool) {
	o.Logger.InfoContext(ctx, "instance_start",
		slog.String("instance_id", inst.ID),
		slog.String("run_id", inst.RunID),
		slog.String("pipeline", inst.Pipeline),
		slog.Bool("resumed", resumed),
	)
}

func (o *LoggingObserver) OnInstanceCompleted(ctx context.Context, inst InstanceRef) {
	o.Logger.InfoContext(ctx, "instance_completed",
		slog.String("instance_id", inst.ID),
		slog.String("run_id", inst.RunID),
	)
}

func (o *LoggingObserver) OnInstanceFailed(ctx context.Context, inst InstanceRef, phase string, err error) {
	o.Logger.ErrorContext(ctx, "instance_failed",
		slog.String("instance_id", inst.ID),
		slog.String("run_id", inst.RunID),
		slog.String("phase", phase),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnPhaseStart(ctx context.Context, inst InstanceRef, phase string) {
	o.Logger.InfoContext(ctx, "phase_start",
		slog.String("instance_id", inst.ID),
		slog.String("phase", phase),
	)
}

func (o *LoggingObserver) OnPhaseCompleted(ctx context.Context, inst InstanceRef, phase string, err error, d time.Duration) {
	level := slog.LevelInfo
	if err != nil {
		level = slog.LevelError
	}
	o.Logger.Log(ctx, level, "phase_completed",
		slog.String("instance_id", inst.ID),
		slog.String("phase", phase),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnActivityAttempt(ctx context.Context, inst InstanceRef, phase, step, activity string, attempt int, err error, d time.Duration) {
	level := slog.LevelDebug
	if err != nil {
		level = slog.LevelWarn
	}
	o.Logger.Log(ctx, level, "activity_attempt",
		slog.String("instance_id", inst.ID),
		slog.String("phase", phase),
		slog.String("step", step),
		slog.String("activity", activity),
		slog.Int("attempt", attempt),
		slog.Duration("duration", d),
		slog.Any("error", err),
	)
}

func (o *LoggingObserver) OnSignal(ctx context.Context, inst InstanceRef, phase, signal string, timedOut bool) {
	if timedOut {
		o.Logger.WarnContext(ctx, "signal_timed_out",
			slog.String("instance_id", inst.ID),
			slog.String("phase", phase),
			slog.String("signal", signal),
		)
		return
	}
	o.Logger.InfoContext(ctx, "signal_received",
		slog.String("instance_id", inst.ID),
		slog.String("phase", phase),
		slog.String("signal", signal),
	)
}

// BasicMetrics collects simple counters and aggregate activity durations.
// It implements Observer, and can be combined with LoggingObserver via
// NewCompositeObserver.
type BasicMetrics struct {
	NoopObserver

	instancesStarted   atomic.Int64
	instancesCompleted atomic.Int64
	instancesFailed    atomic.Int64
	phasesCompleted    atomic.Int64
	activityAttempts   atomic.Int64
	activityFailures   atomic.Int64
	totalActivityNanos atomic.Int64
	signalsReceived    atomic.Int64
	signalTimeouts     atomic.Int64
}

// BasicMetricsSnapshot is an immutable snapshot of BasicMetrics.
type BasicMetricsSnapshot struct {
	InstancesStarted   int64
	InstancesCompleted int64
	InstancesFailed    int64
	InstancesRunning   int64

	PhasesCompleted     int64
	ActivityAttempts    int64
	ActivityFailures    int64
	AvgActivityDuration time.Duration

	SignalsReceived int64
	SignalTimeouts  int64
}

func (m *BasicMetrics) OnInstanceStart(ctx context.Context, inst InstanceRef, resumed bool) {
	m.instancesStarted.Add(1)
}

func (m *BasicMetrics) OnInstanceCompleted(ctx context.Context, inst InstanceRef) {
	m.instancesCompleted.Add(1)
}

func (m *BasicMetrics) OnInstanceFailed(ctx context.Context, inst InstanceRef, phase string, err error) {
	m.instancesFailed.Add(1)
}

func (m *BasicMetrics) OnPhaseCompleted(ctx context.Context, inst InstanceRef, phase string, err error, d time.Duration) {
	if err == nil {
		m.phasesCompleted.Add(1)
	}
}

func (m *BasicMetrics) OnActivityAttempt(ctx context.Context, inst InstanceRef, phase, step, activity string, attempt int, err error, d time.Duration) {
	m.activityAttempts.Add(1)
	m.totalActivityNanos.Add(d.Nanoseconds())
	if err != nil {
		m.activityFailures.Add(1)
	}
}

func (m *BasicMetrics) OnSignal(ctx context.Context, inst InstanceRef, phase, signal string, timedOut bool) {
	if timedOut {
		m.signalTimeouts.Add(1)
		return
	}
	m.signalsReceived.Add(1)
}

// Snapshot returns a snapshot of the current metrics.
func (m *BasicMetrics) Snapshot() BasicMetricsSnapshot {
	started := m.instancesStarted.Load()
	completed := m.instancesCompleted.Load()
	failed := m.instancesFailed.Load()
	attempts := m.activityAttempts.Load()
	totalNs := m.totalActivityNanos.Load()

	var avg time.Duration
	if attempts > 0 {
		avg = time.Duration(totalNs / attempts)
	}

	return BasicMetricsSnapshot{
		InstancesStarted:    started,
		InstancesCompleted:  completed,
		InstancesFailed:     failed,
		InstancesRunning:    started - completed - failed,
		PhasesCompleted:     m.phasesCompleted.Load(),
		ActivityAttempts:    attempts,
		ActivityFailures:    m.activityFailures.Load(),
		AvgActivityDuration: avg,
		SignalsReceived:     m.signalsReceived.Load(),
		SignalTimeouts:      m.signalTimeouts.Load(),
	}
}

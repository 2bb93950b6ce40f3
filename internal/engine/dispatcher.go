package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/petrijr/reportflow/internal/persistence"
	"github.com/petrijr/reportflow/pkg/api"
)

// errShutdown is the cancellation cause used by Close. Runs that observe it
// leave their instance in progress so it can be recovered later.
var errShutdown = errors.New("dispatcher shutting down")

// errCancelled is the cancellation cause used by Cancel.
var errCancelled = errors.New("instance cancelled")

// errLeaseLost stops a run whose ownership lease was taken over or could not
// be renewed. Like errShutdown it leaves the instance in progress.
var errLeaseLost = errors.New("instance lease lost")

// DefaultLeaseTTL is how long an instance stays owned by a dispatcher that
// stops renewing its lease.
const DefaultLeaseTTL = 30 * time.Second

// Config describes how to construct a Dispatcher.
type Config struct {
	Persistence persistence.Persistence
	Pipeline    api.PipelineDefinition
	Activities  api.ActivityInvoker
	Observer    api.Observer
	Logger      *slog.Logger

	// Owner identifies this dispatcher in instance leases. Defaults to a
	// random id.
	Owner string

	// LeaseTTL bounds how long a crashed owner keeps its instances.
	// Running instances renew their lease every LeaseTTL/3.
	LeaseTTL time.Duration

	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

// Dispatcher maps (cycle, report) pairs to workflow instances and runs each
// live instance on its own goroutine. It implements api.Client.
type Dispatcher struct {
	def        api.PipelineDefinition
	instances  persistence.InstanceStore
	events     persistence.EventStore
	activities api.ActivityInvoker
	observer   api.Observer
	logger     *slog.Logger
	now        func() time.Time
	owner      string
	leaseTTL   time.Duration

	baseCtx    context.Context
	baseCancel context.CancelCauseFunc

	mu     sync.Mutex
	live   map[string]*instanceRun
	closed bool
	wg     sync.WaitGroup
}

var _ api.Client = (*Dispatcher)(nil)

// New validates cfg and returns a Dispatcher. Nothing runs until Start or
// Recover is called.
func New(cfg Config) (*Dispatcher, error) {
	if err := cfg.Pipeline.Validate(); err != nil {
		return nil, fmt.Errorf("invalid pipeline: %w", err)
	}
	if cfg.Persistence.Instances == nil {
		return nil, errors.New("instance store is required")
	}
	if cfg.Activities == nil {
		return nil, errors.New("activity invoker is required")
	}
	if reg, ok := cfg.Activities.(interface{ Has(string) bool }); ok {
		for _, name := range cfg.Pipeline.Activities() {
			if !reg.Has(name) {
				return nil, fmt.Errorf("pipeline %s: %w: %s", cfg.Pipeline.Name, api.ErrUnknownActivity, name)
			}
		}
	}

	events := cfg.Persistence.Events
	if events == nil {
		events = persistence.NoopEventStore{}
	}
	obs := cfg.Observer
	if obs == nil {
		obs = api.NoopObserver{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	owner := cfg.Owner
	if owner == "" {
		owner = newRunID()
	}
	ttl := cfg.LeaseTTL
	if ttl <= 0 {
		ttl = DefaultLeaseTTL
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	return &Dispatcher{
		def:        cfg.Pipeline,
		instances:  cfg.Persistence.Instances,
		events:     events,
		activities: cfg.Activities,
		observer:   obs,
		logger:     logger.With(slog.String("pipeline", cfg.Pipeline.Name)),
		now:        now,
		owner:      owner,
		leaseTTL:   ttl,
		baseCtx:    ctx,
		baseCancel: cancel,
		live:       make(map[string]*instanceRun),
	}, nil
}

// Pipeline returns the pipeline definition the dispatcher runs.
func (d *Dispatcher) Pipeline() api.PipelineDefinition {
	return d.def
}

func (d *Dispatcher) validateStart(in api.StartInput) error {
	if in.CycleID <= 0 {
		return &api.ValidationError{Field: "cycle_id", Reason: "must be positive"}
	}
	if in.ReportID <= 0 {
		return &api.ValidationError{Field: "report_id", Reason: "must be positive"}
	}
	if in.UserID <= 0 {
		return &api.ValidationError{Field: "user_id", Reason: "must be positive"}
	}
	for _, name := range in.SkipPhases {
		if _, ok := d.def.Phase(name); !ok {
			return &api.ValidationError{Field: "skip_phases", Reason: "unknown phase " + quote(name)}
		}
	}
	return nil
}

// dedupe returns names without repeats, keeping first occurrences in order.
func dedupe(names []string) []string {
	var out []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}

// Start returns the id of the live instance for (cycle, report), creating a
// new generation when none exists or the latest one is terminal.
func (d *Dispatcher) Start(ctx context.Context, in api.StartInput) (string, error) {
	if err := d.validateStart(in); err != nil {
		return "", err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return "", api.ErrDispatcherClosed
	}

	key := api.InstanceKey(in.CycleID, in.ReportID)
	existing, err := d.instances.ListInstances(ctx, persistence.InstanceFilter{Key: key})
	if err != nil {
		return "", fmt.Errorf("list instances for %s: %w", key, err)
	}

	var latest *api.WorkflowInstance
	for _, inst := range existing {
		if latest == nil || inst.Generation > latest.Generation {
			latest = inst
		}
	}

	// A live instance owned by another dispatcher is joined, not relaunched.
	if latest != nil && !latest.Status.Terminal() {
		if _, ok := d.live[latest.ID]; !ok {
			if _, err := d.launchLocked(ctx, latest, true); err != nil {
				return "", err
			}
		}
		return latest.ID, nil
	}

	gen := 1
	if latest != nil {
		gen = latest.Generation + 1
	}
	inst := d.newInstance(key, gen, in)
	if err := d.instances.SaveInstance(ctx, inst); err != nil {
		if errors.Is(err, persistence.ErrInstanceExists) {
			// Another dispatcher created the same generation first.
			return inst.ID, nil
		}
		return "", fmt.Errorf("save instance %s: %w", inst.ID, err)
	}

	d.record(ctx, api.WorkflowEvent{InstanceID: inst.ID, Type: api.EventInstanceStarted, Detail: inst.RunID})
	for _, name := range inst.SkipPhases {
		d.record(ctx, api.WorkflowEvent{InstanceID: inst.ID, Type: api.EventPhaseSkipped, Phase: name})
	}

	if _, err := d.launchLocked(ctx, inst, false); err != nil {
		return "", err
	}
	return inst.ID, nil
}

func (d *Dispatcher) newInstance(key string, gen int, in api.StartInput) *api.WorkflowInstance {
	inst := &api.WorkflowInstance{
		ID:              api.InstanceID(key, gen),
		Key:             key,
		Generation:      gen,
		RunID:           newRunID(),
		Pipeline:        d.def.Name,
		PipelineVersion: d.def.Version,
		CycleID:         in.CycleID,
		ReportID:        in.ReportID,
		UserID:          in.UserID,
		SkipPhases:      dedupe(in.SkipPhases),
		Status:          api.StatusInProgress,
		StartTime:       d.now(),
	}
	for _, p := range d.def.Phases {
		if !inst.IsSkipped(p.Name) {
			inst.CurrentPhase = p.Name
			inst.ActivePhases = []string{p.Name}
			break
		}
	}
	return inst
}

func newRunID() string {
	return uuid.Must(uuid.NewV4()).String()
}

// launchLocked takes the instance lease and starts a goroutine executing
// inst. It reports false when another dispatcher owns the instance. d.mu
// must be held.
func (d *Dispatcher) launchLocked(ctx context.Context, inst *api.WorkflowInstance, resumed bool) (bool, error) {
	ok, err := d.instances.TryAcquireLease(ctx, inst.ID, d.owner, d.leaseTTL)
	if err != nil {
		return false, fmt.Errorf("lease instance %s: %w", inst.ID, err)
	}
	if !ok {
		d.logger.DebugContext(ctx, "instance owned elsewhere", slog.String("instance_id", inst.ID))
		return false, nil
	}

	if resumed {
		// Re-read under the lease: the previous owner may have written
		// after the caller loaded inst.
		fresh, err := d.instances.GetInstance(ctx, inst.ID)
		if err != nil {
			d.releaseLease(inst.ID)
			return false, err
		}
		if fresh.Status.Terminal() {
			d.releaseLease(inst.ID)
			return false, nil
		}
		inst = fresh
		inst.RunID = newRunID()
		if err := d.instances.UpdateInstance(ctx, inst); err != nil {
			d.releaseLease(inst.ID)
			return false, fmt.Errorf("update instance %s: %w", inst.ID, err)
		}
		d.record(ctx, api.WorkflowEvent{InstanceID: inst.ID, Type: api.EventInstanceResumed, Detail: inst.RunID})
	}

	runCtx, cancel := context.WithCancelCause(d.baseCtx)
	run := &instanceRun{
		d:       d,
		inst:    inst,
		waiters: make(map[string]chan struct{}),
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	d.live[inst.ID] = run

	d.observer.OnInstanceStart(ctx, inst.Ref(), resumed)
	d.logger.DebugContext(ctx, "instance launched",
		slog.String("instance_id", inst.ID),
		slog.String("run_id", inst.RunID),
		slog.Bool("resumed", resumed),
	)

	d.wg.Add(2)
	go func() {
		defer d.wg.Done()
		run.execute(runCtx)
	}()
	go func() {
		defer d.wg.Done()
		run.keepLease(runCtx)
	}()
	return true, nil
}

func (d *Dispatcher) releaseLease(id string) {
	if err := d.instances.ReleaseLease(context.Background(), id, d.owner); err != nil {
		d.logger.Warn("release lease failed",
			slog.String("instance_id", id),
			slog.Any("error", err),
		)
	}
}

// withLease runs fn while holding the lease of an instance that is not live
// in this dispatcher. d.mu must be held.
func (d *Dispatcher) withLease(ctx context.Context, id string, fn func() error) error {
	ok, err := d.instances.TryAcquireLease(ctx, id, d.owner, d.leaseTTL)
	if err != nil {
		return fmt.Errorf("lease instance %s: %w", id, err)
	}
	if !ok {
		return fmt.Errorf("instance %s: %w", id, api.ErrInstanceLeased)
	}
	defer d.releaseLease(id)
	return fn()
}

func (d *Dispatcher) release(r *instanceRun) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.live[r.inst.ID] == r {
		delete(d.live, r.inst.ID)
	}
}

func (d *Dispatcher) liveRun(id string) *instanceRun {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.live[id]
}

// load returns a copy of the instance, preferring the live in-memory state.
func (d *Dispatcher) load(ctx context.Context, id string) (*api.WorkflowInstance, error) {
	if run := d.liveRun(id); run != nil {
		return run.view(), nil
	}
	return d.instances.GetInstance(ctx, id)
}

// Cancel forces the instance into StatusFailed with the given reason,
// aborting any pending wait or activity retry.
func (d *Dispatcher) Cancel(ctx context.Context, instanceID, reason string) error {
	if reason == "" {
		reason = "cancelled by operator"
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return api.ErrDispatcherClosed
	}
	run := d.live[instanceID]
	if run != nil {
		d.mu.Unlock()
		if handled, err := run.cancelWith(ctx, reason); handled {
			return err
		}
		// The run stopped between lookup and cancel; fall through to the store.
		d.mu.Lock()
	}
	defer d.mu.Unlock()

	var inst *api.WorkflowInstance
	err := d.withLease(ctx, instanceID, func() error {
		var err error
		inst, err = d.instances.GetInstance(ctx, instanceID)
		if err != nil {
			return err
		}
		if inst.Status.Terminal() {
			return api.ErrInstanceTerminal
		}
		markCancelled(inst, reason, d.now())
		if err := d.instances.UpdateInstance(ctx, inst); err != nil {
			return fmt.Errorf("update instance %s: %w", inst.ID, err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	d.record(ctx, api.WorkflowEvent{InstanceID: inst.ID, Type: api.EventInstanceCancelled, Phase: inst.FailedPhase, Detail: reason})
	d.observer.OnInstanceFailed(ctx, inst.Ref(), inst.FailedPhase, errors.New(inst.Error))
	return nil
}

func markCancelled(inst *api.WorkflowInstance, reason string, at time.Time) {
	inst.Status = api.StatusFailed
	inst.FailedPhase = inst.CurrentPhase
	inst.Error = "cancelled: " + reason
	inst.ActivePhases = nil
	inst.CloseTime = &at
}

// Describe returns the lifecycle summary of an instance.
func (d *Dispatcher) Describe(ctx context.Context, instanceID string) (*api.Description, error) {
	inst, err := d.load(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	return &api.Description{
		InstanceID: inst.ID,
		RunID:      inst.RunID,
		Status:     inst.Status,
		StartTime:  inst.StartTime,
		CloseTime:  inst.CloseTime,
	}, nil
}

// Wait blocks until the instance reaches a terminal status.
func (d *Dispatcher) Wait(ctx context.Context, instanceID string) (*api.RunResult, error) {
	var inst *api.WorkflowInstance
	if run := d.liveRun(instanceID); run != nil {
		select {
		case <-run.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		// The run's own state is authoritative even if its last write failed.
		if v := run.view(); v.Status.Terminal() {
			inst = v
		}
	}

	if inst == nil {
		var err error
		inst, err = d.instances.GetInstance(ctx, instanceID)
		if err != nil {
			return nil, err
		}
	}
	if !inst.Status.Terminal() {
		return nil, api.ErrInstanceNotRunning
	}
	return &api.RunResult{
		InstanceID:   inst.ID,
		Status:       inst.Status,
		PhaseResults: inst.PhaseResults,
		FailedPhase:  inst.FailedPhase,
		Error:        inst.Error,
	}, nil
}

// Run starts (or joins) the instance for in and waits for its outcome.
func (d *Dispatcher) Run(ctx context.Context, in api.StartInput) (*api.RunResult, error) {
	id, err := d.Start(ctx, in)
	if err != nil {
		return nil, err
	}
	return d.Wait(ctx, id)
}

// List returns stored instances matching opts.
func (d *Dispatcher) List(ctx context.Context, opts api.ListOptions) ([]*api.WorkflowInstance, error) {
	return d.instances.ListInstances(ctx, persistence.InstanceFilter{Key: opts.Key, Status: opts.Status})
}

// History returns the recorded events of an instance in order.
func (d *Dispatcher) History(ctx context.Context, instanceID string) ([]api.WorkflowEvent, error) {
	if _, err := d.load(ctx, instanceID); err != nil {
		return nil, err
	}
	return d.events.ListEvents(ctx, instanceID)
}

// Recover relaunches every in-progress instance that is not running in this
// process and not leased by another dispatcher, for example after a
// restart. Each relaunch gets a new RunID.
func (d *Dispatcher) Recover(ctx context.Context) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return 0, api.ErrDispatcherClosed
	}

	pending, err := d.instances.ListInstances(ctx, persistence.InstanceFilter{Status: api.StatusInProgress})
	if err != nil {
		return 0, err
	}

	n := 0
	for _, inst := range pending {
		if inst.Pipeline != d.def.Name {
			continue
		}
		if _, ok := d.live[inst.ID]; ok {
			continue
		}
		launched, err := d.launchLocked(ctx, inst, true)
		if err != nil {
			return n, err
		}
		if launched {
			n++
		}
	}
	return n, nil
}

// Close stops every running instance and waits for them to return. Stored
// instances stay in progress.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	d.mu.Unlock()

	d.baseCancel(errShutdown)
	d.wg.Wait()
	return nil
}

func (d *Dispatcher) record(ctx context.Context, ev api.WorkflowEvent) {
	if ev.At.IsZero() {
		ev.At = d.now()
	}
	if err := d.events.AppendEvent(context.WithoutCancel(ctx), ev); err != nil {
		d.logger.WarnContext(ctx, "append event failed",
			slog.String("instance_id", ev.InstanceID),
			slog.String("type", string(ev.Type)),
			slog.Any("error", err),
		)
	}
}

func quote(s string) string {
	return fmt.Sprintf("%q", s)
}

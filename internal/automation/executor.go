package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Hub channels and MQTT event names used by the executor.
const (
	ChannelResults = "results"
	ChannelRuns    = "runs"

	EventStarted  = "started"
	EventResult   = "result"
	EventFinished = "finished"
)

// RunTopic returns the MQTT topic for a run event:
// deskpilot/{agent}/runs/{run_id}/{event}.
func RunTopic(agentID, runID, event string) string {
	return "deskpilot/" + agentID + "/runs/" + runID + "/" + event
}

// RunOptions controls a single ExecuteRun call.
type RunOptions struct {
	// StopOnFailure ends the sequence at the first failed result.
	StopOnFailure bool

	// Source records where the run was requested from (cli, api, mqtt).
	Source string

	// RunID overrides the generated run ID.
	RunID string
}

// Executor runs action sequences against the input and vision ports.
//
// One Executor runs one sequence at a time: concurrent calls queue on an
// internal lock so history order always equals execution order. Several
// executors may share a History.
type Executor struct {
	input   InputPort
	vision  *VisionController
	history *History

	logger   Logger
	recorder RunRecorder
	mqtt     MQTTClient
	agentID  string
	hub      WSHub
	metrics  MetricsSink

	runMu sync.Mutex

	activeMu sync.Mutex
	active   map[string]context.CancelFunc
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithLogger sets the executor's logger.
func WithLogger(logger Logger) ExecutorOption {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithRecorder persists every completed run.
func WithRecorder(r RunRecorder) ExecutorOption {
	return func(e *Executor) { e.recorder = r }
}

// WithMQTT publishes run events under deskpilot/{agentID}/runs/.
func WithMQTT(client MQTTClient, agentID string) ExecutorOption {
	return func(e *Executor) {
		e.mqtt = client
		e.agentID = agentID
	}
}

// WithHub broadcasts results and run summaries to WebSocket subscribers.
func WithHub(hub WSHub) ExecutorOption {
	return func(e *Executor) { e.hub = hub }
}

// WithMetrics writes one metric point per executed action.
func WithMetrics(m MetricsSink) ExecutorOption {
	return func(e *Executor) { e.metrics = m }
}

// NewExecutor creates an executor. vision may be nil when no sequence uses
// vision kinds; history may be nil for a fresh unbounded one.
func NewExecutor(input InputPort, vision *VisionController, history *History, opts ...ExecutorOption) *Executor {
	if history == nil {
		history = NewHistory()
	}
	e := &Executor{
		input:   input,
		vision:  vision,
		history: history,
		logger:  noopLogger{},
		active:  make(map[string]context.CancelFunc),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// History returns the history the executor appends to.
func (e *Executor) History() *History { return e.history }

// Execute runs actions in order and returns one result per attempted action.
//
// Port failures, timeouts and missed template searches become failed
// results; with stopOnFailure the returned slice ends at the first of them.
// An unexpected error (including a panic inside a port) aborts the call:
// the results produced so far are returned alongside an error wrapping
// ErrUnexpected, and the history holds exactly those results. If ctx ends,
// the interrupted action is recorded as a cancelled failure and the error
// wraps ErrCancelled.
func (e *Executor) Execute(ctx context.Context, actions []Action, stopOnFailure bool) ([]ActionResult, error) {
	_, results, err := e.ExecuteRun(ctx, actions, RunOptions{StopOnFailure: stopOnFailure})
	return results, err
}

// ExecuteOne runs a single action.
func (e *Executor) ExecuteOne(ctx context.Context, a Action) (ActionResult, error) {
	results, err := e.Execute(ctx, []Action{a}, true)
	if len(results) == 0 {
		return ActionResult{}, err
	}
	return results[0], err
}

// RunFunc executes a run registered by Start.
type RunFunc func() (*Run, []ActionResult, error)

// ExecuteRun is Execute with run metadata. The returned Run is the record
// handed to the RunRecorder. It is nil when an action was never built or
// the run ID is already in use.
func (e *Executor) ExecuteRun(ctx context.Context, actions []Action, opts RunOptions) (*Run, []ActionResult, error) {
	start, _, err := e.Start(ctx, actions, opts)
	if err != nil {
		return nil, nil, err
	}
	return start()
}

// Start registers a run without executing it and returns its ID and the
// function that executes it. From this point the run is listed by
// ActiveRuns and can be cancelled, including while it waits for an earlier
// run to finish. The returned RunFunc must be called exactly once.
//
// A caller-supplied RunID that is active, queued, or already in the run log
// fails with ErrRunExists.
func (e *Executor) Start(ctx context.Context, actions []Action, opts RunOptions) (RunFunc, string, error) {
	for i, a := range actions {
		if a.IsZero() {
			return nil, "", fmt.Errorf("%w: action %d was not built", ErrConstruction, i)
		}
	}

	if opts.RunID == "" {
		opts.RunID = GenerateID()
	} else if err := e.checkStored(ctx, opts.RunID); err != nil {
		return nil, "", err
	}

	ctx, cancel := context.WithCancel(ctx)
	if !e.track(opts.RunID, cancel) {
		cancel()
		return nil, "", fmt.Errorf("%w: %s is active", ErrRunExists, opts.RunID)
	}

	var once sync.Once
	return func() (run *Run, results []ActionResult, err error) {
		err = fmt.Errorf("%w: run %s already executed", ErrUnexpected, opts.RunID)
		once.Do(func() {
			defer e.untrack(opts.RunID)
			defer cancel()
			run, results, err = e.run(ctx, actions, opts)
		})
		return run, results, err
	}, opts.RunID, nil
}

// checkStored rejects runID when the recorder already holds it. Lookup
// failures are logged and let the run proceed.
func (e *Executor) checkStored(ctx context.Context, runID string) error {
	checker, ok := e.recorder.(RunChecker)
	if !ok {
		return nil
	}
	exists, err := checker.RunExists(ctx, runID)
	if err != nil {
		e.logger.Warn("checking run id", "run_id", runID, "error", err)
		return nil
	}
	if exists {
		return fmt.Errorf("%w: %s is in the run log", ErrRunExists, runID)
	}
	return nil
}

// run executes a registered run once the executor is free.
func (e *Executor) run(ctx context.Context, actions []Action, opts RunOptions) (*Run, []ActionResult, error) { //nolint:gocognit // sequential loop with three exit paths
	e.runMu.Lock()
	defer e.runMu.Unlock()

	runID := opts.RunID

	run := &Run{
		ID:            runID,
		Source:        opts.Source,
		StopOnFailure: opts.StopOnFailure,
		ActionsTotal:  len(actions),
		StartedAt:     time.Now().UTC(),
	}
	started := time.Now()

	e.logger.Info("sequence started",
		"run_id", runID,
		"source", opts.Source,
		"actions", len(actions),
		"stop_on_failure", opts.StopOnFailure,
	)
	e.publish(runID, EventStarted, run)

	results := make([]ActionResult, 0, len(actions))
	var runErr error
	stopped := false

	for i, a := range actions {
		// Also catches runs cancelled while queued.
		if err := ctx.Err(); err != nil {
			runErr = fmt.Errorf("%w: before action %d of %d: %w", ErrCancelled, i, len(actions), err)
			break
		}

		res, err := e.executeAction(ctx, runID, i, a)
		if err != nil {
			runErr = fmt.Errorf("action %d (%s): %w", i, a.Kind(), err)
			break
		}

		results = append(results, res)
		e.history.Append(res)
		e.emit(res)

		if res.Class() == ClassCancelled {
			runErr = fmt.Errorf("action %d (%s): %w", i, a.Kind(), res.Err)
			break
		}
		if !res.Success && opts.StopOnFailure {
			stopped = true
			break
		}
	}

	e.finish(ctx, run, results, runErr, stopped, time.Since(started))
	return run, results, runErr
}

// executeAction dispatches a and wraps the outcome. The returned error is
// non-nil only for unexpected failures, which produce no result.
func (e *Executor) executeAction(ctx context.Context, runID string, index int, a Action) (ActionResult, error) {
	start := time.Now()
	value, err := e.safeDispatch(ctx, a)
	duration := time.Since(start)

	class := Classify(err)
	if class != ClassNone && class != ClassCancelled && !class.Expected() {
		if !errors.Is(err, ErrUnexpected) {
			err = fmt.Errorf("%w: %w", ErrUnexpected, err)
		}
		e.logger.Error("action aborted sequence",
			"run_id", runID,
			"index", index,
			"kind", a.Kind(),
			"error", err,
		)
		return ActionResult{}, err
	}

	res := ActionResult{
		RunID:     runID,
		Index:     index,
		Action:    a,
		Success:   err == nil,
		Err:       err,
		Duration:  duration,
		Timestamp: start.UTC(),
	}
	if err == nil {
		res.Value = value
	}
	return res, nil
}

// safeDispatch converts a panic inside a port into ErrUnexpected.
func (e *Executor) safeDispatch(ctx context.Context, a Action) (value any, err error) {
	defer func() {
		if r := recover(); r != nil {
			value = nil
			err = fmt.Errorf("%w: panic during %s: %v", ErrUnexpected, a.Kind(), r)
		}
	}()
	return e.dispatch(ctx, a)
}

// dispatch routes a to the single port that handles its kind.
func (e *Executor) dispatch(ctx context.Context, a Action) (any, error) { //nolint:gocyclo // one case per kind
	p := a.params

	if a.kind.UsesVision() && e.vision == nil {
		return nil, fmt.Errorf("%w: %s requires a vision port", ErrUnexpected, a.kind)
	}

	switch a.kind {
	case KindClick:
		return nil, e.input.Click(p.At.X, p.At.Y, p.Button)
	case KindDoubleClick:
		return nil, e.input.DoubleClick(p.At.X, p.At.Y)
	case KindRightClick:
		return nil, e.input.Click(p.At.X, p.At.Y, ButtonRight)
	case KindDrag:
		return nil, e.input.Drag(p.At.X, p.At.Y, p.To.X, p.To.Y, p.Button, p.Duration)
	case KindScroll:
		return nil, e.input.Scroll(p.Amount, p.At)
	case KindMove:
		return nil, e.input.MoveTo(p.At.X, p.At.Y)
	case KindMouseDown:
		return nil, e.input.MouseDown(p.Button, p.At)
	case KindMouseUp:
		return nil, e.input.MouseUp(p.Button, p.At)
	case KindHoldMouse:
		return nil, e.hold(ctx, a, func() error { return e.input.MouseDown(p.Button, p.At) },
			func() error { return e.input.MouseUp(p.Button, nil) })
	case KindTypeText:
		return nil, e.input.TypeText(p.Text, p.Interval)
	case KindPressKey:
		return nil, e.input.PressKey(p.Keys[0], p.Count)
	case KindKeyDown:
		return nil, e.input.KeyDown(p.Keys[0])
	case KindKeyUp:
		return nil, e.input.KeyUp(p.Keys[0])
	case KindHoldKey:
		return nil, e.hold(ctx, a, func() error { return e.input.KeyDown(p.Keys[0]) },
			func() error { return e.input.KeyUp(p.Keys[0]) })
	case KindKeyCombination:
		return nil, e.input.KeyCombination(p.Keys)
	case KindNavigate:
		return nil, e.input.Navigate(p.Direction, p.Steps)
	case KindWait:
		return nil, sleep(ctx, p.Duration)

	case KindFindImage:
		m, ok, err := e.vision.FindImage(ctx, p.Template, p.Threshold, p.Region)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s (threshold %.2f)", ErrNotFound, p.Template, p.Threshold)
		}
		return m, nil
	case KindWaitForImage:
		return e.vision.waitForImage(ctx, p.Template, p.Region, p.Timeout, p.PollInterval, p.Threshold)
	case KindClickImage:
		m, ok, err := e.vision.FindImage(ctx, p.Template, p.Threshold, p.Region)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: %s (threshold %.2f)", ErrNotFound, p.Template, p.Threshold)
		}
		if err := e.input.Click(m.Center.X, m.Center.Y, p.Button); err != nil {
			return nil, err
		}
		return m, nil
	case KindFindAllImages:
		matches, err := e.vision.FindAllImages(ctx, p.Template, p.Threshold, p.Region, p.Count)
		if err != nil {
			return nil, err
		}
		if matches == nil {
			matches = []Match{}
		}
		return matches, nil
	case KindGetPixelColor:
		return e.vision.GetPixelColor(p.At.X, p.At.Y)
	case KindWaitForPixelColor:
		return e.vision.WaitForPixelColor(ctx, *p.At, *p.Color, p.Tolerance, p.Timeout, p.PollInterval)
	case KindWaitForPixelChange:
		return e.vision.WaitForPixelChange(ctx, *p.At, p.MinChange, p.Timeout, p.PollInterval)

	default:
		return nil, fmt.Errorf("%w: %w: %q", ErrUnexpected, ErrUnknownKind, a.kind)
	}
}

// hold runs press, waits the action's duration and then runs release. The
// release happens even when ctx ends during the wait.
func (e *Executor) hold(ctx context.Context, a Action, press, release func() error) error {
	if err := press(); err != nil {
		return err
	}
	waitErr := sleep(ctx, a.params.Duration)
	if err := release(); err != nil {
		if waitErr == nil {
			return err
		}
		e.logger.Warn("release after cancelled hold failed", "kind", a.kind, "error", err)
	}
	return waitErr
}

// emit fans a result out to logs, MQTT, the hub and metrics.
// Failures here are logged and never change the result.
func (e *Executor) emit(res ActionResult) {
	attrs := []any{
		"run_id", res.RunID,
		"index", res.Index,
		"kind", res.Action.Kind(),
		"description", res.Action.Description(),
		"success", res.Success,
		"duration_ms", res.Duration.Milliseconds(),
	}
	if res.Success {
		e.logger.Debug("action executed", attrs...)
	} else {
		e.logger.Warn("action failed", append(attrs, "error_class", res.Class(), "error", res.Err)...)
	}

	rec := res.Record()
	e.publish(res.RunID, EventResult, rec)
	if e.hub != nil {
		e.hub.Broadcast(ChannelResults, rec)
	}
	if e.metrics != nil {
		e.metrics.WriteActionMetric(res.RunID, string(res.Action.Kind()), string(res.Class()),
			res.Success, res.Duration, res.Timestamp)
	}
}

// finish fills in the run record, persists it and announces completion.
func (e *Executor) finish(ctx context.Context, run *Run, results []ActionResult, runErr error, stopped bool, elapsed time.Duration) {
	completed := time.Now().UTC()
	run.CompletedAt = &completed
	run.DurationMS = elapsed.Milliseconds()
	run.Results = make([]ResultRecord, 0, len(results))
	for _, r := range results {
		if r.Success {
			run.Succeeded++
		} else {
			run.Failed++
		}
		run.Results = append(run.Results, r.Record())
	}

	switch {
	case runErr != nil && Classify(runErr) == ClassCancelled:
		run.Status = RunCancelled
	case runErr != nil:
		run.Status = RunAborted
	case stopped:
		run.Status = RunFailed
	case run.Failed > 0:
		run.Status = RunPartial
	default:
		run.Status = RunCompleted
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	if e.recorder != nil {
		// Record even when the caller's context has been cancelled.
		if err := e.recorder.SaveRun(context.WithoutCancel(ctx), run); err != nil {
			e.logger.Error("failed to record run", "run_id", run.ID, "error", err)
		}
	}

	e.logger.Info("sequence complete",
		"run_id", run.ID,
		"status", run.Status,
		"attempted", run.Attempted(),
		"total", run.ActionsTotal,
		"succeeded", run.Succeeded,
		"failed", run.Failed,
		"duration_ms", run.DurationMS,
	)

	if e.metrics != nil {
		e.metrics.WriteRunMetric(run.ID, string(run.Status), run.Source,
			run.Succeeded, run.Failed, elapsed, completed)
	}

	summary := *run
	summary.Results = nil
	e.publish(run.ID, EventFinished, &summary)
	if e.hub != nil {
		e.hub.Broadcast(ChannelRuns, &summary)
	}
}

func (e *Executor) publish(runID, event string, payload any) {
	if e.mqtt == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		e.logger.Error("marshalling run event", "run_id", runID, "event", event, "error", err)
		return
	}
	topic := RunTopic(e.agentID, runID, event)
	if err := e.mqtt.Publish(topic, data, 1, false); err != nil {
		e.logger.Warn("publishing run event", "topic", topic, "error", err)
	}
}

// ─── Cancellation ───────────────────────────────────────────────────────────

// track registers cancel under runID. It reports false if runID is taken.
func (e *Executor) track(runID string, cancel context.CancelFunc) bool {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	if _, ok := e.active[runID]; ok {
		return false
	}
	e.active[runID] = cancel
	return true
}

func (e *Executor) untrack(runID string) {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	delete(e.active, runID)
}

// Cancel stops the run with the given ID. It reports whether the run was
// active or queued. A run cancelled while queued is recorded as cancelled
// without executing any action.
func (e *Executor) Cancel(runID string) bool {
	e.activeMu.Lock()
	cancel, ok := e.active[runID]
	e.activeMu.Unlock()
	if ok {
		e.logger.Info("cancelling run", "run_id", runID)
		cancel()
	}
	return ok
}

// CancelAll stops every active and queued run and returns how many were cancelled.
func (e *Executor) CancelAll() int {
	e.activeMu.Lock()
	cancels := make([]context.CancelFunc, 0, len(e.active))
	for _, c := range e.active {
		cancels = append(cancels, c)
	}
	e.activeMu.Unlock()

	for _, c := range cancels {
		c()
	}
	return len(cancels)
}

// ActiveRuns returns the IDs of runs in progress or queued, sorted.
func (e *Executor) ActiveRuns() []string {
	e.activeMu.Lock()
	defer e.activeMu.Unlock()
	ids := make([]string, 0, len(e.active))
	for id := range e.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Package remote lets other machines drive a deskpilot agent over MQTT.
//
// The controller listens on deskpilot/{agent}/control/execute for
// sequences and on deskpilot/{agent}/control/cancel for cancellations.
// Accepted sequences run on the agent's executor, which reports progress
// on the usual run event topics.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/deskpilot/internal/automation"
	"github.com/nerrad567/deskpilot/internal/infrastructure/mqtt"
)

// SourceMQTT is the Run.Source recorded for remotely requested runs.
const SourceMQTT = "mqtt"

var (
	// ErrAlreadyStarted is returned by Start on a running controller.
	ErrAlreadyStarted = errors.New("remote: controller already started")

	// ErrEmptySequence rejects execute requests without actions.
	ErrEmptySequence = errors.New("remote: sequence has no actions")
)

// Transport is the part of the MQTT client the controller uses.
type Transport interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
	Publish(topic string, payload []byte, qos byte, retained bool) error
}

// Runner registers, executes and cancels sequences. *automation.Executor
// satisfies it.
type Runner interface {
	Start(ctx context.Context, actions []automation.Action, opts automation.RunOptions) (automation.RunFunc, string, error)
	Cancel(runID string) bool
	CancelAll() int
}

// ExecuteRequest is the payload of a control/execute message.
type ExecuteRequest struct {
	RunID         string                  `json:"run_id,omitempty"`
	Name          string                  `json:"name,omitempty"`
	StopOnFailure *bool                   `json:"stop_on_failure,omitempty"`
	Actions       []automation.Definition `json:"actions"`
}

// CancelRequest is the payload of a control/cancel message. All cancels
// every active run and ignores RunID.
type CancelRequest struct {
	RunID string `json:"run_id,omitempty"`
	All   bool   `json:"all,omitempty"`
}

// Rejection is published on the run's "rejected" topic when an execute
// request cannot be turned into a sequence or its run ID is in use.
type Rejection struct {
	RunID     string    `json:"run_id"`
	Error     string    `json:"error"`
	Timestamp time.Time `json:"timestamp"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the controller's logger.
func WithLogger(logger automation.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithStopOnFailure sets the policy for requests that omit stop_on_failure.
func WithStopOnFailure(stop bool) Option {
	return func(c *Controller) { c.stopOnFailure = stop }
}

// WithDefaults sets the tuning values applied to omitted action fields.
func WithDefaults(df automation.Defaults) Option {
	return func(c *Controller) { c.defaults = df }
}

// Controller bridges MQTT control topics to a Runner.
type Controller struct {
	transport     Transport
	runner        Runner
	agentID       string
	logger        automation.Logger
	stopOnFailure bool
	defaults      automation.Defaults

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewController creates a controller for agentID.
func NewController(transport Transport, runner Runner, agentID string, opts ...Option) *Controller {
	c := &Controller{
		transport:     transport,
		runner:        runner,
		agentID:       agentID,
		logger:        nopLogger{},
		stopOnFailure: true,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start subscribes to the agent's control topics. Runs started by the
// controller are cancelled when ctx ends or Stop is called.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return ErrAlreadyStarted
	}

	topics := mqtt.Topics{}
	if err := c.transport.Subscribe(topics.ControlExecute(c.agentID), 1, c.handleExecute); err != nil {
		return fmt.Errorf("subscribing to execute requests: %w", err)
	}
	if err := c.transport.Subscribe(topics.ControlCancel(c.agentID), 1, c.handleCancel); err != nil {
		_ = c.transport.Unsubscribe(topics.ControlExecute(c.agentID)) //nolint:errcheck // best-effort rollback
		return fmt.Errorf("subscribing to cancel requests: %w", err)
	}

	c.ctx, c.cancel = context.WithCancel(ctx)
	c.logger.Info("remote control listening", "agent_id", c.agentID)
	return nil
}

// Stop unsubscribes, cancels runs the controller started and waits for
// them to finish.
func (c *Controller) Stop() {
	c.mu.Lock()
	cancel := c.cancel
	c.cancel = nil
	c.mu.Unlock()
	if cancel == nil {
		return
	}

	topics := mqtt.Topics{}
	for _, topic := range []string{topics.ControlExecute(c.agentID), topics.ControlCancel(c.agentID)} {
		if err := c.transport.Unsubscribe(topic); err != nil {
			c.logger.Debug("unsubscribe failed", "topic", topic, "error", err)
		}
	}

	cancel()
	c.wg.Wait()
}

// Wait blocks until every run started by the controller has returned.
func (c *Controller) Wait() {
	c.wg.Wait()
}

func (c *Controller) runContext() (context.Context, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return nil, false
	}
	return c.ctx, true
}

func (c *Controller) handleExecute(_ string, payload []byte) error {
	var req ExecuteRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		c.reject(automation.GenerateID(), fmt.Errorf("decoding request: %w", err))
		return fmt.Errorf("decoding execute request: %w", err)
	}
	if req.RunID == "" {
		req.RunID = automation.GenerateID()
	}

	if len(req.Actions) == 0 {
		c.reject(req.RunID, ErrEmptySequence)
		return fmt.Errorf("execute request %s: %w", req.RunID, ErrEmptySequence)
	}

	actions, err := c.defaults.BuildAll(req.Actions)
	if err != nil {
		c.reject(req.RunID, err)
		return fmt.Errorf("execute request %s: %w", req.RunID, err)
	}

	ctx, ok := c.runContext()
	if !ok {
		return nil
	}

	opts := automation.RunOptions{
		StopOnFailure: c.stopOnFailure,
		Source:        SourceMQTT,
		RunID:         req.RunID,
	}
	if req.StopOnFailure != nil {
		opts.StopOnFailure = *req.StopOnFailure
	}

	start, runID, err := c.runner.Start(ctx, actions, opts)
	if err != nil {
		c.reject(req.RunID, err)
		return fmt.Errorf("execute request %s: %w", req.RunID, err)
	}

	c.logger.Info("remote sequence accepted",
		"run_id", runID,
		"name", req.Name,
		"actions", len(actions),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		run, _, err := start()
		if err != nil {
			c.logger.Warn("remote sequence ended with error", "run_id", runID, "error", err)
			return
		}
		if run != nil {
			c.logger.Info("remote sequence finished", "run_id", run.ID, "status", run.Status)
		}
	}()
	return nil
}

func (c *Controller) handleCancel(_ string, payload []byte) error {
	var req CancelRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		return fmt.Errorf("decoding cancel request: %w", err)
	}

	if req.All {
		n := c.runner.CancelAll()
		c.logger.Info("remote cancel all", "cancelled", n)
		return nil
	}
	if req.RunID == "" {
		return errors.New("cancel request needs run_id or all")
	}
	if !c.runner.Cancel(req.RunID) {
		c.logger.Warn("remote cancel for unknown run", "run_id", req.RunID)
	}
	return nil
}

func (c *Controller) reject(runID string, cause error) {
	data, err := json.Marshal(Rejection{RunID: runID, Error: cause.Error(), Timestamp: time.Now().UTC()})
	if err != nil {
		return
	}
	topic := mqtt.Topics{}.RunEvent(c.agentID, runID, mqtt.EventRejected)
	if err := c.transport.Publish(topic, data, 1, false); err != nil {
		c.logger.Warn("publishing rejection failed", "run_id", runID, "error", err)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

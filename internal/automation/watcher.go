package automation

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

// DefaultWatchInterval is used when WatcherConfig.Interval is zero.
const DefaultWatchInterval = 100 * time.Millisecond

// WatchCondition is evaluated on every watcher tick. ok fires the trigger.
type WatchCondition func(ctx context.Context) (value any, ok bool, err error)

// Trigger describes one firing of a watcher.
type Trigger struct {
	Watcher string    `json:"watcher"`
	Count   int       `json:"count"`
	Value   any       `json:"value,omitempty"`
	At      time.Time `json:"at"`
}

// WatcherConfig controls how often a watcher checks and fires.
type WatcherConfig struct {
	// Interval between checks.
	Interval time.Duration

	// Cooldown is the minimum time between two triggers.
	Cooldown time.Duration

	// Once stops the watcher after its first trigger.
	Once bool
}

// WatcherStatus is a point-in-time view of a watcher.
type WatcherStatus struct {
	Name        string     `json:"name"`
	Running     bool       `json:"running"`
	Triggers    int        `json:"triggers"`
	LastTrigger *time.Time `json:"last_trigger,omitempty"`
}

// Watcher checks a condition in the background and calls a handler each
// time it holds, subject to cooldown and trigger-once. The condition is not
// evaluated during a cooldown. Unlike Poll it has no deadline; it runs until
// stopped or its context ends.
type Watcher struct {
	name      string
	cfg       WatcherConfig
	cond      WatchCondition
	onTrigger func(Trigger)
	logger    Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	count   int
	last    time.Time
}

// NewWatcher creates a stopped watcher.
func NewWatcher(name string, cond WatchCondition, cfg WatcherConfig, onTrigger func(Trigger)) *Watcher {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultWatchInterval
	}
	return &Watcher{
		name:      name,
		cfg:       cfg,
		cond:      cond,
		onTrigger: onTrigger,
		logger:    noopLogger{},
	}
}

// NewPixelWatcher fires on every check where the pixel at is within
// tolerance of want, subject to the cooldown.
// The trigger value is the observed RGB.
func NewPixelWatcher(v *VisionController, name string, at Point, want RGB, tolerance int, cfg WatcherConfig, onTrigger func(Trigger)) *Watcher {
	return NewWatcher(name, func(context.Context) (any, bool, error) {
		c, err := v.GetPixelColor(at.X, at.Y)
		if err != nil {
			return nil, false, err
		}
		return c, c.Within(want, tolerance), nil
	}, cfg, onTrigger)
}

// ColorChange is the trigger value of a pixel change watcher.
type ColorChange struct {
	From       RGB `json:"from"`
	To         RGB `json:"to"`
	Difference int `json:"difference"`
}

// NewPixelChangeWatcher fires when the pixel at moves at least minChange
// away from its baseline colour. The baseline is the first sample and moves
// to the new colour on every trigger, so a gradual drift fires once per
// minChange travelled.
func NewPixelChangeWatcher(v *VisionController, name string, at Point, minChange int, cfg WatcherConfig, onTrigger func(Trigger)) *Watcher {
	var baseline *RGB
	return NewWatcher(name, func(context.Context) (any, bool, error) {
		c, err := v.GetPixelColor(at.X, at.Y)
		if err != nil {
			return nil, false, err
		}
		if baseline == nil {
			baseline = &c
			return nil, false, nil
		}
		diff := c.Distance(*baseline)
		if diff < minChange {
			return nil, false, nil
		}
		change := ColorChange{From: *baseline, To: c, Difference: diff}
		baseline = &c
		return change, true, nil
	}, cfg, onTrigger)
}

// WatchEvent is the visibility change an image watcher reports.
type WatchEvent string

// Image watcher events.
const (
	WatchAppeared WatchEvent = "appeared"
	WatchLost     WatchEvent = "lost"
	WatchMoved    WatchEvent = "moved"
)

// DefaultMovementThreshold is the distance in pixels a match centre must
// travel between two checks before WatchMoved fires.
const DefaultMovementThreshold = 10

// ImageWatch describes what an image watcher searches for and reports.
type ImageWatch struct {
	Template  string
	Threshold float64
	Region    *Region

	// Event defaults to WatchAppeared.
	Event WatchEvent

	// MovementThreshold applies to WatchMoved. Zero means DefaultMovementThreshold.
	MovementThreshold int
}

// ImageChange is the trigger value of an image watcher. Match is nil for
// WatchLost; Previous is set for WatchLost and WatchMoved.
type ImageChange struct {
	Event    WatchEvent `json:"event"`
	Match    *Match     `json:"match,omitempty"`
	Previous *Match     `json:"previous,omitempty"`
	Distance float64    `json:"distance,omitempty"`
}

// NewImageWatcher reports one visibility change of a template:
//
//   - WatchAppeared fires when the template becomes visible and re-arms once
//     it disappears.
//   - WatchLost fires when a visible template disappears.
//   - WatchMoved fires when the match centre moved at least
//     MovementThreshold pixels since the previous check.
func NewImageWatcher(v *VisionController, name string, iw ImageWatch, cfg WatcherConfig, onTrigger func(Trigger)) *Watcher {
	if iw.Event == "" {
		iw.Event = WatchAppeared
	}
	if iw.MovementThreshold <= 0 {
		iw.MovementThreshold = DefaultMovementThreshold
	}

	var last *Match
	return NewWatcher(name, func(ctx context.Context) (any, bool, error) {
		m, ok, err := v.FindImage(ctx, iw.Template, iw.Threshold, iw.Region)
		if err != nil {
			return nil, false, err
		}
		prev := last
		last = nil
		if ok {
			last = &m
		}

		switch iw.Event {
		case WatchLost:
			if !ok && prev != nil {
				return ImageChange{Event: WatchLost, Previous: prev}, true, nil
			}
		case WatchMoved:
			if ok && prev != nil {
				d := math.Hypot(float64(m.Center.X-prev.Center.X), float64(m.Center.Y-prev.Center.Y))
				if d >= float64(iw.MovementThreshold) {
					return ImageChange{Event: WatchMoved, Match: &m, Previous: prev, Distance: d}, true, nil
				}
			}
		default:
			if ok && prev == nil {
				return ImageChange{Event: WatchAppeared, Match: &m}, true, nil
			}
		}
		return nil, false, nil
	}, cfg, onTrigger)
}

// ParseWatchEvent validates an image watcher event name. Empty means WatchAppeared.
func ParseWatchEvent(s string) (WatchEvent, error) {
	switch e := WatchEvent(strings.ToLower(strings.TrimSpace(s))); e {
	case "":
		return WatchAppeared, nil
	case WatchAppeared, WatchLost, WatchMoved:
		return e, nil
	default:
		return "", fmt.Errorf("watch event %q must be appeared, lost or moved", s)
	}
}

// Name returns the watcher's name.
func (w *Watcher) Name() string { return w.name }

// SetLogger sets the watcher's logger.
func (w *Watcher) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	w.logger = logger
}

// Start launches the watch loop. It returns ErrWatcherRunning if the
// watcher is already running.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return fmt.Errorf("%w: %s", ErrWatcherRunning, w.name)
	}

	ctx, cancel := context.WithCancel(ctx)
	w.running = true
	w.cancel = cancel
	w.done = make(chan struct{})

	go w.loop(ctx, w.done)

	w.logger.Info("watcher started", "watcher", w.name, "interval", w.cfg.Interval)
	return nil
}

// Stop ends the watch loop and waits for it to exit. Stopping a stopped
// watcher is a no-op.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Done is closed when the current watch loop exits. It is nil before Start.
func (w *Watcher) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Status returns the watcher's current state.
func (w *Watcher) Status() WatcherStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := WatcherStatus{Name: w.name, Running: w.running, Triggers: w.count}
	if !w.last.IsZero() {
		last := w.last
		s.LastTrigger = &last
	}
	return s
}

func (w *Watcher) loop(ctx context.Context, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		cancel := w.cancel
		w.running = false
		w.cancel = nil
		w.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		close(done)
		w.logger.Info("watcher stopped", "watcher", w.name)
	}()

	ticker := time.NewTicker(w.cfg.Interval)
	defer ticker.Stop()

	for {
		if stop := w.check(ctx); stop {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// check evaluates the condition once and reports whether the loop should end.
func (w *Watcher) check(ctx context.Context) bool {
	w.mu.Lock()
	cooling := !w.last.IsZero() && time.Since(w.last) < w.cfg.Cooldown
	w.mu.Unlock()
	if cooling {
		return false
	}

	value, ok, err := w.cond(ctx)
	if err != nil {
		if errors.Is(err, ErrPort) || errors.Is(err, ErrCancelled) {
			w.logger.Debug("watcher check failed", "watcher", w.name, "error", err)
			return false
		}
		w.logger.Error("watcher condition error, stopping", "watcher", w.name, "error", err)
		return true
	}
	if !ok {
		return false
	}

	now := time.Now()
	w.mu.Lock()
	w.count++
	w.last = now
	t := Trigger{Watcher: w.name, Count: w.count, Value: value, At: now.UTC()}
	w.mu.Unlock()

	w.logger.Debug("watcher triggered", "watcher", w.name, "count", t.Count)
	w.fire(t)
	return w.cfg.Once
}

func (w *Watcher) fire(t Trigger) {
	if w.onTrigger == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("watcher handler panicked", "watcher", w.name, "panic", r)
		}
	}()
	w.onTrigger(t)
}

// WatcherSet manages a group of named watchers.
type WatcherSet struct {
	mu       sync.Mutex
	watchers map[string]*Watcher
}

// NewWatcherSet creates an empty set.
func NewWatcherSet() *WatcherSet {
	return &WatcherSet{watchers: make(map[string]*Watcher)}
}

// Add registers w, replacing (and stopping) any watcher with the same name.
func (s *WatcherSet) Add(w *Watcher) {
	s.mu.Lock()
	old := s.watchers[w.name]
	s.watchers[w.name] = w
	s.mu.Unlock()

	if old != nil {
		old.Stop()
	}
}

// Remove stops and removes the named watcher. It reports whether it existed.
func (s *WatcherSet) Remove(name string) bool {
	s.mu.Lock()
	w, ok := s.watchers[name]
	delete(s.watchers, name)
	s.mu.Unlock()

	if ok {
		w.Stop()
	}
	return ok
}

// Get returns the named watcher.
func (s *WatcherSet) Get(name string) (*Watcher, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.watchers[name]
	return w, ok
}

// StartAll starts every stopped watcher.
func (s *WatcherSet) StartAll(ctx context.Context) error {
	var errs []error
	for _, w := range s.list() {
		if err := w.Start(ctx); err != nil && !errors.Is(err, ErrWatcherRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StopAll stops every watcher and waits for them to exit.
func (s *WatcherSet) StopAll() {
	for _, w := range s.list() {
		w.Stop()
	}
}

// Status returns every watcher's status, sorted by name.
func (s *WatcherSet) Status() []WatcherStatus {
	watchers := s.list()
	out := make([]WatcherStatus, 0, len(watchers))
	for _, w := range watchers {
		out = append(out, w.Status())
	}
	return out
}

func (s *WatcherSet) list() []*Watcher {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Watcher, 0, len(s.watchers))
	for _, w := range s.watchers {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

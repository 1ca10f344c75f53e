package main

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/nerrad567/deskpilot/internal/api"
	"github.com/nerrad567/deskpilot/internal/automation"
	"github.com/nerrad567/deskpilot/internal/infrastructure/config"
	"github.com/nerrad567/deskpilot/internal/infrastructure/mqtt"
	"github.com/nerrad567/deskpilot/internal/script"
)

// watcherGroup is the running set of configured watchers plus the sequence
// runs they started.
type watcherGroup struct {
	set  *automation.WatcherSet
	runs sync.WaitGroup
}

// stop stops every watcher, then waits for triggered runs to finish.
func (g *watcherGroup) stop() {
	g.set.StopAll()
	g.runs.Wait()
}

// startWatchers builds and starts one watcher per config entry. Sequence
// files and templates are loaded up front so a bad file fails startup.
func (s *stack) startWatchers(ctx context.Context) (*watcherGroup, error) {
	g := &watcherGroup{set: automation.NewWatcherSet()}
	loader := script.Loader{Defaults: s.defaults()}

	for _, wc := range s.cfg.Watchers {
		var seq *script.Sequence
		if wc.Sequence != "" {
			loaded, err := loader.Load(wc.Sequence)
			if err != nil {
				return nil, fmt.Errorf("watcher %s: %w", wc.Name, err)
			}
			seq = loaded
		}
		var refs []string
		if seq != nil {
			refs = append(refs, seq.Templates...)
		}
		if wc.Kind == config.WatcherImage {
			refs = append(refs, wc.Template)
		}
		if err := s.vision.Preload(refs...); err != nil {
			return nil, fmt.Errorf("watcher %s: preloading templates: %w", wc.Name, err)
		}

		w, err := s.newWatcher(wc, s.onTrigger(ctx, g, wc.Name, seq))
		if err != nil {
			return nil, fmt.Errorf("watcher %s: %w", wc.Name, err)
		}
		w.SetLogger(s.log.Component("watcher"))
		g.set.Add(w)
	}

	if err := g.set.StartAll(ctx); err != nil {
		g.stop()
		return nil, fmt.Errorf("starting watchers: %w", err)
	}
	if n := len(s.cfg.Watchers); n > 0 {
		s.log.Info("watchers started", "count", n)
	}
	return g, nil
}

// newWatcher builds a watcher from its config. Zero tolerance and threshold
// fall back to the automation defaults.
func (s *stack) newWatcher(wc config.WatcherConfig, onTrigger func(automation.Trigger)) (*automation.Watcher, error) {
	wcfg := automation.WatcherConfig{
		Interval: wc.Interval,
		Cooldown: wc.Cooldown,
		Once:     wc.Once,
	}
	at := automation.Point{X: wc.X, Y: wc.Y}

	switch wc.Kind {
	case config.WatcherPixel:
		want, err := automation.ParseColor(wc.Color)
		if err != nil {
			return nil, err
		}
		tolerance := wc.Tolerance
		if tolerance == 0 {
			tolerance = s.cfg.Automation.PixelTolerance
		}
		return automation.NewPixelWatcher(s.vision, wc.Name, at, want, tolerance, wcfg, onTrigger), nil

	case config.WatcherPixelChange:
		return automation.NewPixelChangeWatcher(s.vision, wc.Name, at, wc.MinChange, wcfg, onTrigger), nil

	case config.WatcherImage:
		threshold := wc.Threshold
		if threshold == 0 {
			threshold = s.cfg.Automation.Threshold
		}
		event, err := automation.ParseWatchEvent(wc.Event)
		if err != nil {
			return nil, err
		}
		return automation.NewImageWatcher(s.vision, wc.Name, automation.ImageWatch{
			Template:          wc.Template,
			Threshold:         threshold,
			Event:             event,
			MovementThreshold: wc.MovementThreshold,
		}, wcfg, onTrigger), nil

	default:
		return nil, fmt.Errorf("unknown watcher kind %q", wc.Kind)
	}
}

// onTrigger broadcasts a trigger on the watchers channel and MQTT, and runs
// seq when one is configured. A trigger that arrives while the watcher's
// previous sequence is still queued or running does not start another.
func (s *stack) onTrigger(ctx context.Context, g *watcherGroup, name string, seq *script.Sequence) func(automation.Trigger) {
	topic := mqtt.Topics{}.WatcherEvent(s.cfg.Agent.ID, name)
	var busy atomic.Bool

	return func(t automation.Trigger) {
		if s.hub != nil {
			s.hub.Broadcast(api.ChannelWatchers, t)
		}
		if s.mqtt != nil {
			if err := s.mqtt.PublishJSON(topic, t, false); err != nil {
				s.log.Warn("failed to publish watcher trigger", "watcher", name, "error", err)
			}
		}
		if seq == nil {
			return
		}
		if !busy.CompareAndSwap(false, true) {
			s.log.Debug("watcher sequence still running, trigger skipped", "watcher", name, "count", t.Count)
			return
		}

		g.runs.Add(1)
		go func() {
			defer g.runs.Done()
			defer busy.Store(false)
			_, _, err := s.executor.ExecuteRun(ctx, seq.Actions, automation.RunOptions{
				StopOnFailure: seq.StopOnFailureOr(s.cfg.Automation.StopOnFailure),
				Source:        sourceWatcher,
			})
			if err != nil {
				s.log.Warn("watcher sequence ended with error", "watcher", name, "error", err)
			}
		}()
	}
}

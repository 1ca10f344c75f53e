// Package automation provides the action model and sequence executor for deskpilot.
//
// An Action is an immutable, validated description of one desktop step:
// a click, a key combination, a wait, a template search or a pixel query.
// The Executor runs an ordered list of actions against an InputPort and a
// VisionPort and produces one ActionResult per attempted action.
//
// Architecture:
//
//	┌────────────────────────────────────────────────────────────┐
//	│                  Executor (executor.go)                     │
//	│  Runs one sequence at a time, appends to History            │
//	│  ┌──────────────┐    ┌────────────────────┐                │
//	│  │  InputPort   │    │  VisionController   │               │
//	│  │  (ports.go)  │    │  (vision.go)        │               │
//	│  └──────────────┘    └─────────┬──────────┘                │
//	│                                ▼                            │
//	│                      Poll (poll.go), VisionPort             │
//	│                                                             │
//	│  Per result: History, log, MQTT, WebSocket hub, metrics     │
//	│  Per run:    RunRecorder (repository.go)                    │
//	└────────────────────────────────────────────────────────────┘
//
// # Key Types
//
//   - Action: immutable step built by Build or a typed constructor
//   - Definition: serialisable form used by sequence files and the API
//   - ActionResult: outcome of one action, with an ErrorClass on failure
//   - History: ordered log of every result, optionally bounded
//   - Executor: sequential runner with stop-on-failure and cancellation
//   - Watcher: background condition check with cooldown and trigger-once
//   - SQLiteRunRepository: run log persistence
//
// # Failure Handling
//
// Port failures, poll timeouts and missed template searches are expected
// outcomes: the executor records a failed result and moves on (or stops,
// with stop-on-failure). Anything else aborts Execute with an error
// wrapping ErrUnexpected. Classify maps any error onto its ErrorClass.
//
// # Thread Safety
//
// Executor, History, VisionController, Watcher and WatcherSet are safe for
// concurrent use. Action and ActionResult are values and never mutated.
//
// # Usage
//
//	vision := automation.NewVisionController(screen)
//	exec := automation.NewExecutor(input, vision, automation.NewHistory(),
//	    automation.WithLogger(log),
//	    automation.WithRecorder(automation.NewSQLiteRunRepository(db.DB)),
//	)
//
//	actions, err := automation.LoginSequence(user, pass, submit, "admin", "secret")
//	if err != nil {
//	    return err
//	}
//	results, err := exec.Execute(ctx, actions, true)
package automation

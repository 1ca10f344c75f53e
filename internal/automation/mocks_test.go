package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"sync"
	"time"
)

// ─── Mock Ports ─────────────────────────────────────────────────────────────

// mockInput records every call as "method args" and can fail or panic on
// selected methods.
type mockInput struct {
	mu      sync.Mutex
	calls   []string
	failOn  map[string]error
	failNth int // 1-based call number that fails with errPortFailure
	panicOn string
	onCall  func(method string)
}

func newMockInput() *mockInput {
	return &mockInput{failOn: make(map[string]error)}
}

func (m *mockInput) record(method string, args ...any) error {
	m.mu.Lock()
	m.calls = append(m.calls, fmt.Sprintf("%s %v", method, args))
	err := m.failOn[method]
	if m.failNth == len(m.calls) {
		err = errPortFailure
	}
	hook := m.onCall
	m.mu.Unlock()

	if hook != nil {
		hook(method)
	}
	if m.panicOn == method {
		panic("injected panic in " + method)
	}
	return err
}

func (m *mockInput) getCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func (m *mockInput) fail(method string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failOn[method] = err
}

func (m *mockInput) MoveTo(x, y int) error { return m.record("MoveTo", x, y) }
func (m *mockInput) Click(x, y int, b Button) error {
	return m.record("Click", x, y, b)
}
func (m *mockInput) DoubleClick(x, y int) error { return m.record("DoubleClick", x, y) }
func (m *mockInput) Drag(x1, y1, x2, y2 int, b Button, d time.Duration) error {
	return m.record("Drag", x1, y1, x2, y2, b, d)
}
func (m *mockInput) Scroll(amount int, at *Point) error { return m.record("Scroll", amount, at) }
func (m *mockInput) MouseDown(b Button, at *Point) error {
	return m.record("MouseDown", b, at)
}
func (m *mockInput) MouseUp(b Button, at *Point) error { return m.record("MouseUp", b, at) }
func (m *mockInput) TypeText(text string, interval time.Duration) error {
	return m.record("TypeText", text, interval)
}
func (m *mockInput) PressKey(name string, count int) error {
	return m.record("PressKey", name, count)
}
func (m *mockInput) KeyDown(name string) error { return m.record("KeyDown", name) }
func (m *mockInput) KeyUp(name string) error   { return m.record("KeyUp", name) }
func (m *mockInput) KeyCombination(names []string) error {
	return m.record("KeyCombination", names)
}
func (m *mockInput) Navigate(d Direction, steps int) error {
	return m.record("Navigate", d, steps)
}

// mockVision serves a fixed template, matches after a number of captures,
// and returns pixel colours from a script (the last colour repeats).
type mockVision struct {
	mu sync.Mutex

	captures   int
	loads      int
	matchAfter int // capture number that first matches; 0 never matches
	match      Match
	script     []*Match // per-capture results, nil is a miss; overrides matchAfter
	captureErr error
	loadErr    error
	loadNil    bool // LoadTemplate returns no image and no error
	regions    []*Region

	colors   []RGB
	samples  int
	pixelErr error
}

func newMockVision() *mockVision {
	return &mockVision{}
}

func (m *mockVision) CaptureRegion(region *Region) (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.captures++
	m.regions = append(m.regions, region)
	if m.captureErr != nil {
		return nil, m.captureErr
	}
	return image.NewRGBA(image.Rect(0, 0, 100, 100)), nil
}

func (m *mockVision) LoadTemplate(ref string) (image.Image, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.loads++
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	if m.loadNil {
		return nil, nil
	}
	return image.NewRGBA(image.Rect(0, 0, 10, 10)), nil
}

func (m *mockVision) MatchTemplate(_, _ image.Image, threshold float64) (Match, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.script) > 0 {
		got := m.script[min(m.captures, len(m.script))-1]
		if got == nil {
			return Match{}, false, nil
		}
		return *got, true, nil
	}
	if m.matchAfter == 0 || m.captures < m.matchAfter {
		return Match{}, false, nil
	}
	if m.match.Score < threshold {
		return Match{}, false, nil
	}
	return m.match, true, nil
}

func (m *mockVision) PixelColor(_, _ int) (RGB, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.samples++
	if m.pixelErr != nil {
		return RGB{}, m.pixelErr
	}
	if len(m.colors) == 0 {
		return RGB{}, nil
	}
	i := min(m.samples-1, len(m.colors)-1)
	return m.colors[i], nil
}

func (m *mockVision) getSamples() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.samples
}

func (m *mockVision) getCaptures() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.captures
}

// ─── Mock Side Channels ─────────────────────────────────────────────────────

// mockMQTT captures all published messages.
type mockMQTT struct {
	mu       sync.Mutex
	messages []mqttMessage
	err      error
}

type mqttMessage struct {
	Topic    string
	Payload  map[string]any
	QoS      byte
	Retained bool
}

func (m *mockMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	var parsed map[string]any
	_ = json.Unmarshal(payload, &parsed)
	m.messages = append(m.messages, mqttMessage{Topic: topic, Payload: parsed, QoS: qos, Retained: retained})
	return nil
}

func (m *mockMQTT) getMessages() []mqttMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mqttMessage(nil), m.messages...)
}

// mockWSHub captures all broadcasts.
type mockWSHub struct {
	mu         sync.Mutex
	broadcasts []wsBroadcast
}

type wsBroadcast struct {
	Channel string
	Payload any
}

func (m *mockWSHub) Broadcast(channel string, payload any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.broadcasts = append(m.broadcasts, wsBroadcast{Channel: channel, Payload: payload})
}

func (m *mockWSHub) getBroadcasts() []wsBroadcast {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]wsBroadcast(nil), m.broadcasts...)
}

// mockMetrics counts metric points by error class and run status.
type mockMetrics struct {
	mu       sync.Mutex
	points   int
	classes  []string
	statuses []string
}

func (m *mockMetrics) WriteActionMetric(_, _, errorClass string, _ bool, _ time.Duration, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.points++
	m.classes = append(m.classes, errorClass)
}

func (m *mockMetrics) WriteRunMetric(_, status, _ string, _, _ int, _ time.Duration, _ time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, status)
}

// mockRecorder keeps every saved run.
type mockRecorder struct {
	mu   sync.Mutex
	runs []*Run
	err  error
	ctx  []error
}

func (m *mockRecorder) SaveRun(ctx context.Context, run *Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	m.ctx = append(m.ctx, ctx.Err())
	return m.err
}

// RunExists reports whether a run with id was saved.
func (m *mockRecorder) RunExists(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.runs {
		if r.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockRecorder) getRuns() []*Run {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Run(nil), m.runs...)
}

// errPortFailure is a typical port error.
var errPortFailure = PortError("click", errors.New("coordinates off screen"))

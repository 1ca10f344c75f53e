package automation

import (
	"fmt"
	"image"
	"time"
)

// Kind identifies the variant of an Action. The set is closed: the executor
// switches over it exhaustively.
type Kind string

// Action kinds.
const (
	KindClick              Kind = "click"
	KindDoubleClick        Kind = "double_click"
	KindRightClick         Kind = "right_click"
	KindDrag               Kind = "drag"
	KindScroll             Kind = "scroll"
	KindMove               Kind = "move"
	KindMouseDown          Kind = "mouse_down"
	KindMouseUp            Kind = "mouse_up"
	KindHoldMouse          Kind = "hold_mouse_button"
	KindTypeText           Kind = "type_text"
	KindPressKey           Kind = "press_key"
	KindKeyDown            Kind = "key_down"
	KindKeyUp              Kind = "key_up"
	KindHoldKey            Kind = "hold_key"
	KindKeyCombination     Kind = "key_combination"
	KindNavigate           Kind = "navigate"
	KindWait               Kind = "wait"
	KindFindImage          Kind = "find_image"
	KindWaitForImage       Kind = "wait_for_image"
	KindClickImage         Kind = "click_image"
	KindFindAllImages      Kind = "find_all_images"
	KindGetPixelColor      Kind = "get_pixel_color"
	KindWaitForPixelColor  Kind = "wait_for_pixel_color"
	KindWaitForPixelChange Kind = "wait_for_pixel_change"
)

// AllKinds returns every action kind in declaration order.
func AllKinds() []Kind {
	return []Kind{
		KindClick, KindDoubleClick, KindRightClick, KindDrag, KindScroll, KindMove,
		KindMouseDown, KindMouseUp, KindHoldMouse,
		KindTypeText, KindPressKey, KindKeyDown, KindKeyUp, KindHoldKey, KindKeyCombination, KindNavigate,
		KindWait,
		KindFindImage, KindWaitForImage, KindClickImage, KindFindAllImages,
		KindGetPixelColor, KindWaitForPixelColor, KindWaitForPixelChange,
	}
}

// Polls reports whether the kind runs through the poll loop and therefore
// accepts a per-step timeout and poll interval.
func (k Kind) Polls() bool {
	switch k {
	case KindWaitForImage, KindWaitForPixelColor, KindWaitForPixelChange:
		return true
	default:
		return false
	}
}

// UsesVision reports whether the kind is dispatched to the vision controller.
func (k Kind) UsesVision() bool {
	switch k {
	case KindFindImage, KindWaitForImage, KindClickImage, KindFindAllImages,
		KindGetPixelColor, KindWaitForPixelColor, KindWaitForPixelChange:
		return true
	default:
		return false
	}
}

// Button is a mouse button name.
type Button string

// Mouse buttons.
const (
	ButtonLeft   Button = "left"
	ButtonRight  Button = "right"
	ButtonMiddle Button = "middle"
)

// Direction is an arrow-key navigation direction.
type Direction string

// Navigation directions.
const (
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
)

// Point is a screen coordinate in pixels.
type Point struct {
	X int `json:"x" yaml:"x"`
	Y int `json:"y" yaml:"y"`
}

func (p Point) String() string { return fmt.Sprintf("(%d,%d)", p.X, p.Y) }

// Add returns p translated by q.
func (p Point) Add(q Point) Point { return Point{X: p.X + q.X, Y: p.Y + q.Y} }

// Region is a rectangular screen area.
type Region struct {
	X      int `json:"x" yaml:"x"`
	Y      int `json:"y" yaml:"y"`
	Width  int `json:"width" yaml:"width"`
	Height int `json:"height" yaml:"height"`
}

// Origin returns the top-left corner of the region.
func (r Region) Origin() Point { return Point{X: r.X, Y: r.Y} }

// Center returns the centre point of the region.
func (r Region) Center() Point { return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2} }

// Rect converts the region to an image.Rectangle.
func (r Region) Rect() image.Rectangle { return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height) }

// RGB is a pixel colour.
type RGB struct {
	R uint8 `json:"r" yaml:"r"`
	G uint8 `json:"g" yaml:"g"`
	B uint8 `json:"b" yaml:"b"`
}

// Hex formats the colour as "#rrggbb".
func (c RGB) Hex() string { return fmt.Sprintf("#%02x%02x%02x", c.R, c.G, c.B) }

// Within reports whether every channel of c is within tolerance of o.
func (c RGB) Within(o RGB, tolerance int) bool {
	return absDiff(c.R, o.R) <= tolerance &&
		absDiff(c.G, o.G) <= tolerance &&
		absDiff(c.B, o.B) <= tolerance
}

// Distance is the sum of absolute channel differences between c and o.
func (c RGB) Distance(o RGB) int {
	return absDiff(c.R, o.R) + absDiff(c.G, o.G) + absDiff(c.B, o.B)
}

func absDiff(a, b uint8) int {
	if a > b {
		return int(a - b)
	}
	return int(b - a)
}

// Match is a template-matching hit. Coordinates are absolute screen
// coordinates once returned by the VisionController.
type Match struct {
	Score  float64 `json:"score"`
	Center Point   `json:"center"`
	Box    Region  `json:"box"`
}

// Offset returns the match translated by the origin of a capture region.
func (m Match) Offset(origin Point) Match {
	m.Center = m.Center.Add(origin)
	m.Box.X += origin.X
	m.Box.Y += origin.Y
	return m
}

// Params is the kind-specific payload of an Action. Only the fields that
// apply to an action's kind are meaningful; Build rejects the rest where a
// wrong value would change behaviour.
//
// Zero values select defaults: Button left, Count and Steps 1, Threshold
// DefaultThreshold, Timeout DefaultPollTimeout, PollInterval
// DefaultPollInterval, MinChange DefaultMinChange.
type Params struct {
	At           *Point
	To           *Point
	Button       Button
	Amount       int
	Text         string
	Interval     time.Duration
	Keys         []string
	Count        int
	Direction    Direction
	Steps        int
	Duration     time.Duration
	Template     string
	Threshold    float64
	Region       *Region
	Timeout      time.Duration
	PollInterval time.Duration
	Color        *RGB
	Tolerance    int
	MinChange    int
}

// clone returns a deep copy of p so an Action never shares memory with its caller.
func (p Params) clone() Params {
	c := p
	if p.At != nil {
		at := *p.At
		c.At = &at
	}
	if p.To != nil {
		to := *p.To
		c.To = &to
	}
	if p.Region != nil {
		r := *p.Region
		c.Region = &r
	}
	if p.Color != nil {
		col := *p.Color
		c.Color = &col
	}
	if p.Keys != nil {
		c.Keys = append([]string(nil), p.Keys...)
	}
	return c
}

// Action is an immutable description of one automation step.
//
// Actions are only produced by Build and the typed constructors, so every
// Action that reaches the executor has passed shape validation. The zero
// Action is invalid and is rejected by Execute.
type Action struct {
	kind        Kind
	params      Params
	description string
}

// Kind returns the action's variant.
func (a Action) Kind() Kind { return a.kind }

// Description returns the free-form label used in reports.
func (a Action) Description() string { return a.description }

// Params returns a copy of the action's parameters.
func (a Action) Params() Params { return a.params.clone() }

// Timeout returns the per-step timeout. It is zero for kinds that don't poll.
func (a Action) Timeout() time.Duration {
	if a.kind.Polls() {
		return a.params.Timeout
	}
	return 0
}

// IsZero reports whether a was not produced by Build.
func (a Action) IsZero() bool { return a.kind == "" }

// WithDescription returns a copy of a with a different description.
func (a Action) WithDescription(description string) Action {
	a.params = a.params.clone()
	a.description = description
	return a
}

func (a Action) String() string {
	if a.description != "" {
		return fmt.Sprintf("%s %q", a.kind, a.description)
	}
	return string(a.kind)
}

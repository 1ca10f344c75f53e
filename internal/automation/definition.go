package automation

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Definition is the serialisable form of an Action. Sequence files, the HTTP
// API and the run log all exchange actions in this shape; durations are
// whole milliseconds and colours are "#rrggbb" strings.
type Definition struct {
	Kind        Kind   `json:"kind" yaml:"kind"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`

	At     *Point  `json:"at,omitempty" yaml:"at,omitempty"`
	To     *Point  `json:"to,omitempty" yaml:"to,omitempty"`
	Button Button  `json:"button,omitempty" yaml:"button,omitempty"`
	Amount int     `json:"amount,omitempty" yaml:"amount,omitempty"`
	Region *Region `json:"region,omitempty" yaml:"region,omitempty"`

	Text       string    `json:"text,omitempty" yaml:"text,omitempty"`
	IntervalMS int       `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	Key        string    `json:"key,omitempty" yaml:"key,omitempty"`
	Keys       []string  `json:"keys,omitempty" yaml:"keys,omitempty"`
	Count      int       `json:"count,omitempty" yaml:"count,omitempty"`
	Direction  Direction `json:"direction,omitempty" yaml:"direction,omitempty"`
	Steps      int       `json:"steps,omitempty" yaml:"steps,omitempty"`
	DurationMS int       `json:"duration_ms,omitempty" yaml:"duration_ms,omitempty"`

	Template       string  `json:"template,omitempty" yaml:"template,omitempty"`
	Threshold      float64 `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	TimeoutMS      int     `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
	PollIntervalMS int     `json:"poll_interval_ms,omitempty" yaml:"poll_interval_ms,omitempty"`
	Color          string  `json:"color,omitempty" yaml:"color,omitempty"`
	Tolerance      *int    `json:"tolerance,omitempty" yaml:"tolerance,omitempty"`
	MinChange      int     `json:"min_change,omitempty" yaml:"min_change,omitempty"`
}

// Build converts d into a validated Action.
//
// Key is shorthand for a one-element Keys. An omitted Tolerance means
// DefaultTolerance, while an explicit 0 demands an exact colour match.
func (d Definition) Build() (Action, error) {
	p := Params{
		At:           d.At,
		To:           d.To,
		Button:       Button(strings.ToLower(string(d.Button))),
		Amount:       d.Amount,
		Text:         d.Text,
		Interval:     ms(d.IntervalMS),
		Keys:         d.Keys,
		Count:        d.Count,
		Direction:    Direction(strings.ToLower(string(d.Direction))),
		Steps:        d.Steps,
		Duration:     ms(d.DurationMS),
		Template:     d.Template,
		Threshold:    d.Threshold,
		Region:       d.Region,
		Timeout:      ms(d.TimeoutMS),
		PollInterval: ms(d.PollIntervalMS),
		Tolerance:    DefaultTolerance,
		MinChange:    d.MinChange,
	}

	if d.Key != "" {
		if len(d.Keys) > 0 {
			return Action{}, invalid(d.Kind, "set key or keys, not both")
		}
		p.Keys = []string{d.Key}
	}

	if d.Tolerance != nil {
		p.Tolerance = *d.Tolerance
	}

	if d.Color != "" {
		c, err := ParseColor(d.Color)
		if err != nil {
			return Action{}, fmt.Errorf("%w: %s: %w", ErrConstruction, d.Kind, err)
		}
		p.Color = &c
	}

	return Build(Kind(strings.ToLower(string(d.Kind))), p, d.Description)
}

// Definition returns the serialisable form of a.
func (a Action) Definition() Definition {
	p := a.params.clone()
	d := Definition{
		Kind:           a.kind,
		Description:    a.description,
		At:             p.At,
		To:             p.To,
		Button:         p.Button,
		Amount:         p.Amount,
		Region:         p.Region,
		Text:           p.Text,
		IntervalMS:     int(p.Interval / time.Millisecond),
		Count:          p.Count,
		Direction:      p.Direction,
		Steps:          p.Steps,
		DurationMS:     int(p.Duration / time.Millisecond),
		Template:       p.Template,
		Threshold:      p.Threshold,
		TimeoutMS:      int(p.Timeout / time.Millisecond),
		PollIntervalMS: int(p.PollInterval / time.Millisecond),
		MinChange:      p.MinChange,
	}
	if len(p.Keys) == 1 {
		d.Key = p.Keys[0]
	} else {
		d.Keys = p.Keys
	}
	if p.Color != nil {
		d.Color = p.Color.Hex()
		tol := p.Tolerance
		d.Tolerance = &tol
	}
	return d
}

// MarshalJSON encodes the action as its Definition.
func (a Action) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.Definition())
}

// UnmarshalJSON decodes a Definition and validates it through Build.
func (a *Action) UnmarshalJSON(data []byte) error {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return err
	}
	built, err := d.Build()
	if err != nil {
		return err
	}
	*a = built
	return nil
}

// BuildAll converts definitions in order, reporting the index of the first
// invalid one. No Action is returned unless all of them are valid.
func BuildAll(defs []Definition) ([]Action, error) {
	actions := make([]Action, 0, len(defs))
	for i, d := range defs {
		a, err := d.Build()
		if err != nil {
			return nil, fmt.Errorf("action %d: %w", i, err)
		}
		actions = append(actions, a)
	}
	return actions, nil
}

// Defaults are deployment-wide values for omitted tuning fields. A zero
// field leaves the package default in place.
type Defaults struct {
	Threshold    float64
	PollTimeout  time.Duration
	PollInterval time.Duration
	Tolerance    int
}

// WithDefaults returns d with omitted threshold, poll timing and tolerance
// filled from df for the kinds that use them.
func (d Definition) WithDefaults(df Defaults) Definition {
	switch d.Kind {
	case KindFindImage, KindWaitForImage, KindClickImage, KindFindAllImages:
		if d.Threshold == 0 && df.Threshold > 0 {
			d.Threshold = df.Threshold
		}
	case KindWaitForPixelColor:
		if d.Tolerance == nil && df.Tolerance > 0 {
			t := df.Tolerance
			d.Tolerance = &t
		}
	}

	if d.Kind.Polls() {
		if d.TimeoutMS == 0 && df.PollTimeout > 0 {
			d.TimeoutMS = int(df.PollTimeout.Milliseconds())
		}
		if d.PollIntervalMS == 0 && df.PollInterval > 0 {
			d.PollIntervalMS = int(df.PollInterval.Milliseconds())
			if d.TimeoutMS > 0 && d.PollIntervalMS > d.TimeoutMS {
				d.PollIntervalMS = d.TimeoutMS
			}
		}
	}
	return d
}

// BuildAll is the package BuildAll with df applied to each definition.
func (df Defaults) BuildAll(defs []Definition) ([]Action, error) {
	filled := make([]Definition, len(defs))
	for i, d := range defs {
		filled[i] = d.WithDefaults(df)
	}
	return BuildAll(filled)
}

// ParseColor parses "#rrggbb" or "rrggbb".
func ParseColor(s string) (RGB, error) {
	h := strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(h) != 6 {
		return RGB{}, fmt.Errorf("colour %q must be #rrggbb", s)
	}
	v, err := strconv.ParseUint(h, 16, 32)
	if err != nil {
		return RGB{}, fmt.Errorf("colour %q: %w", s, err)
	}
	return RGB{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v)}, nil
}

func ms(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}

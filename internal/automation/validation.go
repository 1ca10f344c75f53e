package automation

import (
	"fmt"
	"strings"
	"time"
)

// Defaults applied by Build to zero-valued parameters.
const (
	DefaultThreshold    = 0.8
	DefaultPollTimeout  = 10 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
	DefaultTolerance    = 10
	DefaultMinChange    = 10
	DefaultHoldDuration = time.Second
	DefaultFindAllLimit = 100
)

// Validation limits.
const (
	maxDescriptionLen = 500
	maxTextLength     = 10000
	maxComboKeys      = 6
	maxRepeat         = 100
	maxFindAll        = 1000
	maxWait           = time.Hour
	maxPollTimeout    = time.Hour
	maxChannel        = 255
	maxColorDistance  = 3 * maxChannel
)

// Build validates params for kind and returns an immutable Action.
//
// Validation is shape-only: required fields present, counts and durations
// in range, enumerations known. Whether a coordinate is on screen or a key
// name exists is a port concern and surfaces at execution time as ErrPort.
//
// Every returned error wraps ErrConstruction.
func Build(kind Kind, params Params, description string) (Action, error) {
	if len(description) > maxDescriptionLen {
		return Action{}, fmt.Errorf("%w: description exceeds %d characters", ErrConstruction, maxDescriptionLen)
	}

	p := params.clone()
	if err := normalise(kind, &p); err != nil {
		return Action{}, err
	}

	return Action{kind: kind, params: p, description: description}, nil
}

// Must returns a or panics if err is non-nil. Intended for fixed sequences
// in tests and examples.
func Must(a Action, err error) Action {
	if err != nil {
		panic(err)
	}
	return a
}

// normalise checks p against kind and fills defaults in place.
func normalise(kind Kind, p *Params) error { //nolint:gocyclo // one case per kind
	if !kind.Polls() && (p.Timeout != 0 || p.PollInterval != 0) {
		return invalid(kind, "timeout and poll_interval only apply to wait_for_* actions")
	}

	switch kind {
	case KindClick, KindRightClick, KindDoubleClick:
		if err := requirePoint(kind, "at", p.At); err != nil {
			return err
		}
		return normaliseButton(kind, p)

	case KindMove, KindGetPixelColor:
		return requirePoint(kind, "at", p.At)

	case KindDrag:
		if err := requirePoint(kind, "at", p.At); err != nil {
			return err
		}
		if err := requirePoint(kind, "to", p.To); err != nil {
			return err
		}
		if p.Duration < 0 {
			return invalid(kind, "duration must not be negative")
		}
		return normaliseButton(kind, p)

	case KindScroll:
		if p.Amount == 0 {
			return invalid(kind, "amount must be non-zero")
		}
		return nil

	case KindMouseDown, KindMouseUp:
		return normaliseButton(kind, p)

	case KindHoldMouse:
		if err := normaliseHold(kind, p); err != nil {
			return err
		}
		return normaliseButton(kind, p)

	case KindTypeText:
		if p.Text == "" {
			return invalid(kind, "text is required")
		}
		if len(p.Text) > maxTextLength {
			return invalid(kind, fmt.Sprintf("text exceeds %d bytes", maxTextLength))
		}
		if p.Interval < 0 {
			return invalid(kind, "interval must not be negative")
		}
		return nil

	case KindPressKey:
		if err := requireKeys(kind, p.Keys, 1, 1); err != nil {
			return err
		}
		return normaliseRepeat(kind, "count", &p.Count)

	case KindKeyDown, KindKeyUp:
		return requireKeys(kind, p.Keys, 1, 1)

	case KindHoldKey:
		if err := requireKeys(kind, p.Keys, 1, 1); err != nil {
			return err
		}
		return normaliseHold(kind, p)

	case KindKeyCombination:
		return requireKeys(kind, p.Keys, 2, maxComboKeys)

	case KindNavigate:
		switch p.Direction {
		case DirectionUp, DirectionDown, DirectionLeft, DirectionRight:
		default:
			return invalid(kind, fmt.Sprintf("direction %q must be up, down, left or right", p.Direction))
		}
		return normaliseRepeat(kind, "steps", &p.Steps)

	case KindWait:
		if p.Duration < 0 {
			return invalid(kind, "duration must not be negative")
		}
		if p.Duration > maxWait {
			return invalid(kind, fmt.Sprintf("duration exceeds %s", maxWait))
		}
		return nil

	case KindFindImage:
		return normaliseTemplate(kind, p)

	case KindFindAllImages:
		if p.Count == 0 {
			p.Count = DefaultFindAllLimit
		}
		if p.Count < 1 || p.Count > maxFindAll {
			return invalid(kind, fmt.Sprintf("count must be between 1 and %d", maxFindAll))
		}
		return normaliseTemplate(kind, p)

	case KindClickImage:
		if err := normaliseTemplate(kind, p); err != nil {
			return err
		}
		return normaliseButton(kind, p)

	case KindWaitForImage:
		if err := normaliseTemplate(kind, p); err != nil {
			return err
		}
		return normalisePoll(kind, p)

	case KindWaitForPixelColor:
		if err := requirePoint(kind, "at", p.At); err != nil {
			return err
		}
		if p.Color == nil {
			return invalid(kind, "color is required")
		}
		if p.Tolerance < 0 || p.Tolerance > maxChannel {
			return invalid(kind, fmt.Sprintf("tolerance must be between 0 and %d", maxChannel))
		}
		return normalisePoll(kind, p)

	case KindWaitForPixelChange:
		if err := requirePoint(kind, "at", p.At); err != nil {
			return err
		}
		if p.MinChange == 0 {
			p.MinChange = DefaultMinChange
		}
		if p.MinChange < 1 || p.MinChange > maxColorDistance {
			return invalid(kind, fmt.Sprintf("min_change must be between 1 and %d", maxColorDistance))
		}
		return normalisePoll(kind, p)

	default:
		return fmt.Errorf("%w: %w: %q", ErrConstruction, ErrUnknownKind, kind)
	}
}

func invalid(kind Kind, msg string) error {
	return fmt.Errorf("%w: %s: %s", ErrConstruction, kind, msg)
}

func requirePoint(kind Kind, name string, p *Point) error {
	if p == nil {
		return invalid(kind, name+" coordinates are required")
	}
	return nil
}

func requireKeys(kind Kind, keys []string, minKeys, maxKeys int) error {
	if len(keys) < minKeys || len(keys) > maxKeys {
		if minKeys == maxKeys {
			return invalid(kind, fmt.Sprintf("exactly %d key required, got %d", minKeys, len(keys)))
		}
		return invalid(kind, fmt.Sprintf("between %d and %d keys required, got %d", minKeys, maxKeys, len(keys)))
	}
	for i, k := range keys {
		if strings.TrimSpace(k) == "" {
			return invalid(kind, fmt.Sprintf("key %d is empty", i))
		}
	}
	return nil
}

func normaliseButton(kind Kind, p *Params) error {
	switch p.Button {
	case "":
		p.Button = ButtonLeft
		return nil
	case ButtonLeft, ButtonRight, ButtonMiddle:
		return nil
	default:
		return invalid(kind, fmt.Sprintf("unknown button %q", p.Button))
	}
}

func normaliseRepeat(kind Kind, name string, n *int) error {
	if *n == 0 {
		*n = 1
	}
	if *n < 1 || *n > maxRepeat {
		return invalid(kind, fmt.Sprintf("%s must be between 1 and %d", name, maxRepeat))
	}
	return nil
}

func normaliseHold(kind Kind, p *Params) error {
	if p.Duration == 0 {
		p.Duration = DefaultHoldDuration
	}
	if p.Duration < 0 || p.Duration > maxWait {
		return invalid(kind, fmt.Sprintf("duration must be between 0 and %s", maxWait))
	}
	return nil
}

func normaliseTemplate(kind Kind, p *Params) error {
	if strings.TrimSpace(p.Template) == "" {
		return invalid(kind, "template is required")
	}
	if p.Threshold == 0 {
		p.Threshold = DefaultThreshold
	}
	if p.Threshold < 0 || p.Threshold > 1 {
		return invalid(kind, "threshold must be in (0, 1]")
	}
	if p.Region != nil && (p.Region.Width <= 0 || p.Region.Height <= 0) {
		return invalid(kind, "region width and height must be positive")
	}
	return nil
}

func normalisePoll(kind Kind, p *Params) error {
	if p.Timeout == 0 {
		p.Timeout = DefaultPollTimeout
	}
	if p.PollInterval == 0 {
		p.PollInterval = min(DefaultPollInterval, p.Timeout)
	}
	if p.Timeout > maxPollTimeout {
		return invalid(kind, fmt.Sprintf("timeout exceeds %s", maxPollTimeout))
	}
	if err := validatePollTiming(p.Timeout, p.PollInterval); err != nil {
		return fmt.Errorf("%w: %s: %w", ErrConstruction, kind, err)
	}
	return nil
}

// validatePollTiming enforces timeout > 0 and 0 < interval <= timeout.
func validatePollTiming(timeout, interval time.Duration) error {
	if timeout <= 0 {
		return fmt.Errorf("%w: timeout must be positive, got %s", ErrInvalidPoll, timeout)
	}
	if interval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %s", ErrInvalidPoll, interval)
	}
	if interval > timeout {
		return fmt.Errorf("%w: poll interval %s exceeds timeout %s", ErrInvalidPoll, interval, timeout)
	}
	return nil
}

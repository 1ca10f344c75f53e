package desktop

import (
	"context"
	"fmt"

	hook "github.com/robotn/gohook"

	"github.com/nerrad567/deskpilot/internal/automation"
)

// Locate blocks until the next mouse button press anywhere on screen and
// returns the cursor position at that moment. It returns an error wrapping
// automation.ErrCancelled when ctx ends first.
func Locate(ctx context.Context, driver Driver) (automation.Point, error) {
	events := hook.Start()
	defer hook.End()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return automation.Point{}, automation.PortError("locate", fmt.Errorf("input hook closed"))
			}
			if ev.Kind == hook.MouseDown {
				x, y := driver.Location()
				return automation.Point{X: x, Y: y}, nil
			}
		case <-ctx.Done():
			return automation.Point{}, fmt.Errorf("%w: locate: %w", automation.ErrCancelled, ctx.Err())
		}
	}
}

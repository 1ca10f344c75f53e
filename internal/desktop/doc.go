// Package desktop implements the automation input and vision ports on top
// of robotgo.
//
// Input injects mouse and keyboard events; Screen captures the screen,
// loads template images from disk, matches them with normalised
// cross-correlation and samples pixel colours. Both talk to the operating
// system through a Driver so they can be exercised without a display.
//
// Every operational failure (coordinates off screen, unknown key name,
// capture failure, unreadable template) is returned wrapped with
// automation.ErrPort, so the executor records it as a failed action.
//
// Locate blocks until the next mouse click and reports where it happened;
// `deskpilot locate` uses it to pick coordinates for sequence files.
package desktop

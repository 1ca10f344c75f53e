package desktop

import (
	"fmt"
	"strings"

	"github.com/nerrad567/deskpilot/internal/automation"
)

// keyAliases maps accepted key names onto robotgo's names.
var keyAliases = map[string]string{
	"return":      "enter",
	"esc":         "esc",
	"escape":      "esc",
	"ctrl":        "ctrl",
	"control":     "ctrl",
	"alt":         "alt",
	"option":      "alt",
	"shift":       "shift",
	"cmd":         "cmd",
	"command":     "cmd",
	"super":       "cmd",
	"win":         "cmd",
	"winleft":     "lcmd",
	"winright":    "rcmd",
	"pageup":      "pageup",
	"page_up":     "pageup",
	"pagedown":    "pagedown",
	"page_down":   "pagedown",
	"prtsc":       "printscreen",
	"printscreen": "printscreen",
	"del":         "delete",
}

// namedKeys are accepted as-is.
var namedKeys = map[string]bool{
	"enter": true, "tab": true, "space": true, "backspace": true, "delete": true,
	"up": true, "down": true, "left": true, "right": true,
	"home": true, "end": true, "insert": true,
	"capslock": true, "numlock": true, "scrolllock": true, "pause": true,
}

// punctuation keys are single printable characters robotgo taps directly.
const punctuation = ".,;:!?'\"()[]{}<>/\\|-_=+`~@#$%^&*"

// maxFunctionKey is the highest F-key accepted.
const maxFunctionKey = 12

// modifierKeys may lead a key combination.
var modifierKeys = map[string]bool{
	"ctrl": true, "alt": true, "shift": true, "cmd": true, "lcmd": true, "rcmd": true,
}

// NormaliseKey validates name and returns robotgo's name for it.
// Unknown names are port errors.
func NormaliseKey(name string) (string, error) {
	k := strings.ToLower(strings.TrimSpace(name))

	if alias, ok := keyAliases[k]; ok {
		return alias, nil
	}
	if namedKeys[k] {
		return k, nil
	}
	if len(k) == 1 {
		c := k[0]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || strings.IndexByte(punctuation, c) >= 0 {
			return k, nil
		}
	}
	if strings.HasPrefix(k, "f") {
		var n int
		if _, err := fmt.Sscanf(k, "f%d", &n); err == nil && fmt.Sprintf("f%d", n) == k {
			return FunctionKey(n)
		}
	}
	return "", automation.PortError("key", fmt.Errorf("invalid key name %q", name))
}

// FunctionKey returns the key name for F1..F12.
func FunctionKey(n int) (string, error) {
	if n < 1 || n > maxFunctionKey {
		return "", automation.PortError("key", fmt.Errorf("function key F%d out of range 1-%d", n, maxFunctionKey))
	}
	return fmt.Sprintf("f%d", n), nil
}

// splitCombination normalises keys and splits them into the final key and
// its modifiers. Every key but the last must be a modifier.
func splitCombination(keys []string) (key string, modifiers []string, err error) {
	if len(keys) == 0 {
		return "", nil, automation.PortError("key combination", fmt.Errorf("no keys"))
	}
	names := make([]string, len(keys))
	for i, k := range keys {
		if names[i], err = NormaliseKey(k); err != nil {
			return "", nil, err
		}
	}
	for _, m := range names[:len(names)-1] {
		if !modifierKeys[m] {
			return "", nil, automation.PortError("key combination", fmt.Errorf("%q is not a modifier", m))
		}
	}
	return names[len(names)-1], names[:len(names)-1], nil
}

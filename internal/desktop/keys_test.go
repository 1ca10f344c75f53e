package desktop

import (
	"errors"
	"testing"

	"github.com/nerrad567/deskpilot/internal/automation"
)

func TestNormaliseKey(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a", "a"},
		{"Z", "z"},
		{"7", "7"},
		{"Enter", "enter"},
		{"return", "enter"},
		{"escape", "esc"},
		{"control", "ctrl"},
		{"command", "cmd"},
		{"win", "cmd"},
		{"page_down", "pagedown"},
		{" tab ", "tab"},
		{"F5", "f5"},
		{"f12", "f12"},
		{"/", "/"},
		{"prtsc", "printscreen"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := NormaliseKey(tt.in)
			if err != nil {
				t.Fatalf("NormaliseKey(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormaliseKey(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormaliseKey_Invalid(t *testing.T) {
	for _, in := range []string{"", "hyper", "f0", "f13", "f05", "ctrl+c", "é"} {
		t.Run(in, func(t *testing.T) {
			if _, err := NormaliseKey(in); !errors.Is(err, automation.ErrPort) {
				t.Errorf("NormaliseKey(%q) error = %v, want ErrPort", in, err)
			}
		})
	}
}

func TestFunctionKey(t *testing.T) {
	if got, err := FunctionKey(1); err != nil || got != "f1" {
		t.Errorf("FunctionKey(1) = %q, %v", got, err)
	}
	for _, n := range []int{0, 13, -1} {
		if _, err := FunctionKey(n); !errors.Is(err, automation.ErrPort) {
			t.Errorf("FunctionKey(%d) error = %v, want ErrPort", n, err)
		}
	}
}

func TestSplitCombination(t *testing.T) {
	key, mods, err := splitCombination([]string{"Control", "shift", "S"})
	if err != nil {
		t.Fatalf("splitCombination() error = %v", err)
	}
	if key != "s" || len(mods) != 2 || mods[0] != "ctrl" || mods[1] != "shift" {
		t.Errorf("got key %q mods %v", key, mods)
	}

	if _, _, err := splitCombination([]string{"a", "b"}); !errors.Is(err, automation.ErrPort) {
		t.Errorf("non-modifier lead error = %v, want ErrPort", err)
	}
	if _, _, err := splitCombination(nil); !errors.Is(err, automation.ErrPort) {
		t.Errorf("empty combination error = %v, want ErrPort", err)
	}
}

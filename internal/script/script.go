// Package script loads action sequences from YAML files.
//
// A sequence file looks like:
//
//	name: login
//	description: Log in to the admin console
//	stop_on_failure: true
//	actions:
//	  - kind: click
//	    at: {x: 640, y: 400}
//	    description: Click username field
//	  - kind: type_text
//	    text: admin
//	  - kind: wait_for_image
//	    template: dashboard.png
//	    timeout_ms: 5000
//
// Every action goes through automation.Build, so a file either yields a
// fully valid sequence or an error naming the first bad action.
package script

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/nerrad567/deskpilot/internal/automation"
)

// maxFileSize bounds sequence files read from disk.
const maxFileSize = 1 << 20

// ErrEmptySequence is returned for a file with no actions.
var ErrEmptySequence = errors.New("script: sequence has no actions")

// File is the on-disk form of a sequence.
type File struct {
	Name          string                  `yaml:"name"`
	Description   string                  `yaml:"description,omitempty"`
	StopOnFailure *bool                   `yaml:"stop_on_failure,omitempty"`
	Templates     []string                `yaml:"templates,omitempty"`
	Actions       []automation.Definition `yaml:"actions"`
}

// Sequence is a parsed, validated sequence ready for the executor.
type Sequence struct {
	Name        string
	Description string

	// StopOnFailure is nil when the file leaves the choice to the caller.
	StopOnFailure *bool

	// Templates lists template references to preload before running.
	Templates []string

	Actions []automation.Action
}

// StopOnFailureOr returns the file's stop-on-failure setting or fallback.
func (s *Sequence) StopOnFailureOr(fallback bool) bool {
	if s.StopOnFailure == nil {
		return fallback
	}
	return *s.StopOnFailure
}

// Loader parses sequence files with deployment defaults applied to every
// action. The zero Loader uses the automation package defaults.
type Loader struct {
	Defaults automation.Defaults
}

// Load reads and parses the sequence file at path with the zero Loader.
func Load(path string) (*Sequence, error) { return Loader{}.Load(path) }

// Parse decodes a sequence with the zero Loader.
func Parse(data []byte) (*Sequence, error) { return Loader{}.Parse(data) }

// Load reads and parses the sequence file at path.
func (l Loader) Load(path string) (*Sequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening sequence file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(io.LimitReader(f, maxFileSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading sequence file: %w", err)
	}
	if len(data) > maxFileSize {
		return nil, fmt.Errorf("sequence file %s exceeds %d bytes", path, maxFileSize)
	}

	seq, err := l.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return seq, nil
}

// Parse decodes a sequence from YAML. Unknown fields are rejected.
func (l Loader) Parse(data []byte) (*Sequence, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var file File
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrEmptySequence
		}
		return nil, fmt.Errorf("parsing sequence: %w", err)
	}
	if len(file.Actions) == 0 {
		return nil, ErrEmptySequence
	}

	actions, err := l.Defaults.BuildAll(file.Actions)
	if err != nil {
		return nil, err
	}

	return &Sequence{
		Name:          file.Name,
		Description:   file.Description,
		StopOnFailure: file.StopOnFailure,
		Templates:     file.Templates,
		Actions:       actions,
	}, nil
}

// Marshal encodes actions as a sequence file.
func Marshal(name string, stopOnFailure bool, actions []automation.Action) ([]byte, error) {
	file := File{
		Name:          name,
		StopOnFailure: &stopOnFailure,
		Actions:       make([]automation.Definition, len(actions)),
	}
	for i, a := range actions {
		file.Actions[i] = a.Definition()
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return nil, fmt.Errorf("encoding sequence: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encoding sequence: %w", err)
	}
	return buf.Bytes(), nil
}

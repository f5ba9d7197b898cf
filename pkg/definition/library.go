package definition

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Template carries default values applied to a referenced machine.
type Template struct {
	Name            string         `yaml:"name"`
	StopOnEndState  *bool          `yaml:"stop_on_end_state,omitempty"`
	StateHistoryMax *int           `yaml:"state_history_max,omitempty"`
	Properties      map[string]any `yaml:"properties,omitempty"`
}

// document is the multi-machine file layout.
type document struct {
	Machines  []*Definition `yaml:"machines"`
	Templates []*Template   `yaml:"templates,omitempty"`
}

// Library is a named set of definitions and templates. References between
// machines are resolved through the library.
type Library struct {
	mu        sync.RWMutex
	machines  map[string]*Definition
	order     []string
	templates map[string]*Template
}

// NewLibrary creates a library holding defs.
func NewLibrary(defs ...*Definition) (*Library, error) {
	l := &Library{
		machines:  make(map[string]*Definition),
		templates: make(map[string]*Template),
	}
	if err := l.Add(defs...); err != nil {
		return nil, err
	}
	return l, nil
}

// Add resolves and registers definitions. A later definition with the same
// name replaces the earlier one.
func (l *Library) Add(defs ...*Definition) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, d := range defs {
		if d == nil {
			continue
		}
		if err := d.Resolve(); err != nil {
			return err
		}
		if _, exists := l.machines[d.Name]; !exists {
			l.order = append(l.order, d.Name)
		}
		l.machines[d.Name] = d
	}
	return nil
}

// AddTemplate registers a template by name.
func (l *Library) AddTemplate(templates ...*Template) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, t := range templates {
		if t != nil && t.Name != "" {
			l.templates[t.Name] = t
		}
	}
}

// Get returns the named definition.
func (l *Library) Get(name string) (*Definition, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	d, ok := l.machines[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	return d, nil
}

// Template returns the named template.
func (l *Library) Template(name string) (*Template, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.templates[name]
	return t, ok
}

// Names lists machine names in the order they were added.
func (l *Library) Names() []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]string(nil), l.order...)
}

// First returns the first machine added, or nil for an empty library.
func (l *Library) First() *Definition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.order) == 0 {
		return nil
	}
	return l.machines[l.order[0]]
}

// Merge copies every machine and template of other into l.
func (l *Library) Merge(other *Library) error {
	if other == nil {
		return nil
	}
	other.mu.RLock()
	defs := make([]*Definition, 0, len(other.order))
	for _, name := range other.order {
		defs = append(defs, other.machines[name])
	}
	templates := make([]*Template, 0, len(other.templates))
	for _, t := range other.templates {
		templates = append(templates, t)
	}
	other.mu.RUnlock()

	if err := l.Add(defs...); err != nil {
		return err
	}
	l.AddTemplate(templates...)
	return nil
}

// Decode reads a YAML document without resolving it. The document is
// either a single machine or a mapping with "machines" and optional
// "templates" lists.
func Decode(data []byte) ([]*Definition, []*Template, error) {
	var doc document
	if err := decodeStrict(data, &doc); err == nil && len(doc.Machines) > 0 {
		return doc.Machines, doc.Templates, nil
	}

	var def Definition
	if err := decodeStrict(data, &def); err != nil {
		return nil, nil, errors.Join(ErrParse, err)
	}
	return []*Definition{&def}, nil, nil
}

// Parse decodes a YAML document and resolves every machine in it.
func Parse(data []byte) (*Library, error) {
	defs, templates, err := Decode(data)
	if err != nil {
		return nil, err
	}
	lib, err := NewLibrary(defs...)
	if err != nil {
		return nil, err
	}
	lib.AddTemplate(templates...)
	return lib, nil
}

func decodeStrict(data []byte, v any) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// LoadFile parses a single YAML file.
func LoadFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	lib, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return lib, nil
}

// LoadDir parses every .yaml and .yml file in dir, sorted by file name.
func LoadDir(dir string) (*Library, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".yaml" || ext == ".yml" {
			files = append(files, filepath.Join(dir, e.Name()))
		}
	}
	sort.Strings(files)

	lib, _ := NewLibrary()
	for _, f := range files {
		part, err := LoadFile(f)
		if err != nil {
			return nil, err
		}
		if err := lib.Merge(part); err != nil {
			return nil, fmt.Errorf("%s: %w", f, err)
		}
	}
	return lib, nil
}

// Marshal encodes a definition as YAML.
func Marshal(d *Definition) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(d); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

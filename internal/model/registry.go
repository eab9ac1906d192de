package model

import (
	"errors"
	"fmt"
	"strings"
)

// ErrInvalidModelLabel is returned when a label is not in the registry.
var ErrInvalidModelLabel = errors.New("invalid model label")

// InvalidLabelError carries the rejected label and the accepted ones.
type InvalidLabelError struct {
	Label string
	Valid []string
}

func (e *InvalidLabelError) Error() string {
	return fmt.Sprintf("%s %q (valid: %s)", ErrInvalidModelLabel, e.Label, strings.Join(e.Valid, ", "))
}

func (e *InvalidLabelError) Is(target error) bool {
	return target == ErrInvalidModelLabel
}

// Labels of the built-in models.
const (
	LabelFast     = "fast"
	LabelBalanced = "balanced"
	LabelPowerful = "powerful"
)

// Entry describes one selectable model.
type Entry struct {
	Label       string
	ProviderID  string
	Title       string
	Description string
}

// Registry maps short labels to provider model ids. It is built once at
// startup and read-only afterwards, so it needs no locking.
type Registry struct {
	entries      []Entry
	byLabel      map[string]Entry
	defaultLabel string
}

// NewRegistry builds a registry. defaultLabel must name one of entries.
func NewRegistry(defaultLabel string, entries ...Entry) (*Registry, error) {
	if len(entries) == 0 {
		return nil, errors.New("model registry needs at least one entry")
	}
	r := &Registry{
		entries:      make([]Entry, 0, len(entries)),
		byLabel:      make(map[string]Entry, len(entries)),
		defaultLabel: defaultLabel,
	}
	for _, e := range entries {
		e.Label = strings.ToLower(strings.TrimSpace(e.Label))
		if e.Label == "" || e.ProviderID == "" {
			return nil, fmt.Errorf("model registry entry needs label and provider id: %+v", e)
		}
		if _, dup := r.byLabel[e.Label]; dup {
			return nil, fmt.Errorf("duplicate model label %q", e.Label)
		}
		r.entries = append(r.entries, e)
		r.byLabel[e.Label] = e
	}
	if _, ok := r.byLabel[defaultLabel]; !ok {
		return nil, fmt.Errorf("default model label %q not registered", defaultLabel)
	}
	return r, nil
}

// DefaultRegistry returns the SambaNova Llama 3.1 lineup.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(LabelBalanced,
		Entry{
			Label:       LabelFast,
			ProviderID:  "Meta-Llama-3.1-8B-Instruct",
			Title:       "Fast (8B)",
			Description: "Quick responses, good for simple tasks",
		},
		Entry{
			Label:       LabelBalanced,
			ProviderID:  "Meta-Llama-3.1-70B-Instruct",
			Title:       "Balanced (70B)",
			Description: "Best performance/speed ratio, recommended for most users",
		},
		Entry{
			Label:       LabelPowerful,
			ProviderID:  "Meta-Llama-3.1-405B-Instruct",
			Title:       "Powerful (405B)",
			Description: "Highest quality responses, slower",
		},
	)
	if err != nil {
		panic(err)
	}
	return r
}

// DefaultLabel is the label new sessions start with.
func (r *Registry) DefaultLabel() string {
	return r.defaultLabel
}

// Lookup returns the entry for label. Matching ignores case and
// surrounding whitespace.
func (r *Registry) Lookup(label string) (Entry, bool) {
	e, ok := r.byLabel[strings.ToLower(strings.TrimSpace(label))]
	return e, ok
}

// Resolve returns the entry for label or an *InvalidLabelError.
func (r *Registry) Resolve(label string) (Entry, error) {
	if e, ok := r.Lookup(label); ok {
		return e, nil
	}
	return Entry{}, &InvalidLabelError{Label: label, Valid: r.Labels()}
}

// Labels returns the registered labels in registration order.
func (r *Registry) Labels() []string {
	labels := make([]string, len(r.entries))
	for i, e := range r.entries {
		labels[i] = e.Label
	}
	return labels
}

// Entries returns a copy of all entries in registration order.
func (r *Registry) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len returns the number of registered models.
func (r *Registry) Len() int {
	return len(r.entries)
}

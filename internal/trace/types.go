// Package trace provides types for trace event collection and analysis.
package trace

import "time"

// Tag represents a trace event category.
// Tags are stored without # prefix; the prefix is added on rendering.
type Tag string

// Standard tags for trace events.
const (
	Write    Tag = "write"
	Call     Tag = "call"
	Return   Tag = "return"
	Ceiling  Tag = "ceiling"
	Halt     Tag = "halt"
	Stop     Tag = "stop"
	Filtered Tag = "filtered"
	Large    Tag = "large"
)

// Tags is a collection of tags with helper methods.
type Tags []Tag

// Has returns true if the tag collection contains the given tag.
func (t Tags) Has(tag Tag) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// Add adds a tag if not already present.
func (t *Tags) Add(tag Tag) {
	if !t.Has(tag) {
		*t = append(*t, tag)
	}
}

// Strings returns tags as strings with # prefix for display.
func (t Tags) Strings() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = "#" + string(tag)
	}
	return out
}

// Raw returns tags as strings without # prefix.
func (t Tags) Raw() []string {
	out := make([]string, len(t))
	for i, tag := range t {
		out[i] = string(tag)
	}
	return out
}

// Primary returns the first tag or empty string if none.
func (t Tags) Primary() Tag {
	if len(t) > 0 {
		return t[0]
	}
	return ""
}

// Annotations holds key-value metadata for trace events.
type Annotations map[string]string

// Set adds or updates an annotation.
func (a Annotations) Set(k, v string) {
	a[k] = v
}

// Get retrieves an annotation value.
func (a Annotations) Get(k string) string {
	return a[k]
}

// Has returns true if the annotation exists.
func (a Annotations) Has(k string) bool {
	_, ok := a[k]
	return ok
}

// Event represents a trace event with rich metadata.
type Event struct {
	PC          uint64      // Instruction or write address the event concerns
	Tags        Tags        // Multiple hashtags, first is primary
	Name        string      // Optional name; the vstack hooks leave it empty
	Detail      string      // Additional detail (e.g., "wait exceeded")
	Annotations Annotations // Key-value metadata
	Timestamp   time.Time   // When the event occurred
	Session     string      // Run session id, so log aggregation can group events across concurrent runs
}

// NewEvent creates a new trace event with the given parameters.
func NewEvent(pc uint64, category, name, detail string) *Event {
	return &Event{
		PC:          pc,
		Tags:        Tags{Tag(category)},
		Name:        name,
		Detail:      detail,
		Annotations: make(Annotations),
		Timestamp:   time.Now(),
	}
}

// AddTag adds a tag to the event.
func (e *Event) AddTag(tag Tag) {
	e.Tags.Add(tag)
}

// Annotate sets an annotation on the event.
func (e *Event) Annotate(k, v string) {
	if e.Annotations == nil {
		e.Annotations = make(Annotations)
	}
	e.Annotations.Set(k, v)
}

// PrimaryTag returns the primary (first) tag with # prefix.
func (e *Event) PrimaryTag() string {
	if len(e.Tags) > 0 {
		return "#" + string(e.Tags[0])
	}
	return ""
}

// Enricher enriches trace events based on category and name.
type Enricher func(e *Event)

// largeWriteThreshold is the size, in bytes, at or above which DefaultEnricher
// tags a write event #large; a plausible stack string rarely exceeds this
// in one coalesced region, so it is a useful triage signal, not a filter.
const largeWriteThreshold = 256

// DefaultEnricher adds a size-based tag to write events.
func DefaultEnricher(e *Event) {
	if len(e.Tags) == 0 || e.Tags[0] != Write {
		return
	}
	if size, ok := e.Annotations["size"]; ok {
		if n := parseSize(size); n >= largeWriteThreshold {
			e.AddTag(Large)
		}
	}
}

func parseSize(s string) int {
	n := 0
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0
		}
		n = n*10 + int(r-'0')
	}
	return n
}

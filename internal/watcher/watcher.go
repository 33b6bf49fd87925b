package watcher

import (
	"time"
)

// Operation is the kind of change seen on a source file.
type Operation int

const (
	// OpCreate indicates a new card file.
	OpCreate Operation = iota
	// OpModify indicates an existing card file was rewritten.
	OpModify
	// OpDelete indicates a card file was removed.
	OpDelete
	// OpRename indicates a card file was moved away.
	OpRename
)

// String returns a human-readable representation of the operation.
func (op Operation) String() string {
	switch op {
	case OpCreate:
		return "CREATE"
	case OpModify:
		return "MODIFY"
	case OpDelete:
		return "DELETE"
	case OpRename:
		return "RENAME"
	default:
		return "UNKNOWN"
	}
}

// FileEvent is one change to a card source file.
type FileEvent struct {
	// Path is the absolute path of the file.
	Path string

	// Category is the category whose directory holds Path.
	Category string

	Operation Operation
	Timestamp time.Time
}

// Options configures the watcher.
type Options struct {
	// DebounceWindow is the quiet period before a batch is emitted.
	// Default: 500ms
	DebounceWindow time.Duration

	// EventBufferSize is the number of batches buffered for Events.
	// Default: 16
	EventBufferSize int

	// Extensions are the file extensions reported, compared case-insensitively.
	// Default: .json
	Extensions []string
}

// DefaultOptions returns the default watcher options.
func DefaultOptions() Options {
	return Options{
		DebounceWindow:  500 * time.Millisecond,
		EventBufferSize: 16,
		Extensions:      []string{".json"},
	}
}

// WithDefaults returns options with defaults applied for zero values.
func (o Options) WithDefaults() Options {
	defaults := DefaultOptions()
	if o.DebounceWindow <= 0 {
		o.DebounceWindow = defaults.DebounceWindow
	}
	if o.EventBufferSize <= 0 {
		o.EventBufferSize = defaults.EventBufferSize
	}
	if len(o.Extensions) == 0 {
		o.Extensions = defaults.Extensions
	}
	return o
}

// Categories returns the distinct categories touched by batch, in first-seen order.
func Categories(batch []FileEvent) []string {
	seen := make(map[string]bool, len(batch))
	var out []string
	for _, ev := range batch {
		if ev.Category == "" || seen[ev.Category] {
			continue
		}
		seen[ev.Category] = true
		out = append(out, ev.Category)
	}
	return out
}

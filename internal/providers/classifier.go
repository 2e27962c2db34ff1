package providers

// ErrorEntry describes how one provider error code should be handled.
type ErrorEntry struct {
	Message   string
	Retryable bool
	RateLimit bool
}

// Classifier maps a channel's provider error codes onto retry decisions.
// The table is copied at construction and never mutated afterwards.
type Classifier struct {
	entries map[string]ErrorEntry
}

// NewClassifier builds an immutable classifier from a static code table.
func NewClassifier(entries map[string]ErrorEntry) *Classifier {
	copied := make(map[string]ErrorEntry, len(entries))
	for code, entry := range entries {
		copied[code] = entry
	}
	return &Classifier{entries: copied}
}

// Classify returns the entry for a provider error code. Unknown codes fail
// open toward retry: new or undocumented provider errors degrade to "retry,
// don't drop" rather than silently failing permanently.
func (c *Classifier) Classify(code string) ErrorEntry {
	if entry, ok := c.entries[code]; ok {
		return entry
	}
	return ErrorEntry{
		Message:   "unrecognized provider error " + code,
		Retryable: true,
		RateLimit: false,
	}
}

// Known reports whether a code is in the static table.
func (c *Classifier) Known(code string) bool {
	_, ok := c.entries[code]
	return ok
}

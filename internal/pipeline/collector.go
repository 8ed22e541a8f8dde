package pipeline

import "sync"

// Warning is a non-fatal observation surfaced in the run result.
type Warning struct {
	Message string         `json:"message"`
	Context map[string]any `json:"context,omitempty"`
}

// Collector accumulates errors and warnings across concurrent workers.
// It is the only cross-task mutable state in a run; one Collector per run.
type Collector struct {
	mu       sync.Mutex
	errors   []*Error
	warnings []Warning
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) AddError(err *Error) {
	if err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors = append(c.errors, err)
}

func (c *Collector) AddWarning(message string, context map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.warnings = append(c.warnings, Warning{Message: message, Context: context})
}

func (c *Collector) HasErrors() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.errors) > 0
}

// Errors returns a copy of the collected errors.
func (c *Collector) Errors() []*Error {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*Error, len(c.errors))
	copy(out, c.errors)
	return out
}

// Warnings returns a copy of the collected warnings.
func (c *Collector) Warnings() []Warning {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Warning, len(c.warnings))
	copy(out, c.warnings)
	return out
}

package scheduler

import "time"

// Context is the shared resource bundle handed to every callback.
//
// One Context is created per worker lifetime (each Start) and reused for every
// tick and every task. The scheduler never looks inside it. Only one callback
// runs at a time, so Context needs no locking.
type Context struct {
	resources any
	started   time.Time
	state     map[string]any
}

func newContext(resources any, started time.Time) *Context {
	return &Context{resources: resources, started: started, state: map[string]any{}}
}

// Resources returns the value produced by the scheduler's resource factory
// (see WithResources). It is nil when no factory is configured.
func (c *Context) Resources() any { return c.resources }

// StartedAt reports when the owning worker started.
func (c *Context) StartedAt() time.Time { return c.started }

// Get returns state stored by an earlier callback in this worker lifetime.
func (c *Context) Get(key string) (any, bool) {
	v, ok := c.state[key]
	return v, ok
}

func (c *Context) Set(key string, v any) { c.state[key] = v }

func (c *Context) Delete(key string) { delete(c.state, key) }

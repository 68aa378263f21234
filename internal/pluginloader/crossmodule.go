package pluginloader

import "sync"

// CrossModule is the process-wide singleton registry plugins publish
// into and consume from during AttachLibrary. Entries are tracked by the
// publisher that installed them so that unloading a plugin can clear
// exactly its own singletons without touching anyone else's — the
// plugin-singleton-lifecycle invariant from spec §4.5.
type CrossModule struct {
	mu      sync.Mutex
	entries map[string]crossModuleEntry
}

type crossModuleEntry struct {
	publisherID string
	value       any
}

// NewCrossModule creates an empty singleton registry.
func NewCrossModule() *CrossModule {
	return &CrossModule{entries: make(map[string]crossModuleEntry)}
}

// Publish installs value under key, tagged with publisherID so it can be
// cleared on that publisher's detach. Overwrites any prior value for key.
func (c *CrossModule) Publish(publisherID, key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = crossModuleEntry{publisherID: publisherID, value: value}
}

// Lookup returns the value published under key, if any.
func (c *CrossModule) Lookup(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return e.value, true
}

// ClearPublisher removes every entry published by publisherID. Called
// when that publisher's AttachableLibrary is fully detached.
func (c *CrossModule) ClearPublisher(publisherID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, e := range c.entries {
		if e.publisherID == publisherID {
			delete(c.entries, key)
		}
	}
}

package core

import (
	"maps"
	"sync"

	"github.com/google/uuid"

	"github.com/anggasct/logicdriver/pkg/definition"
)

// CachedPropertyData holds the default property values of every node of a
// definition, keyed by NodeGuid. One copy is shared by all instances of the
// definition; each node clones its defaults on generation.
type CachedPropertyData struct {
	mu       sync.RWMutex
	defaults map[uuid.UUID]map[string]any
}

func newCachedPropertyData(def *definition.Definition) *CachedPropertyData {
	c := &CachedPropertyData{defaults: make(map[uuid.UUID]map[string]any)}
	if len(def.Properties) > 0 {
		c.defaults[def.NodeGuid] = def.Properties
	}
	def.Walk(func(_ []string, s *definition.State) {
		if len(s.Properties) > 0 {
			c.defaults[s.NodeGuid] = s.Properties
		}
	}, func(_ []string, t *definition.Transition) {
		if len(t.Properties) > 0 {
			c.defaults[t.NodeGuid] = t.Properties
		}
	})
	return c
}

// Defaults returns a copy of the default properties of a node.
func (c *CachedPropertyData) Defaults(nodeGuid uuid.UUID) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	src := c.defaults[nodeGuid]
	if len(src) == 0 {
		return nil
	}
	return maps.Clone(src)
}

// Override replaces the defaults of a node for instances generated afterwards.
func (c *CachedPropertyData) Override(nodeGuid uuid.UUID, values map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := maps.Clone(c.defaults[nodeGuid])
	if merged == nil {
		merged = make(map[string]any, len(values))
	}
	maps.Copy(merged, values)
	c.defaults[nodeGuid] = merged
}

// Len returns the number of nodes with default properties.
func (c *CachedPropertyData) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.defaults)
}

var propertyCache = struct {
	sync.Mutex
	byDefinition map[*definition.Definition]*CachedPropertyData
}{byDefinition: make(map[*definition.Definition]*CachedPropertyData)}

// cachedPropertyDataFor returns the process-wide cache entry for def,
// building it on first use.
func cachedPropertyDataFor(def *definition.Definition) *CachedPropertyData {
	propertyCache.Lock()
	defer propertyCache.Unlock()
	if c, ok := propertyCache.byDefinition[def]; ok {
		return c
	}
	c := newCachedPropertyData(def)
	propertyCache.byDefinition[def] = c
	return c
}

// ReleaseCachedPropertyData drops the cache entry of def. Instances that
// already hold it keep working.
func ReleaseCachedPropertyData(def *definition.Definition) {
	propertyCache.Lock()
	delete(propertyCache.byDefinition, def)
	propertyCache.Unlock()
}

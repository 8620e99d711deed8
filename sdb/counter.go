package sdb

import "sync"

// catalogCounter backs idgen.Int32Generator/Int64Generator with a
// value persisted in the catalog page (spec §9's "global mutable id
// sequences" note, honored here as per-collection state rather than a
// process-wide map). persistFn re-encodes and writes the whole catalog
// document under the engine's catalog lock.
type catalogCounter struct {
	mu        sync.Mutex
	name      string
	value     int64
	persistFn func(name string, value int64) error
}

// Next increments and persists the counter before returning it, so a
// crash between increment and persist never hands out the same id
// twice to two different documents.
func (c *catalogCounter) Next() (int64, error) {
	c.mu.Lock()
	c.value++
	v := c.value
	c.mu.Unlock()

	if err := c.persistFn(c.name, v); err != nil {
		c.mu.Lock()
		c.value--
		c.mu.Unlock()
		return 0, err
	}
	return v, nil
}

func (c *catalogCounter) snapshot() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.value
}

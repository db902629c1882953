// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore implements Store with in-memory maps. It is thread-safe and
// suitable for development, testing and single-process deployments.
// Each collection holds its own lock so that traffic against different
// resource kinds does not serialise.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]*memoryCollection
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]*memoryCollection),
	}
}

// Collection returns the named collection, creating it on first use.
func (s *MemoryStore) Collection(name string) Collection {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.collections[name]
	if !ok {
		c = &memoryCollection{records: make(map[string]Record)}
		s.collections[name] = c
	}
	return c
}

// Close is a no-op for the in-memory store.
func (*MemoryStore) Close() error {
	return nil
}

type memoryCollection struct {
	mu      sync.RWMutex
	records map[string]Record
}

func (c *memoryCollection) Insert(ctx context.Context, rec Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stored := maps.Clone(rec)
	id, _ := stored[IDField].(string)
	if id == "" {
		id = uuid.NewString()
		stored[IDField] = id
	}

	c.mu.Lock()
	c.records[id] = stored
	c.mu.Unlock()

	return maps.Clone(stored), nil
}

func (c *memoryCollection) Get(ctx context.Context, id string) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return maps.Clone(rec), nil
}

func (c *memoryCollection) Update(ctx context.Context, id string, patch Record) (Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	rec, ok := c.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	for k, v := range patch {
		if k == IDField {
			continue
		}
		rec[k] = v
	}
	return maps.Clone(rec), nil
}

func (c *memoryCollection) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.records[id]; !ok {
		return ErrNotFound
	}
	delete(c.records, id)
	return nil
}

func (c *memoryCollection) Query(ctx context.Context, filter Record) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []Record
	for _, rec := range c.records {
		if matches(rec, filter) {
			out = append(out, maps.Clone(rec))
		}
	}
	return out, nil
}

func (c *memoryCollection) List(ctx context.Context, opts ListOptions) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]Record, 0, len(c.records))
	for _, rec := range c.records {
		if opts.Limit > 0 && len(out) >= opts.Limit {
			break
		}
		out = append(out, maps.Clone(rec))
	}
	return out, nil
}

// Compile-time interface checks.
var (
	_ Store      = (*MemoryStore)(nil)
	_ Collection = (*memoryCollection)(nil)
)

// SPDX-FileCopyrightText: Copyright 2026 The authgate Authors
// SPDX-License-Identifier: Apache-2.0

// Package storage defines the record-store abstraction the authorization
// server is built on, together with two reference backends: an in-memory
// store for development and testing, and a Redis store for deployments
// that need cross-process durability.
//
// A Store is a set of named collections. Each collection offers the six
// operations the server consumes: insert, get, update, delete, query and
// list. Records are plain JSON-shaped maps; typed packages convert their
// structs through Encode and Decode so that both backends observe the
// same wire representation.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Record is a single stored object. Values are restricted to JSON types:
// string, float64, bool, nil, []any and map[string]any. Encode enforces
// this by round-tripping through encoding/json.
type Record = map[string]any

// IDField is the record field that carries the unique identifier.
const IDField = "id"

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// ListOptions controls pagination for List.
type ListOptions struct {
	// Limit caps the number of returned records. Zero means no limit.
	Limit int
}

// Collection provides access to the records of a single resource kind.
// All operations honour the deadline of the supplied context.
type Collection interface {
	// Insert stores a new record. When the record has no "id" field a
	// random one is assigned. The stored record is returned.
	Insert(ctx context.Context, rec Record) (Record, error)

	// Get returns the record with the given id, or ErrNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// Update merges patch into the record with the given id and returns
	// the updated record, or ErrNotFound.
	Update(ctx context.Context, id string, patch Record) (Record, error)

	// Delete removes the record with the given id, or returns ErrNotFound.
	Delete(ctx context.Context, id string) error

	// Query returns all records whose fields equal every field in filter.
	Query(ctx context.Context, filter Record) ([]Record, error)

	// List returns records up to opts.Limit, in no particular order.
	List(ctx context.Context, opts ListOptions) ([]Record, error)
}

// Store is a named set of collections.
type Store interface {
	// Collection returns the collection with the given name, creating it
	// if it does not exist yet.
	Collection(name string) Collection

	// Close releases resources held by the store.
	Close() error
}

// Encode converts a typed value into a Record by round-tripping through
// JSON. This guarantees that values stored by either backend have the
// same shape (times as RFC 3339 strings, numbers as float64).
func Encode(v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return rec, nil
}

// Decode converts a Record into a typed value via JSON.
func Decode(rec Record, v any) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode record: %w", err)
	}
	return nil
}

// matches reports whether rec carries every field of filter with an equal
// value. Comparison uses the JSON representation, so callers filtering on
// numbers must pass float64.
func matches(rec, filter Record) bool {
	for k, want := range filter {
		got, ok := rec[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/dgraph-io/badger/v4"
)

var errSinkUnavailable = errors.New("audit sink unavailable")

// keyPrefix namespaces audit records inside the Badger keyspace.
const keyPrefix = "audit/"

// Buffer is a durable local fallback store for audit records. Records land
// here when the primary sink fails and are replayed by Drain once the sink
// recovers. Keys are "audit/<RFC3339Nano timestamp>/<id>" so iteration order
// is write order.
//
// Thread Safety: safe for concurrent use; BadgerDB transactions provide
// isolation.
type Buffer struct {
	db     *badger.DB
	logger *slog.Logger
}

// NewBuffer creates a fallback buffer over an open BadgerDB. The caller owns
// the database lifecycle.
func NewBuffer(db *badger.DB, logger *slog.Logger) (*Buffer, error) {
	if db == nil {
		return nil, errors.New("db must not be nil")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Buffer{
		db:     db,
		logger: logger.With(slog.String("component", "audit_buffer")),
	}, nil
}

// OpenBuffer opens an in-memory BadgerDB and wraps it in a Buffer. Intended
// for deployments without a configured audit directory and for tests.
func OpenBuffer(logger *slog.Logger) (*Buffer, *badger.DB, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit buffer: %w", err)
	}
	buf, err := NewBuffer(db, logger)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	return buf, db, nil
}

// bufferKey builds the ordered key for a record.
func bufferKey(rec Record) []byte {
	return []byte(keyPrefix + rec.Timestamp.Format("2006-01-02T15:04:05.000000000Z07:00") + "/" + rec.ID)
}

// Write appends a record to the buffer.
func (b *Buffer) Write(ctx context.Context, rec Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}

	err = b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(bufferKey(rec), payload)
	})
	if err != nil {
		return fmt.Errorf("buffer audit record: %w", err)
	}
	return nil
}

// Close implements Sink. The underlying database is owned by the caller, so
// this is a no-op.
func (b *Buffer) Close() error {
	return nil
}

// Pending returns the number of buffered records.
func (b *Buffer) Pending() (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		prefix := []byte(keyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Drain replays buffered records into the primary sink in write order,
// deleting each record only after the sink accepts it. It stops on the first
// sink error so nothing is lost.
func (b *Buffer) Drain(ctx context.Context, primary Sink) (int, error) {
	drained := 0

	for {
		if err := ctx.Err(); err != nil {
			return drained, err
		}

		var key []byte
		var rec Record
		err := b.db.View(func(txn *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			it := txn.NewIterator(opts)
			defer it.Close()
			prefix := []byte(keyPrefix)
			it.Seek(prefix)
			if !it.ValidForPrefix(prefix) {
				return badger.ErrKeyNotFound
			}
			item := it.Item()
			key = item.KeyCopy(nil)
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
		})
		if errors.Is(err, badger.ErrKeyNotFound) {
			return drained, nil
		}
		if err != nil {
			return drained, fmt.Errorf("read buffered record: %w", err)
		}

		if err := primary.Write(ctx, rec); err != nil {
			return drained, fmt.Errorf("replay audit record %s: %w", rec.ID, err)
		}

		err = b.db.Update(func(txn *badger.Txn) error {
			return txn.Delete(key)
		})
		if err != nil {
			return drained, fmt.Errorf("delete replayed record: %w", err)
		}
		drained++
	}
}

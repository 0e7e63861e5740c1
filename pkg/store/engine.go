package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

// TxFunc is a unit of work executed against one transaction. The engine
// commits when it returns nil, and rolls back otherwise.
type TxFunc[R any] func(tx *gorm.DB) (R, error)

// Engine runs every transaction (read, durable write, or no-sync write)
// on a single dedicated goroutine, mirroring the original's use of one
// background database thread that all callers await completion from.
// This serializes app-level access even though GORM/SQLite could permit
// concurrent readers, because the spec's ordering guarantees are stated
// in terms of one writer thread, and because no-sync writes toggle a
// connection-wide pragma that must not race with other statements.
type Engine struct {
	db   *gorm.DB
	jobs chan job
	done chan struct{}
}

type job func()

// NewEngine starts the dedicated worker goroutine over db.
func NewEngine(db *gorm.DB) *Engine {
	e := &Engine{
		db:   db,
		jobs: make(chan job, 64),
		done: make(chan struct{}),
	}
	go e.run()
	return e
}

func (e *Engine) run() {
	defer close(e.done)
	for j := range e.jobs {
		j()
	}
}

// Close stops accepting new work and waits for the worker to drain.
func (e *Engine) Close() {
	close(e.jobs)
	<-e.done
}

func submit[R any](ctx context.Context, e *Engine, fn func() (R, error)) (R, error) {
	type result struct {
		v   R
		err error
	}
	resCh := make(chan result, 1)

	select {
	case e.jobs <- func() {
		v, err := fn()
		resCh <- result{v, err}
	}:
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}

	select {
	case r := <-resCh:
		return r.v, r.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Read runs fn in a read-only transaction. GORM does not expose a
// dedicated read-only transaction mode portable across sqlite/postgres,
// so this begins a normal transaction and always rolls it back.
func Read[R any](ctx context.Context, e *Engine, fn TxFunc[R]) (R, error) {
	return submit(ctx, e, func() (R, error) {
		var out R
		var fnErr error
		err := e.db.Transaction(func(tx *gorm.DB) error {
			out, fnErr = fn(tx)
			// Always abort: a read transaction must never persist
			// writes even if fn mistakenly performed one.
			return fmt.Errorf("read-only rollback")
		})
		_ = err
		return out, fnErr
	})
}

// Write runs fn in a durable write transaction (fsync on commit).
func Write[R any](ctx context.Context, e *Engine, fn TxFunc[R]) (R, error) {
	return submit(ctx, e, func() (R, error) {
		if sqlDB, err := e.db.DB(); err == nil {
			e.db.Exec("PRAGMA synchronous=FULL")
			_ = sqlDB
		}
		var out R
		var fnErr error
		err := e.db.Transaction(func(tx *gorm.DB) error {
			out, fnErr = fn(tx)
			return fnErr
		})
		if err != nil && fnErr == nil {
			fnErr = err
		}
		return out, fnErr
	})
}

// WriteNoSync runs fn in a write transaction with fsync disabled for the
// duration, for high-rate non-critical paths like last-contact bumps.
func WriteNoSync[R any](ctx context.Context, e *Engine, fn TxFunc[R]) (R, error) {
	return submit(ctx, e, func() (R, error) {
		e.db.Exec("PRAGMA synchronous=OFF")
		defer e.db.Exec("PRAGMA synchronous=FULL")

		var out R
		var fnErr error
		err := e.db.Transaction(func(tx *gorm.DB) error {
			out, fnErr = fn(tx)
			return fnErr
		})
		if err != nil && fnErr == nil {
			fnErr = err
		}
		return out, fnErr
	})
}

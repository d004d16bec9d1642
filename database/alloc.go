package database

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"crispy/allocator"
	"crispy/models"

	"github.com/codeGROOVE-dev/retry"
)

// insertFunc writes the new row under id inside the allocation transaction.
type insertFunc func(tx *sql.Tx, id int64) error

// allocate assigns the next identifier of c in partition p and runs insert with it.
// The scan and the insert happen under the partition lock and inside one transaction, so
// the identifier is only returned once the row is committed.
func (ds *DatabaseService) allocate(ctx context.Context, c allocator.Collection, p allocator.Partition, insert insertFunc) (int64, error) {
	var id int64
	var lastErr error
	err := retry.Do(
		func() error {
			id, lastErr = ds.allocateOnce(ctx, c, p, insert)
			return lastErr
		},
		retry.Attempts(3),
		retry.Delay(25*time.Millisecond),
		retry.MaxDelay(250*time.Millisecond),
		retry.MaxJitter(50*time.Millisecond),
		retry.Context(ctx),
		retry.OnRetry(func(n uint, err error) {
			ds.logger.Warn("Retrying allocation after busy store", "collection", c.String(), "prefix", p.Prefix, "attempt", n, "error", err)
		}),
		retry.RetryIf(func(err error) bool {
			var se *models.StorageError
			return errors.As(err, &se) && isBusy(se.Err)
		}),
	)
	if err != nil {
		if lastErr != nil {
			return 0, lastErr
		}
		return 0, err
	}
	return id, nil
}

func (ds *DatabaseService) allocateOnce(ctx context.Context, c allocator.Collection, p allocator.Partition, insert insertFunc) (int64, error) {
	release, err := ds.locker.Acquire(ctx, p.Key(c), ds.lockWait)
	if err != nil {
		return 0, err
	}
	defer release()

	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return 0, storageError("begin allocation", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback allocation transaction", "collection", c.String(), "error", rerr)
		}
	}()

	id, err := ds.alloc.Next(ctx, tx, c, p)
	if err != nil {
		if errors.Is(err, models.ErrPartitionExhausted) {
			return 0, err
		}
		return 0, storageError("scan partition", err)
	}

	if err := insert(tx, id); err != nil {
		if errors.Is(err, models.ErrNotFound) || errors.Is(err, models.ErrValidation) {
			return 0, err
		}
		return 0, storageError("insert "+c.String(), err)
	}
	if err := tx.Commit(); err != nil {
		return 0, storageError("commit "+c.String(), err)
	}
	return id, nil
}

// exists reports whether query returns a row inside tx.
func exists(ctx context.Context, tx *sql.Tx, query string, args ...interface{}) (bool, error) {
	var one int
	err := tx.QueryRowContext(ctx, query, args...).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

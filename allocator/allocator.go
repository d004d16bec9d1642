package allocator

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"crispy/models"
)

// Querier is satisfied by *sql.Tx and *sql.DB.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Allocator computes identifiers from the rows already stored in a partition.
// It holds no counter of its own; callers must serialize Next and the following insert
// per partition (see Locker) and run both in one transaction.
type Allocator struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *Allocator {
	return &Allocator{logger: logger.With("component", "allocator")}
}

// Next returns the identifier to assign to the next row of c in partition p.
func (a *Allocator) Next(ctx context.Context, q Querier, c Collection, p Partition) (int64, error) {
	query := fmt.Sprintf("SELECT MAX(%[1]s) FROM %[2]s WHERE %[1]s BETWEEN ? AND ?", c.column(), c.table())
	var maxID sql.NullInt64
	if err := q.QueryRowContext(ctx, query, p.First(), p.Last()).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("scan %s partition %d: %w", c, p.Prefix, err)
	}

	next, wrapped := p.step(maxID.Int64, maxID.Valid)
	if !wrapped {
		return next, nil
	}

	a.logger.Warn("Partition reached its upper bound, reusing low identifiers", "collection", c.String(), "prefix", p.Prefix, "max_id", maxID.Int64)
	return a.lowestFree(ctx, q, c, p)
}

func (a *Allocator) lowestFree(ctx context.Context, q Querier, c Collection, p Partition) (int64, error) {
	var taken int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", c.table(), c.column())
	if err := q.QueryRowContext(ctx, query, p.First()).Scan(&taken); err != nil {
		return 0, fmt.Errorf("probe first slot of %s partition %d: %w", c, p.Prefix, err)
	}
	if taken == 0 {
		return p.First(), nil
	}

	// The lowest free slot is the successor of the lowest occupied slot whose successor is missing.
	gapQuery := fmt.Sprintf(`
		SELECT MIN(a.%[1]s + 1) FROM %[2]s a
		WHERE a.%[1]s BETWEEN ? AND ?
		AND NOT EXISTS (SELECT 1 FROM %[2]s b WHERE b.%[1]s = a.%[1]s + 1)`, c.column(), c.table())
	var gap sql.NullInt64
	if err := q.QueryRowContext(ctx, gapQuery, p.First(), p.Last()-1).Scan(&gap); err != nil {
		return 0, fmt.Errorf("search gap in %s partition %d: %w", c, p.Prefix, err)
	}
	if !gap.Valid {
		return 0, fmt.Errorf("%w: %s prefix %d", models.ErrPartitionExhausted, c, p.Prefix)
	}
	return gap.Int64, nil
}

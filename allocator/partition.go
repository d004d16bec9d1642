// Package allocator issues board-scoped sequential identifiers.
//
// Every board owns the numeric partition [prefix*10^6, (prefix+1)*10^6). The floor of the
// partition is reserved, so the first identifier handed out is prefix*10^6+1. The next
// identifier is always the partition maximum plus one. When the maximum reaches the top of
// the partition the allocator wraps and reuses the lowest free slot, starting at the first
// one. This assumes that old threads and posts have been deleted by then; it is a best-effort
// fallback and not a collision-free sequence. A partition with no free slot left yields
// models.ErrPartitionExhausted.
package allocator

import (
	"fmt"

	"crispy/config"
	"crispy/models"
)

// Collection selects which identifier space is being allocated.
// Threads and posts keep independent counters over the same partition.
type Collection int

const (
	Threads Collection = iota
	Posts
)

func (c Collection) String() string {
	switch c {
	case Threads:
		return "threads"
	case Posts:
		return "posts"
	default:
		return fmt.Sprintf("collection(%d)", int(c))
	}
}

func (c Collection) table() string { return c.String() }

func (c Collection) column() string {
	if c == Threads {
		return "thread_id"
	}
	return "id"
}

// Partition is the identifier range owned by one board prefix.
type Partition struct {
	Prefix int
}

// NewPartition validates prefix. Zero means the board never had a prefix assigned.
func NewPartition(prefix int) (Partition, error) {
	if prefix == 0 {
		return Partition{}, models.ErrPrefixNotSet
	}
	if prefix < config.MinPrefix || prefix > config.MaxPrefix {
		return Partition{}, fmt.Errorf("%w: %d is outside %d..%d", models.ErrInvalidPrefix, prefix, config.MinPrefix, config.MaxPrefix)
	}
	return Partition{Prefix: prefix}, nil
}

// Floor is the reserved lower bound of the partition.
func (p Partition) Floor() int64 { return int64(p.Prefix) * config.PartitionSize }

// First is the lowest identifier ever issued.
func (p Partition) First() int64 { return p.Floor() + 1 }

// Last is the highest identifier ever issued.
func (p Partition) Last() int64 { return p.Floor() + config.PartitionSize - 1 }

// Contains reports whether id is an issuable identifier of the partition.
func (p Partition) Contains(id int64) bool {
	return id >= p.First() && id <= p.Last()
}

// Key names the lock guarding allocation of c within the partition.
func (p Partition) Key(c Collection) string {
	return fmt.Sprintf("%s:%d", c, p.Prefix)
}

// step returns the identifier following maxID. wrapped is true when maxID is already the
// last slot and the caller must search for a reusable one instead.
func (p Partition) step(maxID int64, found bool) (next int64, wrapped bool) {
	if !found {
		return p.First(), false
	}
	if maxID < p.Last() {
		return maxID + 1, false
	}
	return p.First(), true
}

// NextID computes the next identifier for prefix given the identifiers already issued.
// Identifiers outside the partition are ignored.
func NextID(prefix int, existing []int64) (int64, error) {
	p, err := NewPartition(prefix)
	if err != nil {
		return 0, err
	}

	var maxID int64
	found := false
	for _, id := range existing {
		if p.Contains(id) && (!found || id > maxID) {
			maxID, found = id, true
		}
	}

	next, wrapped := p.step(maxID, found)
	if !wrapped {
		return next, nil
	}

	taken := make(map[int64]struct{}, len(existing))
	for _, id := range existing {
		if p.Contains(id) {
			taken[id] = struct{}{}
		}
	}
	for id := p.First(); id <= p.Last(); id++ {
		if _, ok := taken[id]; !ok {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: prefix %d", models.ErrPartitionExhausted, prefix)
}

// NextThreadID is NextID over the thread identifiers of a board.
func NextThreadID(prefix int, existingThreadIDs []int64) (int64, error) {
	return NextID(prefix, existingThreadIDs)
}

// NextPostID is NextID over the post identifiers of a board.
func NextPostID(prefix int, existingPostIDs []int64) (int64, error) {
	return NextID(prefix, existingPostIDs)
}

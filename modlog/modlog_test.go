package modlog

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"crispy/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu      sync.Mutex
	entries []models.ModAction
	err     error
	gate    chan struct{}
}

func (m *memStore) RecordModAction(_ context.Context, a models.ModAction) error {
	if m.gate != nil {
		<-m.gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, a)
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func TestSinkWritesFileAndStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "moderation.log")
	store := &memStore{}

	sink, err := New(store, path, 8, discardLogger())
	require.NoError(t, err)
	sink.Log(ActionDeleteThread, "Thread ID: 7000001")
	sink.Log(ActionDeletePost, "Post ID: 7000002")
	require.NoError(t, sink.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "["))
	assert.True(t, strings.HasSuffix(lines[0], "] DELETE_THREAD: Thread ID: 7000001"))

	require.Len(t, store.entries, 2)
	assert.Equal(t, ActionDeletePost, store.entries[1].Action)
}

func TestSinkSwallowsStoreFailures(t *testing.T) {
	sink, err := New(&memStore{err: errors.New("disk full")}, "", 4, discardLogger())
	require.NoError(t, err)

	assert.NotPanics(t, func() { sink.Log(ActionDeleteImage, "a.png") })
	require.NoError(t, sink.Close())
}

func TestSinkDropsWhenFullOrClosed(t *testing.T) {
	store := &memStore{gate: make(chan struct{})}
	sink, err := New(store, "", 1, discardLogger())
	require.NoError(t, err)

	// The first entry is picked up by the writer and blocks on the gate, the second fills
	// the queue and the rest are dropped without blocking the caller.
	for i := 0; i < 10; i++ {
		sink.Log(ActionDeletePost, "x")
	}
	close(store.gate)
	require.NoError(t, sink.Close())
	assert.LessOrEqual(t, len(store.entries), 2)
	assert.GreaterOrEqual(t, len(store.entries), 1)

	sink.Log(ActionDeletePost, "after close")
	require.NoError(t, sink.Close(), "closing twice is a no-op")
}

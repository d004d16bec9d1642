// Package modlog records moderation actions without ever blocking or failing the
// request that triggered them.
package modlog

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"crispy/models"
	"crispy/utils"
)

const (
	ActionDeleteThread = "DELETE_THREAD"
	ActionDeletePost   = "DELETE_POST"
	ActionDeleteImage  = "DELETE_IMAGE"
	ActionCreateBoard  = "CREATE_BOARD"
	ActionDeleteBoard  = "DELETE_BOARD"
)

// Store persists entries. *database.DatabaseService satisfies it.
type Store interface {
	RecordModAction(ctx context.Context, a models.ModAction) error
}

// Sink queues entries and writes them from a single goroutine, to the store and as
// "[timestamp] ACTION: details" lines to an append-only file.
type Sink struct {
	store  Store
	file   *os.File
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	ch     chan models.ModAction
	wg     sync.WaitGroup
}

// New starts a sink. store and path are both optional.
func New(store Store, path string, queue int, logger *slog.Logger) (*Sink, error) {
	s := &Sink{
		store:  store,
		logger: logger.With("component", "modlog"),
		ch:     make(chan models.ModAction, queue),
	}
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("could not create moderation log directory: %w", err)
		}
		f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("could not open moderation log %s: %w", path, err)
		}
		s.file = f
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

// Log enqueues an entry. A full queue or a closed sink drops it with a warning.
func (s *Sink) Log(action, details string) {
	entry := models.ModAction{Timestamp: utils.GetSQLTime(), Action: action, Details: details}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		s.logger.Warn("Moderation log closed, dropping entry", "action", action, "details", details)
		return
	}
	select {
	case s.ch <- entry:
	default:
		s.logger.Warn("Moderation log queue full, dropping entry", "action", action, "details", details)
	}
}

// Close stops accepting entries and waits for the queued ones to be written.
func (s *Sink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.ch)
	s.mu.Unlock()

	s.wg.Wait()
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}

func (s *Sink) loop() {
	for entry := range s.ch {
		s.write(entry)
	}
}

func (s *Sink) write(entry models.ModAction) {
	s.logger.Info("Moderation action", "action", entry.Action, "details", entry.Details)

	if s.file != nil {
		line := fmt.Sprintf("[%s] %s: %s\n", entry.Timestamp.Format(time.RFC3339), entry.Action, entry.Details)
		if _, err := s.file.WriteString(line); err != nil {
			s.logger.Error("Failed to write moderation log file", "error", err)
		}
	}
	if s.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.store.RecordModAction(ctx, entry); err != nil {
			s.logger.Error("Failed to record moderation action", "action", entry.Action, "error", err)
		}
	}
}

// crispy/database/database.go
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"crispy/allocator"
	"crispy/config"
	"crispy/models"
	"crispy/utils"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

var (
	boardNamePattern = regexp.MustCompile(`^[a-z0-9]{1,10}$`)
	reservedNames    = map[string]bool{"api": true, "uploads": true, "admin": true, "static": true}
)

// Options configures InitDB. Zero values select the defaults.
type Options struct {
	Driver    string // "sqlite3" (mattn, default) or "sqlite" (modernc)
	Path      string
	BackupDir string
	Locker    allocator.Locker
	LockWait  time.Duration
}

// DatabaseService is the central struct for all database operations.
type DatabaseService struct {
	DB         *sql.DB
	logger     *slog.Logger
	dsn        string
	backupDir  string
	boardCache map[string]*models.Board
	cacheMu    sync.RWMutex

	alloc    *allocator.Allocator
	locker   allocator.Locker
	lockWait time.Duration
}

// InitDB connects to the database and runs migrations.
func InitDB(opts Options, logger *slog.Logger) (*DatabaseService, error) {
	if opts.Driver == "" {
		opts.Driver = "sqlite3"
	}
	if opts.Locker == nil {
		opts.Locker = allocator.NewLocalLocker()
	}
	if opts.LockWait <= 0 {
		opts.LockWait, _ = time.ParseDuration(config.DefaultAllocLockTimeout)
	}

	dsn := buildDSN(opts.Driver, opts.Path)
	db, err := sql.Open(opts.Driver, dsn)
	if err != nil {
		return nil, err
	}

	// Run the base schema to ensure all tables exist.
	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to execute base schema: %w", err)
	}

	if err := runMigrations(db, logger); err != nil {
		db.Close()
		return nil, fmt.Errorf("database migration failed: %w", err)
	}

	logger.Info("Database initialized", "driver", opts.Driver)

	return &DatabaseService{
		DB:         db,
		logger:     logger,
		dsn:        dsn,
		backupDir:  opts.BackupDir,
		boardCache: make(map[string]*models.Board),
		alloc:      allocator.New(logger),
		locker:     opts.Locker,
		lockWait:   opts.LockWait,
	}, nil
}

// buildDSN appends the pragmas every connection needs. Writers take the SQLite write
// lock when the transaction begins so the partition scan and the insert see the same state.
func buildDSN(driver, path string) string {
	if strings.Contains(path, "?") {
		return path
	}
	if driver == "sqlite" {
		return "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	}
	return path + "?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
}

// Close releases the connection pool.
func (ds *DatabaseService) Close() error {
	return ds.DB.Close()
}

// BackupDatabase performs an online backup of the live SQLite database using VACUUM INTO.
func (ds *DatabaseService) BackupDatabase(ctx context.Context) (string, error) {
	if ds.backupDir == "" {
		return "", fmt.Errorf("backup directory is not configured")
	}
	if err := os.MkdirAll(ds.backupDir, 0755); err != nil {
		return "", fmt.Errorf("could not create backup directory %s: %w", ds.backupDir, err)
	}

	timestamp := utils.GetSQLTime().Format("2006-01-02_15-04-05.000")
	backupPath := filepath.Join(ds.backupDir, fmt.Sprintf("crispy_backup_%s.db", timestamp))

	ds.logger.Info("Starting database backup", "destination", backupPath)

	if _, err := ds.DB.ExecContext(ctx, "VACUUM INTO ?", backupPath); err != nil {
		if removeErr := os.Remove(backupPath); removeErr != nil && !os.IsNotExist(removeErr) {
			ds.logger.Error("Failed to remove incomplete backup file", "path", backupPath, "error", removeErr)
		}
		return "", fmt.Errorf("VACUUM INTO command failed: %w", err)
	}
	return backupPath, nil
}

// runMigrations applies all un-applied migrations.
func runMigrations(db *sql.DB, logger *slog.Logger) error {
	var latestVersion uint
	err := db.QueryRow("SELECT version FROM schema_migrations ORDER BY version DESC LIMIT 1").Scan(&latestVersion)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("could not get db version: %w", err)
	}

	logger.Info("Current database schema version", "version", latestVersion)

	for _, m := range allMigrations {
		if m.Version <= latestVersion {
			continue
		}
		logger.Info("Applying migration", "version", m.Version)
		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.Query); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				logger.Error("Failed to rollback migration", "version", m.Version, "error", rerr)
			}
			return fmt.Errorf("failed to apply migration v%d: %w", m.Version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)", m.Version, utils.GetSQLTime()); err != nil {
			if rerr := tx.Rollback(); rerr != nil {
				logger.Error("Failed to rollback migration record", "version", m.Version, "error", rerr)
			}
			return fmt.Errorf("failed to record migration v%d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("failed to commit migration v%d: %w", m.Version, err)
		}
		logger.Info("Successfully applied migration", "version", m.Version)
	}
	return nil
}

// --- Board Registry ---

const boardColumns = "id, name, display_name, prefix, created"

func scanBoard(row interface{ Scan(...interface{}) error }) (*models.Board, error) {
	var b models.Board
	var prefix sql.NullInt64
	if err := row.Scan(&b.ID, &b.Name, &b.DisplayName, &prefix, &b.CreatedAt); err != nil {
		return nil, err
	}
	b.Prefix = int(prefix.Int64)
	return &b, nil
}

// ResolveByID fetches a board, using the instance's cache.
func (ds *DatabaseService) ResolveByID(ctx context.Context, boardID string) (*models.Board, error) {
	ds.cacheMu.RLock()
	board, ok := ds.boardCache[boardID]
	ds.cacheMu.RUnlock()
	if ok {
		return board, nil
	}

	board, err := scanBoard(ds.DB.QueryRowContext(ctx, "SELECT "+boardColumns+" FROM boards WHERE id = ?", boardID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", models.ErrBoardNotFound, boardID)
		}
		return nil, storageError("get board", err)
	}

	ds.cacheMu.Lock()
	ds.boardCache[boardID] = board
	ds.cacheMu.Unlock()
	return board, nil
}

// ResolveByName fetches a board by its public name.
func (ds *DatabaseService) ResolveByName(ctx context.Context, name string) (*models.Board, error) {
	board, err := scanBoard(ds.DB.QueryRowContext(ctx, "SELECT "+boardColumns+" FROM boards WHERE name = ?", name))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", models.ErrBoardNotFound, name)
		}
		return nil, storageError("get board by name", err)
	}
	return board, nil
}

// ListBoards returns every board ordered by prefix.
func (ds *DatabaseService) ListBoards(ctx context.Context) ([]models.Board, error) {
	rows, err := ds.DB.QueryContext(ctx, "SELECT "+boardColumns+" FROM boards ORDER BY prefix, name")
	if err != nil {
		return nil, storageError("list boards", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListBoards", "error", err)
		}
	}()

	boards := []models.Board{}
	for rows.Next() {
		b, err := scanBoard(rows)
		if err != nil {
			return nil, storageError("scan board", err)
		}
		boards = append(boards, *b)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list boards", err)
	}
	return boards, nil
}

func validateBoardFields(name, displayName string) (string, string, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	displayName = strings.TrimSpace(displayName)
	if name == "" {
		return "", "", models.Validationf("board name is required")
	}
	if reservedNames[name] || !boardNamePattern.MatchString(name) {
		return "", "", models.Validationf("invalid or reserved board name %q", name)
	}
	if displayName == "" {
		displayName = name
	}
	if len(displayName) > config.MaxDisplayNameLen {
		return "", "", models.Validationf("display name exceeds %d characters", config.MaxDisplayNameLen)
	}
	return name, displayName, nil
}

// CreateBoard registers a board and assigns it prefix for good.
func (ds *DatabaseService) CreateBoard(ctx context.Context, name, displayName string, prefix int) (*models.Board, error) {
	name, displayName, err := validateBoardFields(name, displayName)
	if err != nil {
		return nil, err
	}
	if prefix < config.MinPrefix || prefix > config.MaxPrefix {
		return nil, fmt.Errorf("%w: %d is outside %d..%d", models.ErrInvalidPrefix, prefix, config.MinPrefix, config.MaxPrefix)
	}

	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin create board", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction in CreateBoard", "error", rerr)
		}
	}()

	var owner string
	err = tx.QueryRowContext(ctx, "SELECT name FROM boards WHERE name = ? OR prefix = ? ORDER BY name = ? DESC LIMIT 1", name, prefix, name).Scan(&owner)
	switch {
	case err == nil && owner == name:
		return nil, fmt.Errorf("%w: %s", models.ErrDuplicateName, name)
	case err == nil:
		return nil, fmt.Errorf("%w: %d is owned by board %s", models.ErrInvalidPrefix, prefix, owner)
	case err != sql.ErrNoRows:
		return nil, storageError("check board uniqueness", err)
	}

	board := &models.Board{
		ID:          uuid.New().String(),
		Name:        name,
		DisplayName: displayName,
		Prefix:      prefix,
		CreatedAt:   utils.GetSQLTime(),
	}
	if _, err := tx.ExecContext(ctx, "INSERT INTO boards (id, name, display_name, prefix, created) VALUES (?, ?, ?, ?, ?)",
		board.ID, board.Name, board.DisplayName, board.Prefix, board.CreatedAt); err != nil {
		return nil, boardConstraintError(err, name, prefix)
	}
	if err := tx.Commit(); err != nil {
		return nil, boardConstraintError(err, name, prefix)
	}

	ds.logger.Info("Board created", "board_id", board.ID, "name", board.Name, "prefix", board.Prefix)
	return board, nil
}

// UpdateBoard changes the name and display name. The prefix never changes.
func (ds *DatabaseService) UpdateBoard(ctx context.Context, boardID, name, displayName string) (*models.Board, error) {
	name, displayName, err := validateBoardFields(name, displayName)
	if err != nil {
		return nil, err
	}

	res, err := ds.DB.ExecContext(ctx, "UPDATE boards SET name = ?, display_name = ? WHERE id = ?", name, displayName, boardID)
	if err != nil {
		return nil, boardConstraintError(err, name, 0)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrBoardNotFound, boardID)
	}
	ds.ClearBoardCache(boardID)
	return ds.ResolveByID(ctx, boardID)
}

// DeleteBoard removes the posts of the board's threads, its threads and the board itself
// in one transaction. It returns the image URLs that were referenced by the removed rows.
func (ds *DatabaseService) DeleteBoard(ctx context.Context, boardID string) ([]string, error) {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin delete board", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction in DeleteBoard", "error", rerr)
		}
	}()

	images, err := collectImages(ctx, tx, `
		SELECT image_url FROM threads WHERE board_id = ? AND image_url IS NOT NULL
		UNION ALL
		SELECT p.image_url FROM posts p JOIN threads t ON p.thread_id = t.thread_id
		WHERE t.board_id = ? AND p.image_url IS NOT NULL`, boardID, boardID)
	if err != nil {
		return nil, storageError("collect board images", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE thread_id IN (SELECT thread_id FROM threads WHERE board_id = ?)", boardID); err != nil {
		return nil, storageError("delete board posts", err)
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM threads WHERE board_id = ?", boardID); err != nil {
		return nil, storageError("delete board threads", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM boards WHERE id = ?", boardID)
	if err != nil {
		return nil, storageError("delete board record", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrBoardNotFound, boardID)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("commit delete board", err)
	}

	ds.ClearBoardCache(boardID)
	return images, nil
}

// --- Moderation Log ---

// RecordModAction stores one moderation log entry.
func (ds *DatabaseService) RecordModAction(ctx context.Context, a models.ModAction) error {
	if _, err := ds.DB.ExecContext(ctx, "INSERT INTO mod_actions (timestamp, action, details) VALUES (?, ?, ?)", a.Timestamp, a.Action, a.Details); err != nil {
		return fmt.Errorf("failed to execute mod action log: %w", err)
	}
	return nil
}

// ListModActions returns a page of the moderation log, newest first, and the total count.
func (ds *DatabaseService) ListModActions(ctx context.Context, limit, offset int) ([]models.ModAction, int, error) {
	var total int
	if err := ds.DB.QueryRowContext(ctx, "SELECT COUNT(*) FROM mod_actions").Scan(&total); err != nil {
		return nil, 0, storageError("count mod actions", err)
	}
	rows, err := ds.DB.QueryContext(ctx, "SELECT id, timestamp, action, details FROM mod_actions ORDER BY timestamp DESC, id DESC LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, 0, storageError("list mod actions", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListModActions", "error", err)
		}
	}()

	actions := []models.ModAction{}
	for rows.Next() {
		var a models.ModAction
		var details sql.NullString
		if err := rows.Scan(&a.ID, &a.Timestamp, &a.Action, &details); err != nil {
			return nil, 0, storageError("scan mod action", err)
		}
		a.Details = details.String
		actions = append(actions, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storageError("list mod actions", err)
	}
	return actions, total, nil
}

// --- Cache Management ---
func (ds *DatabaseService) ClearBoardCache(boardID string) {
	ds.cacheMu.Lock()
	delete(ds.boardCache, boardID)
	ds.cacheMu.Unlock()
}

// --- Internal Helpers ---

type queryer interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

func collectImages(ctx context.Context, q queryer, query string, args ...interface{}) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var url string
		if err := rows.Scan(&url); err != nil {
			return nil, err
		}
		if url != "" {
			urls = append(urls, url)
		}
	}
	return urls, rows.Err()
}

// storageError wraps a driver failure. Every store failure is worth a retry from the
// caller's point of view; busy errors are also retried internally by the allocator.
func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return &models.StorageError{Op: op, Err: err, Retryable: true}
}

// isBusy reports whether err is SQLite refusing a lock held by another connection.
// Both drivers expose this only through their own error types, so match the message.
func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database table is locked")
}

func boardConstraintError(err error, name string, prefix int) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "UNIQUE constraint failed: boards.name"):
		return fmt.Errorf("%w: %s", models.ErrDuplicateName, name)
	case strings.Contains(msg, "UNIQUE constraint failed: boards.prefix"):
		return fmt.Errorf("%w: %d is already owned", models.ErrInvalidPrefix, prefix)
	}
	return storageError("write board", err)
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"crispy/allocator"
	"crispy/config"
	"crispy/models"
	"crispy/utils"
)

const threadColumns = "thread_id, board_id, content, image_url, image_alt, op_ip, created"

func scanThread(row interface{ Scan(...interface{}) error }) (*models.Thread, error) {
	var t models.Thread
	var imageURL, imageAlt sql.NullString
	if err := row.Scan(&t.ThreadID, &t.BoardID, &t.Content, &imageURL, &imageAlt, &t.OriginIP, &t.CreatedAt); err != nil {
		return nil, err
	}
	if imageURL.Valid {
		t.ImageURL = &imageURL.String
	}
	if imageAlt.Valid {
		t.ImageAlt = &imageAlt.String
	}
	return &t, nil
}

func validateContent(content, imageAlt string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", models.Validationf("content is required")
	}
	if len(content) > config.MaxContentLen {
		return "", models.Validationf("content exceeds %d characters", config.MaxContentLen)
	}
	if len(imageAlt) > config.MaxImageAltLen {
		return "", models.Validationf("image alt text exceeds %d characters", config.MaxImageAltLen)
	}
	return content, nil
}

// CreateThread resolves the board's partition, allocates the next thread identifier and
// stores the thread under it.
func (ds *DatabaseService) CreateThread(ctx context.Context, in models.ThreadInput) (*models.Thread, error) {
	if strings.TrimSpace(in.BoardID) == "" {
		return nil, models.Validationf("board ID and content are required")
	}
	content, err := validateContent(in.Content, in.ImageAlt)
	if err != nil {
		return nil, err
	}

	board, err := ds.ResolveByID(ctx, in.BoardID)
	if err != nil {
		return nil, err
	}
	p, err := allocator.NewPartition(board.Prefix)
	if err != nil {
		return nil, err
	}

	originIP := strings.TrimSpace(in.OriginIP)
	if originIP == "" {
		originIP = "anonymous"
	}
	thread := &models.Thread{
		BoardID:   board.ID,
		Content:   content,
		ImageURL:  models.NullableString(strings.TrimSpace(in.ImageURL)),
		ImageAlt:  models.NullableString(strings.TrimSpace(in.ImageAlt)),
		OriginIP:  originIP,
		CreatedAt: utils.GetSQLTime(),
	}

	id, err := ds.allocate(ctx, allocator.Threads, p, func(tx *sql.Tx, id int64) error {
		ok, err := exists(ctx, tx, "SELECT 1 FROM boards WHERE id = ?", board.ID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", models.ErrBoardNotFound, board.ID)
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO threads ("+threadColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
			id, thread.BoardID, thread.Content, thread.ImageURL, thread.ImageAlt, thread.OriginIP, thread.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	thread.ThreadID = id

	ds.logger.Info("New thread created", "thread_id", id, "board_id", board.ID, "prefix", board.Prefix)
	return thread, nil
}

// GetThread fetches one thread.
func (ds *DatabaseService) GetThread(ctx context.Context, threadID int64) (*models.Thread, error) {
	t, err := scanThread(ds.DB.QueryRowContext(ctx, "SELECT "+threadColumns+" FROM threads WHERE thread_id = ?", threadID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %d", models.ErrThreadNotFound, threadID)
		}
		return nil, storageError("get thread", err)
	}
	return t, nil
}

// ListThreads returns the threads of boardID, or of every board when boardID is empty,
// in identifier order.
func (ds *DatabaseService) ListThreads(ctx context.Context, boardID string) ([]models.Thread, error) {
	query := "SELECT " + threadColumns + " FROM threads"
	var args []interface{}
	if boardID != "" {
		query += " WHERE board_id = ?"
		args = append(args, boardID)
	}
	query += " ORDER BY thread_id"

	rows, err := ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("list threads", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListThreads", "error", err)
		}
	}()

	threads := []models.Thread{}
	for rows.Next() {
		t, err := scanThread(rows)
		if err != nil {
			return nil, storageError("scan thread", err)
		}
		threads = append(threads, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list threads", err)
	}
	return threads, nil
}

// UpdateThread replaces the content and image of a thread. The identifier never changes.
func (ds *DatabaseService) UpdateThread(ctx context.Context, threadID int64, u models.ContentUpdate) (*models.Thread, error) {
	content, err := validateContent(u.Content, u.ImageAlt)
	if err != nil {
		return nil, err
	}
	res, err := ds.DB.ExecContext(ctx, "UPDATE threads SET content = ?, image_url = ?, image_alt = ? WHERE thread_id = ?",
		content, models.NullableString(strings.TrimSpace(u.ImageURL)), models.NullableString(strings.TrimSpace(u.ImageAlt)), threadID)
	if err != nil {
		return nil, storageError("update thread", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrThreadNotFound, threadID)
	}
	return ds.GetThread(ctx, threadID)
}

// DeleteThread removes a thread and its posts in one transaction and returns the image
// URLs they referenced.
func (ds *DatabaseService) DeleteThread(ctx context.Context, threadID int64) ([]string, error) {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin delete thread", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction in DeleteThread", "error", rerr)
		}
	}()

	images, err := collectImages(ctx, tx, `
		SELECT image_url FROM threads WHERE thread_id = ? AND image_url IS NOT NULL
		UNION ALL
		SELECT image_url FROM posts WHERE thread_id = ? AND image_url IS NOT NULL`, threadID, threadID)
	if err != nil {
		return nil, storageError("collect thread images", err)
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE thread_id = ?", threadID); err != nil {
		return nil, storageError("delete thread posts", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM threads WHERE thread_id = ?", threadID)
	if err != nil {
		return nil, storageError("delete thread", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrThreadNotFound, threadID)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("commit delete thread", err)
	}
	return images, nil
}

package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"crispy/allocator"
	"crispy/models"
	"crispy/utils"
)

const postColumns = "id, thread_id, content, image_url, image_alt, created"

func scanPost(row interface{ Scan(...interface{}) error }) (*models.Post, error) {
	var p models.Post
	var imageURL, imageAlt sql.NullString
	if err := row.Scan(&p.ID, &p.ThreadID, &p.Content, &imageURL, &imageAlt, &p.CreatedAt); err != nil {
		return nil, err
	}
	if imageURL.Valid {
		p.ImageURL = &imageURL.String
	}
	if imageAlt.Valid {
		p.ImageAlt = &imageAlt.String
	}
	return &p, nil
}

// CreatePost resolves the thread and its board, allocates the next post identifier of the
// board's partition and stores the reply under it. Post identifiers are counted
// independently of thread identifiers.
func (ds *DatabaseService) CreatePost(ctx context.Context, in models.PostInput) (*models.Post, error) {
	if in.ThreadID == 0 {
		return nil, models.Validationf("thread ID and content are required")
	}
	content, err := validateContent(in.Content, in.ImageAlt)
	if err != nil {
		return nil, err
	}

	thread, err := ds.GetThread(ctx, in.ThreadID)
	if err != nil {
		return nil, err
	}
	board, err := ds.ResolveByID(ctx, thread.BoardID)
	if err != nil {
		return nil, err
	}
	p, err := allocator.NewPartition(board.Prefix)
	if err != nil {
		return nil, err
	}

	post := &models.Post{
		ThreadID:  thread.ThreadID,
		Content:   content,
		ImageURL:  models.NullableString(strings.TrimSpace(in.ImageURL)),
		ImageAlt:  models.NullableString(strings.TrimSpace(in.ImageAlt)),
		CreatedAt: utils.GetSQLTime(),
	}

	id, err := ds.allocate(ctx, allocator.Posts, p, func(tx *sql.Tx, id int64) error {
		ok, err := exists(ctx, tx, "SELECT 1 FROM threads WHERE thread_id = ?", thread.ThreadID)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %d", models.ErrThreadNotFound, thread.ThreadID)
		}
		_, err = tx.ExecContext(ctx, "INSERT INTO posts ("+postColumns+") VALUES (?, ?, ?, ?, ?, ?)",
			id, post.ThreadID, post.Content, post.ImageURL, post.ImageAlt, post.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	post.ID = id

	ds.logger.Info("New post created", "post_id", id, "thread_id", thread.ThreadID, "prefix", board.Prefix)
	return post, nil
}

// GetPost fetches one post.
func (ds *DatabaseService) GetPost(ctx context.Context, postID int64) (*models.Post, error) {
	p, err := scanPost(ds.DB.QueryRowContext(ctx, "SELECT "+postColumns+" FROM posts WHERE id = ?", postID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %d", models.ErrPostNotFound, postID)
		}
		return nil, storageError("get post", err)
	}
	return p, nil
}

// ListPosts returns the replies of threadID, or every post when threadID is zero.
func (ds *DatabaseService) ListPosts(ctx context.Context, threadID int64) ([]models.Post, error) {
	query := "SELECT " + postColumns + " FROM posts"
	var args []interface{}
	if threadID != 0 {
		query += " WHERE thread_id = ?"
		args = append(args, threadID)
	}
	query += " ORDER BY id"

	rows, err := ds.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageError("list posts", err)
	}
	defer func() {
		if err := rows.Close(); err != nil {
			ds.logger.Error("Failed to close rows in ListPosts", "error", err)
		}
	}()

	posts := []models.Post{}
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, storageError("scan post", err)
		}
		posts = append(posts, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("list posts", err)
	}
	return posts, nil
}

// UpdatePost replaces the content and image of a reply.
func (ds *DatabaseService) UpdatePost(ctx context.Context, postID int64, u models.ContentUpdate) (*models.Post, error) {
	content, err := validateContent(u.Content, u.ImageAlt)
	if err != nil {
		return nil, err
	}
	res, err := ds.DB.ExecContext(ctx, "UPDATE posts SET content = ?, image_url = ?, image_alt = ? WHERE id = ?",
		content, models.NullableString(strings.TrimSpace(u.ImageURL)), models.NullableString(strings.TrimSpace(u.ImageAlt)), postID)
	if err != nil {
		return nil, storageError("update post", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrPostNotFound, postID)
	}
	return ds.GetPost(ctx, postID)
}

// DeletePost removes a single reply and returns its image URL, if any.
func (ds *DatabaseService) DeletePost(ctx context.Context, postID int64) ([]string, error) {
	tx, err := ds.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, storageError("begin delete post", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && rerr != sql.ErrTxDone {
			ds.logger.Error("Failed to rollback transaction in DeletePost", "error", rerr)
		}
	}()

	images, err := collectImages(ctx, tx, "SELECT image_url FROM posts WHERE id = ? AND image_url IS NOT NULL", postID)
	if err != nil {
		return nil, storageError("collect post images", err)
	}
	res, err := tx.ExecContext(ctx, "DELETE FROM posts WHERE id = ?", postID)
	if err != nil {
		return nil, storageError("delete post", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("%w: %d", models.ErrPostNotFound, postID)
	}
	if err := tx.Commit(); err != nil {
		return nil, storageError("commit delete post", err)
	}
	return images, nil
}

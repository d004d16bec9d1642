package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"crispy/models"
	"crispy/modlog"
	"crispy/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAdmin(t *testing.T) {
	app := setupTestApp(t)
	router := SetupRouter(app)

	testCases := []struct {
		name     string
		gate     *utils.AdminGate
		path     string
		header   string
		expected int
	}{
		{"No credential", utils.NewAdminGate(testAdminKey, ""), "/api/modlog", "", http.StatusUnauthorized},
		{"Wrong header", utils.NewAdminGate(testAdminKey, ""), "/api/modlog", "nope", http.StatusUnauthorized},
		{"Header", utils.NewAdminGate(testAdminKey, ""), "/api/modlog", testAdminKey, http.StatusOK},
		{"Query parameter", utils.NewAdminGate(testAdminKey, ""), "/api/modlog?admin_key=" + testAdminKey, "", http.StatusOK},
		{"Gate disabled", utils.NewAdminGate("", ""), "/api/modlog?admin_key=", "", http.StatusUnauthorized},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			app.admin = tc.gate
			req := httptest.NewRequest("GET", tc.path, nil)
			if tc.header != "" {
				req.Header.Set("X-Admin-Key", tc.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)
			if rr.Code != tc.expected {
				t.Errorf("Expected status %d, got %d. Body: %s", tc.expected, rr.Code, rr.Body.String())
			}
		})
	}
}

func TestHandleCreateBoard(t *testing.T) {
	app := setupTestApp(t)
	router := SetupRouter(app)

	rr, resp := doJSON(t, router, "POST", "/api/boards", map[string]interface{}{"name": "Tech", "displayName": "Technology", "prefix": 4}, true)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	board := resp["board"].(map[string]interface{})
	assert.Equal(t, "tech", board["name"])
	assert.Equal(t, float64(4), board["prefix"])
	assert.Len(t, app.modLog.Entries(), 1)

	testCases := []struct {
		name     string
		body     interface{}
		expected int
	}{
		{"Unauthenticated", nil, http.StatusUnauthorized},
		{"Duplicate name", map[string]interface{}{"name": "tech", "prefix": 5}, http.StatusConflict},
		{"Prefix owned", map[string]interface{}{"name": "other", "prefix": 4}, http.StatusBadRequest},
		{"Prefix out of range", map[string]interface{}{"name": "other", "prefix": 10}, http.StatusBadRequest},
		{"Missing prefix", map[string]interface{}{"name": "other"}, http.StatusBadRequest},
		{"Reserved name", map[string]interface{}{"name": "api", "prefix": 6}, http.StatusBadRequest},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rr, _ := doJSON(t, router, "POST", "/api/boards", tc.body, tc.body != nil)
			assert.Equal(t, tc.expected, rr.Code, rr.Body.String())
		})
	}

	rr, resp = doJSON(t, router, "PUT", "/api/boards/"+board["id"].(string), map[string]interface{}{"name": "tek", "displayName": "Tek"}, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "tek", resp["board"].(map[string]interface{})["name"])
	assert.Equal(t, float64(4), resp["board"].(map[string]interface{})["prefix"], "prefix is immutable")
}

func TestModerationDeletes(t *testing.T) {
	app := setupTestApp(t)
	router := SetupRouter(app)
	ctx := context.Background()

	board, err := app.db.CreateBoard(ctx, "b", "", 5)
	require.NoError(t, err)

	imageURL, err := app.storage.SaveFile(ctx, "op.png", []byte("x"), "image/png")
	require.NoError(t, err)
	thread, err := app.db.CreateThread(ctx, models.ThreadInput{BoardID: board.ID, Content: "op", ImageURL: imageURL})
	require.NoError(t, err)
	post, err := app.db.CreatePost(ctx, models.PostInput{ThreadID: thread.ThreadID, Content: "reply", ImageURL: "https://example.com/ext.png"})
	require.NoError(t, err)
	second, err := app.db.CreatePost(ctx, models.PostInput{ThreadID: thread.ThreadID, Content: "reply 2"})
	require.NoError(t, err)

	t.Run("Update thread", func(t *testing.T) {
		rr, resp := doJSON(t, router, "PUT", fmt.Sprintf("/api/threads/%d", thread.ThreadID), map[string]interface{}{"content": "edited"}, true)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		assert.Equal(t, "edited", resp["thread"].(map[string]interface{})["content"])
		assert.Equal(t, "5000001", resp["thread"].(map[string]interface{})["threadId"])
	})

	t.Run("Delete post", func(t *testing.T) {
		rr, _ := doJSON(t, router, "DELETE", fmt.Sprintf("/api/posts/%d", second.ID), nil, true)
		require.Equal(t, http.StatusOK, rr.Code)
		rr, _ = doJSON(t, router, "DELETE", fmt.Sprintf("/api/posts/%d", second.ID), nil, true)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("Delete thread cascades and removes owned images", func(t *testing.T) {
		rr, _ := doJSON(t, router, "DELETE", fmt.Sprintf("/api/threads/%d", thread.ThreadID), nil, true)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

		_, err := app.db.GetPost(ctx, post.ID)
		assert.ErrorIs(t, err, models.ErrPostNotFound)
		_, err = os.Stat(filepath.Join(app.uploadDir, "images", "op.png"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("Delete board", func(t *testing.T) {
		rr, _ := doJSON(t, router, "DELETE", "/api/boards/"+board.ID, nil, true)
		require.Equal(t, http.StatusOK, rr.Code)
		rr, _ = doJSON(t, router, "GET", "/api/boards/"+board.ID, nil, false)
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	assert.Equal(t, []string{
		"DELETE_POST: Post ID: 5000002",
		"DELETE_THREAD: Thread ID: 5000001",
		"DELETE_BOARD: Board ID: " + board.ID,
	}, app.modLog.Entries())
}

func TestHandleDeleteImage(t *testing.T) {
	app := setupTestApp(t)
	router := SetupRouter(app)
	_, err := app.storage.SaveFile(context.Background(), "pic.png", []byte("x"), "image/png")
	require.NoError(t, err)

	rr, _ := doJSON(t, router, "DELETE", "/api/upload/image/pic.png", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr, resp := doJSON(t, router, "DELETE", "/api/upload/image/pic.png", nil, true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, true, resp["success"])
	assert.Equal(t, []string{modlog.ActionDeleteImage + ": File: pic.png"}, app.modLog.Entries())

	rr, resp = doJSON(t, router, "DELETE", "/api/upload/image/pic.png", nil, true)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "File not found", resp["error"])
}

func TestModLogAndBackupEndpoints(t *testing.T) {
	app := setupTestApp(t)
	router := SetupRouter(app)
	ctx := context.Background()
	for _, action := range []string{modlog.ActionCreateBoard, modlog.ActionDeleteBoard} {
		require.NoError(t, app.db.RecordModAction(ctx, models.ModAction{Timestamp: utils.GetSQLTime(), Action: action, Details: "x"}))
	}

	rr, resp := doJSON(t, router, "GET", "/api/modlog?limit=1", nil, true)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, float64(2), resp["total"])
	assert.Len(t, resp["actions"], 1)

	rr, resp = doJSON(t, router, "POST", "/api/admin/backup", nil, true)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	_, err := os.Stat(resp["path"].(string))
	assert.NoError(t, err)
}

func TestStatusMapping(t *testing.T) {
	testCases := []struct {
		name     string
		err      error
		creating bool
		status   int
		message  string
	}{
		{"Validation", models.Validationf("content is required"), false, http.StatusBadRequest, "content is required"},
		{"Not found on read", fmt.Errorf("%w: 1", models.ErrThreadNotFound), false, http.StatusNotFound, "Thread not found"},
		{"Not found on create", fmt.Errorf("%w: x", models.ErrBoardNotFound), true, http.StatusBadRequest, "Board not found"},
		{"Prefix not set", models.ErrPrefixNotSet, true, http.StatusBadRequest, "Board prefix not set"},
		{"Duplicate", models.ErrDuplicateName, false, http.StatusConflict, models.ErrDuplicateName.Error()},
		{"Lock timeout", fmt.Errorf("threads:7: %w", models.ErrLockTimeout), true, http.StatusServiceUnavailable, "Server busy, please retry"},
		{"Busy store", &models.StorageError{Op: "insert", Err: errors.New("database is locked"), Retryable: true}, true, http.StatusServiceUnavailable, "Server busy, please retry"},
		{"Exhausted", models.ErrPartitionExhausted, true, http.StatusInsufficientStorage, "Board has run out of identifiers"},
		{"Unexpected", errors.New("boom"), true, http.StatusInternalServerError, "Failed to create thread"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.status, statusFor(tc.err, tc.creating))
			assert.Equal(t, tc.message, clientMessage(tc.err, "Failed to create thread"))
		})
	}

	app := setupTestApp(t)
	rr := httptest.NewRecorder()
	respondError(rr, models.ErrLockTimeout, "x", true, app.logger, app)
	assert.Equal(t, "1", rr.Header().Get("Retry-After"))
}

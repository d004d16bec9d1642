package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"

	"crispy/models"
	"crispy/modlog"
	"crispy/utils"

	"github.com/go-chi/chi/v5"
)

// --- Boards ---

func HandleCreateBoard(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreateBoard")
	var req boardRequest
	if err := decodeBody(r, boardSchema, "Board name and prefix are required", &req); err != nil {
		respondError(w, err, "Failed to create board", false, logger, app)
		return
	}

	board, err := app.DB().CreateBoard(r.Context(), req.Name, deref(req.DisplayName), req.Prefix)
	if err != nil {
		respondError(w, err, "Failed to create board", false, logger, app)
		return
	}
	app.ModLog().Log(modlog.ActionCreateBoard, fmt.Sprintf("Board: %s (%s), prefix %d", board.Name, board.ID, board.Prefix))
	respondJSON(w, http.StatusCreated, map[string]interface{}{"board": board}, app)
}

func HandleUpdateBoard(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUpdateBoard")
	var req boardRequest
	if err := decodeBody(r, boardUpdateSchema, "Board name is required", &req); err != nil {
		respondError(w, err, "Failed to update board", false, logger, app)
		return
	}

	board, err := app.DB().UpdateBoard(r.Context(), chi.URLParam(r, "id"), req.Name, deref(req.DisplayName))
	if err != nil {
		respondError(w, err, "Failed to update board", false, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"board": board}, app)
}

// HandleDeleteBoard removes a board with all of its threads and posts.
func HandleDeleteBoard(w http.ResponseWriter, r *http.Request, app App) {
	boardID := chi.URLParam(r, "id")
	logger := app.Logger().With("handler", "HandleDeleteBoard", "board_id", boardID)

	images, err := app.DB().DeleteBoard(r.Context(), boardID)
	if err != nil {
		respondError(w, err, "Failed to delete board", false, logger, app)
		return
	}
	app.ModLog().Log(modlog.ActionDeleteBoard, "Board ID: "+boardID)
	removeImages(r.Context(), app, logger, images)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Board deleted successfully"}, app)
}

// --- Threads ---

func HandleUpdateThread(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUpdateThread")
	var req contentRequest
	if err := decodeBody(r, contentSchema, "Content is required", &req); err != nil {
		respondError(w, err, "Failed to update thread", false, logger, app)
		return
	}
	id, err := idParam(r, "id", models.ErrThreadNotFound)
	if err != nil {
		respondError(w, err, "Failed to update thread", false, logger, app)
		return
	}

	thread, err := app.DB().UpdateThread(r.Context(), id, req.update())
	if err != nil {
		respondError(w, err, "Failed to update thread", false, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"thread": thread}, app)
}

func HandleDeleteThread(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteThread")
	id, err := idParam(r, "id", models.ErrThreadNotFound)
	if err != nil {
		respondError(w, err, "Failed to delete thread", false, logger, app)
		return
	}

	images, err := app.DB().DeleteThread(r.Context(), id)
	if err != nil {
		respondError(w, err, "Failed to delete thread", false, logger, app)
		return
	}
	app.ModLog().Log(modlog.ActionDeleteThread, fmt.Sprintf("Thread ID: %d", id))
	removeImages(r.Context(), app, logger, images)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Thread deleted successfully"}, app)
}

// --- Posts ---

func HandleUpdatePost(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUpdatePost")
	var req contentRequest
	if err := decodeBody(r, contentSchema, "Content is required", &req); err != nil {
		respondError(w, err, "Failed to update post", false, logger, app)
		return
	}
	id, err := idParam(r, "id", models.ErrPostNotFound)
	if err != nil {
		respondError(w, err, "Failed to update post", false, logger, app)
		return
	}

	post, err := app.DB().UpdatePost(r.Context(), id, req.update())
	if err != nil {
		respondError(w, err, "Failed to update post", false, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"post": post}, app)
}

func HandleDeletePost(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeletePost")
	id, err := idParam(r, "id", models.ErrPostNotFound)
	if err != nil {
		respondError(w, err, "Failed to delete post", false, logger, app)
		return
	}

	images, err := app.DB().DeletePost(r.Context(), id)
	if err != nil {
		respondError(w, err, "Failed to delete post", false, logger, app)
		return
	}
	app.ModLog().Log(modlog.ActionDeletePost, fmt.Sprintf("Post ID: %d", id))
	removeImages(r.Context(), app, logger, images)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Post deleted successfully"}, app)
}

// --- Images ---

func HandleDeleteImage(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDeleteImage")
	name, err := utils.ObjectName(chi.URLParam(r, "filename"))
	if err != nil {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid file name"}, app)
		return
	}

	if err := app.Storage().DeleteFile(r.Context(), name); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			respondJSON(w, http.StatusNotFound, map[string]string{"error": "File not found"}, app)
			return
		}
		logger.Error("Failed to delete file", "filename", name, "error", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to delete file"}, app)
		return
	}
	app.ModLog().Log(modlog.ActionDeleteImage, "File: "+name)
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "message": "File deleted successfully"}, app)
}

// --- Log & maintenance ---

// HandleModLog pages through recorded moderation actions, newest first.
func HandleModLog(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleModLog")
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}

	actions, total, err := app.DB().ListModActions(r.Context(), limit, offset)
	if err != nil {
		respondError(w, err, "Failed to fetch moderation log", false, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"actions": actions, "total": total}, app)
}

func HandleDatabaseBackup(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleDatabaseBackup")
	path, err := app.DB().BackupDatabase(r.Context())
	if err != nil {
		respondError(w, err, "Failed to back up database", false, logger, app)
		return
	}
	logger.Info("Database backup created", "path", path)
	respondJSON(w, http.StatusOK, map[string]string{"message": "Backup created", "path": path}, app)
}

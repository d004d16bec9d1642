package handlers

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"crispy/database"
	"crispy/models"
	"crispy/utils"

	"github.com/go-chi/chi/v5"
)

// ModLogger receives moderation actions. *modlog.Sink satisfies it.
type ModLogger interface {
	Log(action, details string)
}

// App is an interface that defines the dependencies our handlers need.
type App interface {
	DB() *database.DatabaseService
	RateLimiter() *models.RateLimiter
	Logger() *slog.Logger
	Storage() models.StorageService
	ModLog() ModLogger
	Admin() *utils.AdminGate
	UploadDir() string
	CORSOrigins() []string
	RequestTimeout() time.Duration
}

// respondJSON sends a JSON response with a given status code.
func respondJSON(w http.ResponseWriter, status int, payload interface{}, app App) {
	response, err := json.Marshal(payload)
	if err != nil {
		app.Logger().Error("Failed to marshal JSON payload", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		if _, werr := w.Write([]byte(`{"error":"Failed to marshal JSON response"}`)); werr != nil {
			app.Logger().Error("Failed to write internal server error response", "error", werr)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(response); err != nil {
		app.Logger().Error("Failed to write JSON response", "error", err)
	}
}

// MakeHandler adapts a handler taking App to an http.HandlerFunc.
func MakeHandler(app App, fn func(http.ResponseWriter, *http.Request, App)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fn(w, r, app)
	}
}

func HandleHealth(w http.ResponseWriter, _ *http.Request, app App) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "OK", "message": "Server is running"}, app)
}

func HandleNotFound(w http.ResponseWriter, _ *http.Request, app App) {
	respondJSON(w, http.StatusNotFound, map[string]string{"error": "Route not found"}, app)
}

// idParam parses a numeric thread or post identifier from the URL. Anything unparsable
// cannot name an existing row and is reported as notFound.
func idParam(r *http.Request, name string, notFound error) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, notFound
	}
	return id, nil
}

// removeImages deletes stored images left behind by a deleted board, thread or post.
// Failures are logged; the rows are already gone.
func removeImages(ctx context.Context, app App, logger *slog.Logger, urls []string) {
	store := app.Storage()
	if store == nil {
		return
	}
	for _, u := range urls {
		if !store.Owns(u) {
			continue
		}
		if err := store.DeleteFile(ctx, u); err != nil {
			logger.Warn("Failed to delete image", "image_url", u, "error", err)
		}
	}
}

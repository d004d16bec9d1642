package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"crispy/config"
	"crispy/models"
	"crispy/utils"

	"github.com/disintegration/imaging"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
)

// --- Boards ---

func HandleListBoards(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListBoards")
	boards, err := app.DB().ListBoards(r.Context())
	if err != nil {
		respondError(w, err, "Failed to fetch boards", false, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"boards": boards}, app)
}

func HandleGetBoard(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleGetBoard")
	board, err := app.DB().ResolveByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, err, "Failed to fetch board", false, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"board": board}, app)
}

func HandleGetBoardByName(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleGetBoardByName")
	board, err := app.DB().ResolveByName(r.Context(), strings.ToLower(chi.URLParam(r, "name")))
	if err != nil {
		respondError(w, err, "Failed to fetch board", false, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"board": board}, app)
}

// --- Threads ---

func HandleListThreads(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListThreads")
	threads, err := app.DB().ListThreads(r.Context(), r.URL.Query().Get("boardId"))
	if err != nil {
		respondError(w, err, "Failed to fetch threads", false, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"threads": threads}, app)
}

func HandleGetThread(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleGetThread")
	id, err := idParam(r, "id", models.ErrThreadNotFound)
	if err == nil {
		var thread *models.Thread
		if thread, err = app.DB().GetThread(r.Context(), id); err == nil {
			respondJSON(w, http.StatusOK, map[string]interface{}{"thread": thread}, app)
			return
		}
	}
	respondError(w, err, "Failed to fetch thread", false, logger, app)
}

// HandleCreateThread allocates the next thread identifier of the board's partition.
func HandleCreateThread(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreateThread")
	var req threadRequest
	if err := decodeBody(r, threadSchema, "Board ID and content are required", &req); err != nil {
		respondError(w, err, "Failed to create thread", true, logger, app)
		return
	}

	thread, err := app.DB().CreateThread(r.Context(), models.ThreadInput{
		BoardID:  req.BoardID,
		Content:  req.Content,
		ImageURL: deref(req.ImageURL),
		ImageAlt: deref(req.ImageAlt),
		OriginIP: deref(req.OpIP),
	})
	if err != nil {
		respondError(w, err, "Failed to create thread", true, logger, app)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"thread": thread}, app)
}

// --- Posts ---

func HandleListPosts(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleListPosts")
	var threadID int64
	if raw := r.URL.Query().Get("threadId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			respondError(w, models.Validationf("invalid threadId"), "Failed to fetch posts", false, logger, app)
			return
		}
		threadID = id
	}
	posts, err := app.DB().ListPosts(r.Context(), threadID)
	if err != nil {
		respondError(w, err, "Failed to fetch posts", false, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"posts": posts}, app)
}

func HandleGetPost(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleGetPost")
	id, err := idParam(r, "id", models.ErrPostNotFound)
	if err == nil {
		var post *models.Post
		if post, err = app.DB().GetPost(r.Context(), id); err == nil {
			respondJSON(w, http.StatusOK, map[string]interface{}{"post": post}, app)
			return
		}
	}
	respondError(w, err, "Failed to fetch post", false, logger, app)
}

// HandleCreatePost allocates the next post identifier of the partition owning the thread.
func HandleCreatePost(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleCreatePost")
	var req postRequest
	if err := decodeBody(r, postSchema, "Thread ID and content are required", &req); err != nil {
		respondError(w, err, "Failed to create post", true, logger, app)
		return
	}

	post, err := app.DB().CreatePost(r.Context(), models.PostInput{
		ThreadID: int64(req.ThreadID),
		Content:  req.Content,
		ImageURL: deref(req.ImageURL),
		ImageAlt: deref(req.ImageAlt),
	})
	if err != nil {
		respondError(w, err, "Failed to create post", true, logger, app)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{"post": post}, app)
}

// --- Uploads ---

var allowedImageTypes = map[string]string{
	".jpeg": "image/jpeg",
	".jpg":  "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
}

type uploadResponse struct {
	Success bool `json:"success"`
	models.StoredFile
}

func HandleUploadImage(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUploadImage")
	files, err := parseUpload(w, r, "image", 1)
	if err != nil {
		respondError(w, err, "Failed to upload file", false, logger, app)
		return
	}
	if len(files) == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "No file uploaded"}, app)
		return
	}

	stored, err := storeImage(r, app, logger, files[0])
	if err != nil {
		respondError(w, err, "Failed to upload file", false, logger, app)
		return
	}
	respondJSON(w, http.StatusOK, uploadResponse{Success: true, StoredFile: *stored}, app)
}

func HandleUploadImages(w http.ResponseWriter, r *http.Request, app App) {
	logger := app.Logger().With("handler", "HandleUploadImages")
	files, err := parseUpload(w, r, "images", config.MaxUploadFiles)
	if err != nil {
		respondError(w, err, "Failed to upload files", false, logger, app)
		return
	}
	if len(files) == 0 {
		respondJSON(w, http.StatusBadRequest, map[string]string{"error": "No files uploaded"}, app)
		return
	}

	// Validate everything before storing anything.
	for _, fh := range files {
		if _, _, err := readImage(fh); err != nil {
			respondError(w, err, "Failed to upload files", false, logger, app)
			return
		}
	}

	stored := make([]models.StoredFile, 0, len(files))
	for _, fh := range files {
		sf, err := storeImage(r, app, logger, fh)
		if err != nil {
			respondError(w, err, "Failed to upload files", false, logger, app)
			return
		}
		stored = append(stored, *sf)
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"success": true, "files": stored}, app)
}

func parseUpload(w http.ResponseWriter, r *http.Request, field string, limit int) ([]*multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, int64(limit)*config.MaxFileSize+1<<20)
	if err := r.ParseMultipartForm(config.MaxFileSize + 1024); err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return nil, models.Validationf("File too large. Maximum size is %dMB.", config.MaxFileSize/1024/1024)
		}
		return nil, models.Validationf("invalid multipart form")
	}
	files := r.MultipartForm.File[field]
	if len(files) > limit {
		return nil, models.Validationf("Too many files. Maximum is %d.", limit)
	}
	return files, nil
}

// readImage enforces the size, extension and dimension limits and fully decodes the image
// to prove it is one.
func readImage(fh *multipart.FileHeader) ([]byte, string, error) {
	if fh.Size > config.MaxFileSize {
		return nil, "", models.Validationf("File too large. Maximum size is %dMB.", config.MaxFileSize/1024/1024)
	}
	ext := strings.ToLower(filepath.Ext(fh.Filename))
	if _, ok := allowedImageTypes[ext]; !ok {
		return nil, "", models.Validationf("Only image files are allowed!")
	}

	file, err := fh.Open()
	if err != nil {
		return nil, "", fmt.Errorf("could not open upload: %w", err)
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, config.MaxFileSize+1))
	if err != nil {
		return nil, "", fmt.Errorf("could not read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", models.Validationf("file is empty")
	}
	if len(data) > config.MaxFileSize {
		return nil, "", models.Validationf("File too large. Maximum size is %dMB.", config.MaxFileSize/1024/1024)
	}

	contentType := http.DetectContentType(data)
	allowed := false
	for _, ct := range allowedImageTypes {
		if ct == contentType {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, "", models.Validationf("Only image files are allowed!")
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", models.Validationf("invalid image format")
	}
	if cfg.Width > config.MaxWidth || cfg.Height > config.MaxHeight {
		return nil, "", models.Validationf("image dimensions (%dx%d) exceed maximum (%dx%d)", cfg.Width, cfg.Height, config.MaxWidth, config.MaxHeight)
	}
	if _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return nil, "", models.Validationf("invalid image data")
	}
	return data, contentType, nil
}

func storeImage(r *http.Request, app App, logger *slog.Logger, fh *multipart.FileHeader) (*models.StoredFile, error) {
	data, contentType, err := readImage(fh)
	if err != nil {
		logger.Info("Rejected upload", "filename", fh.Filename, "ip", utils.GetIPAddress(r), "error", err)
		return nil, err
	}
	filename := uuid.New().String() + strings.ToLower(filepath.Ext(fh.Filename))
	url, err := app.Storage().SaveFile(r.Context(), filename, data, contentType)
	if err != nil {
		return nil, fmt.Errorf("could not store image: %w", err)
	}
	logger.Info("Image stored", "filename", filename, "size", len(data))
	return &models.StoredFile{
		ImageURL:     url,
		Filename:     filename,
		OriginalName: fh.Filename,
		Size:         int64(len(data)),
	}, nil
}

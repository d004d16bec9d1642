package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"crispy/database"
	"crispy/models"
	"crispy/utils"
)

const testAdminKey = "test-admin-key"

type recordingModLog struct {
	mu      sync.Mutex
	entries []string
}

func (m *recordingModLog) Log(action, details string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, action+": "+details)
}

func (m *recordingModLog) Entries() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.entries...)
}

// MockApplication holds dependencies for handler tests.
type MockApplication struct {
	db          *database.DatabaseService
	rateLimiter *models.RateLimiter
	storage     *utils.LocalStorage
	modLog      *recordingModLog
	admin       *utils.AdminGate
	uploadDir   string
	logger      *slog.Logger
}

func (a *MockApplication) DB() *database.DatabaseService    { return a.db }
func (a *MockApplication) RateLimiter() *models.RateLimiter { return a.rateLimiter }
func (a *MockApplication) Logger() *slog.Logger             { return a.logger }
func (a *MockApplication) Storage() models.StorageService   { return a.storage }
func (a *MockApplication) ModLog() ModLogger                { return a.modLog }
func (a *MockApplication) Admin() *utils.AdminGate          { return a.admin }
func (a *MockApplication) UploadDir() string                { return a.uploadDir }
func (a *MockApplication) CORSOrigins() []string            { return []string{"*"} }
func (a *MockApplication) RequestTimeout() time.Duration    { return 10 * time.Second }

// setupTestApp creates a full application stack with a test database for integration testing.
func setupTestApp(t *testing.T) *MockApplication {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	dir := t.TempDir()

	dbService, err := database.InitDB(database.Options{
		Path:      filepath.Join(dir, "test.db"),
		BackupDir: filepath.Join(dir, "backups"),
		LockWait:  10 * time.Second,
	}, logger)
	if err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}
	t.Cleanup(func() { dbService.Close() })

	uploadDir := filepath.Join(dir, "uploads")
	return &MockApplication{
		db:          dbService,
		rateLimiter: models.NewRateLimiter(time.Millisecond, 1000, 0, time.Hour),
		storage:     &utils.LocalStorage{Dir: uploadDir},
		modLog:      &recordingModLog{},
		admin:       utils.NewAdminGate(testAdminKey, ""),
		uploadDir:   uploadDir,
		logger:      logger,
	}
}

// doJSON sends a request through the full router and decodes the JSON response.
func doJSON(t *testing.T, h http.Handler, method, path string, body interface{}, admin bool) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case string:
			reader = bytes.NewBufferString(b)
		default:
			data, err := json.Marshal(b)
			if err != nil {
				t.Fatalf("Failed to marshal request body: %v", err)
			}
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("X-Admin-Key", testAdminKey)
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var resp map[string]interface{}
	if rr.Body.Len() > 0 {
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Response is not JSON (status %d): %s", rr.Code, rr.Body.String())
		}
	}
	return rr, resp
}

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"crispy/config"
	"crispy/handlers"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeConfig writes a YAML config rooted in a temp dir and returns its path.
func writeConfig(t *testing.T, extra string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	body := fmt.Sprintf(`db_path: %s
backup_dir: %s
upload_dir: %s
moderation_log: %s
admin_key: cli-test-key
alloc_lock_timeout: 2s
%s`,
		filepath.Join(dir, "crispy.db"),
		filepath.Join(dir, "backups"),
		filepath.Join(dir, "uploads"),
		filepath.Join(dir, "data", "moderation.log"),
		extra)
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path, dir
}

func runCLI(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestBoardCommands(t *testing.T) {
	cfgPath, dir := writeConfig(t, "")

	out, _, err := runCLI(t, "--config", cfgPath, "board", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "No boards.")

	out, _, err = runCLI(t, "--config", cfgPath, "board", "create", "--name", "g", "--display-name", "Technology", "--prefix", "7")
	require.NoError(t, err)
	assert.Contains(t, out, "Created /g/ with prefix 7")
	id := strings.TrimSpace(strings.TrimPrefix(strings.Split(out, "\n")[1], "id: "))
	require.NotEmpty(t, id)

	_, stderr, err := runCLI(t, "--config", cfgPath, "board", "create", "--name", "h", "--prefix", "7")
	require.Error(t, err)
	assert.Contains(t, stderr, "Error:")

	out, _, err = runCLI(t, "--config", cfgPath, "board", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "/g/")
	assert.Contains(t, out, "Technology")

	out, _, err = runCLI(t, "--config", cfgPath, "backup")
	require.NoError(t, err)
	assert.Contains(t, out, "Backup written to")

	out, _, err = runCLI(t, "--config", cfgPath, "board", "delete", id)
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted board "+id)

	logData, err := os.ReadFile(filepath.Join(dir, "data", "moderation.log"))
	require.NoError(t, err)
	assert.Contains(t, string(logData), "CREATE_BOARD: Board: g")
	assert.Contains(t, string(logData), "DELETE_BOARD: Board ID: "+id)
}

func TestHashKeyCommand(t *testing.T) {
	out, _, err := runCLI(t, "hash-key", "s3cret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(strings.TrimSpace(out), "$2"))
}

func TestBuildApplicationWithRedisLocks(t *testing.T) {
	mr := miniredis.RunT(t)
	cfgPath, _ := writeConfig(t, "redis_url: redis://"+mr.Addr()+"/0\n")
	cfg, err := config.Load(cfgPath, slogDiscard())
	require.NoError(t, err)

	app, cleanup, err := buildApplication(context.Background(), cfg, slogDiscard())
	require.NoError(t, err)
	defer cleanup()

	router := handlers.SetupRouter(app)
	post := func(path, body string, admin bool) (*httptest.ResponseRecorder, map[string]interface{}) {
		req := httptest.NewRequest("POST", path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		if admin {
			req.Header.Set("X-Admin-Key", "cli-test-key")
		}
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, req)
		var resp map[string]interface{}
		_ = json.Unmarshal(rr.Body.Bytes(), &resp)
		return rr, resp
	}

	rr, resp := post("/api/boards", `{"name":"a","prefix":3}`, true)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	boardID := resp["board"].(map[string]interface{})["id"].(string)

	for _, want := range []string{"3000001", "3000002"} {
		rr, resp = post("/api/threads", `{"boardId":"`+boardID+`","content":"hello"}`, false)
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		assert.Equal(t, want, resp["thread"].(map[string]interface{})["threadId"])
	}
	assert.Empty(t, mr.Keys(), "partition locks are released after each allocation")
}

func TestBuildApplicationRejectsBadRedisURL(t *testing.T) {
	cfgPath, _ := writeConfig(t, "redis_url: \"not a url\"\n")
	cfg, err := config.Load(cfgPath, slogDiscard())
	require.NoError(t, err)

	_, _, err = buildApplication(context.Background(), cfg, slogDiscard())
	assert.Error(t, err)
}

func slogDiscard() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

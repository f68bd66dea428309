package server_test

import (
	"archive/zip"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/denysvitali/sharedfiles-go/internal/models"
	"github.com/denysvitali/sharedfiles-go/pkg/config"
	"github.com/denysvitali/sharedfiles-go/pkg/server"
)

func newTestConfig(t *testing.T) *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			Port:              5000,
			Root:              filepath.Join(t.TempDir(), "shared_files"),
			ScratchFile:       "untitled.txt",
			MaxUploadMemoryMB: 1,
		},
		Archive: config.ArchiveConfig{
			CompressionLevel: -1,
		},
		Metrics: config.MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Telemetry: config.TelemetryConfig{
			Enabled: false,
		},
	}
}

func setupTestServer(t *testing.T, cfg *config.Config) *server.Server {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	srv, err := server.New(cfg, logger)
	require.NoError(t, err, "Failed to create server")
	return srv
}

func writeFile(t *testing.T, root, name, content string) {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
	require.NoError(t, os.WriteFile(full, []byte(content), 0644))
}

func do(srv *server.Server, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	srv.Engine().ServeHTTP(rr, req)
	return rr
}

func postForm(path string, values url.Values) *http.Request {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(values.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

func TestHandleAlive_Success(t *testing.T) {
	srv := setupTestServer(t, newTestConfig(t))

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/alive", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp["status"])
}

func TestNew_CreatesRoot(t *testing.T) {
	cfg := newTestConfig(t)
	setupTestServer(t, cfg)

	info, err := os.Stat(cfg.Server.Root)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestHandleTree_Scenario(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)
	writeFile(t, cfg.Server.Root, "a/b.txt", "b")
	writeFile(t, cfg.Server.Root, "a/c/d.txt", "d")
	writeFile(t, cfg.Server.Root, "untitled.txt", "scratch")

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/api/tree", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var entries []models.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))

	expected := []models.Entry{
		models.NewDirectoryEntry("a", "a", []models.Entry{
			models.NewFileEntry("b.txt", "a/b.txt"),
			models.NewDirectoryEntry("c", "a/c", []models.Entry{
				models.NewFileEntry("d.txt", "a/c/d.txt"),
			}),
		}),
	}
	assert.Equal(t, expected, entries)
}

func TestHandleIndex_RendersTree(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)
	writeFile(t, cfg.Server.Root, "docs/report final.pdf", "pdf")
	writeFile(t, cfg.Server.Root, "untitled.txt", "scratch")

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, body, "report final.pdf")
	assert.Contains(t, body, `/download_folder/docs`)
	assert.Contains(t, body, `/download_file/docs/report%20final.pdf`)
	assert.NotContains(t, body, "/files/untitled.txt")
}

func TestHandleIndex_EscapesLinks(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)
	writeFile(t, cfg.Server.Root, "q?/a#b.txt", "hash")

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, `href="/files/q%3F/a%23b.txt"`)
	assert.Contains(t, body, `href="/download_folder/q%3F"`)
	assert.Contains(t, body, `action="/delete_file/q%3F/a%23b.txt"`)
	assert.NotContains(t, body, `/files/q?/a#b.txt`)

	// the escaped link reaches the file
	rr = do(srv, httptest.NewRequest(http.MethodGet, "/files/q%3F/a%23b.txt", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "hash", rr.Body.String())
}

func TestHandleIndex_Empty(t *testing.T) {
	srv := setupTestServer(t, newTestConfig(t))

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "No files yet.")
}

func TestHandleUpload(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("files", "hello.txt")
	require.NoError(t, err)
	_, err = part.Write([]byte("hello"))
	require.NoError(t, err)

	// a folder upload keeps its relative path
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename="album/2024/cat.jpg"`)
	h.Set("Content-Type", "application/octet-stream")
	part, err = mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("meow"))
	require.NoError(t, err)

	// nameless parts are skipped
	h = make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="files"; filename=""`)
	part, err = mw.CreatePart(h)
	require.NoError(t, err)
	_, err = part.Write([]byte("ignored"))
	require.NoError(t, err)

	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	rr := do(srv, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	data, err := os.ReadFile(filepath.Join(cfg.Server.Root, "hello.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	data, err = os.ReadFile(filepath.Join(cfg.Server.Root, "album", "2024", "cat.jpg"))
	require.NoError(t, err)
	assert.Equal(t, "meow", string(data))

	entries, err := os.ReadDir(cfg.Server.Root)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestHandleUpload_NotMultipart(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodPost, "/upload", strings.NewReader("plain"))
	req.Header.Set("Content-Type", "text/plain")

	rr := do(srv, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	entries, err := os.ReadDir(cfg.Server.Root)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestHandleServeFile(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)
	writeFile(t, cfg.Server.Root, "notes/todo.txt", "buy milk")

	t.Run("inline", func(t *testing.T) {
		rr := do(srv, httptest.NewRequest(http.MethodGet, "/files/notes/todo.txt", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "buy milk", rr.Body.String())
		assert.Empty(t, rr.Header().Get("Content-Disposition"))
	})

	t.Run("attachment", func(t *testing.T) {
		rr := do(srv, httptest.NewRequest(http.MethodGet, "/download_file/notes/todo.txt", nil))
		require.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "buy milk", rr.Body.String())
		assert.Equal(t, "attachment; filename=todo.txt", rr.Header().Get("Content-Disposition"))
	})

	t.Run("missing", func(t *testing.T) {
		rr := do(srv, httptest.NewRequest(http.MethodGet, "/download_file/notes/nope.txt", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})

	t.Run("directory", func(t *testing.T) {
		rr := do(srv, httptest.NewRequest(http.MethodGet, "/files/notes", nil))
		assert.Equal(t, http.StatusNotFound, rr.Code)
	})
}

func TestHandleDownloadFolder(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)
	writeFile(t, cfg.Server.Root, "a/b.txt", "bee")
	writeFile(t, cfg.Server.Root, "a/c/d.txt", "dee")

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/download_folder/a", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/zip", rr.Header().Get("Content-Type"))
	assert.Equal(t, "attachment; filename=a.zip", rr.Header().Get("Content-Disposition"))

	zr, err := zip.NewReader(bytes.NewReader(rr.Body.Bytes()), int64(rr.Body.Len()))
	require.NoError(t, err)

	got := map[string]string{}
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		rc.Close()
		got[f.Name] = string(data)
	}
	assert.Equal(t, map[string]string{"a/b.txt": "bee", "a/c/d.txt": "dee"}, got)
}

func TestHandleDownloadFolder_NotFound(t *testing.T) {
	srv := setupTestServer(t, newTestConfig(t))

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/download_folder/missing", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)

	var resp models.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.Equal(t, "Folder not found", resp.Error)
}

func TestHandleDownloadFolder_Errors(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Archive.MaxEntries = 1
	srv := setupTestServer(t, cfg)
	writeFile(t, cfg.Server.Root, "big/1.txt", "1")
	writeFile(t, cfg.Server.Root, "big/2.txt", "2")
	writeFile(t, cfg.Server.Root, "plain.txt", "p")

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/download_folder/big", nil))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/download_folder/plain.txt", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleDeleteFile(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)
	writeFile(t, cfg.Server.Root, "a/b.txt", "b")

	for i := 0; i < 2; i++ {
		rr := do(srv, httptest.NewRequest(http.MethodPost, "/delete_file/a/b.txt", nil))
		assert.Equal(t, http.StatusFound, rr.Code, "attempt %d", i)
		assert.Equal(t, "/", rr.Header().Get("Location"))
	}

	_, err := os.Stat(filepath.Join(cfg.Server.Root, "a", "b.txt"))
	assert.True(t, os.IsNotExist(err))
}

func TestHandleDeleteFolder(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)
	writeFile(t, cfg.Server.Root, "a/c/d.txt", "d")

	for i := 0; i < 2; i++ {
		rr := do(srv, httptest.NewRequest(http.MethodPost, "/delete_folder/a", nil))
		assert.Equal(t, http.StatusFound, rr.Code, "attempt %d", i)
	}

	_, err := os.Stat(filepath.Join(cfg.Server.Root, "a"))
	assert.True(t, os.IsNotExist(err))

	rr := do(srv, httptest.NewRequest(http.MethodPost, "/delete_folder/", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	_, err = os.Stat(cfg.Server.Root)
	assert.NoError(t, err)
}

func TestLocalText(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/read_local_text", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "<textarea name=\"content\"></textarea>")

	rr = do(srv, postForm("/create_local_text", url.Values{"content": {"line <one>"}}))
	assert.Equal(t, http.StatusFound, rr.Code)

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/read_local_text", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "line &lt;one&gt;")

	// a missing field stores an empty file
	rr = do(srv, postForm("/create_local_text", url.Values{}))
	assert.Equal(t, http.StatusFound, rr.Code)

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/api/text", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var text models.TextContent
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &text))
	assert.Equal(t, "", text.Content)

	data, err := os.ReadFile(filepath.Join(cfg.Server.Root, "untitled.txt"))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestAPIText(t *testing.T) {
	srv := setupTestServer(t, newTestConfig(t))

	payload, err := json.Marshal(models.TextContent{Content: "from the api"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPut, "/api/text", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rr := do(srv, req)
	assert.Equal(t, http.StatusNoContent, rr.Code)

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/api/text", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"content":"from the api"}`, rr.Body.String())

	req = httptest.NewRequest(http.MethodPut, "/api/text", strings.NewReader("invalid-json"))
	req.Header.Set("Content-Type", "application/json")
	rr = do(srv, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleServerInfo(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)
	writeFile(t, cfg.Server.Root, "a/b.txt", "b")

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/server_info", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	var resp models.ServerInfoResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &resp))
	assert.GreaterOrEqual(t, resp.Uptime, 0.0)
	assert.Equal(t, cfg.Server.Root, resp.Root)
	assert.Equal(t, 2, resp.TreeSize)
	assert.Positive(t, resp.Disk.Total)
}

func TestRequestID(t *testing.T) {
	srv := setupTestServer(t, newTestConfig(t))

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/alive", nil))
	generated := rr.Header().Get("X-Request-ID")
	_, err := uuid.Parse(generated)
	assert.NoError(t, err)

	id := uuid.New().String()
	req := httptest.NewRequest(http.MethodGet, "/alive", nil)
	req.Header.Set("X-Request-ID", id)
	rr = do(srv, req)
	assert.Equal(t, id, rr.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/alive", nil)
	req.Header.Set("X-Request-ID", "not a uuid")
	rr = do(srv, req)
	assert.NotEqual(t, "not a uuid", rr.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)
	writeFile(t, cfg.Server.Root, "a/b.txt", "b")

	do(srv, httptest.NewRequest(http.MethodGet, "/download_folder/a", nil))

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `sharedfiles_archives_total{status="success"}`)
	assert.Contains(t, rr.Body.String(), `route="/download_folder/*path"`)
}

func TestMetricsDisabled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.Metrics.Enabled = false
	srv := setupTestServer(t, cfg)

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	srv := setupTestServer(t, newTestConfig(t))

	rr := do(srv, httptest.NewRequest(http.MethodOptions, "/upload", nil))
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestTreeRoundTripThroughUploadAndArchive(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)

	files := map[string]string{
		"proj/main.go":         "package main",
		"proj/pkg/util.go":     "package pkg",
		"proj/docs/README.md":  "# readme",
		"proj/docs/img/logo":   "png",
		"elsewhere/ignore.txt": "no",
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, content := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="files"; filename=%q`, name))
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	require.Equal(t, http.StatusNoContent, do(srv, req).Code)

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/download_folder/proj", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	zr, err := zip.NewReader(bytes.NewReader(rr.Body.Bytes()), int64(rr.Body.Len()))
	require.NoError(t, err)

	var names []string
	for _, f := range zr.File {
		names = append(names, f.Name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{
		"proj/docs/README.md",
		"proj/docs/img/logo",
		"proj/main.go",
		"proj/pkg/util.go",
	}, names)
}

func TestSymlinks(t *testing.T) {
	cfg := newTestConfig(t)
	srv := setupTestServer(t, cfg)
	root := cfg.Server.Root
	writeFile(t, root, "real/inner.txt", "inner")
	writeFile(t, root, "f/plain.txt", "plain")
	require.NoError(t, os.Symlink("real", filepath.Join(root, "linkdir")))
	require.NoError(t, os.Symlink(filepath.Join("..", "real", "inner.txt"), filepath.Join(root, "f", "linkfile.txt")))

	rr := do(srv, httptest.NewRequest(http.MethodGet, "/api/tree", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	var entries []models.Entry
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &entries))
	byName := map[string]models.Entry{}
	for _, e := range entries {
		byName[e.Name] = e
	}
	require.Contains(t, byName, "linkdir")
	assert.Equal(t, models.NewDirectoryEntry("linkdir", "linkdir", []models.Entry{
		models.NewFileEntry("inner.txt", "linkdir/inner.txt"),
	}), byName["linkdir"])

	unzipNames := func(path string) map[string]string {
		rr := do(srv, httptest.NewRequest(http.MethodGet, path, nil))
		require.Equal(t, http.StatusOK, rr.Code)
		zr, err := zip.NewReader(bytes.NewReader(rr.Body.Bytes()), int64(rr.Body.Len()))
		require.NoError(t, err)
		got := map[string]string{}
		for _, f := range zr.File {
			rc, err := f.Open()
			require.NoError(t, err)
			data, err := io.ReadAll(rc)
			require.NoError(t, err)
			rc.Close()
			got[f.Name] = string(data)
		}
		return got
	}

	assert.Equal(t, map[string]string{"linkdir/inner.txt": "inner"}, unzipNames("/download_folder/linkdir"))
	assert.Equal(t, map[string]string{
		"f/plain.txt":    "plain",
		"f/linkfile.txt": "inner",
	}, unzipNames("/download_folder/f"))

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/download_file/f/linkfile.txt", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "inner", rr.Body.String())

	rr = do(srv, httptest.NewRequest(http.MethodGet, "/files/linkdir/inner.txt", nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "inner", rr.Body.String())
}

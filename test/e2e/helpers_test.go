package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stolot0mt0m/genspark-sync-lite/genspark"
	"github.com/stolot0mt0m/genspark-sync-lite/internal/state"
	"github.com/stretchr/testify/require"
)

const validCookie = "session=e2e"

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type driveFile struct {
	id    string
	data  []byte
	mtime float64
}

// drive is an httptest stand-in for the AI Drive API, including the blob
// endpoint upload tickets point at.
type drive struct {
	srv *httptest.Server

	mu      sync.Mutex
	files   map[string]*driveFile // keyed by path without leading slash
	folders map[string]bool
	staged  map[string][]byte // token -> content
	tickets map[string]string // token -> path
	seq     int
	clock   float64
	hits    map[string]int
}

func newDrive(t *testing.T) *drive {
	t.Helper()
	d := &drive{
		files:   make(map[string]*driveFile),
		folders: make(map[string]bool),
		staged:  make(map[string][]byte),
		tickets: make(map[string]string),
		clock:   1_700_000_000,
		hits:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/aidrive/files", d.authed(d.handleList))
	mux.HandleFunc("GET /api/aidrive/download/files/{path...}", d.authed(d.handleDownload))
	mux.HandleFunc("POST /api/aidrive/files/{path...}", d.authed(d.handleUpload))
	mux.HandleFunc("POST /api/aidrive/folders/{path...}", d.authed(d.handleFolder))
	mux.HandleFunc("DELETE /api/aidrive/files/{id}", d.authed(d.handleDelete))
	mux.HandleFunc("PUT /blob/{token}", d.handleBlob)

	d.srv = httptest.NewServer(mux)
	t.Cleanup(d.srv.Close)
	return d
}

func (d *drive) client(cookie string) *genspark.Client {
	return genspark.NewClient(d.srv.Client(), d.srv.URL, cookie)
}

func (d *drive) seed(p, content string, mtime float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq++
	d.files[p] = &driveFile{id: fmt.Sprintf("f%d", d.seq), data: []byte(content), mtime: mtime}
}

func (d *drive) content(p string) (string, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	f, ok := d.files[p]
	if !ok {
		return "", false
	}
	return string(f.data), true
}

func (d *drive) paths() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for p := range d.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (d *drive) count(name string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.hits[name]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (d *drive) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") != validCookie {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "login required"})
			return
		}
		next(w, r)
	}
}

func parent(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

func (d *drive) handleList(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hits["list"]++

	folder := strings.Trim(r.URL.Query().Get("folder"), "/")

	dirs := make(map[string]bool)
	for f := range d.folders {
		dirs[f] = true
	}
	for p := range d.files {
		for dir := parent(p); dir != ""; dir = parent(dir) {
			dirs[dir] = true
		}
	}

	items := []map[string]any{}
	for dir := range dirs {
		if parent(dir) == folder {
			items = append(items, map[string]any{
				"id": "d-" + dir, "name": path.Base(dir), "path": "/" + dir, "type": "directory",
			})
		}
	}
	for p, f := range d.files {
		if parent(p) == folder {
			items = append(items, map[string]any{
				"id": f.id, "name": path.Base(p), "path": "/" + p, "type": "file",
				"size": len(f.data), "modified_time": f.mtime,
			})
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (d *drive) handleDownload(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	f, ok := d.files[r.PathValue("path")]
	d.hits["download"]++
	d.mu.Unlock()

	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Write(f.data)
}

func (d *drive) handleUpload(w http.ResponseWriter, r *http.Request) {
	p := r.PathValue("path")
	if strings.HasSuffix(p, "/confirm") {
		d.handleConfirm(w, r, strings.TrimSuffix(p, "/confirm"))
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.hits["ticket"]++

	if _, ok := d.files[p]; ok {
		writeJSON(w, http.StatusOK, map[string]string{"status": "error", "message": "File already exists"})
		return
	}

	d.seq++
	token := fmt.Sprintf("t%d", d.seq)
	d.tickets[token] = p
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "success",
		"data": map[string]string{
			"upload_url": d.srv.URL + "/blob/" + token,
			"token":      token,
			"expires_at": time.Now().Add(time.Hour).Format(time.RFC3339),
		},
	})
}

func (d *drive) handleBlob(w http.ResponseWriter, r *http.Request) {
	token := r.PathValue("token")
	if r.Header.Get("Authorization") != "Bearer "+token || r.Header.Get("x-ms-blob-type") != "BlockBlob" {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	data, _ := io.ReadAll(r.Body)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.hits["transfer"]++
	d.staged[token] = data
	w.WriteHeader(http.StatusCreated)
}

func (d *drive) handleConfirm(w http.ResponseWriter, r *http.Request, p string) {
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "bad body"})
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.hits["confirm"]++

	if _, ok := d.files[p]; ok {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "File already exists"})
		return
	}
	data, ok := d.staged[body.Token]
	if !ok || d.tickets[body.Token] != p {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown token"})
		return
	}

	d.seq++
	d.clock++
	d.files[p] = &driveFile{id: fmt.Sprintf("f%d", d.seq), data: data, mtime: d.clock}
	delete(d.staged, body.Token)
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (d *drive) handleFolder(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := r.PathValue("path")
	if d.folders[p] {
		writeJSON(w, http.StatusConflict, map[string]string{"message": "Folder already exists"})
		return
	}
	d.folders[p] = true
	writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
}

func (d *drive) handleDelete(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hits["delete"]++

	id := r.PathValue("id")
	for p, f := range d.files {
		if f.id == id {
			delete(d.files, p)
			writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
			return
		}
	}
	http.NotFound(w, r)
}

// harness is one sync client: a local dir, its state store and an
// orchestrator talking to the drive over HTTP.
type harness struct {
	Dir   string
	Store *state.Store
	Orch  *genspark.Orchestrator
}

func newHarness(t *testing.T, d *drive, cookie string, strategy genspark.Strategy) *harness {
	t.Helper()
	dir := t.TempDir()
	return openHarness(t, d, dir, cookie, strategy)
}

func openHarness(t *testing.T, d *drive, dir, cookie string, strategy genspark.Strategy) *harness {
	t.Helper()

	store, err := state.Open(filepath.Join(dir, ".genspark_sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	orch := genspark.NewOrchestrator(
		genspark.NewVault(dir),
		d.client(cookie),
		store,
		genspark.Options{Strategy: strategy, RemoteDepth: 2},
		quietLogger,
	)

	return &harness{Dir: dir, Store: store, Orch: orch}
}

func (h *harness) write(t *testing.T, rel, content string, mtime time.Time) {
	t.Helper()
	abs := filepath.Join(h.Dir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(abs, mtime, mtime))
}

func (h *harness) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(h.Dir, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

package genspark

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/stolot0mt0m/genspark-sync-lite/internal/errors"
	"github.com/stolot0mt0m/genspark-sync-lite/internal/state"
	"github.com/stretchr/testify/require"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeFile is one file held by fakeRemote.
type fakeFile struct {
	id    string
	data  []byte
	mtime float64
}

// fakeRemote is an in-memory AI Drive. Confirmed uploads are stamped with
// a clock that advances one second per upload.
type fakeRemote struct {
	mu      sync.Mutex
	files   map[string]*fakeFile
	folders map[string]bool
	tickets map[string]string
	staged  map[string][]byte
	nextID  int
	clock   float64

	failList   map[string]error
	failTicket map[string]error
	failDelete map[string]error

	calls map[string]int
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{
		files:      make(map[string]*fakeFile),
		folders:    make(map[string]bool),
		tickets:    make(map[string]string),
		staged:     make(map[string][]byte),
		clock:      1_700_000_000,
		failList:   make(map[string]error),
		failTicket: make(map[string]error),
		failDelete: make(map[string]error),
		calls:      make(map[string]int),
	}
}

// put seeds a remote file and returns its id.
func (f *fakeRemote) put(p, content string, mtime float64) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	id := fmt.Sprintf("id-%d", f.nextID)
	f.files[p] = &fakeFile{id: id, data: []byte(content), mtime: mtime}
	return id
}

func (f *fakeRemote) file(p string) *fakeFile {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.files[p]
}

func (f *fakeRemote) paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.files))
	for p := range f.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (f *fakeRemote) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func parentOf(p string) string {
	dir := path.Dir(p)
	if dir == "." {
		return ""
	}
	return dir
}

func (f *fakeRemote) List(_ context.Context, folder string) ([]RemoteEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["List"]++

	folder = strings.Trim(folder, "/")
	if err, ok := f.failList[folder]; ok {
		return nil, err
	}

	dirs := make(map[string]bool)
	for d := range f.folders {
		dirs[d] = true
	}
	for p := range f.files {
		for d := parentOf(p); d != ""; d = parentOf(d) {
			dirs[d] = true
		}
	}

	var out []RemoteEntry
	for d := range dirs {
		if parentOf(d) == folder {
			out = append(out, RemoteEntry{ID: "dir-" + d, Name: path.Base(d), Path: "/" + d, Type: entryTypeDirectory})
		}
	}
	for p, file := range f.files {
		if parentOf(p) == folder {
			out = append(out, RemoteEntry{
				ID:           file.id,
				Name:         path.Base(p),
				Path:         "/" + p,
				Type:         entryTypeFile,
				Size:         int64(len(file.data)),
				ModifiedTime: file.mtime,
			})
		}
	}
	return out, nil
}

func (f *fakeRemote) Download(_ context.Context, entry RemoteEntry, w io.Writer) (int64, error) {
	f.mu.Lock()
	file, ok := f.files[entry.Key()]
	f.calls["Download"]++
	f.mu.Unlock()

	if !ok {
		return 0, apperrors.ErrNotFound
	}
	n, err := w.Write(file.data)
	return int64(n), err
}

func (f *fakeRemote) RequestUploadTicket(_ context.Context, p string) (*UploadTicket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["RequestUploadTicket"]++

	if err, ok := f.failTicket[p]; ok {
		return nil, err
	}
	if _, ok := f.files[p]; ok {
		return nil, apperrors.ErrAlreadyExists
	}

	f.nextID++
	token := fmt.Sprintf("tok-%d", f.nextID)
	f.tickets[token] = p
	return &UploadTicket{URL: "https://blob.example/" + p, Token: token}, nil
}

func (f *fakeRemote) Transfer(_ context.Context, ticket *UploadTicket, body io.Reader, _ int64, _ string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Transfer"]++
	f.staged[ticket.Token] = data
	return nil
}

func (f *fakeRemote) Confirm(_ context.Context, p, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Confirm"]++

	if _, ok := f.files[p]; ok {
		return apperrors.ErrAlreadyExists
	}
	data, ok := f.staged[token]
	if !ok || f.tickets[token] != p {
		return apperrors.ErrAPIResponse
	}

	f.nextID++
	f.clock++
	f.files[p] = &fakeFile{id: fmt.Sprintf("id-%d", f.nextID), data: bytes.Clone(data), mtime: f.clock}
	delete(f.staged, token)
	delete(f.tickets, token)
	return nil
}

func (f *fakeRemote) CreateFolder(_ context.Context, p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["CreateFolder"]++
	f.folders[strings.Trim(p, "/")] = true
	return nil
}

func (f *fakeRemote) Delete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["Delete"]++

	for p, file := range f.files {
		if file.id != id {
			continue
		}
		if err, ok := f.failDelete[p]; ok {
			return err
		}
		delete(f.files, p)
		return nil
	}
	return apperrors.ErrNotFound
}

// testOrchestrator wires an Orchestrator over a temp vault and a temp
// bbolt store.
func testOrchestrator(t *testing.T, remote RemoteStore, opts Options) (*Orchestrator, *Vault, *state.Store) {
	t.Helper()
	vault := NewVault(t.TempDir())

	store, err := state.Open(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return NewOrchestrator(vault, remote, store, opts, testLogger), vault, store
}

// writeLocal creates a file in the vault with the given mtime.
func writeLocal(t *testing.T, vault *Vault, rel, content string, mtime time.Time) {
	t.Helper()
	abs := filepath.Join(vault.Dir(), filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(abs, mtime, mtime))
}

func readLocal(t *testing.T, vault *Vault, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(vault.Dir(), filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func localExists(vault *Vault, rel string) bool {
	_, err := os.Stat(filepath.Join(vault.Dir(), filepath.FromSlash(rel)))
	return err == nil
}

func tempVault(t *testing.T) *Vault {
	t.Helper()
	return NewVault(t.TempDir())
}

package genspark

import (
	"context"
	"io"
	"strings"
)

// Entry types reported by the AI Drive list endpoint. Older responses use
// "folder", newer ones "directory".
const (
	entryTypeFile      = "file"
	entryTypeDirectory = "directory"
	entryTypeFolder    = "folder"
)

// RemoteEntry is one item of an AI Drive folder listing.
type RemoteEntry struct {
	ID   string
	Name string

	// Path is the full virtual path as reported by the drive, with a
	// leading slash ("/Reports/q3.pdf").
	Path string

	Type         string
	Size         int64
	ModifiedTime float64
	MimeType     string
}

// IsDir reports whether the entry is a folder.
func (e RemoteEntry) IsDir() bool {
	return e.Type == entryTypeDirectory || e.Type == entryTypeFolder
}

// Key returns the entry's path in the local key space: no leading slash,
// normalized.
func (e RemoteEntry) Key() string {
	return normalizePath(strings.TrimPrefix(e.Path, "/"))
}

// UploadTicket authorizes a single direct content transfer.
type UploadTicket struct {
	URL       string
	Token     string
	ExpiresAt string
}

//go:generate mockgen -source=types.go -destination=mock_remote_store_test.go -package=genspark

// RemoteStore is the subset of the AI Drive API the sync engine uses.
// Implemented by Client; extracted for testability.
type RemoteStore interface {
	// List returns the entries directly inside folder. An empty folder
	// lists the drive root.
	List(ctx context.Context, folder string) ([]RemoteEntry, error)

	// Download streams the entry's content into w.
	Download(ctx context.Context, entry RemoteEntry, w io.Writer) (int64, error)

	// RequestUploadTicket returns ErrAlreadyExists when the drive already
	// holds path.
	RequestUploadTicket(ctx context.Context, path string) (*UploadTicket, error)

	Transfer(ctx context.Context, ticket *UploadTicket, body io.Reader, size int64, contentType string) error

	// Confirm finalizes an upload. Returns ErrAlreadyExists when a previous
	// confirm for the same path already landed.
	Confirm(ctx context.Context, path, token string) error

	// CreateFolder is idempotent: an existing folder is not an error.
	CreateFolder(ctx context.Context, path string) error

	Delete(ctx context.Context, id string) error
}

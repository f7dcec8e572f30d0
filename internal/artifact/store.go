// Package artifact persists generated media that the service produces itself
// (synthesized speech) and serves it back over HTTP.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

var ErrInvalidKey = errors.New("artifact: invalid key")

// FileStore writes artifacts below a root directory and builds public URLs
// for them under baseURL.
type FileStore struct {
	root    string
	baseURL string
}

// NewFileStore initializes a FileStore rooted at dir.
func NewFileStore(dir, baseURL string) (*FileStore, error) {
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return nil, errors.New("artifact: directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: ensure directory: %w", err)
	}
	return &FileStore{root: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// SpeechKey is the storage key for a speech job's audio.
func SpeechKey(tenantID, jobID uuid.UUID) string {
	return fmt.Sprintf("%s/%s.mp3", tenantID, jobID)
}

// Put writes data at key and returns the public URL of the artifact.
func (s *FileStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	cleanKey, err := sanitizeKey(key)
	if err != nil {
		return "", err
	}
	fullPath := filepath.Join(s.root, filepath.FromSlash(cleanKey))
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return "", fmt.Errorf("artifact: ensure directory: %w", err)
	}

	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("artifact: write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("artifact: commit file: %w", err)
	}
	return s.URL(cleanKey), nil
}

// URL returns the public address of key.
func (s *FileStore) URL(key string) string {
	return s.baseURL + "/" + key
}

// DeleteTenant removes every artifact of the tenant.
func (s *FileStore) DeleteTenant(tenantID uuid.UUID) error {
	if err := os.RemoveAll(filepath.Join(s.root, tenantID.String())); err != nil {
		return fmt.Errorf("artifact: delete tenant: %w", err)
	}
	return nil
}

// DeleteAll removes every artifact but keeps the root directory.
func (s *FileStore) DeleteAll() error {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return fmt.Errorf("artifact: list root: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return fmt.Errorf("artifact: delete %s: %w", e.Name(), err)
		}
	}
	return nil
}

// Handler serves stored artifacts. Mount it with the URL prefix stripped.
func (s *FileStore) Handler() http.Handler {
	return http.FileServer(noDirFS{http.Dir(s.root)})
}

// noDirFS hides directory listings.
type noDirFS struct {
	fs http.FileSystem
}

func (n noDirFS) Open(name string) (http.File, error) {
	f, err := n.fs.Open(name)
	if err != nil {
		return nil, err
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.IsDir() {
		f.Close()
		return nil, os.ErrNotExist
	}
	return f, nil
}

// sanitizeKey normalizes a key and prevents escaping the storage root.
func sanitizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	key = strings.ReplaceAll(key, "\\", "/")
	key = strings.TrimLeft(key, "/")
	cleaned := filepath.ToSlash(filepath.Clean(key))
	if cleaned == "." || cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrInvalidKey
	}
	return cleaned, nil
}

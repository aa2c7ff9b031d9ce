// Package filetransfer implements the local file-transfer store backing
// the HTTP proxy's binary upload/download endpoints (spec §4.C additions),
// grounded on tedge_agent/file_transfer_server/http_rest.rs.
package filetransfer

import (
	"fmt"
	"path"
	"strings"

	"github.com/spf13/afero"
)

// Store resolves "file-transfer" URIs to paths under a data directory,
// rejecting any path that would escape it, and performs the underlying
// reads/writes through an afero.Fs so tests can substitute an in-memory
// filesystem.
type Store struct {
	Fs          afero.Fs
	DataDir     string
	URIPrefix   string
}

// ErrInvalidURI is returned when a requested URI resolves outside DataDir.
type ErrInvalidURI struct {
	URI string
}

func (e *ErrInvalidURI) Error() string {
	return fmt.Sprintf("filetransfer: uri %q escapes the data directory", e.URI)
}

// NewStore constructs a Store rooted at dataDir, serving under the
// "/tedge/file-transfer/" URI prefix.
func NewStore(fs afero.Fs, dataDir string) *Store {
	return &Store{Fs: fs, DataDir: dataDir, URIPrefix: "/tedge/file-transfer/"}
}

// LocalPath resolves a request URI to a path under DataDir, cleaning the
// path and rejecting any traversal outside it.
func (s *Store) LocalPath(uri string) (string, error) {
	if !strings.HasPrefix(uri, s.URIPrefix) {
		return "", &ErrInvalidURI{URI: uri}
	}
	rel := strings.TrimPrefix(uri, s.URIPrefix)
	joined := path.Join(s.DataDir, "file-transfer", rel)
	cleaned := path.Clean(joined)
	root := path.Clean(path.Join(s.DataDir, "file-transfer"))
	if cleaned != root && !strings.HasPrefix(cleaned, root+"/") {
		return "", &ErrInvalidURI{URI: uri}
	}
	return cleaned, nil
}

// Put writes content to the resolved path, creating parent directories.
func (s *Store) Put(uri string, content []byte) error {
	localPath, err := s.LocalPath(uri)
	if err != nil {
		return err
	}
	if err := s.Fs.MkdirAll(path.Dir(localPath), 0o755); err != nil {
		return fmt.Errorf("filetransfer: creating directory for %q: %w", uri, err)
	}
	if err := afero.WriteFile(s.Fs, localPath, content, 0o644); err != nil {
		return fmt.Errorf("filetransfer: writing %q: %w", uri, err)
	}
	return nil
}

// Get reads the content at the resolved path.
func (s *Store) Get(uri string) ([]byte, error) {
	localPath, err := s.LocalPath(uri)
	if err != nil {
		return nil, err
	}
	isDir, err := afero.IsDir(s.Fs, localPath)
	if err == nil && isDir {
		return nil, fmt.Errorf("filetransfer: %q is a directory", uri)
	}
	content, err := afero.ReadFile(s.Fs, localPath)
	if err != nil {
		return nil, fmt.Errorf("filetransfer: reading %q: %w", uri, err)
	}
	return content, nil
}

// Delete removes the file at the resolved path. Deleting an absent file is
// not an error, matching the upstream handler's idempotent 202 response.
func (s *Store) Delete(uri string) error {
	localPath, err := s.LocalPath(uri)
	if err != nil {
		return err
	}
	if err := s.Fs.Remove(localPath); err != nil {
		if strings.Contains(err.Error(), "does not exist") || strings.Contains(err.Error(), "no such file") {
			return nil
		}
		return fmt.Errorf("filetransfer: deleting %q: %w", uri, err)
	}
	return nil
}

// Package store manages the durable storage layout for uploaded source
// media and produced results.  Uploads and results are namespaced by
// kind, video results live under a per job subdirectory named after the
// result's base identifier.
package store

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrNotFound is returned when no stored artifact resolves for a name
var ErrNotFound = errors.New("store: artifact not found")

// Kind selects the media namespace
type Kind string

const (
	KindImage Kind = "images"
	KindVideo Kind = "videos"
)

// Store holds the root directory of the media layout
type Store struct {
	root string
}

// New creates the upload and result directories under root and returns
// the store
func New(root string) (*Store, error) {

	s := &Store{root: root}

	for _, dir := range []string{
		s.UploadDir(KindImage),
		s.UploadDir(KindVideo),
		s.ResultDir(KindImage),
		s.ResultDir(KindVideo),
	} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("error creating media dir: %w", err)
		}
	}

	return s, nil
}

// UploadDir returns the upload directory for a media kind
func (s *Store) UploadDir(kind Kind) string {
	return filepath.Join(s.root, "uploads", string(kind))
}

// ResultDir returns the result directory for a media kind
func (s *Store) ResultDir(kind Kind) string {
	return filepath.Join(s.root, "results", string(kind))
}

var unsafeChars = regexp.MustCompile(`[^A-Za-z0-9_.-]+`)

// SecureFilename strips any path components from a client supplied
// filename and replaces characters unsafe in a filesystem name
func SecureFilename(name string) string {

	// drop directory components, both separators so windows client
	// paths are handled too
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))

	name = unsafeChars.ReplaceAllString(name, "_")
	name = strings.Trim(name, "._")

	if name == "" {
		name = "file"
	}

	return name
}

// BaseName returns the portion of a filename before the first dot, the
// base identifier result subdirectories are named after
func BaseName(filename string) string {
	if i := strings.IndexByte(filename, '.'); i >= 0 {
		return filename[:i]
	}
	return filename
}

// SaveUpload persists an uploaded file under a collision resistant
// unique name and returns that name with the full path written
func (s *Store) SaveUpload(kind Kind, filename string, r io.Reader) (string, string, error) {

	unique := uuid.NewString() + "_" + SecureFilename(filename)
	path := filepath.Join(s.UploadDir(kind), unique)

	f, err := os.Create(path)

	if err != nil {
		return "", "", fmt.Errorf("error creating upload file: %w", err)
	}

	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		os.Remove(path)
		return "", "", fmt.Errorf("error writing upload file: %w", err)
	}

	if err := f.Close(); err != nil {
		return "", "", fmt.Errorf("error writing upload file: %w", err)
	}

	return unique, path, nil
}

// ResultImagePath returns the path an image result is stored at
func (s *Store) ResultImagePath(filename string) string {
	return filepath.Join(s.ResultDir(KindImage), filename)
}

// MakeResultVideoDir creates and returns the per job subdirectory a
// video result is written into
func (s *Store) MakeResultVideoDir(base string) (string, error) {

	dir := filepath.Join(s.ResultDir(KindVideo), base)

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("error creating result dir: %w", err)
	}

	return dir, nil
}

// ResolveResultImage returns the path of a stored image result or
// ErrNotFound
func (s *Store) ResolveResultImage(filename string) (string, error) {

	path := s.ResultImagePath(filepath.Base(filename))

	if !Exists(path) {
		return "", ErrNotFound
	}

	return path, nil
}

// ResolveResultVideo locates a stored video result.  The web playable
// webm encoding under the per job subdirectory is preferred, falling
// back to the named file in that subdirectory, then to a direct path
func (s *Store) ResolveResultVideo(filename string) (string, error) {

	filename = filepath.Base(filename)
	base := BaseName(filename)

	candidates := []string{
		filepath.Join(s.ResultDir(KindVideo), base, base+".webm"),
		filepath.Join(s.ResultDir(KindVideo), base, filename),
		filepath.Join(s.ResultDir(KindVideo), filename),
	}

	for _, path := range candidates {
		if Exists(path) {
			return path, nil
		}
	}

	return "", ErrNotFound
}

// Exists reports whether a non-empty file exists at path
func Exists(path string) bool {

	info, err := os.Stat(path)

	if err != nil {
		return false
	}

	return info.Mode().IsRegular() && info.Size() > 0
}

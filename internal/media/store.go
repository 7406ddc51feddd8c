package media

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/carzbazzar/api/internal/model"
)

var ErrInvalidSectionKey = errors.New("invalid section key")

// File is an opened local media file
type File interface {
	io.ReadSeekCloser
}

// Store keeps captured media on the device filesystem until it is uploaded.
type Store struct {
	fs   afero.Fs
	root string
}

// NewStore creates a media store rooted at root on fs
func NewStore(fs afero.Fs, root string) *Store {
	return &Store{fs: fs, root: root}
}

// NewOSStore creates a media store on the host filesystem
func NewOSStore(root string) *Store {
	return NewStore(afero.NewOsFs(), root)
}

// ValidateSectionKey rejects keys that cannot be used in paths or object keys.
func ValidateSectionKey(sectionKey string) error {
	if sectionKey == "" ||
		strings.ContainsAny(sectionKey, `/\`) ||
		strings.Contains(sectionKey, "..") ||
		strings.HasPrefix(sectionKey, ".") ||
		strings.HasSuffix(sectionKey, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidSectionKey, sectionKey)
	}
	return nil
}

// PathFor returns where the capture for a task is kept.
func (s *Store) PathFor(inspectionID, sectionKey, taskID string, mediaType model.MediaType) string {
	name := fmt.Sprintf("%s_%s_%s.%s", inspectionID, sectionKey, taskID, mediaType.Ext())
	return filepath.Join(s.root, name)
}

// Save copies a capture into the store. The copy goes to a temp file that is
// renamed into place, so a partial file is never visible at the final path.
func (s *Store) Save(inspectionID, sectionKey, taskID string, mediaType model.MediaType, src io.Reader) (string, error) {
	if err := ValidateSectionKey(sectionKey); err != nil {
		return "", err
	}
	if strings.ContainsAny(inspectionID+taskID, `/\`) {
		return "", fmt.Errorf("invalid media id")
	}

	dst := s.PathFor(inspectionID, sectionKey, taskID, mediaType)
	if err := s.fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}

	tmp := dst + ".tmp"
	out, err := s.fs.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return "", err
	}

	_, copyErr := io.Copy(out, src)
	syncErr := out.Sync()
	closeErr := out.Close()

	for _, err := range []error{copyErr, syncErr, closeErr} {
		if err != nil {
			_ = s.fs.Remove(tmp)
			return "", err
		}
	}

	if err := s.fs.Rename(tmp, dst); err != nil {
		_ = s.fs.Remove(tmp)
		return "", fmt.Errorf("rename tmp->final: %w", err)
	}
	return dst, nil
}

// Open opens a stored capture and returns its size
func (s *Store) Open(path string) (File, int64, error) {
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

// Remove deletes a stored capture; a missing file is not an error.
func (s *Store) Remove(path string) error {
	err := s.fs.Remove(path)
	if err != nil && errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

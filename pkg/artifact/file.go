package artifact

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/armorclaw/crashreport/pkg/errors"
)

// FileStore keeps artifacts as files; keys are file paths
type FileStore struct {
	root string
}

// NewFileStore creates a file store. root is only used by Sweep.
func NewFileStore(root string) *FileStore {
	return &FileStore{root: root}
}

// Write creates key exclusively. An existing file is reported before any
// write is attempted; the exclusive create closes the window between the
// check and the write.
func (s *FileStore) Write(ctx context.Context, key, content string) error {
	if err := ctx.Err(); err != nil {
		return errors.Wrap(errors.CodeArtifactUpload, err)
	}

	if _, err := os.Stat(key); err == nil {
		return errors.Newf(errors.CodeArtifactExists, "artifact %s already exists", key)
	}

	if err := os.MkdirAll(filepath.Dir(key), 0750); err != nil {
		return errors.Wrapf(errors.CodeArtifactUpload, err, "create folder for %s", key)
	}

	f, err := os.OpenFile(key, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0640)
	if err != nil {
		if stderrors.Is(err, fs.ErrExist) {
			return errors.Newf(errors.CodeArtifactExists, "artifact %s already exists", key)
		}
		return errors.Wrapf(errors.CodeArtifactUpload, err, "create %s", key)
	}

	if _, err := f.WriteString(content); err != nil {
		f.Close()
		os.Remove(key)
		return errors.Wrapf(errors.CodeArtifactUpload, err, "write %s", key)
	}
	if err := f.Close(); err != nil {
		os.Remove(key)
		return errors.Wrapf(errors.CodeArtifactUpload, err, "close %s", key)
	}
	return nil
}

// Read returns the file content
func (s *FileStore) Read(ctx context.Context, key string) (string, bool, error) {
	data, err := os.ReadFile(key)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return "", false, nil
		}
		return "", false, errors.Wrapf(errors.CodeArtifactRead, err, "read %s", key)
	}
	return string(data), true, nil
}

// Delete removes the file
func (s *FileStore) Delete(ctx context.Context, key string) error {
	if err := os.Remove(key); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.Wrapf(errors.CodeArtifactDelete, err, "remove %s", key)
	}
	return nil
}

// Sweep removes artifact files under root last modified before olderThan
func (s *FileStore) Sweep(ctx context.Context, olderThan time.Time) (int, error) {
	if s.root == "" {
		return 0, nil
	}

	removed := 0
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if stderrors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if d.IsDir() || !strings.HasSuffix(d.Name(), Extension) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		if info.ModTime().Before(olderThan) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
		return nil
	})
	return removed, err
}

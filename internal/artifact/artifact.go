// Package artifact stores files produced for completed submissions, keyed by
// submission id. One artifact per submission. The worker writes a JSON
// rendering of each done submission's result; an external renderer may
// replace that file with a richer document under the same key.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
)

var ErrNotFound = errors.New("artifact: not found")

// Store persists submission artifacts.
type Store interface {
	Put(ctx context.Context, submissionID string, r io.Reader) error
	// Open returns the artifact content and its size. ErrNotFound when the
	// submission produced none.
	Open(ctx context.Context, submissionID string) (io.ReadCloser, int64, error)
}

// ids are ULIDs or UUIDs; anything else is refused before touching the
// filesystem.
var safeID = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// Dir is a filesystem-backed Store, one file per submission under root.
type Dir struct {
	root string
}

// NewDir creates the root directory if needed and returns the store.
func NewDir(root string) (*Dir, error) {
	if root == "" {
		return nil, errors.New("artifact: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("artifact: create root: %w", err)
	}
	return &Dir{root: root}, nil
}

func (d *Dir) path(submissionID string) (string, error) {
	if !safeID.MatchString(submissionID) {
		return "", ErrNotFound
	}
	return filepath.Join(d.root, submissionID+".bin"), nil
}

func (d *Dir) Put(_ context.Context, submissionID string, r io.Reader) error {
	path, err := d.path(submissionID)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(d.root, "upload-*")
	if err != nil {
		return fmt.Errorf("artifact: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return fmt.Errorf("artifact: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("artifact: close: %w", err)
	}
	// Rename so readers never observe a half-written artifact.
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("artifact: publish: %w", err)
	}
	return nil
}

func (d *Dir) Open(_ context.Context, submissionID string) (io.ReadCloser, int64, error) {
	path, err := d.path(submissionID)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, 0, ErrNotFound
		}
		return nil, 0, fmt.Errorf("artifact: open: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("artifact: stat: %w", err)
	}
	return f, info.Size(), nil
}

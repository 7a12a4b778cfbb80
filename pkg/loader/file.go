package loader

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	errs "github.com/matzehuels/sitepix/pkg/errors"
)

// FileLoader reads sources from a directory. A src of "/assets/cat.jpg"
// maps to <Root>/assets/cat.jpg; sources can never escape Root.
type FileLoader struct {
	Root string
}

// NewFileLoader returns a loader rooted at root.
func NewFileLoader(root string) *FileLoader {
	return &FileLoader{Root: root}
}

func (l *FileLoader) Load(ctx context.Context, src string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := l.Path(src)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	switch {
	case err == nil:
		return data, nil
	case os.IsNotExist(err), isDirErr(p):
		return nil, errs.New(errs.ErrCodeSourceNotFound, "image not found: %s", src)
	default:
		return nil, errs.Wrap(errs.ErrCodeInternal, err, "read %s", src)
	}
}

// Path returns the filesystem path for src.
func (l *FileLoader) Path(src string) (string, error) {
	if err := errs.ValidateSource(src); err != nil {
		return "", err
	}
	if errs.IsRemote(src) {
		return "", errs.New(errs.ErrCodeInvalidPath, "not a local source: %s", src)
	}
	rel := strings.TrimPrefix(path.Clean("/"+src), "/")
	if rel == "" {
		return "", errs.New(errs.ErrCodeSourceNotFound, "image not found: %s", src)
	}
	return filepath.Join(l.Root, filepath.FromSlash(rel)), nil
}

// Version identifies the current content of src by size and mtime, for
// cache keys that must change when the file does.
func (l *FileLoader) Version(src string) (string, error) {
	p, err := l.Path(src)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return "", errs.New(errs.ErrCodeSourceNotFound, "image not found: %s", src)
		}
		return "", err
	}
	return fmt.Sprintf("%d-%d", info.Size(), info.ModTime().UnixNano()), nil
}

func isDirErr(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.IsDir()
}

// Walk calls fn for every image file under Root, with src in site form
// ("/assets/cat.jpg").
func (l *FileLoader) Walk(fn func(src, path string) error) error {
	return filepath.WalkDir(l.Root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !IsImageFile(p) {
			return nil
		}
		rel, err := filepath.Rel(l.Root, p)
		if err != nil {
			return err
		}
		return fn("/"+filepath.ToSlash(rel), p)
	})
}

var imageExtensions = map[string]bool{
	".jpg": true, ".jpeg": true, ".png": true, ".gif": true, ".webp": true,
	".avif": true, ".bmp": true, ".tif": true, ".tiff": true, ".svg": true,
}

// IsImageFile reports whether name has a known image extension.
func IsImageFile(name string) bool {
	return imageExtensions[strings.ToLower(filepath.Ext(name))]
}

var _ Loader = (*FileLoader)(nil)

package build

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/matzehuels/sitepix/pkg/cache"
	errs "github.com/matzehuels/sitepix/pkg/errors"
	"github.com/matzehuels/sitepix/pkg/loader"
)

// CopySources copies every image under srcDir into outDir, keeping
// relative paths, so a server-mode deployment can load them at request
// time. It returns the number of files copied.
func CopySources(srcDir, outDir string) (int, error) {
	if srcDir == "" || outDir == "" {
		return 0, errs.New(errs.ErrCodeInvalidInput, "source and output directories are required")
	}
	absSrc, _ := filepath.Abs(srcDir)
	absOut, _ := filepath.Abs(outDir)
	if absSrc == absOut {
		return 0, nil
	}

	n := 0
	err := loader.NewFileLoader(srcDir).Walk(func(src, p string) error {
		if abs, _ := filepath.Abs(p); strings.HasPrefix(abs, absOut+string(filepath.Separator)) {
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		dest := filepath.Join(outDir, filepath.FromSlash(src))
		if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
			return err
		}
		if err := cache.WriteFileAtomic(dest, data, 0o644); err != nil {
			return err
		}
		n++
		return nil
	})
	if err != nil {
		return n, errs.Wrap(errs.ErrCodeInternal, err, "copy sources from %s", srcDir)
	}
	return n, nil
}

// Package discovery enumerates scan-worthy files under the internal and
// external roots. Enumeration is symlink-safe (links are never followed,
// circular or otherwise), deduplicated by resolved real path, and built
// to stop cleanly at a time or cancellation boundary.
package discovery

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/Evjaj/purescan-sub000/internal/config"
	"go.uber.org/zap"
)

// scanExtensions are the extensions worth pattern-scanning.
var scanExtensions = map[string]bool{
	"php": true, "php3": true, "php4": true, "php5": true, "php7": true,
	"pht": true, "phtml": true, "inc": true,
	"js": true, "json": true, "html": true, "htm": true, "shtml": true,
	"htaccess": true, "cgi": true, "pl": true, "py": true, "sh": true,
	"tpl": true, "txt": true, "sql": true, "ico": true,
}

// Walker enumerates files under a root.
type Walker struct {
	cfg     *config.Config
	logger  *zap.Logger
	exclude map[string]bool
}

// NewWalker creates a discovery walker.
func NewWalker(cfg *config.Config, logger *zap.Logger) *Walker {
	exclude := make(map[string]bool)
	for _, dir := range cfg.Exclude {
		exclude[dir] = true
	}
	return &Walker{cfg: cfg, logger: logger, exclude: exclude}
}

// Enumerate walks root collecting scan-worthy files. seen holds resolved
// real paths already collected in this scan; files resolving to a seen
// path are skipped, so the same content is never enumerated twice even
// when reachable through a symlink and its target. shouldStop is polled
// on every entry; when it returns true the walk aborts and stopped is
// true, leaving seen and the returned prefix usable for resumption.
func (w *Walker) Enumerate(root string, seen map[string]bool, shouldStop func() bool) (files []string, stopped bool, err error) {
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, werr error) error {
		if shouldStop != nil && shouldStop() {
			stopped = true
			return filepath.SkipAll
		}
		if werr != nil {
			w.logger.Warn("Error accessing path", zap.String("path", path), zap.Error(werr))
			return nil
		}

		if d.IsDir() {
			if w.exclude[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}

		// Never follow symlinks. WalkDir does not descend into them, but
		// a link to a file would still be read through here.
		if d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		if !Worthy(path) {
			return nil
		}

		real, rerr := filepath.EvalSymlinks(path)
		if rerr != nil {
			real = path
		}
		if seen[real] {
			return nil
		}
		seen[real] = true

		files = append(files, path)
		return nil
	})
	return files, stopped, err
}

// Worthy reports whether a path's extension makes it scan-worthy.
// Extensionless dotfiles like .htaccess qualify by name.
func Worthy(path string) bool {
	name := filepath.Base(path)
	if strings.HasPrefix(name, ".") && scanExtensions[strings.TrimPrefix(name, ".")] {
		return true
	}
	ext := filepath.Ext(path)
	if ext == "" {
		return false
	}
	return scanExtensions[strings.ToLower(ext[1:])]
}

// ReadContent reads a file for scanning. Files above the configured size
// cap get a bounded head read; a decode-eval chain at the top of a
// multi-megabyte blob is still caught without the memory cost.
func ReadContent(path string, maxSize, headSize int64) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	if info.Size() <= maxSize {
		data, err := os.ReadFile(path)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, headSize)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", err
	}
	return string(buf[:n]), nil
}

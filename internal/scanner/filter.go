package scanner

import (
	"path/filepath"
	"strings"

	"github.com/dshills/gocontext-index/internal/config"
)

// Filter decides which directories and files take part in indexing. The
// watcher shares it so both paths agree.
type Filter struct {
	extensions  map[string]struct{}
	ignoreDirs  map[string]struct{}
	maxFileSize int64
}

// NewFilter builds a filter. Extensions are matched case-insensitively and
// may be given with or without the leading dot.
func NewFilter(extensions, ignoreDirs []string, maxFileSize int64) *Filter {
	f := &Filter{
		extensions:  make(map[string]struct{}, len(extensions)),
		ignoreDirs:  make(map[string]struct{}, len(ignoreDirs)),
		maxFileSize: maxFileSize,
	}
	for _, ext := range extensions {
		ext = strings.ToLower(ext)
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		f.extensions[ext] = struct{}{}
	}
	for _, d := range ignoreDirs {
		f.ignoreDirs[d] = struct{}{}
	}
	return f
}

// FilterFromConfig builds the filter described by the scanner config
func FilterFromConfig(cfg config.ScannerConfig) *Filter {
	return NewFilter(cfg.Extensions, cfg.IgnoreDirs, cfg.MaxFileSize)
}

// IgnoreDir reports whether a directory with this base name is skipped
func (f *Filter) IgnoreDir(name string) bool {
	if _, ok := f.ignoreDirs[name]; ok {
		return true
	}
	// Hidden directories other than the workspace root
	return len(name) > 1 && strings.HasPrefix(name, ".") && name != ".."
}

// IgnorePath reports whether any directory component of the slash separated
// relative path is ignored
func (f *Filter) IgnorePath(rel string) bool {
	dir := filepath.ToSlash(filepath.Dir(filepath.FromSlash(rel)))
	if dir == "." {
		return false
	}
	for _, part := range strings.Split(dir, "/") {
		if f.IgnoreDir(part) {
			return true
		}
	}
	return false
}

// Include reports whether a file is indexable by name and size. A negative
// size skips the size check.
func (f *Filter) Include(name string, size int64) bool {
	if _, ok := f.extensions[strings.ToLower(filepath.Ext(name))]; !ok {
		return false
	}
	if size >= 0 && f.maxFileSize > 0 && size > f.maxFileSize {
		return false
	}
	return true
}

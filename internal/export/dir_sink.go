package export

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DirSink writes files under a local directory
type DirSink struct {
	root string
}

// NewDirSink creates a sink rooted at dir
func NewDirSink(dir string) *DirSink {
	return &DirSink{root: dir}
}

func (s *DirSink) Name() string { return "dir" }

// Write creates parent folders as needed and replaces any existing file
func (s *DirSink) Write(ctx context.Context, p string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	clean := filepath.Clean(filepath.FromSlash(p))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return fmt.Errorf("path %q escapes export directory", p)
	}

	full := filepath.Join(s.root, clean)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return err
	}
	return os.WriteFile(full, content, 0o644)
}

// Healthy creates the root if needed
func (s *DirSink) Healthy(ctx context.Context) error {
	return os.MkdirAll(s.root, 0o755)
}

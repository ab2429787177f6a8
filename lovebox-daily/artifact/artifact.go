// Package artifact manages the generated image file that lives on disk
// between generation and cleanup.
package artifact

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// extensions maps the image types generators return to file extensions.
var extensions = map[string]string{
	"image/png":  ".png",
	"image/jpeg": ".jpg",
	"image/webp": ".webp",
	"image/gif":  ".gif",
}

// PathFor returns path with its extension replaced to match mimeType.
// Unknown types keep path unchanged.
func PathFor(path, mimeType string) string {
	ext, ok := extensions[strings.ToLower(mimeType)]
	if !ok {
		return path
	}
	return strings.TrimSuffix(path, filepath.Ext(path)) + ext
}

// RemoveStale deletes path and any copy of it saved under another image
// extension, as left behind by an interrupted run.
func RemoveStale(path string) error {
	base := strings.TrimSuffix(path, filepath.Ext(path))
	var errs []error
	if err := New(path).Remove(); err != nil {
		errs = append(errs, err)
	}
	for _, ext := range extensions {
		if base+ext == path {
			continue
		}
		if err := New(base + ext).Remove(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// File is the single local image file owned by one run.
type File struct {
	path string
}

// New returns a File at path. Nothing is created until Write.
func New(path string) *File {
	return &File{path: path}
}

// Path returns the file's location.
func (f *File) Path() string { return f.path }

// Write replaces the file's content with data.
func (f *File) Write(data []byte) error {
	if dir := filepath.Dir(f.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create image directory: %w", err)
		}
	}
	if err := os.WriteFile(f.path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write image file: %w", err)
	}
	return nil
}

// Exists reports whether the file is present on disk.
func (f *File) Exists() bool {
	_, err := os.Stat(f.path)
	return err == nil
}

// Remove deletes the file. Removing a file that is already gone is not an error.
func (f *File) Remove() error {
	if err := os.Remove(f.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove image file: %w", err)
	}
	return nil
}

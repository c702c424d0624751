package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Validator checks a file before any PDF library touches it
type Validator struct {
	maxFileSize int64
}

// NewValidator creates a validator with the given size limit
func NewValidator(maxFileSize int64) *Validator {
	return &Validator{maxFileSize: maxFileSize}
}

// ValidateFile rejects missing, empty, oversized and non-PDF files
func (v *Validator) ValidateFile(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", path)
	}
	if err != nil {
		return fmt.Errorf("cannot access file: %w", err)
	}
	return v.ValidateFileInfo(path, info)
}

// ValidateFileInfo performs the checks that need only the file info
func (v *Validator) ValidateFileInfo(path string, info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("path is a directory, not a file: %s", path)
	}
	if !strings.EqualFold(filepath.Ext(path), ".pdf") {
		return fmt.Errorf("file is not a PDF: %s", path)
	}
	if info.Size() == 0 {
		return fmt.Errorf("file is empty: %s", path)
	}
	if v.maxFileSize > 0 && info.Size() > v.maxFileSize {
		return fmt.Errorf("file too large: %d bytes (max: %d bytes)", info.Size(), v.maxFileSize)
	}
	return nil
}

// PathValidator keeps opened documents inside one directory
type PathValidator struct {
	dir string
}

// NewPathValidator creates a validator for dir. The directory does not need
// to exist yet.
func NewPathValidator(dir string) (*PathValidator, error) {
	if dir == "" {
		return nil, fmt.Errorf("configured directory cannot be empty")
	}
	return &PathValidator{dir: dir}, nil
}

// Directory returns the configured directory
func (v *PathValidator) Directory() string {
	return v.dir
}

// Resolve returns path as an absolute path, joining relative paths onto the
// configured directory
func (v *PathValidator) Resolve(path string) (string, error) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(v.dir, path)
	}
	return filepath.Abs(path)
}

// ValidatePath rejects paths outside the configured directory, following
// symlinks on both sides
func (v *PathValidator) ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}
	ok, err := v.IsWithin(path)
	if err != nil {
		return fmt.Errorf("path validation failed: %w", err)
	}
	if !ok {
		return fmt.Errorf("path is outside configured directory: %s", path)
	}
	return nil
}

// IsWithin reports whether path is inside the configured directory
func (v *PathValidator) IsWithin(path string) (bool, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return false, fmt.Errorf("failed to resolve path: %w", err)
	}
	absDir, err := filepath.Abs(v.dir)
	if err != nil {
		return false, fmt.Errorf("failed to resolve configured directory: %w", err)
	}

	cleanPath := filepath.Clean(absPath)
	cleanDir := filepath.Clean(absDir)

	realPath := cleanPath
	if resolved, err := filepath.EvalSymlinks(cleanPath); err == nil {
		realPath = resolved
	}
	realDir := cleanDir
	if resolved, err := filepath.EvalSymlinks(cleanDir); err == nil {
		realDir = resolved
	}

	within := func(p string) bool {
		for _, d := range []string{cleanDir, realDir} {
			if p == d || strings.HasPrefix(p, strings.TrimSuffix(d, string(filepath.Separator))+string(filepath.Separator)) {
				return true
			}
		}
		return false
	}
	return within(cleanPath) && within(realPath), nil
}

package dispatcher

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/illmade-knight/go-imagepipeline/pkg/types"
)

// ImageExtensions are the file suffixes included in a corpus, matched case-insensitively.
var ImageExtensions = []string{".jpg", ".png"}

// Corpus is the immutable list of image files of one class.
type Corpus struct {
	Class types.Class
	Files []string
}

// ScanCorpus walks root recursively and returns the absolute paths of the regular
// files whose name ends in one of exts. A missing root yields an empty list.
func ScanCorpus(root string, exts []string) ([]string, error) {
	info, err := os.Stat(root)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat corpus root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, nil
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	var files []string
	err = filepath.WalkDir(absRoot, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() || !hasExtension(d.Name(), exts) {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan corpus %s: %w", root, err)
	}
	return files, nil
}

func hasExtension(name string, exts []string) bool {
	lower := strings.ToLower(name)
	for _, ext := range exts {
		if strings.HasSuffix(lower, strings.ToLower(ext)) {
			return true
		}
	}
	return false
}

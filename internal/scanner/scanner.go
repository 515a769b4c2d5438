package scanner

import (
	"os"
	"path/filepath"
)

// FileInfo describes one regular file found during a scan.
//
// ModifiedAt is normalized to epoch milliseconds at this boundary;
// platforms that report a modification time the runtime cannot resolve
// end up with 0, which naturally falls outside any correlation window.
type FileInfo struct {
	Name       string
	Path       string
	ModifiedAt int64
	SizeBytes  int64
}

// Exists reports whether path names an existing directory.
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// List returns the regular files directly under dir. The error is
// per-directory: callers scanning several candidate locations log it
// and move on rather than aborting the overall search.
func List(dir string) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var files []FileInfo
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// File vanished between listing and stat; skip it.
			continue
		}

		modified := int64(0)
		if mt := info.ModTime(); !mt.IsZero() {
			modified = mt.UnixMilli()
		}

		files = append(files, FileInfo{
			Name:       entry.Name(),
			Path:       filepath.Join(dir, entry.Name()),
			ModifiedAt: modified,
			SizeBytes:  info.Size(),
		})
	}
	return files, nil
}

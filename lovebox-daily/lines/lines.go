package lines

import (
	"bufio"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lovebox_automation/lovebox-daily/apperr"
)

// Read returns the trimmed, non-empty lines of the file at path, in file order.
func Read(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, apperr.ResourceUnavailable(path, err)
	}
	defer file.Close()

	var out []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, apperr.ResourceUnavailable(path, err)
	}
	return out, nil
}

var photoExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// Photos returns the image files directly inside dir, sorted by name.
func Photos(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, apperr.ResourceUnavailable(dir, err)
	}

	var photos []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if photoExtensions[strings.ToLower(filepath.Ext(entry.Name()))] {
			photos = append(photos, filepath.Join(dir, entry.Name()))
		}
	}
	sort.Strings(photos)
	return photos, nil
}

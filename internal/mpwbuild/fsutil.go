package mpwbuild

import (
	"os"
)

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

// visibleEntries lists the names in dir, skipping dot-entries (markers,
// version stamps, build logs). A missing directory counts as empty.
func visibleEntries(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, entry := range entries {
		if entry.Name()[0] == '.' {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}


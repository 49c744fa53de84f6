package storage

import (
	"os"
	"path/filepath"
	"sort"
)

// PathUsage is the on-disk size of one configured data location.
type PathUsage struct {
	Label string `json:"label"`
	Path  string `json:"path"`
	Bytes int64  `json:"bytes"`
}

// DiskUsage returns the size of each labeled path and their total. A path may be
// a file or a directory (recursively summed). Empty and missing paths contribute 0.
func DiskUsage(paths map[string]string) ([]PathUsage, int64, error) {
	var (
		usage []PathUsage
		total int64
	)
	for label, p := range paths {
		if p == "" {
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return nil, 0, err
		}
		usage = append(usage, PathUsage{Label: label, Path: p, Bytes: n})
		total += n
	}
	sort.Slice(usage, func(i, j int) bool { return usage[i].Label < usage[j].Label })
	return usage, total, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.Walk(p, func(_ string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi != nil && !fi.IsDir() {
			total += fi.Size()
		}
		return nil
	})
	return total, err
}

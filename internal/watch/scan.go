package watch

import (
	"os"
	"path/filepath"
	"sort"

	"dashwatch/internal/eligibility"
)

// ScanFolder lists the direct children of the filter's root that carry an
// allowed extension, with the filter's decision for each. Directories are
// skipped.
func ScanFolder(filter *eligibility.Filter) ([]eligibility.Decision, error) {
	entries, err := os.ReadDir(filter.Root())
	if err != nil {
		return nil, err
	}
	decisions := make([]eligibility.Decision, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(filter.Root(), entry.Name())
		if !filter.HasAllowedExtension(path) {
			continue
		}
		decisions = append(decisions, filter.Check(path))
	}
	sort.Slice(decisions, func(i, j int) bool { return decisions[i].Path < decisions[j].Path })
	return decisions, nil
}

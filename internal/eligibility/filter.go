// Package eligibility decides whether a path in the watch folder should be
// encoded. Decisions are made from filesystem state alone so they can be
// repeated right before a job launches.
package eligibility

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ManifestName is the DASH manifest whose presence marks a finished encode.
const ManifestName = "manifest.mpd"

// Reason explains a Decision.
type Reason string

const (
	ReasonEligible         Reason = "eligible"
	ReasonMissing          Reason = "missing"
	ReasonNotRegular       Reason = "not_regular_file"
	ReasonExtension        Reason = "extension_not_allowed"
	ReasonNoStem           Reason = "no_stem"
	ReasonOutsideWatch     Reason = "outside_watch_folder"
	ReasonInsideOutput     Reason = "inside_output_directory"
	ReasonAlreadyProcessed Reason = "already_processed"
	ReasonStatFailed       Reason = "stat_failed"
)

// Decision is the outcome of Filter.Check.
type Decision struct {
	Path     string
	Eligible bool
	Reason   Reason
}

// Filter holds the watch root and allowed extensions. It is safe for
// concurrent use.
type Filter struct {
	root       string
	extensions map[string]struct{}
}

// New builds a Filter. Extensions are matched case-insensitively and may be
// given with or without a leading dot.
func New(root string, extensions []string) *Filter {
	exts := make(map[string]struct{}, len(extensions))
	for _, ext := range extensions {
		ext = strings.TrimLeft(strings.ToLower(strings.TrimSpace(ext)), ".")
		if ext != "" {
			exts[ext] = struct{}{}
		}
	}
	return &Filter{root: filepath.Clean(root), extensions: exts}
}

// Root returns the watch folder the filter was built for.
func (f *Filter) Root() string {
	return f.root
}

// HasAllowedExtension reports whether path ends in a configured extension.
func (f *Filter) HasAllowedExtension(path string) bool {
	ext := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(filepath.Ext(path))), ".")
	if ext == "" {
		return false
	}
	_, ok := f.extensions[ext]
	return ok
}

// Check applies every rule in order and reports the first that rejects path.
func (f *Filter) Check(path string) Decision {
	path = filepath.Clean(path)
	decision := Decision{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			decision.Reason = ReasonMissing
		} else {
			decision.Reason = ReasonStatFailed
		}
		return decision
	}
	if !info.Mode().IsRegular() {
		decision.Reason = ReasonNotRegular
		return decision
	}

	if !f.HasAllowedExtension(path) {
		decision.Reason = ReasonExtension
		return decision
	}
	if !ValidStem(Stem(path)) {
		decision.Reason = ReasonNoStem
		return decision
	}

	parent := filepath.Dir(path)
	if parent != f.root {
		if rel, err := filepath.Rel(f.root, path); err != nil || strings.HasPrefix(rel, "..") {
			decision.Reason = ReasonOutsideWatch
		} else {
			decision.Reason = ReasonInsideOutput
		}
		return decision
	}
	if exists(filepath.Join(parent, ManifestName)) {
		decision.Reason = ReasonInsideOutput
		return decision
	}

	if AlreadyProcessed(path) {
		decision.Reason = ReasonAlreadyProcessed
		return decision
	}

	decision.Eligible = true
	decision.Reason = ReasonEligible
	return decision
}

// Eligible is Check reduced to a boolean.
func (f *Filter) Eligible(path string) bool {
	return f.Check(path).Eligible
}

// Stem returns the file name without its final extension.
func Stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// ValidStem reports whether stem can name an output directory. Names such as
// ".mp4" or "..mp4" leave "", "." or ".." which resolve to the watch folder or
// above it.
func ValidStem(stem string) bool {
	return stem != "" && stem != "." && stem != ".."
}

// OutputDir returns the directory a source's DASH output is written to:
// a sibling named after the source's stem.
func OutputDir(path string) string {
	return filepath.Join(filepath.Dir(path), Stem(path))
}

// ManifestPath returns the manifest location inside an output directory.
func ManifestPath(outputDir string) string {
	return filepath.Join(outputDir, ManifestName)
}

// AlreadyProcessed reports whether the source's manifest exists.
func AlreadyProcessed(path string) bool {
	return exists(ManifestPath(OutputDir(path)))
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

package transcode

import (
	"os"
	"regexp"
	"strconv"

	"dashwatch/internal/eligibility"
)

var (
	initSegmentPattern  = regexp.MustCompile(`^init-stream(\d+)\.m4s$`)
	mediaSegmentPattern = regexp.MustCompile(`^chunk-stream(\d+)-(\d{5,})\.m4s$`)
)

// Layout summarizes the files found in a DASH output directory.
type Layout struct {
	Manifest     bool
	InitSegments map[int]bool
	Chunks       map[int]int
}

// Streams returns the number of representations with an init segment.
func (l Layout) Streams() int {
	return len(l.InitSegments)
}

// TotalChunks counts media segments across streams.
func (l Layout) TotalChunks() int {
	total := 0
	for _, n := range l.Chunks {
		total += n
	}
	return total
}

// Inspect reads dir and classifies its DASH files.
func Inspect(dir string) (Layout, error) {
	layout := Layout{InitSegments: map[int]bool{}, Chunks: map[int]int{}}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return layout, err
	}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == eligibility.ManifestName {
			layout.Manifest = true
			continue
		}
		if m := initSegmentPattern.FindStringSubmatch(name); m != nil {
			stream, _ := strconv.Atoi(m[1])
			layout.InitSegments[stream] = true
			continue
		}
		if m := mediaSegmentPattern.FindStringSubmatch(name); m != nil {
			stream, _ := strconv.Atoi(m[1])
			layout.Chunks[stream]++
		}
	}
	return layout, nil
}

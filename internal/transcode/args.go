package transcode

import (
	"strconv"
	"time"

	"dashwatch/internal/config"
	"dashwatch/internal/eligibility"
)

// Segment naming handed to the DASH muxer. Downstream players depend on these
// exact names.
const (
	InitSegmentTemplate  = "init-stream$RepresentationID$.m4s"
	MediaSegmentTemplate = "chunk-stream$RepresentationID$-$Number%05d$.m4s"
)

// Params are the encoder settings shared by every job.
type Params struct {
	Binary          string
	Preset          string
	CRF             int
	AudioBitrate    string
	SegmentDuration int
	Timeout         time.Duration
}

// ParamsFromConfig extracts encoder settings from cfg.
func ParamsFromConfig(cfg *config.Config) Params {
	return Params{
		Binary:          cfg.FFmpegBinary(),
		Preset:          cfg.Encoding.Preset,
		CRF:             cfg.Encoding.CRF,
		AudioBitrate:    cfg.Encoding.AudioBitrate,
		SegmentDuration: cfg.Encoding.SegmentDuration,
		Timeout:         cfg.JobTimeout(),
	}
}

// BuildArgs returns the ffmpeg argument list for one source.
func BuildArgs(input, outputDir string, p Params) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", input,
		"-c:v", "libx264",
		"-preset", p.Preset,
		"-crf", strconv.Itoa(p.CRF),
		"-c:a", "aac",
		"-b:a", p.AudioBitrate,
		"-f", "dash",
		"-seg_duration", strconv.Itoa(p.SegmentDuration),
		"-use_template", "1",
		"-use_timeline", "1",
		"-init_seg_name", InitSegmentTemplate,
		"-media_seg_name", MediaSegmentTemplate,
		eligibility.ManifestPath(outputDir),
	}
}

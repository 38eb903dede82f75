// Package config loads, normalizes, and validates dashwatch configuration.
//
// Settings come from three layers: repository defaults, an optional TOML file,
// and environment variables (WATCH_FOLDER, VIDEO_EXTENSIONS, FFMPEG_CRF and
// friends) which always win. Values that fail to parse are rejected instead of
// silently replaced by defaults, so a typo in a unit file stops the daemon at
// startup rather than changing encode quality.
//
// A loaded Config is never mutated afterwards; every component receives the
// resolved values once before the watch loop starts.
package config

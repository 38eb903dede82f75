// Package transcode runs ffmpeg to turn one source video into a DASH output
// directory next to it.
//
// The worker owns the output directory for the duration of a job: partial
// leftovers from an interrupted run are cleared, ffmpeg is supervised with a
// hard timeout, stderr is streamed to transcode.log, and success is only
// declared once manifest.mpd exists. Failed directories are left in place for
// inspection; the missing manifest keeps them from being mistaken for
// finished output.
//
// Process management sits behind Spawner and Handle so tests can substitute
// scripted encoders.
package transcode

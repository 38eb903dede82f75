package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// FFmpegSucceeds mimics the DASH muxer: two streams with init and media
// segments plus manifest.mpd next to the requested manifest path. Empty or
// missing inputs fail the way ffmpeg does. Arguments of the last call are
// written to <bin>/last-args, one per line.
const FFmpegSucceeds = `#!/bin/sh
printf '%s\n' "$@" > "$(dirname "$0")/last-args"
in=""
out=""
prev=""
for arg in "$@"; do
  if [ "$prev" = "-i" ]; then in="$arg"; fi
  prev="$arg"
  out="$arg"
done
if [ ! -s "$in" ]; then
  echo "$in: Invalid data found when processing input" >&2
  exit 1
fi
dir=$(dirname "$out")
echo "Input #0, from '$in'" >&2
for s in 0 1; do
  printf 'init' > "$dir/init-stream$s.m4s"
  for n in 00001 00002; do
    printf 'chunk' > "$dir/chunk-stream$s-$n.m4s"
  done
done
printf '<?xml version="1.0"?>\n<MPD></MPD>\n' > "$out"
exit 0
`

// FFmpegHangs never finishes on its own.
const FFmpegHangs = `#!/bin/sh
echo "encoding forever" >&2
exec sleep 60
`

// FFmpegHangsRecordingPID behaves like FFmpegHangs after writing its pid to
// <bin>/pid. exec keeps the pid for the sleeping process.
const FFmpegHangsRecordingPID = `#!/bin/sh
echo $$ > "$(dirname "$0")/pid.tmp"
mv "$(dirname "$0")/pid.tmp" "$(dirname "$0")/pid"
echo "encoding forever" >&2
exec sleep 60
`

// FFmpegNoManifest exits cleanly without producing output.
const FFmpegNoManifest = `#!/bin/sh
echo "muxer closed early" >&2
exit 0
`

// FFmpegFails exits with status 3 after writing a diagnostic.
const FFmpegFails = `#!/bin/sh
echo "Conversion failed!" >&2
exit 3
`

// FFmpegSlow behaves like FFmpegSucceeds after sleeping for the given
// fractional seconds.
func FFmpegSlow(seconds float64) string {
	return fmt.Sprintf("#!/bin/sh\nsleep %.2f\n", seconds) + FFmpegSucceeds[len("#!/bin/sh\n"):]
}

// WriteFakeFFmpeg writes script as an executable named ffmpeg in dir and
// returns its path.
func WriteFakeFFmpeg(t testing.TB, dir, script string) string {
	t.Helper()
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake ffmpeg: %v", err)
	}
	return path
}

// LastArgs returns the arguments recorded by FFmpegSucceeds.
func LastArgs(t testing.TB, ffmpegPath string) []string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(filepath.Dir(ffmpegPath), "last-args"))
	if err != nil {
		t.Fatalf("read recorded args: %v", err)
	}
	return strings.Split(strings.TrimRight(string(data), "\n"), "\n")
}

// RecordedPID returns the pid written by FFmpegHangsRecordingPID.
func RecordedPID(t testing.TB, ffmpegPath string) int {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(filepath.Dir(ffmpegPath), "pid"))
	if err != nil {
		t.Fatalf("read recorded pid: %v", err)
	}
	var pid int
	if _, err := fmt.Sscanf(strings.TrimSpace(string(data)), "%d", &pid); err != nil || pid <= 0 {
		t.Fatalf("parse recorded pid %q: %v", data, err)
	}
	return pid
}

package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrConfigInvalid    = errors.New("invalid configuration")
	ErrIO               = errors.New("filesystem error")
	ErrToolLaunch       = errors.New("encoding tool launch failed")
	ErrToolExit         = errors.New("encoding tool exited with error")
	ErrToolTimeout      = errors.New("encoding tool timed out")
	ErrOutputIncomplete = errors.New("encoding output incomplete")
	ErrCancelled        = errors.New("job cancelled")
)

// Error kind labels recorded alongside failed jobs.
const (
	KindConfigInvalid    = "config_invalid"
	KindIO               = "io_error"
	KindToolLaunch       = "tool_launch_failed"
	KindToolExit         = "tool_exit_nonzero"
	KindToolTimeout      = "tool_timeout"
	KindOutputIncomplete = "output_incomplete"
	KindCancelled        = "cancelled"
	KindUnknown          = "unknown"
)

// Wrap builds an error message that includes stage context while tagging it with
// the provided marker for later classification. The marker should be one
// of the exported sentinel errors above.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrIO
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Kind maps an error to its stable label. A nil error has no kind.
func Kind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrConfigInvalid):
		return KindConfigInvalid
	case errors.Is(err, ErrToolLaunch):
		return KindToolLaunch
	case errors.Is(err, ErrToolTimeout):
		return KindToolTimeout
	case errors.Is(err, ErrToolExit):
		return KindToolExit
	case errors.Is(err, ErrOutputIncomplete):
		return KindOutputIncomplete
	case errors.Is(err, ErrCancelled):
		return KindCancelled
	case errors.Is(err, ErrIO):
		return KindIO
	default:
		return KindUnknown
	}
}

// Alerting reports whether the error means the encoding tool itself is
// unusable, which affects every job rather than the current one.
func Alerting(err error) bool {
	return errors.Is(err, ErrToolLaunch)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}

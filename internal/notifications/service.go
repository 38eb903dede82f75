package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"dashwatch/internal/config"
	"dashwatch/internal/dispatch"
)

const userAgent = "dashwatch/0.1.0"

// Service is the notification surface used by the daemon and CLI.
type Service interface {
	NotifyJobSucceeded(ctx context.Context, job dispatch.Job) error
	NotifyJobFailed(ctx context.Context, job dispatch.Job) error
	NotifyToolUnavailable(ctx context.Context, tool string, consecutive int, cause error) error
	TestNotification(ctx context.Context) error
}

// NewService builds an ntfy-backed service, or a no-op when no topic is set.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		success:  cfg.Notifications.Success,
		failures: cfg.Notifications.Failures,
	}
}

type payload struct {
	title    string
	message  string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	success  bool
	failures bool
}

func (n *ntfyService) NotifyJobSucceeded(ctx context.Context, job dispatch.Job) error {
	if !n.success {
		return nil
	}
	message := fmt.Sprintf("✅ Ready to stream: %s", filepath.Base(job.Source))
	if d := job.Duration(); d > 0 {
		message = fmt.Sprintf("%s\nEncoded in %s", message, d.Round(time.Second))
	}
	return n.send(ctx, payload{
		title:   "dashwatch - Encoded",
		message: message,
		tags:    []string{"dashwatch", "encode", "completed"},
	})
}

func (n *ntfyService) NotifyJobFailed(ctx context.Context, job dispatch.Job) error {
	if !n.failures {
		return nil
	}
	var builder strings.Builder
	builder.WriteString("❌ Encoding failed: ")
	builder.WriteString(filepath.Base(job.Source))
	if job.ErrorKind != "" {
		builder.WriteString(" (")
		builder.WriteString(job.ErrorKind)
		builder.WriteString(")")
	}
	if msg := strings.TrimSpace(job.ErrorMessage); msg != "" {
		builder.WriteString("\n")
		builder.WriteString(msg)
	}
	return n.send(ctx, payload{
		title:    "dashwatch - Failed",
		message:  builder.String(),
		tags:     []string{"dashwatch", "encode", "failed"},
		priority: "high",
	})
}

func (n *ntfyService) NotifyToolUnavailable(ctx context.Context, tool string, consecutive int, cause error) error {
	message := fmt.Sprintf("⚠️ %s could not be launched %d times in a row", strings.TrimSpace(tool), consecutive)
	if cause != nil {
		message = fmt.Sprintf("%s\n%s", message, strings.TrimSpace(cause.Error()))
	}
	return n.send(ctx, payload{
		title:    "dashwatch - Encoder Unavailable",
		message:  message,
		tags:     []string{"dashwatch", "error", "alert"},
		priority: "urgent",
	})
}

func (n *ntfyService) TestNotification(ctx context.Context) error {
	return n.send(ctx, payload{
		title:    "dashwatch - Test",
		message:  "🧪 Notification system test",
		tags:     []string{"dashwatch", "test"},
		priority: "low",
	})
}

func (n *ntfyService) send(ctx context.Context, data payload) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.message))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) NotifyJobSucceeded(context.Context, dispatch.Job) error          { return nil }
func (noopService) NotifyJobFailed(context.Context, dispatch.Job) error             { return nil }
func (noopService) NotifyToolUnavailable(context.Context, string, int, error) error { return nil }
func (noopService) TestNotification(context.Context) error                          { return nil }

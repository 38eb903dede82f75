package daemonrun_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"dashwatch/internal/daemon"
	"dashwatch/internal/daemonrun"
	"dashwatch/internal/logging"
	"dashwatch/internal/testsupport"
)

func TestRunWritesRuntimeFilesAndStopsOnCancel(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFFmpeg(testsupport.FFmpegSucceeds))
	pidPath := filepath.Join(cfg.Paths.StateDir, daemonrun.PIDFileName)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- daemonrun.Run(ctx, cfg, daemonrun.Options{LogLevel: "info"}) }()

	pointer := filepath.Join(cfg.Paths.LogDir, "dashwatch.log")
	deadline := time.Now().Add(5 * time.Second)
	for {
		data, _ := os.ReadFile(pointer)
		if strings.Contains(string(data), "dashwatch daemon started") {
			break
		}
		if time.Now().After(deadline) {
			cancel()
			t.Fatalf("daemon did not start: %v", <-done)
		}
		time.Sleep(25 * time.Millisecond)
	}

	if running, err := daemon.InstanceRunning(cfg); err != nil || !running {
		t.Fatalf("expected daemon lock held, running=%v err=%v", running, err)
	}
	if _, err := os.Stat(pidPath); err != nil {
		t.Fatalf("expected pid file: %v", err)
	}
	if _, err := os.Stat(cfg.LedgerPath()); err != nil {
		t.Fatalf("expected ledger database: %v", err)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Fatal("expected pid file to be removed")
	}
}

func TestRunRefusesSecondInstance(t *testing.T) {
	cfg := testsupport.NewConfig(t, testsupport.WithFFmpeg(testsupport.FFmpegSucceeds))
	d, err := daemon.New(cfg, nil, logging.NewNop(), nil)
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer d.Close()

	err = daemonrun.Run(context.Background(), cfg, daemonrun.Options{LogLevel: "error"})
	if !errors.Is(err, daemon.ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

func TestRunRequiresConfig(t *testing.T) {
	if err := daemonrun.Run(context.Background(), nil, daemonrun.Options{}); err == nil {
		t.Fatal("expected error for nil config")
	}
}

package config

import (
	"context"
	"os"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

func TestWatchReloadsOnWrite(t *testing.T) {
	path := writeConfig(t, "log_level: info\n")
	ctx, cancel := context.WithCancel(context.Background())

	changes := make(chan Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c Config) { changes <- c })
	}()
	defer func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Watch: %v", err)
		}
	}()

	// Give the watcher a moment to register before writing.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is skipped.
	if err := os.WriteFile(path, []byte("log_level: loud\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Fatalf("invalid config delivered: %+v", c)
	case <-time.After(500 * time.Millisecond):
	}

	if err := os.WriteFile(path, []byte("log_level: debug\n"), 0644); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		if c.Level() != zapcore.DebugLevel {
			t.Errorf("level: got %v, want debug", c.Level())
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after write")
	}
}

func TestWatchMissingDirectory(t *testing.T) {
	err := Watch(context.Background(), "/nonexistent/dir/config.yaml", nil, func(Config) {})
	if err == nil {
		t.Fatal("expected error for a missing directory")
	}
}

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cfg.Log.Format != "console" {
			t.Errorf("Expected default format 'console', got: %s", cfg.Log.Format)
		}
		if cfg.Log.File != "" {
			t.Errorf("Expected no log file, got: %s", cfg.Log.File)
		}
		if cfg.Reliable.HandshakeTimeout != 0 {
			t.Errorf("Expected no handshake timeout, got: %v", cfg.Reliable.HandshakeTimeout)
		}
		if cfg.Reliable.MaxFrameSize != 16<<20 {
			t.Errorf("Expected 16MiB max frame size, got: %d", cfg.Reliable.MaxFrameSize)
		}
		if cfg.Reliable.Linger != 5*time.Second {
			t.Errorf("Expected 5s linger, got: %v", cfg.Reliable.Linger)
		}
		if cfg.Metrics.Addr != "" {
			t.Errorf("Expected metrics disabled, got: %s", cfg.Metrics.Addr)
		}
	})

	t.Run("from environment", func(t *testing.T) {
		t.Setenv("FRAMERELAY_LOG_FORMAT", "json")
		t.Setenv("FRAMERELAY_RELIABLE_HANDSHAKE_TIMEOUT", "10s")
		t.Setenv("FRAMERELAY_DATAGRAM_READ_BUFFER", "1048576")
		t.Setenv("FRAMERELAY_METRICS_ADDR", "127.0.0.1:9100")

		cfg, err := Load("")
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cfg.Log.Format != "json" {
			t.Errorf("Expected format from env, got: %s", cfg.Log.Format)
		}
		if cfg.Reliable.HandshakeTimeout != 10*time.Second {
			t.Errorf("Expected handshake timeout from env, got: %v", cfg.Reliable.HandshakeTimeout)
		}
		if cfg.Datagram.ReadBuffer != 1048576 {
			t.Errorf("Expected read buffer from env, got: %d", cfg.Datagram.ReadBuffer)
		}
		if cfg.Metrics.Addr != "127.0.0.1:9100" {
			t.Errorf("Expected metrics addr from env, got: %s", cfg.Metrics.Addr)
		}
	})

	t.Run("from file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "framerelay.yaml")
		content := []byte("log:\n  file: /tmp/relay.log\nreliable:\n  max_frame_size: 4096\n  linger: 1s\n")
		if err := os.WriteFile(path, content, 0o600); err != nil {
			t.Fatalf("write config: %v", err)
		}

		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Expected no error, got: %v", err)
		}

		if cfg.Log.File != "/tmp/relay.log" {
			t.Errorf("Expected log file from config, got: %s", cfg.Log.File)
		}
		if cfg.Reliable.MaxFrameSize != 4096 {
			t.Errorf("Expected max frame size from config, got: %d", cfg.Reliable.MaxFrameSize)
		}
		if cfg.Reliable.Linger != time.Second {
			t.Errorf("Expected linger from config, got: %v", cfg.Reliable.Linger)
		}
	})

	t.Run("invalid value", func(t *testing.T) {
		t.Setenv("FRAMERELAY_LOG_FORMAT", "xml")

		if _, err := Load(""); err == nil {
			t.Error("Expected error for invalid log format")
		}
	})
}

func TestValidate(t *testing.T) {
	t.Run("valid config", func(t *testing.T) {
		if err := Default().Validate(); err != nil {
			t.Errorf("Expected no error, got: %v", err)
		}
	})

	t.Run("negative handshake timeout", func(t *testing.T) {
		cfg := Default()
		cfg.Reliable.HandshakeTimeout = -time.Second

		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for negative handshake timeout")
		}
	})

	t.Run("zero max frame size", func(t *testing.T) {
		cfg := Default()
		cfg.Reliable.MaxFrameSize = 0

		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for zero max frame size")
		}
	})

	t.Run("negative read buffer", func(t *testing.T) {
		cfg := Default()
		cfg.Datagram.ReadBuffer = -1

		if err := cfg.Validate(); err == nil {
			t.Error("Expected error for negative read buffer")
		}
	})
}

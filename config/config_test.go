// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"os"
	"testing"
	"time"
)

func TestFromEnvironment(t *testing.T) {
	os.Setenv("LOG_LEVEL", "debug")
	os.Setenv("PROGRESS_STYLE", "spinner")
	os.Setenv("SHOW_ETA", "0")
	os.Setenv("KEEP_SERIAL_CONSOLE", "1")
	os.Setenv("ROOT_CHOICE", "first")
	os.Setenv("VIRTIO_WIN_PATH", "/opt/virtio-win.iso")
	defer func() {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("PROGRESS_STYLE")
		os.Unsetenv("SHOW_ETA")
		os.Unsetenv("KEEP_SERIAL_CONSOLE")
		os.Unsetenv("ROOT_CHOICE")
		os.Unsetenv("VIRTIO_WIN_PATH")
	}()

	cfg := FromEnvironment()

	if cfg.LogLevel != "debug" {
		t.Errorf("Expected LogLevel 'debug', got '%s'", cfg.LogLevel)
	}
	if cfg.ProgressStyle != "spinner" {
		t.Errorf("Expected ProgressStyle 'spinner', got '%s'", cfg.ProgressStyle)
	}
	if cfg.ShowETA {
		t.Error("Expected ShowETA to be false")
	}
	if !cfg.Conversion.KeepSerialConsole {
		t.Error("Expected Conversion.KeepSerialConsole to be true")
	}
	if cfg.Conversion.RootChoice != "first" {
		t.Errorf("Expected Conversion.RootChoice 'first', got '%s'", cfg.Conversion.RootChoice)
	}
	if cfg.Conversion.VirtioWinPath != "/opt/virtio-win.iso" {
		t.Errorf("Expected Conversion.VirtioWinPath '/opt/virtio-win.iso', got '%s'", cfg.Conversion.VirtioWinPath)
	}
}

func TestFromEnvironmentDefaults(t *testing.T) {
	os.Clearenv()

	cfg := FromEnvironment()

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.ProgressStyle != "bar" {
		t.Errorf("Expected default ProgressStyle 'bar', got '%s'", cfg.ProgressStyle)
	}
	if !cfg.ShowETA {
		t.Error("Expected default ShowETA to be true")
	}
	if cfg.RefreshRate != 100*time.Millisecond {
		t.Errorf("Expected default RefreshRate 100ms, got %v", cfg.RefreshRate)
	}
	if cfg.Conversion.RootChoice != "ask" {
		t.Errorf("Expected default RootChoice 'ask', got '%s'", cfg.Conversion.RootChoice)
	}
	if cfg.Conversion.KeepSerialConsole {
		t.Error("Expected default KeepSerialConsole false")
	}
	if cfg.Conversion.VirtioWinPath != "/usr/share/virtio-win/virtio-win.iso" {
		t.Errorf("Expected default VirtioWinPath, got '%s'", cfg.Conversion.VirtioWinPath)
	}
}

func TestFromFile(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	configContent := `loglevel: "warn"
progressstyle: "quiet"
conversion:
  keep_serial_console: true
  root_choice: "single"
  virtio_win_path: "/srv/virtio-win.iso"
`
	if _, err := tmpFile.WriteString(configContent); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}
	tmpFile.Close()

	cfg, err := FromFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}

	if cfg.LogLevel != "warn" {
		t.Errorf("Expected LogLevel 'warn', got '%s'", cfg.LogLevel)
	}
	if cfg.ProgressStyle != "quiet" {
		t.Errorf("Expected ProgressStyle 'quiet', got '%s'", cfg.ProgressStyle)
	}
	if !cfg.Conversion.KeepSerialConsole {
		t.Error("Expected Conversion.KeepSerialConsole true")
	}
	if cfg.Conversion.RootChoice != "single" {
		t.Errorf("Expected Conversion.RootChoice 'single', got '%s'", cfg.Conversion.RootChoice)
	}
	if cfg.Conversion.VirtioWinPath != "/srv/virtio-win.iso" {
		t.Errorf("Expected Conversion.VirtioWinPath '/srv/virtio-win.iso', got '%s'", cfg.Conversion.VirtioWinPath)
	}
}

func TestFromFile_NonexistentFile(t *testing.T) {
	_, err := FromFile("/nonexistent/config.yaml")
	if err == nil {
		t.Error("Expected error for nonexistent file")
	}
}

func TestFromFile_InvalidYAML(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "invalid-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	tmpFile.WriteString("invalid: yaml: content: :\n")
	tmpFile.Close()

	_, err = FromFile(tmpFile.Name())
	if err == nil {
		t.Error("Expected error for invalid YAML")
	}
}

func TestFromFile_AllDefaults(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "empty-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	configContent := `{}`
	tmpFile.WriteString(configContent)
	tmpFile.Close()

	cfg, err := FromFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}

	if cfg.LogLevel != "info" {
		t.Errorf("Expected default LogLevel 'info', got '%s'", cfg.LogLevel)
	}
	if cfg.ProgressStyle != "bar" {
		t.Errorf("Expected default ProgressStyle 'bar', got '%s'", cfg.ProgressStyle)
	}
	if cfg.RefreshRate != 100*time.Millisecond {
		t.Errorf("Expected default RefreshRate 100ms, got %v", cfg.RefreshRate)
	}
	if cfg.Conversion == nil {
		t.Fatal("Expected Conversion to be initialized")
	}
	if cfg.Conversion.RootChoice != "ask" {
		t.Errorf("Expected default RootChoice 'ask', got '%s'", cfg.Conversion.RootChoice)
	}
	if cfg.Conversion.VirtioWinPath == "" {
		t.Error("Expected default VirtioWinPath to be set")
	}
}

func TestFromFile_ConversionPartialDefaults(t *testing.T) {
	tmpFile, err := os.CreateTemp("", "conversion-*.yaml")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	defer os.Remove(tmpFile.Name())

	tmpFile.WriteString("conversion:\n  keep_serial_console: true\n")
	tmpFile.Close()

	cfg, err := FromFile(tmpFile.Name())
	if err != nil {
		t.Fatalf("FromFile failed: %v", err)
	}

	if !cfg.Conversion.KeepSerialConsole {
		t.Error("Expected KeepSerialConsole true from file")
	}
	if cfg.Conversion.RootChoice != "ask" {
		t.Errorf("Expected default RootChoice 'ask' to fill missing field, got %q", cfg.Conversion.RootChoice)
	}
	if cfg.Conversion.VirtioWinPath == "" {
		t.Error("Expected default VirtioWinPath to fill missing field")
	}
}

func TestMergeWithEnv(t *testing.T) {
	os.Setenv("LOG_LEVEL", "error")
	os.Setenv("ROOT_CHOICE", "single")
	defer func() {
		os.Unsetenv("LOG_LEVEL")
		os.Unsetenv("ROOT_CHOICE")
	}()

	cfg := &Config{
		LogLevel: "info",
		Conversion: &ConversionConfig{
			RootChoice: "ask",
		},
	}

	merged := cfg.MergeWithEnv()

	if merged.LogLevel != "error" {
		t.Errorf("Expected env to override LogLevel, got '%s'", merged.LogLevel)
	}
	if merged.Conversion.RootChoice != "single" {
		t.Errorf("Expected env to override RootChoice, got '%s'", merged.Conversion.RootChoice)
	}
}

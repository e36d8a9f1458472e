// SPDX-License-Identifier: LGPL-3.0-or-later

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LogLevel      string
	ProgressStyle string // "bar", "spinner", "quiet"
	ShowETA       bool
	RefreshRate   time.Duration

	// Conversion holds the Linux/Windows converter tunables that are
	// not part of any single Source/Target value (spec.md §4.6/§4.7/§6).
	Conversion *ConversionConfig `yaml:"conversion"`
}

// ConversionConfig holds process-wide conversion-pipeline tunables:
// the keep_serial_console policy (§4.6), the root_choice default for
// multi-boot disambiguation (§6), and the VIRTIO_WIN driver
// directory/ISO path the Windows converter reads from (§4.7).
type ConversionConfig struct {
	KeepSerialConsole bool   `yaml:"keep_serial_console"`
	RootChoice        string `yaml:"root_choice"` // "ask", "single", "first", or a /dev path
	VirtioWinPath     string `yaml:"virtio_win_path"`
}

func FromEnvironment() *Config {
	refreshRate, _ := strconv.Atoi(getEnv("PROGRESS_REFRESH_RATE", "100"))

	return &Config{
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		ProgressStyle: getEnv("PROGRESS_STYLE", "bar"),
		ShowETA:       getEnv("SHOW_ETA", "1") == "1",
		RefreshRate:   time.Duration(refreshRate) * time.Millisecond,
		Conversion: &ConversionConfig{
			KeepSerialConsole: getEnv("KEEP_SERIAL_CONSOLE", "0") == "1",
			RootChoice:        getEnv("ROOT_CHOICE", "ask"),
			VirtioWinPath:     getEnv("VIRTIO_WIN_PATH", "/usr/share/virtio-win/virtio-win.iso"),
		},
	}
}

// FromFile loads configuration from a YAML file
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.ProgressStyle == "" {
		cfg.ProgressStyle = "bar"
	}
	if cfg.RefreshRate == 0 {
		cfg.RefreshRate = 100 * time.Millisecond
	}

	if cfg.Conversion == nil {
		cfg.Conversion = &ConversionConfig{
			KeepSerialConsole: false,
			RootChoice:        "ask",
			VirtioWinPath:     "/usr/share/virtio-win/virtio-win.iso",
		}
	} else {
		if cfg.Conversion.RootChoice == "" {
			cfg.Conversion.RootChoice = "ask"
		}
		if cfg.Conversion.VirtioWinPath == "" {
			cfg.Conversion.VirtioWinPath = "/usr/share/virtio-win/virtio-win.iso"
		}
	}

	return cfg, nil
}

// MergeWithEnv merges file config with environment variables (env takes precedence)
func (c *Config) MergeWithEnv() *Config {
	envCfg := FromEnvironment()

	if os.Getenv("LOG_LEVEL") != "" {
		c.LogLevel = envCfg.LogLevel
	}
	if os.Getenv("PROGRESS_STYLE") != "" {
		c.ProgressStyle = envCfg.ProgressStyle
	}
	if os.Getenv("KEEP_SERIAL_CONSOLE") != "" {
		c.Conversion.KeepSerialConsole = envCfg.Conversion.KeepSerialConsole
	}
	if os.Getenv("ROOT_CHOICE") != "" {
		c.Conversion.RootChoice = envCfg.Conversion.RootChoice
	}
	if os.Getenv("VIRTIO_WIN_PATH") != "" {
		c.Conversion.VirtioWinPath = envCfg.Conversion.VirtioWinPath
	}

	return c
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

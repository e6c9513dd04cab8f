package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"
)

// Built-in defaults for the bundled YOLO checkpoint.
const (
	DefaultModelID   = "yolo26n"
	DefaultModelPath = "BoxToBox.API/Models/yolo26n.pt"
	DefaultExporter  = "ultralytics"
	DefaultFormat    = "onnx"
	DefaultImageSize = 640
	DefaultTimeout   = 30 * time.Minute
	DefaultVersion   = "1"
)

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{
		Version:      DefaultVersion,
		DefaultModel: DefaultModelID,
		Models: map[string]ModelConfig{
			DefaultModelID: {Path: DefaultModelPath},
		},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields.
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.DefaultModel == "" && len(c.Models) == 1 {
		for id := range c.Models {
			c.DefaultModel = id
		}
	}

	for id, m := range c.Models {
		if m.Exporter == "" {
			m.Exporter = DefaultExporter
		}
		if m.Format == "" {
			m.Format = DefaultFormat
		}
		if m.ImageSize <= 0 {
			m.ImageSize = DefaultImageSize
		}
		c.Models[id] = m
	}
}

// DefaultConfigPath returns the default path for the modelport config directory.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", "modelport", "config")
	}

	switch runtime.GOOS {
	case "windows":
		return filepath.Join(home, "AppData", "Roaming", "modelport")
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", "modelport")
	default: // Linux, BSD, etc.
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, "modelport")
		}
		return filepath.Join(home, ".config", "modelport")
	}
}

// DefaultConfigFile returns the default config file path.
func DefaultConfigFile() string {
	return filepath.Join(DefaultConfigPath(), "config.yaml")
}

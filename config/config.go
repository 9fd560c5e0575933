package config

import (
	"ObjDetector/capture"
	"ObjDetector/display"
	"ObjDetector/engine"
	iface "ObjDetector/interface"
	"ObjDetector/logger"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const DefaultConfigPath = "config.yaml"

// DefaultPollTimeoutMs keeps the live loop responsive while waiting for the stop key.
const DefaultPollTimeoutMs = 30

type CaptureConfig struct {
	Device            int              `yaml:"device"`
	Resolution        iface.Resolution `yaml:"resolution"`
	DroppedFrameLimit int              `yaml:"droppedFrameLimit"`
}

type DisplayConfig struct {
	WindowName    string `yaml:"windowName"`
	PollTimeoutMs int    `yaml:"pollTimeoutMs"`
	StopKey       int    `yaml:"stopKey"`
}

type MonitorConfig struct {
	Port int `yaml:"port"`
}

type Config struct {
	Model   engine.Config  `yaml:"model"`
	Capture CaptureConfig  `yaml:"capture"`
	Display DisplayConfig  `yaml:"display"`
	Log     logger.Options `yaml:"log"`
	Monitor MonitorConfig  `yaml:"monitor"`
}

func Default() *Config {
	return &Config{
		Model: engine.DefaultConfig(),
		Capture: CaptureConfig{
			Device:            0,
			Resolution:        iface.Resolution{Width: 1280, Height: 720},
			DroppedFrameLimit: capture.DefaultDroppedFrameLimit,
		},
		Display: DisplayConfig{
			WindowName:    display.DefaultWindowName,
			PollTimeoutMs: DefaultPollTimeoutMs,
			StopKey:       display.StopKey,
		},
		Log: logger.Options{Level: "info"},
	}
}

// Load reads path over the defaults. A missing file at the default location is not
// an error; a missing file named explicitly is.
func Load(path string) (*Config, error) {
	cfg := Default()
	configData, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) && path == DefaultConfigPath {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(configData, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Model.Validate(); err != nil {
		return fmt.Errorf("model: %w", err)
	}
	if c.Capture.Device < 0 {
		return fmt.Errorf("capture.device must be >= 0, got %d", c.Capture.Device)
	}
	if c.Capture.Resolution.Width < 0 || c.Capture.Resolution.Height < 0 {
		return fmt.Errorf("capture.resolution must not be negative, got %dx%d",
			c.Capture.Resolution.Width, c.Capture.Resolution.Height)
	}
	if c.Display.PollTimeoutMs <= 0 {
		return fmt.Errorf("display.pollTimeoutMs must be > 0, got %d", c.Display.PollTimeoutMs)
	}
	if c.Monitor.Port < 0 || c.Monitor.Port > 65535 {
		return fmt.Errorf("monitor.port out of range: %d", c.Monitor.Port)
	}
	return nil
}

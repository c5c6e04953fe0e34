package domain

import (
	"path/filepath"
	"time"
)

// Config represents the application configuration
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Download     DownloadConfig     `mapstructure:"download"`
	Source       SourceConfig       `mapstructure:"source"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Notification NotificationConfig `mapstructure:"notification"`
	Logging      LoggingConfig      `mapstructure:"logging"`
}

// ServerConfig contains server-related configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port int    `mapstructure:"port"`
}

// DownloadConfig contains download-related configuration
type DownloadConfig struct {
	BaseDir     string `mapstructure:"base_dir"`
	PagesBucket string `mapstructure:"pages_bucket"` // gocloud bucket URL, defaults to file://<base_dir>/pages
	AutoStart   bool   `mapstructure:"auto_start"`   // start the downloader when a chapter is queued
}

// PagesDir returns the directory used by the default file bucket
func (d DownloadConfig) PagesDir() string {
	return filepath.Join(d.BaseDir, "pages")
}

// LogsDir returns the directory for category log files
func (d DownloadConfig) LogsDir() string {
	return filepath.Join(d.BaseDir, "logs")
}

// BucketURL returns the configured bucket URL or the file bucket under BaseDir
func (d DownloadConfig) BucketURL() string {
	if d.PagesBucket != "" {
		return d.PagesBucket
	}
	return "file://" + filepath.ToSlash(d.PagesDir()) + "?create_dir=true"
}

// SourceConfig configures the remote chapter source
type SourceConfig struct {
	BaseURL   string        `mapstructure:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
	UserAgent string        `mapstructure:"user_agent"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// NotificationConfig contains notification-related configuration
type NotificationConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Method  string `mapstructure:"method"` // auto, osascript, notify-send
}

// LoggingConfig contains logging-related configuration
type LoggingConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, or file path
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "localhost",
			Port: 4567,
		},
		Download: DownloadConfig{
			BaseDir:   "$HOME/.local/share/chapterdl",
			AutoStart: true,
		},
		Source: SourceConfig{
			BaseURL:   "http://localhost:4568",
			Timeout:   30 * time.Second,
			UserAgent: "chapterdl/1.0",
		},
		Database: DatabaseConfig{
			Path: "$HOME/.local/share/chapterdl/chapterdl.db",
		},
		Notification: NotificationConfig{
			Enabled: false,
			Method:  "auto",
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			OutputPath: "stdout",
		},
	}
}

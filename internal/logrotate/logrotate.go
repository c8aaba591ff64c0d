// Package logrotate keeps the DriveDecoder log file bounded in size.
package logrotate

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/natefinch/lumberjack"

	"DriveDecoder/internal/logger"
)

// DefaultConfig keeps five compressed 20 MB backups for up to a month
var DefaultConfig = Config{
	MaxSize:    20,
	MaxAge:     30,
	MaxBackups: 5,
	Compress:   true,
	LocalTime:  true,
}

// Config is the log_rotation section of the YAML config. Sizes are in
// megabytes and ages in days; zero values fall back to DefaultConfig.
type Config struct {
	MaxSize    int  `yaml:"max_size"`
	MaxAge     int  `yaml:"max_age"`
	MaxBackups int  `yaml:"max_backups"`
	Compress   bool `yaml:"compress"`
	LocalTime  bool `yaml:"local_time"`
}

func (c Config) withDefaults() Config {
	if c.MaxSize <= 0 {
		c.MaxSize = DefaultConfig.MaxSize
	}
	if c.MaxAge <= 0 {
		c.MaxAge = DefaultConfig.MaxAge
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = DefaultConfig.MaxBackups
	}
	return c
}

func (c Config) rotator(filename string) *lumberjack.Logger {
	c = c.withDefaults()
	return &lumberjack.Logger{
		Filename:   filename,
		MaxSize:    c.MaxSize,
		MaxAge:     c.MaxAge,
		MaxBackups: c.MaxBackups,
		Compress:   c.Compress,
		LocalTime:  c.LocalTime,
	}
}

// Writer serializes writes to a rotating log file
type Writer struct {
	mu   sync.Mutex
	file *lumberjack.Logger
}

// Open prepares the log directory and returns a writer for filename.
// The file itself is created on first write.
func Open(filename string, config Config) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	return &Writer{file: config.rotator(filename)}, nil
}

func (w *Writer) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Write(p)
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.file.Close()
}

// Attach sends log output to both console and filename. Close the
// returned writer on shutdown.
func Attach(console io.Writer, filename string, config Config) (*Writer, error) {
	w, err := Open(filename, config)
	if err != nil {
		return nil, err
	}
	logger.SetOutput(io.MultiWriter(console, w))
	return w, nil
}

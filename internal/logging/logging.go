// Package logging builds the component loggers used across nootle.
//
// Every component logs through a *log.Logger with a "[component] " prefix.
// By default output goes to stderr; when a log file is configured all
// components share one size-rotated file.
package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/nootle/nootle/internal/config"
)

// Factory hands out component loggers that share one output.
type Factory struct {
	out    io.Writer
	closer io.Closer
	once   sync.Once
}

// NewFactory creates a factory for cfg. A nil cfg or an empty File logs to
// stderr.
func NewFactory(cfg *config.LogConfig) *Factory {
	if cfg == nil || cfg.File == "" {
		return &Factory{out: os.Stderr}
	}

	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
	}
	return &Factory{out: rotator, closer: rotator}
}

// Discard returns a factory whose loggers write nothing.
func Discard() *Factory {
	return &Factory{out: io.Discard}
}

// New returns a logger for component.
func (f *Factory) New(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags)
}

// Writer returns the shared output.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	var err error
	f.once.Do(func() {
		if f.closer != nil {
			err = f.closer.Close()
		}
	})
	return err
}

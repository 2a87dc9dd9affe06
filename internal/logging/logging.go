// Package logging builds the component loggers. Every component takes a
// plain *log.Logger; this package decides where their output goes.
package logging

import (
	"io"
	"log"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/mschirtzinger/offsync/internal/config"
)

// Factory hands out loggers sharing one destination.
type Factory struct {
	out  io.Writer
	file *lumberjack.Logger
}

// New builds a Factory from cfg. With no file configured output goes to
// stderr. A configured file is rotated by lumberjack; cfg.Stderr mirrors it
// to stderr.
func New(cfg config.LogConfig) *Factory {
	if cfg.File == "" {
		return &Factory{out: os.Stderr}
	}

	file := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}

	var out io.Writer = file
	if cfg.Stderr {
		out = io.MultiWriter(os.Stderr, file)
	}
	return &Factory{out: out, file: file}
}

// Logger returns a logger prefixed with "[component] ".
func (f *Factory) Logger(component string) *log.Logger {
	return log.New(f.out, "["+component+"] ", log.LstdFlags)
}

// Writer exposes the destination for libraries that log through an
// io.Writer.
func (f *Factory) Writer() io.Writer {
	return f.out
}

// Close closes the log file, if any.
func (f *Factory) Close() error {
	if f.file == nil {
		return nil
	}
	return f.file.Close()
}

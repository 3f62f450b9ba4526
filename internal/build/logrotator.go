package build

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/jrick/logrotate/rotator"
)

const (
	// DefaultMaxLogFiles is the default maximum number of rotated log
	// files to keep on disk.
	DefaultMaxLogFiles = 3

	// DefaultMaxLogFileSize is the default maximum log file size in MB
	// before rotation occurs.
	DefaultMaxLogFileSize = 10

	// DefaultLogFilename is the log file name inside the log directory.
	DefaultLogFilename = "deckview.log"
)

// LogRotatorConfig holds the configuration for the log file rotator.
type LogRotatorConfig struct {
	// LogDir is the directory where log files are written.
	LogDir string

	// MaxLogFiles is the maximum number of rotated log files to keep.
	// Set to 0 to disable rotation (single file, unbounded growth).
	MaxLogFiles int

	// MaxLogFileSize is the maximum size of a log file in megabytes
	// before it is rotated.
	MaxLogFileSize int

	// Filename overrides DefaultLogFilename.
	Filename string
}

// DefaultLogRotatorConfig returns a LogRotatorConfig writing to dir.
func DefaultLogRotatorConfig(dir string) *LogRotatorConfig {
	return &LogRotatorConfig{
		LogDir:         dir,
		MaxLogFiles:    DefaultMaxLogFiles,
		MaxLogFileSize: DefaultMaxLogFileSize,
		Filename:       DefaultLogFilename,
	}
}

// RotatingLogWriter feeds a jrick/logrotate rotator through a pipe. Rotated
// files are gzip compressed.
type RotatingLogWriter struct {
	pipe    *io.PipeWriter
	rotator *rotator.Rotator

	// done is closed once the rotator goroutine has flushed and exited.
	done chan struct{}
}

// NewRotatingLogWriter creates the log directory and starts the rotator.
func NewRotatingLogWriter(cfg *LogRotatorConfig) (*RotatingLogWriter,
	error) {

	if cfg.LogDir == "" {
		return nil, errors.New("log directory must be set")
	}

	filename := cfg.Filename
	if filename == "" {
		filename = DefaultLogFilename
	}

	logFile := filepath.Join(cfg.LogDir, filename)
	if err := os.MkdirAll(filepath.Dir(logFile), 0o700); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	// The rotator takes its threshold in kilobytes.
	r, err := rotator.New(
		logFile, int64(cfg.MaxLogFileSize*1024), false,
		cfg.MaxLogFiles,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create file rotator: %w", err)
	}
	r.SetCompressor(gzip.NewWriter(nil), ".gz")

	pr, pw := io.Pipe()
	w := &RotatingLogWriter{
		pipe:    pw,
		rotator: r,
		done:    make(chan struct{}),
	}

	// The rotator is the log destination, so its own failures can only
	// go to stderr.
	go func() {
		defer close(w.done)

		if err := r.Run(pr); err != nil {
			_, _ = fmt.Fprintf(
				os.Stderr, "failed to run file rotator: %v\n",
				err,
			)
		}
	}()

	return w, nil
}

// Write writes the byte slice to the rotator pipe.
func (r *RotatingLogWriter) Write(b []byte) (int, error) {
	return r.pipe.Write(b)
}

// Close closes the pipe and waits for the rotator to flush. deckctl is
// short lived, so the tail of the log would otherwise be lost on exit.
func (r *RotatingLogWriter) Close() error {
	err := r.pipe.Close()
	<-r.done

	return err
}

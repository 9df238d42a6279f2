package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// FileName is the active audit file inside FileConfig.Dir
const FileName = "audit.log"

// FileConfig configures the file logger
type FileConfig struct {
	Dir      string
	MaxSize  int64 // bytes before rotation, default 10MB
	MaxFiles int   // rotated files kept, default 5
}

// FileLogger appends events as JSON lines and rotates by size
type FileLogger struct {
	dir      string
	maxSize  int64
	maxFiles int

	mu      sync.Mutex
	file    *os.File
	encoder *json.Encoder
}

// NewFileLogger opens (creating if needed) Dir/audit.log
func NewFileLogger(cfg FileConfig) (*FileLogger, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("audit directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}

	l := &FileLogger{
		dir:      cfg.Dir,
		maxSize:  cfg.MaxSize,
		maxFiles: cfg.MaxFiles,
	}
	if l.maxSize <= 0 {
		l.maxSize = 10 * 1024 * 1024
	}
	if l.maxFiles <= 0 {
		l.maxFiles = 5
	}

	if err := l.open(); err != nil {
		return nil, err
	}
	return l, nil
}

// Path returns the active file
func (l *FileLogger) Path() string {
	return filepath.Join(l.dir, FileName)
}

func (l *FileLogger) open() error {
	file, err := os.OpenFile(l.Path(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return fmt.Errorf("failed to open audit file: %w", err)
	}
	l.file = file
	l.encoder = json.NewEncoder(file)
	return nil
}

// Log writes one event, rotating first when the file is full
func (l *FileLogger) Log(ctx context.Context, event *Event) error {
	stamp(ctx, event)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return fmt.Errorf("audit logger is closed")
	}
	if info, err := l.file.Stat(); err == nil && info.Size() >= l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("failed to rotate audit file: %w", err)
		}
	}

	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to write audit event: %w", err)
	}
	return nil
}

func (l *FileLogger) rotate() error {
	if err := l.file.Close(); err != nil {
		return err
	}
	l.file = nil

	rotated := filepath.Join(l.dir, fmt.Sprintf("audit-%s.log", time.Now().UTC().Format("20060102T150405.000000000")))
	if err := os.Rename(l.Path(), rotated); err != nil {
		return err
	}
	if err := l.prune(); err != nil {
		return err
	}
	return l.open()
}

// prune keeps the newest maxFiles rotated files; the timestamped names sort
// chronologically
func (l *FileLogger) prune() error {
	files, err := Rotated(l.dir)
	if err != nil {
		return err
	}
	if len(files) <= l.maxFiles {
		return nil
	}
	for _, f := range files[:len(files)-l.maxFiles] {
		if err := os.Remove(f); err != nil {
			return err
		}
	}
	return nil
}

// Close flushes and closes the file
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// Rotated lists the rotated files in dir, oldest first
func Rotated(dir string) ([]string, error) {
	files, err := filepath.Glob(filepath.Join(dir, "audit-*.log"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

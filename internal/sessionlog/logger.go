package sessionlog

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
)

// Logger defines the interface for session audit logging.
type Logger interface {
	Log(entry Entry) error
	Close() error
}

// JSONLogger writes entries as newline-delimited JSON (NDJSON).
type JSONLogger struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
}

// NewJSONLogger creates a logger that writes NDJSON to the given path.
// Parent directories are created automatically.
func NewJSONLogger(path string) (*JSONLogger, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating session log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening session log: %w", err)
	}

	return &JSONLogger{
		file: f,
		enc:  json.NewEncoder(f),
		path: path,
	}, nil
}

// Log writes a single entry as one JSON line.
func (l *JSONLogger) Log(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enc.Encode(entry)
}

// Close flushes and closes the underlying file.
func (l *JSONLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}

// Path returns the file path of the session log.
func (l *JSONLogger) Path() string {
	return l.path
}

// NopLogger discards all entries. The default when local logging is off.
type NopLogger struct{}

// Log is a no-op.
func (NopLogger) Log(Entry) error { return nil }

// Close is a no-op.
func (NopLogger) Close() error { return nil }

// DefaultLogPath returns a timestamped, collision-free log path inside dir.
func DefaultLogPath(dir string) string {
	ts := time.Now().UTC().Format("20060102T150405Z")
	runID := uuid.NewString()[:8]
	return filepath.Join(dir, fmt.Sprintf("%s-%s-session.jsonl", ts, runID))
}

// Archive compresses a finished session log to <path>.zst and removes the
// original. The compressed file remains readable by the viewer.
func Archive(path string) (string, error) {
	if strings.HasSuffix(path, ".zst") {
		return path, nil
	}

	src, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening session log: %w", err)
	}
	defer src.Close() //nolint:errcheck

	archived := path + ".zst"
	dst, err := os.Create(archived)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}

	zw, err := zstd.NewWriter(dst)
	if err != nil {
		dst.Close() //nolint:errcheck
		return "", fmt.Errorf("initializing compressor: %w", err)
	}
	if _, err := io.Copy(zw, src); err != nil {
		zw.Close()  //nolint:errcheck
		dst.Close() //nolint:errcheck
		return "", fmt.Errorf("compressing session log: %w", err)
	}
	if err := zw.Close(); err != nil {
		dst.Close() //nolint:errcheck
		return "", fmt.Errorf("finalizing archive: %w", err)
	}
	if err := dst.Close(); err != nil {
		return "", fmt.Errorf("closing archive: %w", err)
	}

	if err := os.Remove(path); err != nil {
		return "", fmt.Errorf("removing uncompressed log: %w", err)
	}
	return archived, nil
}

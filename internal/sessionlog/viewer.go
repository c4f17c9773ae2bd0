package sessionlog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/klauspost/compress/zstd"
)

// LogFile describes a session log on disk.
type LogFile struct {
	Path       string
	Name       string
	Size       int64
	ModTime    time.Time
	NumEntries int
}

// ListLogs finds session log files (plain or archived) in dir, newest first.
func ListLogs(dir string) ([]LogFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading session log directory: %w", err)
	}

	var files []LogFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if !strings.HasSuffix(name, "-session.jsonl") && !strings.HasSuffix(name, "-session.jsonl.zst") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(dir, name)
		count, err := countEntries(path)
		if err != nil {
			continue
		}
		files = append(files, LogFile{
			Path:       path,
			Name:       name,
			Size:       info.Size(),
			ModTime:    info.ModTime(),
			NumEntries: count,
		})
	}

	sort.Slice(files, func(i, j int) bool { return files[i].ModTime.After(files[j].ModTime) })
	return files, nil
}

// telemetryEntry is the decoded shape of a KindTelemetry entry's data.
type telemetryEntry struct {
	EventType string `mapstructure:"event_type"`
	TaskID    string `mapstructure:"task_id"`
	Route     string `mapstructure:"route"`
	Critical  bool   `mapstructure:"critical"`
}

// Summary aggregates one session log for display.
type Summary struct {
	Entries        int
	Events         int
	EventsByType   map[string]int
	EventsByRoute  map[string]int
	CriticalFailed int
	Transitions    []string
	First, Last    time.Time
}

// Summarize reads a session log (plain or zstd-archived) and aggregates it.
func Summarize(path string) (*Summary, error) {
	r, closeFn, err := openLog(path)
	if err != nil {
		return nil, err
	}
	defer closeFn()

	s := &Summary{
		EventsByType:  map[string]int{},
		EventsByRoute: map[string]int{},
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry Entry
		if err := json.Unmarshal(line, &entry); err != nil {
			continue
		}
		s.Entries++
		if s.First.IsZero() || entry.Timestamp.Before(s.First) {
			s.First = entry.Timestamp
		}
		if entry.Timestamp.After(s.Last) {
			s.Last = entry.Timestamp
		}

		switch entry.Kind {
		case KindTelemetry:
			var te telemetryEntry
			if err := mapstructure.Decode(entry.Data, &te); err != nil {
				continue
			}
			s.Events++
			s.EventsByType[te.EventType]++
			s.EventsByRoute[te.Route]++
			if te.Critical && te.Route == "failed" {
				s.CriticalFailed++
			}
		case KindTransition:
			from, _ := entry.Data["from"].(string)
			to, _ := entry.Data["to"].(string)
			s.Transitions = append(s.Transitions, from+" -> "+to)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading session log: %w", err)
	}
	return s, nil
}

func countEntries(path string) (int, error) {
	r, closeFn, err := openLog(path)
	if err != nil {
		return 0, err
	}
	defer closeFn()

	count := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			count++
		}
	}
	return count, scanner.Err()
}

// openLog opens a plain or zstd-archived log for reading.
func openLog(path string) (io.Reader, func(), error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("opening session log: %w", err)
	}
	if !strings.HasSuffix(path, ".zst") {
		return f, func() { f.Close() }, nil //nolint:errcheck
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close() //nolint:errcheck
		return nil, nil, fmt.Errorf("opening archive: %w", err)
	}
	return zr, func() {
		zr.Close()
		f.Close() //nolint:errcheck
	}, nil
}

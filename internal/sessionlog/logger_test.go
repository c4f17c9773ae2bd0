package sessionlog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hirewire/proctor/internal/telemetry"
)

func writeSampleLog(t *testing.T, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "20250601T100000Z-abcd1234-session.jsonl")
	l, err := NewJSONLogger(path)
	require.NoError(t, err)

	require.NoError(t, l.Log(NewEntry(KindTransition, TransitionData("validating", "instructions"))))
	require.NoError(t, l.Log(NewEntry(KindTransition, TransitionData("instructions", "active"))))

	ev := telemetry.NewEvent(telemetry.EventTaskStarted, "task-1", map[string]any{"task_index": 0}, time.Now())
	require.NoError(t, l.Log(NewEntry(KindTelemetry, TelemetryData(ev, telemetry.RouteChannel))))

	adv := telemetry.NewEvent(telemetry.EventIdleDetected, "task-1", nil, time.Now())
	require.NoError(t, l.Log(NewEntry(KindTelemetry, TelemetryData(adv, telemetry.RouteDropped))))

	crit := telemetry.NewEvent(telemetry.EventTaskCompleted, "task-1", nil, time.Now())
	require.NoError(t, l.Log(NewEntry(KindTelemetry, TelemetryData(crit, telemetry.RouteFailed))))

	require.NoError(t, l.Close())
	return path
}

func TestJSONLoggerWritesNDJSON(t *testing.T) {
	path := writeSampleLog(t, t.TempDir())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close() //nolint:errcheck

	var lines int
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var entry Entry
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry), "every line must be standalone JSON")
		assert.False(t, entry.Timestamp.IsZero())
		lines++
	}
	require.NoError(t, scanner.Err())
	assert.Equal(t, 5, lines)
}

func TestJSONLoggerCreatesParentDirs(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "deeper", "x-session.jsonl")
	l, err := NewJSONLogger(path)
	require.NoError(t, err)
	require.NoError(t, l.Log(NewEntry(KindError, ErrorData("boom", nil))))
	require.NoError(t, l.Close())

	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestDefaultLogPath(t *testing.T) {
	p1 := DefaultLogPath("logs")
	p2 := DefaultLogPath("logs")

	assert.True(t, strings.HasPrefix(p1, "logs"+string(filepath.Separator)))
	assert.True(t, strings.HasSuffix(p1, "-session.jsonl"))
	assert.NotEqual(t, p1, p2, "paths must not collide within a second")
}

func TestArchiveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := writeSampleLog(t, dir)

	archived, err := Archive(path)
	require.NoError(t, err)
	assert.Equal(t, path+".zst", archived)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "the uncompressed original is removed")

	// The archive stays readable through the viewer.
	s, err := Summarize(archived)
	require.NoError(t, err)
	assert.Equal(t, 5, s.Entries)
	assert.Equal(t, 3, s.Events)
	assert.Equal(t, 1, s.CriticalFailed)
}

func TestArchiveIdempotentOnArchivedPath(t *testing.T) {
	dir := t.TempDir()
	path := writeSampleLog(t, dir)
	archived, err := Archive(path)
	require.NoError(t, err)

	again, err := Archive(archived)
	require.NoError(t, err)
	assert.Equal(t, archived, again)
}

func TestSummarize(t *testing.T) {
	path := writeSampleLog(t, t.TempDir())

	s, err := Summarize(path)
	require.NoError(t, err)

	assert.Equal(t, 5, s.Entries)
	assert.Equal(t, 3, s.Events)
	assert.Equal(t, 1, s.EventsByType["task_started"])
	assert.Equal(t, 1, s.EventsByType["idle_detected"])
	assert.Equal(t, 1, s.EventsByRoute["channel"])
	assert.Equal(t, 1, s.EventsByRoute["dropped"])
	assert.Equal(t, 1, s.EventsByRoute["failed"])
	assert.Equal(t, 1, s.CriticalFailed)
	assert.Equal(t, []string{"validating -> instructions", "instructions -> active"}, s.Transitions)
	assert.False(t, s.First.IsZero())
	assert.False(t, s.Last.Before(s.First))
}

func TestListLogs(t *testing.T) {
	dir := t.TempDir()
	first := writeSampleLog(t, dir)

	// A second, newer log; plus noise that must be ignored.
	second := filepath.Join(dir, "20250602T100000Z-ffff0000-session.jsonl")
	l, err := NewJSONLogger(second)
	require.NoError(t, err)
	require.NoError(t, l.Log(NewEntry(KindTransition, TransitionData("validating", "completed"))))
	require.NoError(t, l.Close())
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("unrelated"), 0644))

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(second, future, future))

	files, err := ListLogs(dir)
	require.NoError(t, err)
	require.Len(t, files, 2)
	assert.Equal(t, filepath.Base(second), files[0].Name, "newest first")
	assert.Equal(t, filepath.Base(first), files[1].Name)
	assert.Equal(t, 1, files[0].NumEntries)
	assert.Equal(t, 5, files[1].NumEntries)
}

func TestListLogsIncludesArchives(t *testing.T) {
	dir := t.TempDir()
	path := writeSampleLog(t, dir)
	archived, err := Archive(path)
	require.NoError(t, err)

	files, err := ListLogs(dir)
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Base(archived), files[0].Name)
	assert.Equal(t, 5, files[0].NumEntries)
}

func TestNopLogger(t *testing.T) {
	var l Logger = NopLogger{}
	require.NoError(t, l.Log(NewEntry(KindChannel, ChannelData(telemetry.State{Status: telemetry.StatusConnected}))))
	require.NoError(t, l.Close())
}

package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func Test_InitDisabledDiscards(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Init(Options{Enabled: false, Output: &buf}))
	Info("dropped")
	require.Zero(t, buf.Len())
}

func Test_InitJSONWritesRecords(t *testing.T) {
	t.Cleanup(func() { _ = Init(Options{}) })

	var buf bytes.Buffer
	require.NoError(t, Init(Options{Enabled: true, JSON: true, Level: slog.LevelDebug, Output: &buf}))
	Debug("page installed", "type", "medium", "ticket", 3)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "page installed", rec["msg"])
	require.Equal(t, "medium", rec["type"])
	require.InDelta(t, 3, rec["ticket"], 0)
}

func Test_InitLogDirPrunesOldFiles(t *testing.T) {
	t.Cleanup(func() { _ = Init(Options{}) })

	dir := t.TempDir()
	old := filepath.Join(dir, logPrefix+time.Now().AddDate(0, 0, -(retentionDays+2)).Format("2006-01-02")+logSuffix)
	keep := filepath.Join(dir, "unrelated.txt")
	require.NoError(t, os.WriteFile(old, []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(keep, []byte("x"), 0o600))

	require.NoError(t, Init(Options{Enabled: true, LogDir: dir}))
	Info("hello")

	_, err := os.Stat(old)
	require.True(t, os.IsNotExist(err), "expired log should be removed")
	_, err = os.Stat(keep)
	require.NoError(t, err)

	today := filepath.Join(dir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)
	_, err = os.Stat(today)
	require.NoError(t, err)
}

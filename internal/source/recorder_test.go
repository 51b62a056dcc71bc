package source

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordPath(t *testing.T) {
	root := filepath.Join(t.TempDir(), "records", "detect")
	at := time.Date(2026, 3, 14, 15, 9, 26, 0, time.UTC)

	path, err := RecordPath(root, "cam-12", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "cam-12", "20260314_150926.mp4"), path)

	// camera directory is created
	info, err := os.Stat(filepath.Dir(path))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRecordPath_UnknownCamera(t *testing.T) {
	root := t.TempDir()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	path, err := RecordPath(root, "", at)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(root, "unknown", "20260102_030405.mp4"), path)
}

func TestRecorderStop_NilSafe(t *testing.T) {
	var r *Recorder
	r.Stop(time.Second)

	(&Recorder{Path: "x.mp4"}).Stop(time.Second)
}

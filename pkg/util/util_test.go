package util

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrameRate(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"", 0},
		{"abc/1", 0},
		{"1/2/3", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, ParseFrameRate(tt.in), 1e-9)
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:00:00.000", FormatDuration(0))
	assert.Equal(t, "01:02:03.500", FormatDuration(time.Hour+2*time.Minute+3500*time.Millisecond))
}

func TestListVideos(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.mp4", "a.MOV", "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0644))
	}
	require.NoError(t, EnsureDir(filepath.Join(dir, "sub.mp4")))

	got, err := ListVideos(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "a.MOV"), filepath.Join(dir, "b.mp4")}, got)
}

func TestFileHelpers(t *testing.T) {
	dir := t.TempDir()
	f, err := TempFile(dir, "entry", ".tmp")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.True(t, FileExists(f.Name()))
	assert.Equal(t, ".tmp", filepath.Ext(f.Name()))
	assert.Equal(t, int64(5), FileSize(f.Name()))

	CleanupFiles(f.Name())
	assert.False(t, FileExists(f.Name()))
	assert.Equal(t, int64(-1), FileSize(f.Name()))
}

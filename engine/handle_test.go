package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpen_RejectsMissingDataDir(t *testing.T) {
	_, err := Open(context.Background(), Config{})
	assert.Error(t, err)
}

func TestHandle_WriteAndFlush(t *testing.T) {
	tmpDir := t.TempDir()
	h, err := Open(context.Background(), Config{
		DataDir:          tmpDir,
		SegmentBytes:     64 * 1024,
		TotalBytesPerSec: 10 * 1024 * 1024,
	})
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.WriteCheckpoint([]byte("ckpt-record")))
	require.NoError(t, h.WriteEviction([]byte("evict-record")))
	require.NoError(t, h.WriteLog([]byte("log-record")))

	require.NoError(t, h.FsyncAllBackground(context.Background()))

	stats := h.Stats()
	assert.Greater(t, stats["capacity_ckpt_calls"], uint64(0))
	assert.Greater(t, stats["capacity_evict_calls"], uint64(0))
	assert.Greater(t, stats["capacity_log_calls"], uint64(0))
}

func TestHandle_ReadThrottleOnly(t *testing.T) {
	tmpDir := t.TempDir()
	h, err := Open(context.Background(), Config{
		DataDir:          tmpDir,
		TotalBytesPerSec: 10 * 1024 * 1024,
	})
	require.NoError(t, err)
	defer h.Close()

	h.Read(4096)
	stats := h.Stats()
	assert.Equal(t, uint64(1), stats["capacity_read_calls"])
}

func TestHandle_RotationSealsFileForUpload(t *testing.T) {
	tmpDir := t.TempDir()
	h, err := Open(context.Background(), Config{
		DataDir:      tmpDir,
		SegmentBytes: 8192,
		MaxFileSize:  4096,
	})
	require.NoError(t, err)
	defer h.Close()

	buf := make([]byte, 4096)
	for i := 0; i < 4; i++ {
		require.NoError(t, h.WriteLog(buf))
	}
	require.NoError(t, h.FsyncAllBackground(context.Background()))

	select {
	case path := <-h.sealedFiles:
		assert.Contains(t, filepath.Base(path), "log")
	default:
		t.Fatal("expected a sealed log file after rotation")
	}
}

func TestHandle_Reconfigure(t *testing.T) {
	tmpDir := t.TempDir()
	h, err := Open(context.Background(), Config{
		DataDir:          tmpDir,
		TotalBytesPerSec: 10 * 1024 * 1024,
	})
	require.NoError(t, err)
	defer h.Close()

	require.NoError(t, h.Reconfigure(20*1024*1024))
	require.NoError(t, h.WriteLog([]byte("after-reconfigure")))
}

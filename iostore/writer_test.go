package iostore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileWriter_WriteVectored(t *testing.T) {
	t.Run("WritesBuffersToFile", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg := Config{FilePath: filepath.Join(tmpDir, "ckpt.seg")}
		require.NoError(t, cfg.Validate())

		w, err := NewFileWriter(cfg)
		require.NoError(t, err)
		defer w.Close()

		n, err := w.WriteVectored([][]byte{[]byte("buffer1"), []byte("buffer2")})
		assert.NoError(t, err)
		assert.Greater(t, n, 0)
	})

	t.Run("HandlesEmptyBuffers", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg := Config{FilePath: filepath.Join(tmpDir, "ckpt.seg")}
		require.NoError(t, cfg.Validate())

		w, err := NewFileWriter(cfg)
		require.NoError(t, err)
		defer w.Close()

		n, err := w.WriteVectored(nil)
		assert.NoError(t, err)
		assert.Equal(t, 0, n)
	})

	t.Run("RotatesPastMaxFileSize", func(t *testing.T) {
		tmpDir := t.TempDir()
		cfg := Config{FilePath: filepath.Join(tmpDir, "log.seg"), MaxFileSize: 4096}
		require.NoError(t, cfg.Validate())

		w, err := NewFileWriter(cfg)
		require.NoError(t, err)
		defer w.Close()

		buf := make([]byte, 4096)
		_, err = w.WriteVectored([][]byte{buf})
		require.NoError(t, err)
		_, err = w.WriteVectored([][]byte{buf})
		require.NoError(t, err)
	})

	t.Run("PartitionsFilesUnderPerTagSubdirectory", func(t *testing.T) {
		tmpDir := t.TempDir()
		sealed := make(chan string, 4)
		cfg := Config{Tag: TagEviction, FilePath: filepath.Join(tmpDir, "evict.seg"), SealedFiles: sealed}
		require.NoError(t, cfg.Validate())

		w, err := NewFileWriter(cfg)
		require.NoError(t, err)

		_, err = w.WriteVectored([][]byte{[]byte("data")})
		require.NoError(t, err)
		require.NoError(t, w.Close())

		select {
		case path := <-sealed:
			assert.Equal(t, filepath.Join(tmpDir, "evict"), filepath.Dir(path))
			assert.Contains(t, filepath.Base(path), "evict")
		default:
			t.Fatal("expected a sealed file path")
		}
	})

	t.Run("SealsCompletedFileOnClose", func(t *testing.T) {
		tmpDir := t.TempDir()
		sealed := make(chan string, 4)
		cfg := Config{FilePath: filepath.Join(tmpDir, "log.seg"), SealedFiles: sealed}
		require.NoError(t, cfg.Validate())

		w, err := NewFileWriter(cfg)
		require.NoError(t, err)

		_, err = w.WriteVectored([][]byte{[]byte("data")})
		require.NoError(t, err)
		require.NoError(t, w.Close())

		select {
		case path := <-sealed:
			assert.NotEmpty(t, path)
		default:
			t.Fatal("expected a sealed file path")
		}
	})
}

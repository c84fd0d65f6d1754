//go:build !linux

package iostore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// portableFileWriter is the non-Linux fallback: sequential WriteAt calls
// instead of O_DIRECT + Pwritev, since those are Linux-specific.
type portableFileWriter struct {
	tag Tag

	file       *os.File
	filePath   string
	fileOffset atomic.Int64

	maxFileSize int64

	nextFile     *os.File
	nextFilePath string

	baseDir             string
	baseFileName        string
	preallocateFileSize int64

	rotationMu sync.Mutex

	lastWriteDuration atomic.Int64

	sealedFiles chan<- string
}

func newPortableFileWriter(cfg Config) (*portableFileWriter, error) {
	baseDir, baseFileName, err := splitBasePath(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("iostore: %w", err)
	}
	initialPath := timestampedPath(baseDir, baseFileName, cfg.Tag)
	file, err := openPlainFile(initialPath)
	if err != nil {
		return nil, fmt.Errorf("iostore: failed to open initial segment file: %w", err)
	}
	return &portableFileWriter{
		tag:                 cfg.Tag,
		file:                file,
		filePath:            initialPath,
		maxFileSize:         cfg.MaxFileSize,
		baseDir:             baseDir,
		baseFileName:        baseFileName,
		preallocateFileSize: cfg.PreallocateFileSize,
		sealedFiles:         cfg.SealedFiles,
	}, nil
}

func (w *portableFileWriter) WriteVectored(buffers [][]byte) (int, error) {
	if len(buffers) == 0 {
		return 0, nil
	}
	if err := w.rotateIfNeeded(); err != nil {
		return 0, fmt.Errorf("iostore: rotation failed: %w", err)
	}

	offset := w.fileOffset.Load()
	start := time.Now()
	total := 0
	for _, buf := range buffers {
		if len(buf) == 0 {
			continue
		}
		n, err := w.file.WriteAt(buf, offset+int64(total))
		if err != nil {
			w.lastWriteDuration.Store(time.Since(start).Nanoseconds())
			return total, err
		}
		total += n
	}
	w.lastWriteDuration.Store(time.Since(start).Nanoseconds())
	w.fileOffset.Add(int64(total))
	return total, nil
}

func (w *portableFileWriter) LastWriteDuration() time.Duration {
	return time.Duration(w.lastWriteDuration.Load())
}

func (w *portableFileWriter) Close() error {
	var firstErr error

	if w.nextFile != nil && w.file != nil {
		if err := w.swapFiles(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if w.file != nil {
		hasData := w.fileOffset.Load() > 0
		sealedPath := w.filePath
		if err := w.file.Sync(); err != nil && firstErr == nil {
			firstErr = err
		}
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if hasData {
			w.seal(sealedPath)
		}
		w.file = nil
	}
	if w.nextFile != nil {
		if err := w.nextFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.nextFile = nil
		w.nextFilePath = ""
	}
	return firstErr
}

func (w *portableFileWriter) seal(path string) {
	if w.sealedFiles == nil {
		return
	}
	select {
	case w.sealedFiles <- path:
	default:
	}
}

func (w *portableFileWriter) rotateIfNeeded() error {
	if w.maxFileSize <= 0 {
		return nil
	}
	w.rotationMu.Lock()
	defer w.rotationMu.Unlock()

	offset := w.fileOffset.Load()
	if offset >= w.maxFileSize {
		if w.nextFile == nil {
			if err := w.createNextFile(); err != nil {
				return err
			}
		}
		return w.swapFiles()
	}
	if offset >= int64(float64(w.maxFileSize)*0.9) && w.nextFile == nil {
		_ = w.createNextFile()
	}
	return nil
}

func (w *portableFileWriter) createNextFile() error {
	path := timestampedPath(w.baseDir, w.baseFileName, w.tag)
	file, err := openPlainFile(path)
	if err != nil {
		return fmt.Errorf("failed to open next segment file: %w", err)
	}
	w.nextFile = file
	w.nextFilePath = path
	return nil
}

func (w *portableFileWriter) swapFiles() error {
	if w.nextFile == nil || w.nextFilePath == "" {
		return fmt.Errorf("next segment file not prepared")
	}
	if w.file == nil {
		return fmt.Errorf("current segment file is nil")
	}
	if err := w.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync segment file: %w", err)
	}
	sealedPath := w.filePath
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment file: %w", err)
	}
	w.seal(sealedPath)

	w.file = w.nextFile
	w.filePath = w.nextFilePath
	w.fileOffset.Store(0)
	w.nextFile = nil
	w.nextFilePath = ""
	return nil
}

func openPlainFile(path string) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}
	return os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
}

func splitBasePath(fullPath string) (dir, baseName string, err error) {
	dir = filepath.Dir(fullPath)
	if dir == "." || dir == "" {
		dir = "."
	}
	baseName = strings.TrimSuffix(filepath.Base(fullPath), ".seg")
	if baseName == "" {
		return "", "", fmt.Errorf("invalid file path: empty base name")
	}
	return dir, baseName, nil
}

// timestampedPath lays out rotated files under a per-subsystem
// subdirectory (dir/<tag>/), matching writer_linux.go and the object
// layout cloudflush builds from the same tag (see
// Uploader.generateObjectName).
func timestampedPath(dir, baseName string, tag Tag) string {
	return filepath.Join(dir, tag.String(),
		fmt.Sprintf("%s-%s_%s.seg", tag, baseName, time.Now().Format("2006-01-02_15-04-05.000000000")))
}

// NewFileWriter opens the platform Direct I/O writer for cfg.
func NewFileWriter(cfg Config) (FileWriter, error) {
	return newPortableFileWriter(cfg)
}

//go:build linux

package iostore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

// alignmentSize is the required O_DIRECT alignment on Linux.
const alignmentSize = 4096

// directFileWriter manages file handles, offset tracking, and size-based
// rotation for Direct I/O writes.
type directFileWriter struct {
	tag Tag

	file       *os.File
	fd         int
	filePath   string
	fileOffset atomic.Int64

	maxFileSize int64

	nextFile     *os.File
	nextFd       int
	nextFilePath string

	baseDir             string
	baseFileName        string
	preallocateFileSize int64

	rotationMu sync.Mutex

	lastWriteDuration atomic.Int64

	sealedFiles chan<- string
}

// newDirectFileWriter opens the first file for cfg.FilePath.
func newDirectFileWriter(cfg Config) (*directFileWriter, error) {
	baseDir, baseFileName, err := splitBasePath(cfg.FilePath)
	if err != nil {
		return nil, fmt.Errorf("iostore: %w", err)
	}

	initialPath := timestampedPath(baseDir, baseFileName, cfg.Tag)
	file, err := openDirectIO(initialPath, cfg.PreallocateFileSize)
	if err != nil {
		return nil, fmt.Errorf("iostore: failed to open initial segment file: %w", err)
	}

	w := &directFileWriter{
		tag:                 cfg.Tag,
		file:                file,
		fd:                  int(file.Fd()),
		filePath:            initialPath,
		maxFileSize:         cfg.MaxFileSize,
		baseDir:             baseDir,
		baseFileName:        baseFileName,
		preallocateFileSize: cfg.PreallocateFileSize,
		sealedFiles:         cfg.SealedFiles,
	}
	return w, nil
}

func (w *directFileWriter) WriteVectored(buffers [][]byte) (int, error) {
	if len(buffers) == 0 {
		return 0, nil
	}
	if err := w.rotateIfNeeded(); err != nil {
		return 0, fmt.Errorf("iostore: rotation failed: %w", err)
	}

	offset := w.fileOffset.Load()
	start := time.Now()
	n, err := writevAt(w.fd, buffers, offset)
	w.lastWriteDuration.Store(time.Since(start).Nanoseconds())
	if err != nil {
		return n, err
	}
	w.fileOffset.Add(int64(n))
	return n, nil
}

func (w *directFileWriter) LastWriteDuration() time.Duration {
	return time.Duration(w.lastWriteDuration.Load())
}

func (w *directFileWriter) Close() error {
	var firstErr error

	if w.nextFile != nil && w.file != nil {
		if err := w.swapFiles(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("iostore: failed to complete rotation during close: %w", err)
		}
	}

	if w.file != nil {
		hasData := w.fileOffset.Load() > 0
		sealedPath := w.filePath
		actualSize := w.fileOffset.Load()

		if hasData && w.fd > 0 {
			if err := unix.Fsync(w.fd); err != nil && firstErr == nil {
				firstErr = fmt.Errorf("iostore: fsync failed: %w", err)
			}
			if actualSize > 0 {
				if err := unix.Ftruncate(w.fd, actualSize); err != nil && firstErr == nil {
					firstErr = fmt.Errorf("iostore: truncate failed: %w", err)
				}
			}
		}
		if err := w.file.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		if hasData {
			w.seal(sealedPath)
		}
		w.file = nil
		w.fd = 0
	}

	if w.nextFile != nil {
		if err := w.nextFile.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
		w.nextFile = nil
		w.nextFd = 0
		w.nextFilePath = ""
	}
	return firstErr
}

func (w *directFileWriter) seal(path string) {
	if w.sealedFiles == nil {
		return
	}
	select {
	case w.sealedFiles <- path:
	default:
	}
}

func (w *directFileWriter) rotateIfNeeded() error {
	if w.maxFileSize <= 0 {
		return nil
	}
	w.rotationMu.Lock()
	defer w.rotationMu.Unlock()

	offset := w.fileOffset.Load()
	if offset >= w.maxFileSize {
		if w.nextFile == nil {
			if err := w.createNextFile(); err != nil {
				return fmt.Errorf("failed to create next segment file: %w", err)
			}
		}
		return w.swapFiles()
	}
	if offset >= int64(float64(w.maxFileSize)*0.9) && w.nextFile == nil {
		_ = w.createNextFile()
	}
	return nil
}

func (w *directFileWriter) createNextFile() error {
	path := timestampedPath(w.baseDir, w.baseFileName, w.tag)
	file, err := openDirectIO(path, w.preallocateFileSize)
	if err != nil {
		file, err = openDirectIO(path, 0)
		if err != nil {
			return fmt.Errorf("failed to open next segment file: %w", err)
		}
	}
	w.nextFile = file
	w.nextFd = int(file.Fd())
	w.nextFilePath = path
	return nil
}

func (w *directFileWriter) swapFiles() error {
	if w.nextFile == nil || w.nextFilePath == "" {
		return fmt.Errorf("next segment file not prepared")
	}
	if w.file == nil {
		return fmt.Errorf("current segment file is nil")
	}

	if err := unix.Fsync(w.fd); err != nil {
		return fmt.Errorf("failed to sync current segment file: %w", err)
	}
	actualSize := w.fileOffset.Load()
	if actualSize > 0 {
		if err := unix.Ftruncate(w.fd, actualSize); err != nil {
			return fmt.Errorf("failed to truncate segment file: %w", err)
		}
	}
	sealedPath := w.filePath
	if err := w.file.Close(); err != nil {
		return fmt.Errorf("failed to close segment file: %w", err)
	}
	w.seal(sealedPath)

	w.file = w.nextFile
	w.fd = w.nextFd
	w.filePath = w.nextFilePath
	w.fileOffset.Store(0)

	w.nextFile = nil
	w.nextFd = 0
	w.nextFilePath = ""
	return nil
}

func openDirectIO(path string, preallocateSize int64) (*os.File, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	fd, err := unix.Open(path,
		unix.O_WRONLY|unix.O_CREAT|unix.O_TRUNC|unix.O_DIRECT|unix.O_DSYNC, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open file with O_DIRECT: %w", err)
	}

	if preallocateSize > 0 {
		aligned := alignUp(preallocateSize, alignmentSize)
		if err := unix.Fallocate(fd, 0, 0, aligned); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("failed to preallocate file: %w", err)
		}
	}

	file := os.NewFile(uintptr(fd), path)
	if file == nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to wrap file descriptor")
	}
	return file, nil
}

func writevAt(fd int, buffers [][]byte, offset int64) (int, error) {
	nonEmpty := make([][]byte, 0, len(buffers))
	for _, buf := range buffers {
		if len(buf) > 0 {
			nonEmpty = append(nonEmpty, buf)
		}
	}
	if len(nonEmpty) == 0 {
		return 0, nil
	}
	n, err := unix.Pwritev(fd, nonEmpty, offset)
	if err != nil {
		return n, fmt.Errorf("vectored write failed: %w", err)
	}
	return n, nil
}

func alignUp(n, align int64) int64 {
	return (n + align - 1) &^ (align - 1)
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
// subdirectory (dir/<tag>/) rather than flat alongside baseName, so a
// subsystem's segment stream is already partitioned on disk the way
// cloudflush partitions it again in object storage (see
// Uploader.generateObjectName). The filename itself also carries the tag,
// so a stray file found outside its subdirectory is still identifiable.
func timestampedPath(dir, baseName string, tag Tag) string {
	return filepath.Join(dir, tag.String(),
		fmt.Sprintf("%s-%s_%s.seg", tag, baseName, time.Now().Format("2006-01-02_15-04-05.000000000")))
}

// NewFileWriter opens the platform Direct I/O writer for cfg.
func NewFileWriter(cfg Config) (FileWriter, error) {
	return newDirectFileWriter(cfg)
}

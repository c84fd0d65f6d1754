package engine

import (
	"fmt"
	"time"

	"github.com/wiredtiger-go/iocapacity/cloudflush"
)

// Config describes one storage handle: its total I/O budget, where each
// write-side subsystem keeps its segment files, and (optionally) where
// sealed segments are uploaded for durability.
type Config struct {
	// TotalBytesPerSec is the aggregate I/O budget handed to the capacity
	// throttle core. Zero disables throttling entirely.
	TotalBytesPerSec uint64

	// DataDir holds the checkpoint, eviction, and log segment files.
	DataDir string

	// SegmentBytes sizes each subsystem's double buffer.
	SegmentBytes int

	// MaxFileSize triggers rotation (and sealing) of a subsystem's segment
	// file once exceeded. Zero disables rotation; files only seal on
	// Close.
	MaxFileSize int64

	// SyncInterval is defaulted to 10ms by validation but is not read by
	// Open or by any Handle method; each store's wait for in-flight writes
	// during a flush comes from iostore's per-tag FlushTimeout default.
	SyncInterval time.Duration

	// Cloud, when non-nil, enables uploading sealed segment files via
	// cloudflush. A nil Cloud leaves sealed files on local disk only.
	Cloud *cloudflush.Config
}

func (c *Config) validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("engine: DataDir is required")
	}
	if c.SegmentBytes <= 0 {
		c.SegmentBytes = 8 * 1024 * 1024
	}
	if c.SyncInterval <= 0 {
		c.SyncInterval = 10 * time.Millisecond
	}
	return nil
}

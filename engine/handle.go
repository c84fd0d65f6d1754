package engine

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/wiredtiger-go/iocapacity/capacity"
	"github.com/wiredtiger-go/iocapacity/cloudflush"
	"github.com/wiredtiger-go/iocapacity/iostore"
)

// Handle is one storage connection: a throttle core bound to three
// write-side segment stores (checkpoint, eviction, log) and, optionally, a
// background uploader that ships sealed segments off to cloud storage. The
// read subsystem has no on-disk store of its own here — Throttle(Read, n)
// models read admission control, leaving the actual read I/O to the
// caller, the same way the throttle core treats every subsystem's I/O as
// an opaque external operation it only gates.
type Handle struct {
	cap *capacity.ConnectionCapacityState

	ckpt  *iostore.Store
	evict *iostore.Store
	log   *iostore.Store

	sealedFiles chan string
	uploader    *cloudflush.Uploader
}

// Open builds a Handle from cfg: three segment stores sharing one sealed-
// file channel, a capacity core whose FsyncAller flushes all three stores,
// and (if cfg.Cloud is set) an uploader draining that channel.
func Open(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	sealed := make(chan string, 64)

	mkStore := func(tag iostore.Tag) (*iostore.Store, error) {
		return iostore.NewStore(iostore.Config{
			Tag:          tag,
			SegmentBytes: cfg.SegmentBytes,
			FilePath:     filepath.Join(cfg.DataDir, "segment"),
			MaxFileSize:  cfg.MaxFileSize,
			SealedFiles:  sealed,
		})
	}

	ckpt, err := mkStore(iostore.TagCheckpoint)
	if err != nil {
		return nil, fmt.Errorf("engine: opening checkpoint store: %w", err)
	}
	evict, err := mkStore(iostore.TagEviction)
	if err != nil {
		ckpt.Close()
		return nil, fmt.Errorf("engine: opening eviction store: %w", err)
	}
	logStore, err := mkStore(iostore.TagLog)
	if err != nil {
		ckpt.Close()
		evict.Close()
		return nil, fmt.Errorf("engine: opening log store: %w", err)
	}

	h := &Handle{
		ckpt:        ckpt,
		evict:       evict,
		log:         logStore,
		sealedFiles: sealed,
	}

	h.cap = capacity.NewState(capacity.Collaborators{Fsync: h})
	if err := h.cap.Configure(capacity.Config{TotalBytesPerSec: cfg.TotalBytesPerSec}); err != nil {
		h.ckpt.Close()
		h.evict.Close()
		h.log.Close()
		return nil, err
	}

	if cfg.Cloud != nil {
		uploader, err := cloudflush.NewUploader(ctx, *cfg.Cloud, sealed)
		if err != nil {
			h.cap.Close()
			h.ckpt.Close()
			h.evict.Close()
			h.log.Close()
			return nil, fmt.Errorf("engine: starting uploader: %w", err)
		}
		uploader.Start()
		h.uploader = uploader
	}

	return h, nil
}

// WriteCheckpoint throttles and appends a checkpoint record.
func (h *Handle) WriteCheckpoint(p []byte) error {
	h.cap.Throttle(capacity.Checkpoint, uint64(len(p)))
	_, err := h.ckpt.Append(p)
	return err
}

// WriteEviction throttles and appends an eviction-path record.
func (h *Handle) WriteEviction(p []byte) error {
	h.cap.Throttle(capacity.Eviction, uint64(len(p)))
	_, err := h.evict.Append(p)
	return err
}

// WriteLog throttles and appends a write-ahead log record.
func (h *Handle) WriteLog(p []byte) error {
	h.cap.Throttle(capacity.Log, uint64(len(p)))
	_, err := h.log.Append(p)
	return err
}

// Read throttles a read of n bytes. It performs no I/O of its own; callers
// that need the bytes perform the read themselves after Read returns,
// exactly as the throttle core's original only gates read admission.
func (h *Handle) Read(n int) {
	h.cap.Throttle(capacity.Read, uint64(n))
}

// Stats returns a snapshot of every capacity_* counter recorded so far.
func (h *Handle) Stats() map[string]uint64 {
	return h.cap.Stats()
}

// FsyncAllBackground implements capacity.FsyncAller: it flushes every
// write-side store, which drains buffered data to disk and, once a store
// crosses its MaxFileSize, rotates and seals the completed file onto the
// sealed-files channel for the uploader to pick up.
func (h *Handle) FsyncAllBackground(ctx context.Context) error {
	if err := h.ckpt.Flush(); err != nil {
		return fmt.Errorf("engine: flushing checkpoint store: %w", err)
	}
	if err := h.evict.Flush(); err != nil {
		return fmt.Errorf("engine: flushing eviction store: %w", err)
	}
	if err := h.log.Flush(); err != nil {
		return fmt.Errorf("engine: flushing log store: %w", err)
	}
	return nil
}

// Reconfigure rebinds the total I/O budget, tearing down and restarting
// the flush coordinator.
func (h *Handle) Reconfigure(totalBytesPerSec uint64) error {
	return h.cap.Reconfigure(capacity.Config{TotalBytesPerSec: totalBytesPerSec})
}

// Close tears down the flush coordinator, closes every store (sealing
// whatever remains buffered), stops the uploader if one is running, and
// closes the sealed-files channel.
func (h *Handle) Close() error {
	firstErr := h.cap.Close()
	for _, st := range []*iostore.Store{h.ckpt, h.evict, h.log} {
		if err := st.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if h.uploader != nil {
		h.uploader.Stop()
	}
	close(h.sealedFiles)

	return firstErr
}

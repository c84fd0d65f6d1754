package cloudflush

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"cloud.google.com/go/storage"
	"github.com/klauspost/compress/gzip"
	"google.golang.org/api/option"

	"github.com/wiredtiger-go/iocapacity/iostore"
)

// Stats tracks cumulative upload activity.
type Stats struct {
	FilesUploaded   uint64
	BytesUploaded   uint64
	UploadErrors    uint64
	TotalUploadTime time.Duration
}

// Uploader drains sealed segment file paths off a channel, gzip-compresses
// them (per Config.Compress), and uploads them to cloud storage in chunks,
// composing the chunks back into a single object. Every sealed file is a
// self-describing segment (see iostore.PeekHeader/DecodeRecords), so the
// uploader reads its subsystem tag and record range out of the file itself
// rather than trusting the caller's filename: this partitions objects by
// subsystem in the bucket even when a caller reuses one Uploader across
// checkpoint, eviction, and log stores.
type Uploader struct {
	config   Config
	client   *storage.Client
	chunkMgr *chunkManager

	sealedFiles <-chan string

	wg       sync.WaitGroup
	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once

	statsMu sync.Mutex
	stats   Stats
}

// NewUploader builds an Uploader reading sealed file paths from sealedFiles.
// The caller typically wires this to an iostore.Config.SealedFiles channel.
func NewUploader(ctx context.Context, cfg Config, sealedFiles <-chan string) (*Uploader, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	client, err := storage.NewClient(ctx, option.WithGRPCConnectionPool(cfg.GRPCPoolSize))
	if err != nil {
		return nil, fmt.Errorf("cloudflush: creating storage client: %w", err)
	}

	uploadCtx, cancel := context.WithCancel(ctx)
	return &Uploader{
		config:      cfg,
		client:      client,
		chunkMgr:    newChunkManager(cfg.MaxChunksPerCompose),
		sealedFiles: sealedFiles,
		ctx:         uploadCtx,
		cancel:      cancel,
	}, nil
}

// Start launches the background upload worker.
func (u *Uploader) Start() {
	u.wg.Add(1)
	go u.uploadWorker()
}

// Stop cancels the upload context and waits for the worker to drain. Safe
// to call more than once.
func (u *Uploader) Stop() {
	u.stopOnce.Do(func() {
		u.cancel()
		u.wg.Wait()
		u.client.Close()
	})
}

func (u *Uploader) GetStats() Stats {
	u.statsMu.Lock()
	defer u.statsMu.Unlock()
	return u.stats
}

func (u *Uploader) uploadWorker() {
	defer u.wg.Done()
	for {
		select {
		case <-u.ctx.Done():
			return
		case path, ok := <-u.sealedFiles:
			if !ok {
				return
			}
			if err := u.uploadFileWithRetry(path); err != nil {
				attempts, _ := u.retryBudget(path)
				log.Printf("[ERROR] cloudflush: giving up on %s after %d attempts: %v", path, attempts, err)
				u.statsMu.Lock()
				u.stats.UploadErrors++
				u.statsMu.Unlock()
			}
		}
	}
}

func (u *Uploader) uploadFileWithRetry(path string) error {
	maxRetries, retryDelay := u.retryBudget(path)

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-u.ctx.Done():
				return u.ctx.Err()
			case <-time.After(retryDelay):
			}
		}
		start := time.Now()
		if err := u.uploadFile(path); err != nil {
			lastErr = err
			log.Printf("[WARNING] cloudflush: upload attempt %d/%d for %s failed: %v", attempt+1, maxRetries, path, err)
			continue
		}
		u.statsMu.Lock()
		u.stats.FilesUploaded++
		u.stats.TotalUploadTime += time.Since(start)
		u.statsMu.Unlock()
		return nil
	}
	return lastErr
}

// retryBudget returns the max-attempts/delay pair to use for path, shrunk
// for a latency-critical (write-ahead log) segment: a log segment that
// can't upload is still sitting durably on local disk, but recovery
// eventually needs it off the node, so this uploader gives up on it sooner
// and retries it faster rather than sitting behind the full
// checkpoint/eviction retry budget, which favors eventually succeeding
// over promptness for bulk page-image segments that aren't on a replay
// critical path. peekSegmentTag reads only the file's header, not its full
// contents, so this costs a handful of bytes even for a large segment.
func (u *Uploader) retryBudget(path string) (int, time.Duration) {
	tag, ok := peekSegmentTag(path)
	if !ok || !tag.LatencyCritical() {
		return u.config.MaxRetries, u.config.RetryDelay
	}
	maxRetries := u.config.MaxRetries
	if maxRetries > 2 {
		maxRetries = 2
	}
	retryDelay := u.config.RetryDelay / 4
	if retryDelay <= 0 {
		retryDelay = time.Second
	}
	return maxRetries, retryDelay
}

// peekSegmentTag reads just enough of path's leading bytes to recover the
// subsystem tag iostore.Store.Flush stamped into the segment's buffer
// header, without reading the whole (possibly large) file.
func peekSegmentTag(path string) (iostore.Tag, bool) {
	f, err := os.Open(path)
	if err != nil {
		return 0, false
	}
	defer f.Close()

	header := make([]byte, 8)
	if _, err := f.Read(header); err != nil {
		return 0, false
	}
	tag, _, ok := iostore.PeekHeader(header)
	return tag, ok
}

// segmentMetadata is what a sealed segment file's own header and record
// stream tell the uploader about itself, independent of its path on disk.
type segmentMetadata struct {
	tag          iostore.Tag
	generation   uint32
	recordCount  int
	maxSequence  uint64
	headerFound  bool
	decodeErrMsg string
}

// inspectSegment reads tag, generation, and record-range information
// directly out of raw (pre-compression) segment bytes, the way
// iostore.Store.Flush wrote them: a buffer header followed by a stream of
// length+sequence+CRC32-framed records. A segment that fails to decode
// (e.g. a torn write) still uploads — inspectSegment only informs object
// naming and metadata, it never blocks the upload.
func inspectSegment(data []byte) segmentMetadata {
	var meta segmentMetadata
	tag, generation, ok := iostore.PeekHeader(data)
	if !ok {
		return meta
	}
	meta.tag = tag
	meta.generation = generation
	meta.headerFound = true

	records, err := iostore.DecodeRecords(data)
	if err != nil {
		meta.decodeErrMsg = err.Error()
	}
	meta.recordCount = len(records)
	if meta.recordCount > 0 {
		meta.maxSequence = records[meta.recordCount-1].Seq
	}
	return meta
}

// uploadFile reads path, optionally gzip-compresses it, uploads it in
// chunks, composes the chunks into one object, then deletes the local file.
func (u *Uploader) uploadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	meta := inspectSegment(data)
	if meta.decodeErrMsg != "" {
		log.Printf("[WARNING] cloudflush: %s failed record verification: %s", path, meta.decodeErrMsg)
	}

	objectName := u.generateObjectName(path, meta)
	opts := objectOpts{
		metadata:     objectMetadataAttrs(meta),
		cacheControl: cacheControlFor(meta),
	}

	if u.config.Compress {
		compressed, err := gzipCompress(data)
		if err != nil {
			return fmt.Errorf("compressing %s: %w", path, err)
		}
		data = compressed
		objectName += ".gz"
	}

	if err := u.uploadParallel(objectName, data, opts); err != nil {
		return err
	}

	u.statsMu.Lock()
	u.stats.BytesUploaded += uint64(len(data))
	u.statsMu.Unlock()

	if err := os.Remove(path); err != nil {
		log.Printf("[WARNING] cloudflush: uploaded %s but failed to remove local copy: %v", path, err)
	}
	return nil
}

// generateObjectName places the object under a subsystem subdirectory
// (tag/) read from the segment's own header, falling back to the filename
// alone if the header could not be read (e.g. a zero-length sealed file).
// This keeps bucket layout partitioned by subsystem the same way
// iostore's writers partition rotated files on disk.
func (u *Uploader) generateObjectName(path string, meta segmentMetadata) string {
	base := filepath.Base(path)
	name := u.config.ObjectPrefix + base
	if !meta.headerFound {
		return name
	}
	return meta.tag.String() + "/" + name
}

// objectMetadataAttrs builds the GCS object metadata describing the
// segment's subsystem and record range, so an operator browsing the bucket
// can tell which capacity subsystem and sequence window an object covers
// without downloading and decompressing it.
func objectMetadataAttrs(meta segmentMetadata) map[string]string {
	if !meta.headerFound {
		return nil
	}
	attrs := map[string]string{
		"subsystem":    meta.tag.String(),
		"generation":   strconv.FormatUint(uint64(meta.generation), 10),
		"record_count": strconv.Itoa(meta.recordCount),
		"max_sequence": strconv.FormatUint(meta.maxSequence, 10),
	}
	if meta.decodeErrMsg != "" {
		attrs["decode_warning"] = meta.decodeErrMsg
	}
	return attrs
}

// objectOpts is the per-upload object attributes that vary by the
// segment's own subsystem tag rather than by caller configuration.
type objectOpts struct {
	metadata     map[string]string
	cacheControl string
}

// cacheControlFor sets a conservative Cache-Control on the uploaded
// object: a log segment's recovery readers need the freshest bytes GCS
// has, since log replay order is how the engine reconstructs what
// happened right before a crash, so it disables caching. Checkpoint and
// eviction segments are point-in-time page images that never change once
// sealed, so they're safe to cache.
func cacheControlFor(meta segmentMetadata) string {
	if meta.headerFound && meta.tag.LatencyCritical() {
		return "no-cache"
	}
	return "public, max-age=3600"
}

// uploadParallel splits data into ChunkSize pieces, uploads each
// concurrently as a temporary object, then composes them into objectName.
func (u *Uploader) uploadParallel(objectName string, data []byte, opts objectOpts) error {
	if len(data) <= u.config.ChunkSize {
		return u.uploadSingle(objectName, data, opts)
	}

	numChunks := (len(data) + u.config.ChunkSize - 1) / u.config.ChunkSize
	chunkObjects := make([]string, numChunks)

	var wg sync.WaitGroup
	errs := make([]error, numChunks)
	for i := 0; i < numChunks; i++ {
		start := i * u.config.ChunkSize
		end := start + u.config.ChunkSize
		if end > len(data) {
			end = len(data)
		}
		chunkObj := fmt.Sprintf("%s.chunk.%04d", objectName, i)
		chunkObjects[i] = chunkObj

		wg.Add(1)
		go func(idx int, chunk []byte, name string) {
			defer wg.Done()
			errs[idx] = u.uploadSingle(name, chunk, objectOpts{})
		}(i, data[start:end], chunkObj)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			u.chunkMgr.cleanupObjects(u.ctx, u.client, u.config.Bucket, chunkObjects)
			return fmt.Errorf("chunk upload failed: %w", err)
		}
	}

	if err := u.chunkMgr.Compose(u.ctx, u.client, u.config.Bucket, objectName, chunkObjects, composeOpts{
		metadata:     opts.metadata,
		cacheControl: opts.cacheControl,
		expectedSize: int64(len(data)),
	}); err != nil {
		u.chunkMgr.cleanupObjects(u.ctx, u.client, u.config.Bucket, chunkObjects)
		return err
	}
	u.chunkMgr.cleanupObjects(u.ctx, u.client, u.config.Bucket, chunkObjects)
	return nil
}

func (u *Uploader) uploadSingle(objectName string, data []byte, opts objectOpts) error {
	obj := u.client.Bucket(u.config.Bucket).Object(objectName)
	w := obj.NewWriter(u.ctx)
	w.ContentType = "application/octet-stream"
	if opts.metadata != nil {
		w.Metadata = opts.metadata
	}
	if opts.cacheControl != "" {
		w.CacheControl = opts.cacheControl
	}

	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("writing object %s: %w", objectName, err)
	}
	return w.Close()
}

func gzipCompress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		gw.Close()
		return nil, err
	}
	if err := gw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

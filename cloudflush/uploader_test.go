package cloudflush

import (
	"bytes"
	"context"
	"os"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wiredtiger-go/iocapacity/iostore"
)

func TestNewUploader_RejectsInvalidConfig(t *testing.T) {
	_, err := NewUploader(context.Background(), Config{}, nil)
	assert.Error(t, err)
}

func TestUploader_GenerateObjectName(t *testing.T) {
	u := &Uploader{config: Config{ObjectPrefix: "segments/"}}
	withHeader := segmentMetadata{tag: iostore.TagCheckpoint, headerFound: true}
	assert.Equal(t, "ckpt/segments/ckpt_0001.seg", u.generateObjectName("/var/data/ckpt_0001.seg", withHeader))

	u2 := &Uploader{config: Config{}}
	noHeader := segmentMetadata{}
	assert.Equal(t, "ckpt_0001.seg", u2.generateObjectName("/var/data/ckpt_0001.seg", noHeader))
}

func TestInspectSegment_ReadsTagAndRecordRange(t *testing.T) {
	seg, err := iostore.NewSegment(64*1024, iostore.TagLog)
	require.NoError(t, err)
	defer seg.Close()

	seg.Write([]byte("one"))
	seg.Write([]byte("two"))
	seg.TrySwap()
	data, _ := seg.GetData(10 * time.Millisecond)
	offset := seg.InactiveOffset()

	meta := inspectSegment(data[:offset])
	assert.True(t, meta.headerFound)
	assert.Equal(t, iostore.TagLog, meta.tag)
	assert.Equal(t, 2, meta.recordCount)
	assert.Equal(t, uint64(2), meta.maxSequence)
	assert.Empty(t, meta.decodeErrMsg)

	attrs := objectMetadataAttrs(meta)
	assert.Equal(t, "log", attrs["subsystem"])
	assert.Equal(t, "2", attrs["record_count"])
	assert.Equal(t, "2", attrs["max_sequence"])
}

func TestInspectSegment_EmptyBufferHasNoHeader(t *testing.T) {
	meta := inspectSegment(nil)
	assert.False(t, meta.headerFound)
	assert.Nil(t, objectMetadataAttrs(meta))
}

func TestCacheControlFor(t *testing.T) {
	assert.Equal(t, "no-cache", cacheControlFor(segmentMetadata{tag: iostore.TagLog, headerFound: true}))
	assert.Equal(t, "public, max-age=3600", cacheControlFor(segmentMetadata{tag: iostore.TagCheckpoint, headerFound: true}))
	assert.Equal(t, "public, max-age=3600", cacheControlFor(segmentMetadata{tag: iostore.TagEviction, headerFound: true}))
	assert.Equal(t, "public, max-age=3600", cacheControlFor(segmentMetadata{}))
}

func TestUploader_RetryBudget_ShrinksForLogSegments(t *testing.T) {
	dir := t.TempDir()

	logPath := dir + "/log.seg"
	writeFakeSegment(t, logPath, iostore.TagLog)
	ckptPath := dir + "/ckpt.seg"
	writeFakeSegment(t, ckptPath, iostore.TagCheckpoint)

	u := &Uploader{config: Config{MaxRetries: 5, RetryDelay: 4 * time.Second}}

	maxRetries, delay := u.retryBudget(logPath)
	assert.Equal(t, 2, maxRetries)
	assert.Equal(t, time.Second, delay)

	maxRetries, delay = u.retryBudget(ckptPath)
	assert.Equal(t, 5, maxRetries)
	assert.Equal(t, 4*time.Second, delay)

	maxRetries, delay = u.retryBudget(dir + "/does-not-exist.seg")
	assert.Equal(t, 5, maxRetries)
	assert.Equal(t, 4*time.Second, delay)
}

func writeFakeSegment(t *testing.T, path string, tag iostore.Tag) {
	t.Helper()
	seg, err := iostore.NewSegment(4096, tag)
	require.NoError(t, err)
	defer seg.Close()

	seg.Write([]byte("payload"))
	seg.TrySwap()
	data, _ := seg.GetData(10 * time.Millisecond)
	offset := seg.InactiveOffset()

	require.NoError(t, os.WriteFile(path, data[:offset], 0644))
}

func TestGzipCompress_RoundTrips(t *testing.T) {
	original := bytes.Repeat([]byte("segment-bytes"), 1000)

	compressed, err := gzipCompress(original)
	require.NoError(t, err)
	assert.Less(t, len(compressed), len(original))

	r, err := gzip.NewReader(bytes.NewReader(compressed))
	require.NoError(t, err)
	defer r.Close()

	var buf bytes.Buffer
	_, err = buf.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, original, buf.Bytes())
}

func TestConfig_DefaultsAndValidate(t *testing.T) {
	cfg := DefaultConfig("my-bucket")
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "my-bucket", cfg.Bucket)
	assert.True(t, cfg.Compress)

	empty := Config{Bucket: "b"}
	require.NoError(t, empty.Validate())
	assert.Equal(t, 32*1024*1024, empty.ChunkSize)
	assert.Equal(t, 3, empty.MaxRetries)

	noBucket := Config{}
	assert.Error(t, noBucket.Validate())
}

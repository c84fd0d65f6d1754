package iostore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewSegment(t *testing.T) {
	t.Run("CreatesDoubleBuffer", func(t *testing.T) {
		seg, err := NewSegment(1024*1024, TagLog)
		require.NoError(t, err)
		defer seg.Close()

		assert.NotNil(t, seg.bufferA)
		assert.NotNil(t, seg.bufferB)
		assert.Equal(t, int32(1024*1024), seg.Capacity())
		assert.Equal(t, headerOffset, int(seg.Offset()))
		assert.Equal(t, TagLog, seg.Tag())
	})

	t.Run("SetsBufferAActiveInitially", func(t *testing.T) {
		seg, err := NewSegment(1024*1024, TagCheckpoint)
		require.NoError(t, err)
		defer seg.Close()

		assert.Equal(t, &seg.bufferA, seg.activeBuffer.Load())
	})

	t.Run("StampsTagIntoBothBufferHeaders", func(t *testing.T) {
		seg, err := NewSegment(1024*1024, TagEviction)
		require.NoError(t, err)
		defer seg.Close()

		tag, gen, ok := PeekHeader(seg.bufferA)
		require.True(t, ok)
		assert.Equal(t, TagEviction, tag)
		assert.Equal(t, uint32(0), gen)

		tag, gen, ok = PeekHeader(seg.bufferB)
		require.True(t, ok)
		assert.Equal(t, TagEviction, tag)
		assert.Equal(t, uint32(0), gen)
	})
}

func TestSegment_Write(t *testing.T) {
	t.Run("WritesFramedRecord", func(t *testing.T) {
		seg, err := NewSegment(1024*1024, TagCheckpoint)
		require.NoError(t, err)
		defer seg.Close()

		n, needsFlush := seg.Write([]byte("checkpoint-record"))
		assert.Equal(t, recordHeaderSize+len("checkpoint-record"), n)
		assert.False(t, needsFlush)
		assert.Equal(t, uint64(1), seg.LastSequence())
	})

	t.Run("AssignsIncreasingSequenceNumbers", func(t *testing.T) {
		seg, err := NewSegment(1024*1024, TagLog)
		require.NoError(t, err)
		defer seg.Close()

		seg.Write([]byte("one"))
		seg.Write([]byte("two"))
		seg.Write([]byte("three"))
		assert.Equal(t, uint64(3), seg.LastSequence())
	})

	t.Run("EmptyWriteIsNoop", func(t *testing.T) {
		seg, err := NewSegment(1024*1024, TagLog)
		require.NoError(t, err)
		defer seg.Close()

		n, needsFlush := seg.Write(nil)
		assert.Equal(t, 0, n)
		assert.False(t, needsFlush)
	})

	t.Run("SignalsFlushWhenBufferFull", func(t *testing.T) {
		seg, err := NewSegment(4096, TagEviction)
		require.NoError(t, err)
		defer seg.Close()

		var lastNeedsFlush bool
		for i := 0; i < 50; i++ {
			_, lastNeedsFlush = seg.Write(make([]byte, 256))
			if lastNeedsFlush {
				break
			}
		}
		assert.True(t, lastNeedsFlush)
		assert.True(t, seg.IsFull())
	})
}

func TestSegment_SwapAndDrain(t *testing.T) {
	seg, err := NewSegment(1024*1024, TagLog)
	require.NoError(t, err)
	defer seg.Close()

	seg.Write([]byte("first-record"))
	seg.TrySwap()
	seg.Write([]byte("second-record"))

	data, complete := seg.GetData(50 * time.Millisecond)
	assert.True(t, complete)
	offset := seg.InactiveOffset()
	assert.Greater(t, int(offset), headerOffset)
	assert.Contains(t, string(data[headerOffset:offset]), "first-record")

	tag, gen, ok := PeekHeader(data)
	require.True(t, ok)
	assert.Equal(t, TagLog, tag)
	assert.Equal(t, uint32(0), gen)

	records, err := DecodeRecords(data[:offset])
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, uint64(1), records[0].Seq)
	assert.Equal(t, "first-record", string(records[0].Payload))

	seg.Reset()
	assert.Equal(t, headerOffset, int(seg.InactiveOffset()))
	assert.False(t, seg.IsFull())

	tag, gen, ok = PeekHeader(data)
	require.True(t, ok)
	assert.Equal(t, TagLog, tag)
	assert.Equal(t, uint32(1), gen)
}

func TestDecodeRecords_DetectsCorruption(t *testing.T) {
	seg, err := NewSegment(1024*1024, TagCheckpoint)
	require.NoError(t, err)
	defer seg.Close()

	seg.Write([]byte("payload"))
	seg.TrySwap()
	data, complete := seg.GetData(50 * time.Millisecond)
	require.True(t, complete)
	offset := seg.InactiveOffset()

	corrupt := append([]byte(nil), data[:offset]...)
	corrupt[headerOffset+recordHeaderSize] ^= 0xFF

	_, err = DecodeRecords(corrupt)
	assert.Error(t, err)
}

package iostore

import "fmt"

// Store is one subsystem's on-disk segment: an in-memory double buffer
// (Segment) drained to a Direct I/O file (FileWriter) whenever the active
// buffer fills or Flush is called explicitly.
type Store struct {
	seg    *Segment
	writer FileWriter
	cfg    Config
}

// NewStore validates cfg and builds the segment and file writer backing
// it.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	seg, err := NewSegment(cfg.SegmentBytes, cfg.Tag)
	if err != nil {
		return nil, fmt.Errorf("iostore: failed to allocate segment: %w", err)
	}
	writer, err := NewFileWriter(cfg)
	if err != nil {
		seg.Close()
		return nil, err
	}
	return &Store{seg: seg, writer: writer, cfg: cfg}, nil
}

// Append writes p into the active buffer, flushing the just-filled buffer
// to disk first if appending would overflow it.
func (st *Store) Append(p []byte) (int, error) {
	n, needsFlush := st.seg.Write(p)
	if n == 0 && needsFlush {
		if err := st.Flush(); err != nil {
			return 0, err
		}
		n, needsFlush = st.seg.Write(p)
		if n == 0 {
			return 0, fmt.Errorf("iostore: record of %d bytes does not fit in a %d-byte segment buffer",
				len(p), st.seg.Capacity())
		}
	}
	if needsFlush {
		if err := st.Flush(); err != nil {
			return n, err
		}
	}
	return n, nil
}

// Flush swaps the active buffer and drains the now-inactive one to disk.
// It is a no-op if the inactive buffer holds no data. Unlike the teacher's
// shard flush, which discarded the buffer header before handing bytes to
// the writer, this writes the header along with the records: a sealed
// segment file is then self-describing (see DecodeRecords/PeekHeader)
// instead of depending on the caller to already know its subsystem.
func (st *Store) Flush() error {
	st.seg.TrySwap()
	data, _ := st.seg.GetData(st.cfg.FlushTimeout)
	offset := st.seg.InactiveOffset()
	if offset <= headerOffset {
		st.seg.Reset()
		return nil
	}
	_, err := st.writer.WriteVectored([][]byte{data[:offset]})
	st.seg.Reset()
	return err
}

// Tag returns the subsystem this store's segment was created for.
func (st *Store) Tag() Tag { return st.seg.Tag() }

// LastSequence returns the highest record sequence number appended so far.
func (st *Store) LastSequence() uint64 { return st.seg.LastSequence() }

// Close flushes any remaining data and releases the segment and writer.
func (st *Store) Close() error {
	err := st.Flush()
	st.seg.Close()
	if werr := st.writer.Close(); err == nil {
		err = werr
	}
	return err
}

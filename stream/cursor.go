package stream

import "context"

// Cursor is a restartable lazy walk over a stream's durable chunks. It is
// finite until the stream closes: Next reports no chunk once the caller has
// consumed everything written so far, and can be called again later to pick
// up subsequent writes. Not safe for concurrent use.
type Cursor struct {
	streamer *Streamer
	streamID string
	seq      int64
}

// Chunks returns a cursor positioned after fromSequence. Zero starts at
// the beginning of the stream.
func (s *Streamer) Chunks(streamID string, fromSequence int64) *Cursor {
	return &Cursor{streamer: s, streamID: streamID, seq: fromSequence}
}

// Next returns the next durable chunk, or ok=false when none is available
// yet. ok=false does not mean the stream is over; use Done to distinguish.
func (c *Cursor) Next(ctx context.Context) (*Chunk, bool, error) {
	var chunk Chunk
	ok, err := c.streamer.getRecord(ctx, chunkKey(c.streamID, c.seq+1), &chunk)
	if err != nil || !ok {
		return nil, false, err
	}
	c.seq++
	return &chunk, true, nil
}

// Sequence returns the sequence of the last chunk yielded.
func (c *Cursor) Sequence() int64 { return c.seq }

// Done reports whether the stream is closed and the cursor has consumed
// every chunk it will ever hold.
func (c *Cursor) Done(ctx context.Context) (bool, error) {
	meta, ok, err := c.streamer.GetMetadata(ctx, c.streamID)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	return !meta.IsOpen && c.seq >= meta.ChunkCount, nil
}

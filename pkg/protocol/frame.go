package protocol

import (
	"bytes"
	"errors"
	"io"
)

const (
	// DataPrefix tags frames that carry a record payload.
	DataPrefix = "data: "

	// DefaultChunkSize is the read size used by StreamReader.
	DefaultChunkSize = 4096
)

var frameBoundary = []byte("\n\n")

// Frame is one complete data frame, prefix included.
type Frame string

// Payload returns the frame content after the data prefix.
func (f Frame) Payload() string {
	return string(f[len(DataPrefix):])
}

// FrameDecoder turns arbitrarily chunked stream text into complete frames.
// It keeps a trailing partial frame between calls. Not safe for concurrent use.
type FrameDecoder struct {
	buf []byte
}

// NewFrameDecoder creates an empty decoder.
func NewFrameDecoder() *FrameDecoder {
	return &FrameDecoder{}
}

// Feed appends chunk to the internal buffer and returns every complete data frame, in order.
// Frames without the data prefix (comments, keep-alives, "event:" lines) are discarded.
func (d *FrameDecoder) Feed(chunk []byte) []Frame {
	d.buf = append(d.buf, chunk...)

	var frames []Frame
	for {
		idx := bytes.Index(d.buf, frameBoundary)
		if idx < 0 {
			break
		}
		raw := d.buf[:idx]
		if bytes.HasPrefix(raw, []byte(DataPrefix)) {
			frames = append(frames, Frame(raw))
		}
		d.buf = d.buf[idx+len(frameBoundary):]
	}

	// Compact so a long stream does not pin consumed bytes.
	if len(d.buf) == 0 {
		d.buf = d.buf[:0:0]
	}
	return frames
}

// FeedString is Feed for text chunks.
func (d *FrameDecoder) FeedString(chunk string) []Frame {
	return d.Feed([]byte(chunk))
}

// Pending returns the number of buffered bytes that do not yet form a frame.
func (d *FrameDecoder) Pending() int {
	return len(d.buf)
}

// StreamReader pulls chunks from an io.Reader and yields frames one at a time.
type StreamReader struct {
	r       io.Reader
	dec     *FrameDecoder
	chunk   []byte
	pending []Frame
	err     error
}

// NewStreamReader wraps r. The caller owns closing r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{
		r:     r,
		dec:   NewFrameDecoder(),
		chunk: make([]byte, DefaultChunkSize),
	}
}

// Next returns the next complete frame.
// It returns io.EOF when the stream closes; a final frame without a trailing boundary is dropped.
func (s *StreamReader) Next() (Frame, error) {
	for len(s.pending) == 0 {
		if s.err != nil {
			return "", s.err
		}
		n, err := s.r.Read(s.chunk)
		if n > 0 {
			s.pending = s.dec.Feed(s.chunk[:n])
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				s.err = io.EOF
			} else {
				s.err = err
			}
		}
	}
	f := s.pending[0]
	s.pending = s.pending[1:]
	return f, nil
}

// Dropped returns the size of the trailing partial frame left in the buffer.
// Only meaningful once Next has returned io.EOF.
func (s *StreamReader) Dropped() int {
	return s.dec.Pending()
}

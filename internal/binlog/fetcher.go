package binlog

import (
	"bufio"
	"bytes"
	"io"
	"os"

	"github.com/pingcap/errors"
)

// BIN_LOG_HEADER_SIZE is the length of the magic that opens a binlog file.
const BIN_LOG_HEADER_SIZE = 4

// MaxEventSize bounds the length a frame may announce.
const MaxEventSize = 1 << 30

var binlogMagic = []byte{0xfe, 'b', 'i', 'n'}

// event length offset inside the common header, the same for all versions
const eventLenOffset = 9

// ErrFetcherClosed is returned by Fetch after Close.
var ErrFetcherClosed = errors.New("binlog: fetcher closed")

// Fetcher yields one complete event frame per Fetch. After a successful
// Fetch, Buffer is positioned at offset 0 of the frame and limited to it.
// The frame is only valid until the next Fetch.
type Fetcher interface {
	Fetch() (bool, error)
	Buffer() *LogBuffer
	Close() error
}

// StreamFetcher reads consecutive frames from a reader, as a network
// source or a relay stream delivers them.
type StreamFetcher struct {
	r      io.Reader
	closer io.Closer
	buf    *LogBuffer
	closed bool
}

// NewStreamFetcher reads frames from r. If r is an io.Closer, Close
// closes it.
func NewStreamFetcher(r io.Reader) *StreamFetcher {
	f := &StreamFetcher{
		r:   r,
		buf: NewLogBuffer(DefaultInitialCapacity, DefaultGrowthFactor),
	}
	if c, ok := r.(io.Closer); ok {
		f.closer = c
	}
	return f
}

func (f *StreamFetcher) Buffer() *LogBuffer { return f.buf }

// Fetch returns false at a clean end of stream, that is EOF on a frame
// boundary.
func (f *StreamFetcher) Fetch() (bool, error) {
	if f.closed {
		return false, ErrFetcherClosed
	}
	f.buf.Reset()
	if _, err := io.ReadFull(f.r, f.buf.grow(OLD_HEADER_LEN)); err != nil {
		if err == io.EOF {
			return false, nil
		}
		return false, errors.Annotate(err, "read event header")
	}
	n := int(f.buf.Uint32At(eventLenOffset))
	if n < OLD_HEADER_LEN || n > MaxEventSize {
		return false, errors.Annotatef(ErrEventLength, "frame announces %d bytes", n)
	}
	if _, err := io.ReadFull(f.r, f.buf.grow(n-OLD_HEADER_LEN)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return false, errors.Annotatef(err, "read %d byte event", n)
	}
	f.buf.Rewind()
	return true, nil
}

// Close releases the reader. Calling it again is a no-op.
func (f *StreamFetcher) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true
	if f.closer != nil {
		return errors.Trace(f.closer.Close())
	}
	return nil
}

// FileFetcher reads frames from a binlog file.
type FileFetcher struct {
	*StreamFetcher
	file *os.File
	br   *bufio.Reader
	// seekTo is applied after the format description has been fetched.
	seekTo int64
}

// OpenFile opens a binlog file for fetching from offset. An offset past
// the magic still yields the file's format description first, so the
// decoder learns the format before the first requested event.
func OpenFile(path string, offset int64) (*FileFetcher, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, errors.Trace(err)
	}
	magic := make([]byte, BIN_LOG_HEADER_SIZE)
	if _, err := io.ReadFull(file, magic); err != nil || !bytes.Equal(magic, binlogMagic) {
		_ = file.Close()
		if err != nil {
			return nil, errors.Annotatef(ErrBadMagic, "%s: %v", path, err)
		}
		return nil, errors.Annotatef(ErrBadMagic, "%s: % x", path, magic)
	}
	br := bufio.NewReaderSize(file, 64*1024)
	f := &FileFetcher{
		StreamFetcher: NewStreamFetcher(br),
		file:          file,
		br:            br,
	}
	f.closer = file
	if offset > BIN_LOG_HEADER_SIZE {
		f.seekTo = offset
	}
	return f, nil
}

func (f *FileFetcher) Fetch() (bool, error) {
	ok, err := f.StreamFetcher.Fetch()
	if !ok || err != nil || f.seekTo == 0 {
		return ok, err
	}
	if _, err := f.file.Seek(f.seekTo, io.SeekStart); err != nil {
		return false, errors.Trace(err)
	}
	f.br.Reset(f.file)
	f.seekTo = 0
	return true, nil
}

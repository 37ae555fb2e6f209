package binlog

import (
	"github.com/klauspost/compress/zstd"
	"github.com/pingcap/errors"
)

// transaction payload fields
const (
	payloadHeaderEndMark     = 0
	payloadSizeField         = 1
	payloadCompressionField  = 2
	payloadUncompressedField = 3
)

// compression types
const (
	ZSTD_COMPRESSION uint64 = 0
	NO_COMPRESSION   uint64 = 255
)

// TransactionPayloadEvent wraps a whole transaction, usually zstd
// compressed, when binlog_transaction_compression is on.
type TransactionPayloadEvent struct {
	PayloadSize      uint64
	CompressionType  uint64
	UncompressedSize uint64
	Payload          []byte
}

func (e *TransactionPayloadEvent) decode(buf *LogBuffer) error {
	for buf.HasRemaining() && buf.Err() == nil {
		field := buf.PackedInt()
		if field == payloadHeaderEndMark {
			break
		}
		size := buf.PackedLen(1)
		switch field {
		case payloadSizeField:
			e.PayloadSize = buf.PackedInt()
		case payloadCompressionField:
			e.CompressionType = buf.PackedInt()
		case payloadUncompressedField:
			e.UncompressedSize = buf.PackedInt()
		default:
			buf.Forward(size)
		}
	}
	e.Payload = buf.CopyBytes(buf.Remaining())
	return buf.Err()
}

// Events decompresses the payload and decodes the events inside it with
// the stream's context. Inner events carry no checksum.
func (e *TransactionPayloadEvent) Events(d *Decoder, ctx *Context) ([]*Event, error) {
	data := e.Payload
	switch e.CompressionType {
	case NO_COMPRESSION:
	case ZSTD_COMPRESSION:
		if e.UncompressedSize > MaxEventSize {
			return nil, errors.Annotatef(ErrEventLength, "transaction payload declares %d uncompressed bytes", e.UncompressedSize)
		}
		dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxEventSize))
		if err != nil {
			return nil, errors.Trace(err)
		}
		defer dec.Close()
		data, err = dec.DecodeAll(e.Payload, make([]byte, 0, e.UncompressedSize))
		if err != nil {
			return nil, errors.Annotate(err, "decompress transaction payload")
		}
	default:
		return nil, errors.Errorf("unsupported payload compression %d", e.CompressionType)
	}

	var events []*Event
	for off := 0; off < len(data); {
		if len(data)-off < LOG_EVENT_HEADER_LEN {
			return nil, errors.Annotatef(ErrEventLength, "truncated event at payload offset %d", off)
		}
		n := int(WrapBuffer(data[off:]).Uint32At(9))
		if n < LOG_EVENT_HEADER_LEN || off+n > len(data) {
			return nil, errors.Annotatef(ErrEventLength, "event length %d at payload offset %d", n, off)
		}
		ev, err := d.decode(WrapBuffer(data[off:off+n]), ctx, BINLOG_CHECKSUM_ALG_OFF)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
		off += n
	}
	return events, nil
}

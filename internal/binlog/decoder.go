package binlog

import (
	"encoding/binary"
	"hash/crc32"

	"github.com/pingcap/errors"
)

// Decoder turns frames into events. It holds no stream state; that
// lives in the Context passed to Decode.
type Decoder struct {
	verifyChecksum bool
	lazyFill       bool
}

type DecoderOption func(*Decoder)

// WithChecksumVerify makes the decoder check the CRC32 trailer of every
// event when the stream carries one.
func WithChecksumVerify(verify bool) DecoderOption {
	return func(d *Decoder) { d.verifyChecksum = verify }
}

// WithLazyFill leaves RowsEvent.FillTable to the consumer.
func WithLazyFill() DecoderOption {
	return func(d *Decoder) { d.lazyFill = true }
}

func NewDecoder(opts ...DecoderOption) *Decoder {
	d := &Decoder{verifyChecksum: true}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Decode decodes the frame held by buf, which must start at offset 0 and
// end at the frame's limit. Context state is updated as the event
// requires: format description, table maps, position.
func (d *Decoder) Decode(buf *LogBuffer, ctx *Context) (*Event, error) {
	ev, err := d.decode(buf, ctx, ctx.FormatDescription().ChecksumAlg)
	if err != nil {
		return nil, err
	}
	d.updatePosition(ev, ctx)
	ev.Position = ctx.Position()
	return ev, nil
}

func (d *Decoder) updatePosition(ev *Event, ctx *Context) {
	h := ev.Header
	switch data := ev.Data.(type) {
	case *RotateEvent:
		ctx.SetPosition(LogPosition{File: data.NextLogName, Offset: data.Position})
		return
	case *HeartbeatEvent:
		return
	}
	if h.LogPos != 0 && !h.Artificial() {
		pos := ctx.Position()
		pos.Offset = uint64(h.LogPos)
		ctx.SetPosition(pos)
	}
}

func (d *Decoder) decode(buf *LogBuffer, ctx *Context, checksumAlg uint8) (*Event, error) {
	if err := buf.Err(); err != nil {
		return nil, errors.Trace(err)
	}
	fde := ctx.FormatDescription()
	h, err := decodeHeader(buf, fde)
	if err != nil {
		return nil, err
	}
	if int(h.EventLen) != buf.Limit() {
		return nil, errors.Annotatef(ErrEventLength, "%s event declares %d bytes, frame has %d",
			h.Type, h.EventLen, buf.Limit())
	}

	ev := &Event{Header: h}
	if h.Type == FORMAT_DESCRIPTION_EVENT {
		next := &FormatDescriptionEvent{}
		if err := next.decode(buf); err != nil {
			return nil, errors.Annotate(err, "decode format description")
		}
		if next.HasChecksum() {
			if err := d.checkCRC(buf, h); err != nil {
				return nil, err
			}
		}
		ctx.SetFormatDescription(next)
		ev.Data = next
		return ev, nil
	}

	if checksumAlg == BINLOG_CHECKSUM_ALG_CRC32 {
		if err := d.checkCRC(buf, h); err != nil {
			return nil, err
		}
		buf.SetLimit(buf.Limit() - BINLOG_CHECKSUM_LEN)
	}

	data, err := d.decodeBody(h, buf, ctx, fde)
	if err != nil {
		return nil, errors.Annotatef(err, "decode %s event at %d", h.Type, h.LogPos)
	}
	ev.Data = data
	return ev, nil
}

func (d *Decoder) checkCRC(buf *LogBuffer, h EventHeader) error {
	frame := buf.Data()
	if len(frame) < LOG_EVENT_HEADER_LEN+BINLOG_CHECKSUM_LEN {
		return errors.Annotatef(ErrEventLength, "%s event too short for checksum", h.Type)
	}
	if !d.verifyChecksum {
		return nil
	}
	n := len(frame) - BINLOG_CHECKSUM_LEN
	want := binary.LittleEndian.Uint32(frame[n:])
	if got := crc32.ChecksumIEEE(frame[:n]); got != want {
		return errors.Annotatef(ErrChecksum, "%s event at %d: crc32 0x%08x, trailer 0x%08x", h.Type, h.LogPos, got, want)
	}
	return nil
}

func (d *Decoder) decodeBody(h EventHeader, buf *LogBuffer, ctx *Context, fde *FormatDescriptionEvent) (interface{}, error) {
	postHeaderLen := fde.PostHeaderLength(h.Type, 0)
	switch t := h.Type; t {
	case START_EVENT_V3:
		e := &StartEventV3{}
		if err := e.decode(buf); err != nil {
			return nil, err
		}
		if e.BinlogVersion < 4 {
			next := NewFormatDescription(e.BinlogVersion, BINLOG_CHECKSUM_ALG_OFF)
			next.ServerVersion = e.ServerVersion
			ctx.SetFormatDescription(next)
		}
		return e, nil
	case QUERY_EVENT:
		e := &QueryEvent{}
		return e, e.decode(buf, postHeaderLen, nil)
	case EXECUTE_LOAD_QUERY_EVENT:
		e := &ExecuteLoadQueryEvent{}
		return e, e.decode(buf, postHeaderLen)
	case STOP_EVENT:
		return &StopEvent{}, requireConsumed(buf, t)
	case ROTATE_EVENT:
		e := &RotateEvent{}
		return e, e.decode(buf, postHeaderLen)
	case INTVAR_EVENT:
		e := &IntVarEvent{}
		if err := e.decode(buf); err != nil {
			return nil, err
		}
		return e, requireConsumed(buf, t)
	case RAND_EVENT:
		e := &RandEvent{}
		if err := e.decode(buf); err != nil {
			return nil, err
		}
		return e, requireConsumed(buf, t)
	case USER_VAR_EVENT:
		e := &UserVarEvent{}
		return e, e.decode(buf)
	case XID_EVENT:
		e := &XidEvent{}
		if err := e.decode(buf); err != nil {
			return nil, err
		}
		return e, requireConsumed(buf, t)
	case XA_PREPARE_LOG_EVENT:
		e := &XAPrepareEvent{}
		return e, e.decode(buf)
	case APPEND_BLOCK_EVENT, BEGIN_LOAD_QUERY_EVENT:
		e := &AppendBlockEvent{Begin: t == BEGIN_LOAD_QUERY_EVENT}
		return e, e.decode(buf, postHeaderLen)
	case DELETE_FILE_EVENT:
		e := &DeleteFileEvent{}
		if err := e.decode(buf); err != nil {
			return nil, err
		}
		return e, requireConsumed(buf, t)
	case TABLE_MAP_EVENT:
		e := &TableMapEvent{}
		if err := e.decode(buf, postHeaderLen); err != nil {
			return nil, err
		}
		ctx.PutTable(e)
		return e, nil
	case WRITE_ROWS_EVENTv0, UPDATE_ROWS_EVENTv0, DELETE_ROWS_EVENTv0,
		WRITE_ROWS_EVENTv1, UPDATE_ROWS_EVENTv1, DELETE_ROWS_EVENTv1,
		WRITE_ROWS_EVENTv2, UPDATE_ROWS_EVENTv2, DELETE_ROWS_EVENTv2:
		e := &RowsEvent{}
		if err := e.decode(buf, t, postHeaderLen); err != nil {
			return nil, err
		}
		if !d.lazyFill {
			if err := e.FillTable(ctx); err != nil {
				return nil, err
			}
		}
		return e, nil
	case INCIDENT_EVENT:
		e := &IncidentEvent{}
		return e, e.decode(buf)
	case HEARTBEAT_EVENT:
		e := &HeartbeatEvent{}
		return e, e.decode(buf)
	case HEARTBEAT_LOG_EVENT_V2:
		e := &HeartbeatEvent{}
		return e, e.decodeV2(buf)
	case IGNORABLE_EVENT:
		buf.SetPosition(buf.Limit())
		return &IgnorableEvent{Type: t}, nil
	case ROWS_QUERY_EVENT, ANNOTATE_ROWS_EVENT:
		e := &RowsQueryEvent{}
		if t == ANNOTATE_ROWS_EVENT {
			e.Query = buf.FixString(buf.Remaining())
			return e, buf.Err()
		}
		return e, e.decode(buf)
	case GTID_EVENT, ANONYMOUS_GTID_EVENT:
		e := &GTIDEvent{}
		return e, e.decode(buf)
	case PREVIOUS_GTIDS_EVENT:
		e := &PreviousGTIDsEvent{}
		if err := e.decode(buf); err != nil {
			return nil, err
		}
		return e, requireConsumed(buf, t)
	case TRANSACTION_PAYLOAD_EVENT:
		e := &TransactionPayloadEvent{}
		return e, e.decode(buf)
	}

	if h.Type.Known() {
		e := &GenericEvent{}
		return e, e.decode(buf)
	}
	if h.Ignorable() {
		buf.SetPosition(buf.Limit())
		return &IgnorableEvent{Type: h.Type}, nil
	}
	return nil, errors.Annotatef(ErrUnknownEvent, "type %s, flags 0x%04x", h.Type, h.Flags)
}

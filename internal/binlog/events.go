package binlog

import (
	"strings"

	"github.com/pingcap/errors"
)

// Event is one decoded binlog event. Data holds a pointer to the
// type-specific struct, for example *RotateEvent or *RowsEvent.
type Event struct {
	Header EventHeader
	// Position is where the stream resumes after this event.
	Position LogPosition
	Data     interface{}
}

// FN_REFLEN bounds file names carried in heartbeat events.
const FN_REFLEN = 512

// StartEventV3 opens binlog v1 and v3 files. It plays the part of the
// format description for those versions.
type StartEventV3 struct {
	BinlogVersion   uint16
	ServerVersion   string
	CreateTimestamp uint32
}

func (e *StartEventV3) decode(buf *LogBuffer) error {
	e.BinlogVersion = buf.Uint16()
	e.ServerVersion = strings.TrimRight(buf.FixString(serverVersionLen), "\x00")
	e.CreateTimestamp = buf.Uint32()
	return buf.Err()
}

// StopEvent is written when mysqld stops.
type StopEvent struct{}

// RotateEvent is written when mysqld switches to a new binary log file.
//
// https://dev.mysql.com/doc/internals/en/rotate-event.html
type RotateEvent struct {
	Position    uint64
	NextLogName string
}

func (e *RotateEvent) decode(buf *LogBuffer, postHeaderLen int) error {
	if postHeaderLen >= 8 {
		e.Position = buf.Uint64()
		buf.Forward(postHeaderLen - 8)
	} else {
		e.Position = 4
	}
	e.NextLogName = buf.FixString(buf.Remaining())
	return buf.Err()
}

// IntVarEvent carries LAST_INSERT_ID or INSERT_ID for the next statement.
type IntVarEvent struct {
	Type  uint8
	Value uint64
}

func (e *IntVarEvent) decode(buf *LogBuffer) error {
	e.Type = buf.Uint8()
	e.Value = buf.Uint64()
	return buf.Err()
}

// RandEvent carries the RAND() seeds of the next statement.
type RandEvent struct {
	Seed1 uint64
	Seed2 uint64
}

func (e *RandEvent) decode(buf *LogBuffer) error {
	e.Seed1 = buf.Uint64()
	e.Seed2 = buf.Uint64()
	return buf.Err()
}

// UserVarEvent carries a user variable referenced by the next statement.
type UserVarEvent struct {
	Name    string
	IsNull  bool
	Type    uint8
	Charset uint32
	Value   []byte
	Flags   uint8
}

func (e *UserVarEvent) decode(buf *LogBuffer) error {
	e.Name = buf.FixString(int(buf.Uint32()))
	e.IsNull = buf.Uint8() != 0
	if e.IsNull {
		return buf.Err()
	}
	e.Type = buf.Uint8()
	e.Charset = buf.Uint32()
	e.Value = buf.CopyBytes(int(buf.Uint32()))
	if buf.HasRemaining() {
		e.Flags = buf.Uint8()
	}
	return buf.Err()
}

// XidEvent marks the commit of an XA capable transaction.
type XidEvent struct {
	Xid uint64
}

func (e *XidEvent) decode(buf *LogBuffer) error {
	e.Xid = buf.Uint64()
	return buf.Err()
}

// XAPrepareEvent is written for XA PREPARE.
type XAPrepareEvent struct {
	OnePhase bool
	FormatID uint32
	GTRID    []byte
	BQUAL    []byte
}

func (e *XAPrepareEvent) decode(buf *LogBuffer) error {
	e.OnePhase = buf.Uint8() != 0
	e.FormatID = buf.Uint32()
	gtridLen := int(buf.Uint32())
	bqualLen := int(buf.Uint32())
	e.GTRID = buf.CopyBytes(gtridLen)
	e.BQUAL = buf.CopyBytes(bqualLen)
	return buf.Err()
}

// IncidentEvent reports something out of the ordinary on the source.
type IncidentEvent struct {
	Type    uint16
	Message string
}

func (e *IncidentEvent) decode(buf *LogBuffer) error {
	e.Type = buf.Uint16()
	e.Message = buf.LenString()
	return buf.Err()
}

// HeartbeatEvent is sent by the source when it has nothing else to send.
// It only proves liveness.
type HeartbeatEvent struct {
	LogIdent string
	// Position is only carried by the v2 format.
	Position uint64
}

func (e *HeartbeatEvent) decode(buf *LogBuffer) error {
	n := buf.Remaining()
	if n > FN_REFLEN-1 {
		n = FN_REFLEN - 1
	}
	e.LogIdent = buf.FixString(n)
	buf.SetPosition(buf.Limit())
	return buf.Err()
}

// heartbeat v2 fields
const (
	hbHeaderEndMark    = 0
	hbLogFilenameField = 1
	hbLogPositionField = 2
)

func (e *HeartbeatEvent) decodeV2(buf *LogBuffer) error {
	for buf.HasRemaining() && buf.Err() == nil {
		field := buf.PackedInt()
		if field == hbHeaderEndMark {
			break
		}
		size := buf.PackedLen(1)
		switch field {
		case hbLogFilenameField:
			e.LogIdent = buf.FixString(size)
		case hbLogPositionField:
			e.Position = buf.PackedInt()
		default:
			buf.Forward(size)
		}
	}
	return buf.Err()
}

// IgnorableEvent is an event the decoder does not understand but the
// source marked as safe to skip.
type IgnorableEvent struct {
	Type EventType
}

// RowsQueryEvent carries the statement that produced the following rows
// events when binlog_rows_query_log_events is on.
type RowsQueryEvent struct {
	Query string
}

func (e *RowsQueryEvent) decode(buf *LogBuffer) error {
	buf.Forward(1) // length, truncated to 255
	e.Query = buf.FixString(buf.Remaining())
	return buf.Err()
}

// GenericEvent holds the body of a recognized event that has no
// dedicated decoder.
type GenericEvent struct {
	Body []byte
}

func (e *GenericEvent) decode(buf *LogBuffer) error {
	e.Body = buf.CopyBytes(buf.Remaining())
	return buf.Err()
}

// requireConsumed fails when a fixed size body left bytes unread.
func requireConsumed(buf *LogBuffer, t EventType) error {
	if buf.Remaining() != 0 {
		return errors.Annotatef(ErrEventLength, "%s event has %d trailing bytes", t, buf.Remaining())
	}
	return nil
}

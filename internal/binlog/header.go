package binlog

import "github.com/pingcap/errors"

const (
	// LOG_EVENT_HEADER_LEN is the v4 common header length.
	LOG_EVENT_HEADER_LEN = 19
	// OLD_HEADER_LEN is the binlog v1 common header length.
	OLD_HEADER_LEN = 13
)

// EventHeader is the fixed prefix of every event.
//
// https://dev.mysql.com/doc/internals/en/binlog-event-header.html
type EventHeader struct {
	Timestamp uint32
	Type      EventType
	ServerID  uint32
	EventLen  uint32
	LogPos    uint32
	Flags     uint16
}

// decodeHeader reads the header at the start of buf and leaves the
// position at the first body byte. Bytes past the fields known to this
// decoder, up to the announced common header length, are skipped.
func decodeHeader(buf *LogBuffer, fde *FormatDescriptionEvent) (EventHeader, error) {
	var h EventHeader
	buf.Rewind()
	h.Timestamp = buf.Uint32()
	h.Type = EventType(buf.Uint8())
	h.ServerID = buf.Uint32()
	h.EventLen = buf.Uint32()
	headerLen := int(fde.CommonHeaderLength)
	if headerLen >= LOG_EVENT_HEADER_LEN {
		h.LogPos = buf.Uint32()
		h.Flags = buf.Uint16()
	}
	buf.SetPosition(headerLen)
	if err := buf.Err(); err != nil {
		return h, errors.Annotate(err, "decode event header")
	}
	return h, nil
}

func (h EventHeader) Ignorable() bool {
	return h.Flags&LOG_EVENT_IGNORABLE_F != 0
}

// Artificial reports events generated by the server outside the log,
// such as the fake rotate sent at the start of a dump.
func (h EventHeader) Artificial() bool {
	return h.Flags&LOG_EVENT_ARTIFICIAL_F != 0
}

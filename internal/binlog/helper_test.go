package binlog

import (
	"hash/crc32"
)

// eventFrame builds a v4 frame around body. With checksum set a CRC32
// trailer is appended.
func eventFrame(typ EventType, logPos uint32, flags uint16, body []byte, checksum bool) []byte {
	n := LOG_EVENT_HEADER_LEN + len(body)
	if checksum {
		n += BINLOG_CHECKSUM_LEN
	}
	b := NewLogBuffer(n, 0)
	b.PutUint32(1700000000).PutUint8(uint8(typ)).PutUint32(1).PutUint32(uint32(n)).
		PutUint32(logPos).PutUint16(flags).PutBytes(body)
	if checksum {
		b.PutUint32(crc32.ChecksumIEEE(b.Data()))
	}
	return b.Data()
}

func formatDescriptionFrame(serverVersion string, alg uint8, logPos uint32) []byte {
	b := NewLogBuffer(0, 0)
	b.PutUint16(4)
	v := make([]byte, serverVersionLen)
	copy(v, serverVersion)
	b.PutBytes(v).PutUint32(0).PutUint8(LOG_EVENT_HEADER_LEN).PutBytes(defaultPostHeaderLengths)
	trailer := versionProduct(serverVersion) >= checksumVersion
	if trailer {
		b.PutUint8(alg)
	}
	return eventFrame(FORMAT_DESCRIPTION_EVENT, logPos, 0, b.Data(), trailer)
}

func rotateBody(pos uint64, name string) []byte {
	return NewLogBuffer(0, 0).PutUint64(pos).PutFixString(name).Data()
}

type testColumn struct {
	typ  byte
	meta []byte
}

func tableMapBody(id uint64, schema, table string, cols []testColumn, optional ...[]byte) []byte {
	b := NewLogBuffer(0, 0)
	b.PutUint48(id).PutUint16(0)
	b.PutUint8(uint8(len(schema))).PutFixString(schema).PutUint8(0)
	b.PutUint8(uint8(len(table))).PutFixString(table).PutUint8(0)
	b.PutPackedInt(uint64(len(cols)))
	var meta []byte
	for _, c := range cols {
		b.PutUint8(c.typ)
		meta = append(meta, c.meta...)
	}
	b.PutPackedInt(uint64(len(meta))).PutBytes(meta)
	nullable := NewBitmap(len(cols))
	for i := range cols {
		nullable.Set(i)
	}
	b.PutBitmap(nullable)
	for _, field := range optional {
		b.PutBytes(field)
	}
	return b.Data()
}

func metaField(typ byte, data []byte) []byte {
	return NewLogBuffer(0, 0).PutUint8(typ).PutPackedInt(uint64(len(data))).PutBytes(data).Data()
}

func columnNames(names ...string) []byte {
	b := NewLogBuffer(0, 0)
	for _, name := range names {
		b.PutPackedInt(uint64(len(name))).PutFixString(name)
	}
	return b.Data()
}

// rowsBody builds a v1 or v2 rows event body. after is only written for
// update events.
func rowsBody(typ EventType, id uint64, flags uint16, n int, before, after Bitmap, rows []byte) []byte {
	b := NewLogBuffer(0, 0)
	b.PutUint48(id).PutUint16(flags)
	if NewFormatDescription(4, 0).PostHeaderLength(typ, 0) == ROWS_HEADER_LEN_V2 {
		b.PutUint16(2)
	}
	b.PutPackedInt(uint64(n)).PutBitmap(before)
	if typ.IsUpdateRows() {
		b.PutBitmap(after)
	}
	return b.PutBytes(rows).Data()
}

// decodeFrames decodes frames in order with a fresh context.
func decodeFrames(d *Decoder, frames ...[]byte) (*Context, []*Event, error) {
	ctx := NewContext()
	var events []*Event
	for _, frame := range frames {
		ev, err := d.Decode(WrapBuffer(frame), ctx)
		if err != nil {
			return ctx, events, err
		}
		events = append(events, ev)
	}
	return ctx, events, nil
}

package binlog

import (
	"strconv"

	"github.com/pingcap/errors"
)

// TABLE_MAP_EVENT optional metadata types
const (
	SIGNEDNESS = iota + 1
	DEFAULT_CHARSET
	COLUMN_CHARSET
	COLUMN_NAME
	SET_STR_VALUE
	ENUM_STR_VALUE
	GEOMETRY_TYPE
	SIMPLE_PRIMARY_KEY
	PRIMARY_KEY_WITH_PREFIX
	ENUM_AND_SET_DEFAULT_CHARSET
	ENUM_AND_SET_COLUMN_CHARSET
	COLUMN_VISIBILITY
)

// Column is one column of a table map, in table order.
type Column struct {
	Type     byte
	Meta     uint16
	Nullable bool
	Unsigned bool
	Name     string
	// Charset is the collation id, zero when the source did not log it.
	Charset    int
	EnumValues []string
	SetValues  []string
	PrimaryKey bool
}

// RealType resolves the ENUM and SET columns the table map logs as STRING.
func (c *Column) RealType() byte {
	if c.Type == MYSQL_TYPE_STRING && c.Meta >= 256 {
		if t := byte(c.Meta >> 8); isEnumSetType(t) {
			return t
		}
	}
	return c.Type
}

// TableMapEvent binds a table id to a table definition for the rows
// events that follow it.
//
// https://dev.mysql.com/doc/internals/en/table-map-event.html
type TableMapEvent struct {
	TableID    uint64
	Flags      uint16
	Schema     string
	Table      string
	Columns    []Column
	PrimaryKey []int
	// JSONColumnCount is counted once so rows decoding can skip the JSON
	// path for tables without JSON columns.
	JSONColumnCount int
}

func (e *TableMapEvent) ColumnCount() int { return len(e.Columns) }

func readTableID(buf *LogBuffer, postHeaderLen int) uint64 {
	if postHeaderLen == 6 {
		return uint64(buf.Uint32())
	}
	return buf.Uint48()
}

func (e *TableMapEvent) decode(buf *LogBuffer, postHeaderLen int) error {
	start := buf.Position()
	e.TableID = readTableID(buf, postHeaderLen)
	e.Flags = buf.Uint16()
	buf.SetPosition(start + postHeaderLen)

	e.Schema = buf.LenString()
	buf.Forward(1)
	e.Table = buf.LenString()
	buf.Forward(1)

	count := buf.PackedInt()
	if err := buf.Err(); err != nil {
		return errors.Annotate(err, "decode table map")
	}
	// each column takes at least its type byte
	if count > uint64(buf.Remaining()) {
		return errors.Annotatef(ErrEventLength, "table map declares %d columns", count)
	}
	n := int(count)
	e.Columns = make([]Column, n)
	for i := range e.Columns {
		e.Columns[i].Type = buf.Uint8()
	}

	metaLen := buf.PackedLen(1)
	metaStart := buf.Position()
	for i := range e.Columns {
		c := &e.Columns[i]
		switch c.Type {
		case MYSQL_TYPE_NEWDECIMAL, MYSQL_TYPE_STRING, MYSQL_TYPE_ENUM, MYSQL_TYPE_SET:
			// precision/scale and real type/length are written high byte first
			c.Meta = uint16(buf.Uint8())<<8 | uint16(buf.Uint8())
		default:
			switch metaLength(c.Type) {
			case 1:
				c.Meta = uint16(buf.Uint8())
			case 2:
				c.Meta = buf.Uint16()
			}
		}
		if c.RealType() == MYSQL_TYPE_JSON {
			e.JSONColumnCount++
		}
	}
	buf.SetPosition(metaStart + metaLen)

	nullability := buf.Bitmap(n)
	for i := range e.Columns {
		e.Columns[i].Nullable = nullability.Get(i)
	}
	if err := buf.Err(); err != nil {
		return errors.Annotate(err, "decode table map")
	}
	return e.decodeOptionalMeta(buf)
}

func (e *TableMapEvent) decodeOptionalMeta(buf *LogBuffer) error {
	for buf.HasRemaining() {
		typ := buf.Uint8()
		size := buf.PackedLen(1)
		if err := buf.Err(); err != nil {
			return errors.Annotate(err, "decode table map metadata")
		}
		field := buf.Duplicate(size)
		switch typ {
		case SIGNEDNESS:
			e.decodeSignedness(field)
		case DEFAULT_CHARSET:
			e.decodeDefaultCharset(field, isCharacterType)
		case COLUMN_CHARSET:
			e.decodeColumnCharset(field, isCharacterType)
		case ENUM_AND_SET_DEFAULT_CHARSET:
			e.decodeDefaultCharset(field, isEnumSetType)
		case ENUM_AND_SET_COLUMN_CHARSET:
			e.decodeColumnCharset(field, isEnumSetType)
		case COLUMN_NAME:
			for i := range e.Columns {
				e.Columns[i].Name = field.FixString(field.PackedLen(1))
			}
		case SET_STR_VALUE:
			e.decodeStrValues(field, MYSQL_TYPE_SET)
		case ENUM_STR_VALUE:
			e.decodeStrValues(field, MYSQL_TYPE_ENUM)
		case SIMPLE_PRIMARY_KEY:
			for field.HasRemaining() && field.Err() == nil {
				e.setPrimaryKey(int(field.PackedInt()))
			}
		case PRIMARY_KEY_WITH_PREFIX:
			for field.HasRemaining() && field.Err() == nil {
				e.setPrimaryKey(int(field.PackedInt()))
				field.PackedInt() // prefix length
			}
		}
		if err := buf.Err(); err != nil {
			return errors.Annotate(err, "decode table map metadata")
		}
		if err := field.Err(); err != nil {
			return errors.Annotatef(err, "decode table map metadata type %d", typ)
		}
	}
	return nil
}

// signedness bits are written most significant bit first
func (e *TableMapEvent) decodeSignedness(field *LogBuffer) {
	bits := field.Bytes(field.Remaining())
	j := 0
	for i := range e.Columns {
		if !isNumericType(e.Columns[i].Type) {
			continue
		}
		if j/8 < len(bits) && bits[j/8]&(0x80>>uint(j%8)) != 0 {
			e.Columns[i].Unsigned = true
		}
		j++
	}
}

func (e *TableMapEvent) decodeDefaultCharset(field *LogBuffer, match func(byte) bool) {
	def := int(field.PackedInt())
	overrides := make(map[int]int)
	for field.HasRemaining() && field.Err() == nil {
		idx := int(field.PackedInt())
		overrides[idx] = int(field.PackedInt())
	}
	j := 0
	for i := range e.Columns {
		c := &e.Columns[i]
		if !match(c.RealType()) {
			continue
		}
		c.Charset = def
		if cs, ok := overrides[j]; ok {
			c.Charset = cs
		}
		j++
	}
}

func (e *TableMapEvent) decodeColumnCharset(field *LogBuffer, match func(byte) bool) {
	for i := range e.Columns {
		c := &e.Columns[i]
		if !match(c.RealType()) || !field.HasRemaining() {
			continue
		}
		c.Charset = int(field.PackedInt())
	}
}

func (e *TableMapEvent) decodeStrValues(field *LogBuffer, t byte) {
	for i := range e.Columns {
		c := &e.Columns[i]
		if c.RealType() != t || !field.HasRemaining() {
			continue
		}
		n := field.PackedLen(1)
		values := make([]string, 0, n)
		for j := 0; j < n && field.Err() == nil; j++ {
			values = append(values, field.FixString(field.PackedLen(1)))
		}
		if t == MYSQL_TYPE_SET {
			c.SetValues = values
		} else {
			c.EnumValues = values
		}
	}
}

func (e *TableMapEvent) setPrimaryKey(i int) {
	if i >= 0 && i < len(e.Columns) {
		e.Columns[i].PrimaryKey = true
		e.PrimaryKey = append(e.PrimaryKey, i)
	}
}

// ColumnNames returns the logged column names. Columns without a name,
// when the source runs with binlog_row_metadata=MINIMAL, are named by
// their position.
func (e *TableMapEvent) ColumnNames() []string {
	names := make([]string, len(e.Columns))
	for i, c := range e.Columns {
		if c.Name != "" {
			names[i] = c.Name
		} else {
			names[i] = "@" + strconv.Itoa(i+1)
		}
	}
	return names
}

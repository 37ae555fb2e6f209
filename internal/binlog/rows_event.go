package binlog

import (
	"github.com/pingcap/errors"
)

// rows event flags
const (
	STMT_END_F              uint16 = 1
	NO_FOREIGN_KEY_CHECKS_F uint16 = 1 << 1
	RELAXED_UNIQUE_CHECKS_F uint16 = 1 << 2
	COMPLETE_ROWS_F         uint16 = 1 << 3
)

const (
	ROWS_HEADER_LEN_V1 = 8
	ROWS_HEADER_LEN_V2 = 10

	RW_V_EXTRAINFO_TAG       = 0
	EXTRA_ROW_INFO_HDR_BYTES = 2
)

// table ids the source uses for the empty rows event that only carries
// STMT_END_F
const (
	dummyTableID   = 0x00ffffff
	dummyTableID48 = 0xffffffffffff
)

// RowsEvent is a WRITE, UPDATE or DELETE rows event. Its row images stay
// encoded until Rows is called, and its table is resolved by FillTable
// rather than at decode time.
//
// https://dev.mysql.com/doc/internals/en/rows-event.html
type RowsEvent struct {
	Type        EventType
	TableID     uint64
	Flags       uint16
	ExtraInfo   []byte
	ColumnCount int
	// Columns marks the columns present in the before image of updates
	// and in the only image of writes and deletes.
	Columns Bitmap
	// ChangeColumns marks the columns present in the after image. It is
	// Columns for writes and deletes.
	ChangeColumns Bitmap
	// Table is set by FillTable.
	Table *TableMapEvent

	payload *LogBuffer
	filled  bool
}

func (e *RowsEvent) decode(buf *LogBuffer, t EventType, postHeaderLen int) error {
	e.Type = t
	start := buf.Position()
	e.TableID = readTableID(buf, postHeaderLen)
	e.Flags = buf.Uint16()
	extraLen := 0
	if postHeaderLen == ROWS_HEADER_LEN_V2 {
		extraLen = int(buf.Uint16()) - 2
	}
	buf.SetPosition(start + postHeaderLen)
	if extraLen > 0 {
		if err := e.decodeExtraInfo(buf, extraLen); err != nil {
			return err
		}
	}

	count := buf.PackedInt()
	if err := buf.Err(); err != nil {
		return errors.Annotate(err, "decode rows event")
	}
	if count > uint64(buf.Remaining())*8 {
		return errors.Annotatef(ErrEventLength, "rows event declares %d columns", count)
	}
	n := int(count)
	e.ColumnCount = n
	e.Columns = buf.Bitmap(n)
	e.ChangeColumns = e.Columns
	if t.IsUpdateRows() {
		e.ChangeColumns = buf.Bitmap(n)
	}
	e.payload = buf.Duplicate(buf.Remaining())
	if err := buf.Err(); err != nil {
		return errors.Annotate(err, "decode rows event")
	}
	return nil
}

// decodeExtraInfo checks the v2 extra data tags and keeps the region as
// is. An unknown tag ends the scan.
func (e *RowsEvent) decodeExtraInfo(buf *LogBuffer, n int) error {
	start := buf.Position()
	end := start + n
	for i := start; i < end; {
		if buf.Uint8At(i) != RW_V_EXTRAINFO_TAG {
			break
		}
		size := int(buf.Uint8At(i + 1))
		if size < EXTRA_ROW_INFO_HDR_BYTES || i+1+size > end {
			return errors.Annotatef(ErrEventLength, "rows event extra info length %d at %d", size, i)
		}
		i += 1 + size
	}
	e.ExtraInfo = buf.CopyBytes(n)
	if err := buf.Err(); err != nil {
		return errors.Annotate(err, "decode rows event extra info")
	}
	return nil
}

// IsDummy reports the empty rows event written only to carry STMT_END_F.
func (e *RowsEvent) IsDummy() bool {
	return e.ColumnCount == 0 || e.TableID == dummyTableID || e.TableID == dummyTableID48
}

// FillTable resolves the event's table from ctx. When the event ends a
// statement the context's tables are cleared afterwards, because the
// source may hand the same ids to other tables from here on.
func (e *RowsEvent) FillTable(ctx *Context) error {
	if !e.IsDummy() {
		t, ok := ctx.Table(e.TableID)
		if !ok {
			return errors.Annotatef(ErrTableNotFound, "table id %d", e.TableID)
		}
		if t.ColumnCount() != e.ColumnCount {
			return errors.Annotatef(ErrColumnCount, "table %s.%s has %d columns, rows event has %d",
				t.Schema, t.Table, t.ColumnCount(), e.ColumnCount)
		}
		e.Table = t
	}
	e.filled = true
	if e.Flags&STMT_END_F != 0 {
		ctx.ClearAllTables()
	}
	return nil
}

func (e *RowsEvent) Filled() bool { return e.filled }

// Payload returns the detached row image bytes. They are never modified
// after decode, so any number of readers may share them.
func (e *RowsEvent) Payload() []byte {
	if e.payload == nil {
		return nil
	}
	return e.payload.Data()
}

// Rows returns a reader over the row images. Strings whose column has no
// logged charset are decoded as charset; empty means utf8.
func (e *RowsEvent) Rows(charset string) (*RowsBuffer, error) {
	if !e.filled {
		return nil, errors.Annotatef(ErrTableNotFilled, "table id %d", e.TableID)
	}
	return newRowsBuffer(e, charset), nil
}

package binlog

import (
	"io"

	"github.com/pingcap/errors"
)

// RowImage tells which side of a change a row image holds.
type RowImage uint8

const (
	ImageBefore RowImage = iota + 1
	ImageAfter
)

func (i RowImage) String() string {
	switch i {
	case ImageBefore:
		return "before"
	case ImageAfter:
		return "after"
	}
	return "unknown"
}

// ColumnValue is one decoded cell.
type ColumnValue struct {
	Index int
	Name  string
	Type  byte
	Null  bool
	Value interface{}
}

// Row is one row image. Values holds the present columns in table order.
type Row struct {
	Image   RowImage
	Present Bitmap
	Values  []ColumnValue
}

// Column returns the value of table column i, or false when the image
// does not carry it.
func (r *Row) Column(i int) (ColumnValue, bool) {
	for _, v := range r.Values {
		if v.Index == i {
			return v, true
		}
	}
	return ColumnValue{}, false
}

// RowsBuffer decodes the row images of one rows event on demand. Update
// events yield a before image followed by its after image.
type RowsBuffer struct {
	event   *RowsEvent
	table   *TableMapEvent
	buf     *LogBuffer
	charset string
	json    *jsonDecoder
	// pendingAfter is set between the two images of an update.
	pendingAfter bool
}

func newRowsBuffer(e *RowsEvent, charset string) *RowsBuffer {
	rb := &RowsBuffer{
		event:   e,
		table:   e.Table,
		buf:     WrapBuffer(e.Payload()),
		charset: charset,
	}
	if rb.table != nil && rb.table.JSONColumnCount > 0 {
		rb.json = &jsonDecoder{}
	}
	return rb
}

// Next returns the next row image, or io.EOF when the payload is consumed.
func (rb *RowsBuffer) Next() (*Row, error) {
	if rb.table == nil {
		return nil, io.EOF
	}
	if err := rb.buf.Err(); err != nil {
		return nil, err
	}
	if !rb.buf.HasRemaining() {
		if rb.pendingAfter {
			return nil, errors.Annotate(ErrEventLength, "update row without after image")
		}
		return nil, io.EOF
	}

	image, present := ImageAfter, rb.event.Columns
	switch {
	case rb.event.Type.IsUpdateRows():
		if rb.pendingAfter {
			present = rb.event.ChangeColumns
		} else {
			image = ImageBefore
		}
		rb.pendingAfter = !rb.pendingAfter
	case rb.event.Type.IsDeleteRows():
		image = ImageBefore
	}
	row, err := rb.nextImage(present)
	if err != nil {
		return nil, err
	}
	row.Image = image
	return row, nil
}

// All decodes every remaining row image.
func (rb *RowsBuffer) All() ([]*Row, error) {
	var rows []*Row
	for {
		row, err := rb.Next()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
}

func (rb *RowsBuffer) nextImage(present Bitmap) (*Row, error) {
	start := rb.buf.Position()
	n := present.Cardinality()
	nulls := rb.buf.Bitmap(n)
	row := &Row{Present: present, Values: make([]ColumnValue, 0, n)}
	j := 0
	for i := range rb.table.Columns {
		if !present.Get(i) {
			continue
		}
		col := &rb.table.Columns[i]
		cv := ColumnValue{Index: i, Name: col.Name, Type: col.RealType()}
		if nulls.Get(j) {
			cv.Null = true
		} else {
			v, err := rb.decodeValue(col)
			if err != nil {
				return nil, errors.Annotatef(err, "decode %s.%s column %d", rb.table.Schema, rb.table.Table, i)
			}
			cv.Value = v
		}
		row.Values = append(row.Values, cv)
		j++
	}
	if err := rb.buf.Err(); err != nil {
		return nil, errors.Annotatef(err, "decode %s.%s row", rb.table.Schema, rb.table.Table)
	}
	// an image that reads nothing would never drain the payload
	if rb.buf.Position() == start {
		return nil, errors.Annotatef(ErrEventLength, "empty %s.%s row image with %d bytes left", rb.table.Schema, rb.table.Table, rb.buf.Remaining())
	}
	return row, nil
}

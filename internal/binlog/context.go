package binlog

import "fmt"

// LogPosition identifies a point in the binlog stream.
type LogPosition struct {
	File   string `json:"file" msgpack:"file"`
	Offset uint64 `json:"offset" msgpack:"offset"`
}

func (p LogPosition) String() string {
	return fmt.Sprintf("%s:%d", p.File, p.Offset)
}

func (p LogPosition) IsZero() bool {
	return p.File == "" && p.Offset == 0
}

// Context carries the state one stream's decode depends on: the format
// description in force, the table maps seen so far and the position of
// the last decoded event. A Context belongs to a single stream and is
// not safe for concurrent use.
type Context struct {
	fde      *FormatDescriptionEvent
	position LogPosition
	tables   map[uint64]*TableMapEvent
}

func NewContext() *Context {
	return &Context{
		fde:    NewFormatDescription(4, BINLOG_CHECKSUM_ALG_OFF),
		tables: make(map[uint64]*TableMapEvent),
	}
}

func (c *Context) FormatDescription() *FormatDescriptionEvent {
	return c.fde
}

func (c *Context) SetFormatDescription(fde *FormatDescriptionEvent) {
	c.fde = fde
}

func (c *Context) Position() LogPosition {
	return c.position
}

func (c *Context) SetPosition(pos LogPosition) {
	c.position = pos
}

// PutTable replaces any table map previously stored for the same id.
func (c *Context) PutTable(t *TableMapEvent) {
	c.tables[t.TableID] = t
}

func (c *Context) Table(id uint64) (*TableMapEvent, bool) {
	t, ok := c.tables[id]
	return t, ok
}

func (c *Context) ClearAllTables() {
	c.tables = make(map[uint64]*TableMapEvent)
}

func (c *Context) TableCount() int {
	return len(c.tables)
}

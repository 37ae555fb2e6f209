package cannal

import (
	"context"

	"go-canal/internal/binlog"
	"go-canal/internal/model"
	"go-canal/internal/position"
)

// EventHandler receives the changes a Sink lets through, in binlog order.
// A handler error stops the session, which reconnects from the last
// committed position.
type EventHandler interface {
	OnRow(ctx context.Context, e *RowChange) error
	OnDDL(ctx context.Context, e *DDLChange) error
	OnGTID(ctx context.Context, e *binlog.GTIDEvent) error
	OnXID(ctx context.Context, e position.Entry) error
}

// NopHandler can be embedded to implement only part of EventHandler.
type NopHandler struct{}

func (NopHandler) OnRow(context.Context, *RowChange) error         { return nil }
func (NopHandler) OnDDL(context.Context, *DDLChange) error         { return nil }
func (NopHandler) OnGTID(context.Context, *binlog.GTIDEvent) error { return nil }
func (NopHandler) OnXID(context.Context, position.Entry) error     { return nil }

// RowChange is one rows event of an included table. Row images are not
// decoded until Rows or Events is called.
type RowChange struct {
	DataSource string
	Schema     string
	Table      string
	Header     binlog.EventHeader
	Position   binlog.LogPosition
	GTID       string
	Event      *binlog.RowsEvent

	charset string
	// columns names the table columns when the binlog did not log them.
	columns []string
}

func (c *RowChange) Op() string {
	switch {
	case c.Event.Type.IsWriteRows():
		return model.OpInsert
	case c.Event.Type.IsUpdateRows():
		return model.OpUpdate
	default:
		return model.OpDelete
	}
}

// Rows decodes the row images. Each call starts from the first row.
func (c *RowChange) Rows() ([]*binlog.Row, error) {
	rb, err := c.Event.Rows(c.charset)
	if err != nil {
		return nil, err
	}
	return rb.All()
}

// Events converts the row images into model events, one per row.
func (c *RowChange) Events() ([]*model.Event, error) {
	rows, err := c.Rows()
	if err != nil {
		return nil, err
	}
	return convertRows(c, rows), nil
}

// DDLChange announces a schema change of one table, or of a whole
// schema when Table is empty.
type DDLChange struct {
	DataSource string
	Schema     string
	Table      string
	Kind       string
	Query      string
	Header     binlog.EventHeader
	Position   binlog.LogPosition
}

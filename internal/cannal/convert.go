package cannal

import (
	"strconv"

	"go-canal/internal/binlog"
	"go-canal/internal/model"
)

func convertRows(c *RowChange, rows []*binlog.Row) []*model.Event {
	op := c.Op()
	events := make([]*model.Event, 0, len(rows))
	for i := 0; i < len(rows); i++ {
		e := &model.Event{
			DataSource: c.DataSource,
			Schema:     c.Schema,
			Table:      c.Table,
			Op:         op,
			Ts:         int64(c.Header.Timestamp),
			Pos:        c.Position.String(),
			GTID:       c.GTID,
		}
		switch op {
		case model.OpInsert:
			e.Data = c.rowData(rows[i])
		case model.OpDelete:
			e.Before = c.rowData(rows[i])
		case model.OpUpdate:
			// before 和 after 成对出现
			e.Before = c.rowData(rows[i])
			if i+1 < len(rows) && rows[i+1].Image == binlog.ImageAfter {
				i++
				e.Data = c.rowData(rows[i])
			}
		}
		events = append(events, e)
	}
	return events
}

func (c *RowChange) rowData(row *binlog.Row) map[string]interface{} {
	data := make(map[string]interface{}, len(row.Values))
	for _, v := range row.Values {
		var value interface{}
		if !v.Null {
			value = v.Value
		}
		data[c.columnName(v)] = value
	}
	return data
}

func (c *RowChange) columnName(v binlog.ColumnValue) string {
	if v.Name != "" {
		return v.Name
	}
	if v.Index < len(c.columns) {
		return c.columns[v.Index]
	}
	return "col_" + strconv.Itoa(v.Index)
}

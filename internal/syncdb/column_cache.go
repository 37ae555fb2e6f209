package syncdb

import (
	"context"
	"strings"
	"sync"
)

// ColumnCache memoizes GetTableColumns per table until the table's DDL
// invalidates it.
type ColumnCache struct {
	source DataSource
	mu     sync.Mutex
	tables map[string][]ColumnInfo
}

func NewColumnCache(source DataSource) *ColumnCache {
	return &ColumnCache{source: source, tables: make(map[string][]ColumnInfo)}
}

func (c *ColumnCache) Columns(ctx context.Context, schema, table string) ([]ColumnInfo, error) {
	key := schema + "." + table
	c.mu.Lock()
	cols, ok := c.tables[key]
	c.mu.Unlock()
	if ok {
		return cols, nil
	}
	cols, err := c.source.GetTableColumns(ctx, schema, table)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.tables[key] = cols
	c.mu.Unlock()
	return cols, nil
}

// Invalidate drops one table, or every table of schema when table is empty.
func (c *ColumnCache) Invalidate(schema, table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if table != "" {
		delete(c.tables, schema+"."+table)
		return
	}
	prefix := schema + "."
	for k := range c.tables {
		if strings.HasPrefix(k, prefix) {
			delete(c.tables, k)
		}
	}
}

package cannal

import (
	"context"
	"sync"

	"go-canal/internal/binlog"
	"go-canal/internal/log"
	"go-canal/internal/model"
	"go-canal/internal/position"
	"go-canal/internal/syncdb"
	"go-canal/pkg/config"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
	"go.uber.org/zap"
)

type SinkConfig struct {
	DataSource  string
	Destination string
	// Filter nil lets every table through.
	Filter *config.FilterRule
	// Store nil keeps the committed position in memory only.
	Store position.Store
	// Columns resolves column names the binlog did not log. Optional.
	Columns *syncdb.ColumnCache
	// Charset decodes strings of columns without a logged charset.
	Charset string
}

// Sink turns decoded events into handler calls: heartbeats are dropped,
// tables outside the filter are skipped, and every transaction end
// saves the position.
type Sink struct {
	cfg SinkConfig
	ddl *ddlParser

	mu       sync.RWMutex
	handlers []EventHandler

	gtid        model.GTID
	currentGTID string
	committed   position.Entry
}

func NewSink(cfg SinkConfig) *Sink {
	return &Sink{
		cfg:  cfg,
		ddl:  newDDLParser(),
		gtid: model.GTID{},
	}
}

func (s *Sink) AddHandler(h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers = append(s.handlers, h)
}

// AddHandlerAt inserts h before position i.
func (s *Sink) AddHandlerAt(i int, h EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i > len(s.handlers) {
		i = len(s.handlers)
	}
	handlers := make([]EventHandler, 0, len(s.handlers)+1)
	handlers = append(handlers, s.handlers[:i]...)
	handlers = append(handlers, h)
	s.handlers = append(handlers, s.handlers[i:]...)
}

func (s *Sink) RemoveHandler(i int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.handlers) {
		return
	}
	handlers := make([]EventHandler, 0, len(s.handlers)-1)
	handlers = append(handlers, s.handlers[:i]...)
	s.handlers = append(handlers, s.handlers[i+1:]...)
}

func (s *Sink) Handlers() []EventHandler {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.handlers
}

// Committed is the last position saved at a transaction end.
func (s *Sink) Committed() position.Entry {
	return s.committed
}

// Restore resumes from a saved entry.
func (s *Sink) Restore(e position.Entry) error {
	gtid := model.GTID{}
	if e.GTID != "" {
		var err error
		if gtid, err = model.ParseGTIDSet(e.GTID); err != nil {
			return err
		}
	}
	s.gtid = gtid
	s.currentGTID = ""
	s.committed = e
	return nil
}

// Handle processes one decoded event. It must be called in stream order,
// before the next event is decoded with the same context.
func (s *Sink) Handle(ctx context.Context, d *binlog.Decoder, bctx *binlog.Context, ev *binlog.Event) error {
	switch data := ev.Data.(type) {
	case *binlog.HeartbeatEvent:
		return nil
	case *binlog.PreviousGTIDsEvent:
		for sid, intervals := range data.Sets {
			for _, in := range intervals {
				s.gtid.AddRange(sid, in.Start, in.End)
			}
		}
	case *binlog.GTIDEvent:
		if data.SID == uuid.Nil {
			// anonymous
			s.currentGTID = ""
			return nil
		}
		s.gtid.Add(data.SID.String(), data.GNO)
		s.currentGTID = data.String()
		return s.each(func(h EventHandler) error { return h.OnGTID(ctx, data) })
	case *binlog.QueryEvent:
		return s.handleQuery(ctx, ev, data)
	case *binlog.RowsEvent:
		return s.handleRows(ctx, bctx, ev, data)
	case *binlog.XidEvent:
		return s.commit(ctx, ev)
	case *binlog.TransactionPayloadEvent:
		inner, err := data.Events(d, bctx)
		if err != nil {
			return err
		}
		for _, ie := range inner {
			// 内部事件没有自己的位点
			ie.Position = ev.Position
			if err := s.Handle(ctx, d, bctx, ie); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Sink) handleQuery(ctx context.Context, ev *binlog.Event, q *binlog.QueryEvent) error {
	if q.IsTransactionBegin() {
		return nil
	}
	if isTransactionEnd(q.Query) {
		return s.commit(ctx, ev)
	}
	targets := s.ddl.parse(q.Schema, q.Query)
	if len(targets) == 0 {
		// statement based DML is not decoded
		return nil
	}
	for _, t := range targets {
		if s.cfg.Columns != nil {
			s.cfg.Columns.Invalidate(t.schema, t.table)
		}
		if !s.allow(t.schema, t.table) {
			continue
		}
		change := &DDLChange{
			DataSource: s.cfg.DataSource,
			Schema:     t.schema,
			Table:      t.table,
			Kind:       t.kind,
			Query:      q.Query,
			Header:     ev.Header,
			Position:   ev.Position,
		}
		if err := s.each(func(h EventHandler) error { return h.OnDDL(ctx, change) }); err != nil {
			return err
		}
	}
	// DDL 隐式提交
	return s.commit(ctx, ev)
}

func (s *Sink) handleRows(ctx context.Context, bctx *binlog.Context, ev *binlog.Event, rows *binlog.RowsEvent) error {
	if !rows.Filled() {
		if err := rows.FillTable(bctx); err != nil {
			return err
		}
	}
	if rows.IsDummy() || rows.Table == nil {
		return nil
	}
	schema, table := rows.Table.Schema, rows.Table.Table
	if !s.allow(schema, table) {
		return nil
	}
	change := &RowChange{
		DataSource: s.cfg.DataSource,
		Schema:     schema,
		Table:      table,
		Header:     ev.Header,
		Position:   ev.Position,
		GTID:       s.currentGTID,
		Event:      rows,
		charset:    s.cfg.Charset,
	}
	if s.cfg.Columns != nil && missingNames(rows.Table) {
		cols, err := s.cfg.Columns.Columns(ctx, schema, table)
		switch {
		case err != nil:
			log.Log.Warn("resolve column names failed", zap.String("schema", schema),
				zap.String("table", table), zap.Error(err))
		case len(cols) != rows.ColumnCount:
			log.Log.Warn("column count differs from source table", zap.String("schema", schema),
				zap.String("table", table), zap.Int("binlog", rows.ColumnCount), zap.Int("source", len(cols)))
		default:
			change.columns = make([]string, len(cols))
			for i, c := range cols {
				change.columns[i] = c.Name
			}
		}
	}
	return s.each(func(h EventHandler) error { return h.OnRow(ctx, change) })
}

func (s *Sink) commit(ctx context.Context, ev *binlog.Event) error {
	entry := position.Entry{
		Position:  ev.Position,
		GTID:      s.gtid.String(),
		ServerID:  ev.Header.ServerID,
		Timestamp: int64(ev.Header.Timestamp),
	}
	if err := s.each(func(h EventHandler) error { return h.OnXID(ctx, entry) }); err != nil {
		return err
	}
	if s.cfg.Store != nil {
		if err := s.cfg.Store.Save(ctx, s.cfg.Destination, entry); err != nil {
			return errors.Annotatef(err, "save position %s", entry.Position)
		}
	}
	s.committed = entry
	s.currentGTID = ""
	return nil
}

func (s *Sink) allow(schema, table string) bool {
	if s.cfg.Filter == nil {
		return true
	}
	return s.cfg.Filter.Allow(schema, table)
}

// each calls fn on every handler in order and stops at the first error.
func (s *Sink) each(fn func(EventHandler) error) error {
	for i, h := range s.Handlers() {
		if err := fn(h); err != nil {
			return errors.Annotatef(err, "handler %d", i)
		}
	}
	return nil
}

func missingNames(t *binlog.TableMapEvent) bool {
	for i := range t.Columns {
		if t.Columns[i].Name == "" {
			return true
		}
	}
	return false
}

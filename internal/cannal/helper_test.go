package cannal

import (
	"bytes"
	"context"
	"fmt"
	"hash/crc32"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"go-canal/internal/binlog"
	"go-canal/internal/position"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testSID = "3e11fa47-71ca-11e1-9e33-c80aa9429562"

func frame(typ binlog.EventType, logPos uint32, body []byte, checksum bool) []byte {
	n := binlog.LOG_EVENT_HEADER_LEN + len(body)
	if checksum {
		n += binlog.BINLOG_CHECKSUM_LEN
	}
	b := binlog.NewLogBuffer(n, 0)
	b.PutUint32(1700000000).PutUint8(uint8(typ)).PutUint32(1).PutUint32(uint32(n)).
		PutUint32(logPos).PutUint16(0).PutBytes(body)
	if checksum {
		b.PutUint32(crc32.ChecksumIEEE(b.Data()))
	}
	return b.Data()
}

func fdeFrame(logPos uint32) []byte {
	version := make([]byte, 50)
	copy(version, "8.0.32")
	body := binlog.NewLogBuffer(0, 0).PutUint16(4).PutBytes(version).PutUint32(0).
		PutUint8(binlog.LOG_EVENT_HEADER_LEN).PutBytes(binlog.NewFormatDescription(4, 0).PostHeaderLengths).
		PutUint8(binlog.BINLOG_CHECKSUM_ALG_OFF).Data()
	return frame(binlog.FORMAT_DESCRIPTION_EVENT, logPos, body, true)
}

func queryFrame(logPos uint32, schema, query string) []byte {
	b := binlog.NewLogBuffer(0, 0)
	b.PutUint32(1).PutUint32(0).PutUint8(uint8(len(schema))).PutUint16(0).PutUint16(0)
	b.PutFixString(schema).PutUint8(0).PutFixString(query)
	return frame(binlog.QUERY_EVENT, logPos, b.Data(), false)
}

func gtidFrame(logPos uint32, gno int64) []byte {
	sid := uuid.MustParse(testSID)
	b := binlog.NewLogBuffer(0, 0)
	b.PutUint8(1).PutBytes(sid[:]).PutUint64(uint64(gno)).PutUint8(2).PutUint64(uint64(gno - 1)).PutUint64(uint64(gno))
	return frame(binlog.GTID_EVENT, logPos, b.Data(), false)
}

func xidFrame(logPos uint32, xid uint64) []byte {
	return frame(binlog.XID_EVENT, logPos, binlog.NewLogBuffer(0, 0).PutUint64(xid).Data(), false)
}

func rotateFrame(logPos uint32, next string) []byte {
	return frame(binlog.ROTATE_EVENT, logPos, binlog.NewLogBuffer(0, 0).PutUint64(4).PutFixString(next).Data(), false)
}

func heartbeatFrame(file string) []byte {
	return frame(binlog.HEARTBEAT_EVENT, 0, []byte(file), false)
}

// tableMapFrame maps id to schema.table with an INT and a VARCHAR(255)
// column. names, when given, are logged as column name metadata.
func tableMapFrame(logPos uint32, id uint64, schema, table string, names ...string) []byte {
	b := binlog.NewLogBuffer(0, 0)
	b.PutUint48(id).PutUint16(0)
	b.PutUint8(uint8(len(schema))).PutFixString(schema).PutUint8(0)
	b.PutUint8(uint8(len(table))).PutFixString(table).PutUint8(0)
	b.PutPackedInt(2).PutUint8(binlog.MYSQL_TYPE_LONG).PutUint8(binlog.MYSQL_TYPE_VARCHAR)
	b.PutPackedInt(2).PutBytes([]byte{0xff, 0x00})
	b.PutBitmap(binlog.BitmapOf(2, 0, 1))
	if len(names) > 0 {
		field := binlog.NewLogBuffer(0, 0)
		for _, name := range names {
			field.PutPackedInt(uint64(len(name))).PutFixString(name)
		}
		b.PutUint8(binlog.COLUMN_NAME).PutPackedInt(uint64(len(field.Data()))).PutBytes(field.Data())
	}
	return frame(binlog.TABLE_MAP_EVENT, logPos, b.Data(), false)
}

type testRow struct {
	id   int32
	note *string
}

func note(s string) *string { return &s }

func putRow(b *binlog.LogBuffer, r testRow) {
	if r.note == nil {
		b.PutUint8(0x02).PutUint32(uint32(r.id))
		return
	}
	b.PutUint8(0x00).PutUint32(uint32(r.id)).PutUint8(uint8(len(*r.note))).PutFixString(*r.note)
}

// rowsFrame builds a v2 rows event. Update rows come in before/after pairs.
func rowsFrame(logPos uint32, typ binlog.EventType, id uint64, rows ...testRow) []byte {
	all := binlog.BitmapOf(2, 0, 1)
	b := binlog.NewLogBuffer(0, 0)
	b.PutUint48(id).PutUint16(binlog.STMT_END_F).PutUint16(2).PutPackedInt(2).PutBitmap(all)
	if typ.IsUpdateRows() {
		b.PutBitmap(all)
	}
	for _, r := range rows {
		putRow(b, r)
	}
	return frame(typ, logPos, b.Data(), false)
}

// ordersStream is two transactions on shop.orders and crm.users, then
// an ALTER of shop.orders.
func ordersStream() [][]byte {
	return [][]byte{
		fdeFrame(125),
		gtidFrame(190, 5),
		queryFrame(260, "shop", "BEGIN"),
		tableMapFrame(320, 10, "shop", "orders", "id", "note"),
		rowsFrame(370, binlog.WRITE_ROWS_EVENTv2, 10, testRow{1, note("a")}, testRow{2, nil}),
		xidFrame(401, 1),
		gtidFrame(466, 6),
		queryFrame(536, "crm", "BEGIN"),
		tableMapFrame(590, 11, "crm", "users", "id", "note"),
		rowsFrame(630, binlog.DELETE_ROWS_EVENTv2, 11, testRow{9, nil}),
		xidFrame(661, 2),
		heartbeatFrame("mysql-bin.000001"),
		queryFrame(760, "shop", "ALTER TABLE orders ADD COLUMN c int"),
	}
}

func writeBinlogFile(t *testing.T, dir, name string, frames ...[]byte) {
	t.Helper()
	data := []byte{0xfe, 'b', 'i', 'n'}
	for _, f := range frames {
		data = append(data, f...)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
}

func streamFetcher(frames ...[]byte) binlog.Fetcher {
	return binlog.NewStreamFetcher(bytes.NewReader(bytes.Join(frames, nil)))
}

// recorder logs every handler call as a line.
type recorder struct {
	mu      sync.Mutex
	name    string
	calls   []string
	rows    []*RowChange
	failRow error
}

func (r *recorder) add(format string, args ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	line := fmt.Sprintf(format, args...)
	if r.name != "" {
		line = r.name + " " + line
	}
	r.calls = append(r.calls, line)
}

func (r *recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.calls...)
}

func (r *recorder) OnRow(_ context.Context, e *RowChange) error {
	if r.failRow != nil {
		return r.failRow
	}
	r.add("row %s %s.%s", e.Op(), e.Schema, e.Table)
	r.mu.Lock()
	r.rows = append(r.rows, e)
	r.mu.Unlock()
	return nil
}

func (r *recorder) OnDDL(_ context.Context, e *DDLChange) error {
	r.add("ddl %s %s.%s", e.Kind, e.Schema, e.Table)
	return nil
}

func (r *recorder) OnGTID(_ context.Context, e *binlog.GTIDEvent) error {
	r.add("gtid %s", e)
	return nil
}

func (r *recorder) OnXID(_ context.Context, e position.Entry) error {
	r.add("xid %s", e.Position)
	return nil
}

// runStream feeds frames through a decoder and the sink.
func runStream(t *testing.T, s *Sink, d *binlog.Decoder, frames ...[]byte) error {
	t.Helper()
	ctx := context.Background()
	bctx := binlog.NewContext()
	bctx.SetPosition(binlog.LogPosition{File: "mysql-bin.000001", Offset: 4})
	f := streamFetcher(frames...)
	for {
		ok, err := f.Fetch()
		require.NoError(t, err)
		if !ok {
			return nil
		}
		ev, err := d.Decode(f.Buffer(), bctx)
		require.NoError(t, err)
		if err := s.Handle(ctx, d, bctx, ev); err != nil {
			return err
		}
	}
}

package binlog

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/pingcap/errors"
	"github.com/stretchr/testify/require"
)

const accountsID = 42

// accounts is (id INT UNSIGNED PRIMARY KEY, name VARCHAR(64), balance DECIMAL(10,2))
// in utf8mb4 with full row metadata.
func accountsTableMap() []byte {
	cols := []testColumn{
		{typ: MYSQL_TYPE_LONG},
		{typ: MYSQL_TYPE_VARCHAR, meta: []byte{0x00, 0x01}},
		{typ: MYSQL_TYPE_NEWDECIMAL, meta: []byte{10, 2}},
	}
	return eventFrame(TABLE_MAP_EVENT, 200, 0, tableMapBody(accountsID, "shop", "accounts", cols,
		metaField(SIGNEDNESS, []byte{0x80}),
		metaField(DEFAULT_CHARSET, []byte{45}),
		metaField(COLUMN_NAME, columnNames("id", "name", "balance")),
		metaField(SIMPLE_PRIMARY_KEY, []byte{0}),
	), false)
}

// 1234.56 and -1234.56 as DECIMAL(10,2)
var (
	positiveDecimal = []byte{0x80, 0x00, 0x04, 0xd2, 0x38}
	negativeDecimal = []byte{0x7f, 0xff, 0xfb, 0x2d, 0xc7}
)

func accountsRows() []byte {
	b := NewLogBuffer(0, 0)
	b.PutUint8(0x00).PutUint32(7).PutUint16(5).PutFixString("alice").PutBytes(positiveDecimal)
	b.PutUint8(0x02).PutUint32(8).PutBytes(negativeDecimal)
	return b.Data()
}

func TestDecodeTableMap(t *testing.T) {
	_, events, err := decodeFrames(NewDecoder(), accountsTableMap())
	require.NoError(t, err)

	tm := events[0].Data.(*TableMapEvent)
	require.Equal(t, uint64(accountsID), tm.TableID)
	require.Equal(t, "shop", tm.Schema)
	require.Equal(t, "accounts", tm.Table)
	require.Equal(t, 3, tm.ColumnCount())
	require.Equal(t, []string{"id", "name", "balance"}, tm.ColumnNames())
	require.Equal(t, []int{0}, tm.PrimaryKey)

	id, name, balance := tm.Columns[0], tm.Columns[1], tm.Columns[2]
	require.True(t, id.Unsigned)
	require.True(t, id.PrimaryKey)
	require.False(t, balance.Unsigned)
	require.Equal(t, uint16(256), name.Meta)
	require.Equal(t, 45, name.Charset)
	require.Equal(t, 0, id.Charset)
	require.Equal(t, uint16(10<<8|2), balance.Meta)
	require.True(t, name.Nullable)
}

func TestTableMapWithoutNames(t *testing.T) {
	cols := []testColumn{{typ: MYSQL_TYPE_TINY}, {typ: MYSQL_TYPE_BLOB, meta: []byte{2}}}
	_, events, err := decodeFrames(NewDecoder(), eventFrame(TABLE_MAP_EVENT, 200, 0, tableMapBody(1, "s", "t", cols), false))
	require.NoError(t, err)
	tm := events[0].Data.(*TableMapEvent)
	require.Equal(t, []string{"@1", "@2"}, tm.ColumnNames())
	require.Equal(t, uint16(2), tm.Columns[1].Meta)
}

func TestDecodeWriteRows(t *testing.T) {
	all := BitmapOf(3, 0, 1, 2)
	ctx, events, err := decodeFrames(NewDecoder(),
		accountsTableMap(),
		eventFrame(WRITE_ROWS_EVENTv2, 300, 0, rowsBody(WRITE_ROWS_EVENTv2, accountsID, STMT_END_F, 3, all, all, accountsRows()), false),
	)
	require.NoError(t, err)
	require.Equal(t, 0, ctx.TableCount())

	ev := events[1].Data.(*RowsEvent)
	require.True(t, ev.Filled())
	require.Equal(t, "accounts", ev.Table.Table)
	require.Equal(t, 3, ev.ColumnCount)

	rb, err := ev.Rows("")
	require.NoError(t, err)
	rows, err := rb.All()
	require.NoError(t, err)
	require.Len(t, rows, 2)

	require.Equal(t, ImageAfter, rows[0].Image)
	require.Equal(t, []ColumnValue{
		{Index: 0, Name: "id", Type: MYSQL_TYPE_LONG, Value: uint32(7)},
		{Index: 1, Name: "name", Type: MYSQL_TYPE_VARCHAR, Value: "alice"},
	}, rows[0].Values[:2])
	require.Equal(t, "1234.56", rows[0].Values[2].Value.(interface{ String() string }).String())

	second := rows[1]
	v, ok := second.Column(1)
	require.True(t, ok)
	require.True(t, v.Null)
	require.Nil(t, v.Value)
	v, _ = second.Column(2)
	require.Equal(t, "-1234.56", v.Value.(interface{ String() string }).String())
}

func TestRowsConcurrentReaders(t *testing.T) {
	all := BitmapOf(3, 0, 1, 2)
	_, events, err := decodeFrames(NewDecoder(),
		accountsTableMap(),
		eventFrame(WRITE_ROWS_EVENTv1, 300, 0, rowsBody(WRITE_ROWS_EVENTv1, accountsID, 0, 3, all, all, accountsRows()), false),
	)
	require.NoError(t, err)
	ev := events[1].Data.(*RowsEvent)

	var wg sync.WaitGroup
	results := make([][]*Row, 4)
	errs := make([]error, 4)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rb, err := ev.Rows("")
			if err != nil {
				errs[i] = err
				return
			}
			results[i], errs[i] = rb.All()
		}(i)
	}
	wg.Wait()
	for i := range results {
		require.NoError(t, errs[i])
		require.Len(t, results[i], 2)
		require.Equal(t, results[0][0].Values[1].Value, results[i][0].Values[1].Value)
	}
}

func TestDecodeRowsExtraInfo(t *testing.T) {
	extra := []byte{RW_V_EXTRAINFO_TAG, 3, 0x01, 0xaa}
	b := NewLogBuffer(0, 0)
	b.PutUint48(accountsID).PutUint16(0).PutUint16(uint16(2 + len(extra))).PutBytes(extra)
	all := BitmapOf(3, 0, 1, 2)
	b.PutPackedInt(3).PutBitmap(all).PutBytes(accountsRows())

	_, events, err := decodeFrames(NewDecoder(), accountsTableMap(), eventFrame(DELETE_ROWS_EVENTv2, 300, 0, b.Data(), false))
	require.NoError(t, err)
	ev := events[1].Data.(*RowsEvent)
	require.Equal(t, extra, ev.ExtraInfo)

	rb, err := ev.Rows("")
	require.NoError(t, err)
	row, err := rb.Next()
	require.NoError(t, err)
	require.Equal(t, ImageBefore, row.Image)
}

func updateFrames(rows []byte) [][]byte {
	cols := []testColumn{{typ: MYSQL_TYPE_LONG}, {typ: MYSQL_TYPE_VARCHAR, meta: []byte{10, 0}}}
	both := BitmapOf(2, 0, 1)
	return [][]byte{
		eventFrame(TABLE_MAP_EVENT, 200, 0, tableMapBody(9, "shop", "notes", cols), false),
		eventFrame(UPDATE_ROWS_EVENTv1, 300, 0, rowsBody(UPDATE_ROWS_EVENTv1, 9, STMT_END_F, 2, both, both, rows), false),
	}
}

func TestDecodeUpdateRows(t *testing.T) {
	rows := NewLogBuffer(0, 0).
		PutUint8(0).PutUint32(1).PutUint8(3).PutFixString("old").
		PutUint8(0).PutUint32(1).PutUint8(3).PutFixString("new").Data()

	_, events, err := decodeFrames(NewDecoder(), updateFrames(rows)...)
	require.NoError(t, err)
	rb, err := events[1].Data.(*RowsEvent).Rows("")
	require.NoError(t, err)

	before, err := rb.Next()
	require.NoError(t, err)
	require.Equal(t, ImageBefore, before.Image)
	require.Equal(t, int32(1), before.Values[0].Value)
	require.Equal(t, "old", before.Values[1].Value)

	after, err := rb.Next()
	require.NoError(t, err)
	require.Equal(t, ImageAfter, after.Image)
	require.Equal(t, "new", after.Values[1].Value)

	_, err = rb.Next()
	require.Equal(t, io.EOF, err)
}

func TestDecodeUpdateRowsWithoutAfterImage(t *testing.T) {
	rows := NewLogBuffer(0, 0).PutUint8(0).PutUint32(1).PutUint8(3).PutFixString("old").Data()
	_, events, err := decodeFrames(NewDecoder(), updateFrames(rows)...)
	require.NoError(t, err)
	rb, err := events[1].Data.(*RowsEvent).Rows("")
	require.NoError(t, err)

	_, err = rb.Next()
	require.NoError(t, err)
	_, err = rb.Next()
	require.Equal(t, ErrEventLength, errors.Cause(err))
}

func TestStatementEndClearsTables(t *testing.T) {
	all := BitmapOf(3, 0, 1, 2)
	rows := eventFrame(WRITE_ROWS_EVENTv2, 300, 0, rowsBody(WRITE_ROWS_EVENTv2, accountsID, STMT_END_F, 3, all, all, accountsRows()), false)

	_, events, err := decodeFrames(NewDecoder(), accountsTableMap(), rows, rows)
	require.Equal(t, ErrTableNotFound, errors.Cause(err))
	require.Len(t, events, 2)
}

func TestRowsColumnCountMismatch(t *testing.T) {
	two := BitmapOf(2, 0, 1)
	_, _, err := decodeFrames(NewDecoder(),
		accountsTableMap(),
		eventFrame(WRITE_ROWS_EVENTv2, 300, 0, rowsBody(WRITE_ROWS_EVENTv2, accountsID, 0, 2, two, two, nil), false),
	)
	require.Equal(t, ErrColumnCount, errors.Cause(err))
}

func TestLazyFill(t *testing.T) {
	all := BitmapOf(3, 0, 1, 2)
	rows := eventFrame(WRITE_ROWS_EVENTv2, 300, 0, rowsBody(WRITE_ROWS_EVENTv2, accountsID, STMT_END_F, 3, all, all, accountsRows()), false)

	ctx, events, err := decodeFrames(NewDecoder(WithLazyFill()), accountsTableMap(), rows)
	require.NoError(t, err)
	ev := events[1].Data.(*RowsEvent)
	require.False(t, ev.Filled())
	require.Equal(t, 1, ctx.TableCount())

	_, err = ev.Rows("")
	require.Equal(t, ErrTableNotFilled, errors.Cause(err))

	require.NoError(t, ev.FillTable(ctx))
	require.Equal(t, 0, ctx.TableCount())
	rb, err := ev.Rows("")
	require.NoError(t, err)
	got, err := rb.All()
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestDummyRowsEvent(t *testing.T) {
	b := NewLogBuffer(0, 0).PutUint48(dummyTableID).PutUint16(STMT_END_F).PutUint16(2).PutPackedInt(0)
	ctx, events, err := decodeFrames(NewDecoder(), accountsTableMap(), eventFrame(WRITE_ROWS_EVENTv2, 300, 0, b.Data(), false))
	require.NoError(t, err)
	ev := events[1].Data.(*RowsEvent)
	require.True(t, ev.IsDummy())
	require.Nil(t, ev.Table)
	require.Equal(t, 0, ctx.TableCount())

	rb, err := ev.Rows("")
	require.NoError(t, err)
	rows, err := rb.All()
	require.NoError(t, err)
	require.Empty(t, rows)
}

func rawTableMapBody(count uint64, rest []byte) []byte {
	b := NewLogBuffer(0, 0)
	b.PutUint48(accountsID).PutUint16(0)
	b.PutUint8(4).PutFixString("shop").PutUint8(0)
	b.PutUint8(8).PutFixString("accounts").PutUint8(0)
	return b.PutPackedInt(count).PutBytes(rest).Data()
}

func TestTableMapOversizedLengths(t *testing.T) {
	enum := []testColumn{{typ: MYSQL_TYPE_STRING, meta: []byte{MYSQL_TYPE_ENUM, 1}}}
	huge := NewLogBuffer(0, 0).PutPackedInt(1 << 62).PutFixString("a").Data()

	testCases := []struct {
		name string
		body []byte
		err  error
	}{
		{"column count sign bit", rawTableMapBody(1<<63, make([]byte, 16)), ErrEventLength},
		{"column count all ones", rawTableMapBody(1<<64-1, make([]byte, 16)), ErrEventLength},
		{"column count past body", rawTableMapBody(40, make([]byte, 16)), ErrEventLength},
		{"metadata field", rawTableMapBody(1, []byte{MYSQL_TYPE_LONG, 0, 0, COLUMN_NAME, 0xfe, 0, 0, 0, 0, 0, 0, 0, 0x80}), ErrOutOfBounds},
		{"column name", tableMapBody(1, "s", "t", []testColumn{{typ: MYSQL_TYPE_LONG}}, metaField(COLUMN_NAME, huge)), ErrOutOfBounds},
		{"enum values", tableMapBody(1, "s", "t", enum, metaField(ENUM_STR_VALUE, huge)), ErrOutOfBounds},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := decodeFrames(NewDecoder(), eventFrame(TABLE_MAP_EVENT, 200, 0, tc.body, false))
			require.Equal(t, tc.err, errors.Cause(err))
		})
	}
}

func TestRowsOversizedColumnCount(t *testing.T) {
	for _, n := range []int{-1, 1 << 40} {
		body := rowsBody(WRITE_ROWS_EVENTv2, accountsID, STMT_END_F, n, NewBitmap(8), NewBitmap(8), nil)
		_, _, err := decodeFrames(NewDecoder(), accountsTableMap(), eventFrame(WRITE_ROWS_EVENTv2, 300, 0, body, false))
		require.Equal(t, ErrEventLength, errors.Cause(err), "columns %d", n)
	}
}

func TestRowsEmptyImage(t *testing.T) {
	none := NewBitmap(3)
	testCases := []struct {
		typ  EventType
		rows []byte
	}{
		{WRITE_ROWS_EVENTv2, []byte{1, 2, 3}},
		{DELETE_ROWS_EVENTv2, []byte{0}},
		{UPDATE_ROWS_EVENTv2, []byte{1, 2}},
	}
	for _, tc := range testCases {
		t.Run(tc.typ.String(), func(t *testing.T) {
			_, events, err := decodeFrames(NewDecoder(),
				accountsTableMap(),
				eventFrame(tc.typ, 300, 0, rowsBody(tc.typ, accountsID, STMT_END_F, 3, none, none, tc.rows), false),
			)
			require.NoError(t, err)
			rb, err := events[1].Data.(*RowsEvent).Rows("")
			require.NoError(t, err)

			done := make(chan error, 1)
			go func() {
				_, err := rb.All()
				done <- err
			}()
			select {
			case err := <-done:
				require.Equal(t, ErrEventLength, errors.Cause(err))
			case <-time.After(time.Second):
				t.Fatal("row iteration did not stop")
			}
		})
	}
}

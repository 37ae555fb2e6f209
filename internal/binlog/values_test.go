package binlog

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func decodeCell(t *testing.T, col Column, data []byte) interface{} {
	t.Helper()
	rb := &RowsBuffer{buf: WrapBuffer(data)}
	v, err := rb.decodeValue(&col)
	require.NoError(t, err)
	require.False(t, rb.buf.HasRemaining(), "cell left %d bytes", rb.buf.Remaining())
	return v
}

func TestDecodeDecimal(t *testing.T) {
	testCases := []struct {
		precision, scale int
		raw              []byte
		want             string
	}{
		{10, 2, positiveDecimal, "1234.56"},
		{10, 2, negativeDecimal, "-1234.56"},
		{14, 4, []byte{0x81, 0x0d, 0xfb, 0x38, 0xd2, 0x04, 0xd2}, "1234567890.1234"},
		{4, 0, []byte{0x80, 0x00}, "0"},
		{5, 5, []byte{0x80, 0x30, 0x39}, "0.12345"},
	}
	for _, tc := range testCases {
		col := Column{Type: MYSQL_TYPE_NEWDECIMAL, Meta: uint16(tc.precision<<8 | tc.scale)}
		v := decodeCell(t, col, tc.raw)
		want, err := decimal.NewFromString(tc.want)
		require.NoError(t, err)
		require.True(t, want.Equal(v.(decimal.Decimal)), "want %s got %v", tc.want, v)
	}
	require.Equal(t, 5, decimalBinarySize(10, 2))
	require.Equal(t, 7, decimalBinarySize(14, 4))
}

func datetime2(year, month, day, hour, min, sec int) uint64 {
	ym := uint64(year*13 + month)
	ymd := ym<<5 | uint64(day)
	hms := uint64(hour<<12 | min<<6 | sec)
	return (ymd<<17 | hms) + datetimeIntOffset
}

func TestDecodeTemporal(t *testing.T) {
	testCases := []struct {
		name string
		col  Column
		data []byte
		want interface{}
	}{
		{
			name: "datetime2",
			col:  Column{Type: MYSQL_TYPE_DATETIME2},
			data: NewLogBuffer(0, 0).PutBeUintN(datetime2(2024, 3, 15, 10, 20, 30), 5).Data(),
			want: time.Date(2024, 3, 15, 10, 20, 30, 0, time.UTC),
		},
		{
			name: "datetime2 millis",
			col:  Column{Type: MYSQL_TYPE_DATETIME2, Meta: 3},
			data: NewLogBuffer(0, 0).PutBeUintN(datetime2(1999, 12, 31, 23, 59, 59), 5).PutBeUintN(1230, 2).Data(),
			want: time.Date(1999, 12, 31, 23, 59, 59, 123000000, time.UTC),
		},
		{
			name: "zero datetime2",
			col:  Column{Type: MYSQL_TYPE_DATETIME2},
			data: NewLogBuffer(0, 0).PutBeUintN(datetimeIntOffset, 5).Data(),
			want: time.Time{},
		},
		{
			name: "datetime",
			col:  Column{Type: MYSQL_TYPE_DATETIME},
			data: NewLogBuffer(0, 0).PutUint64(20240315102030).Data(),
			want: time.Date(2024, 3, 15, 10, 20, 30, 0, time.UTC),
		},
		{
			name: "date",
			col:  Column{Type: MYSQL_TYPE_DATE},
			data: NewLogBuffer(0, 0).PutUint24(2024<<9 | 2<<5 | 29).Data(),
			want: time.Date(2024, 2, 29, 0, 0, 0, 0, time.UTC),
		},
		{
			name: "zero date",
			col:  Column{Type: MYSQL_TYPE_DATE},
			data: []byte{0, 0, 0},
			want: time.Time{},
		},
		{
			name: "timestamp2",
			col:  Column{Type: MYSQL_TYPE_TIMESTAMP2, Meta: 6},
			data: NewLogBuffer(0, 0).PutBeUintN(1700000000, 4).PutBeUintN(500, 3).Data(),
			want: time.Unix(1700000000, 500000).UTC(),
		},
		{
			name: "time2",
			col:  Column{Type: MYSQL_TYPE_TIME2},
			data: NewLogBuffer(0, 0).PutBeUintN(timeIntOffset+(12<<12|34<<6|56), 3).Data(),
			want: 12*time.Hour + 34*time.Minute + 56*time.Second,
		},
		{
			name: "negative time2",
			col:  Column{Type: MYSQL_TYPE_TIME2},
			data: NewLogBuffer(0, 0).PutBeUintN(timeIntOffset-(1<<12), 3).Data(),
			want: -time.Hour,
		},
		{
			name: "time",
			col:  Column{Type: MYSQL_TYPE_TIME},
			data: NewLogBuffer(0, 0).PutUint24(1234).Data(),
			want: 12*time.Minute + 34*time.Second,
		},
		{
			name: "year",
			col:  Column{Type: MYSQL_TYPE_YEAR},
			data: []byte{124},
			want: 2024,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, decodeCell(t, tc.col, tc.data))
		})
	}
}

func TestDecodeIntegers(t *testing.T) {
	require.Equal(t, int8(-1), decodeCell(t, Column{Type: MYSQL_TYPE_TINY}, []byte{0xff}))
	require.Equal(t, uint8(255), decodeCell(t, Column{Type: MYSQL_TYPE_TINY, Unsigned: true}, []byte{0xff}))
	require.Equal(t, int32(-2), decodeCell(t, Column{Type: MYSQL_TYPE_INT24}, []byte{0xfe, 0xff, 0xff}))
	require.Equal(t, uint64(1<<63), decodeCell(t, Column{Type: MYSQL_TYPE_LONGLONG, Unsigned: true},
		NewLogBuffer(0, 0).PutUint64(1<<63).Data()))
	require.Equal(t, uint64(0x05), decodeCell(t, Column{Type: MYSQL_TYPE_BIT, Meta: 3}, []byte{0x05}))
}

func TestDecodeEnumSet(t *testing.T) {
	enum := Column{Type: MYSQL_TYPE_STRING, Meta: MYSQL_TYPE_ENUM<<8 | 1, EnumValues: []string{"small", "large"}}
	require.Equal(t, "large", decodeCell(t, enum, []byte{2}))
	enum.EnumValues = nil
	require.Equal(t, int64(2), decodeCell(t, enum, []byte{2}))

	set := Column{Type: MYSQL_TYPE_STRING, Meta: MYSQL_TYPE_SET<<8 | 1, SetValues: []string{"a", "b", "c"}}
	require.Equal(t, "a,c", decodeCell(t, set, []byte{0x05}))
}

func TestDecodeStrings(t *testing.T) {
	latin1 := Column{Type: MYSQL_TYPE_VARCHAR, Meta: 20, Charset: 8}
	require.Equal(t, "café", decodeCell(t, latin1, []byte{4, 'c', 'a', 'f', 0xe9}))

	gbk := Column{Type: MYSQL_TYPE_VARCHAR, Meta: 20, Charset: 28}
	require.Equal(t, "中", decodeCell(t, gbk, []byte{2, 0xd6, 0xd0}))

	binary := Column{Type: MYSQL_TYPE_STRING, Meta: MYSQL_TYPE_STRING<<8 | 4, Charset: binaryCharset}
	require.Equal(t, []byte{1, 2}, decodeCell(t, binary, []byte{2, 1, 2}))

	blob := Column{Type: MYSQL_TYPE_BLOB, Meta: 2}
	require.Equal(t, []byte("xyz"), decodeCell(t, blob, []byte{3, 0, 'x', 'y', 'z'}))

	text := Column{Type: MYSQL_TYPE_BLOB, Meta: 1, Charset: 45}
	require.Equal(t, "xyz", decodeCell(t, text, []byte{3, 'x', 'y', 'z'}))

	// CHAR(255) in utf8mb4 has a 1020 byte maximum and a 2 byte length
	wide := Column{Type: MYSQL_TYPE_STRING, Meta: 0xce<<8 | 0xfc, Charset: 45}
	require.Equal(t, "ok", decodeCell(t, wide, []byte{2, 0, 'o', 'k'}))
}

func TestDecodeJSON(t *testing.T) {
	// {"a":1,"b":[true,"x"]}
	doc := []byte{
		jsonSmallObject,
		0x02, 0x00, 0x20, 0x00, // count, size
		0x12, 0x00, 0x01, 0x00, // key "a"
		0x13, 0x00, 0x01, 0x00, // key "b"
		jsonInt16, 0x01, 0x00,
		jsonSmallArray, 0x14, 0x00,
		'a', 'b',
		0x02, 0x00, 0x0c, 0x00,
		jsonLiteral, jsonLiteralTrue, 0x00,
		jsonString, 0x0a, 0x00,
		0x01, 'x',
	}
	data := NewLogBuffer(0, 0).PutUint8(uint8(len(doc))).PutBytes(doc).Data()
	v := decodeCell(t, Column{Type: MYSQL_TYPE_JSON, Meta: 1}, data)
	require.Equal(t, map[string]interface{}{
		"a": int64(1),
		"b": []interface{}{true, "x"},
	}, v)

	require.Nil(t, decodeCell(t, Column{Type: MYSQL_TYPE_JSON, Meta: 1}, []byte{0}))

	_, err := (&jsonDecoder{}).decode([]byte{jsonSmallObject, 0x01})
	require.Error(t, err)
}

func TestCharsetName(t *testing.T) {
	require.Equal(t, "utf8mb4", CharsetName(255))
	require.Equal(t, "utf8mb4", CharsetName(45))
	require.Equal(t, "latin1", CharsetName(8))
	require.Equal(t, "binary", CharsetName(63))
	require.Equal(t, "", CharsetName(0))
}

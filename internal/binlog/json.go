package binlog

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/pingcap/errors"
)

// binary JSON value types
//
// https://dev.mysql.com/worklog/task/?id=8132#tabs-8132-4
const (
	jsonSmallObject byte = 0x00
	jsonLargeObject byte = 0x01
	jsonSmallArray  byte = 0x02
	jsonLargeArray  byte = 0x03
	jsonLiteral     byte = 0x04
	jsonInt16       byte = 0x05
	jsonUint16      byte = 0x06
	jsonInt32       byte = 0x07
	jsonUint32      byte = 0x08
	jsonInt64       byte = 0x09
	jsonUint64      byte = 0x0a
	jsonDouble      byte = 0x0b
	jsonString      byte = 0x0c
	jsonOpaque      byte = 0x0f
)

const (
	jsonLiteralNull  = 0x00
	jsonLiteralTrue  = 0x01
	jsonLiteralFalse = 0x02
)

var errJSONTruncated = errors.Annotate(ErrOutOfBounds, "json value truncated")

// jsonDecoder turns MySQL binary JSON into maps, slices and scalars.
type jsonDecoder struct{}

func (d *jsonDecoder) decode(data []byte) (interface{}, error) {
	if len(data) == 0 {
		return nil, errJSONTruncated
	}
	return d.value(data[0], data[1:])
}

func (d *jsonDecoder) value(t byte, data []byte) (interface{}, error) {
	switch t {
	case jsonSmallObject:
		return d.container(data, false, true)
	case jsonLargeObject:
		return d.container(data, true, true)
	case jsonSmallArray:
		return d.container(data, false, false)
	case jsonLargeArray:
		return d.container(data, true, false)
	case jsonLiteral:
		if len(data) < 1 {
			return nil, errJSONTruncated
		}
		switch data[0] {
		case jsonLiteralNull:
			return nil, nil
		case jsonLiteralTrue:
			return true, nil
		case jsonLiteralFalse:
			return false, nil
		}
		return nil, errors.Errorf("invalid json literal 0x%02x", data[0])
	case jsonInt16, jsonUint16:
		if len(data) < 2 {
			return nil, errJSONTruncated
		}
		v := binary.LittleEndian.Uint16(data)
		if t == jsonInt16 {
			return int64(int16(v)), nil
		}
		return uint64(v), nil
	case jsonInt32, jsonUint32:
		if len(data) < 4 {
			return nil, errJSONTruncated
		}
		v := binary.LittleEndian.Uint32(data)
		if t == jsonInt32 {
			return int64(int32(v)), nil
		}
		return uint64(v), nil
	case jsonInt64, jsonUint64, jsonDouble:
		if len(data) < 8 {
			return nil, errJSONTruncated
		}
		v := binary.LittleEndian.Uint64(data)
		switch t {
		case jsonInt64:
			return int64(v), nil
		case jsonDouble:
			return math.Float64frombits(v), nil
		}
		return v, nil
	case jsonString:
		n, rest, err := d.varLength(data)
		if err != nil {
			return nil, err
		}
		if uint64(len(rest)) < n {
			return nil, errJSONTruncated
		}
		return string(rest[:n]), nil
	case jsonOpaque:
		return d.opaque(data)
	}
	return nil, errors.Errorf("invalid json value type 0x%02x", t)
}

// container decodes an object or array. Offsets inside it are relative
// to data, which starts at the element count.
func (d *jsonDecoder) container(data []byte, large, object bool) (interface{}, error) {
	size := 2
	if large {
		size = 4
	}
	readUint := func(off int) (int, bool) {
		if off+size > len(data) {
			return 0, false
		}
		if large {
			return int(binary.LittleEndian.Uint32(data[off:])), true
		}
		return int(binary.LittleEndian.Uint16(data[off:])), true
	}

	count, ok := readUint(0)
	if !ok {
		return nil, errJSONTruncated
	}
	total, ok := readUint(size)
	if !ok || total > len(data) {
		return nil, errJSONTruncated
	}
	off := 2 * size

	var keys []string
	if object {
		keys = make([]string, count)
		for i := range keys {
			keyOff, ok := readUint(off)
			if !ok || off+size+2 > len(data) {
				return nil, errJSONTruncated
			}
			keyLen := int(binary.LittleEndian.Uint16(data[off+size:]))
			off += size + 2
			if keyOff+keyLen > len(data) {
				return nil, errJSONTruncated
			}
			keys[i] = string(data[keyOff : keyOff+keyLen])
		}
	}

	values := make([]interface{}, count)
	for i := range values {
		if off+1+size > len(data) {
			return nil, errJSONTruncated
		}
		t := data[off]
		var (
			v   interface{}
			err error
		)
		if d.inlined(t, large) {
			v, err = d.value(t, data[off+1:off+1+size])
		} else {
			valueOff, _ := readUint(off + 1)
			if valueOff >= len(data) {
				return nil, errJSONTruncated
			}
			v, err = d.value(t, data[valueOff:])
		}
		if err != nil {
			return nil, err
		}
		values[i] = v
		off += 1 + size
	}

	if !object {
		return values, nil
	}
	obj := make(map[string]interface{}, count)
	for i, k := range keys {
		obj[k] = values[i]
	}
	return obj, nil
}

func (d *jsonDecoder) inlined(t byte, large bool) bool {
	switch t {
	case jsonLiteral, jsonInt16, jsonUint16:
		return true
	case jsonInt32, jsonUint32:
		return large
	}
	return false
}

// varLength reads the 7 bits per byte length used by strings and opaque
// values.
func (d *jsonDecoder) varLength(data []byte) (uint64, []byte, error) {
	var n uint64
	for i := 0; i < 5; i++ {
		if i >= len(data) {
			return 0, nil, errJSONTruncated
		}
		n |= uint64(data[i]&0x7f) << (7 * uint(i))
		if data[i]&0x80 == 0 {
			return n, data[i+1:], nil
		}
	}
	return 0, nil, errors.New("invalid json variable length")
}

func (d *jsonDecoder) opaque(data []byte) (interface{}, error) {
	if len(data) < 1 {
		return nil, errJSONTruncated
	}
	t := data[0]
	n, rest, err := d.varLength(data[1:])
	if err != nil {
		return nil, err
	}
	if uint64(len(rest)) < n {
		return nil, errJSONTruncated
	}
	rest = rest[:n]

	switch t {
	case MYSQL_TYPE_NEWDECIMAL:
		if len(rest) < 2 {
			return nil, errJSONTruncated
		}
		raw := append([]byte(nil), rest[2:]...)
		return decodeDecimalBytes(raw, int(rest[0]), int(rest[1]))
	case MYSQL_TYPE_TIME:
		if len(rest) < 8 {
			return nil, errJSONTruncated
		}
		return packedTime(int64(binary.LittleEndian.Uint64(rest))), nil
	case MYSQL_TYPE_DATE, MYSQL_TYPE_DATETIME, MYSQL_TYPE_TIMESTAMP:
		if len(rest) < 8 {
			return nil, errJSONTruncated
		}
		return packedDatetime(int64(binary.LittleEndian.Uint64(rest))), nil
	}
	return append([]byte(nil), rest...), nil
}

// packedDatetime converts MySQL's in-memory packed datetime, ymd:17 hms:17
// above 24 bits of microseconds.
func packedDatetime(packed int64) time.Time {
	if packed < 0 {
		packed = -packed
	}
	v, usec := packed>>24, packed%(1<<24)
	ymd, hms := v>>17, v%(1<<17)
	ym := ymd >> 5
	return makeDate(int(ym/13), int(ym%13), int(ymd%(1<<5)),
		int(hms>>12), int(hms>>6%(1<<6)), int(hms%(1<<6)), int(usec))
}

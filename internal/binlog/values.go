package binlog

import (
	"fmt"
	"strings"
	"time"

	"github.com/pingcap/errors"
	"github.com/shopspring/decimal"
)

const (
	datetimeIntOffset = 0x8000000000
	timeIntOffset     = 0x800000
	timeOffset        = 0x800000000000
	binaryCharset     = 63
)

func (rb *RowsBuffer) decodeValue(col *Column) (interface{}, error) {
	buf := rb.buf
	meta := col.Meta
	switch col.RealType() {
	case MYSQL_TYPE_TINY:
		if col.Unsigned {
			return buf.Uint8(), nil
		}
		return buf.Int8(), nil
	case MYSQL_TYPE_SHORT:
		if col.Unsigned {
			return buf.Uint16(), nil
		}
		return buf.Int16(), nil
	case MYSQL_TYPE_INT24:
		if col.Unsigned {
			return buf.Uint24(), nil
		}
		return buf.Int24(), nil
	case MYSQL_TYPE_LONG:
		if col.Unsigned {
			return buf.Uint32(), nil
		}
		return buf.Int32(), nil
	case MYSQL_TYPE_LONGLONG:
		if col.Unsigned {
			return buf.Uint64(), nil
		}
		return buf.Int64(), nil
	case MYSQL_TYPE_FLOAT:
		return buf.Float32(), nil
	case MYSQL_TYPE_DOUBLE:
		return buf.Float64(), nil
	case MYSQL_TYPE_NEWDECIMAL:
		return decodeDecimal(buf, int(meta>>8), int(meta&0xff))
	case MYSQL_TYPE_YEAR:
		if v := int(buf.Uint8()); v != 0 {
			return 1900 + v, nil
		}
		return 0, nil
	case MYSQL_TYPE_DATE, MYSQL_TYPE_NEWDATE:
		v := buf.Uint24()
		return makeDate(int(v>>9), int(v>>5&15), int(v&31), 0, 0, 0, 0), nil
	case MYSQL_TYPE_TIME:
		return decodeTime(int64(buf.Int24())), nil
	case MYSQL_TYPE_TIME2:
		return decodeTime2(buf, int(meta)), nil
	case MYSQL_TYPE_TIMESTAMP:
		if sec := buf.Uint32(); sec != 0 {
			return time.Unix(int64(sec), 0).UTC(), nil
		}
		return time.Time{}, nil
	case MYSQL_TYPE_TIMESTAMP2:
		sec := buf.BeUint32()
		usec := readFraction(buf, int(meta))
		if sec == 0 && usec == 0 {
			return time.Time{}, nil
		}
		return time.Unix(int64(sec), usec*1000).UTC(), nil
	case MYSQL_TYPE_DATETIME:
		return decodeDatetime(buf.Uint64()), nil
	case MYSQL_TYPE_DATETIME2:
		return decodeDatetime2(buf, int(meta)), nil
	case MYSQL_TYPE_BIT:
		nbits := int(meta>>8)*8 + int(meta&0xff)
		return buf.BeUintN(bitmapSize(nbits)), nil
	case MYSQL_TYPE_ENUM:
		idx := int(buf.UintN(int(meta & 0xff)))
		if idx > 0 && idx <= len(col.EnumValues) {
			return col.EnumValues[idx-1], nil
		}
		return int64(idx), nil
	case MYSQL_TYPE_SET:
		bits := buf.UintN(int(meta & 0xff))
		if len(col.SetValues) == 0 {
			return bits, nil
		}
		var names []string
		for i, name := range col.SetValues {
			if bits&(1<<uint(i)) != 0 {
				names = append(names, name)
			}
		}
		return strings.Join(names, ","), nil
	case MYSQL_TYPE_STRING:
		maxLen := int((((meta >> 4) & 0x300) ^ 0x300) + (meta & 0xff))
		return rb.text(col, buf.Bytes(lengthPrefixed(buf, maxLen)), true)
	case MYSQL_TYPE_VARCHAR, MYSQL_TYPE_VAR_STRING:
		return rb.text(col, buf.Bytes(lengthPrefixed(buf, int(meta))), true)
	case MYSQL_TYPE_BLOB, MYSQL_TYPE_TINY_BLOB, MYSQL_TYPE_MEDIUM_BLOB, MYSQL_TYPE_LONG_BLOB:
		data := buf.Bytes(int(buf.UintN(int(meta))))
		return rb.text(col, data, false)
	case MYSQL_TYPE_GEOMETRY:
		return buf.CopyBytes(int(buf.UintN(int(meta)))), nil
	case MYSQL_TYPE_JSON:
		data := buf.Bytes(int(buf.UintN(int(meta))))
		if len(data) == 0 {
			return nil, buf.Err()
		}
		if rb.json == nil {
			rb.json = &jsonDecoder{}
		}
		return rb.json.decode(data)
	}
	return nil, errors.Annotatef(ErrUnsupportedType, "type 0x%02x", col.RealType())
}

// lengthPrefixed reads the 1 or 2 byte length of a string column whose
// declared maximum is maxLen bytes.
func lengthPrefixed(buf *LogBuffer, maxLen int) int {
	if maxLen > 255 {
		return int(buf.Uint16())
	}
	return int(buf.Uint8())
}

// text turns a string or blob cell into a string using the column
// charset. Binary data, and blobs without logged charset, stay bytes.
func (rb *RowsBuffer) text(col *Column, data []byte, char bool) (interface{}, error) {
	if err := rb.buf.Err(); err != nil {
		return nil, err
	}
	switch {
	case col.Charset == binaryCharset, col.Charset == 0 && !char:
		out := make([]byte, len(data))
		copy(out, data)
		return out, nil
	case col.Charset == 0:
		return decodeTextNamed(data, rb.charset)
	}
	return decodeText(data, col.Charset)
}

var dig2bytes = [10]int{0, 1, 1, 2, 2, 3, 3, 4, 4, 4}

const digitsPerInteger = 9

func decimalBinarySize(precision, scale int) int {
	intg := precision - scale
	intg0, frac0 := intg/digitsPerInteger, scale/digitsPerInteger
	return intg0*4 + dig2bytes[intg-intg0*digitsPerInteger] + frac0*4 + dig2bytes[scale-frac0*digitsPerInteger]
}

func decodeDecimal(buf *LogBuffer, precision, scale int) (decimal.Decimal, error) {
	if precision < scale || scale < 0 {
		return decimal.Decimal{}, errors.Errorf("invalid decimal precision %d scale %d", precision, scale)
	}
	raw := buf.CopyBytes(decimalBinarySize(precision, scale))
	if err := buf.Err(); err != nil {
		return decimal.Decimal{}, err
	}
	return decodeDecimalBytes(raw, precision, scale)
}

// decodeDecimalBytes decodes MySQL's binary decimal: groups of nine
// digits in four big-endian bytes, a shorter leading and trailing group,
// the sign in the inverted top bit and negatives stored complemented.
// raw is modified.
func decodeDecimalBytes(raw []byte, precision, scale int) (decimal.Decimal, error) {
	if len(raw) == 0 || len(raw) < decimalBinarySize(precision, scale) {
		return decimal.Decimal{}, errors.Annotate(ErrOutOfBounds, "decimal")
	}
	negative := raw[0]&0x80 == 0
	raw[0] ^= 0x80
	if negative {
		for i := range raw {
			raw[i] ^= 0xff
		}
	}
	intg := precision - scale
	intg0, intg0x := intg/digitsPerInteger, intg%digitsPerInteger
	frac0, frac0x := scale/digitsPerInteger, scale%digitsPerInteger

	var sb strings.Builder
	if negative {
		sb.WriteByte('-')
	}
	pos := 0
	group := func(n, width int) {
		fmt.Fprintf(&sb, "%0*d", width, beUint(raw[pos:pos+n]))
		pos += n
	}
	sb.WriteByte('0')
	if intg0x > 0 {
		group(dig2bytes[intg0x], intg0x)
	}
	for i := 0; i < intg0; i++ {
		group(4, digitsPerInteger)
	}
	if scale > 0 {
		sb.WriteByte('.')
		for i := 0; i < frac0; i++ {
			group(4, digitsPerInteger)
		}
		if frac0x > 0 {
			group(dig2bytes[frac0x], frac0x)
		}
	}
	d, err := decimal.NewFromString(sb.String())
	if err != nil {
		return decimal.Decimal{}, errors.Trace(err)
	}
	return d, nil
}

// readFraction reads the fractional seconds of a temporal2 value as
// microseconds.
func readFraction(buf *LogBuffer, fsp int) int64 {
	switch fsp {
	case 1, 2:
		return int64(buf.Uint8()) * 10000
	case 3, 4:
		return int64(buf.BeUint16()) * 100
	case 5, 6:
		return int64(buf.BeUint24())
	}
	return 0
}

func makeDate(year, month, day, hour, min, sec, usec int) time.Time {
	if year == 0 || month == 0 || day == 0 {
		return time.Time{}
	}
	return time.Date(year, time.Month(month), day, hour, min, sec, usec*1000, time.UTC)
}

func decodeDatetime(v uint64) time.Time {
	d, t := v/1000000, v%1000000
	return makeDate(int(d/10000), int(d/100%100), int(d%100), int(t/10000), int(t/100%100), int(t%100), 0)
}

func decodeDatetime2(buf *LogBuffer, fsp int) time.Time {
	v := int64(buf.BeUint40()) - datetimeIntOffset
	usec := readFraction(buf, fsp)
	if v < 0 {
		v = -v
	}
	ymd, hms := v>>17, v%(1<<17)
	ym := ymd >> 5
	return makeDate(int(ym/13), int(ym%13), int(ymd%(1<<5)),
		int(hms>>12), int(hms>>6%(1<<6)), int(hms%(1<<6)), int(usec))
}

// decodeTime decodes the old TIME format, HHMMSS as a signed integer.
func decodeTime(v int64) time.Duration {
	sign := time.Duration(1)
	if v < 0 {
		sign, v = -1, -v
	}
	return sign * (time.Duration(v/10000)*time.Hour +
		time.Duration(v/100%100)*time.Minute +
		time.Duration(v%100)*time.Second)
}

func decodeTime2(buf *LogBuffer, fsp int) time.Duration {
	var packed int64
	switch fsp {
	case 1, 2:
		intPart := int64(buf.BeUint24()) - timeIntOffset
		frac := int64(buf.Uint8())
		if intPart < 0 && frac != 0 {
			intPart++
			frac -= 0x100
		}
		packed = intPart<<24 + frac*10000
	case 3, 4:
		intPart := int64(buf.BeUint24()) - timeIntOffset
		frac := int64(buf.BeUint16())
		if intPart < 0 && frac != 0 {
			intPart++
			frac -= 0x10000
		}
		packed = intPart<<24 + frac*100
	case 5, 6:
		packed = int64(buf.BeUint48()) - timeOffset
	default:
		packed = (int64(buf.BeUint24()) - timeIntOffset) << 24
	}
	return packedTime(packed)
}

// packedTime converts MySQL's packed time, hour:10 minute:6 second:6
// above 24 bits of microseconds, into a duration.
func packedTime(packed int64) time.Duration {
	sign := time.Duration(1)
	if packed < 0 {
		sign, packed = -1, -packed
	}
	hms, usec := packed>>24, packed%(1<<24)
	return sign * (time.Duration(hms>>12%(1<<10))*time.Hour +
		time.Duration(hms>>6%(1<<6))*time.Minute +
		time.Duration(hms%(1<<6))*time.Second +
		time.Duration(usec)*time.Microsecond)
}

package binlog

import (
	"strings"

	"github.com/pingcap/errors"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
	"golang.org/x/text/encoding/unicode"
)

// collation id to charset name, for the collations a server logs
var collationCharsets = map[int]string{
	1: "big5", 4: "cp850", 7: "koi8r", 8: "latin1", 9: "latin2", 11: "ascii",
	12: "ujis", 13: "sjis", 16: "hebrew", 19: "euckr", 22: "koi8u", 24: "gb2312",
	25: "greek", 26: "cp1250", 28: "gbk", 30: "latin5", 33: "utf8", 35: "ucs2",
	36: "cp866", 40: "cp852", 41: "latin7", 45: "utf8mb4", 46: "utf8mb4",
	47: "latin1", 48: "latin1", 49: "latin1", 51: "cp1251", 54: "utf16", 55: "utf16",
	56: "utf16le", 57: "cp1256", 59: "cp1257", 63: "binary", 83: "utf8", 84: "big5",
	85: "euckr", 86: "gb2312", 87: "gbk", 88: "sjis", 91: "ujis", 94: "latin1",
	95: "cp932", 97: "eucjpms", 248: "gb18030", 249: "gb18030", 250: "gb18030",
}

// CharsetName returns the charset of a collation id.
func CharsetName(collation int) string {
	if name, ok := collationCharsets[collation]; ok {
		return name
	}
	switch {
	case collation >= 101 && collation <= 124:
		return "utf16"
	case collation >= 128 && collation <= 151:
		return "ucs2"
	case collation >= 160 && collation <= 183:
		return "utf32"
	case collation >= 192 && collation <= 215:
		return "utf8"
	case collation >= 224 && collation <= 247, collation >= 255 && collation <= 323:
		return "utf8mb4"
	}
	return ""
}

func encodingOf(charset string) encoding.Encoding {
	switch strings.ToLower(charset) {
	case "latin1":
		return charmap.Windows1252
	case "latin2":
		return charmap.ISO8859_2
	case "latin5":
		return charmap.ISO8859_9
	case "latin7":
		return charmap.ISO8859_13
	case "greek":
		return charmap.ISO8859_7
	case "hebrew":
		return charmap.ISO8859_8
	case "koi8r":
		return charmap.KOI8R
	case "koi8u":
		return charmap.KOI8U
	case "cp850":
		return charmap.CodePage850
	case "cp852":
		return charmap.CodePage852
	case "cp866":
		return charmap.CodePage866
	case "cp1250":
		return charmap.Windows1250
	case "cp1251":
		return charmap.Windows1251
	case "cp1256":
		return charmap.Windows1256
	case "cp1257":
		return charmap.Windows1257
	case "gbk", "gb2312":
		return simplifiedchinese.GBK
	case "gb18030":
		return simplifiedchinese.GB18030
	case "big5":
		return traditionalchinese.Big5
	case "sjis", "cp932":
		return japanese.ShiftJIS
	case "ujis", "eucjpms":
		return japanese.EUCJP
	case "euckr":
		return korean.EUCKR
	case "ucs2", "utf16":
		return unicode.UTF16(unicode.BigEndian, unicode.IgnoreBOM)
	case "utf16le":
		return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
	}
	return nil
}

// decodeText converts data in the charset of collation to a string.
func decodeText(data []byte, collation int) (string, error) {
	return decodeTextNamed(data, CharsetName(collation))
}

// decodeTextNamed converts data in charset to a string. utf8, ascii and
// unknown charsets are taken as is.
func decodeTextNamed(data []byte, charset string) (string, error) {
	enc := encodingOf(charset)
	if enc == nil {
		return string(data), nil
	}
	out, err := enc.NewDecoder().Bytes(data)
	if err != nil {
		return "", errors.Annotatef(err, "decode %s text", charset)
	}
	return string(out), nil
}

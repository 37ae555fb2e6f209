package binlog

import (
	"strconv"
	"strings"

	"github.com/pingcap/errors"
)

// checksum algorithms
const (
	BINLOG_CHECKSUM_ALG_OFF   uint8 = 0
	BINLOG_CHECKSUM_ALG_CRC32 uint8 = 1
	BINLOG_CHECKSUM_ALG_UNDEF uint8 = 255

	BINLOG_CHECKSUM_LEN = 4
)

const (
	serverVersionLen = 50
	// checksumVersion is the first server version that writes the checksum
	// algorithm into the format description event.
	checksumVersion = 5<<16 | 6<<8 | 1
)

// FormatDescriptionEvent is written to the beginning of the each binary
// log file. It describes the header lengths of every other event.
//
// https://dev.mysql.com/doc/internals/en/format-description-event.html
type FormatDescriptionEvent struct {
	BinlogVersion      uint16
	ServerVersion      string
	CreateTimestamp    uint32
	CommonHeaderLength uint8
	PostHeaderLengths  []byte
	ChecksumAlg        uint8
}

// v4 post header lengths, indexed by event type - 1
var defaultPostHeaderLengths = []byte{
	56, 13, 0, 8, 0, 18, 0, 4, 4, 4, // START_EVENT_V3 .. EXEC_LOAD_EVENT
	4, 18, 0, 0, 84, 0, 4, 26, 8, 8, // DELETE_FILE_EVENT .. WRITE_ROWS_EVENTv0
	8, 8, 8, 8, 8, 2, 0, 0, 0, 10, // UPDATE_ROWS_EVENTv0 .. WRITE_ROWS_EVENTv2
	10, 10, 42, 42, 0, 18, 52, 0, 10, 40, // UPDATE_ROWS_EVENTv2 .. TRANSACTION_PAYLOAD_EVENT
	0, // HEARTBEAT_LOG_EVENT_V2
}

// NewFormatDescription returns the descriptor assumed before the stream's
// own format description event arrives.
func NewFormatDescription(binlogVersion uint16, checksumAlg uint8) *FormatDescriptionEvent {
	fde := &FormatDescriptionEvent{BinlogVersion: binlogVersion, ChecksumAlg: checksumAlg}
	switch binlogVersion {
	case 1:
		fde.ServerVersion = "3.23"
		fde.CommonHeaderLength = OLD_HEADER_LEN
		fde.PostHeaderLengths = []byte{0, 11, 0, 0, 0, 18, 0, 4, 4, 4, 4, 18, 0, 0, 0}
	case 3:
		fde.ServerVersion = "4.0"
		fde.CommonHeaderLength = LOG_EVENT_HEADER_LEN
		fde.PostHeaderLengths = []byte{56, 11, 0, 8, 0, 18, 0, 4, 4, 4, 4, 18, 0, 0, 0}
	default:
		fde.BinlogVersion = 4
		fde.ServerVersion = "5.0"
		fde.CommonHeaderLength = LOG_EVENT_HEADER_LEN
		fde.PostHeaderLengths = append([]byte(nil), defaultPostHeaderLengths...)
	}
	return fde
}

func (e *FormatDescriptionEvent) decode(buf *LogBuffer) error {
	e.BinlogVersion = buf.Uint16()
	e.ServerVersion = buf.FixString(serverVersionLen)
	if i := strings.IndexByte(e.ServerVersion, 0); i != -1 {
		e.ServerVersion = e.ServerVersion[:i]
	}
	e.CreateTimestamp = buf.Uint32()
	e.CommonHeaderLength = buf.Uint8()
	if err := buf.Err(); err != nil {
		return errors.Trace(err)
	}
	if e.CommonHeaderLength < OLD_HEADER_LEN {
		return errors.Annotatef(ErrEventLength, "common header length %d", e.CommonHeaderLength)
	}
	n := buf.Remaining()
	e.ChecksumAlg = BINLOG_CHECKSUM_ALG_UNDEF
	if versionProduct(e.ServerVersion) >= checksumVersion {
		n -= 1 + BINLOG_CHECKSUM_LEN
		e.ChecksumAlg = buf.Uint8At(buf.Position() + n)
	}
	e.PostHeaderLengths = buf.CopyBytes(n)
	buf.SetPosition(buf.Limit())
	return errors.Trace(buf.Err())
}

// PostHeaderLength returns the post header length announced for t, or def
// when the descriptor does not cover t.
func (e *FormatDescriptionEvent) PostHeaderLength(t EventType, def int) int {
	if t > 0 && int(t) <= len(e.PostHeaderLengths) {
		return int(e.PostHeaderLengths[t-1])
	}
	return def
}

func (e *FormatDescriptionEvent) HasChecksum() bool {
	return e.ChecksumAlg == BINLOG_CHECKSUM_ALG_CRC32
}

// versionProduct turns "8.0.32-log" into 8<<16 | 0<<8 | 32.
func versionProduct(v string) int {
	parts := strings.SplitN(v, ".", 3)
	product := 0
	for i := 0; i < 3; i++ {
		n := 0
		if i < len(parts) {
			digits := parts[i]
			end := 0
			for end < len(digits) && digits[end] >= '0' && digits[end] <= '9' {
				end++
			}
			n, _ = strconv.Atoi(digits[:end])
		}
		product = product<<8 | n
	}
	return product
}

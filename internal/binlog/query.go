package binlog

import (
	"strings"

	"github.com/pingcap/errors"
)

const (
	// QUERY_HEADER_MINIMAL_LEN is the v1/v3 query post header, without
	// the status vars length.
	QUERY_HEADER_MINIMAL_LEN = 4 + 4 + 1 + 2
	// QUERY_HEADER_LEN is the v4 query post header.
	QUERY_HEADER_LEN = QUERY_HEADER_MINIMAL_LEN + 2
	// EXECUTE_LOAD_QUERY_EXTRA_HEADER_LEN follows the query post header.
	EXECUTE_LOAD_QUERY_EXTRA_HEADER_LEN = 4 + 4 + 4 + 1
)

// query status variable codes
const (
	Q_FLAGS2_CODE                     = 0
	Q_SQL_MODE_CODE                   = 1
	Q_CATALOG_CODE                    = 2
	Q_AUTO_INCREMENT                  = 3
	Q_CHARSET_CODE                    = 4
	Q_TIME_ZONE_CODE                  = 5
	Q_CATALOG_NZ_CODE                 = 6
	Q_LC_TIME_NAMES_CODE              = 7
	Q_CHARSET_DATABASE_CODE           = 8
	Q_TABLE_MAP_FOR_UPDATE_CODE       = 9
	Q_MASTER_DATA_WRITTEN_CODE        = 10
	Q_INVOKER                         = 11
	Q_UPDATED_DB_NAMES                = 12
	Q_MICROSECONDS                    = 13
	Q_COMMIT_TS                       = 14
	Q_COMMIT_TS2                      = 15
	Q_EXPLICIT_DEFAULTS_FOR_TIMESTAMP = 16
	Q_DDL_LOGGED_WITH_XID             = 17
	Q_DEFAULT_COLLATION_FOR_UTF8MB4   = 18
	Q_SQL_REQUIRE_PRIMARY_KEY         = 19
	Q_DEFAULT_TABLE_ENCRYPTION        = 20
)

// OVER_MAX_DBS_IN_EVENT_MTS marks an updated db list that was too long
// to log.
const OVER_MAX_DBS_IN_EVENT_MTS = 254

// QueryEvent is written for statements logged as text, including DDL
// and the BEGIN of every transaction.
//
// https://dev.mysql.com/doc/internals/en/query-event.html
type QueryEvent struct {
	SlaveProxyID  uint32
	ExecutionTime uint32
	ErrorCode     uint16
	StatusVars    []byte
	Schema        string
	Query         string

	// decoded from StatusVars
	Flags2            uint32
	SQLMode           uint64
	Catalog           string
	AutoIncrement     [2]uint16
	ClientCharset     uint16
	ConnectionCharset uint16
	ServerCharset     uint16
	TimeZone          string
	UpdatedDBs        []string
	DDLXid            uint64

	raw []byte
}

// decode reads a query event body. extra, when set, reads the fields a
// specialization appends to the fixed post header.
func (e *QueryEvent) decode(buf *LogBuffer, postHeaderLen int, extra func(*LogBuffer)) error {
	start := buf.Position()
	e.SlaveProxyID = buf.Uint32()
	e.ExecutionTime = buf.Uint32()
	dbLen := int(buf.Uint8())
	e.ErrorCode = buf.Uint16()
	statusLen := 0
	if postHeaderLen > QUERY_HEADER_MINIMAL_LEN {
		statusLen = int(buf.Uint16())
	}
	if extra != nil {
		extra(buf)
	}
	buf.SetPosition(start + postHeaderLen)
	e.StatusVars = buf.CopyBytes(statusLen)
	e.Schema = buf.FixString(dbLen)
	buf.Forward(1)
	e.raw = buf.CopyBytes(buf.Remaining())
	if err := buf.Err(); err != nil {
		return errors.Annotate(err, "decode query event")
	}
	e.decodeStatusVars()
	text, err := decodeText(e.raw, int(e.ClientCharset))
	if err != nil {
		return errors.Trace(err)
	}
	e.Query = text
	return nil
}

// decodeStatusVars stops at the first code it does not know, since the
// length of an unknown value cannot be derived.
func (e *QueryEvent) decodeStatusVars() {
	sv := WrapBuffer(e.StatusVars)
	for sv.HasRemaining() && sv.Err() == nil {
		switch sv.Uint8() {
		case Q_FLAGS2_CODE:
			e.Flags2 = sv.Uint32()
		case Q_SQL_MODE_CODE:
			e.SQLMode = sv.Uint64()
		case Q_CATALOG_CODE:
			e.Catalog = sv.LenString()
			sv.Forward(1)
		case Q_AUTO_INCREMENT:
			e.AutoIncrement[0] = sv.Uint16()
			e.AutoIncrement[1] = sv.Uint16()
		case Q_CHARSET_CODE:
			e.ClientCharset = sv.Uint16()
			e.ConnectionCharset = sv.Uint16()
			e.ServerCharset = sv.Uint16()
		case Q_TIME_ZONE_CODE:
			e.TimeZone = sv.LenString()
		case Q_CATALOG_NZ_CODE:
			e.Catalog = sv.LenString()
		case Q_LC_TIME_NAMES_CODE, Q_CHARSET_DATABASE_CODE, Q_DEFAULT_COLLATION_FOR_UTF8MB4:
			sv.Forward(2)
		case Q_TABLE_MAP_FOR_UPDATE_CODE:
			sv.Forward(8)
		case Q_MASTER_DATA_WRITTEN_CODE:
			sv.Forward(4)
		case Q_INVOKER:
			sv.LenString()
			sv.LenString()
		case Q_UPDATED_DB_NAMES:
			n := int(sv.Uint8())
			if n == OVER_MAX_DBS_IN_EVENT_MTS {
				continue
			}
			for i := 0; i < n && sv.Err() == nil; i++ {
				e.UpdatedDBs = append(e.UpdatedDBs, sv.NullString())
			}
		case Q_MICROSECONDS:
			sv.Forward(3)
		case Q_EXPLICIT_DEFAULTS_FOR_TIMESTAMP, Q_SQL_REQUIRE_PRIMARY_KEY, Q_DEFAULT_TABLE_ENCRYPTION:
			sv.Forward(1)
		case Q_DDL_LOGGED_WITH_XID:
			e.DDLXid = sv.Uint64()
		default:
			return
		}
	}
}

// IsTransactionBegin reports the BEGIN written ahead of row events.
func (e *QueryEvent) IsTransactionBegin() bool {
	return strings.EqualFold(strings.TrimSpace(e.Query), "BEGIN")
}

// LOAD DATA duplicate handling
const (
	LOAD_DUP_ERROR   uint8 = 0
	LOAD_DUP_IGNORE  uint8 = 1
	LOAD_DUP_REPLACE uint8 = 2
)

// ExecuteLoadQueryEvent is a LOAD DATA statement whose file name span
// is replaced by the file assembled from the preceding block events.
type ExecuteLoadQueryEvent struct {
	QueryEvent
	FileID      uint32
	FnPosStart  uint32
	FnPosEnd    uint32
	DupHandling uint8
}

func (e *ExecuteLoadQueryEvent) decode(buf *LogBuffer, postHeaderLen int) error {
	err := e.QueryEvent.decode(buf, postHeaderLen, func(buf *LogBuffer) {
		e.FileID = buf.Uint32()
		e.FnPosStart = buf.Uint32()
		e.FnPosEnd = buf.Uint32()
		e.DupHandling = buf.Uint8()
	})
	if err != nil {
		return err
	}
	n := uint32(len(e.raw))
	if e.FnPosStart > n || e.FnPosEnd > n || e.FnPosStart > e.FnPosEnd || e.DupHandling > LOAD_DUP_REPLACE {
		return errors.Annotatef(ErrInvalidLoadQuery, "query length %d, fn pos %d..%d, dup handling %d",
			n, e.FnPosStart, e.FnPosEnd, e.DupHandling)
	}
	return nil
}

// Filename returns the trimmed file name span of the query.
func (e *ExecuteLoadQueryEvent) Filename() string {
	return strings.TrimSpace(string(e.raw[e.FnPosStart:e.FnPosEnd]))
}

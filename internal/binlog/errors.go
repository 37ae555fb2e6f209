package binlog

import "github.com/pingcap/errors"

var (
	// ErrOutOfBounds is returned when a read crosses the buffer limit.
	ErrOutOfBounds = errors.New("binlog: read out of bounds")
	// ErrEventLength is returned when an event does not consume exactly its declared length.
	ErrEventLength = errors.New("binlog: event length mismatch")
	// ErrBadMagic is returned by file fetchers for files without the binlog header.
	ErrBadMagic = errors.New("binlog: invalid file header")
	// ErrChecksum is returned when a CRC32 trailer does not match.
	ErrChecksum = errors.New("binlog: checksum mismatch")
	// ErrUnknownEvent is returned for unrecognized events that are not flagged ignorable.
	ErrUnknownEvent = errors.New("binlog: unknown event type")
	// ErrInvalidLoadQuery is returned for LOAD DATA events with bad substitution offsets.
	ErrInvalidLoadQuery = errors.New("binlog: invalid execute load query event")
	// ErrTableNotFound is returned when a rows event references a table id with no table map.
	ErrTableNotFound = errors.New("binlog: table map not found")
	// ErrColumnCount is returned when a rows event and its table map disagree on width.
	ErrColumnCount = errors.New("binlog: column count mismatch")
	// ErrTableNotFilled is returned when rows are read before FillTable.
	ErrTableNotFilled = errors.New("binlog: rows event table not filled")
	// ErrUnsupportedType is returned for column types the row codec cannot decode.
	ErrUnsupportedType = errors.New("binlog: unsupported column type")
)

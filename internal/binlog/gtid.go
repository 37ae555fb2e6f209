package binlog

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
)

// GTIDEvent precedes every transaction when gtid_mode is on.
// ANONYMOUS_GTID_EVENT shares the layout with a zero SID.
type GTIDEvent struct {
	CommitFlag     bool
	SID            uuid.UUID
	GNO            int64
	LogicalClock   bool
	LastCommitted  int64
	SequenceNumber int64
	// ImmediateCommitTimestamp is in microseconds, zero before 8.0.1.
	ImmediateCommitTimestamp uint64
	OriginalCommitTimestamp  uint64
	TransactionLength        uint64
}

const logicalTimestampTypeCode = 2

func (e *GTIDEvent) decode(buf *LogBuffer) error {
	e.CommitFlag = buf.Uint8() != 0
	sid, err := uuid.FromBytes(buf.Bytes(16))
	if buf.Err() != nil {
		return buf.Err()
	}
	if err != nil {
		return err
	}
	e.SID = sid
	e.GNO = buf.Int64()
	if buf.Remaining() >= 17 && buf.Uint8At(buf.Position()) == logicalTimestampTypeCode {
		buf.Forward(1)
		e.LogicalClock = true
		e.LastCommitted = buf.Int64()
		e.SequenceNumber = buf.Int64()
	}
	if buf.Remaining() >= 7 {
		ts := buf.Uint56()
		e.ImmediateCommitTimestamp = ts &^ (1 << 55)
		e.OriginalCommitTimestamp = e.ImmediateCommitTimestamp
		if ts&(1<<55) != 0 && buf.Remaining() >= 7 {
			e.OriginalCommitTimestamp = buf.Uint56()
		}
		if buf.HasRemaining() {
			e.TransactionLength = buf.PackedInt()
		}
	}
	buf.SetPosition(buf.Limit())
	return buf.Err()
}

// String formats the GTID as sid:gno.
func (e *GTIDEvent) String() string {
	return fmt.Sprintf("%s:%d", e.SID, e.GNO)
}

// GTIDInterval is a closed range of transaction numbers.
type GTIDInterval struct {
	Start int64
	End   int64
}

// PreviousGTIDsEvent lists the GTIDs executed before the current file.
type PreviousGTIDsEvent struct {
	Sets map[string][]GTIDInterval
	// order keeps sids in wire order for String.
	order []string
}

func (e *PreviousGTIDsEvent) decode(buf *LogBuffer) error {
	sids := buf.Uint64()
	if err := buf.Err(); err != nil {
		return err
	}
	// each sid takes 16 bytes plus its 8 byte interval count
	if sids > uint64(buf.Remaining()/24) {
		return errors.Annotatef(ErrEventLength, "previous gtids declares %d sids", sids)
	}
	n := int(sids)
	e.Sets = make(map[string][]GTIDInterval, n)
	for i := 0; i < n && buf.Err() == nil; i++ {
		sid, err := uuid.FromBytes(buf.Bytes(16))
		if buf.Err() != nil {
			break
		}
		if err != nil {
			return err
		}
		count := buf.Uint64()
		if buf.Err() != nil {
			break
		}
		if count > uint64(buf.Remaining()/16) {
			return errors.Annotatef(ErrEventLength, "sid %s declares %d intervals", sid, count)
		}
		intervals := make([]GTIDInterval, 0, count)
		for j := uint64(0); j < count; j++ {
			start := buf.Int64()
			end := buf.Int64()
			// stored half open
			intervals = append(intervals, GTIDInterval{Start: start, End: end - 1})
		}
		key := sid.String()
		e.Sets[key] = intervals
		e.order = append(e.order, key)
	}
	return buf.Err()
}

func (e *PreviousGTIDsEvent) String() string {
	parts := make([]string, 0, len(e.order))
	for _, sid := range e.order {
		var sb strings.Builder
		sb.WriteString(sid)
		for _, in := range e.Sets[sid] {
			if in.Start == in.End {
				fmt.Fprintf(&sb, ":%d", in.Start)
			} else {
				fmt.Fprintf(&sb, ":%d-%d", in.Start, in.End)
			}
		}
		parts = append(parts, sb.String())
	}
	return strings.Join(parts, ",")
}

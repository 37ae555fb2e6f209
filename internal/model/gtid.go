package model

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pingcap/errors"
)

// GTID 是 server uuid 到已执行事务区间的映射，区间为闭区间且有序
type GTID map[string][]*RangeGTID

type RangeGTID struct {
	Start int64
	End   int64
}

// ParseGTID 解析 map 形式的位点，例如 {"sid": ["1-5", "7-7"]}
func ParseGTID(pos map[string][]string) (GTID, error) {
	gtid := make(GTID, len(pos))
	for sid, ranges := range pos {
		for _, str := range ranges {
			start, end, err := parseRange(str)
			if err != nil {
				return nil, errors.Annotatef(err, "gtid %s", sid)
			}
			gtid.AddRange(sid, start, end)
		}
	}
	return gtid, nil
}

// ParseGTIDSet parses the text form used by gtid_executed,
// e.g. "3E11FA47-71CA-11E1-9E33-C80AA9429562:1-5:7,...".
func ParseGTIDSet(s string) (GTID, error) {
	gtid := GTID{}
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		fields := strings.Split(part, ":")
		sid, err := uuid.Parse(fields[0])
		if err != nil {
			return nil, errors.Annotatef(err, "gtid sid %q", fields[0])
		}
		if len(fields) < 2 {
			return nil, errors.Errorf("gtid %q has no interval", part)
		}
		for _, r := range fields[1:] {
			start, end, err := parseRange(r)
			if err != nil {
				return nil, errors.Annotatef(err, "gtid %q", part)
			}
			gtid.AddRange(sid.String(), start, end)
		}
	}
	return gtid, nil
}

func parseRange(s string) (int64, int64, error) {
	lo, hi, found := strings.Cut(s, "-")
	start, err := strconv.ParseInt(lo, 10, 64)
	if err != nil {
		return 0, 0, errors.Trace(err)
	}
	end := start
	if found {
		if end, err = strconv.ParseInt(hi, 10, 64); err != nil {
			return 0, 0, errors.Trace(err)
		}
	}
	if start <= 0 || end < start {
		return 0, 0, errors.Errorf("bad interval %q", s)
	}
	return start, end, nil
}

// Add 记录一个已执行的事务号
func (gtid GTID) Add(sid string, gno int64) {
	ranges := gtid[sid]
	// 顺序递增是最常见的情况
	if n := len(ranges); n > 0 {
		last := ranges[n-1]
		if gno >= last.Start && gno <= last.End {
			return
		}
		if last.End+1 == gno {
			last.End = gno
			return
		}
	}
	gtid.AddRange(sid, gno, gno)
}

// AddRange merges [start, end] into the set of sid.
func (gtid GTID) AddRange(sid string, start, end int64) {
	ranges := append(gtid[sid], &RangeGTID{Start: start, End: end})
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Start < ranges[j].Start })
	merged := make([]*RangeGTID, 0, len(ranges))
	for _, r := range ranges {
		if n := len(merged); n > 0 && r.Start <= merged[n-1].End+1 {
			if r.End > merged[n-1].End {
				merged[n-1].End = r.End
			}
			continue
		}
		merged = append(merged, &RangeGTID{Start: r.Start, End: r.End})
	}
	gtid[sid] = merged
}

func (gtid GTID) Contains(sid string, gno int64) bool {
	for _, r := range gtid[sid] {
		if gno >= r.Start && gno <= r.End {
			return true
		}
	}
	return false
}

func (gtid GTID) Clone() GTID {
	c := make(GTID, len(gtid))
	for sid, ranges := range gtid {
		cp := make([]*RangeGTID, len(ranges))
		for i, r := range ranges {
			cp[i] = &RangeGTID{Start: r.Start, End: r.End}
		}
		c[sid] = cp
	}
	return c
}

func (gtid GTID) ToMap() map[string]string {
	m := make(map[string]string, len(gtid))
	for k, v := range gtid {
		m[k] = k + formatRanges(v)
	}
	return m
}

// String 输出 MySQL 的文本格式，sid 排序后输出保证结果稳定
func (gtid GTID) String() string {
	sids := make([]string, 0, len(gtid))
	for k, v := range gtid {
		if len(v) > 0 {
			sids = append(sids, k)
		}
	}
	sort.Strings(sids)
	parts := make([]string, len(sids))
	for i, sid := range sids {
		parts[i] = sid + formatRanges(gtid[sid])
	}
	return strings.Join(parts, ",")
}

func formatRanges(ranges []*RangeGTID) string {
	var sb strings.Builder
	for _, r := range ranges {
		if r.Start == r.End {
			fmt.Fprintf(&sb, ":%d", r.Start)
		} else {
			fmt.Fprintf(&sb, ":%d-%d", r.Start, r.End)
		}
	}
	return sb.String()
}

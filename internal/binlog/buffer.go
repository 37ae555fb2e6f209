package binlog

import (
	"math"

	"github.com/pingcap/errors"
)

const (
	// DefaultInitialCapacity is the starting size of a fetch buffer.
	DefaultInitialCapacity = 8192
	// DefaultGrowthFactor is how much a buffer grows when it runs out of room.
	DefaultGrowthFactor = 2.0
)

// packed integer markers
const (
	nullLength   = 251
	packedUint16 = 0xfc
	packedUint24 = 0xfd
	packedUint64 = 0xfe
)

// LogBuffer is a growable byte array with a read position and a limit.
// Positions are relative to origin. Reads past the limit record a sticky
// error returned by Err and yield zero values.
type LogBuffer struct {
	buf    []byte
	origin int
	limit  int
	pos    int
	factor float64
	err    error
}

func NewLogBuffer(capacity int, factor float64) *LogBuffer {
	if capacity <= 0 {
		capacity = DefaultInitialCapacity
	}
	if factor <= 1 {
		factor = DefaultGrowthFactor
	}
	return &LogBuffer{buf: make([]byte, capacity), factor: factor}
}

// WrapBuffer returns a LogBuffer reading b. b is not copied.
func WrapBuffer(b []byte) *LogBuffer {
	return &LogBuffer{buf: b, limit: len(b), factor: DefaultGrowthFactor}
}

func (b *LogBuffer) Err() error     { return b.err }
func (b *LogBuffer) Position() int  { return b.pos }
func (b *LogBuffer) Limit() int     { return b.limit }
func (b *LogBuffer) Capacity() int  { return len(b.buf) }
func (b *LogBuffer) Remaining() int { return b.limit - b.pos }
func (b *LogBuffer) HasRemaining() bool {
	return b.pos < b.limit
}

// Reset empties the buffer and clears its error, keeping the storage.
func (b *LogBuffer) Reset() {
	b.origin, b.limit, b.pos, b.err = 0, 0, 0, nil
}

func (b *LogBuffer) SetPosition(pos int) *LogBuffer {
	if pos < 0 || pos > b.limit {
		b.fail(pos, 0)
		return b
	}
	b.pos = pos
	return b
}

// SetLimit shrinks or extends the readable window. It cannot go past capacity.
func (b *LogBuffer) SetLimit(limit int) *LogBuffer {
	if limit < 0 || b.origin+limit > len(b.buf) {
		b.fail(limit, 0)
		return b
	}
	b.limit = limit
	if b.pos > limit {
		b.pos = limit
	}
	return b
}

func (b *LogBuffer) Forward(n int) *LogBuffer {
	if b.check(b.pos, n) {
		b.pos += n
	}
	return b
}

func (b *LogBuffer) Rewind() *LogBuffer {
	b.pos = 0
	return b
}

// EnsureCapacity grows the underlying array to hold at least n bytes from
// origin. Written bytes and the read position survive the growth.
func (b *LogBuffer) EnsureCapacity(n int) {
	need := b.origin + n
	if need <= len(b.buf) {
		return
	}
	size := int(float64(len(b.buf)) * b.factor)
	if size < need {
		size = need
	}
	grown := make([]byte, size)
	copy(grown, b.buf)
	b.buf = grown
}

// Duplicate copies the next n bytes into an independent buffer and
// advances past them.
func (b *LogBuffer) Duplicate(n int) *LogBuffer {
	dup := b.DuplicateAt(b.pos, n)
	if b.err == nil {
		b.pos += n
	}
	return dup
}

// DuplicateAt copies n bytes starting at pos without moving the position.
func (b *LogBuffer) DuplicateAt(pos, n int) *LogBuffer {
	if !b.check(pos, n) {
		return &LogBuffer{factor: b.factor, err: b.err}
	}
	data := make([]byte, n)
	copy(data, b.buf[b.origin+pos:b.origin+pos+n])
	return &LogBuffer{buf: data, limit: n, factor: b.factor}
}

// Data returns the readable window without copying.
func (b *LogBuffer) Data() []byte {
	return b.buf[b.origin : b.origin+b.limit]
}

func (b *LogBuffer) check(pos, n int) bool {
	if b.err != nil {
		return false
	}
	if n < 0 || pos < 0 || pos+n > b.limit {
		b.fail(pos, n)
		return false
	}
	return true
}

func (b *LogBuffer) fail(pos, n int) {
	if b.err == nil {
		b.err = errors.Annotatef(ErrOutOfBounds, "read %d bytes at %d, limit %d", n, pos, b.limit)
	}
}

func (b *LogBuffer) at(pos, n int) []byte {
	if !b.check(pos, n) {
		return nil
	}
	return b.buf[b.origin+pos : b.origin+pos+n]
}

func (b *LogBuffer) next(n int) []byte {
	p := b.at(b.pos, n)
	if p != nil || n == 0 {
		b.pos += n
	}
	return p
}

func leUint(p []byte) uint64 {
	var v uint64
	for i := len(p) - 1; i >= 0; i-- {
		v = v<<8 | uint64(p[i])
	}
	return v
}

func beUint(p []byte) uint64 {
	var v uint64
	for _, c := range p {
		v = v<<8 | uint64(c)
	}
	return v
}

func signExtend(v uint64, bits uint) int64 {
	shift := 64 - bits
	return int64(v<<shift) >> shift
}

func (b *LogBuffer) Uint8() uint8   { return uint8(leUint(b.next(1))) }
func (b *LogBuffer) Int8() int8     { return int8(b.Uint8()) }
func (b *LogBuffer) Uint16() uint16 { return uint16(leUint(b.next(2))) }
func (b *LogBuffer) Int16() int16   { return int16(b.Uint16()) }
func (b *LogBuffer) Uint24() uint32 { return uint32(leUint(b.next(3))) }
func (b *LogBuffer) Int24() int32   { return int32(signExtend(leUint(b.next(3)), 24)) }
func (b *LogBuffer) Uint32() uint32 { return uint32(leUint(b.next(4))) }
func (b *LogBuffer) Int32() int32   { return int32(b.Uint32()) }
func (b *LogBuffer) Uint40() uint64 { return leUint(b.next(5)) }
func (b *LogBuffer) Uint48() uint64 { return leUint(b.next(6)) }
func (b *LogBuffer) Uint56() uint64 { return leUint(b.next(7)) }
func (b *LogBuffer) Uint64() uint64 { return leUint(b.next(8)) }
func (b *LogBuffer) Int64() int64   { return int64(b.Uint64()) }

// UintN reads an n byte little-endian unsigned integer, 0 <= n <= 8.
func (b *LogBuffer) UintN(n int) uint64 { return leUint(b.next(n)) }

func (b *LogBuffer) BeUint16() uint16     { return uint16(beUint(b.next(2))) }
func (b *LogBuffer) BeUint24() uint32     { return uint32(beUint(b.next(3))) }
func (b *LogBuffer) BeUint32() uint32     { return uint32(beUint(b.next(4))) }
func (b *LogBuffer) BeUint40() uint64     { return beUint(b.next(5)) }
func (b *LogBuffer) BeUint48() uint64     { return beUint(b.next(6)) }
func (b *LogBuffer) BeUintN(n int) uint64 { return beUint(b.next(n)) }

func (b *LogBuffer) Float32() float32 { return math.Float32frombits(b.Uint32()) }
func (b *LogBuffer) Float64() float64 { return math.Float64frombits(b.Uint64()) }

func (b *LogBuffer) Uint8At(pos int) uint8   { return uint8(leUint(b.at(pos, 1))) }
func (b *LogBuffer) Uint16At(pos int) uint16 { return uint16(leUint(b.at(pos, 2))) }
func (b *LogBuffer) Uint24At(pos int) uint32 { return uint32(leUint(b.at(pos, 3))) }
func (b *LogBuffer) Uint32At(pos int) uint32 { return uint32(leUint(b.at(pos, 4))) }
func (b *LogBuffer) Uint48At(pos int) uint64 { return leUint(b.at(pos, 6)) }
func (b *LogBuffer) Uint64At(pos int) uint64 { return leUint(b.at(pos, 8)) }

// PackedInt reads a length-encoded integer. The 0xfb NULL marker reads as
// nullLength so callers can tell it apart.
func (b *LogBuffer) PackedInt() uint64 {
	v, n := b.packedIntAt(b.pos)
	if b.err == nil {
		b.pos += n
	}
	return v
}

// PackedLen reads a length-encoded count of items that take at least
// size bytes each. A count the remaining bytes cannot hold fails the
// buffer with ErrOutOfBounds and reads as zero.
func (b *LogBuffer) PackedLen(size int) int {
	pos := b.pos
	v := b.PackedInt()
	if b.err != nil {
		return 0
	}
	if size < 1 {
		size = 1
	}
	if v > uint64(b.Remaining()/size) {
		b.err = errors.Annotatef(ErrOutOfBounds, "length %d at %d exceeds %d remaining bytes", v, pos, b.Remaining())
		return 0
	}
	return int(v)
}

// PackedIntAt reads a length-encoded integer at pos without moving.
func (b *LogBuffer) PackedIntAt(pos int) uint64 {
	v, _ := b.packedIntAt(pos)
	return v
}

func (b *LogBuffer) packedIntAt(pos int) (uint64, int) {
	p := b.at(pos, 1)
	if p == nil {
		return 0, 0
	}
	switch p[0] {
	case packedUint16:
		return leUint(b.at(pos+1, 2)), 3
	case packedUint24:
		return leUint(b.at(pos+1, 3)), 4
	case packedUint64:
		return leUint(b.at(pos+1, 8)), 9
	default:
		return uint64(p[0]), 1
	}
}

// Bytes returns the next n bytes. The slice aliases the buffer.
func (b *LogBuffer) Bytes(n int) []byte {
	return b.next(n)
}

// CopyBytes returns a copy of the next n bytes.
func (b *LogBuffer) CopyBytes(n int) []byte {
	p := b.next(n)
	if p == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, p)
	return out
}

func (b *LogBuffer) FixString(n int) string {
	return string(b.next(n))
}

// NullString reads up to the next NUL byte and skips it. A missing
// terminator reads to the limit.
func (b *LogBuffer) NullString() string {
	if b.err != nil {
		return ""
	}
	data := b.buf[b.origin+b.pos : b.origin+b.limit]
	for i, c := range data {
		if c == 0 {
			b.pos += i + 1
			return string(data[:i])
		}
	}
	b.pos = b.limit
	return string(data)
}

// LenString reads a string prefixed with a one byte length.
func (b *LogBuffer) LenString() string {
	n := int(b.Uint8())
	return b.FixString(n)
}

// Bitmap reads ceil(n/8) bytes as an n bit set.
func (b *LogBuffer) Bitmap(n int) Bitmap {
	p := b.next(bitmapSize(n))
	if p == nil && n > 0 {
		return Bitmap{}
	}
	data := make([]byte, len(p))
	copy(data, p)
	return Bitmap{data: data, n: n}
}

// writers append at the limit

func (b *LogBuffer) grow(n int) []byte {
	b.EnsureCapacity(b.limit + n)
	p := b.buf[b.origin+b.limit : b.origin+b.limit+n]
	b.limit += n
	return p
}

func (b *LogBuffer) putUint(v uint64, n int) *LogBuffer {
	p := b.grow(n)
	for i := 0; i < n; i++ {
		p[i] = byte(v >> (8 * uint(i)))
	}
	return b
}

func (b *LogBuffer) putBeUint(v uint64, n int) *LogBuffer {
	p := b.grow(n)
	for i := n - 1; i >= 0; i-- {
		p[i] = byte(v)
		v >>= 8
	}
	return b
}

func (b *LogBuffer) PutUint8(v uint8) *LogBuffer   { return b.putUint(uint64(v), 1) }
func (b *LogBuffer) PutUint16(v uint16) *LogBuffer { return b.putUint(uint64(v), 2) }
func (b *LogBuffer) PutUint24(v uint32) *LogBuffer { return b.putUint(uint64(v), 3) }
func (b *LogBuffer) PutUint32(v uint32) *LogBuffer { return b.putUint(uint64(v), 4) }
func (b *LogBuffer) PutUint48(v uint64) *LogBuffer { return b.putUint(v, 6) }
func (b *LogBuffer) PutUint64(v uint64) *LogBuffer { return b.putUint(v, 8) }
func (b *LogBuffer) PutUintN(v uint64, n int) *LogBuffer {
	return b.putUint(v, n)
}
func (b *LogBuffer) PutBeUintN(v uint64, n int) *LogBuffer {
	return b.putBeUint(v, n)
}

func (b *LogBuffer) PutFloat64(v float64) *LogBuffer {
	return b.PutUint64(math.Float64bits(v))
}

func (b *LogBuffer) PutPackedInt(v uint64) *LogBuffer {
	switch {
	case v < nullLength:
		return b.PutUint8(uint8(v))
	case v < 1<<16:
		b.PutUint8(packedUint16)
		return b.putUint(v, 2)
	case v < 1<<24:
		b.PutUint8(packedUint24)
		return b.putUint(v, 3)
	default:
		b.PutUint8(packedUint64)
		return b.putUint(v, 8)
	}
}

func (b *LogBuffer) PutBytes(p []byte) *LogBuffer {
	copy(b.grow(len(p)), p)
	return b
}

func (b *LogBuffer) PutFixString(s string) *LogBuffer {
	copy(b.grow(len(s)), s)
	return b
}

func (b *LogBuffer) PutBitmap(bm Bitmap) *LogBuffer {
	return b.PutBytes(bm.data)
}

package binlog

import "math/bits"

// Bitmap is a fixed size bit set stored LSB first, as MySQL writes
// column presence and null bitmaps.
type Bitmap struct {
	data []byte
	n    int
}

func bitmapSize(n int) int {
	return (n + 7) / 8
}

func NewBitmap(n int) Bitmap {
	return Bitmap{data: make([]byte, bitmapSize(n)), n: n}
}

// BitmapOf returns a bitmap of n bits with the given indexes set.
func BitmapOf(n int, set ...int) Bitmap {
	bm := NewBitmap(n)
	for _, i := range set {
		bm.Set(i)
	}
	return bm
}

func (bm Bitmap) Len() int { return bm.n }

func (bm Bitmap) Get(i int) bool {
	if i < 0 || i >= bm.n {
		return false
	}
	return bm.data[i>>3]&(1<<uint(i&7)) != 0
}

func (bm Bitmap) Set(i int) {
	if i < 0 || i >= bm.n {
		return
	}
	bm.data[i>>3] |= 1 << uint(i&7)
}

// Cardinality counts the set bits.
func (bm Bitmap) Cardinality() int {
	c := 0
	for i, b := range bm.data {
		if i == len(bm.data)-1 && bm.n&7 != 0 {
			b &= byte(1<<uint(bm.n&7)) - 1
		}
		c += bits.OnesCount8(b)
	}
	return c
}

// Bytes returns the wire form of the bitmap.
func (bm Bitmap) Bytes() []byte { return bm.data }

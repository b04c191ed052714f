package index

import "math/bits"

// maxBucketBits is the cap on B from spec §3 ("capped at 32").
const maxBucketBits = 32

// Table is the fixed-size array of append-only bucket vectors that
// absorbs concurrent inserts from the parallel indexer (spec §4.3).
type Table struct {
	bucketBits uint
	mask       uint32
	buckets    []bucket
}

// bucketBitsForGenomeLength returns B = ceil(log2(genomeLen)), capped at
// maxBucketBits, per spec §3. genomeLen <= 1 yields B=0 (a single
// bucket): a genome that short has no valid 32-mer anyway.
func bucketBitsForGenomeLength(genomeLen uint64) uint {
	if genomeLen <= 1 {
		return 0
	}
	b := uint(bits.Len64(genomeLen - 1))
	if b > maxBucketBits {
		b = maxBucketBits
	}
	return b
}

// NewTable allocates a bucket table sized from genomeLen, per spec §3/§6.
func NewTable(genomeLen uint64) *Table {
	b := bucketBitsForGenomeLength(genomeLen)
	n := uint64(1) << b
	t := &Table{
		bucketBits: b,
		buckets:    make([]bucket, n),
	}
	if b == maxBucketBits {
		t.mask = ^uint32(0)
	} else {
		t.mask = uint32(n - 1)
	}
	return t
}

// BucketBits returns B, the number of hash-prefix bits this table uses.
func (t *Table) BucketBits() uint { return t.bucketBits }

// NumBuckets returns 2^B, the length of the bucket array.
func (t *Table) NumBuckets() int { return len(t.buckets) }

// Mask returns MASK = 2^B - 1 (spec §4.4).
func (t *Table) Mask() uint32 { return t.mask }

// Append inserts pos into the bucket selected by bucketIndex. Safe to
// call concurrently from many goroutines, including concurrently for the
// same bucketIndex (spec §4.3).
func (t *Table) Append(bucketIndex uint32, pos uint32) {
	t.buckets[bucketIndex].append(pos)
}

// Bucket returns the contents of bucket i without copying: in insertion
// order until Serialize has run, ascending afterwards (Serialize sorts each
// bucket in place). Used by tests and by the pipeline driver's
// verification.
func (t *Table) Bucket(i uint32) []uint32 {
	return t.buckets[i].snapshot()
}

package index

import (
	"runtime"

	"github.com/grailbio/base/traverse"
	"github.com/kiss32/kiss32index/kmer"
)

// Build partitions genome into numWorkers contiguous chunks (one per
// hardware thread by default, spec §4.4) and indexes every valid 32-mer
// start position into table, in parallel.
//
// numWorkers <= 0 means runtime.GOMAXPROCS(0).
func Build(genome []byte, table *Table, numWorkers int) error {
	if numWorkers <= 0 {
		numWorkers = runtime.GOMAXPROCS(0)
	}
	genomeLen := len(genome)
	if genomeLen < kmer.Length {
		return nil // no valid 32-mer start position exists
	}
	// Every valid start position is in [0, genomeLen-32].
	numPositions := genomeLen - kmer.Length + 1
	if numWorkers > numPositions {
		numWorkers = numPositions
	}
	if numWorkers < 1 {
		numWorkers = 1
	}
	chunk := numPositions / numWorkers
	mask := table.Mask()

	return traverse.Each(numWorkers, func(worker int) error {
		start := worker * chunk
		end := start + chunk
		if worker == numWorkers-1 {
			end = numPositions // last worker absorbs the remainder
		}
		indexRange(genome, start, end, table, mask)
		return nil
	})
}

// indexRange indexes every valid start position p in [start, end) into
// table. Each worker initializes its own rolling canonicalizer at its
// chunk's starting offset (spec §4.4).
func indexRange(genome []byte, start, end int, table *Table, mask uint32) {
	if start >= end {
		return
	}
	c := kmer.NewCanonicalizer(genome[start:])
	for p := start; p < end; p++ {
		canonical := c.Slide(genome[p+kmer.Length-1])
		bucketIndex := BucketIndex(canonical, mask)
		table.Append(bucketIndex, uint32(p))
	}
}

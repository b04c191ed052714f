package index

import "github.com/kiss32/kiss32index/kmer"

// murmur3Finalizer64to32 is the fixed Murmur3 64->32 finalizer mandated
// bit-for-bit by spec §4.4, grounded on original_source/hash.cpp's
// murmurHash3(). All multiplications wrap modulo 2^64, which is the
// default behavior of Go's uint64 arithmetic.
func murmur3Finalizer64to32(k uint64) uint32 {
	k ^= k >> 33
	k *= 0xff51afd7ed558ccd
	k ^= k >> 33
	k *= 0xc4ceb9fe1a85ec53
	k ^= k >> 33
	return uint32(k)
}

// BucketIndex returns the bucket a canonical key hashes to under mask.
func BucketIndex(canonical kmer.Kmer, mask uint32) uint32 {
	return murmur3Finalizer64to32(uint64(canonical)) & mask
}

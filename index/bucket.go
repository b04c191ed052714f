package index

import "sync/atomic"

// bucket is an append-only sequence of genome positions guarded by a
// one-bit CAS spinlock (spec §4.3, grounded on
// original_source/headers/protected_vector.hpp). The lock is a plain
// uint32 rather than sync.Mutex because the spec fixes the exact
// protocol: compare-and-swap expected=0/new=1 to acquire, plain store of
// 0 to release, pure spin on contention.
type bucket struct {
	lock      uint32
	positions []uint32
}

// append adds pos to the bucket. Thread safe: the only way any goroutine
// mutates b.positions.
func (b *bucket) append(pos uint32) {
	for !atomic.CompareAndSwapUint32(&b.lock, 0, 1) {
		// Pure spin: critical sections are a single slice append and
		// are expected to complete in tens of nanoseconds (spec §4.3),
		// so no backoff is required.
	}
	b.positions = append(b.positions, pos)
	atomic.StoreUint32(&b.lock, 0)
}

// snapshot returns the bucket's positions without copying. Callers must
// only use this after all appends for the table have completed (the
// Table.Bucket is the only caller).
func (b *bucket) snapshot() []uint32 {
	return b.positions
}

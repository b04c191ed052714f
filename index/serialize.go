package index

import (
	"bufio"
	"context"
	"encoding/binary"
	"sort"
	"unsafe"

	"github.com/grailbio/base/errors"
	"github.com/grailbio/base/file"
	"golang.org/x/sys/unix"
)

// Sentinel marks the end of a bucket's postings in the flattened
// postings file (spec §3, §4.5). Valid because genome length stays
// below 2^32-1.
const Sentinel = uint32(0xFFFFFFFF)

const writeBufferSize = 1 << 20 // 1 MiB, matching the C++ original's ofstream buffer.

// Serialize sorts every bucket ascending and writes the two flattened
// on-disk blobs described in spec §4.5/§6: a postings file (sorted
// positions per bucket, sentinel-terminated) and an offsets file (one
// start-index word per bucket).
func Serialize(ctx context.Context, table *Table, postingsPath, offsetsPath string) (err error) {
	postingsFile, err := file.Create(ctx, postingsPath)
	if err != nil {
		return errors.E(err, "create postings file", postingsPath)
	}
	defer func() {
		if cerr := postingsFile.Close(ctx); cerr != nil && err == nil {
			err = errors.E(cerr, "close postings file", postingsPath)
		}
	}()

	offsetsFile, err2 := file.Create(ctx, offsetsPath)
	if err2 != nil {
		return errors.E(err2, "create offsets file", offsetsPath)
	}
	defer func() {
		if cerr := offsetsFile.Close(ctx); cerr != nil && err == nil {
			err = errors.E(cerr, "close offsets file", offsetsPath)
		}
	}()

	postingsW := bufio.NewWriterSize(postingsFile.Writer(ctx), writeBufferSize)
	offsetsW := bufio.NewWriterSize(offsetsFile.Writer(ctx), writeBufferSize)

	var word [4]byte
	offset := uint32(0)
	for i := range table.buckets {
		b := &table.buckets[i]
		sort.Slice(b.positions, func(x, y int) bool { return b.positions[x] < b.positions[y] })

		binary.LittleEndian.PutUint32(word[:], offset)
		if _, err := offsetsW.Write(word[:]); err != nil {
			return errors.E(err, "write offsets file", offsetsPath)
		}

		for _, pos := range b.positions {
			binary.LittleEndian.PutUint32(word[:], pos)
			if _, err := postingsW.Write(word[:]); err != nil {
				return errors.E(err, "write postings file", postingsPath)
			}
		}
		if len(b.positions) != 0 {
			binary.LittleEndian.PutUint32(word[:], Sentinel)
			if _, err := postingsW.Write(word[:]); err != nil {
				return errors.E(err, "write postings file", postingsPath)
			}
		}
		offset += uint32(len(b.positions))
		if len(b.positions) != 0 {
			offset++
		}
	}
	if err := postingsW.Flush(); err != nil {
		return errors.E(err, "flush postings file", postingsPath)
	}
	if err := offsetsW.Flush(); err != nil {
		return errors.E(err, "flush offsets file", offsetsPath)
	}
	return nil
}

// Loaded is the reloaded, in-memory view of the two index blobs (spec
// §4.5's "Reload"). It mmaps both files read-only and reinterprets them
// as word arrays, the same technique fusion/kmer_index.go's initShard
// used for its hugepage-backed hash table, repurposed here to avoid
// copying potentially multi-gigabyte postings files into the Go heap.
type Loaded struct {
	postingsRaw []byte
	offsetsRaw  []byte
	postings    []uint32
	offsets     []uint32
}

// Load mmaps postingsPath and offsetsPath and returns a Loaded view.
// B is derived from the offsets file's word count, per spec §6 ("B is
// not stored; the caller derives it from the offsets file's word
// count").
func Load(postingsPath, offsetsPath string) (*Loaded, error) {
	postingsRaw, err := mmapFile(postingsPath)
	if err != nil {
		return nil, errors.E(err, "mmap postings file", postingsPath)
	}
	offsetsRaw, err := mmapFile(offsetsPath)
	if err != nil {
		_ = unix.Munmap(postingsRaw)
		return nil, errors.E(err, "mmap offsets file", offsetsPath)
	}
	return &Loaded{
		postingsRaw: postingsRaw,
		offsetsRaw:  offsetsRaw,
		postings:    wordsView(postingsRaw),
		offsets:     wordsView(offsetsRaw),
	}, nil
}

// Close unmaps the underlying file views.
func (l *Loaded) Close() error {
	var firstErr error
	if err := unix.Munmap(l.postingsRaw); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := unix.Munmap(l.offsetsRaw); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// NumBuckets returns 2^B, derived from the offsets file's length.
func (l *Loaded) NumBuckets() int { return len(l.offsets) }

// RawBytes returns the on-disk postings bytes followed by the on-disk
// offsets bytes, for whole-file checksum verification by the pipeline
// driver.
func (l *Loaded) RawBytes() []byte {
	out := make([]byte, 0, len(l.postingsRaw)+len(l.offsetsRaw))
	out = append(out, l.postingsRaw...)
	out = append(out, l.offsetsRaw...)
	return out
}

// Bucket returns the positions of bucket i, excluding the sentinel
// (spec §4.5's accessor contract).
func (l *Loaded) Bucket(i int) []uint32 {
	start := l.offsets[i]
	var end uint32
	if i+1 < len(l.offsets) {
		end = l.offsets[i+1]
	} else {
		end = uint32(len(l.postings))
	}
	if start == end {
		return nil
	}
	region := l.postings[start:end]
	if region[len(region)-1] == Sentinel {
		return region[:len(region)-1]
	}
	return region
}

func mmapFile(path string) ([]byte, error) {
	fd, err := unix.Open(path, unix.O_RDONLY, 0)
	if err != nil {
		return nil, err
	}
	defer unix.Close(fd)
	var st unix.Stat_t
	if err := unix.Fstat(fd, &st); err != nil {
		return nil, err
	}
	if st.Size == 0 {
		return nil, nil
	}
	return unix.Mmap(fd, 0, int(st.Size), unix.PROT_READ, unix.MAP_SHARED)
}

// wordsView reinterprets a byte slice holding little-endian uint32 words
// as a []uint32, without copying.
func wordsView(raw []byte) []uint32 {
	if len(raw) == 0 {
		return nil
	}
	n := len(raw) / 4
	return unsafe.Slice((*uint32)(unsafe.Pointer(&raw[0])), n)
}

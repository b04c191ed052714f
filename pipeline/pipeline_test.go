package pipeline

import (
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/grailbio/base/vcontext"
	"github.com/kiss32/kiss32index/index"
	"github.com/kiss32/kiss32index/kmer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFASTA(t *testing.T, dir, name string, bases string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	ctx := vcontext.Background()
	require.NoError(t, writeFile(ctx, path, []byte(">seq1\n"+bases+"\n")))
	return path
}

// TestArtifactsForBasenameDerivation checks the spec.md §6 basename rule:
// strip from the first '.' onward in the input basename.
func TestArtifactsForBasenameDerivation(t *testing.T) {
	a := ArtifactsFor("/data/genomes/hg19.chr1.fasta")
	assert.Equal(t, "/data/genomes/hg19_genome.idx", a.Genome)
	assert.Equal(t, "/data/genomes/hg19_refID.idx", a.RefID)
	assert.Equal(t, "/data/genomes/hg19_32_InnerBlob.idx", a.Postings)
	assert.Equal(t, "/data/genomes/hg19_32_OuterBlob.idx", a.Offsets)
}

// TestTinyExactMatch is spec scenario E1, run through the full pipeline.
func TestTinyExactMatch(t *testing.T) {
	dir := t.TempDir()
	bases := strings.Repeat("ACGT", 10) // 40 bases
	path := writeFASTA(t, dir, "tiny.fasta", bases)

	require.NoError(t, Run(vcontext.Background(), path, 4, true))

	a := ArtifactsFor(path)
	loaded, err := index.Load(a.Postings, a.Offsets)
	require.NoError(t, err)
	defer loaded.Close() // nolint: errcheck

	require.Equal(t, 64, loaded.NumBuckets())

	var got []uint32
	for i := 0; i < loaded.NumBuckets(); i++ {
		got = append(got, loaded.Bucket(i)...)
	}
	sort.Slice(got, func(i, j int) bool { return got[i] < got[j] })
	want := []uint32{0, 1, 2, 3, 4, 5, 6, 7, 8}
	assert.Equal(t, want, got)

	mask := uint32(63)
	b0 := index.BucketIndex(kmer.Canonical(kmer.Pack32([]byte(bases[0:32]))), mask)
	b4 := index.BucketIndex(kmer.Canonical(kmer.Pack32([]byte(bases[4:36]))), mask)
	b8 := index.BucketIndex(kmer.Canonical(kmer.Pack32([]byte(bases[8:40]))), mask)
	assert.Equal(t, b0, b4)
	assert.Equal(t, b0, b8)
	bucket := append([]uint32(nil), loaded.Bucket(int(b0))...)
	sort.Slice(bucket, func(i, j int) bool { return bucket[i] < bucket[j] })
	// "ACGT" and "GTAC" repeats are their own reverse complements, so
	// positions 2 and 6 share the canonical key of 0, 4, 8.
	assert.Equal(t, []uint32{0, 2, 4, 6, 8}, bucket)
}

// TestPalindrome is spec scenario E2.
func TestPalindrome(t *testing.T) {
	dir := t.TempDir()
	bases := strings.Repeat("A", 32)
	path := writeFASTA(t, dir, "palindrome.fasta", bases)

	require.NoError(t, Run(vcontext.Background(), path, 1, true))

	a := ArtifactsFor(path)
	loaded, err := index.Load(a.Postings, a.Offsets)
	require.NoError(t, err)
	defer loaded.Close() // nolint: errcheck

	var got []uint32
	for i := 0; i < loaded.NumBuckets(); i++ {
		got = append(got, loaded.Bucket(i)...)
	}
	require.Equal(t, []uint32{0}, got)

	canonical := kmer.Canonical(kmer.Pack32([]byte(bases)))
	assert.Equal(t, kmer.Kmer(0xFFFFFFFFFFFFFFFF), canonical)
}

// TestReverseComplementCollapse is spec scenario E3.
func TestReverseComplementCollapse(t *testing.T) {
	dir := t.TempDir()
	p := "ACGTTGCATGCATGCATGCATGCATGCATGCA"
	require.Len(t, p, kmer.Length)
	rc := string(kmer.Unpack32(kmer.ReverseComplement32(kmer.Pack32([]byte(p)))))
	bases := p + rc
	path := writeFASTA(t, dir, "revcomp.fasta", bases)

	require.NoError(t, Run(vcontext.Background(), path, 2, true))

	a := ArtifactsFor(path)
	loaded, err := index.Load(a.Postings, a.Offsets)
	require.NoError(t, err)
	defer loaded.Close() // nolint: errcheck

	mask := uint32(loaded.NumBuckets() - 1)
	b := index.BucketIndex(kmer.Canonical(kmer.Pack32([]byte(p))), mask)
	bucket := append([]uint32(nil), loaded.Bucket(int(b))...)
	sort.Slice(bucket, func(i, j int) bool { return bucket[i] < bucket[j] })
	assert.Equal(t, []uint32{0, 32}, bucket)
}

// TestSentinelDiscipline is spec scenario E4.
func TestSentinelDiscipline(t *testing.T) {
	dir := t.TempDir()
	bases := strings.Repeat("ACGT", 9) + "ACG" // 39 bases: 8 positions in 64 buckets
	path := writeFASTA(t, dir, "sentinel.fasta", bases)

	require.NoError(t, Run(vcontext.Background(), path, 2, true))

	a := ArtifactsFor(path)
	loaded, err := index.Load(a.Postings, a.Offsets)
	require.NoError(t, err)
	defer loaded.Close() // nolint: errcheck

	foundEmpty := false
	for i := 0; i < loaded.NumBuckets()-1; i++ {
		if len(loaded.Bucket(i)) == 0 {
			foundEmpty = true
		}
	}
	require.True(t, foundEmpty, "test genome should leave at least one empty bucket")
}

// TestDeterminism is spec scenario E5: the same genome indexed with
// different thread counts produces byte-identical artifacts.
func TestDeterminism(t *testing.T) {
	bases := strings.Repeat("ACGTTGCATGCA", 500) // ~6000 bases
	var postingsBytes, offsetsBytes [][]byte

	for _, threads := range []int{1, 2, 7} {
		dir := t.TempDir()
		path := writeFASTA(t, dir, "genome.fasta", bases)
		require.NoError(t, Run(vcontext.Background(), path, threads, true))

		a := ArtifactsFor(path)
		ctx := vcontext.Background()
		p, err := readFile(ctx, a.Postings)
		require.NoError(t, err)
		o, err := readFile(ctx, a.Offsets)
		require.NoError(t, err)
		postingsBytes = append(postingsBytes, p)
		offsetsBytes = append(offsetsBytes, o)
	}

	for i := 1; i < len(postingsBytes); i++ {
		assert.Equal(t, postingsBytes[0], postingsBytes[i], "thread count index %d", i)
		assert.Equal(t, offsetsBytes[0], offsetsBytes[i], "thread count index %d", i)
	}
}

// TestAccessorRoundTrip is spec scenario E6, exercised by Run's own -verify
// pass (property 8); this additionally checks, from the reloaded files
// alone, that every bucket is strictly ascending.
func TestAccessorRoundTrip(t *testing.T) {
	dir := t.TempDir()
	bases := strings.Repeat("ACGTTGCA", 200)
	path := writeFASTA(t, dir, "roundtrip.fasta", bases)

	require.NoError(t, Run(vcontext.Background(), path, 3, true))

	a := ArtifactsFor(path)
	loaded, err := index.Load(a.Postings, a.Offsets)
	require.NoError(t, err)
	defer loaded.Close() // nolint: errcheck

	for i := 0; i < loaded.NumBuckets(); i++ {
		got := loaded.Bucket(i)
		for j := 1; j < len(got); j++ {
			assert.Less(t, got[j-1], got[j], "bucket %d", i)
		}
	}
}

// TestRunStripsHeadersAndWritesRefIDMap checks the header map file format
// and the genome blob's descriptor-line stripping end to end.
func TestRunStripsHeadersAndWritesRefIDMap(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "with_header.fasta")
	ctx := vcontext.Background()
	src := ">chr1 test\n" + strings.Repeat("ACGT", 10) + "\n"
	require.NoError(t, writeFile(ctx, path, []byte(src)))

	require.NoError(t, Run(ctx, path, 2, true))

	a := ArtifactsFor(path)
	genomeBytes, err := readFile(ctx, a.Genome)
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ACGT", 10), string(genomeBytes))

	refIDBytes, err := readFile(ctx, a.RefID)
	require.NoError(t, err)
	assert.Equal(t, "0 >chr1 test\n", string(refIDBytes))
}

// TestRunRejectsMissingReference checks the InputMissing error kind
// (spec.md §7): Run returns an error rather than panicking or producing
// partial output.
func TestRunRejectsMissingReference(t *testing.T) {
	dir := t.TempDir()
	err := Run(vcontext.Background(), filepath.Join(dir, "does-not-exist.fasta"), 1, true)
	require.Error(t, err)
}

package kmer

// Canonicalizer maintains the current forward 32-mer and its reverse
// complement as a window slides one base at a time over a genome,
// producing the canonical key for each window in O(1) work per slide
// (spec §4.2).
type Canonicalizer struct {
	fwd Kmer // current forward 32-mer
	rev Kmer // reverse complement of fwd
}

// NewCanonicalizer initializes a Canonicalizer for the first window
// genome[0:32]. The registers start one base short, so the first call,
// Slide(genome[31]), returns the key for window 0; subsequent calls
// Slide(genome[32]), Slide(genome[33]), ... advance the window by one base
// each. Forward and ReverseComplement are meaningful only after the first
// Slide.
//
// genome must have at least 32 bytes; only the first 32 are consumed
// here.
func NewCanonicalizer(genome []byte) *Canonicalizer {
	if len(genome) < Length {
		panic("kmer: Canonicalizer requires at least 32 bases")
	}
	fwd := Pack32(genome[:Length])
	rev := ReverseComplement32(fwd)
	// Shift both registers so the first call to Slide advances the
	// window by exactly one base, per spec §4.2's initialization step.
	return &Canonicalizer{fwd: fwd >> 2, rev: rev << 2}
}

// Slide advances the window by one base, where nextBase is
// genome[p+31] for the window now starting at position p. It returns
// the canonical key for the new window.
func (c *Canonicalizer) Slide(nextBase byte) Kmer {
	code := Encode(nextBase)
	c.fwd = (c.fwd << 2) | Kmer(code)
	// The complement of nextBase enters the top of rev (bits 63:62).
	c.rev = (c.rev >> 2) | (Kmer(complement(code)) << 62)
	return c.fwd ^ c.rev
}

// Forward returns the current forward 32-mer (genome[p:p+32] for
// whichever position the last Slide call produced).
func (c *Canonicalizer) Forward() Kmer { return c.fwd }

// ReverseComplement returns the current reverse complement of Forward().
func (c *Canonicalizer) ReverseComplement() Kmer { return c.rev }

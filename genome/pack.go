// Package genome packs a raw FASTA file into the contiguous base blob the
// index builder operates on, stripping descriptor lines, newlines, and any
// non-ACGT byte, and recording where each descriptor's bases begin.
package genome

import "github.com/pkg/errors"

// baseUpper maps an ASCII byte to its uppercase base if it is one of
// {A,C,G,T,a,c,g,t}, and to 0 otherwise. 0 is not a valid FASTA byte, so it
// doubles as the "drop this byte" sentinel.
var baseUpper [256]byte

func init() {
	baseUpper['A'], baseUpper['a'] = 'A', 'A'
	baseUpper['C'], baseUpper['c'] = 'C', 'C'
	baseUpper['G'], baseUpper['g'] = 'G', 'G'
	baseUpper['T'], baseUpper['t'] = 'T', 'T'
}

// Pack strips FASTA descriptor lines and newline bytes from src, drops every
// byte that is not one of {A,C,G,T,a,c,g,t} (literal N/n runs and any other
// IUPAC ambiguity code alike), uppercases what remains, and returns the
// packed base blob together with a map from the blob offset at which each
// descriptor's bases begin to that descriptor's raw line text (the '>'
// through its trailing '\n', inclusive).
//
// Ported from packGenome() in the reference implementation: a two-cursor
// walk over the input, recording a descriptor line under the write cursor's
// current offset before skipping it. The reference implementation only
// drops literal 'N'/'n' bytes and passes other ambiguity codes through
// unchanged; this violates the packed blob's ACGT-only invariant once the
// index builder runs, so here every non-ACGT byte is dropped, not just N.
//
// Unlike the reference implementation's unbounded `while (*from != '\n')`
// scan, a descriptor line missing its trailing newline is reported as an
// error rather than read out of bounds.
func Pack(src []byte) ([]byte, map[uint32]string, error) {
	headers := make(map[uint32]string)
	out := make([]byte, 0, len(src))

	n := len(src)
	for i := 0; i < n; {
		switch src[i] {
		case '\n':
			i++
		case '>':
			start := i
			for src[i] != '\n' {
				i++
				if i == n {
					return nil, nil, errors.Errorf("genome: descriptor line at offset %d has no trailing newline", start)
				}
			}
			i++ // include the trailing newline
			headers[uint32(len(out))] = string(src[start:i])
		default:
			if u := baseUpper[src[i]]; u != 0 {
				out = append(out, u)
			}
			i++
		}
	}
	return out, headers, nil
}

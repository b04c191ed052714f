// Command kiss32index builds a compact 32-mer inverted index over a FASTA
// reference: a packed genome blob, a reference-header map, and a two-file
// postings/offsets index.
package main

import (
	"flag"
	"fmt"
	"os"
	"runtime"

	"github.com/grailbio/base/grail"
	"github.com/grailbio/base/log"
	"github.com/grailbio/base/vcontext"
	"github.com/kiss32/kiss32index/pipeline"
)

func usage() {
	fmt.Fprintf(os.Stderr, `kiss32index: build a 32-mer inverted index over a FASTA reference.

Usage:
  kiss32index -reference <path> [-threads <n>] [-verify=true]

Flags:
`)
	flag.PrintDefaults()
}

func main() {
	flag.Usage = usage

	referencePath := flag.String("reference", "", "Path to the FASTA reference file (required).")
	threads := flag.Int("threads", runtime.GOMAXPROCS(0), "Number of indexing worker threads.")
	verify := flag.Bool("verify", true, "Re-load the written index after writing it and check it round-trips.")

	cleanup := grail.Init()
	defer cleanup()

	if *referencePath == "" {
		log.Fatal("-reference is required")
	}

	ctx := vcontext.Background()
	if err := pipeline.Run(ctx, *referencePath, *threads, *verify); err != nil {
		log.Fatalf("kiss32index: %v", err)
	}
	log.Printf("kiss32index: done")
}

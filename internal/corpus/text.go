package corpus

import (
	"fmt"
	"strings"

	"github.com/happyhackingspace/seqlab/crf"
	"github.com/happyhackingspace/seqlab/internal/textutil"
)

// Lines splits plain text into blocks, one per non-blank line.
func Lines(text string) []string {
	var blocks []string
	for _, line := range strings.Split(text, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			blocks = append(blocks, line)
		}
	}
	return blocks
}

// FromBlocks tokenizes each block of text into an unlabeled sequence whose
// positions carry the token features of textutil.TokenFeatures. Blocks with
// no tokens are skipped.
func FromBlocks(blocks []string, source string, window int) []crf.TrainingSequence {
	var seqs []crf.TrainingSequence
	for i, block := range blocks {
		tokens := textutil.Tokenize(block)
		if len(tokens) == 0 {
			continue
		}
		seqs = append(seqs, crf.TrainingSequence{
			Name:     fmt.Sprintf("block%d", i+1),
			Source:   source,
			Features: textutil.TokenFeatures(tokens, window),
		})
	}
	return seqs
}

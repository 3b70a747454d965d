// Package corpus reads and writes line-oriented sequence corpora.
//
// Each non-blank line is one position: whitespace-separated feature names,
// then the label when the corpus is labeled. A blank line ends a sequence.
// Comment lines start with '#'; "# name <id>" and "# source <url>" attach
// metadata to the next sequence. A label of "?" marks an unknown position.
package corpus

import (
	"bufio"
	"crypto/md5"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/happyhackingspace/seqlab/crf"
)

// UnknownLabel marks a position whose label is not known.
const UnknownLabel = "?"

// Options controls corpus reading.
type Options struct {
	Labeled        bool // last field of each line is the label
	DropDuplicates bool // skip sequences identical to an earlier one
	DropEmpty      bool // skip sequences with no positions
}

// DefaultOptions returns the options for reading training data.
func DefaultOptions() Options {
	return Options{
		Labeled:        true,
		DropDuplicates: true,
		DropEmpty:      true,
	}
}

type reader struct {
	opts    Options
	out     []crf.TrainingSequence
	cur     crf.TrainingSequence
	started bool
	lines   []string
	seen    map[[md5.Size]byte]bool
}

// Read parses a corpus.
func Read(r io.Reader, opts Options) ([]crf.TrainingSequence, error) {
	rd := &reader{opts: opts, seen: make(map[[md5.Size]byte]bool)}
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			rd.flush()
		case strings.HasPrefix(line, "#"):
			if err := rd.comment(line); err != nil {
				return nil, errors.Wrapf(err, "line %d", lineNo)
			}
		default:
			rd.token(line)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrapf(err, "read corpus after line %d", lineNo)
	}
	rd.flush()
	return rd.out, nil
}

// ReadFile parses the corpus at path.
func ReadFile(path string, opts Options) ([]crf.TrainingSequence, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open corpus")
	}
	defer func() { _ = f.Close() }()
	seqs, err := Read(f, opts)
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	slog.Debug("Corpus loaded", "path", path, "sequences", len(seqs))
	return seqs, nil
}

func (rd *reader) comment(line string) error {
	fields := strings.Fields(strings.TrimPrefix(line, "#"))
	if len(fields) == 0 {
		return nil
	}
	switch fields[0] {
	case "name", "source":
		if len(fields) != 2 {
			return errors.Errorf("%s directive takes one value, got %d", fields[0], len(fields)-1)
		}
		if len(rd.cur.Features) > 0 {
			return errors.Errorf("%s directive inside a sequence", fields[0])
		}
		if fields[0] == "name" {
			rd.cur.Name = fields[1]
		} else {
			rd.cur.Source = fields[1]
		}
		rd.started = true
	}
	return nil
}

func (rd *reader) token(line string) {
	fields := strings.Fields(line)
	feats := fields
	if rd.opts.Labeled {
		label := fields[len(fields)-1]
		feats = fields[:len(fields)-1]
		if label == UnknownLabel {
			label = ""
		}
		rd.cur.Labels = append(rd.cur.Labels, label)
	}
	attrs := make(map[string]float64, len(feats))
	for _, f := range feats {
		attrs[f]++
	}
	rd.cur.Features = append(rd.cur.Features, attrs)
	rd.lines = append(rd.lines, line)
	rd.started = true
}

func (rd *reader) flush() {
	if !rd.started {
		return
	}
	seq := rd.cur
	rd.cur = crf.TrainingSequence{}
	rd.started = false
	lines := rd.lines
	rd.lines = nil

	if seq.Name == "" {
		seq.Name = fmt.Sprintf("seq%d", len(rd.out)+1)
	}
	if rd.opts.DropEmpty && len(seq.Features) == 0 {
		slog.Debug("Skipping empty sequence", "name", seq.Name)
		return
	}
	if rd.opts.DropDuplicates {
		hash := md5.Sum([]byte(strings.Join(lines, "\n")))
		if rd.seen[hash] {
			slog.Debug("Skipping duplicate sequence", "name", seq.Name)
			return
		}
		rd.seen[hash] = true
	}
	if !rd.opts.Labeled {
		seq.Labels = nil
	}
	rd.out = append(rd.out, seq)
}

// Write emits sequences in the corpus format. Feature names are written in
// sorted order, once per unit of value; labels are written when present.
func Write(w io.Writer, seqs []crf.TrainingSequence) error {
	bw := bufio.NewWriter(w)
	for i, seq := range seqs {
		if i > 0 {
			if _, err := bw.WriteString("\n"); err != nil {
				return err
			}
		}
		if seq.Name != "" {
			fmt.Fprintf(bw, "# name %s\n", seq.Name)
		}
		if seq.Source != "" {
			fmt.Fprintf(bw, "# source %s\n", seq.Source)
		}
		for pos, attrs := range seq.Features {
			names := make([]string, 0, len(attrs))
			for name := range attrs {
				names = append(names, name)
			}
			sort.Strings(names)
			var fields []string
			for _, name := range names {
				for n := attrs[name]; n >= 1; n-- {
					fields = append(fields, name)
				}
			}
			if seq.Labels != nil {
				label := seq.Labels[pos]
				if label == "" {
					label = UnknownLabel
				}
				fields = append(fields, label)
			}
			if _, err := fmt.Fprintln(bw, strings.Join(fields, " ")); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"

	"github.com/happyhackingspace/seqlab"
	"github.com/happyhackingspace/seqlab/crf"
	"github.com/happyhackingspace/seqlab/internal/corpus"
)

func isStdinTerminal() bool {
	fi, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return fi.Mode()&os.ModeCharDevice != 0
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}

func loadModel(modelPath string) (*seqlab.Tagger, error) {
	if modelPath != "" {
		slog.Debug("Loading model", "path", modelPath)
		return seqlab.Load(modelPath)
	}
	return seqlab.New()
}

// fetchCorpus reads a corpus from a URL or a local file.
func fetchCorpus(target string) (string, error) {
	if isURL(target) {
		resp, err := http.Get(target)
		if err != nil {
			return "", fmt.Errorf("fetch URL: %w", err)
		}
		defer func() { _ = resp.Body.Close() }()
		if resp.StatusCode != http.StatusOK {
			return "", fmt.Errorf("fetch URL: HTTP %d", resp.StatusCode)
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return "", fmt.Errorf("read response: %w", err)
		}
		return string(body), nil
	}
	data, err := os.ReadFile(target)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return string(data), nil
}

// readFromStdin returns the corpus on stdin, following it when stdin holds
// a single URL.
func readFromStdin() (string, string, error) {
	slog.Debug("Reading from stdin")
	body, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", "", fmt.Errorf("read stdin: %w", err)
	}
	content := strings.TrimSpace(string(body))
	if content == "" {
		return "", "", fmt.Errorf("stdin is empty")
	}
	if isURL(content) && !strings.ContainsAny(content, " \n") {
		slog.Debug("Stdin contains URL", "url", content)
		data, err := fetchCorpus(content)
		if err != nil {
			return "", "", err
		}
		return data, content, nil
	}
	return content, "stdin", nil
}

// readInput loads the sequences to decode from args[0] or stdin. It
// returns nil sequences when there is nothing to read.
func readInput(args []string, labeled bool) ([]crf.TrainingSequence, error) {
	var content, target string
	var err error
	if len(args) == 0 {
		if isStdinTerminal() {
			return nil, nil
		}
		content, target, err = readFromStdin()
	} else {
		target = args[0]
		slog.Debug("Fetching corpus", "target", target)
		content, err = fetchCorpus(target)
	}
	if err != nil {
		return nil, err
	}

	seqs, err := corpus.Read(strings.NewReader(content), corpus.Options{Labeled: labeled})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", target, err)
	}
	slog.Debug("Corpus read", "target", target, "sequences", len(seqs))
	return seqs, nil
}

func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(output))
	return nil
}

package cli

import (
	"log/slog"
	"os"

	"github.com/happyhackingspace/seqlab/internal/corpus"
	"github.com/happyhackingspace/seqlab/internal/htmlutil"
	"github.com/spf13/cobra"
)

func (c *CLI) newFeaturizeCommand() *cobra.Command {
	var window int

	cmd := &cobra.Command{
		Use:   "featurize [url-or-file]",
		Short: "Turn text or an HTML page into an unlabeled corpus",
		Args:  cobra.MaximumNArgs(1),
		Example: `  # One sequence per line of a text file
  seqlab featurize notes.txt > notes.corpus

  # One sequence per text block of a page, then label it
  seqlab featurize https://example.com/about | seqlab tag --model model.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			var content, target string
			var err error
			if len(args) == 0 {
				if isStdinTerminal() {
					return cmd.Help()
				}
				content, target, err = readFromStdin()
			} else {
				target = args[0]
				content, err = fetchCorpus(target)
			}
			if err != nil {
				return err
			}

			var blocks []string
			if htmlutil.LooksLikeHTML(content) {
				doc, err := htmlutil.LoadHTMLString(content)
				if err != nil {
					return err
				}
				blocks = htmlutil.Blocks(doc)
				slog.Debug("HTML parsed", "title", htmlutil.Title(doc), "blocks", len(blocks))
			} else {
				blocks = corpus.Lines(content)
			}

			source := ""
			if isURL(target) {
				source = target
			}
			seqs := corpus.FromBlocks(blocks, source, window)
			slog.Debug("Featurized", "target", target, "sequences", len(seqs))
			return corpus.Write(os.Stdout, seqs)
		},
	}

	cmd.Flags().IntVar(&window, "window", 2, "Neighboring tokens to include on each side")
	return cmd
}

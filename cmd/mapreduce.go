package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/postings"
	"github.com/JakeFAU/wikindex/internal/table"
)

// newMapCmd creates the 'map' subcommand: URLs on stdin, partial postings
// on stdout.
func newMapCmd() *cobra.Command {
	var vocabPath string
	cmd := &cobra.Command{
		Use:   "map",
		Short: "Maps a URL list to partial postings",
		Long: `Reads one URL per line from stdin, fetches each page's content in
bounded windows and writes a partial postings line for every vocabulary term.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			vocab, err := readVocabularyFile(vocabPath)
			if err != nil {
				return err
			}
			urls, err := table.ReadKeys(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read url list: %w", err)
			}

			partial, err := appInstance.Runner().Map(cmd.Context(), urls, vocab)
			if err != nil {
				return fmt.Errorf("run map: %w", err)
			}
			if err := postings.WritePartial(cmd.OutOrStdout(), partial); err != nil {
				return err
			}
			appInstance.Logger().Info("Map command finished.",
				zap.Int("urls", len(urls)),
				zap.Int("terms", len(partial)),
			)
			return nil
		},
	}
	cmd.Flags().StringVar(&vocabPath, "vocabulary", "", "vocabulary file, one term per line (required)")
	_ = cmd.MarkFlagRequired("vocabulary")
	return cmd
}

// newReduceCmd creates the 'reduce' subcommand: partial postings on stdin,
// final postings on stdout.
func newReduceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reduce",
		Short: "Merges partial postings into final postings",
		Long: `Reads partial postings lines from stdin, unions the URL sets per term
and writes sorted final postings to stdout. Malformed lines are skipped.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := appInstance.Runner().Reduce(cmd.InOrStdin(), cmd.OutOrStdout())
			if err != nil {
				return fmt.Errorf("run reduce: %w", err)
			}
			appInstance.Logger().Info("Reduce command finished.",
				zap.Int("rows", stats.Rows),
				zap.Int("skipped", stats.Skipped),
			)
			return nil
		},
	}
}

func readVocabularyFile(path string) (postings.Vocabulary, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open vocabulary: %w", err)
	}
	defer f.Close()
	return postings.ReadVocabulary(f)
}

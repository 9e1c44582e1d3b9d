package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/pipeline"
	"github.com/JakeFAU/wikindex/internal/postings"
)

// newIndexCmd creates the 'index' subcommand, which runs crawl, map and
// reduce in-process and writes the final postings to stdout.
func newIndexCmd() *cobra.Command {
	var (
		f         crawlFlags
		vocabPath string
	)
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Crawls, maps and reduces in one run",
		Long: `Runs the whole pipeline: a bounded crawl from --seed, mapping of every
visited page against --vocabulary across map shards, and a partitioned reduce.
Final postings go to stdout; run artifacts go to the configured storage.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			vocab, err := readVocabularyFile(vocabPath)
			if err != nil {
				return err
			}

			res, err := appInstance.Runner().Index(cmd.Context(), pipeline.IndexRequest{
				CrawlRequest: pipeline.CrawlRequest{Seed: f.seed, Limit: f.limit, WaveWidth: f.waveWidth},
				Vocabulary:   vocab,
			})
			if err != nil {
				return fmt.Errorf("run index: %w", err)
			}
			if err := postings.WriteFinal(cmd.OutOrStdout(), res.Postings); err != nil {
				return err
			}
			appInstance.Logger().Info("Index command finished.",
				zap.String("run_id", res.RunID.String()),
				zap.Int("visited", len(res.Visited)),
				zap.Int("terms", len(res.Postings)),
				zap.Int("failures", res.Failures),
				zap.String("postings_uri", res.Artifacts.Postings),
			)
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&f.seed, "seed", "", "seed URL (required)")
	flags.IntVar(&f.limit, "limit", 0, "maximum number of URLs to visit (0 uses crawl.limit)")
	flags.IntVar(&f.waveWidth, "wave-width", 0, "maximum concurrent link fetches (0 uses crawl.wave_width)")
	flags.StringVar(&vocabPath, "vocabulary", "", "vocabulary file, one term per line (required)")
	flags.Int("shards", 1, "number of map shards")
	flags.Int("partitions", 1, "number of reduce partitions")
	annotate(flags, "shards", "map.shards")
	annotate(flags, "partitions", "reduce.partitions")
	_ = cmd.MarkFlagRequired("seed")
	_ = cmd.MarkFlagRequired("vocabulary")
	return cmd
}

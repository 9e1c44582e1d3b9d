package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/pipeline"
	"github.com/JakeFAU/wikindex/internal/table"
)

type crawlFlags struct {
	seed      string
	limit     int
	waveWidth int
	out       string
}

// newCrawlCmd creates the 'crawl' subcommand, which runs a bounded
// breadth-first crawl and writes the visited URL list.
func newCrawlCmd() *cobra.Command {
	var f crawlFlags
	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Crawls outward from a seed and writes the visited URLs",
		Long: `Runs a bounded crawl in parallel waves starting at --seed and writes
one URL per line in admission order, seed first.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd, f)
		},
	}
	cmd.Flags().StringVar(&f.seed, "seed", "", "seed URL (required)")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum number of URLs to visit (0 uses crawl.limit)")
	cmd.Flags().IntVar(&f.waveWidth, "wave-width", 0, "maximum concurrent link fetches (0 uses crawl.wave_width)")
	cmd.Flags().StringVar(&f.out, "out", "-", "output path for the URL list, - for stdout")
	_ = cmd.MarkFlagRequired("seed")
	return cmd
}

func runCrawl(cmd *cobra.Command, f crawlFlags) error {
	appInstance, err := resolveApp(cmd.Context())
	if err != nil {
		return err
	}

	res, err := appInstance.Runner().Crawl(cmd.Context(), pipeline.CrawlRequest{
		Seed:      f.seed,
		Limit:     f.limit,
		WaveWidth: f.waveWidth,
	})
	if err != nil {
		return fmt.Errorf("run crawl: %w", err)
	}

	if err := writeOutput(cmd.OutOrStdout(), f.out, func(w io.Writer) error {
		return table.WriteKeys(w, res.Visited)
	}); err != nil {
		return fmt.Errorf("write url list: %w", err)
	}

	appInstance.Logger().Info("Crawl command finished.",
		zap.Int("visited", len(res.Visited)),
		zap.Int("waves", res.Waves),
		zap.Int("failures", res.Failures),
	)
	return nil
}

// writeOutput runs write against stdout when path is "-" and against a
// freshly created file otherwise.
func writeOutput(stdout io.Writer, path string, write func(io.Writer) error) (err error) {
	if path == "" || path == "-" {
		return write(stdout)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	return write(f)
}

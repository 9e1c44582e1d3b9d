// Package mapper builds partial postings for a batch of URLs.
//
// URLs are processed in windows of at most WindowWidth pages. Every page in a
// window is fetched concurrently and its tokens are handed off on a channel;
// once the whole window has finished, a single aggregation step folds the
// hand-offs into the result. Windows run one after another.
package mapper

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wikindex/internal/metrics"
	"github.com/JakeFAU/wikindex/internal/postings"
	"github.com/JakeFAU/wikindex/internal/progress"
	"github.com/JakeFAU/wikindex/internal/task"
)

// MaxWindowWidth caps the number of pages fetched at once.
const MaxWindowWidth = 10

// ContentSource returns the whitespace-separated text of a page.
type ContentSource interface {
	Content(ctx context.Context, url string) (string, error)
}

// Config bounds a mapper run.
type Config struct {
	WindowWidth int           `mapstructure:"window_width"`
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// Validate checks the window width and timeout.
func (c Config) Validate() error {
	if c.WindowWidth < 1 || c.WindowWidth > MaxWindowWidth {
		return fmt.Errorf("map.window_width must be between 1 and %d", MaxWindowWidth)
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("map.task_timeout must be >= 0")
	}
	return nil
}

// Result is the outcome of a mapper run.
type Result struct {
	Partial  postings.Partial
	Windows  int
	Failures int
}

// pageHit is what a fetch task hands to the aggregation step.
type pageHit struct {
	url    string
	tokens []string
	err    error
}

// Mapper computes term → URL-set mappings for a fixed vocabulary.
type Mapper struct {
	src    ContentSource
	cfg    Config
	logger *zap.Logger
	events progress.Emitter
	now    func() time.Time
}

// Option customizes a Mapper.
type Option func(*Mapper)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Mapper) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithEmitter sends progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(m *Mapper) { m.events = e }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(m *Mapper) {
		if now != nil {
			m.now = now
		}
	}
}

// New validates cfg and returns a Mapper.
func New(src ContentSource, cfg Config, opts ...Option) (*Mapper, error) {
	if src == nil {
		return nil, errors.New("content source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	m := &Mapper{
		src:    src,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.Named("mapper")
	return m, nil
}

// MapBatch returns, for every vocabulary term, the set of URLs whose content
// contains it. Terms no page contains map to an empty set.
func (m *Mapper) MapBatch(ctx context.Context, urls []string, vocab postings.Vocabulary) (postings.Partial, error) {
	res, err := m.MapRun(ctx, uuid.New(), urls, vocab)
	return res.Partial, err
}

// MapRun is MapBatch with progress events tagged by runID. Fetch failures are
// absorbed. If ctx is canceled the run stops after the current window and the
// partial result so far is returned with the context error.
func (m *Mapper) MapRun(
	ctx context.Context,
	runID uuid.UUID,
	urls []string,
	vocab postings.Vocabulary,
) (Result, error) {
	res := Result{Partial: postings.NewPartial(vocab)}
	rec := progress.NewRecorder(m.events, runID, progress.PhaseMap, m.now)
	start := m.now()
	rec.Record(progress.Event{Stage: progress.StageRunStart, Items: int64(len(urls))})
	m.logger.Info("map started",
		zap.Int("urls", len(urls)),
		zap.Int("terms", len(vocab)),
		zap.Int("window_width", m.cfg.WindowWidth),
	)

	for lo := 0; lo < len(urls); lo += m.cfg.WindowWidth {
		if err := ctx.Err(); err != nil {
			rec.Record(progress.Event{Stage: progress.StageRunError, Dur: m.now().Sub(start), Note: err.Error()})
			return res, fmt.Errorf("map interrupted after %d windows: %w", res.Windows, err)
		}
		hi := min(lo+m.cfg.WindowWidth, len(urls))
		window := urls[lo:hi]
		res.Windows++
		windowStart := m.now()

		hits := m.fetchWindow(ctx, window, rec, res.Windows)

		// Every task has returned; this is the only writer of the result.
		matched := 0
		for hit := range hits {
			if hit.err != nil {
				res.Failures++
				continue
			}
			for _, tok := range hit.tokens {
				if vocab.Has(tok) {
					res.Partial.Add(tok, hit.url)
					matched++
				}
			}
		}

		rec.Record(progress.Event{
			Stage:    progress.StageWaveDone,
			Wave:     res.Windows,
			Items:    int64(len(window)),
			Admitted: int64(matched),
			Dur:      m.now().Sub(windowStart),
		})
	}

	rec.Record(progress.Event{Stage: progress.StageRunDone, Items: int64(len(urls)), Dur: m.now().Sub(start)})
	m.logger.Info("map finished",
		zap.Int("urls", len(urls)),
		zap.Int("windows", res.Windows),
		zap.Int("failures", res.Failures),
	)
	return res, nil
}

// fetchWindow runs one task per URL and returns the closed hand-off channel.
func (m *Mapper) fetchWindow(
	ctx context.Context,
	window []string,
	rec *progress.Recorder,
	windowNum int,
) <-chan pageHit {
	hits := make(chan pageHit, len(window))

	var g errgroup.Group
	g.SetLimit(len(window))
	for _, url := range window {
		g.Go(func() error {
			taskStart := m.now()
			text, err := task.Run(ctx, m.cfg.TaskTimeout, func(ctx context.Context) (string, error) {
				return m.src.Content(ctx, url)
			})
			evt := progress.Event{
				Stage:   progress.StageFetchDone,
				Wave:    windowNum,
				URL:     url,
				Site:    metrics.SanitizeSite(url),
				Outcome: task.Outcome(err),
				Dur:     m.now().Sub(taskStart),
			}
			if err != nil {
				evt.Note = err.Error()
				rec.Record(evt)
				m.logFailure(url, err)
				hits <- pageHit{url: url, err: err}
				return nil
			}
			tokens := strings.Fields(text)
			evt.Items = int64(len(tokens))
			rec.Record(evt)
			hits <- pageHit{url: url, tokens: tokens}
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors
	close(hits)
	return hits
}

func (m *Mapper) logFailure(url string, err error) {
	if errors.Is(err, task.ErrPanic) {
		m.logger.Error("content fetch panicked", zap.String("url", url), zap.Error(err))
		return
	}
	m.logger.Warn("content fetch failed", zap.String("url", url), zap.Error(err))
}

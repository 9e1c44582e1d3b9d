// Package crawler discovers a bounded set of pages reachable from a seed URL.
//
// The crawl proceeds in waves. Each wave takes up to WaveWidth URLs off the
// frontier, extracts their links concurrently, waits for every task, and only
// then admits the union of new links into the visited set. Admission stops as
// soon as the visited set reaches Limit.
package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wikindex/internal/frontier"
	"github.com/JakeFAU/wikindex/internal/metrics"
	"github.com/JakeFAU/wikindex/internal/progress"
	"github.com/JakeFAU/wikindex/internal/task"
)

// LinkSource returns the outgoing links of a page.
type LinkSource interface {
	Links(ctx context.Context, url string) ([]string, error)
}

// Config bounds a crawl.
type Config struct {
	// Limit is the maximum number of visited URLs, seed included.
	Limit int `mapstructure:"limit"`
	// WaveWidth is the maximum number of URLs expanded concurrently.
	WaveWidth int `mapstructure:"wave_width"`
	// TaskTimeout bounds a single Links call; zero disables it.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
}

// Validate rejects non-positive bounds.
func (c Config) Validate() error {
	if c.Limit < 1 {
		return fmt.Errorf("crawl.limit must be >= 1")
	}
	if c.WaveWidth < 1 {
		return fmt.Errorf("crawl.wave_width must be >= 1")
	}
	if c.TaskTimeout < 0 {
		return fmt.Errorf("crawl.task_timeout must be >= 0")
	}
	return nil
}

// Result is the outcome of a crawl.
type Result struct {
	// Visited lists admitted URLs in admission order, seed first.
	Visited []string
	// Waves is the number of waves executed.
	Waves int
	// Failures counts link extractions that failed, timed out or panicked.
	Failures int
}

// Crawler runs wave-bounded crawls against a LinkSource.
type Crawler struct {
	src    LinkSource
	cfg    Config
	logger *zap.Logger
	events progress.Emitter
	now    func() time.Time
}

// Option customizes a Crawler.
type Option func(*Crawler)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Crawler) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithEmitter sends progress events to e.
func WithEmitter(e progress.Emitter) Option {
	return func(c *Crawler) { c.events = e }
}

// WithClock overrides the time source used for event timestamps and durations.
func WithClock(now func() time.Time) Option {
	return func(c *Crawler) {
		if now != nil {
			c.now = now
		}
	}
}

// New validates cfg and returns a Crawler.
func New(src LinkSource, cfg Config, opts ...Option) (*Crawler, error) {
	if src == nil {
		return nil, errors.New("link source is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Crawler{
		src:    src,
		cfg:    cfg,
		logger: zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.Named("crawler")
	return c, nil
}

// Crawl explores the graph from seed under a fresh run ID.
func (c *Crawler) Crawl(ctx context.Context, seed string) (Result, error) {
	return c.CrawlRun(ctx, uuid.New(), seed)
}

// CrawlRun explores the graph from seed, tagging progress events with runID.
// Link extraction failures never abort the crawl. If ctx is canceled the
// crawl stops after the current wave and the URLs visited so far are returned
// along with the context error.
func (c *Crawler) CrawlRun(ctx context.Context, runID uuid.UUID, seed string) (Result, error) {
	f, err := frontier.New(seed, c.cfg.Limit)
	if err != nil {
		return Result{}, fmt.Errorf("start crawl: %w", err)
	}
	rec := progress.NewRecorder(c.events, runID, progress.PhaseCrawl, c.now)
	start := c.now()
	rec.Record(progress.Event{Stage: progress.StageRunStart, URL: seed, Site: metrics.SanitizeSite(seed)})
	c.logger.Info("crawl started",
		zap.String("seed", seed),
		zap.Int("limit", c.cfg.Limit),
		zap.Int("wave_width", c.cfg.WaveWidth),
	)

	var res Result
	for f.Active() {
		if err := ctx.Err(); err != nil {
			return c.interrupted(rec, f, res, start, err)
		}
		res.Waves++
		wave := f.Next(c.cfg.WaveWidth)
		waveStart := c.now()

		found, failures := c.expand(ctx, f, wave, rec, res.Waves)
		res.Failures += failures

		// Single writer: every task has returned.
		admitted := f.Admit(frontier.Collapse(found))

		rec.Record(progress.Event{
			Stage:    progress.StageWaveDone,
			Wave:     res.Waves,
			Items:    int64(len(wave)),
			Admitted: int64(len(admitted)),
			Dur:      c.now().Sub(waveStart),
		})
		c.logger.Debug("wave complete",
			zap.Int("wave", res.Waves),
			zap.Int("expanded", len(wave)),
			zap.Int("admitted", len(admitted)),
			zap.Int("visited", f.Size()),
			zap.Int("pending", f.Pending()),
		)
	}

	// A cancel during the final wave fails its tasks and drains the frontier.
	if err := ctx.Err(); err != nil {
		return c.interrupted(rec, f, res, start, err)
	}

	res.Visited = f.Visited()
	rec.Record(progress.Event{Stage: progress.StageRunDone, Items: int64(len(res.Visited)), Dur: c.now().Sub(start)})
	c.logger.Info("crawl finished",
		zap.Int("visited", len(res.Visited)),
		zap.Int("waves", res.Waves),
		zap.Int("failures", res.Failures),
	)
	return res, nil
}

func (c *Crawler) interrupted(
	rec *progress.Recorder,
	f *frontier.Frontier,
	res Result,
	start time.Time,
	err error,
) (Result, error) {
	res.Visited = f.Visited()
	rec.Record(progress.Event{Stage: progress.StageRunError, Dur: c.now().Sub(start), Note: err.Error()})
	c.logger.Warn("crawl interrupted", zap.Int("waves", res.Waves), zap.Int("visited", len(res.Visited)), zap.Error(err))
	return res, fmt.Errorf("crawl interrupted after %d waves: %w", res.Waves, err)
}

// expand extracts links for every URL in wave concurrently and returns one
// candidate slice per URL, indexed like wave. Tasks only read the frontier.
func (c *Crawler) expand(
	ctx context.Context,
	f *frontier.Frontier,
	wave []string,
	rec *progress.Recorder,
	waveNum int,
) ([][]string, int) {
	found := make([][]string, len(wave))
	failed := make([]bool, len(wave))

	var g errgroup.Group
	g.SetLimit(c.cfg.WaveWidth)
	for i, url := range wave {
		g.Go(func() error {
			taskStart := c.now()
			links, err := task.Run(ctx, c.cfg.TaskTimeout, func(ctx context.Context) ([]string, error) {
				return c.src.Links(ctx, url)
			})
			evt := progress.Event{
				Stage:   progress.StageFetchDone,
				Wave:    waveNum,
				URL:     url,
				Site:    metrics.SanitizeSite(url),
				Outcome: task.Outcome(err),
				Dur:     c.now().Sub(taskStart),
			}
			if err != nil {
				failed[i] = true
				evt.Note = err.Error()
				rec.Record(evt)
				c.logFailure(url, err)
				return nil
			}
			fresh := links[:0:0]
			for _, l := range links {
				if !f.Seen(l) {
					fresh = append(fresh, l)
				}
			}
			found[i] = fresh
			evt.Items = int64(len(links))
			rec.Record(evt)
			return nil
		})
	}
	_ = g.Wait() // tasks never return errors

	failures := 0
	for _, bad := range failed {
		if bad {
			failures++
		}
	}
	return found, failures
}

func (c *Crawler) logFailure(url string, err error) {
	if errors.Is(err, task.ErrPanic) {
		c.logger.Error("link extraction panicked", zap.String("url", url), zap.Error(err))
		return
	}
	c.logger.Warn("link extraction failed", zap.String("url", url), zap.Error(err))
}

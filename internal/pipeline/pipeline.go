// Package pipeline wires the crawler, mapper and reducer into complete runs
// and persists their artifacts.
//
// An index run crawls from a seed, splits the visited URLs into shards that
// are mapped one after another, partitions every shard's partial postings by
// term and reduces each partition concurrently. The URL list, each shard's
// partial postings and the final postings are written to the configured blob
// store under <prefix>/<run_id>/, and a completion message is published.
package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/wikindex/internal/crawler"
	"github.com/JakeFAU/wikindex/internal/mapper"
	"github.com/JakeFAU/wikindex/internal/metrics"
	"github.com/JakeFAU/wikindex/internal/postings"
	"github.com/JakeFAU/wikindex/internal/progress"
	"github.com/JakeFAU/wikindex/internal/source"
	"github.com/JakeFAU/wikindex/internal/store"
	"github.com/JakeFAU/wikindex/internal/table"
)

const tsvContentType = "text/tab-separated-values"

// BlobStore persists run artifacts and returns their URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Publisher announces finished runs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// IDGenerator mints run IDs.
type IDGenerator interface {
	NewRawID() (uuid.UUID, error)
}

// Hasher digests artifact bodies.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock supplies timestamps.
type Clock interface {
	Now() time.Time
}

// Deps are the collaborators a Runner needs. Store, Publisher, Hasher and Runs
// are optional.
type Deps struct {
	Source    source.Source
	Store     BlobStore
	Publisher Publisher
	Hasher    Hasher
	Runs      store.RunRecorder
	IDs       IDGenerator
	Clock     Clock
	Logger    *zap.Logger
	Events    progress.Emitter
}

// Config holds stage settings and output placement.
type Config struct {
	Crawl      crawler.Config
	Map        mapper.Config
	Shards     int
	Partitions int
	// Prefix is the blob path every run directory is created under.
	Prefix string
	// Topic receives completion messages when a Publisher is set.
	Topic string
}

// Validate checks every stage configuration.
func (c Config) Validate() error {
	if err := c.Crawl.Validate(); err != nil {
		return err
	}
	if err := c.Map.Validate(); err != nil {
		return err
	}
	if c.Shards < 1 {
		return fmt.Errorf("map.shards must be >= 1")
	}
	if c.Partitions < 1 {
		return fmt.Errorf("reduce.partitions must be >= 1")
	}
	return nil
}

// CrawlRequest overrides the configured crawl bounds when its fields are set.
type CrawlRequest struct {
	Seed      string
	Limit     int
	WaveWidth int
}

// IndexRequest describes a full crawl → map → reduce run.
type IndexRequest struct {
	CrawlRequest
	Vocabulary postings.Vocabulary
}

// Artifacts lists the URIs written for a run.
type Artifacts struct {
	URLs     string   `json:"urls,omitempty"`
	Partials []string `json:"partials,omitempty"`
	Postings string   `json:"postings,omitempty"`
	// PostingsSHA256 is the hex digest of the postings artifact body.
	PostingsSHA256 string `json:"postings_sha256,omitempty"`
}

// IndexResult is the outcome of an index run.
type IndexResult struct {
	RunID     uuid.UUID
	Visited   []string
	Postings  postings.Final
	Failures  int
	Artifacts Artifacts
	MessageID string
}

// Notification is the payload published when an index run completes.
type Notification struct {
	RunID       string    `json:"run_id"`
	Seed        string    `json:"seed"`
	Visited     int       `json:"visited"`
	Terms       int       `json:"terms"`
	PostingsURI string    `json:"postings_uri,omitempty"`
	Checksum    string    `json:"postings_sha256,omitempty"`
	FinishedAt  time.Time `json:"finished_at"`
}

// Runner executes pipeline runs. It is safe for concurrent use; every run
// builds its own crawler, mapper and reducers.
type Runner struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Runner.
func New(deps Deps, cfg Config) (*Runner, error) {
	if deps.Source == nil {
		return nil, errors.New("pipeline source is required")
	}
	if deps.IDs == nil {
		return nil, errors.New("pipeline id generator is required")
	}
	if deps.Clock == nil {
		return nil, errors.New("pipeline clock is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{deps: deps, cfg: cfg, logger: logger}, nil
}

// Crawl runs a standalone crawl.
func (r *Runner) Crawl(ctx context.Context, req CrawlRequest) (crawler.Result, error) {
	runID, err := r.deps.IDs.NewRawID()
	if err != nil {
		return crawler.Result{}, fmt.Errorf("allocate run id: %w", err)
	}
	c, err := r.crawler(req)
	if err != nil {
		return crawler.Result{}, err
	}
	return c.CrawlRun(ctx, runID, req.Seed)
}

// Map builds partial postings for urls in a single shard.
func (r *Runner) Map(ctx context.Context, urls []string, vocab postings.Vocabulary) (postings.Partial, error) {
	runID, err := r.deps.IDs.NewRawID()
	if err != nil {
		return nil, fmt.Errorf("allocate run id: %w", err)
	}
	m, err := r.mapper()
	if err != nil {
		return nil, err
	}
	res, err := m.MapRun(ctx, runID, urls, vocab)
	return res.Partial, err
}

// Reduce streams partial postings lines from in and writes final postings to
// out. Malformed lines are skipped and counted.
func (r *Runner) Reduce(in io.Reader, out io.Writer) (postings.ConsumeStats, error) {
	red := postings.NewReducer(postings.WithLogger(r.logger.Named("reducer")))
	stats, err := red.Consume(in)
	metrics.ObserveSkippedLines(stats.Skipped)
	if err != nil {
		return stats, err
	}
	if err := postings.WriteFinal(out, red.Final()); err != nil {
		return stats, err
	}
	return stats, nil
}

// Index performs a complete run and persists its artifacts.
func (r *Runner) Index(ctx context.Context, req IndexRequest) (IndexResult, error) {
	if len(req.Vocabulary) == 0 {
		return IndexResult{}, errors.New("vocabulary is empty")
	}
	runID, err := r.deps.IDs.NewRawID()
	if err != nil {
		return IndexResult{}, fmt.Errorf("allocate run id: %w", err)
	}
	logger := r.logger.Named("pipeline").With(zap.String("run_id", runID.String()))
	rec := progress.NewRecorder(r.deps.Events, runID, progress.PhaseIndex, r.deps.Clock.Now)
	start := r.deps.Clock.Now()
	rec.Record(progress.Event{Stage: progress.StageRunStart, URL: req.Seed, Site: metrics.SanitizeSite(req.Seed)})
	r.ledger(logger, "start", func(l store.RunRecorder) error {
		return l.StartRun(ctx, runID, req.Seed, start)
	})

	res, err := r.index(ctx, runID, req, logger)
	if err != nil {
		rec.Record(progress.Event{Stage: progress.StageRunError, Dur: r.deps.Clock.Now().Sub(start), Note: err.Error()})
		logger.Error("index run failed", zap.Error(err))
		r.ledger(logger, "fail", func(l store.RunRecorder) error {
			return l.FailRun(context.WithoutCancel(ctx), runID, r.deps.Clock.Now(), err.Error())
		})
		return res, err
	}
	rec.Record(progress.Event{Stage: progress.StageRunDone, Items: int64(len(res.Postings)), Dur: r.deps.Clock.Now().Sub(start)})
	r.ledger(logger, "complete", func(l store.RunRecorder) error {
		return l.CompleteRun(ctx, runID, r.deps.Clock.Now(), store.RunSummary{
			Visited:     len(res.Visited),
			Terms:       len(res.Postings),
			Failures:    res.Failures,
			PostingsURI: res.Artifacts.Postings,
		})
	})
	logger.Info("index run finished",
		zap.Int("visited", len(res.Visited)),
		zap.Int("terms", len(res.Postings)),
		zap.Int("failures", res.Failures),
		zap.String("postings_uri", res.Artifacts.Postings),
	)
	return res, nil
}

// ledger applies fn to the run recorder when one is configured. Ledger
// failures never fail the run.
func (r *Runner) ledger(logger *zap.Logger, op string, fn func(store.RunRecorder) error) {
	if r.deps.Runs == nil {
		return
	}
	if err := fn(r.deps.Runs); err != nil {
		logger.Warn("run ledger update failed", zap.String("op", op), zap.Error(err))
	}
}

func (r *Runner) index(ctx context.Context, runID uuid.UUID, req IndexRequest, logger *zap.Logger) (IndexResult, error) {
	res := IndexResult{RunID: runID}

	c, err := r.crawler(req.CrawlRequest)
	if err != nil {
		return res, err
	}
	crawled, err := c.CrawlRun(ctx, runID, req.Seed)
	res.Visited = crawled.Visited
	res.Failures = crawled.Failures
	if err != nil {
		return res, err
	}

	m, err := r.mapper()
	if err != nil {
		return res, err
	}
	shards := Shard(res.Visited, r.cfg.Shards)
	partials := make([]postings.Partial, len(shards))
	for i, urls := range shards {
		mapped, err := m.MapRun(ctx, runID, urls, req.Vocabulary)
		res.Failures += mapped.Failures
		if err != nil {
			return res, fmt.Errorf("map shard %d: %w", i, err)
		}
		partials[i] = mapped.Partial
		logger.Debug("shard mapped", zap.Int("shard", i), zap.Int("urls", len(urls)))
	}

	reduceRec := progress.NewRecorder(r.deps.Events, runID, progress.PhaseReduce, r.deps.Clock.Now)
	reduceStart := r.deps.Clock.Now()
	reduceRec.Record(progress.Event{Stage: progress.StageRunStart, Items: int64(len(partials))})
	res.Postings, err = ReducePartitioned(ctx, partials, r.cfg.Partitions)
	if err != nil {
		reduceRec.Record(progress.Event{Stage: progress.StageRunError, Dur: r.deps.Clock.Now().Sub(reduceStart), Note: err.Error()})
		return res, err
	}
	reduceRec.Record(progress.Event{Stage: progress.StageRunDone, Items: int64(len(res.Postings)), Dur: r.deps.Clock.Now().Sub(reduceStart)})

	if r.deps.Store != nil {
		res.Artifacts, err = r.writeArtifacts(ctx, runID, res.Visited, partials, res.Postings)
		if err != nil {
			return res, err
		}
	}

	if r.deps.Publisher != nil {
		res.MessageID, err = r.deps.Publisher.Publish(ctx, r.cfg.Topic, Notification{
			RunID:       runID.String(),
			Seed:        req.Seed,
			Visited:     len(res.Visited),
			Terms:       len(res.Postings),
			PostingsURI: res.Artifacts.Postings,
			Checksum:    res.Artifacts.PostingsSHA256,
			FinishedAt:  r.deps.Clock.Now(),
		})
		if err != nil {
			return res, fmt.Errorf("publish run notification: %w", err)
		}
	}
	return res, nil
}

// Shard splits urls into at most n contiguous, nearly equal chunks. It
// always returns at least one chunk so every vocabulary term is emitted.
func Shard(urls []string, n int) [][]string {
	if n < 1 {
		n = 1
	}
	if n > len(urls) {
		n = max(len(urls), 1)
	}
	out := make([][]string, 0, n)
	size, extra := len(urls)/n, len(urls)%n
	lo := 0
	for i := 0; i < n; i++ {
		hi := lo + size
		if i < extra {
			hi++
		}
		out = append(out, urls[lo:hi])
		lo = hi
	}
	return out
}

// ReducePartitioned splits every partial by term hash into n buckets, reduces
// the buckets concurrently with one Reducer each, and concatenates the
// disjoint results.
func ReducePartitioned(ctx context.Context, partials []postings.Partial, n int) (postings.Final, error) {
	if n < 1 {
		n = 1
	}
	buckets := make([][]postings.Partial, n)
	for _, p := range partials {
		for i, part := range postings.Partition(p, n) {
			buckets[i] = append(buckets[i], part)
		}
	}

	finals := make([]postings.Final, n)
	g, gctx := errgroup.WithContext(ctx)
	for i := range buckets {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			finals[i] = postings.Reduce(buckets[i]...)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("reduce partitions: %w", err)
	}

	out := make(postings.Final)
	for _, f := range finals {
		for term, urls := range f {
			out[term] = urls
		}
	}
	return out, nil
}

func (r *Runner) writeArtifacts(
	ctx context.Context,
	runID uuid.UUID,
	visited []string,
	partials []postings.Partial,
	final postings.Final,
) (Artifacts, error) {
	var arts Artifacts
	dir := path.Join(strings.Trim(r.cfg.Prefix, "/"), runID.String())

	var buf bytes.Buffer
	if err := table.WriteKeys(&buf, visited); err != nil {
		return arts, fmt.Errorf("encode url list: %w", err)
	}
	uri, err := r.put(ctx, path.Join(dir, "urls.tsv"), "urls", &buf)
	if err != nil {
		return arts, err
	}
	arts.URLs = uri

	for i, p := range partials {
		buf.Reset()
		if err := postings.WritePartial(&buf, p); err != nil {
			return arts, err
		}
		uri, err := r.put(ctx, path.Join(dir, fmt.Sprintf("partial-%d.tsv", i)), "partial", &buf)
		if err != nil {
			return arts, err
		}
		arts.Partials = append(arts.Partials, uri)
	}

	buf.Reset()
	if err := postings.WriteFinal(&buf, final); err != nil {
		return arts, err
	}
	if r.deps.Hasher != nil {
		if arts.PostingsSHA256, err = r.deps.Hasher.Hash(buf.Bytes()); err != nil {
			return arts, fmt.Errorf("hash postings artifact: %w", err)
		}
	}
	arts.Postings, err = r.put(ctx, path.Join(dir, "postings.tsv"), "postings", &buf)
	return arts, err
}

func (r *Runner) put(ctx context.Context, p, kind string, body io.Reader) (string, error) {
	uri, err := r.deps.Store.PutObject(ctx, p, tsvContentType, body)
	if err != nil {
		return "", fmt.Errorf("write %s artifact: %w", kind, err)
	}
	metrics.ObserveArtifact(kind)
	return uri, nil
}

func (r *Runner) crawler(req CrawlRequest) (*crawler.Crawler, error) {
	cfg := r.cfg.Crawl
	if req.Limit > 0 {
		cfg.Limit = req.Limit
	}
	if req.WaveWidth > 0 {
		cfg.WaveWidth = req.WaveWidth
	}
	c, err := crawler.New(r.deps.Source, cfg,
		crawler.WithLogger(r.logger),
		crawler.WithEmitter(r.deps.Events),
		crawler.WithClock(r.deps.Clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("configure crawler: %w", err)
	}
	return c, nil
}

func (r *Runner) mapper() (*mapper.Mapper, error) {
	m, err := mapper.New(r.deps.Source, r.cfg.Map,
		mapper.WithLogger(r.logger),
		mapper.WithEmitter(r.deps.Events),
		mapper.WithClock(r.deps.Clock.Now),
	)
	if err != nil {
		return nil, fmt.Errorf("configure mapper: %w", err)
	}
	return m, nil
}

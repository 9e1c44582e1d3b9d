package app_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/app"
	"github.com/JakeFAU/wikindex/internal/config"
	"github.com/JakeFAU/wikindex/internal/pipeline"
	"github.com/JakeFAU/wikindex/internal/postings"
	"github.com/JakeFAU/wikindex/internal/store"
)

const fixtureYAML = `
pages:
  https://w.org/wiki/Apple:
    text: apple orchard banana
    links: [https://w.org/wiki/Banana]
  https://w.org/wiki/Banana:
    text: banana
    links: [https://w.org/wiki/Apple]
`

func fixtureConfig(t *testing.T) config.Config {
	t.Helper()
	path := filepath.Join(t.TempDir(), "graph.yaml")
	require.NoError(t, os.WriteFile(path, []byte(fixtureYAML), 0o600))

	v := config.New()
	v.Set("source.kind", config.SourceFixture)
	v.Set("source.fixture", path)
	v.Set("notify.backend", config.BackendMemory)
	v.Set("notify.topic", "index-runs")
	v.Set("progress.log_events", true)
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	return cfg
}

func TestNewWithFixtureSource(t *testing.T) {
	t.Parallel()

	cfg := fixtureConfig(t)
	a, err := app.New(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { a.Close(context.Background()) })

	assert.NotNil(t, a.Logger())
	assert.Equal(t, cfg, a.Config())
	require.NotNil(t, a.Runner())

	res, err := a.Runner().Index(context.Background(), pipeline.IndexRequest{
		CrawlRequest: pipeline.CrawlRequest{Seed: "https://w.org/wiki/Apple"},
		Vocabulary:   postings.NewVocabulary("apple", "banana", "cherry"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://w.org/wiki/Apple", "https://w.org/wiki/Banana"}, res.Visited)
	assert.Equal(t, []string{"https://w.org/wiki/Apple", "https://w.org/wiki/Banana"}, res.Postings["banana"])
	assert.Empty(t, res.Postings["cherry"])
	assert.Contains(t, res.Artifacts.Postings, "memory://runs/")
	assert.Equal(t, "memory-1", res.MessageID)

	require.NotNil(t, a.Runs())
	run, err := a.Runs().GetRun(context.Background(), res.RunID)
	require.NoError(t, err)
	assert.Equal(t, store.RunSuccess, run.Status)
	assert.Equal(t, 3, run.Terms)
}

func TestNewWithoutLedger(t *testing.T) {
	t.Parallel()

	cfg := fixtureConfig(t)
	cfg.Ledger.Backend = config.BackendNone
	a, err := app.New(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	defer a.Close(context.Background())
	assert.Nil(t, a.Runs())
}

func TestNewFailsOnBadLedgerDSN(t *testing.T) {
	t.Parallel()

	cfg := fixtureConfig(t)
	cfg.Ledger.Backend = config.BackendPostgres
	cfg.Ledger.DSN = "://not a dsn"
	_, err := app.New(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.ErrorContains(t, err, "build postgres ledger")
}

func TestNewWithLocalStorage(t *testing.T) {
	t.Parallel()

	cfg := fixtureConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.BaseDir = t.TempDir()

	a, err := app.New(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	defer a.Close(context.Background())

	res, err := a.Runner().Index(context.Background(), pipeline.IndexRequest{
		CrawlRequest: pipeline.CrawlRequest{Seed: "https://w.org/wiki/Apple"},
		Vocabulary:   postings.NewVocabulary("orchard"),
	})
	require.NoError(t, err)
	assert.Contains(t, res.Artifacts.Postings, "file://"+cfg.Storage.BaseDir)
}

func TestNewWithWikiSource(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(config.New(), "")
	require.NoError(t, err)

	a, err := app.New(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	a.Close(context.Background())
}

func TestNewWithAutoRenderer(t *testing.T) {
	t.Parallel()

	v := config.New()
	v.Set("source.renderer", config.RendererAuto)
	cfg, err := config.Load(v, "")
	require.NoError(t, err)

	a, err := app.New(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.NoError(t, err)
	require.NotNil(t, a.Runner())
	a.Close(context.Background())
}

func TestNewFailsOnMissingFixture(t *testing.T) {
	t.Parallel()

	cfg := fixtureConfig(t)
	cfg.Source.Fixture = filepath.Join(t.TempDir(), "missing.yaml")
	_, err := app.New(context.Background(), cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
	require.ErrorContains(t, err, "load fixture source")
}

func TestNewFailsOnDuplicateRegistration(t *testing.T) {
	t.Parallel()

	cfg := fixtureConfig(t)
	reg := prometheus.NewRegistry()
	first, err := app.New(context.Background(), cfg, app.WithLogger(zap.NewNop()), app.WithRegisterer(reg))
	require.NoError(t, err)
	defer first.Close(context.Background())

	_, err = app.New(context.Background(), cfg, app.WithLogger(zap.NewNop()), app.WithRegisterer(reg))
	require.ErrorContains(t, err, "build progress metrics")
}

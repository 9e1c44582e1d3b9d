package cmd

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/wikindex/internal/app"
	"github.com/JakeFAU/wikindex/internal/config"
)

const graphYAML = `
pages:
  https://w.org/wiki/A:
    text: apple banana
    links: [https://w.org/wiki/B, https://w.org/wiki/C]
  https://w.org/wiki/B:
    text: banana cherry
    links: [https://w.org/wiki/D, https://w.org/wiki/A]
  https://w.org/wiki/C:
    text: cherry
  https://w.org/wiki/D:
    text: apple date
`

const wantPostings = "apple\thttps://w.org/wiki/A https://w.org/wiki/D\n" +
	"banana\thttps://w.org/wiki/A https://w.org/wiki/B\n" +
	"cherry\thttps://w.org/wiki/B https://w.org/wiki/C\n" +
	"zebra\t\n"

type harness struct {
	fixture string
	vocab   string
	dir     string
	cfg     config.Config
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	h := &harness{
		fixture: filepath.Join(dir, "graph.yaml"),
		vocab:   filepath.Join(dir, "vocab.tsv"),
		dir:     dir,
	}
	require.NoError(t, os.WriteFile(h.fixture, []byte(graphYAML), 0o600))
	require.NoError(t, os.WriteFile(h.vocab, []byte("apple\t\nbanana\t\ncherry\t\nzebra\t\n"), 0o600))
	return h
}

func (h *harness) factory(ctx context.Context, cfg config.Config) (App, error) {
	h.cfg = cfg
	return app.New(ctx, cfg,
		app.WithLogger(zap.NewNop()),
		app.WithRegisterer(prometheus.NewRegistry()),
	)
}

func (h *harness) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd(h.factory)
	var out bytes.Buffer
	root.SetIn(strings.NewReader(stdin))
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--source", config.SourceFixture, "--fixture", h.fixture}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCrawlCommandWritesURLList(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	out, err := h.run(t, "", "crawl", "--seed", "https://w.org/wiki/A", "--wave-width", "2")
	require.NoError(t, err)
	assert.Equal(t, "https://w.org/wiki/A\t\nhttps://w.org/wiki/B\t\nhttps://w.org/wiki/C\t\nhttps://w.org/wiki/D\t\n", out)
}

func TestCrawlCommandHonorsLimitAndOutFile(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	path := filepath.Join(h.dir, "urls.tsv")
	out, err := h.run(t, "", "crawl", "--seed", "https://w.org/wiki/A", "--limit", "2", "--out", path)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "https://w.org/wiki/A\t\nhttps://w.org/wiki/B\t\n", string(data))
}

func TestCrawlCommandRequiresSeed(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.run(t, "", "crawl")
	require.ErrorContains(t, err, "seed")
}

func TestMapCommandReadsURLsFromStdin(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	out, err := h.run(t, "https://w.org/wiki/A\t\nhttps://w.org/wiki/C\n", "map", "--vocabulary", h.vocab)
	require.NoError(t, err)
	assert.Equal(t, "apple\thttps://w.org/wiki/A\n"+
		"banana\thttps://w.org/wiki/A\n"+
		"cherry\thttps://w.org/wiki/C\n"+
		"zebra\t\n", out)
}

func TestMapCommandMissingVocabulary(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.run(t, "", "map", "--vocabulary", filepath.Join(h.dir, "nope.tsv"))
	require.ErrorContains(t, err, "open vocabulary")
}

func TestReduceCommandSkipsMalformedLines(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	in := "banana\thttps://y https://x\n" +
		"no tab here\n" +
		"banana\thttps://x\n" +
		"apple\t\n"
	out, err := h.run(t, in, "reduce")
	require.NoError(t, err)
	assert.Equal(t, "apple\t\nbanana\thttps://x https://y\n", out)
}

func TestMapThenReduceMatchesIndex(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	urls, err := h.run(t, "", "crawl", "--seed", "https://w.org/wiki/A")
	require.NoError(t, err)
	partial, err := h.run(t, urls, "map", "--vocabulary", h.vocab)
	require.NoError(t, err)
	final, err := h.run(t, partial, "reduce")
	require.NoError(t, err)
	assert.Equal(t, wantPostings, final)

	indexed, err := h.run(t, "", "index", "--seed", "https://w.org/wiki/A", "--vocabulary", h.vocab)
	require.NoError(t, err)
	assert.Equal(t, wantPostings, indexed)
}

func TestIndexCommandBindsShardAndPartitionFlags(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	out, err := h.run(t, "", "--dev", "index",
		"--seed", "https://w.org/wiki/A",
		"--vocabulary", h.vocab,
		"--shards", "3",
		"--partitions", "2",
	)
	require.NoError(t, err)
	assert.Equal(t, wantPostings, out)
	assert.Equal(t, 3, h.cfg.Map.Shards)
	assert.Equal(t, 2, h.cfg.Reduce.Partitions)
	assert.True(t, h.cfg.Logging.Development)
	assert.Equal(t, config.SourceFixture, h.cfg.Source.Kind)
}

func TestConfigFileFeedsCommands(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	cfgPath := filepath.Join(h.dir, "wikindex.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("crawl:\n  limit: 1\n"), 0o600))

	out, err := h.run(t, "", "--config", cfgPath, "crawl", "--seed", "https://w.org/wiki/A")
	require.NoError(t, err)
	assert.Equal(t, "https://w.org/wiki/A\t\n", out)
	assert.Equal(t, 1, h.cfg.Crawl.Limit)
}

func TestInvalidConfigFailsBeforeRunning(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	_, err := h.run(t, "", "--source", "ftp", "reduce")
	require.ErrorContains(t, err, "load config")
}

func TestResolveAppWithoutApp(t *testing.T) {
	t.Parallel()

	_, err := resolveApp(context.Background())
	require.EqualError(t, err, "application services not initialized")
}

func TestServeAnswersUntilCancelled(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	v := config.New()
	v.Set("source.kind", config.SourceFixture)
	v.Set("source.fixture", h.fixture)
	v.Set("server.rate_limit.rps", 0.001)
	v.Set("server.rate_limit.burst", 1)
	cfg, err := config.Load(v, "")
	require.NoError(t, err)
	appInstance, err := h.factory(context.Background(), cfg)
	require.NoError(t, err)
	defer appInstance.Close(context.Background())

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, lis, appInstance, time.Second) }()

	url := "http://" + lis.Addr().String() + "/healthz"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url) //nolint:noctx // test probe
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	runsURL := "http://" + lis.Addr().String() + "/v1/runs"
	resp, err := http.Get(runsURL) //nolint:noctx // test probe
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(runsURL) //nolint:noctx // test probe
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not stop after cancellation")
	}
}

package pipeline

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/wikindex/internal/crawler"
	"github.com/JakeFAU/wikindex/internal/hash/sha256"
	"github.com/JakeFAU/wikindex/internal/mapper"
	"github.com/JakeFAU/wikindex/internal/postings"
	pubmemory "github.com/JakeFAU/wikindex/internal/publisher/memory"
	"github.com/JakeFAU/wikindex/internal/source/memory"
	storemem "github.com/JakeFAU/wikindex/internal/storage/memory"
	"github.com/JakeFAU/wikindex/internal/store"
	runmem "github.com/JakeFAU/wikindex/internal/store/memory"
)

type fixedIDs struct{ id uuid.UUID }

func (f fixedIDs) NewRawID() (uuid.UUID, error) { return f.id, nil }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var (
	testRunID = uuid.MustParse("01920000-0000-7000-8000-000000000001")
	testTime  = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func graph() *memory.Source {
	return memory.New(map[string]memory.Page{
		"A": {Text: "apple banana", Links: []string{"B", "C"}},
		"B": {Text: "banana cherry", Links: []string{"D"}},
		"C": {Text: "cherry", Links: []string{"D", "A"}},
		"D": {Text: "apple date", Links: nil},
	})
}

func testConfig() Config {
	return Config{
		Crawl:      crawler.Config{Limit: 10, WaveWidth: 2, TaskTimeout: time.Second},
		Map:        mapper.Config{WindowWidth: 2, TaskTimeout: time.Second},
		Shards:     2,
		Partitions: 3,
		Prefix:     "runs/",
		Topic:      "index-runs",
	}
}

func newRunner(t *testing.T, deps Deps, cfg Config) *Runner {
	t.Helper()
	if deps.IDs == nil {
		deps.IDs = fixedIDs{id: testRunID}
	}
	if deps.Clock == nil {
		deps.Clock = fixedClock{t: testTime}
	}
	r, err := New(deps, cfg)
	require.NoError(t, err)
	return r
}

func TestIndexEndToEnd(t *testing.T) {
	t.Parallel()

	blobs := storemem.NewBlobStore()
	pub := pubmemory.New()
	r := newRunner(t, Deps{Source: graph(), Store: blobs, Publisher: pub, Hasher: sha256.New()}, testConfig())

	res, err := r.Index(context.Background(), IndexRequest{
		CrawlRequest: CrawlRequest{Seed: "A"},
		Vocabulary:   postings.NewVocabulary("apple", "banana", "cherry", "date", "elder"),
	})
	require.NoError(t, err)
	require.Equal(t, testRunID, res.RunID)
	require.Equal(t, []string{"A", "B", "C", "D"}, res.Visited)

	want := postings.Final{
		"apple":  {"A", "D"},
		"banana": {"A", "B"},
		"cherry": {"B", "C"},
		"date":   {"D"},
		"elder":  {},
	}
	require.True(t, want.Equal(res.Postings), "got %v", res.Postings)

	dir := "runs/" + testRunID.String()
	require.Equal(t, []string{
		dir + "/partial-0.tsv",
		dir + "/partial-1.tsv",
		dir + "/postings.tsv",
		dir + "/urls.tsv",
	}, blobs.Paths())
	require.Equal(t, "memory://"+dir+"/postings.tsv", res.Artifacts.Postings)
	require.Len(t, res.Artifacts.Partials, 2)

	postingsTSV, ok := blobs.Object(dir + "/postings.tsv")
	require.True(t, ok)
	require.Equal(t, "apple\tA D\nbanana\tA B\ncherry\tB C\ndate\tD\nelder\t\n", string(postingsTSV))
	digest, err := sha256.New().Hash(postingsTSV)
	require.NoError(t, err)
	require.Equal(t, digest, res.Artifacts.PostingsSHA256)

	urls, ok := blobs.Object(dir + "/urls.tsv")
	require.True(t, ok)
	require.Equal(t, "A\t\nB\t\nC\t\nD\t\n", string(urls))

	partial0, ok := blobs.Object(dir + "/partial-0.tsv")
	require.True(t, ok)
	require.Equal(t, "apple\tA\nbanana\tA B\ncherry\tB\ndate\t\nelder\t\n", string(partial0))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	require.Equal(t, "index-runs", msgs[0].Topic)
	var note Notification
	require.NoError(t, msgs[0].Decode(&note))
	require.Equal(t, Notification{
		RunID:       testRunID.String(),
		Seed:        "A",
		Visited:     4,
		Terms:       5,
		PostingsURI: res.Artifacts.Postings,
		Checksum:    digest,
		FinishedAt:  testTime,
	}, note)
	require.Equal(t, "memory-1", res.MessageID)
}

func TestIndexPartitionCountDoesNotChangeResult(t *testing.T) {
	t.Parallel()

	vocab := postings.NewVocabulary("apple", "banana", "cherry", "date")
	var baseline postings.Final
	for _, shards := range []int{1, 2, 3, 7} {
		for _, parts := range []int{1, 2, 5} {
			cfg := testConfig()
			cfg.Shards, cfg.Partitions = shards, parts
			res, err := newRunner(t, Deps{Source: graph()}, cfg).Index(context.Background(), IndexRequest{
				CrawlRequest: CrawlRequest{Seed: "A"},
				Vocabulary:   vocab,
			})
			require.NoError(t, err)
			if baseline == nil {
				baseline = res.Postings
				continue
			}
			require.True(t, baseline.Equal(res.Postings), "shards=%d partitions=%d", shards, parts)
		}
	}
}

func TestIndexHonorsRequestOverrides(t *testing.T) {
	t.Parallel()

	src := graph()
	res, err := newRunner(t, Deps{Source: src}, testConfig()).Index(context.Background(), IndexRequest{
		CrawlRequest: CrawlRequest{Seed: "A", Limit: 1},
		Vocabulary:   postings.NewVocabulary("apple"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"A"}, res.Visited)
	require.Equal(t, 0, src.LinkCalls("A"))
	require.Equal(t, []string{"A"}, res.Postings["apple"])
}

func TestIndexRejectsEmptyVocabulary(t *testing.T) {
	t.Parallel()

	_, err := newRunner(t, Deps{Source: graph()}, testConfig()).Index(context.Background(), IndexRequest{
		CrawlRequest: CrawlRequest{Seed: "A"},
	})
	require.ErrorContains(t, err, "vocabulary")
}

type failingStore struct{}

func (failingStore) PutObject(context.Context, string, string, io.Reader) (string, error) {
	return "", errors.New("bucket unavailable")
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("topic missing")
}

func TestIndexSurfacesOutputFailures(t *testing.T) {
	t.Parallel()

	req := IndexRequest{CrawlRequest: CrawlRequest{Seed: "A"}, Vocabulary: postings.NewVocabulary("apple")}

	_, err := newRunner(t, Deps{Source: graph(), Store: failingStore{}}, testConfig()).Index(context.Background(), req)
	require.ErrorContains(t, err, "write urls artifact")

	res, err := newRunner(t, Deps{Source: graph(), Publisher: failingPublisher{}}, testConfig()).Index(context.Background(), req)
	require.ErrorContains(t, err, "publish run notification")
	require.NotEmpty(t, res.Postings)
}

func TestIndexAbsorbsFetchFailures(t *testing.T) {
	t.Parallel()

	src := graph()
	src.Fail("B", errors.New("status 500"))
	res, err := newRunner(t, Deps{Source: src}, testConfig()).Index(context.Background(), IndexRequest{
		CrawlRequest: CrawlRequest{Seed: "A"},
		Vocabulary:   postings.NewVocabulary("banana", "cherry"),
	})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C", "D"}, res.Visited)
	// B fails in both the crawl and the map phase.
	require.Equal(t, 2, res.Failures)
	require.Equal(t, []string{"A"}, res.Postings["banana"])
	require.Equal(t, []string{"C"}, res.Postings["cherry"])
}

func TestCrawlAndMap(t *testing.T) {
	t.Parallel()

	r := newRunner(t, Deps{Source: graph()}, testConfig())
	crawled, err := r.Crawl(context.Background(), CrawlRequest{Seed: "A", Limit: 3, WaveWidth: 2})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "B", "C"}, crawled.Visited)

	partial, err := r.Map(context.Background(), crawled.Visited, postings.NewVocabulary("cherry", "date"))
	require.NoError(t, err)
	require.Equal(t, []string{"B", "C"}, partial.URLs("cherry"))
	require.Empty(t, partial.URLs("date"))
}

func TestReduceStreams(t *testing.T) {
	t.Parallel()

	r := newRunner(t, Deps{Source: graph()}, testConfig())
	in := strings.NewReader("apple\tu1\nno tab here\napple\tu3 u1\nbanana\t\n")
	var out bytes.Buffer
	stats, err := r.Reduce(in, &out)
	require.NoError(t, err)
	require.Equal(t, 3, stats.Rows)
	require.Equal(t, 1, stats.Skipped)
	require.Equal(t, "apple\tu1 u3\nbanana\t\n", out.String())
}

func TestShard(t *testing.T) {
	t.Parallel()

	urls := []string{"a", "b", "c", "d", "e"}
	require.Equal(t, [][]string{{"a", "b"}, {"c", "d"}, {"e"}}, Shard(urls, 3))
	require.Equal(t, [][]string{{"a", "b", "c", "d", "e"}}, Shard(urls, 0))
	require.Len(t, Shard(urls, 9), 5)
	empty := Shard(nil, 4)
	require.Len(t, empty, 1)
	require.Empty(t, empty[0])
}

func TestReducePartitionedMatchesSingleReducer(t *testing.T) {
	t.Parallel()

	vocab := make([]string, 40)
	for i := range vocab {
		vocab[i] = fmt.Sprintf("term%02d", i)
	}
	a := postings.NewPartial(postings.NewVocabulary(vocab...))
	b := postings.NewPartial(postings.NewVocabulary(vocab...))
	for i, term := range vocab {
		a.Add(term, fmt.Sprintf("u%d", i%3))
		b.Add(term, fmt.Sprintf("u%d", i%5))
	}

	got, err := ReducePartitioned(context.Background(), []postings.Partial{a, b}, 4)
	require.NoError(t, err)
	require.True(t, postings.Reduce(a, b).Equal(got))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = ReducePartitioned(ctx, []postings.Partial{a}, 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestNewValidates(t *testing.T) {
	t.Parallel()

	ids, clk := fixedIDs{id: testRunID}, fixedClock{t: testTime}
	_, err := New(Deps{IDs: ids, Clock: clk}, testConfig())
	require.ErrorContains(t, err, "source")
	_, err = New(Deps{Source: graph(), Clock: clk}, testConfig())
	require.ErrorContains(t, err, "id generator")
	_, err = New(Deps{Source: graph(), IDs: ids}, testConfig())
	require.ErrorContains(t, err, "clock")

	cfg := testConfig()
	cfg.Shards = 0
	_, err = New(Deps{Source: graph(), IDs: ids, Clock: clk}, cfg)
	require.ErrorContains(t, err, "map.shards")

	cfg = testConfig()
	cfg.Partitions = 0
	_, err = New(Deps{Source: graph(), IDs: ids, Clock: clk}, cfg)
	require.ErrorContains(t, err, "reduce.partitions")

	cfg = testConfig()
	cfg.Map.WindowWidth = 11
	_, err = New(Deps{Source: graph(), IDs: ids, Clock: clk}, cfg)
	require.ErrorContains(t, err, "map.window_width")
}

func TestIndexRecordsRunLedger(t *testing.T) {
	t.Parallel()

	runs := runmem.NewRunStore()
	blobs := storemem.NewBlobStore()
	r := newRunner(t, Deps{Source: graph(), Store: blobs, Runs: runs}, testConfig())
	res, err := r.Index(context.Background(), IndexRequest{
		CrawlRequest: CrawlRequest{Seed: "A"},
		Vocabulary:   postings.NewVocabulary("apple", "banana"),
	})
	require.NoError(t, err)

	run, err := runs.GetRun(context.Background(), testRunID)
	require.NoError(t, err)
	require.Equal(t, store.RunSuccess, run.Status)
	require.Equal(t, "A", run.Seed)
	require.Equal(t, testTime, run.StartedAt)
	require.Equal(t, 4, run.Visited)
	require.Equal(t, 2, run.Terms)
	require.Equal(t, res.Artifacts.Postings, run.PostingsURI)
}

func TestIndexRecordsLedgerFailure(t *testing.T) {
	t.Parallel()

	runs := runmem.NewRunStore()
	_, err := newRunner(t, Deps{Source: graph(), Publisher: failingPublisher{}, Runs: runs}, testConfig()).
		Index(context.Background(), IndexRequest{
			CrawlRequest: CrawlRequest{Seed: "A"},
			Vocabulary:   postings.NewVocabulary("apple"),
		})
	require.Error(t, err)

	run, err := runs.GetRun(context.Background(), testRunID)
	require.NoError(t, err)
	require.Equal(t, store.RunError, run.Status)
	require.NotNil(t, run.ErrorMessage)
	require.Contains(t, *run.ErrorMessage, "publish run notification")
}

type brokenLedger struct{}

func (brokenLedger) StartRun(context.Context, uuid.UUID, string, time.Time) error {
	return errors.New("ledger offline")
}

func (brokenLedger) CompleteRun(context.Context, uuid.UUID, time.Time, store.RunSummary) error {
	return errors.New("ledger offline")
}

func (brokenLedger) FailRun(context.Context, uuid.UUID, time.Time, string) error {
	return errors.New("ledger offline")
}

func TestIndexIgnoresLedgerErrors(t *testing.T) {
	t.Parallel()

	res, err := newRunner(t, Deps{Source: graph(), Runs: brokenLedger{}}, testConfig()).
		Index(context.Background(), IndexRequest{
			CrawlRequest: CrawlRequest{Seed: "A"},
			Vocabulary:   postings.NewVocabulary("apple"),
		})
	require.NoError(t, err)
	require.Equal(t, []string{"A", "D"}, res.Postings["apple"])
}

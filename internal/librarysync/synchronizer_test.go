package librarysync

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/paper-sync-service/internal/acquisition"
	"github.com/helixir/paper-sync-service/internal/domain"
	"github.com/helixir/paper-sync-service/internal/papersources"
	"github.com/helixir/paper-sync-service/internal/resolver"
)

// fakeRemote answers bulk and single lookups from a fixed record set.
type fakeRemote struct {
	mu       sync.Mutex
	records  []domain.CandidateRecord
	queries  []string
	rows     []int
	exports  [][]string
	searchFn func(call int, query string) (*papersources.SearchResult, error)
	exportFn func(ids []string) (string, error)
	refsFn   func(id string) ([]domain.CandidateRecord, error)
	citsFn   func(id string) ([]domain.CandidateRecord, error)

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (f *fakeRemote) Search(_ context.Context, query string, opts papersources.SearchOptions) (*papersources.SearchResult, error) {
	f.mu.Lock()
	f.queries = append(f.queries, query)
	f.rows = append(f.rows, opts.Rows)
	call := len(f.queries)
	f.mu.Unlock()

	if f.searchFn != nil {
		return f.searchFn(call, query)
	}
	return f.match(query), nil
}

func (f *fakeRemote) match(query string) *papersources.SearchResult {
	res := &papersources.SearchResult{}
	for _, rec := range f.records {
		ids := rec.Identifiers
		if (ids.Bibcode != "" && strings.Contains(query, `"`+ids.Bibcode+`"`)) ||
			(ids.DOI != "" && query == `doi:"`+ids.DOI+`"`) ||
			(ids.ArXivID != "" && query == `identifier:"arXiv:`+ids.ArXivID+`"`) {
			res.Records = append(res.Records, rec)
		}
	}
	res.NumFound = len(res.Records)
	return res
}

func (f *fakeRemote) ExportCitations(_ context.Context, ids []string) (string, error) {
	f.mu.Lock()
	f.exports = append(f.exports, append([]string(nil), ids...))
	f.mu.Unlock()
	if f.exportFn != nil {
		return f.exportFn(ids)
	}
	var b strings.Builder
	for _, id := range ids {
		fmt.Fprintf(&b, "@ARTICLE{%s,\n  title = {T},\n  adsurl = {https://ui.adsabs.harvard.edu/abs/%s}\n}\n\n", id, id)
	}
	return b.String(), nil
}

func (f *fakeRemote) GetReferences(_ context.Context, id string) ([]domain.CandidateRecord, error) {
	n := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		cur := f.maxInFlight.Load()
		if n <= cur || f.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)

	if f.refsFn != nil {
		return f.refsFn(id)
	}
	return []domain.CandidateRecord{{Title: "ref of " + id}}, nil
}

func (f *fakeRemote) GetCitations(_ context.Context, id string) ([]domain.CandidateRecord, error) {
	if f.citsFn != nil {
		return f.citsFn(id)
	}
	return []domain.CandidateRecord{{Title: "cit of " + id}}, nil
}

func (f *fakeRemote) searchCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.delays = append(s.delays, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.delays...)
}

func record(bibcode, title string) domain.CandidateRecord {
	return domain.CandidateRecord{
		Title:         title,
		Authors:       []string{"Smith, J."},
		Year:          2019,
		Journal:       "ApJ",
		Identifiers:   domain.Identifiers{Bibcode: bibcode},
		CitationCount: 7,
	}
}

func paper(title string, ids domain.Identifiers) *domain.Paper {
	return &domain.Paper{ID: uuid.New(), Title: title, Identifiers: ids}
}

func newTestSync(remote papersources.Remote, cfg Config, opts ...Option) (*Synchronizer, *sleepRecorder) {
	rec := &sleepRecorder{}
	opts = append([]Option{WithSleep(rec.sleep)}, opts...)
	return New(remote, nil, nil, cfg, zerolog.Nop(), nil, opts...), rec
}

func assertSumInvariant(t *testing.T, s *Summary) {
	t.Helper()
	assert.Equal(t, s.Total, s.Updated+s.Failed+s.Skipped, "every paper needs exactly one outcome")
	for _, task := range s.Tasks {
		assert.NotEmpty(t, task.Outcome)
	}
}

func outcomes(s *Summary) map[string]domain.SyncOutcome {
	out := make(map[string]domain.SyncOutcome, len(s.Tasks))
	for _, task := range s.Tasks {
		out[task.Paper.Title] = task.Outcome
	}
	return out
}

func TestSync_PartitionsAndCountsEveryPaper(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{
		record("2019ApJ...001A", "b1"),
		record("2019ApJ...002B", "b2"),
		{Title: "d1", Identifiers: domain.Identifiers{Bibcode: "2020MNRAS.003C", DOI: "10.1/abc"}},
	}}
	s, _ := newTestSync(remote, DefaultConfig())

	papers := []*domain.Paper{
		paper("b1", domain.Identifiers{Bibcode: "2019ApJ...001A"}),
		paper("b2", domain.Identifiers{Bibcode: "2019ApJ...002B"}),
		paper("b3", domain.Identifiers{Bibcode: "2019ApJ...404Z"}),
		paper("d1", domain.Identifiers{DOI: "https://doi.org/10.1/ABC"}),
		paper("a1", domain.Identifiers{ArXivID: "2101.00001"}),
		paper("n1", domain.Identifiers{}),
	}

	summary, err := s.Sync(context.Background(), papers, nil)
	require.NoError(t, err)
	assertSumInvariant(t, summary)

	assert.Equal(t, 6, summary.Total)
	assert.Equal(t, 3, summary.Updated)
	assert.Equal(t, 3, summary.Skipped)
	assert.Zero(t, summary.Failed)
	assert.Empty(t, summary.Errors)

	got := outcomes(summary)
	assert.Equal(t, domain.SyncOutcomeUpdated, got["b1"])
	assert.Equal(t, domain.SyncOutcomeUpdated, got["b2"])
	assert.Equal(t, domain.SyncOutcomeSkipped, got["b3"])
	assert.Equal(t, domain.SyncOutcomeUpdated, got["d1"])
	assert.Equal(t, domain.SyncOutcomeSkipped, got["a1"])
	assert.Equal(t, domain.SyncOutcomeSkipped, got["n1"])

	for _, task := range summary.Tasks {
		switch task.Paper.Title {
		case "b3", "a1":
			assert.Equal(t, ReasonNotFound, task.Reason)
		case "n1":
			assert.Equal(t, ReasonNoIdentifier, task.Reason)
		}
	}

	queries := remote.searchCalls()
	require.Len(t, queries, 3)
	assert.Equal(t, `bibcode:("2019ApJ...001A" OR "2019ApJ...002B" OR "2019ApJ...404Z")`, queries[0])
	assert.Equal(t, `doi:"10.1/abc"`, queries[1])
	assert.Equal(t, `identifier:"arXiv:2101.00001"`, queries[2])
	assert.Equal(t, []int{3, 1, 1}, remote.rows)
}

func TestSync_MergesRemoteMetadataWithoutTouchingInput(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("2019ApJ...001A", "Remote title")}}
	s, _ := newTestSync(remote, DefaultConfig())

	in := paper("local", domain.Identifiers{Bibcode: "2019ApJ...001A"})
	summary, err := s.Sync(context.Background(), []*domain.Paper{in}, nil)
	require.NoError(t, err)

	task := summary.Tasks[0]
	require.Equal(t, domain.SyncOutcomeUpdated, task.Outcome)
	assert.Equal(t, "Remote title", task.Paper.Title)
	assert.Equal(t, []string{"Smith, J."}, task.Paper.Authors)
	assert.Equal(t, 2019, task.Paper.Year)
	assert.Equal(t, 7, task.Paper.CitationCount)
	assert.Contains(t, task.Paper.BibTeX, "@ARTICLE{2019ApJ...001A")
	assert.NotNil(t, task.Paper.LastSyncedAt)
	assert.Len(t, task.References, 1)
	assert.Len(t, task.Citations, 1)

	assert.Equal(t, "local", in.Title)
	assert.Empty(t, in.BibTeX)
	assert.Nil(t, in.LastSyncedAt)
}

func TestSync_RetriesServerErrorsWithIncreasingBackoff(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("2019ApJ...001A", "p")}}
	remote.searchFn = func(call int, query string) (*papersources.SearchResult, error) {
		if call <= 2 {
			return nil, domain.NewExternalAPIError("ads", http.StatusServiceUnavailable, "unavailable", nil)
		}
		return remote.match(query), nil
	}
	s, sleeps := newTestSync(remote, DefaultConfig())

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("p", domain.Identifiers{Bibcode: "2019ApJ...001A"}),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Updated)
	assert.Len(t, remote.searchCalls(), 3)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeps.recorded())
}

func TestSync_ExhaustedRetriesFailTheChunk(t *testing.T) {
	remote := &fakeRemote{}
	remote.searchFn = func(int, string) (*papersources.SearchResult, error) {
		return nil, domain.NewExternalAPIError("ads", http.StatusBadGateway, "bad gateway", nil)
	}
	s, sleeps := newTestSync(remote, DefaultConfig())

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("p1", domain.Identifiers{Bibcode: "A"}),
		paper("p2", domain.Identifiers{Bibcode: "B"}),
	}, nil)
	require.NoError(t, err)
	assertSumInvariant(t, summary)

	assert.Equal(t, 2, summary.Failed)
	require.Len(t, summary.Errors, 2)
	assert.Equal(t, "p1", summary.Errors[0].PaperTitle)
	assert.Contains(t, summary.Errors[0].Message, "batch lookup")
	assert.Len(t, remote.searchCalls(), 4)
	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second, 6 * time.Second}, sleeps.recorded())
}

func TestSync_ClientErrorsAreNotRetried(t *testing.T) {
	remote := &fakeRemote{}
	remote.searchFn = func(int, string) (*papersources.SearchResult, error) {
		return nil, domain.NewExternalAPIError("ads", http.StatusBadRequest, "syntax error", nil)
	}
	s, sleeps := newTestSync(remote, DefaultConfig())

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("p", domain.Identifiers{Bibcode: "A"}),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Len(t, remote.searchCalls(), 1)
	assert.Empty(t, sleeps.recorded())
}

func TestSync_UnauthorizedAbortsTheBatch(t *testing.T) {
	remote := &fakeRemote{}
	remote.searchFn = func(int, string) (*papersources.SearchResult, error) {
		return nil, domain.NewExternalAPIError("ads", http.StatusUnauthorized, "bad token", nil)
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	s, _ := newTestSync(remote, cfg)

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("p1", domain.Identifiers{Bibcode: "A"}),
		paper("p2", domain.Identifiers{Bibcode: "B"}),
		paper("p3", domain.Identifiers{DOI: "10.1/x"}),
	}, nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.NotNil(t, summary)
	assertSumInvariant(t, summary)

	assert.Equal(t, 3, summary.Failed)
	assert.Len(t, remote.searchCalls(), 1, "no lookup after the credentials were rejected")
	assert.Contains(t, summary.Errors[0].Message, "batch aborted")
}

func TestSync_UnauthorizedEnrichmentAbortsTheBatch(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "p1"), record("B", "p2")}}
	var refCalls atomic.Int32
	remote.refsFn = func(string) ([]domain.CandidateRecord, error) {
		refCalls.Add(1)
		return nil, domain.NewExternalAPIError("ads", http.StatusForbidden, "token revoked", nil)
	}
	cfg := DefaultConfig()
	cfg.BatchSize = 1
	cfg.Concurrency = 1
	s, _ := newTestSync(remote, cfg)

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("p1", domain.Identifiers{Bibcode: "A"}),
		paper("p2", domain.Identifiers{Bibcode: "B"}),
		paper("p3", domain.Identifiers{DOI: "10.1/x"}),
	}, nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	require.NotNil(t, summary)
	assertSumInvariant(t, summary)

	assert.Equal(t, 3, summary.Failed)
	assert.Equal(t, int32(1), refCalls.Load(), "no enrichment after the credentials were rejected")
	assert.Len(t, remote.searchCalls(), 1)
	assert.Contains(t, summary.Tasks[0].ErrorMessage(), "fetching references")
	assert.Contains(t, summary.Tasks[1].ErrorMessage(), "batch aborted")
	assert.Contains(t, summary.Tasks[2].ErrorMessage(), "batch aborted")
}

func TestSync_UnauthorizedSingleLookupEnrichmentAbortsTheBatch(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{
		{Title: "d1", Identifiers: domain.Identifiers{Bibcode: "D1", DOI: "10.1/one"}},
		{Title: "d2", Identifiers: domain.Identifiers{Bibcode: "D2", DOI: "10.1/two"}},
	}}
	remote.citsFn = func(string) ([]domain.CandidateRecord, error) {
		return nil, domain.NewExternalAPIError("ads", http.StatusUnauthorized, "bad token", nil)
	}
	s, _ := newTestSync(remote, DefaultConfig())

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("d1", domain.Identifiers{DOI: "10.1/one"}),
		paper("d2", domain.Identifiers{DOI: "10.1/two"}),
	}, nil)
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	assertSumInvariant(t, summary)

	assert.Equal(t, 2, summary.Failed)
	assert.Len(t, remote.searchCalls(), 1, "the second paper is never looked up")
	assert.Contains(t, summary.Tasks[1].ErrorMessage(), "batch aborted")
}

func TestSync_ExportFailureKeepsStoredBibTeX(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "p")}}
	remote.exportFn = func([]string) (string, error) {
		return "", domain.NewExternalAPIError("ads", http.StatusBadRequest, "export rejected", nil)
	}
	s, _ := newTestSync(remote, DefaultConfig())

	in := paper("p", domain.Identifiers{Bibcode: "A"})
	in.BibTeX = "@ARTICLE{A, stored}"

	summary, err := s.Sync(context.Background(), []*domain.Paper{in}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, summary.Updated)
	assert.Equal(t, "@ARTICLE{A, stored}", summary.Tasks[0].Paper.BibTeX)
}

func TestSync_EnrichmentErrorsFailOnlyThatPaper(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "good"), record("B", "bad")}}
	remote.refsFn = func(id string) ([]domain.CandidateRecord, error) {
		if id == "B" {
			return nil, errors.New("references unavailable")
		}
		return nil, nil
	}
	s, _ := newTestSync(remote, DefaultConfig())

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("good", domain.Identifiers{Bibcode: "A"}),
		paper("bad", domain.Identifiers{Bibcode: "B"}),
	}, nil)
	require.NoError(t, err)
	assertSumInvariant(t, summary)

	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, 1, summary.Failed)
	require.Len(t, summary.Errors, 1)
	assert.Equal(t, "bad", summary.Errors[0].PaperTitle)
	assert.Contains(t, summary.Errors[0].Message, "references unavailable")
}

func TestSync_PanicFailsOnlyThatPaper(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "a"), record("B", "b")}}
	remote.citsFn = func(id string) ([]domain.CandidateRecord, error) {
		if id == "A" {
			panic("boom")
		}
		return nil, nil
	}
	s, _ := newTestSync(remote, DefaultConfig())

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("a", domain.Identifiers{Bibcode: "A"}),
		paper("b", domain.Identifiers{Bibcode: "B"}),
	}, nil)
	require.NoError(t, err)
	assertSumInvariant(t, summary)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Errors[0].Message, "panicked")
}

func TestSync_WindowsBoundConcurrencyAndReportProgress(t *testing.T) {
	var records []domain.CandidateRecord
	var papers []*domain.Paper
	for i := range 5 {
		id := fmt.Sprintf("2019ApJ...%03d", i)
		records = append(records, record(id, id))
		papers = append(papers, paper(id, domain.Identifiers{Bibcode: id}))
	}
	remote := &fakeRemote{records: records}

	cfg := DefaultConfig()
	cfg.Concurrency = 2
	s, sleeps := newTestSync(remote, cfg)

	progress := make(chan Progress, 16)
	summary, err := s.Sync(context.Background(), papers, progress)
	require.NoError(t, err)
	close(progress)

	assert.Equal(t, 5, summary.Updated)
	assert.LessOrEqual(t, remote.maxInFlight.Load(), int32(2))

	var got []Progress
	for p := range progress {
		got = append(got, p)
	}
	require.Len(t, got, 3)
	assert.Equal(t, []int{2, 4, 5}, []int{got[0].Current, got[1].Current, got[2].Current})
	for _, p := range got {
		assert.Equal(t, 5, p.Total)
	}
	assert.Equal(t, []time.Duration{cfg.WindowPause, cfg.WindowPause}, sleeps.recorded())
}

func TestSync_BatchesByBatchSize(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "a"), record("B", "b"), record("C", "c")}}
	cfg := DefaultConfig()
	cfg.BatchSize = 2
	s, _ := newTestSync(remote, cfg)

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("a", domain.Identifiers{Bibcode: "A"}),
		paper("b", domain.Identifiers{Bibcode: "B"}),
		paper("c", domain.Identifiers{Bibcode: "C"}),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Updated)
	assert.Equal(t, []string{`bibcode:("A" OR "B")`, `bibcode:("C")`}, remote.searchCalls())
	assert.Equal(t, [][]string{{"A", "B"}, {"C"}}, remote.exports)
}

func TestSync_SecondaryPathIsPaced(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{
		{Title: "x", Identifiers: domain.Identifiers{Bibcode: "X", DOI: "10.1/x"}},
		{Title: "y", Identifiers: domain.Identifiers{Bibcode: "Y", ArXivID: "2101.00002"}},
	}}
	s, sleeps := newTestSync(remote, DefaultConfig())

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("x", domain.Identifiers{DOI: "10.1/x"}),
		paper("y", domain.Identifiers{ArXivID: "arXiv:2101.00002"}),
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, []time.Duration{DefaultConfig().InterPaperDelay}, sleeps.recorded())
	assert.Equal(t, "X", summary.Tasks[0].ExternalID)
	assert.Equal(t, "X", summary.Tasks[0].Paper.Identifiers.Bibcode)
	assert.Equal(t, [][]string{{"X"}, {"Y"}}, remote.exports)
}

func TestSync_CancellationSkipsRemainingPapers(t *testing.T) {
	var records []domain.CandidateRecord
	var papers []*domain.Paper
	for i := range 4 {
		id := fmt.Sprintf("ID%d", i)
		records = append(records, record(id, id))
		papers = append(papers, paper(id, domain.Identifiers{Bibcode: id}))
	}
	papers = append(papers, paper("doi", domain.Identifiers{DOI: "10.1/z"}))

	remote := &fakeRemote{records: records}
	cfg := DefaultConfig()
	cfg.Concurrency = 2
	s, _ := newTestSync(remote, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	progress := make(chan Progress)
	go func() {
		<-progress
		cancel()
		for range progress {
		}
	}()

	summary, err := s.Sync(ctx, papers, progress)
	close(progress)

	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assertSumInvariant(t, summary)

	assert.Equal(t, 2, summary.Updated)
	assert.Equal(t, 3, summary.Skipped)
	assert.Zero(t, summary.Failed)
	for _, task := range summary.Tasks[2:] {
		assert.Equal(t, ReasonCancelled, task.Reason)
	}
}

type fakeAcquirer struct {
	mu    sync.Mutex
	calls []string
	err   error
}

func (f *fakeAcquirer) Acquire(_ context.Context, p *domain.Paper, dest string, opts acquisition.AcquireOptions) (*acquisition.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, dest)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return &acquisition.Result{Source: domain.SourceTypePreprint, Path: dest, SizeBytes: 2048}, nil
}

func TestSync_AcquiresMissingPDFs(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("2019ApJ...001A", "a"), record("B", "b")}}
	acq := &fakeAcquirer{}

	cfg := DefaultConfig()
	cfg.DownloadPDFs = true
	cfg.PDFDir = "/tmp/pdfs"
	s := New(remote, acq, nil, cfg, zerolog.Nop(), nil, WithSleep((&sleepRecorder{}).sleep))

	withPDF := paper("b", domain.Identifiers{Bibcode: "B"})
	withPDF.PDFPath = "/library/b.pdf"

	summary, err := s.Sync(context.Background(), []*domain.Paper{
		paper("a", domain.Identifiers{Bibcode: "2019ApJ...001A"}),
		withPDF,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, summary.Updated)

	require.Equal(t, []string{"/tmp/pdfs/bibcode_2019ApJ...001A.pdf"}, acq.calls)
	assert.Equal(t, "/tmp/pdfs/bibcode_2019ApJ...001A.pdf", summary.Tasks[0].Paper.PDFPath)
	assert.Equal(t, domain.SourceTypePreprint, summary.Tasks[0].Paper.PDFSource)
	assert.Equal(t, "/library/b.pdf", summary.Tasks[1].Paper.PDFPath)
}

func TestSync_PDFFailureDoesNotFailThePaper(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "a")}}
	acq := &fakeAcquirer{err: &domain.AggregateSourceFailure{}}

	cfg := DefaultConfig()
	cfg.DownloadPDFs = true
	s := New(remote, acq, nil, cfg, zerolog.Nop(), nil, WithSleep((&sleepRecorder{}).sleep))

	summary, err := s.Sync(context.Background(), []*domain.Paper{paper("a", domain.Identifiers{Bibcode: "A"})}, nil)
	require.NoError(t, err)

	task := summary.Tasks[0]
	assert.Equal(t, domain.SyncOutcomeUpdated, task.Outcome)
	assert.NotEmpty(t, task.PDFError)
	assert.Empty(t, task.Paper.PDFPath)
}

func TestSync_DefaultConfigAcquiresMissingPDF(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "a")}}
	acq := &fakeAcquirer{}
	s := New(remote, acq, nil, DefaultConfig(), zerolog.Nop(), nil, WithSleep((&sleepRecorder{}).sleep))

	summary, err := s.Sync(context.Background(), []*domain.Paper{paper("a", domain.Identifiers{Bibcode: "A"})}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	require.Len(t, acq.calls, 1)
	assert.Equal(t, "pdfs/bibcode_A.pdf", acq.calls[0])
}

func TestSynchronizer_WithOverrides(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "a")}}
	acq := &fakeAcquirer{}
	base := New(remote, acq, nil, DefaultConfig(), zerolog.Nop(), nil, WithSleep((&sleepRecorder{}).sleep))

	assert.Same(t, base, base.With(Overrides{}))

	off := false
	s := base.With(Overrides{DownloadPDFs: &off})
	assert.False(t, s.Config().DownloadPDFs)
	assert.True(t, base.Config().DownloadPDFs, "the original keeps its configuration")

	_, err := s.Sync(context.Background(), []*domain.Paper{paper("a", domain.Identifiers{Bibcode: "A"})}, nil)
	require.NoError(t, err)
	assert.Empty(t, acq.calls)

	_, err = base.Sync(context.Background(), []*domain.Paper{paper("a", domain.Identifiers{Bibcode: "A"})}, nil)
	require.NoError(t, err)
	assert.Len(t, acq.calls, 1)
}

type fakeStore struct {
	mu        sync.Mutex
	upserted  []*domain.Paper
	refs      map[uuid.UUID]int
	cits      map[uuid.UUID]int
	upsertErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{refs: map[uuid.UUID]int{}, cits: map[uuid.UUID]int{}}
}

func (f *fakeStore) UpsertPaper(_ context.Context, p *domain.Paper) (*domain.Paper, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return nil, f.upsertErr
	}
	saved := p.Clone()
	saved.UpdatedAt = time.Now()
	f.upserted = append(f.upserted, saved)
	return saved, nil
}

func (f *fakeStore) RecordReferences(_ context.Context, id uuid.UUID, refs []domain.CandidateRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refs[id] = len(refs)
	return nil
}

func (f *fakeStore) RecordCitations(_ context.Context, id uuid.UUID, cits []domain.CandidateRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cits[id] = len(cits)
	return nil
}

func TestSync_CommitsUpdatedPapers(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "a")}}
	store := newFakeStore()
	s := New(remote, nil, store, DefaultConfig(), zerolog.Nop(), nil, WithSleep((&sleepRecorder{}).sleep))

	p := paper("a", domain.Identifiers{Bibcode: "A"})
	summary, err := s.Sync(context.Background(), []*domain.Paper{
		p,
		paper("missing", domain.Identifiers{Bibcode: "Z"}),
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)

	require.Len(t, store.upserted, 1)
	assert.Equal(t, p.ID, store.upserted[0].ID)
	assert.False(t, summary.Tasks[0].Paper.UpdatedAt.IsZero())
	assert.Equal(t, 1, store.refs[p.ID])
	assert.Equal(t, 1, store.cits[p.ID])
}

func TestSync_CommitFailureFailsThePaper(t *testing.T) {
	remote := &fakeRemote{records: []domain.CandidateRecord{record("A", "a")}}
	store := newFakeStore()
	store.upsertErr = errors.New("connection reset")
	s := New(remote, nil, store, DefaultConfig(), zerolog.Nop(), nil, WithSleep((&sleepRecorder{}).sleep))

	summary, err := s.Sync(context.Background(), []*domain.Paper{paper("a", domain.Identifiers{Bibcode: "A"})}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Errors[0].Message, "saving paper")
}

type fakeResolver struct {
	match *resolver.MatchResult
	err   error
	seen  []resolver.Query
}

func (f *fakeResolver) Resolve(_ context.Context, q resolver.Query) (*resolver.MatchResult, error) {
	f.seen = append(f.seen, q)
	return f.match, f.err
}

func TestSync_ResolvesUnidentifiedWhenEnabled(t *testing.T) {
	remote := &fakeRemote{}
	res := &fakeResolver{match: &resolver.MatchResult{Record: record("R", "Resolved"), Similarity: 0.9}}

	cfg := DefaultConfig()
	cfg.ResolveUnidentified = true
	s, _ := newTestSync(remote, cfg, WithResolver(res))

	in := paper("Resolved", domain.Identifiers{})
	in.Authors = []string{"Smith, J."}
	in.Year = 2019

	summary, err := s.Sync(context.Background(), []*domain.Paper{in}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Updated)
	assert.Equal(t, "R", summary.Tasks[0].Paper.Identifiers.Bibcode)
	require.Len(t, res.seen, 1)
	assert.Equal(t, resolver.Query{Title: "Resolved", FirstAuthor: "Smith, J.", Year: 2019}, res.seen[0])
}

func TestSync_UnresolvedPapersAreSkipped(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ResolveUnidentified = true

	t.Run("no match", func(t *testing.T) {
		s, _ := newTestSync(&fakeRemote{}, cfg, WithResolver(&fakeResolver{}))
		summary, err := s.Sync(context.Background(), []*domain.Paper{paper("t", domain.Identifiers{})}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, ReasonNoMatch, summary.Tasks[0].Reason)
	})

	t.Run("nothing to search on", func(t *testing.T) {
		res := &fakeResolver{err: domain.NewValidationError("query", "title or first author is required")}
		s, _ := newTestSync(&fakeRemote{}, cfg, WithResolver(res))
		summary, err := s.Sync(context.Background(), []*domain.Paper{paper("", domain.Identifiers{})}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Equal(t, ReasonNoIdentifier, summary.Tasks[0].Reason)
	})

	t.Run("disabled", func(t *testing.T) {
		res := &fakeResolver{}
		s, _ := newTestSync(&fakeRemote{}, DefaultConfig(), WithResolver(res))
		summary, err := s.Sync(context.Background(), []*domain.Paper{paper("t", domain.Identifiers{})}, nil)
		require.NoError(t, err)
		assert.Equal(t, 1, summary.Skipped)
		assert.Empty(t, res.seen)
	})
}

func TestSummary_SyncRun(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	s := &Summary{
		RunID:      uuid.New(),
		Total:      3,
		Updated:    1,
		Failed:     1,
		Skipped:    1,
		Errors:     []TaskError{{PaperTitle: "x", Message: "boom"}},
		StartedAt:  started,
		FinishedAt: started.Add(time.Minute),
	}

	run := s.SyncRun(domain.SyncRunStatusCompleted)
	assert.Equal(t, s.RunID, run.ID)
	assert.Equal(t, 1, run.ErrorCount)
	require.NotNil(t, run.FinishedAt)
	assert.Equal(t, started.Add(time.Minute), *run.FinishedAt)
}

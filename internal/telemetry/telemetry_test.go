package telemetry

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbcontext/internal/retrieval"
)

var _ retrieval.Observer = (*Recorder)(nil)

func vectorResult(query string, d time.Duration) retrieval.Result {
	return retrieval.Result{
		Status:   retrieval.StatusOK,
		Query:    query,
		K:        2,
		Strategy: retrieval.StrategyVector,
		Items:    []retrieval.Item{{Rank: 1}},
		Duration: d,
	}
}

func fallbackResult(query, reason string, unfiltered bool) retrieval.Result {
	return retrieval.Result{
		Status:         retrieval.StatusOK,
		Query:          query,
		K:              1,
		Strategy:       retrieval.StrategyKeyword,
		FallbackReason: reason,
		Unfiltered:     unfiltered,
		Items:          []retrieval.Item{{Rank: 1}},
		Duration:       30 * time.Millisecond,
	}
}

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := OpenStore(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		res  retrieval.Result
		want Outcome
	}{
		{"vector", vectorResult("what is machine learning", 0), OutcomeVector},
		{"fallback", fallbackResult("what is machine learning", "embedding provider timed out", false), OutcomeKeywordFallback},
		{"keyword only", fallbackResult("what is machine learning", "", false), OutcomeKeywordOnly},
		{"too short", retrieval.Result{Status: retrieval.StatusQueryTooShort}, OutcomeRejected},
		{"no kb", retrieval.Result{Status: retrieval.StatusNoKnowledgeBase}, OutcomeRejected},
		{"invalid k", retrieval.Result{Status: retrieval.StatusInvalidK}, OutcomeRejected},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.res))
		})
	}
}

func TestLatencyToBucket(t *testing.T) {
	assert.Equal(t, BucketP10, LatencyToBucket(5*time.Millisecond))
	assert.Equal(t, BucketP50, LatencyToBucket(10*time.Millisecond))
	assert.Equal(t, BucketP100, LatencyToBucket(99*time.Millisecond))
	assert.Equal(t, BucketP500, LatencyToBucket(100*time.Millisecond))
	assert.Equal(t, BucketP1000, LatencyToBucket(2*time.Second))
}

func TestCircularBuffer_EvictsOldest(t *testing.T) {
	buf := NewCircularBuffer[string](3)
	for _, q := range []string{"q1", "q2", "q3", "q4", "q5"} {
		buf.Add(q)
	}

	assert.Equal(t, 3, buf.Size())
	assert.Equal(t, []string{"q3", "q4", "q5"}, buf.Items())
}

func TestCircularBuffer_Empty(t *testing.T) {
	buf := NewCircularBuffer[int](0)

	assert.Empty(t, buf.Items())
	assert.Equal(t, 0, buf.Size())
}

func TestExtractTerms(t *testing.T) {
	assert.Equal(t, []string{"what", "machine", "learning"}, ExtractTerms("What is Machine learning?"))
	assert.Nil(t, ExtractTerms("   "))
}

func TestRecorder_ObserveRetrieval(t *testing.T) {
	// Given: a recorder
	r := NewRecorder()
	defer r.Close()

	// When: a mix of outcomes is observed
	r.ObserveRetrieval(vectorResult("what is machine learning", 5*time.Millisecond))
	r.ObserveRetrieval(vectorResult("explain machine learning", 20*time.Millisecond))
	r.ObserveRetrieval(fallbackResult("quantum chromodynamics", "embedding provider timed out", true))
	r.ObserveRetrieval(retrieval.Result{Status: retrieval.StatusQueryTooShort, Query: "ml"})

	// Then: counters reflect every call
	s := r.Snapshot()
	assert.Equal(t, int64(4), s.TotalQueries)
	assert.Equal(t, int64(2), s.Outcomes[OutcomeVector])
	assert.Equal(t, int64(1), s.Outcomes[OutcomeKeywordFallback])
	assert.Equal(t, int64(1), s.Outcomes[OutcomeRejected])
	assert.Equal(t, int64(1), s.FallbackReasons["embedding provider timed out"])
	assert.Equal(t, int64(3), s.Statuses[string(retrieval.StatusOK)])
	assert.Equal(t, int64(1), s.Latency[BucketP10])
	assert.Equal(t, int64(2), s.Latency[BucketP50])
	assert.Equal(t, []string{"quantum chromodynamics"}, s.Unmatched)
	require.NotEmpty(t, s.TopTerms)
	assert.Equal(t, "learning", s.TopTerms[0].Term)
	assert.Equal(t, int64(2), s.TopTerms[0].Count)
}

func TestRecorder_IgnoresAfterClose(t *testing.T) {
	r := NewRecorder()
	require.NoError(t, r.Close())

	r.ObserveRetrieval(vectorResult("what is machine learning", 0))

	assert.Equal(t, int64(0), r.Snapshot().TotalQueries)
	assert.NoError(t, r.Close())
}

func TestRecorder_FlushWritesDeltas(t *testing.T) {
	// Given: a recorder backed by a sqlite store
	store := openTestStore(t)
	r := NewRecorder(WithStore(store))
	today := time.Now().Format("2006-01-02")

	// When: results are observed and flushed twice
	r.ObserveRetrieval(vectorResult("what is machine learning", 0))
	r.ObserveRetrieval(fallbackResult("quantum chromodynamics", "no query embedder configured", true))
	require.NoError(t, r.Flush())
	require.NoError(t, r.Flush())
	r.ObserveRetrieval(vectorResult("machine learning basics", 0))
	require.NoError(t, r.Close())

	// Then: persisted totals count each observation once
	outcomes, err := store.Counts(KindOutcome, today, today)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"vector": 2, "keyword_fallback": 1}, outcomes)

	reasons, err := store.Counts(KindFallback, today, today)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"no query embedder configured": 1}, reasons)

	terms, err := store.TopTerms(2)
	require.NoError(t, err)
	assert.Equal(t, []TermCount{{Term: "learning", Count: 2}, {Term: "machine", Count: 2}}, terms)

	unmatched, err := store.UnmatchedQueries(10)
	require.NoError(t, err)
	assert.Equal(t, []string{"quantum chromodynamics"}, unmatched)
}

func TestRecorder_FlushWithoutStore(t *testing.T) {
	r := NewRecorder()
	r.ObserveRetrieval(vectorResult("what is machine learning", 0))

	assert.NoError(t, r.Flush())
}

func TestRecorder_BackgroundFlush(t *testing.T) {
	store := openTestStore(t)
	r := NewRecorder(WithStore(store), WithFlushInterval(10*time.Millisecond))
	defer r.Close()
	today := time.Now().Format("2006-01-02")

	r.ObserveRetrieval(vectorResult("what is machine learning", 0))

	assert.Eventually(t, func() bool {
		counts, err := store.Counts(KindOutcome, today, today)
		return err == nil && counts["vector"] == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSQLiteStore_TrimsUnmatched(t *testing.T) {
	store := openTestStore(t)
	now := time.Now()

	for i := 0; i < maxUnmatchedRows+5; i++ {
		require.NoError(t, store.AddUnmatchedQuery("query", now))
	}

	got, err := store.UnmatchedQueries(1000)
	require.NoError(t, err)
	assert.Len(t, got, maxUnmatchedRows)
}

func TestSQLiteStore_CountsRespectDateRange(t *testing.T) {
	store := openTestStore(t)
	require.NoError(t, store.SaveCounts("2026-01-01", KindStatus, map[string]int64{"ok": 3}))
	require.NoError(t, store.SaveCounts("2026-01-02", KindStatus, map[string]int64{"ok": 1, "no_results": 2}))

	got, err := store.Counts(KindStatus, "2026-01-02", "2026-01-31")
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"ok": 1, "no_results": 2}, got)
}

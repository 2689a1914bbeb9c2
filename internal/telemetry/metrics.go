// Package telemetry records local retrieval statistics: which strategy
// answered each query, why semantic search fell back, latency, and the
// queries that found nothing useful. Nothing leaves the machine.
package telemetry

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/Aman-CERP/kbcontext/internal/retrieval"
)

// =============================================================================
// Outcome Classification
// =============================================================================

// Outcome classifies how a retrieval call was answered.
type Outcome string

const (
	OutcomeVector          Outcome = "vector"
	OutcomeKeywordFallback Outcome = "keyword_fallback"
	OutcomeKeywordOnly     Outcome = "keyword_only"
	OutcomeRejected        Outcome = "rejected"
)

// Classify maps a retrieval result to its outcome.
func Classify(r retrieval.Result) Outcome {
	switch {
	case r.Status != retrieval.StatusOK && r.Status != retrieval.StatusNoResults:
		return OutcomeRejected
	case r.Strategy == retrieval.StrategyVector:
		return OutcomeVector
	case r.FallbackReason != "":
		return OutcomeKeywordFallback
	default:
		return OutcomeKeywordOnly
	}
}

// =============================================================================
// Latency Buckets
// =============================================================================

// LatencyBucket represents a latency histogram bucket.
type LatencyBucket string

const (
	BucketP10   LatencyBucket = "p10"   // <10ms
	BucketP50   LatencyBucket = "p50"   // 10-50ms
	BucketP100  LatencyBucket = "p100"  // 50-100ms
	BucketP500  LatencyBucket = "p500"  // 100-500ms
	BucketP1000 LatencyBucket = "p1000" // >=500ms
)

// LatencyToBucket converts a duration to its histogram bucket.
func LatencyToBucket(d time.Duration) LatencyBucket {
	ms := d.Milliseconds()
	switch {
	case ms < 10:
		return BucketP10
	case ms < 50:
		return BucketP50
	case ms < 100:
		return BucketP100
	case ms < 500:
		return BucketP500
	default:
		return BucketP1000
	}
}

// =============================================================================
// Circular Buffer
// =============================================================================

// CircularBuffer is a fixed-capacity FIFO buffer.
type CircularBuffer[T any] struct {
	items    []T
	head     int
	size     int
	capacity int
	mu       sync.RWMutex
}

// NewCircularBuffer creates a circular buffer. Non-positive capacity means 100.
func NewCircularBuffer[T any](capacity int) *CircularBuffer[T] {
	if capacity <= 0 {
		capacity = 100
	}
	return &CircularBuffer[T]{items: make([]T, capacity), capacity: capacity}
}

// Add appends an item, evicting the oldest when full.
func (b *CircularBuffer[T]) Add(item T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.items[b.head] = item
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
}

// Items returns the buffered items oldest first.
func (b *CircularBuffer[T]) Items() []T {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]T, b.size)
	if b.size < b.capacity {
		copy(out, b.items[:b.size])
		return out
	}
	n := copy(out, b.items[b.head:])
	copy(out[n:], b.items[:b.head])
	return out
}

// Size returns the number of buffered items.
func (b *CircularBuffer[T]) Size() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.size
}

// =============================================================================
// Term Extraction
// =============================================================================

// ExtractTerms lowercases a query and keeps words of at least three runes.
func ExtractTerms(query string) []string {
	var terms []string
	for _, w := range strings.Fields(strings.ToLower(query)) {
		w = strings.Trim(w, ".,;:!?\"'()[]{}")
		if len([]rune(w)) >= 3 {
			terms = append(terms, w)
		}
	}
	return terms
}

// =============================================================================
// Snapshot
// =============================================================================

// TermCount is a term and how often it was queried.
type TermCount struct {
	Term  string `json:"term"`
	Count int64  `json:"count"`
}

// Snapshot is a point-in-time copy of the in-memory counters.
type Snapshot struct {
	Outcomes        map[Outcome]int64       `json:"outcomes"`
	Statuses        map[string]int64        `json:"statuses"`
	FallbackReasons map[string]int64        `json:"fallback_reasons"`
	Latency         map[LatencyBucket]int64 `json:"latency"`
	TopTerms        []TermCount             `json:"top_terms"`
	Unmatched       []string                `json:"unmatched_queries"`
	TotalQueries    int64                   `json:"total_queries"`
	Since           time.Time               `json:"since"`
}

// Store persists flushed counters.
type Store interface {
	SaveCounts(date string, kind Kind, counts map[string]int64) error
	UpsertTermCounts(counts map[string]int64) error
	AddUnmatchedQuery(query string, at time.Time) error
	Close() error
}

// =============================================================================
// Recorder
// =============================================================================

const (
	defaultTermCapacity      = 1000
	defaultUnmatchedCapacity = 100
)

// Option configures a Recorder.
type Option func(*Recorder)

// WithStore persists counters to s on Flush.
func WithStore(s Store) Option {
	return func(r *Recorder) { r.store = s }
}

// WithFlushInterval flushes in the background every d. Requires a store.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Recorder) { r.flushEvery = d }
}

// Recorder aggregates retrieval results. It satisfies retrieval.Observer.
type Recorder struct {
	mu        sync.Mutex
	outcomes  map[Outcome]int64
	statuses  map[string]int64
	reasons   map[string]int64
	latency   map[LatencyBucket]int64
	terms     *lru.Cache[string, int64]
	unmatched *CircularBuffer[string]
	total     int64
	since     time.Time

	// pending holds deltas not yet written to the store.
	pending struct {
		outcomes  map[string]int64
		statuses  map[string]int64
		reasons   map[string]int64
		latency   map[string]int64
		terms     map[string]int64
		unmatched []unmatchedQuery
	}

	store      Store
	flushEvery time.Duration
	stopCh     chan struct{}
	doneCh     chan struct{}
	closed     bool
}

type unmatchedQuery struct {
	query string
	at    time.Time
}

// NewRecorder creates a Recorder.
func NewRecorder(opts ...Option) *Recorder {
	terms, _ := lru.New[string, int64](defaultTermCapacity)
	r := &Recorder{
		outcomes:  make(map[Outcome]int64),
		statuses:  make(map[string]int64),
		reasons:   make(map[string]int64),
		latency:   make(map[LatencyBucket]int64),
		terms:     terms,
		unmatched: NewCircularBuffer[string](defaultUnmatchedCapacity),
		since:     time.Now(),
	}
	r.resetPending()
	for _, opt := range opts {
		opt(r)
	}
	if r.store != nil && r.flushEvery > 0 {
		r.stopCh = make(chan struct{})
		r.doneCh = make(chan struct{})
		go r.flushLoop()
	}
	return r
}

func (r *Recorder) resetPending() {
	r.pending.outcomes = make(map[string]int64)
	r.pending.statuses = make(map[string]int64)
	r.pending.reasons = make(map[string]int64)
	r.pending.latency = make(map[string]int64)
	r.pending.terms = make(map[string]int64)
	r.pending.unmatched = nil
}

func (r *Recorder) flushLoop() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := r.Flush(); err != nil {
				slog.Warn("telemetry_flush_failed", slog.String("error", err.Error()))
			}
		case <-r.stopCh:
			return
		}
	}
}

// ObserveRetrieval records one retrieval result.
func (r *Recorder) ObserveRetrieval(res retrieval.Result) {
	outcome := Classify(res)
	bucket := LatencyToBucket(res.Duration)
	terms := ExtractTerms(res.Query)
	unmatched := res.Status == retrieval.StatusNoResults || res.Unfiltered

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}

	r.total++
	r.outcomes[outcome]++
	r.pending.outcomes[string(outcome)]++
	r.statuses[string(res.Status)]++
	r.pending.statuses[string(res.Status)]++
	if res.FallbackReason != "" {
		r.reasons[res.FallbackReason]++
		r.pending.reasons[res.FallbackReason]++
	}
	if outcome != OutcomeRejected {
		r.latency[bucket]++
		r.pending.latency[string(bucket)]++
	}
	for _, t := range terms {
		n, _ := r.terms.Get(t)
		r.terms.Add(t, n+1)
		r.pending.terms[t]++
	}
	if unmatched {
		r.unmatched.Add(res.Query)
		r.pending.unmatched = append(r.pending.unmatched, unmatchedQuery{query: res.Query, at: time.Now()})
	}
}

// Snapshot returns a copy of the in-memory counters. TopTerms is sorted by
// count, most frequent first.
func (r *Recorder) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Outcomes:        make(map[Outcome]int64, len(r.outcomes)),
		Statuses:        make(map[string]int64, len(r.statuses)),
		FallbackReasons: make(map[string]int64, len(r.reasons)),
		Latency:         make(map[LatencyBucket]int64, len(r.latency)),
		Unmatched:       r.unmatched.Items(),
		TotalQueries:    r.total,
		Since:           r.since,
	}
	for k, v := range r.outcomes {
		s.Outcomes[k] = v
	}
	for k, v := range r.statuses {
		s.Statuses[k] = v
	}
	for k, v := range r.reasons {
		s.FallbackReasons[k] = v
	}
	for k, v := range r.latency {
		s.Latency[k] = v
	}
	for _, t := range r.terms.Keys() {
		if n, ok := r.terms.Peek(t); ok {
			s.TopTerms = append(s.TopTerms, TermCount{Term: t, Count: n})
		}
	}
	sortTermCounts(s.TopTerms)
	return s
}

// Flush writes pending deltas to the store. Without a store it is a no-op.
// On failure the deltas are dropped; counters are advisory.
func (r *Recorder) Flush() error {
	if r.store == nil {
		return nil
	}

	r.mu.Lock()
	p := r.pending
	r.resetPending()
	r.mu.Unlock()

	today := time.Now().Format("2006-01-02")
	for kind, counts := range map[Kind]map[string]int64{
		KindOutcome:  p.outcomes,
		KindStatus:   p.statuses,
		KindFallback: p.reasons,
		KindLatency:  p.latency,
	} {
		if len(counts) == 0 {
			continue
		}
		if err := r.store.SaveCounts(today, kind, counts); err != nil {
			return err
		}
	}
	if len(p.terms) > 0 {
		if err := r.store.UpsertTermCounts(p.terms); err != nil {
			return err
		}
	}
	for _, q := range p.unmatched {
		if err := r.store.AddUnmatchedQuery(q.query, q.at); err != nil {
			return err
		}
	}
	return nil
}

// Close stops background flushing and writes the remaining deltas.
// It does not close the store.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	if r.stopCh != nil {
		close(r.stopCh)
		<-r.doneCh
	}
	return r.Flush()
}

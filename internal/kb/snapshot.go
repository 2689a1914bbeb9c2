package kb

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Aman-CERP/kbcontext/internal/corpus"
	"github.com/Aman-CERP/kbcontext/internal/keyword"
	"github.com/Aman-CERP/kbcontext/internal/vector"
)

// State is the usability of a snapshot. Lower is better.
type State int

const (
	// StateReady means vector ranking is available.
	StateReady State = iota
	// StateDegraded means only keyword search is available.
	StateDegraded
	// StateUnavailable means the corpus is empty or missing.
	StateUnavailable
)

func (s State) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateUnavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Snapshot is one consistent corpus and index pairing. Its contents are
// never mutated; a reload builds a new Snapshot.
type Snapshot struct {
	Corpus  *corpus.Store
	Vectors vector.Index
	Keyword keyword.Searcher
	Meta    *Meta

	State  State
	Reason string

	Generation uint64
	LoadedAt   time.Time

	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

// NewSnapshot assembles a snapshot from parts and derives its state. A nil
// vectors index is treated as empty; a nil keyword searcher defaults to Scan.
func NewSnapshot(store *corpus.Store, vectors vector.Index, kw keyword.Searcher) *Snapshot {
	if store == nil {
		store = corpus.Empty()
	}
	if vectors == nil {
		vectors = vector.Empty{Reason: "no embedding matrix"}
	}
	if kw == nil {
		kw = keyword.NewScan(store)
	}

	s := &Snapshot{
		Corpus:     store,
		Vectors:    vectors,
		Keyword:    kw,
		Generation: 1,
		LoadedAt:   time.Now(),
	}

	switch {
	case store.Size() == 0:
		s.State, s.Reason = StateUnavailable, "knowledge base is empty"
	case vector.IsEmpty(vectors):
		s.State, s.Reason = StateDegraded, emptyReason(vectors)
	default:
		s.State = StateReady
	}
	return s
}

func emptyReason(idx vector.Index) string {
	if e, ok := idx.(vector.Empty); ok && e.Reason != "" {
		return e.Reason
	}
	return "vector index is empty"
}

// Aligned reports an error when a non-empty vector index does not cover the
// corpus row for row.
func (s *Snapshot) Aligned() error {
	if vector.IsEmpty(s.Vectors) {
		return nil
	}
	return vector.CheckAligned(s.Vectors.Len(), s.Corpus.Size())
}

// Acquire pins the snapshot for a read. It returns false once the snapshot
// has been closed; callers should then reload the current snapshot.
func (s *Snapshot) Acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.refs++
	return true
}

// Release unpins a snapshot taken with Acquire.
func (s *Snapshot) Release() {
	s.mu.Lock()
	s.refs--
	closeNow := s.retired && s.refs == 0 && !s.closed
	if closeNow {
		s.closed = true
	}
	s.mu.Unlock()

	if closeNow {
		s.closeResources()
	}
}

// Retire marks the snapshot as replaced. Its resources are released once
// the last reader lets go.
func (s *Snapshot) Retire() {
	s.mu.Lock()
	s.retired = true
	closeNow := s.refs == 0 && !s.closed
	if closeNow {
		s.closed = true
	}
	s.mu.Unlock()

	if closeNow {
		s.closeResources()
	}
}

// Close releases resources immediately. Use Retire for a snapshot that may
// still have readers.
func (s *Snapshot) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.closeResources()
}

// Closed reports whether the snapshot's resources have been released.
func (s *Snapshot) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Snapshot) closeResources() error {
	var errs []error
	if c, ok := s.Keyword.(io.Closer); ok {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("keyword index: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Summary is a JSON-friendly view of a snapshot.
type Summary struct {
	State      string    `json:"state"`
	Reason     string    `json:"reason,omitempty"`
	Chunks     int       `json:"chunks"`
	Vectors    int       `json:"vectors"`
	Dimensions int       `json:"dimensions"`
	Backend    string    `json:"backend"`
	Keyword    string    `json:"keyword_mode"`
	Model      string    `json:"model,omitempty"`
	Generation uint64    `json:"generation"`
	LoadedAt   time.Time `json:"loaded_at"`
	Malformed  int       `json:"malformed_records"`
}

// Summary describes s.
func (s *Snapshot) Summary() Summary {
	sum := Summary{
		State:      s.State.String(),
		Reason:     s.Reason,
		Chunks:     s.Corpus.Size(),
		Vectors:    s.Vectors.Len(),
		Dimensions: s.Vectors.Dimensions(),
		Backend:    s.Vectors.Backend(),
		Keyword:    s.Keyword.Mode(),
		Generation: s.Generation,
		LoadedAt:   s.LoadedAt,
		Malformed:  s.Corpus.Stats().Malformed,
	}
	if s.Meta != nil {
		sum.Model = s.Meta.Model
	}
	return sum
}

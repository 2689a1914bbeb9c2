package vector

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// Backend names accepted by LoadOptions.
const (
	BackendFlat = "flat"
	BackendHNSW = "hnsw"
)

// LoadOptions selects how a loaded matrix is indexed.
type LoadOptions struct {
	Backend string
	HNSW    HNSWConfig
}

// ReadMatrixFile reads an embedding matrix by file extension:
// .npy (NumPy array), .jsonl (one JSON number array per line) or
// .json (a single array of arrays).
func ReadMatrixFile(ctx context.Context, path string) (*Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".npy":
		return ReadNPY(f)
	case ".jsonl", ".ndjson":
		return ReadJSONL(ctx, f)
	case ".json":
		return ReadJSON(f)
	default:
		return nil, fmt.Errorf("unsupported embedding matrix format %q", filepath.Ext(path))
	}
}

// ReadJSONL reads one JSON array of numbers per line. Blank lines are skipped.
func ReadJSONL(ctx context.Context, r io.Reader) (*Matrix, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)

	var rows [][]float32
	line := 0
	for scanner.Scan() {
		line++
		if line%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var row []float32
		if err := json.Unmarshal(b, &row); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return NewMatrix(rows)
}

// ReadJSON reads a JSON array of number arrays.
func ReadJSON(r io.Reader) (*Matrix, error) {
	var rows [][]float32
	if err := json.NewDecoder(r).Decode(&rows); err != nil {
		return nil, err
	}
	return NewMatrix(rows)
}

// Build indexes m with the configured backend.
func Build(m *Matrix, opts LoadOptions) Index {
	if m.Rows() == 0 {
		return Empty{Reason: "embedding matrix has no rows"}
	}
	if opts.Backend == BackendHNSW {
		return NewHNSW(m, opts.HNSW)
	}
	return NewFlat(m)
}

// Load reads the matrix at path and indexes it, requiring exactly corpusSize
// rows. Any failure yields an Empty index alongside a KBError; the index is
// never partially usable.
func Load(ctx context.Context, path string, corpusSize int, opts LoadOptions) (Index, error) {
	m, err := ReadMatrixFile(ctx, path)
	return FromRead(path, m, err, corpusSize, opts)
}

// FromRead finishes Load for a matrix read elsewhere, so callers can read the
// matrix concurrently with the corpus and check alignment afterwards.
func FromRead(path string, m *Matrix, readErr error, corpusSize int, opts LoadOptions) (Index, error) {
	if readErr != nil {
		if os.IsNotExist(readErr) {
			ke := kberrors.New(kberrors.ErrCodeKBNotFound, "embedding matrix file not found", readErr).
				WithDetail("path", path)
			return Empty{Reason: "embedding matrix file not found"}, ke
		}
		ke := kberrors.New(kberrors.ErrCodeMatrixCorrupt, "embedding matrix unreadable", readErr).
			WithDetail("path", path)
		return Empty{Reason: "embedding matrix unreadable: " + readErr.Error()}, ke
	}

	if err := CheckAligned(m.Rows(), corpusSize); err != nil {
		return Empty{Reason: err.Error()}, kberrors.New(kberrors.ErrCodeCorpusMisaligned, err.Error(), nil).
			WithDetail("path", path).
			WithSuggestion("rebuild the embedding matrix from the current corpus file")
	}
	return Build(m, opts), nil
}

// CheckAligned verifies that a matrix with rows rows matches a corpus of
// corpusSize chunks.
func CheckAligned(rows, corpusSize int) error {
	if rows != corpusSize {
		return fmt.Errorf("embedding matrix has %d rows but corpus has %d chunks", rows, corpusSize)
	}
	return nil
}

// Package kbtest writes small knowledge base fixtures for tests.
package kbtest

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/kbcontext/internal/vector"
)

// Record is one corpus line.
type Record struct {
	Text      string   `json:"text"`
	Course    string   `json:"course,omitempty"`
	TopicTags []string `json:"topic_tags,omitempty"`
}

// Paths of a written fixture.
type Paths struct {
	Dir        string
	Chunks     string
	Embeddings string
	Meta       string
}

// MLRecords is the two-chunk machine learning corpus used across tests.
func MLRecords() []Record {
	return []Record{
		{Text: "Linear regression models relationships", Course: "ML101", TopicTags: []string{"regression", "statistics"}},
		{Text: "Neural networks use backpropagation", Course: "ML101", TopicTags: []string{"deep learning"}},
	}
}

// MLRows are embeddings aligned with MLRecords.
func MLRows() [][]float32 {
	return [][]float32{
		{1, 0, 0},
		{0, 1, 0},
	}
}

// Write creates dir/kb_chunks.jsonl and, when rows is non-nil,
// dir/kb_embeddings.npy.
func Write(t testing.TB, dir string, records []Record, rows [][]float32) Paths {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))

	p := Paths{
		Dir:        dir,
		Chunks:     filepath.Join(dir, "kb_chunks.jsonl"),
		Embeddings: filepath.Join(dir, "kb_embeddings.npy"),
		Meta:       filepath.Join(dir, "kb_meta.json"),
	}
	WriteChunks(t, p.Chunks, records)
	if rows != nil {
		WriteMatrix(t, p.Embeddings, rows)
	}
	return p
}

// WriteChunks writes records as JSONL.
func WriteChunks(t testing.TB, path string, records []Record) {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, r := range records {
		require.NoError(t, enc.Encode(r))
	}
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

// WriteMatrix writes rows as a float32 .npy file.
func WriteMatrix(t testing.TB, path string, rows [][]float32) {
	t.Helper()
	m, err := vector.NewMatrix(rows)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, vector.WriteNPY(&buf, m))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

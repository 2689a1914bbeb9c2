package corpus

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

func writeCorpus(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "kb_chunks.jsonl")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ParsesRecords(t *testing.T) {
	// Given: a corpus with full and partial records
	path := writeCorpus(t, `{"text":"Linear regression models relationships","course":"ML101","topic_tags":["regression","stats"]}
{"text":"Neural networks use backpropagation"}
`)

	// When: loading it
	s, err := Load(context.Background(), path)

	// Then: both chunks load with defaults applied
	require.NoError(t, err)
	require.Equal(t, 2, s.Size())

	first, ok := s.Get(0)
	require.True(t, ok)
	assert.Equal(t, 0, first.ID)
	assert.Equal(t, "ML101", first.Course)
	assert.Equal(t, []string{"regression", "stats"}, first.TopicTags)

	second, ok := s.Get(1)
	require.True(t, ok)
	assert.Equal(t, 1, second.ID)
	assert.Equal(t, DefaultCourse, second.Course)
	assert.Empty(t, second.TopicTags)
	assert.Equal(t, path, s.Path())
}

func TestLoad_MissingFile_ReturnsEmptyStore(t *testing.T) {
	s, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope.jsonl"))

	require.Error(t, err)
	require.NotNil(t, s)
	assert.Equal(t, 0, s.Size())
	assert.Equal(t, kberrors.ErrCodeKBNotFound, kberrors.GetCode(err))
}

func TestLoad_MalformedRowsKeepAlignment(t *testing.T) {
	// Given: a bad line between two good ones
	path := writeCorpus(t, `{"text":"alpha"}
{not json
{"text":"gamma"}
`)

	s, err := Load(context.Background(), path)

	// Then: the bad line becomes an empty chunk at its own position
	require.NoError(t, err)
	require.Equal(t, 3, s.Size())
	bad, _ := s.Get(1)
	assert.Empty(t, bad.Text)
	assert.Equal(t, DefaultCourse, bad.Course)
	third, _ := s.Get(2)
	assert.Equal(t, "gamma", third.Text)
	assert.Equal(t, 1, s.Stats().Malformed)
	assert.Equal(t, 1, s.Stats().MissingText)
}

func TestRead_LenientFields(t *testing.T) {
	tests := []struct {
		name   string
		line   string
		text   string
		course string
		tags   []string
	}{
		{"missing text", `{"course":"ML"}`, "", "ML", []string{}},
		{"null course", `{"text":"a","course":null}`, "a", DefaultCourse, []string{}},
		{"empty course", `{"text":"a","course":""}`, "a", DefaultCourse, []string{}},
		{"numeric course", `{"text":"a","course":7}`, "a", DefaultCourse, []string{}},
		{"single tag string", `{"text":"a","topic_tags":"nlp"}`, "a", DefaultCourse, []string{"nlp"}},
		{"mixed tag list", `{"text":"a","topic_tags":["x",1,"y"]}`, "a", DefaultCourse, []string{"x", "y"}},
		{"tag object", `{"text":"a","topic_tags":{"k":"v"}}`, "a", DefaultCourse, []string{}},
		{"numeric text", `{"text":42}`, "", DefaultCourse, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := Read(context.Background(), strings.NewReader(tt.line+"\n"))
			require.NoError(t, err)
			c, ok := s.Get(0)
			require.True(t, ok)
			assert.Equal(t, tt.text, c.Text)
			assert.Equal(t, tt.course, c.Course)
			assert.Equal(t, tt.tags, c.TopicTags)
		})
	}
}

func TestRead_SkipsBlankLinesAndBOM(t *testing.T) {
	s, err := Read(context.Background(), strings.NewReader("\xef\xbb\xbf{\"text\":\"a\"}\n\n   \n{\"text\":\"b\"}"))

	require.NoError(t, err)
	require.Equal(t, 2, s.Size())
	b, _ := s.Get(1)
	assert.Equal(t, "b", b.Text)
	assert.Equal(t, 2, s.Stats().BlankLines)
}

func TestRead_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Read(ctx, strings.NewReader(`{"text":"a"}`))

	assert.ErrorIs(t, err, context.Canceled)
}

func TestGet_OutOfRange(t *testing.T) {
	s := New([]Chunk{{Text: "only"}})

	for _, id := range []int{-1, 1, 100} {
		_, ok := s.Get(id)
		assert.False(t, ok, "id %d", id)
	}

	var nilStore *Store
	_, ok := nilStore.Get(0)
	assert.False(t, ok)
	assert.Equal(t, 0, nilStore.Size())
}

func TestGet_ReturnsCopy(t *testing.T) {
	s := New([]Chunk{{Text: "a", TopicTags: []string{"x"}}})

	c, _ := s.Get(0)
	c.TopicTags[0] = "mutated"

	again, _ := s.Get(0)
	assert.Equal(t, []string{"x"}, again.TopicTags)
}

func TestNew_AssignsIDsAndDefaults(t *testing.T) {
	s := New([]Chunk{{ID: 9, Text: "a"}, {Text: "b", Course: "CS50"}})

	a, _ := s.Get(0)
	b, _ := s.Get(1)
	assert.Equal(t, 0, a.ID)
	assert.Equal(t, DefaultCourse, a.Course)
	assert.Equal(t, 1, b.ID)
	assert.Equal(t, "CS50", b.Course)
	assert.Equal(t, []string{"a", "b"}, s.Texts())
}

func TestLoad_OversizedRecordIsMalformedNotFatal(t *testing.T) {
	// Given: a corpus whose middle record exceeds the line cap
	huge := `{"text":"` + strings.Repeat("a", maxLineBytes+1024) + `"}`
	path := writeCorpus(t, `{"text":"Linear regression models relationships"}`+"\n"+
		huge+"\n"+
		`{"text":"Neural networks use backpropagation"}`)

	// When: loading it
	s, err := Load(context.Background(), path)

	// Then: every row keeps its position and only the oversized one is empty
	require.NoError(t, err)
	require.Equal(t, 3, s.Size())
	assert.Equal(t, 1, s.Stats().Malformed)

	middle, _ := s.Get(1)
	assert.Empty(t, middle.Text)
	assert.Equal(t, DefaultCourse, middle.Course)

	last, _ := s.Get(2)
	assert.Equal(t, 2, last.ID)
	assert.Equal(t, "Neural networks use backpropagation", last.Text)
}

func TestRead_CRLFAndMissingFinalNewline(t *testing.T) {
	s, err := Read(context.Background(), strings.NewReader("{\"text\":\"one\"}\r\n{\"text\":\"two\"}"))

	require.NoError(t, err)
	require.Equal(t, 2, s.Size())
	first, _ := s.Get(0)
	second, _ := s.Get(1)
	assert.Equal(t, "one", first.Text)
	assert.Equal(t, "two", second.Text)
	assert.Zero(t, s.Stats().Malformed)
}

// Package corpus holds the immutable chunk corpus the retrieval service
// answers from. Chunk ids are dense 0-based positions that match the rows of
// the embedding matrix built from the same file.
package corpus

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	kberrors "github.com/Aman-CERP/kbcontext/internal/errors"
)

// DefaultCourse labels chunks whose record has no course.
const DefaultCourse = "Unknown"

// maxLineBytes caps a single JSONL record.
const maxLineBytes = 16 * 1024 * 1024

// Chunk is one unit of ingested knowledge.
type Chunk struct {
	ID        int      `json:"id"`
	Text      string   `json:"text"`
	Course    string   `json:"course"`
	TopicTags []string `json:"topic_tags"`
}

// LoadStats describes how a corpus file was read.
type LoadStats struct {
	Records     int `json:"records"`
	Malformed   int `json:"malformed"`
	MissingText int `json:"missing_text"`
	BlankLines  int `json:"blank_lines"`
}

// Store is a read-only chunk corpus. The zero value is an empty store.
type Store struct {
	chunks []Chunk
	path   string
	stats  LoadStats
}

// Empty returns a store with no chunks.
func Empty() *Store {
	return &Store{}
}

// New builds a store from in-memory chunks, assigning ids by position and
// filling the default course.
func New(chunks []Chunk) *Store {
	s := &Store{chunks: make([]Chunk, len(chunks))}
	for i, c := range chunks {
		c.ID = i
		if c.Course == "" {
			c.Course = DefaultCourse
		}
		c.TopicTags = slices.Clone(c.TopicTags)
		s.chunks[i] = c
		s.stats.Records++
		if c.Text == "" {
			s.stats.MissingText++
		}
	}
	return s
}

// Load reads a JSONL corpus file. It always returns a usable store: when the
// file is absent or unreadable the store is empty and the error says why.
// Malformed records never fail the load; they become empty-text chunks so
// later rows stay aligned with the embedding matrix.
func Load(ctx context.Context, path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		code := kberrors.ErrCodeKBUnreadable
		if os.IsNotExist(err) {
			code = kberrors.ErrCodeKBNotFound
		}
		return Empty(), kberrors.New(code, "corpus file unavailable", err).
			WithDetail("path", path)
	}
	defer f.Close()

	s, err := Read(ctx, f)
	if err != nil {
		return Empty(), kberrors.New(kberrors.ErrCodeKBUnreadable, "corpus file could not be read", err).
			WithDetail("path", path)
	}
	s.path = path

	if s.stats.Malformed > 0 {
		slog.Warn("corpus_malformed_records",
			slog.String("path", path),
			slog.Int("malformed", s.stats.Malformed),
			slog.Int("records", s.stats.Records))
	}
	return s, nil
}

// Read parses JSONL records from r. A read error discards everything read so
// far so callers never see a partial corpus. A record longer than
// maxLineBytes counts as malformed.
func Read(ctx context.Context, r io.Reader) (*Store, error) {
	lr := newLineReader(r)

	s := &Store{}
	first := true
	for {
		if len(s.chunks)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
		}

		line, tooLong, err := lr.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read corpus: %w", err)
		}

		if first {
			line = bytes.TrimPrefix(line, []byte("\xef\xbb\xbf"))
			first = false
		}
		if !tooLong && len(bytes.TrimSpace(line)) == 0 {
			s.stats.BlankLines++
			continue
		}

		c, ok := Chunk{Course: DefaultCourse, TopicTags: []string{}}, false
		if !tooLong {
			c, ok = parseRecord(line)
		}
		if !ok {
			s.stats.Malformed++
		}
		if c.Text == "" {
			s.stats.MissingText++
		}
		c.ID = len(s.chunks)
		s.chunks = append(s.chunks, c)
		s.stats.Records++
	}
	return s, nil
}

// lineReader yields newline-terminated lines, dropping the body of any line
// over maxLineBytes instead of failing.
type lineReader struct {
	br  *bufio.Reader
	buf []byte
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{br: bufio.NewReaderSize(r, 64*1024)}
}

// next returns the next line without its terminator. tooLong reports a
// line that was discarded; its content is then nil. io.EOF is returned
// only when no bytes remain.
func (l *lineReader) next() (line []byte, tooLong bool, err error) {
	l.buf = l.buf[:0]
	read := false
	for {
		frag, err := l.br.ReadSlice('\n')
		if len(frag) > 0 {
			read = true
		}
		if !tooLong {
			if len(l.buf)+len(frag) > maxLineBytes+1 {
				tooLong = true
				l.buf = l.buf[:0]
			} else {
				l.buf = append(l.buf, frag...)
			}
		}

		switch err {
		case nil:
			return l.result(tooLong), tooLong, nil
		case bufio.ErrBufferFull:
			continue
		case io.EOF:
			if !read {
				return nil, false, io.EOF
			}
			return l.result(tooLong), tooLong, nil
		default:
			return nil, false, err
		}
	}
}

func (l *lineReader) result(tooLong bool) []byte {
	if tooLong {
		return nil
	}
	return bytes.TrimSuffix(bytes.TrimSuffix(l.buf, []byte("\n")), []byte("\r"))
}

// parseRecord decodes one record field by field so a bad field only loses
// that field. ok is false when the line is not a JSON object at all.
func parseRecord(line []byte) (Chunk, bool) {
	c := Chunk{Course: DefaultCourse, TopicTags: []string{}}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return c, false
	}

	var text string
	if json.Unmarshal(fields["text"], &text) == nil {
		c.Text = text
	}

	var course string
	if json.Unmarshal(fields["course"], &course) == nil && course != "" {
		c.Course = course
	}

	if raw, ok := fields["topic_tags"]; ok {
		c.TopicTags = parseTags(raw)
	}
	return c, true
}

// parseTags accepts a list of strings or a single string. Non-string list
// elements are dropped.
func parseTags(raw json.RawMessage) []string {
	var one string
	if json.Unmarshal(raw, &one) == nil {
		if one == "" {
			return []string{}
		}
		return []string{one}
	}

	var items []json.RawMessage
	if json.Unmarshal(raw, &items) != nil {
		return []string{}
	}
	tags := make([]string, 0, len(items))
	for _, item := range items {
		var tag string
		if json.Unmarshal(item, &tag) == nil {
			tags = append(tags, tag)
		}
	}
	return tags
}

// Get returns the chunk at id. Out-of-range ids report false.
func (s *Store) Get(id int) (Chunk, bool) {
	if s == nil || id < 0 || id >= len(s.chunks) {
		return Chunk{}, false
	}
	c := s.chunks[id]
	c.TopicTags = slices.Clone(c.TopicTags)
	return c, true
}

// Size returns the number of chunks.
func (s *Store) Size() int {
	if s == nil {
		return 0
	}
	return len(s.chunks)
}

// Texts returns every chunk's text in id order.
func (s *Store) Texts() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.chunks))
	for i, c := range s.chunks {
		out[i] = c.Text
	}
	return out
}

// Path returns the file the store was loaded from, if any.
func (s *Store) Path() string {
	if s == nil {
		return ""
	}
	return s.path
}

// Stats returns load statistics.
func (s *Store) Stats() LoadStats {
	if s == nil {
		return LoadStats{}
	}
	return s.stats
}

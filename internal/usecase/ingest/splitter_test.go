package ingest

import (
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"
)

func TestSplitter_ShortTextSingleChunk(t *testing.T) {
	s := NewSplitter(100, 20)
	got := s.Split("hello world")
	want := []string{"hello world"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Split = %v, want %v", got, want)
	}
}

func TestSplitter_BlankText(t *testing.T) {
	s := NewSplitter(100, 20)
	if got := s.Split("  \n\n \t "); got != nil {
		t.Fatalf("expected nil for blank text, got %v", got)
	}
}

func TestSplitter_ParagraphBoundary(t *testing.T) {
	s := NewSplitter(5, 2)
	got := s.Split("aaaa\n\nbbbb")
	want := []string{"aaaa", "bbbb"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Split = %v, want %v", got, want)
	}
}

func TestSplitter_WordMergeWithOverlap(t *testing.T) {
	s := NewSplitter(10, 3)
	got := s.Split("one two three four")
	want := []string{"one two", "two three", "four"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Split = %v, want %v", got, want)
	}
}

func TestSplitter_ChunkSizeRespected(t *testing.T) {
	s := NewSplitter(50, 10)
	text := strings.Repeat("lorem ipsum dolor sit amet ", 40)
	for i, c := range s.Split(text) {
		if n := utf8.RuneCountInString(c); n > 50 {
			t.Errorf("chunk %d exceeds size: %d runes", i, n)
		}
	}
}

func TestSplitter_HardCutUnbrokenText(t *testing.T) {
	s := NewSplitter(4, 1)
	got := s.Split("abcdefghij")
	want := []string{"abcd", "defg", "ghij"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Split = %v, want %v", got, want)
	}
}

func TestSplitter_OversizedParagraphDescends(t *testing.T) {
	s := NewSplitter(10, 2)
	// first paragraph fits, second must be re-split on word boundaries
	got := s.Split("short one\n\nalpha beta gamma delta")
	if len(got) < 3 {
		t.Fatalf("expected the long paragraph to be split, got %v", got)
	}
	if got[0] != "short one" {
		t.Errorf("first chunk = %q, want %q", got[0], "short one")
	}
	for i, c := range got {
		if n := utf8.RuneCountInString(c); n > 10 {
			t.Errorf("chunk %d exceeds size: %q", i, c)
		}
	}
}

func TestNewSplitter_Defaults(t *testing.T) {
	s := NewSplitter(0, -1)
	if s.chunkSize != DefaultChunkSize {
		t.Errorf("chunkSize = %d, want %d", s.chunkSize, DefaultChunkSize)
	}
	if s.overlap != DefaultChunkOverlap {
		t.Errorf("overlap = %d, want %d", s.overlap, DefaultChunkOverlap)
	}

	// overlap must stay below chunk size
	s = NewSplitter(10, 50)
	if s.overlap >= s.chunkSize {
		t.Errorf("overlap %d not clamped below chunk size %d", s.overlap, s.chunkSize)
	}
}

package karaoke

import (
	"fmt"
	"strings"
	"testing"

	"lyrebird/internal/transcription"
)

func TestSplitTextPrefersNewlines(t *testing.T) {
	lines := splitText("first line\n\n second line \nthird line\n")
	want := []string{"first line", "second line", "third line"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %v", len(want), lines)
	}
	for i, line := range lines {
		if line != want[i] {
			t.Fatalf("line %d: expected %q, got %q", i, want[i], line)
		}
	}
}

func TestSplitTextFallsBackToSentences(t *testing.T) {
	text := "Hello darkness my old friend. I've come to talk with you again! " +
		"Because a vision softly creeping? Left its seeds while I was sleeping."
	lines := splitText(text)
	if len(lines) != 4 {
		t.Fatalf("expected 4 sentences, got %v", lines)
	}
	if lines[0] != "Hello darkness my old friend" {
		t.Fatalf("unexpected first sentence %q", lines[0])
	}
}

func TestSplitTextChunksUnpunctuatedText(t *testing.T) {
	words := make([]string, 25)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}
	lines := splitText(strings.Join(words, " "))
	if len(lines) != 3 {
		t.Fatalf("expected 3 chunks of at most %d words, got %v", wordsPerLine, lines)
	}
	if got := len(strings.Fields(lines[0])); got != wordsPerLine {
		t.Fatalf("expected a full first chunk, got %d words", got)
	}
	if got := len(strings.Fields(lines[2])); got != 5 {
		t.Fatalf("expected 5 words in the tail chunk, got %d", got)
	}
}

func TestSplitTextEmpty(t *testing.T) {
	if lines := splitText(""); lines != nil {
		t.Fatalf("expected no lines for empty text, got %v", lines)
	}
	if lines := splitText("  \n\t\n "); lines != nil {
		t.Fatalf("expected no lines for blank text, got %v", lines)
	}
}

func TestLinesFromSegments(t *testing.T) {
	segments := []transcription.Segment{
		{Text: " Hello darkness ", Start: 1.2},
		{Text: "   ", Start: 2.0},
		{Text: "my old friend", Start: 0.8},
		{Text: "way past the end", Start: 500},
	}
	lines := LinesFromSegments(segments, 300)
	if len(lines) != 3 {
		t.Fatalf("expected the blank segment dropped, got %v", lines)
	}
	if lines[0].Text != "Hello darkness" || lines[0].Start != 1.2 {
		t.Fatalf("unexpected first line %+v", lines[0])
	}
	if lines[1].Start != 1.2 {
		t.Fatalf("expected backwards timestamp clamped to 1.2, got %v", lines[1].Start)
	}
	if lines[2].Start != 300 {
		t.Fatalf("expected timestamp clamped to the duration, got %v", lines[2].Start)
	}
}

func TestLinesFromTextUniformTiming(t *testing.T) {
	lines := LinesFromText("one\ntwo\nthree\nfour", 100)
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %v", lines)
	}
	for i, want := range []float64{0, 25, 50, 75} {
		if lines[i].Start != want {
			t.Fatalf("line %d: expected start %v, got %v", i, want, lines[i].Start)
		}
	}
}

func TestLinesFromTextWithoutDuration(t *testing.T) {
	lines := LinesFromText("one\ntwo", 0)
	if len(lines) != 2 || lines[0].Start != 0 || lines[1].Start != 0 {
		t.Fatalf("expected zero offsets without a duration, got %v", lines)
	}
}

package karaoke

import (
	"regexp"
	"strings"

	"lyrebird/internal/transcription"
)

// wordsPerLine bounds line length when the transcript arrives as one
// unbroken blob and has to be chunked by word count.
const wordsPerLine = 10

var sentencePattern = regexp.MustCompile(`[.!?]+`)

// Line is one displayable lyric line with its start offset in seconds.
type Line struct {
	Start float64
	Text  string
}

// LinesFromSegments builds timed lines from WhisperX segments, one line per
// segment. Empty segments are dropped and start offsets never move backwards
// or past the track duration.
func LinesFromSegments(segments []transcription.Segment, duration float64) []Line {
	lines := make([]Line, 0, len(segments))
	last := 0.0
	for _, seg := range segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		start := seg.Start
		if start < last {
			start = last
		}
		if duration > 0 && start > duration {
			start = duration
		}
		lines = append(lines, Line{Start: start, Text: text})
		last = start
	}
	return lines
}

// LinesFromText distributes plain transcript lines uniformly across the
// track duration. It is the fallback when no word timing is available.
func LinesFromText(text string, duration float64) []Line {
	raw := splitText(text)
	if len(raw) == 0 {
		return nil
	}
	perLine := 0.0
	if duration > 0 {
		perLine = duration / float64(len(raw))
	}
	lines := make([]Line, len(raw))
	for i, t := range raw {
		lines[i] = Line{Start: float64(i) * perLine, Text: t}
	}
	return lines
}

// splitText turns a raw transcript into lyric lines: newlines first, then
// sentence punctuation, then fixed word chunks when the text has no usable
// structure at all.
func splitText(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	lines := nonEmpty(strings.Split(text, "\n"))
	if len(lines) > 1 {
		return lines
	}

	lines = nonEmpty(sentencePattern.Split(text, -1))
	if len(lines) > 2 {
		return lines
	}

	words := strings.Fields(text)
	lines = lines[:0]
	for i := 0; i < len(words); i += wordsPerLine {
		end := i + wordsPerLine
		if end > len(words) {
			end = len(words)
		}
		lines = append(lines, strings.Join(words[i:end], " "))
	}
	return lines
}

func nonEmpty(parts []string) []string {
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

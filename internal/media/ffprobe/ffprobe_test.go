package ffprobe

import (
	"math"
	"testing"
)

func TestResultHelpers(t *testing.T) {
	result := Result{
		Streams: []Stream{
			{CodecType: "video"},
			{CodecType: "audio", CodecName: "mp3", SampleRate: "44100", Channels: 2},
			{CodecType: "audio"},
		},
		Format: Format{
			Duration: "123.45",
			Size:     "1000",
			BitRate:  "32000",
		},
	}
	if result.AudioStreamCount() != 2 {
		t.Fatalf("expected 2 audio streams, got %d", result.AudioStreamCount())
	}
	first, ok := result.FirstAudio()
	if !ok {
		t.Fatal("expected an audio stream")
	}
	if first.CodecName != "mp3" {
		t.Fatalf("expected first audio stream to be mp3, got %s", first.CodecName)
	}
	if first.SampleRateHz() != 44100 {
		t.Fatalf("unexpected sample rate: %d", first.SampleRateHz())
	}
	if result.DurationSeconds() != 123.45 {
		t.Fatalf("unexpected duration: %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 1000 {
		t.Fatalf("unexpected size: %d", result.SizeBytes())
	}
	if result.BitRate() != 32000 {
		t.Fatalf("unexpected bitrate: %d", result.BitRate())
	}
}

func TestResultHelpersHandleInvalidNumbers(t *testing.T) {
	result := Result{
		Format: Format{
			Duration: "bad",
			Size:     "-1",
			BitRate:  "nope",
		},
	}
	if !math.IsNaN(result.DurationSeconds()) {
		t.Fatalf("expected duration NaN, got %v", result.DurationSeconds())
	}
	if result.SizeBytes() != 0 {
		t.Fatalf("expected size 0, got %d", result.SizeBytes())
	}
	if result.BitRate() != 0 {
		t.Fatalf("expected bitrate 0, got %d", result.BitRate())
	}
	if _, ok := result.FirstAudio(); ok {
		t.Fatal("expected no audio stream")
	}
}

func TestFormatTagLookup(t *testing.T) {
	format := Format{Tags: map[string]string{"TITLE": " Midnight Run ", "artist": "The Badgers"}}
	if got := format.Tag("title"); got != "Midnight Run" {
		t.Fatalf("Tag(title) = %q", got)
	}
	if got := format.Tag("Artist"); got != "The Badgers" {
		t.Fatalf("Tag(Artist) = %q", got)
	}
	if got := format.Tag("album"); got != "" {
		t.Fatalf("Tag(album) = %q, want empty", got)
	}
}

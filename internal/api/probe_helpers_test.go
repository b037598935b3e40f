package api

import "testing"

const sampleProbeJSON = `{
  "streams": [
    {"index": 0, "codec_name": "mp3", "codec_type": "audio", "sample_rate": "44100", "channels": 2}
  ],
  "format": {
    "format_name": "mp3",
    "duration": "213.5",
    "tags": {"TITLE": "Stub Song", "artist": "Stub Artist"}
  }
}`

func TestProbeTagCaseInsensitive(t *testing.T) {
	if got := ProbeTag(sampleProbeJSON, "title", "fallback"); got != "Stub Song" {
		t.Fatalf("unexpected title tag: %q", got)
	}
	if got := ProbeTag(sampleProbeJSON, "ARTIST", ""); got != "Stub Artist" {
		t.Fatalf("unexpected artist tag: %q", got)
	}
	if got := ProbeTag(sampleProbeJSON, "album", "fallback"); got != "fallback" {
		t.Fatalf("expected fallback for missing tag, got %q", got)
	}
}

func TestProbeTitleFallsBack(t *testing.T) {
	if got := ProbeTitle(""); got != "Unknown" {
		t.Fatalf("expected Unknown for empty probe, got %q", got)
	}
	if got := ProbeTitle("{not json"); got != "Unknown" {
		t.Fatalf("expected Unknown for malformed probe, got %q", got)
	}
	if got := ProbeTitle(sampleProbeJSON); got != "Stub Song" {
		t.Fatalf("unexpected title: %q", got)
	}
}

func TestProbeAudioSummary(t *testing.T) {
	if got := ProbeAudioSummary(sampleProbeJSON); got != "mp3 44100 Hz 2ch" {
		t.Fatalf("unexpected summary: %q", got)
	}
	if got := ProbeAudioSummary(`{"streams":[{"codec_type":"video","codec_name":"h264"}]}`); got != "" {
		t.Fatalf("expected empty summary without audio, got %q", got)
	}
	if got := ProbeAudioSummary(""); got != "" {
		t.Fatalf("expected empty summary for empty probe, got %q", got)
	}
}

package stage

import (
	"testing"

	"lyrebird/internal/testsupport"
)

func TestPrerequisiteMatches(t *testing.T) {
	exact := Prerequisite{Stage: "separation", Name: "vocals.mp3"}
	if !exact.Matches("vocals.mp3") {
		t.Error("expected exact name to match")
	}
	if exact.Matches("no_vocals.mp3") {
		t.Error("expected different name not to match")
	}

	glob := Prerequisite{Stage: "transcription", Name: "transcription_*.json"}
	if !glob.Matches("transcription_large.json") {
		t.Error("expected glob to match variant-suffixed name")
	}
	if glob.Matches("transcription_large.txt") {
		t.Error("expected glob not to match other extensions")
	}
	if glob.String() != "transcription/transcription_*.json" {
		t.Fatalf("unexpected render: %q", glob.String())
	}
}

func TestBinaryHealth(t *testing.T) {
	testsupport.NewConfig(t, testsupport.WithStubbedBinaries("demucs"))

	if h := BinaryHealth("separation", "demucs"); !h.Ready {
		t.Fatalf("expected stubbed binary to be healthy, got %+v", h)
	}
	h := BinaryHealth("separation", "no-such-binary-anywhere")
	if h.Ready {
		t.Fatal("expected missing binary to be unhealthy")
	}
	if h.Detail == "" {
		t.Fatal("expected detail naming the missing binary")
	}
	if h := BinaryHealth("separation", ""); h.Ready {
		t.Fatal("expected empty binary to be unhealthy")
	}
}

package api

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ProbeTag extracts a container tag from stored ffprobe JSON. Tag names are
// matched case-insensitively because taggers disagree about casing.
func ProbeTag(probeJSON, tag, fallback string) string {
	fields := parseProbeFields(probeJSON)
	if value, ok := fields.tag(tag); ok {
		return value
	}
	return fallback
}

// ProbeTitle extracts the title tag from probe JSON.
func ProbeTitle(probeJSON string) string {
	return ProbeTag(probeJSON, "title", "Unknown")
}

// ProbeArtist extracts the artist tag from probe JSON.
func ProbeArtist(probeJSON string) string {
	return ProbeTag(probeJSON, "artist", "")
}

// ProbeAudioSummary renders a one-line codec description from probe JSON,
// e.g. "mp3 44100 Hz 2ch". Returns empty string when no audio stream was
// recorded.
func ProbeAudioSummary(probeJSON string) string {
	fields := parseProbeFields(probeJSON)
	if fields.codec == "" {
		return ""
	}
	parts := []string{fields.codec}
	if fields.sampleRate > 0 {
		parts = append(parts, fmt.Sprintf("%d Hz", fields.sampleRate))
	}
	if fields.channels > 0 {
		parts = append(parts, fmt.Sprintf("%dch", fields.channels))
	}
	return strings.Join(parts, " ")
}

// probeFields holds the commonly displayed probe values from a single JSON parse.
type probeFields struct {
	tags       map[string]string
	codec      string
	sampleRate int
	channels   int
}

func (p probeFields) tag(name string) (string, bool) {
	for key, value := range p.tags {
		if strings.EqualFold(key, name) {
			trimmed := strings.TrimSpace(value)
			if trimmed != "" {
				return trimmed, true
			}
		}
	}
	return "", false
}

// parseProbeFields extracts display fields from stored ffprobe JSON with a
// single parse. Malformed or empty payloads yield zero values.
func parseProbeFields(probeJSON string) probeFields {
	if strings.TrimSpace(probeJSON) == "" {
		return probeFields{}
	}
	var raw struct {
		Format struct {
			Tags map[string]string `json:"tags"`
		} `json:"format"`
		Streams []struct {
			CodecType  string `json:"codec_type"`
			CodecName  string `json:"codec_name"`
			SampleRate string `json:"sample_rate"`
			Channels   int    `json:"channels"`
		} `json:"streams"`
	}
	if err := json.Unmarshal([]byte(probeJSON), &raw); err != nil {
		return probeFields{}
	}

	fields := probeFields{tags: raw.Format.Tags}
	for _, stream := range raw.Streams {
		if !strings.EqualFold(stream.CodecType, "audio") {
			continue
		}
		fields.codec = stream.CodecName
		fields.channels = stream.Channels
		if rate, err := strconv.Atoi(strings.TrimSpace(stream.SampleRate)); err == nil && rate > 0 {
			fields.sampleRate = rate
		}
		break
	}
	return fields
}

package karaoke

import (
	"fmt"
	"strings"
)

// Fallbacks for the LRC header when the upload carried no usable tags.
const (
	DefaultTitle  = "Karaoke Song"
	DefaultArtist = "Unknown Artist"
)

// Timestamp renders a second offset in LRC form, e.g. [01:05.50].
func Timestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	minutes := int(seconds) / 60
	return fmt.Sprintf("[%02d:%05.2f]", minutes, seconds-float64(minutes*60))
}

// BuildLRC renders a complete LRC document: ti/ar/al/length header, a blank
// separator, then one timestamped lyric per line.
func BuildLRC(title, artist string, duration float64, lines []Line) string {
	if strings.TrimSpace(title) == "" {
		title = DefaultTitle
	}
	if strings.TrimSpace(artist) == "" {
		artist = DefaultArtist
	}
	if duration < 0 {
		duration = 0
	}

	var b strings.Builder
	fmt.Fprintf(&b, "[ti:%s]\n", title)
	fmt.Fprintf(&b, "[ar:%s]\n", artist)
	b.WriteString("[al:]\n")
	fmt.Fprintf(&b, "[length:%02d:%02d]\n", int(duration)/60, int(duration)%60)
	b.WriteString("\n")
	for _, line := range lines {
		b.WriteString(Timestamp(line.Start))
		b.WriteString(line.Text)
		b.WriteByte('\n')
	}
	return b.String()
}

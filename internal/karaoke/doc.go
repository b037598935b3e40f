// Package karaoke assembles the final deliverables from the earlier stage
// outputs: a timestamped LRC lyric file, the instrumental track re-tagged as
// a karaoke mp3, and a sync manifest describing the line timing. Line timing
// comes from the WhisperX segments when available and falls back to a uniform
// distribution over the track duration for plain text.
package karaoke

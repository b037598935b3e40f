// Package separation runs the demucs source separator as the first pipeline
// stage. It splits an upload into a vocal stem and an instrumental stem
// (two-stems mode, mp3 output) and reports measured progress parsed from the
// demucs progress bars.
package separation

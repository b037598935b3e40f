// Package transcription runs WhisperX over the separated vocal stem and
// writes word-timed transcription artifacts. WhisperX is invoked through uvx
// so the Python toolchain stays isolated from the daemon process.
package transcription

// Package language normalizes language hints for the transcription stage.
//
// Submissions carry a language from either the client or the source file's
// metadata tags, in whatever form the tagger used (ISO 639-1, ISO 639-2, or
// a full word like "japanese"). WhisperX wants the two-letter form, so
// everything funnels through ToISO2 before it reaches a job record.
package language

package language

import "strings"

// entry covers one language WhisperX can transcribe. Tags in the wild mix
// ISO 639-1, both ISO 639-2 spellings, and full words, so each entry keeps
// every form we have seen on real files.
type entry struct {
	code2   string // ISO 639-1, the form the transcription stage wants
	code3   string // ISO 639-2/T
	alt3    string // ISO 639-2/B where it differs (e.g. "fre" vs "fra")
	display string
	word    string // full word form (e.g. "english")
}

var languages = []entry{
	{"en", "eng", "", "English", "english"},
	{"es", "spa", "", "Spanish", "spanish"},
	{"fr", "fra", "fre", "French", "french"},
	{"de", "deu", "ger", "German", "german"},
	{"it", "ita", "", "Italian", "italian"},
	{"pt", "por", "", "Portuguese", "portuguese"},
	{"ja", "jpn", "", "Japanese", "japanese"},
	{"ko", "kor", "", "Korean", "korean"},
	{"zh", "zho", "chi", "Chinese", "chinese"},
	{"ru", "rus", "", "Russian", "russian"},
	{"ar", "ara", "", "Arabic", "arabic"},
	{"hi", "hin", "", "Hindi", "hindi"},
	{"nl", "nld", "dut", "Dutch", "dutch"},
	{"pl", "pol", "", "Polish", "polish"},
	{"sv", "swe", "", "Swedish", "swedish"},
	{"da", "dan", "", "Danish", "danish"},
	{"no", "nor", "", "Norwegian", "norwegian"},
	{"fi", "fin", "", "Finnish", "finnish"},
	{"tr", "tur", "", "Turkish", "turkish"},
	{"uk", "ukr", "", "Ukrainian", "ukrainian"},
	{"cs", "ces", "cze", "Czech", "czech"},
	{"el", "ell", "gre", "Greek", "greek"},
	{"vi", "vie", "", "Vietnamese", "vietnamese"},
	{"id", "ind", "", "Indonesian", "indonesian"},
}

var byForm map[string]*entry

func init() {
	byForm = make(map[string]*entry, len(languages)*4)
	for i := range languages {
		e := &languages[i]
		byForm[e.code2] = e
		byForm[e.code3] = e
		if e.alt3 != "" {
			byForm[e.alt3] = e
		}
		byForm[e.word] = e
	}
}

func lookup(code string) *entry {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return nil
	}
	return byForm[code]
}

// ToISO2 converts any recognized language form to ISO 639-1. An unrecognized
// 2-letter code passes through untouched (WhisperX knows more languages than
// this table); anything else unrecognized returns "".
func ToISO2(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		return ""
	}
	if e := lookup(code); e != nil {
		return e.code2
	}
	if len(code) == 2 {
		return code
	}
	return ""
}

// DisplayName returns a human-readable name for any recognized form,
// "Unknown" for empty input, and the uppercased code otherwise.
func DisplayName(code string) string {
	if strings.TrimSpace(code) == "" {
		return "Unknown"
	}
	if e := lookup(code); e != nil {
		return e.display
	}
	return strings.ToUpper(strings.TrimSpace(code))
}

// ExtractFromTags pulls a language hint out of probe metadata tags, checking
// the tag keys ffmpeg and common taggers emit.
func ExtractFromTags(tags map[string]string) string {
	if len(tags) == 0 {
		return ""
	}
	for _, key := range []string{"language", "LANGUAGE", "Language", "language_ietf", "lang", "LANG"} {
		if value, ok := tags[key]; ok {
			value = strings.TrimSpace(strings.ReplaceAll(value, "\x00", ""))
			if value != "" {
				return strings.ToLower(value)
			}
		}
	}
	return ""
}

package textutil

import "testing"

func TestSanitizeFileName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"song.mp3", "song.mp3"},
		{"../../etc/passwd", "..-..-etc-passwd"},
		{`a/b\c:d*e?f"g<h>i|j`, "a-b-c-d-efghij"},
		{"  padded.flac  ", "padded.flac"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeFileName(tc.in); got != tc.want {
			t.Errorf("SanitizeFileName(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

package testsupport

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

// WriteFile creates a stand-in upload of the given size at path, creating
// parent directories as needed. The content starts with an ID3 marker so the
// bytes look vaguely like an mp3, then repeats a filler pattern; distinct
// sizes yield distinct fingerprints. A size <= 0 writes a single byte.
func WriteFile(t testing.TB, path string, size int64) {
	t.Helper()

	if size <= 0 {
		size = 1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", path, err)
	}

	header := []byte("ID3")
	if size < int64(len(header)) {
		header = header[:size]
	}
	content := append([]byte(nil), header...)
	if pad := size - int64(len(content)); pad > 0 {
		content = append(content, bytes.Repeat([]byte{0x42}, int(pad))...)
	}

	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

package testsupport

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"lyrebird/internal/artifacts"
	"lyrebird/internal/config"
	"lyrebird/internal/registry"
)

// MustOpenStore opens a registry.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *registry.Store {
	t.Helper()

	store, err := registry.Open(cfg)
	if err != nil {
		t.Fatalf("registry.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// MustOpenArtifacts opens an artifacts.Store for tests and registers cleanup.
func MustOpenArtifacts(t testing.TB, cfg *config.Config) *artifacts.Store {
	t.Helper()

	store, err := artifacts.Open(cfg)
	if err != nil {
		t.Fatalf("artifacts.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// SubmitJob creates a fresh job for tests using the provided store. The
// fingerprint label is hashed to a real sha256 hex string so derived job IDs
// stay distinct.
func SubmitJob(t testing.TB, store *registry.Store, fingerprint, title string) *registry.Job {
	t.Helper()

	job, isNew, err := store.Submit(context.Background(), registry.NewJobParams{
		Fingerprint:     PadFingerprint(fingerprint),
		Title:           title,
		SourcePath:      "/tmp/" + fingerprint + ".mp3",
		DurationSeconds: 200,
		SizeBytes:       1 << 20,
	})
	if err != nil {
		t.Fatalf("store.Submit: %v", err)
	}
	if !isNew {
		t.Fatalf("expected a new job for fingerprint %q", fingerprint)
	}
	return job
}

// PadFingerprint expands a short test label into a full sha256 hex string.
func PadFingerprint(label string) string {
	sum := sha256.Sum256([]byte(label))
	return hex.EncodeToString(sum[:])
}

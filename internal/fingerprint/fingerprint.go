// Package fingerprint derives content-addressed identifiers for uploaded
// media. Two submissions of the same bytes always produce the same
// fingerprint, which is what duplicate detection and artifact reuse key on.
package fingerprint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// IDLength is the number of fingerprint hex characters used as a job ID.
const IDLength = 12

// Compute returns the sha256 fingerprint of the file at path, hex encoded.
func Compute(ctx context.Context, path string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	return ComputeReader(file)
}

// ComputeReader hashes an arbitrary stream. Used during upload ingest so the
// payload is written and fingerprinted in one pass.
func ComputeReader(r io.Reader) (string, error) {
	h := sha256.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// JobID derives the short job identifier from a content fingerprint.
func JobID(fp string) string {
	if len(fp) <= IDLength {
		return fp
	}
	return fp[:IDLength]
}

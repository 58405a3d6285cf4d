package genspark

import (
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/blake2b"
)

// fingerprintPrefix is how much of a file the quick fingerprint covers.
const fingerprintPrefix = 8 * 1024

// quickFingerprint hashes the first 8 KiB of the file at absPath. It only
// detects local changes between scans and is never compared with
// anything on the remote side.
func quickFingerprint(absPath string) (string, error) {
	f, err := os.Open(absPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", fmt.Errorf("creating hash: %w", err)
	}

	if _, err := io.CopyN(h, f, fingerprintPrefix); err != nil && err != io.EOF {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

package integrity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Algorithm names the two-stage scheme recorded in signature sidecars.
const Algorithm = "hmac-sha256(sha256-hex)"

var (
	// ErrSignature is returned when a signature cannot be produced or does not match.
	ErrSignature = errors.New("signature error")
	// errEmptyKey rejects signing with an empty key.
	errEmptyKey = errors.New("signing key is empty")
)

// Digest returns the lowercase hex SHA-256 of data.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestReader streams r through SHA-256 and returns the hex digest.
func DigestReader(r io.Reader) (string, error) {
	hasher := sha256.New()
	if _, err := io.Copy(hasher, r); err != nil {
		return "", fmt.Errorf("hash content: %w", err)
	}

	return hex.EncodeToString(hasher.Sum(nil)), nil
}

// DigestFile returns the hex SHA-256 of a file without loading it in memory.
func DigestFile(path string) (string, error) {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}

	defer func() {
		_ = f.Close()
	}()

	return DigestReader(f)
}

// Sign returns base64(HMAC-SHA256(key, Digest(data))). The MAC input is the
// fixed-size hex digest, never the artifact itself.
func Sign(data, key []byte) (string, error) {
	return SignDigest(Digest(data), key)
}

// SignDigest signs an already computed hex digest.
func SignDigest(digest string, key []byte) (string, error) {
	if len(key) == 0 {
		return "", fmt.Errorf("%w: %w", ErrSignature, errEmptyKey)
	}

	mac := hmac.New(sha256.New, key)
	_, _ = mac.Write([]byte(digest))

	return base64.StdEncoding.EncodeToString(mac.Sum(nil)), nil
}

// Verify checks signature against data and key in constant time.
func Verify(data, key []byte, signature string) error {
	return VerifyDigest(Digest(data), key, signature)
}

// VerifyDigest checks signature against a hex digest.
func VerifyDigest(digest string, key []byte, signature string) error {
	expected, err := SignDigest(digest, key)
	if err != nil {
		return err
	}

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return fmt.Errorf("%w: signature does not match", ErrSignature)
	}

	return nil
}

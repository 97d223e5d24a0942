package integrity

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// SidecarSuffix is appended to an artifact path to name its signature record.
const SidecarSuffix = ".sig"

// Record is the signature report for a finished artifact. It lives next to
// the artifact and is never embedded in it.
type Record struct {
	// Artifact is the base name of the signed file.
	Artifact string `yaml:"artifact"`
	// Algorithm names the signing scheme.
	Algorithm string `yaml:"algorithm"`
	// Digest is the hex SHA-256 of the artifact.
	Digest string `yaml:"digest"`
	// Signature is the base64 HMAC over Digest; empty when no key was given.
	Signature string `yaml:"signature,omitempty"`
	// SignedAt is when the record was produced.
	SignedAt time.Time `yaml:"signed_at"`
}

// SignFile digests the artifact and, when key is non-empty, signs it.
func SignFile(artifactPath string, key []byte) (*Record, error) {
	digest, err := DigestFile(artifactPath)
	if err != nil {
		return nil, err
	}

	record := &Record{
		Artifact:  filepath.Base(artifactPath),
		Algorithm: Algorithm,
		Digest:    digest,
		SignedAt:  time.Now().UTC().Truncate(time.Second),
	}

	if len(key) == 0 {
		return record, nil
	}

	if record.Signature, err = SignDigest(digest, key); err != nil {
		return nil, err
	}

	return record, nil
}

// VerifyFile recomputes the artifact digest and checks it against record,
// and the signature against key when the record carries one.
func VerifyFile(artifactPath string, record *Record, key []byte) error {
	digest, err := DigestFile(artifactPath)
	if err != nil {
		return err
	}

	if digest != record.Digest {
		return fmt.Errorf("%w: digest %s, recorded %s", ErrSignature, digest, record.Digest)
	}

	if record.Signature == "" {
		return nil
	}

	return VerifyDigest(digest, key, record.Signature)
}

// SidecarPath returns the record path for an artifact.
func SidecarPath(artifactPath string) string {
	return artifactPath + SidecarSuffix
}

// WriteRecord stores the record as YAML at path.
func WriteRecord(path string, record *Record) error {
	data, err := yaml.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal signature record: %w", err)
	}

	if err = os.WriteFile(filepath.Clean(path), data, 0o644); err != nil { //nolint:gosec // Records are public.
		return fmt.Errorf("write signature record: %w", err)
	}

	return nil
}

// ReadRecord loads a YAML record from path.
func ReadRecord(path string) (*Record, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read signature record: %w", err)
	}

	var record Record
	if err = yaml.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("%w: decode record: %w", ErrSignature, err)
	}

	return &record, nil
}

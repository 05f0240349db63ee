package fileutils

import (
	_ "crypto/sha256"
	"errors"
	"io"
	"os"

	"github.com/cespare/xxhash"
	"github.com/opencontainers/go-digest"
)

// ComputeHash returns the xxhash of the reader.
// It will read the entire contents of the reader. It will not close the reader.
// Only used for change detection, never for content identity.
func ComputeHash(r io.Reader) (uint64, error) {
	hash := xxhash.New()
	_, err := io.Copy(hash, r)
	if err != nil {
		return 0, err
	}
	return hash.Sum64(), nil
}

// ComputeFileHash returns the xxhash of the file at path.
func ComputeFileHash(path string) (hash uint64, err error) {
	file, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	return ComputeHash(file)
}

// SHA256 returns the lower case hex SHA-256 digest of the reader contents.
func SHA256(r io.Reader) (string, error) {
	d, err := digest.SHA256.FromReader(r)
	if err != nil {
		return "", err
	}
	return d.Encoded(), nil
}

// SHA256File returns the lower case hex SHA-256 digest of the file at path.
func SHA256File(path string) (hash string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer func() {
		err = errors.Join(err, file.Close())
	}()

	return SHA256(file)
}

// ValidSHA256 reports whether s is a well formed hex encoded SHA-256 digest.
// Upper case digits are accepted.
func ValidSHA256(s string) bool {
	return digest.SHA256.Validate(NormalizeHash(s)) == nil
}

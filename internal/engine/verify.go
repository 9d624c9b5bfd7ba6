package engine

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"
)

const hashBlockSize = 32 * 1024

// HashFile computes the hex digest of the file at path using the named
// algorithm, reading in fixed-size blocks so large files never land in memory
// whole.
func HashFile(path, algo string) (string, error) {
	var h hash.Hash
	switch strings.ToLower(algo) {
	case "md5":
		h = md5.New()
	case "sha1":
		h = sha1.New()
	case "sha256":
		h = sha256.New()
	case "sha512":
		h = sha512.New()
	default:
		return "", fmt.Errorf("unsupported hash algorithm %q", algo)
	}
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("opening %s for hashing: %w", path, err)
	}
	defer file.Close()
	buffer := make([]byte, hashBlockSize)
	if _, err := io.CopyBuffer(h, file, buffer); err != nil {
		return "", fmt.Errorf("hashing %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// DetectHashAlgorithm infers the algorithm from the hex digest length.
func DetectHashAlgorithm(hexDigest string) (string, error) {
	switch len(hexDigest) {
	case 32:
		return "md5", nil
	case 40:
		return "sha1", nil
	case 64:
		return "sha256", nil
	case 128:
		return "sha512", nil
	default:
		return "", fmt.Errorf("cannot infer hash algorithm from %d-character digest", len(hexDigest))
	}
}

// hashAlgo resolves the algorithm for the request, preferring the explicit
// choice over length-based inference.
func (e *Engine) hashAlgo() (string, error) {
	if e.req.HashAlgo != "" {
		return strings.ToLower(e.req.HashAlgo), nil
	}
	return DetectHashAlgorithm(e.req.ExpectedHash)
}

// verify checks the assembled artifact against the probed size and, when the
// request carries an expected digest, against that digest. It returns the
// computed digest so the outcome can report it without rehashing.
func (e *Engine) verify(expectedSize int64) (string, int64, error) {
	info, err := os.Stat(e.req.OutputPath)
	if err != nil {
		return "", 0, fmt.Errorf("stating artifact: %w", err)
	}
	if expectedSize > 0 && info.Size() != expectedSize {
		return "", 0, &SizeError{Path: e.req.OutputPath, Want: expectedSize, Got: info.Size()}
	}
	if e.req.ExpectedHash == "" {
		return "", info.Size(), nil
	}
	algo, err := e.hashAlgo()
	if err != nil {
		return "", 0, err
	}
	got, err := HashFile(e.req.OutputPath, algo)
	if err != nil {
		return "", 0, err
	}
	if !strings.EqualFold(got, e.req.ExpectedHash) {
		return "", 0, &HashError{Path: e.req.OutputPath, Algo: algo, Want: strings.ToLower(e.req.ExpectedHash), Got: got}
	}
	return got, info.Size(), nil
}

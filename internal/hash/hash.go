// Package hash computes tiered content digests: a cheap tier-1 digest
// over the first 64 KiB of a file and an optional full-content digest
// accumulated in the same pass.
package hash

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"strings"

	"github.com/zeebo/blake3"
)

// TierOneBytes is the prefix length covered by the tier-1 digest.
// Files shorter than this have identical tier-1 and full digests.
const TierOneBytes = 64 * 1024

// Streaming read sizes. Values outside the bounds are clamped by New.
const (
	MinChunkSize     = 8 * 1024
	MaxChunkSize     = 4 * 1024 * 1024
	DefaultChunkSize = 1024 * 1024
)

// ErrUnsupportedAlgorithm is returned when an algorithm name is not one
// of the supported set. It is fatal: callers must validate before any
// file is read.
var ErrUnsupportedAlgorithm = errors.New("unsupported hash algorithm")

// Algorithm names a supported digest algorithm.
type Algorithm string

const (
	MD5    Algorithm = "md5"
	SHA1   Algorithm = "sha1"
	SHA256 Algorithm = "sha256"
	SHA512 Algorithm = "sha512"
	BLAKE3 Algorithm = "blake3"
)

// ParseAlgorithm maps a case-insensitive name to an Algorithm or
// returns ErrUnsupportedAlgorithm.
func ParseAlgorithm(name string) (Algorithm, error) {
	switch a := Algorithm(strings.ToLower(strings.TrimSpace(name))); a {
	case MD5, SHA1, SHA256, SHA512, BLAKE3:
		return a, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedAlgorithm, name)
	}
}

func (a Algorithm) digest() hash.Hash {
	switch a {
	case MD5:
		return md5.New()
	case SHA1:
		return sha1.New()
	case SHA256:
		return sha256.New()
	case SHA512:
		return sha512.New()
	case BLAKE3:
		return blake3.New()
	}
	return nil
}

// Hasher computes digests with a fixed algorithm and read chunk size.
// Safe for concurrent use.
type Hasher struct {
	alg       Algorithm
	chunkSize int
}

// New returns a Hasher for alg. The algorithm is validated here so that
// an unsupported name fails before any scan work starts. A zero
// chunkSize selects DefaultChunkSize; other values are clamped to
// [MinChunkSize, MaxChunkSize].
func New(alg Algorithm, chunkSize int) (*Hasher, error) {
	if _, err := ParseAlgorithm(string(alg)); err != nil {
		return nil, err
	}
	switch {
	case chunkSize == 0:
		chunkSize = DefaultChunkSize
	case chunkSize < MinChunkSize:
		chunkSize = MinChunkSize
	case chunkSize > MaxChunkSize:
		chunkSize = MaxChunkSize
	}
	return &Hasher{alg: alg, chunkSize: chunkSize}, nil
}

// Algorithm returns the validated algorithm the Hasher was built with.
func (h *Hasher) Algorithm() Algorithm { return h.alg }

// Tiered reads the file once. The first TierOneBytes are fed to both
// the tier-1 digest and, when withFull is set, the full digest; the
// remainder streams into the full digest only. With withFull false only
// the prefix is read from disk.
func (h *Hasher) Tiered(path string, withFull bool) (tier1, full string, err error) {
	f, err := os.Open(path)
	if err != nil {
		return "", "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	t1 := h.alg.digest()
	var fd hash.Hash
	var prefix io.Writer = t1
	if withFull {
		fd = h.alg.digest()
		prefix = io.MultiWriter(t1, fd)
	}

	if _, err := io.CopyN(prefix, f, TierOneBytes); err != nil && err != io.EOF {
		return "", "", fmt.Errorf("read %s: %w", path, err)
	}
	tier1 = hex.EncodeToString(t1.Sum(nil))
	if fd == nil {
		return tier1, "", nil
	}

	buf := make([]byte, h.chunkSize)
	if _, err := io.CopyBuffer(fd, f, buf); err != nil {
		return "", "", fmt.Errorf("read %s: %w", path, err)
	}
	return tier1, hex.EncodeToString(fd.Sum(nil)), nil
}

// TierOne computes only the prefix digest. At most TierOneBytes are
// read from disk.
func (h *Hasher) TierOne(path string) (string, error) {
	tier1, _, err := h.Tiered(path, false)
	return tier1, err
}

// Full computes the digest of the entire file content.
func (h *Hasher) Full(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	d := h.alg.digest()
	buf := make([]byte, h.chunkSize)
	if _, err := io.CopyBuffer(d, f, buf); err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return hex.EncodeToString(d.Sum(nil)), nil
}

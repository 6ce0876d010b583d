// Package hashing computes sample and optional full content fingerprints
// for a file under a configurable algorithm. It never holds a lock on
// the path itself: the orchestrator never dispatches the same path to
// two hash tasks at once, so exclusion comes from scheduling rather
// than an internal mutex here.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"hash"
	"io"
	"os"

	"github.com/cespare/xxhash/v2"
	"github.com/medialib/agent/internal/agenterr"
	"lukechampine.com/blake3"
)

// Algo names a supported hash algorithm.
type Algo string

const (
	AlgoBlake3   Algo = "blake3"
	AlgoXXHash64 Algo = "xxhash64"
	AlgoSHA256   Algo = "sha256"
)

// Result carries the digests produced by Hash. FullHash is empty when
// the caller didn't request a full-file digest.
type Result struct {
	SampleHash string
	FullHash   string
}

const copyBufSize = 256 * 1024

// Hash computes the sample digest of the first min(sampleSize, size)
// bytes of path, and — when doFull is true — a digest of the entire
// file, in a single streaming read pass. I/O failures are returned as an
// agenterr-wrapped HashError; the caller is expected to skip hash
// emission for the record but still emit the base record.
func Hash(path string, algo Algo, sampleSize int64, doFull bool) (Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return Result{}, agenterr.Hash(path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return Result{}, agenterr.Hash(path, err)
	}

	sampleHasher, err := newHasher(algo)
	if err != nil {
		return Result{}, agenterr.Hash(path, err)
	}
	var fullHasher hash.Hash
	if doFull {
		fullHasher, err = newHasher(algo)
		if err != nil {
			return Result{}, agenterr.Hash(path, err)
		}
	}

	limit := sampleSize
	if info.Size() < limit {
		limit = info.Size()
	}

	buf := make([]byte, copyBufSize)
	var read int64
	for read < limit {
		want := limit - read
		if want > int64(len(buf)) {
			want = int64(len(buf))
		}
		n, rerr := f.Read(buf[:want])
		if n > 0 {
			sampleHasher.Write(buf[:n])
			if fullHasher != nil {
				fullHasher.Write(buf[:n])
			}
			read += int64(n)
		}
		if rerr == io.EOF {
			break
		}
		if rerr != nil {
			return Result{}, agenterr.Hash(path, rerr)
		}
	}

	result := Result{SampleHash: hex.EncodeToString(sampleHasher.Sum(nil))}

	if fullHasher != nil {
		if _, err := io.CopyBuffer(fullHasher, f, buf); err != nil {
			return Result{}, agenterr.Hash(path, err)
		}
		result.FullHash = hex.EncodeToString(fullHasher.Sum(nil))
	}

	return result, nil
}

func newHasher(algo Algo) (hash.Hash, error) {
	switch algo {
	case AlgoBlake3:
		return blake3.New(32, nil), nil
	case AlgoXXHash64:
		return xxhash.New(), nil
	case AlgoSHA256:
		return sha256.New(), nil
	default:
		return nil, &UnsupportedAlgoError{Algo: string(algo)}
	}
}

// UnsupportedAlgoError is returned by Hash (wrapped in a HashError) when
// the configured algorithm name isn't one of the three supported values.
type UnsupportedAlgoError struct {
	Algo string
}

func (e *UnsupportedAlgoError) Error() string {
	return "unsupported hash algorithm: " + e.Algo
}

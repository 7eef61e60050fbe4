package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// Sum reads r to EOF and returns the hex-encoded SHA-256 digest of its
// contents. Reads are chunked so large files never sit in memory whole.
func Sum(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, 256*1024)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("failed to read stream for checksum: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func SumBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s for checksum: %w", path, err)
	}
	defer f.Close()
	return Sum(f)
}

// Record returns the digest of a record's canonical JSON form. Go marshals
// map keys in sorted order, so the same field set always produces the same
// digest regardless of insertion order. Both sides of a sync must use this
// function for checksum comparison to be meaningful.
func Record(data map[string]interface{}) string {
	b, _ := json.Marshal(data)
	return SumBytes(b)
}

package checksum

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func TestSumBytes_KnownValues(t *testing.T) {
	// SHA-256 of the empty input is well-known
	if got := SumBytes(nil); got != "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855" {
		t.Errorf("unexpected empty digest: %s", got)
	}

	// SHA-256 of "hello world"
	if got := SumBytes([]byte("hello world")); got != "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9" {
		t.Errorf("unexpected digest: %s", got)
	}
}

func TestSum_Deterministic(t *testing.T) {
	data := []byte("the same bytes every time")

	first, err := Sum(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("first sum: %v", err)
	}
	second, err := Sum(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("second sum: %v", err)
	}

	if first != second {
		t.Errorf("digests differ: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(first))
	}
}

func TestSum_DifferentInputsDiffer(t *testing.T) {
	a := SumBytes([]byte("payload a"))
	b := SumBytes([]byte("payload b"))
	if a == b {
		t.Errorf("distinct inputs produced the same digest %s", a)
	}
}

func TestSumFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sample.txt")
	content := []byte("file contents")
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write temp file: %v", err)
	}

	fromFile, err := SumFile(path)
	if err != nil {
		t.Fatalf("sum file: %v", err)
	}
	if fromFile != SumBytes(content) {
		t.Errorf("file digest %s does not match byte digest", fromFile)
	}
}

func TestSumFile_Missing(t *testing.T) {
	if _, err := SumFile(filepath.Join(t.TempDir(), "absent")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestRecord_KeyOrderIndependent(t *testing.T) {
	a := map[string]interface{}{"id": "1", "name": "Acme", "city": "Oslo"}
	b := map[string]interface{}{"city": "Oslo", "name": "Acme", "id": "1"}

	if Record(a) != Record(b) {
		t.Error("same fields in different insertion order produced different digests")
	}

	c := map[string]interface{}{"id": "1", "name": "Acme", "city": "Bergen"}
	if Record(a) == Record(c) {
		t.Error("different field values produced the same digest")
	}
}

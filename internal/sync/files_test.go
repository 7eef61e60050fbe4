package sync

import (
	"bytes"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"testing"

	"fieldsync-service/internal/checksum"
)

func writeOrgFile(t *testing.T, root, org, name string, content []byte) {
	t.Helper()
	path := filepath.Join(root, org, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestFileAgent_Package(t *testing.T) {
	root := t.TempDir()
	writeOrgFile(t, root, "org1", "report.pdf", []byte("pdf bytes"))
	writeOrgFile(t, root, "org1", "photos/site.jpg", []byte("jpg bytes"))

	agent := NewFileAgent(root, nil)
	pkg, err := agent.Package("org1", nil)
	if err != nil {
		t.Fatalf("package: %v", err)
	}

	if len(pkg.Manifest) != 2 {
		t.Fatalf("expected 2 files, got %d", len(pkg.Manifest))
	}
	if pkg.Skipped != 0 {
		t.Errorf("expected no skips, got %d", pkg.Skipped)
	}

	byName := make(map[string]FileInfo)
	for _, f := range pkg.Manifest {
		byName[f.Filename] = f
		if f.OrganizationID != "org1" {
			t.Errorf("wrong organization on %s: %s", f.Filename, f.OrganizationID)
		}
	}

	want := checksum.SumBytes([]byte("pdf bytes"))
	if byName["report.pdf"].Checksum != want {
		t.Errorf("checksum mismatch for report.pdf")
	}
	if _, ok := byName["photos/site.jpg"]; !ok {
		t.Errorf("nested file missing from manifest: %v", byName)
	}
}

func TestFileAgent_SkipsKnownChecksums(t *testing.T) {
	root := t.TempDir()
	content := []byte("unchanged content")
	writeOrgFile(t, root, "org1", "stable.txt", content)
	writeOrgFile(t, root, "org1", "changed.txt", []byte("new content"))

	known := map[string]string{
		"stable.txt":  checksum.SumBytes(content),
		"changed.txt": checksum.SumBytes([]byte("old content")),
	}

	agent := NewFileAgent(root, nil)
	pkg, err := agent.Package("org1", known)
	if err != nil {
		t.Fatalf("package: %v", err)
	}

	if pkg.Skipped != 1 {
		t.Errorf("expected 1 skip, got %d", pkg.Skipped)
	}
	if len(pkg.Manifest) != 1 || pkg.Manifest[0].Filename != "changed.txt" {
		t.Errorf("unexpected manifest: %v", pkg.Manifest)
	}
}

func TestFileAgent_MissingDirectory(t *testing.T) {
	agent := NewFileAgent(t.TempDir(), nil)
	pkg, err := agent.Package("no-such-org", nil)
	if err != nil {
		t.Fatalf("missing directory should not error: %v", err)
	}
	if len(pkg.Manifest) != 0 {
		t.Errorf("expected empty manifest, got %v", pkg.Manifest)
	}
}

func TestFileAgent_BodyIsReadableMultipart(t *testing.T) {
	root := t.TempDir()
	writeOrgFile(t, root, "org1", "a.txt", []byte("aaa"))

	agent := NewFileAgent(root, nil)
	pkg, err := agent.Package("org1", nil)
	if err != nil {
		t.Fatalf("package: %v", err)
	}

	r := multipart.NewReader(bytes.NewReader(pkg.Body.Bytes()), boundaryOf(pkg.ContentType))
	foundOrg := false
	foundFile := false
	for {
		part, err := r.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("read part: %v", err)
		}
		switch part.FormName() {
		case "organizationId":
			b, _ := io.ReadAll(part)
			if string(b) != "org1" {
				t.Errorf("unexpected organizationId %q", b)
			}
			foundOrg = true
		case "files":
			b, _ := io.ReadAll(part)
			if part.FileName() != "a.txt" || string(b) != "aaa" {
				t.Errorf("unexpected file part %s: %q", part.FileName(), b)
			}
			foundFile = true
		}
	}
	if !foundOrg || !foundFile {
		t.Errorf("multipart body incomplete: org=%v file=%v", foundOrg, foundFile)
	}
}

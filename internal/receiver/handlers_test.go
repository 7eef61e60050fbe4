package receiver

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"fieldsync-service/internal/checksum"
	"fieldsync-service/internal/sync"
)

func newFileServer(t *testing.T) *Server {
	t.Helper()
	cfg := &Config{
		APIKey:          "secret-key",
		FileStoragePath: t.TempDir(),
	}
	return NewServer(cfg, nil, nil)
}

func multipartUpload(t *testing.T, orgID string, files map[string][]byte) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if orgID != "" {
		if err := w.WriteField("organizationId", orgID); err != nil {
			t.Fatal(err)
		}
	}
	for name, content := range files {
		part, err := w.CreateFormFile("files", name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := part.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &buf, w.FormDataContentType()
}

func TestFiles_StoresAndReportsChecksum(t *testing.T) {
	s := newFileServer(t)
	content := []byte("pdf bytes")
	body, contentType := multipartUpload(t, "org1", map[string][]byte{"report.pdf": content})

	r := httptest.NewRequest(http.MethodPost, "/api/sync/files", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.Files(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result sync.FilesResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Success || len(result.Files) != 1 {
		t.Fatalf("unexpected result %+v", result)
	}

	f := result.Files[0]
	if f.Filename != "report.pdf" {
		t.Errorf("unexpected filename %s", f.Filename)
	}
	if f.Checksum != checksum.SumBytes(content) {
		t.Errorf("reported checksum does not match the uploaded bytes")
	}
	if f.Size != int64(len(content)) {
		t.Errorf("unexpected size %d", f.Size)
	}

	stored, err := os.ReadFile(filepath.Join(s.cfg.FileStoragePath, "org1", "report.pdf"))
	if err != nil {
		t.Fatalf("stored file missing: %v", err)
	}
	if !bytes.Equal(stored, content) {
		t.Error("stored bytes differ from upload")
	}
}

func TestFiles_NestedPathsAllowed(t *testing.T) {
	s := newFileServer(t)
	body, contentType := multipartUpload(t, "org1", map[string][]byte{"photos/site.jpg": []byte("jpg")})

	r := httptest.NewRequest(http.MethodPost, "/api/sync/files", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.Files(w, r)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if _, err := os.Stat(filepath.Join(s.cfg.FileStoragePath, "org1", "photos", "site.jpg")); err != nil {
		t.Errorf("nested file not stored: %v", err)
	}
}

func TestFiles_RejectsTraversal(t *testing.T) {
	s := newFileServer(t)
	body, contentType := multipartUpload(t, "org1", map[string][]byte{"../escape.txt": []byte("x")})

	r := httptest.NewRequest(http.MethodPost, "/api/sync/files", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.Files(w, r)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500 for unsafe filename, got %d", w.Code)
	}
	if _, err := os.Stat(filepath.Join(s.cfg.FileStoragePath, "escape.txt")); err == nil {
		t.Error("file written outside the organization directory")
	}
}

func TestFiles_RequiresOrganization(t *testing.T) {
	s := newFileServer(t)
	body, contentType := multipartUpload(t, "", map[string][]byte{"report.pdf": []byte("x")})

	r := httptest.NewRequest(http.MethodPost, "/api/sync/files", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	s.Files(w, r)

	if w.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", w.Code)
	}
}

func TestSafeFilename(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"report.pdf", true},
		{"photos/site.jpg", true},
		{"a/../b.txt", true}, // cleans to b.txt
		{"../escape.txt", false},
		{"/etc/passwd", false},
		{"..", false},
		{".", false},
		{"", false},
	}
	for _, c := range cases {
		_, err := safeFilename(c.in)
		if c.ok && err != nil {
			t.Errorf("safeFilename(%q) rejected: %v", c.in, err)
		}
		if !c.ok && err == nil {
			t.Errorf("safeFilename(%q) accepted", c.in)
		}
	}
}

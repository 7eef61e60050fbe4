package sync

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"fieldsync-service/internal/checksum"
)

// FileAgent packages an organization's files into a multipart payload,
// each part tagged with its content checksum. Files the destination is
// already known to hold (same name, same checksum) are skipped.
type FileAgent struct {
	root string
	log  *zap.Logger
}

// FileInfo describes one packaged file.
type FileInfo struct {
	OrganizationID string `json:"organizationId"`
	Filename       string `json:"filename"`
	Checksum       string `json:"checksum"`
	Size           int64  `json:"size"`
}

// FilePackage is a ready-to-send multipart body plus its manifest.
type FilePackage struct {
	Body        *bytes.Buffer
	ContentType string
	Manifest    []FileInfo
	Skipped     int
}

func NewFileAgent(root string, log *zap.Logger) *FileAgent {
	if log == nil {
		log = zap.NewNop()
	}
	return &FileAgent{root: root, log: log.With(zap.String("component", "file-agent"))}
}

// Package walks <root>/<orgID> and builds the multipart payload. known maps
// filename to the checksum last accepted by the destination; a missing
// directory yields an empty package, not an error.
func (a *FileAgent) Package(orgID string, known map[string]string) (*FilePackage, error) {
	dir := filepath.Join(a.root, orgID)

	pkg := &FilePackage{Body: &bytes.Buffer{}}
	w := multipart.NewWriter(pkg.Body)
	pkg.ContentType = w.FormDataContentType()

	if err := w.WriteField("organizationId", orgID); err != nil {
		return nil, err
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == dir {
				return fs.SkipAll
			}
			return err
		}
		if d.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)

		sum, err := checksum.SumFile(path)
		if err != nil {
			return err
		}
		if known[rel] == sum {
			a.log.Debug("Skipping unchanged file", zap.String("file", rel))
			pkg.Skipped++
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		part, err := w.CreateFormFile("files", rel)
		if err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		_, err = io.Copy(part, f)
		f.Close()
		if err != nil {
			return fmt.Errorf("failed to package %s: %w", rel, err)
		}

		pkg.Manifest = append(pkg.Manifest, FileInfo{
			OrganizationID: orgID,
			Filename:       rel,
			Checksum:       sum,
			Size:           info.Size(),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to package files for %s: %w", orgID, err)
	}

	if err := w.Close(); err != nil {
		return nil, err
	}

	return pkg, nil
}

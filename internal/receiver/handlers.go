package receiver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"fieldsync-service/internal/checksum"
	"fieldsync-service/internal/database"
	"fieldsync-service/internal/sync"
)

// Version is reported by the status endpoint and surfaced by the primary's
// connection tester.
const Version = "1.0.0"

const maxUploadMemory = 32 << 20 // 32 MiB before multipart spills to disk

// Server is the remote receiver: authenticated ingestion endpoints that
// apply incoming batches and report per-item outcomes.
type Server struct {
	cfg     *Config
	db      *database.Database
	auth    *Authenticator
	applier *Applier
	log     *zap.Logger
}

func NewServer(cfg *Config, db *database.Database, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		cfg:     cfg,
		db:      db,
		auth:    NewAuthenticator(cfg.APIKey, cfg.Username, cfg.PasswordHash),
		applier: NewApplier(db),
		log:     log,
	}
}

func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api/sync", func(r chi.Router) {
		r.Use(s.auth.Middleware)

		r.Get("/status", s.Status)
		r.Post("/database", s.Database)
		r.Post("/files", s.Files)
		r.Post("/receive", s.Receive)
		r.Post("/pull", s.Pull)
	})

	return r
}

func (s *Server) Status(w http.ResponseWriter, r *http.Request) {
	dbState := "reachable"
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		dbState = "unreachable"
	}

	writeJSON(w, http.StatusOK, sync.StatusResult{
		Status:     "ok",
		Version:    Version,
		Database:   dbState,
		ServerTime: time.Now().UTC(),
	})
}

func (s *Server) Database(w http.ResponseWriter, r *http.Request) {
	var payload sync.DatabasePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if payload.OrganizationID == "" {
		writeError(w, http.StatusBadRequest, "organizationId is required")
		return
	}

	result := s.applier.ApplyDatabase(r.Context(), &payload)
	if !result.Success {
		s.log.Error("Database apply failed",
			zap.String("organizationID", payload.OrganizationID),
			zap.String("error", result.Error),
		)
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}

	s.log.Info("Applied database payload",
		zap.String("organizationID", payload.OrganizationID),
		zap.Int("recordsApplied", result.RecordsApplied),
	)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) Files(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	orgID := r.FormValue("organizationId")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organizationId is required")
		return
	}

	result := s.storeFiles(orgID, r)
	if !result.Success {
		writeJSON(w, http.StatusInternalServerError, result)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Receive is the combined endpoint used by the "both" sync type: one
// multipart call carrying the database payload in a "database" field plus
// any number of file parts.
func (s *Server) Receive(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	orgID := r.FormValue("organizationId")
	if orgID == "" {
		writeError(w, http.StatusBadRequest, "organizationId is required")
		return
	}

	combined := &sync.CombinedResult{Success: true}

	if raw := r.FormValue("database"); raw != "" {
		var payload sync.DatabasePayload
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid database payload")
			return
		}
		combined.Database = s.applier.ApplyDatabase(r.Context(), &payload)
		if !combined.Database.Success {
			// Database failed and rolled back; do not touch files either,
			// so the whole call has no observable effect.
			combined.Success = false
			combined.Error = combined.Database.Error
			writeJSON(w, http.StatusInternalServerError, combined)
			return
		}
	}

	if r.MultipartForm != nil && len(r.MultipartForm.File["files"]) > 0 {
		combined.Files = s.storeFiles(orgID, r)
		if !combined.Files.Success {
			combined.Success = false
			combined.Error = combined.Files.Error
			writeJSON(w, http.StatusInternalServerError, combined)
			return
		}
	}

	writeJSON(w, http.StatusOK, combined)
}

// Pull snapshots the requested tables so the primary can reconcile. Table
// descriptors arrive with the request; the receiver holds no schema
// configuration of its own.
func (s *Server) Pull(w http.ResponseWriter, r *http.Request) {
	var req sync.PullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid pull request")
		return
	}

	source := database.NewRecordSource(s.db, req.Tables)
	records, err := source.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pulled := make([]sync.PulledRecord, 0, len(records))
	for _, rec := range records {
		pulled = append(pulled, sync.PulledRecord{
			Table:     rec.Table,
			RecordID:  rec.ID,
			Data:      rec.Data,
			UpdatedAt: rec.UpdatedAt,
			Checksum:  checksum.Record(rec.Data),
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"records": pulled,
	})
}

// storeFiles writes each upload beneath the organization's directory and
// returns the checksum computed on the bytes actually received, so the
// sender can detect corruption in transit.
func (s *Server) storeFiles(orgID string, r *http.Request) *sync.FilesResult {
	result := &sync.FilesResult{Success: true, Files: []sync.FileResult{}}

	for _, header := range r.MultipartForm.File["files"] {
		name, err := safeFilename(header.Filename)
		if err != nil {
			return &sync.FilesResult{Success: false, Error: err.Error()}
		}

		f, err := header.Open()
		if err != nil {
			return &sync.FilesResult{Success: false, Error: err.Error()}
		}

		stored, err := s.writeFile(orgID, name, f)
		f.Close()
		if err != nil {
			s.log.Error("Failed to store file",
				zap.String("organizationID", orgID),
				zap.String("file", name),
				zap.Error(err),
			)
			return &sync.FilesResult{Success: false, Error: err.Error()}
		}

		result.Files = append(result.Files, *stored)
	}

	return result
}

func (s *Server) writeFile(orgID, name string, src io.Reader) (*sync.FileResult, error) {
	path := filepath.Join(s.cfg.FileStoragePath, orgID, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	dst, err := os.Create(path)
	if err != nil {
		return nil, err
	}

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(dst, h), src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to write %s: %w", name, err)
	}

	return &sync.FileResult{
		Filename: name,
		Checksum: hex.EncodeToString(h.Sum(nil)),
		Size:     size,
	}, nil
}

func safeFilename(name string) (string, error) {
	name = filepath.ToSlash(filepath.Clean(name))
	if name == "" || name == "." || strings.HasPrefix(name, "/") || strings.HasPrefix(name, "..") {
		return "", fmt.Errorf("unsafe filename %q", name)
	}
	return name, nil
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{
		"success": false,
		"error":   msg,
	})
}

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"fieldsync-service/internal/store"
	"fieldsync-service/internal/sync"
)

type configurationRequest struct {
	ServerName             string `json:"serverName"`
	ServerURL              string `json:"serverUrl"`
	APIKey                 string `json:"apiKey"`
	Username               string `json:"username"`
	Password               string `json:"password"`
	OrganizationID         string `json:"organizationId"`
	SyncDirection          string `json:"syncDirection"`
	SyncDatabase           bool   `json:"syncDatabase"`
	SyncFiles              bool   `json:"syncFiles"`
	ExportFormat           string `json:"exportFormat"`
	ConflictResolution     string `json:"conflictResolution"`
	UseTimestampComparison bool   `json:"useTimestampComparison"`
	UseChecksumComparison  bool   `json:"useChecksumComparison"`
	RetryFailed            bool   `json:"retryFailed"`
	MaxRetries             int    `json:"maxRetries"`
	Active                 bool   `json:"active"`
}

func (req *configurationRequest) apply(cfg *store.SyncConfiguration) {
	cfg.ServerName = req.ServerName
	cfg.ServerURL = req.ServerURL
	cfg.Username = req.Username
	cfg.OrganizationID = req.OrganizationID
	cfg.SyncDirection = req.SyncDirection
	cfg.SyncDatabase = req.SyncDatabase
	cfg.SyncFiles = req.SyncFiles
	cfg.ExportFormat = req.ExportFormat
	cfg.ConflictResolution = req.ConflictResolution
	cfg.UseTimestampComparison = req.UseTimestampComparison
	cfg.UseChecksumComparison = req.UseChecksumComparison
	cfg.RetryFailed = req.RetryFailed
	cfg.MaxRetries = req.MaxRetries
	cfg.Active = req.Active

	if cfg.SyncDirection == "" {
		cfg.SyncDirection = store.DirectionOneWay
	}
	if cfg.ExportFormat == "" {
		cfg.ExportFormat = store.FormatSQL
	}
	if cfg.ConflictResolution == "" {
		cfg.ConflictResolution = store.PolicyManual
	}

	// Blank secrets preserve whatever is stored; an explicit value
	// replaces it. Stored secrets are never echoed back.
	if req.APIKey != "" {
		cfg.APIKey = req.APIKey
	}
	if req.Password != "" {
		cfg.Password = req.Password
	}
}

func (h *Handler) CreateConfiguration(w http.ResponseWriter, r *http.Request) {
	var req configurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	cfg := &store.SyncConfiguration{ID: uuid.New().String()}
	req.apply(cfg)

	if err := sync.ValidateConfiguration(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.CreateConfiguration(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, cfg)
}

func (h *Handler) ListConfigurations(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.ListConfigurations(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if configs == nil {
		configs = []*store.SyncConfiguration{}
	}
	writeJSON(w, http.StatusOK, configs)
}

func (h *Handler) UpdateConfiguration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	cfg, err := h.store.GetConfiguration(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "configuration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	var req configurationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.apply(cfg)

	if err := sync.ValidateConfiguration(cfg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.UpdateConfiguration(r.Context(), cfg); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, cfg)
}

func (h *Handler) DeleteConfiguration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if err := h.store.DeleteConfiguration(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "configuration not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 50)

	history, err := h.store.ListHistory(r.Context(), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []*store.SyncHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (h *Handler) ListConflicts(w http.ResponseWriter, r *http.Request) {
	limit, offset := pageParams(r, 50)
	resolved := r.URL.Query().Get("resolved") == "true"

	conflicts, err := h.store.ListConflicts(r.Context(), resolved, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if conflicts == nil {
		conflicts = []*store.SyncConflict{}
	}
	writeJSON(w, http.StatusOK, conflicts)
}

func (h *Handler) TestConnection(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ServerURL string `json:"serverUrl"`
		APIKey    string `json:"apiKey"`
		Username  string `json:"username"`
		Password  string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ServerURL == "" {
		writeError(w, http.StatusBadRequest, "serverUrl is required")
		return
	}

	status, err := h.peer.TestConnection(r.Context(), sync.Target{
		BaseURL:  req.ServerURL,
		APIKey:   req.APIKey,
		Username: req.Username,
		Password: req.Password,
	})
	if err != nil {
		var connErr *sync.ConnectionError
		if errors.As(err, &connErr) && connErr.Kind == sync.ConnUnauthorized {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"serverVersion": status.Version,
		"serverTime":    status.ServerTime,
	})
}

func (h *Handler) Execute(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConfigurationID string `json:"configurationId"`
		SyncType        string `json:"syncType"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SyncType == "" {
		req.SyncType = store.SyncTypeBoth
	}

	runID, err := h.orchestrator.Execute(r.Context(), req.ConfigurationID, req.SyncType)
	if err != nil {
		switch {
		case errors.Is(err, sync.ErrRunInFlight):
			writeError(w, http.StatusConflict, err.Error())
		case errors.Is(err, sync.ErrConfigurationNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		default:
			var cfgErr *sync.ConfigurationError
			if errors.As(err, &cfgErr) {
				writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"success": true,
		"runId":   runID,
	})
}

func (h *Handler) ResolveConflict(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req struct {
		Resolution string                 `json:"resolution"`
		MergedData map[string]interface{} `json:"mergedData"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Resolution {
	case store.ResolvedLocal, store.ResolvedRemote, store.ResolvedMerged:
	default:
		writeError(w, http.StatusBadRequest, "resolution must be resolved-local, resolved-remote or resolved-merged")
		return
	}

	conflict, err := h.orchestrator.Resolver().Resolve(r.Context(), id, req.Resolution, req.MergedData)
	if err != nil {
		if errors.Is(err, sync.ErrConflictNotFound) {
			writeError(w, http.StatusNotFound, "conflict not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, conflict)
}

func pageParams(r *http.Request, defaultLimit int) (int, int) {
	limit := defaultLimit
	offset := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
